package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/netfabd/netfabd/internal/model"
)

// MemoryStore implements Store with in-process maps. It backs the
// "memory" backend and the test suites.
type MemoryStore struct {
	mu          sync.RWMutex
	devices     map[string]*model.Device
	links       map[string]*model.Link
	pools       map[string]*model.Pool
	services    map[string]*model.Service
	users       map[string]*model.User
	credentials map[string]*model.Credential
	sessions    map[string]*model.Session

	// members maps poolID -> kind -> set of member IDs.
	members map[string]map[model.Kind]map[string]bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:     make(map[string]*model.Device),
		links:       make(map[string]*model.Link),
		pools:       make(map[string]*model.Pool),
		services:    make(map[string]*model.Service),
		users:       make(map[string]*model.User),
		credentials: make(map[string]*model.Credential),
		sessions:    make(map[string]*model.Session),
		members:     make(map[string]map[model.Kind]map[string]bool),
	}
}

func (ms *MemoryStore) Close() error { return nil }

// Devices

func (ms *MemoryStore) ListDevices() ([]model.Device, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	devices := make([]model.Device, 0, len(ms.devices))
	for _, d := range ms.devices {
		devices = append(devices, *d)
	}
	sortByName(devices, func(d model.Device) string { return d.Name })
	return devices, nil
}

func (ms *MemoryStore) GetDevice(id string) (*model.Device, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.getDevice(id)
}

func (ms *MemoryStore) getDevice(id string) (*model.Device, error) {
	if d, ok := ms.devices[id]; ok {
		clone := *d
		return &clone, nil
	}
	for _, d := range ms.devices {
		if strings.EqualFold(d.Name, id) {
			clone := *d
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (ms *MemoryStore) CreateDevice(device *model.Device) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if device.ID == "" {
		return ErrInvalidID
	}
	if _, exists := ms.devices[device.ID]; exists {
		return ErrConflict
	}
	for _, d := range ms.devices {
		if d.Name == device.Name {
			return ErrConflict
		}
	}

	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now
	clone := *device
	ms.devices[device.ID] = &clone
	return nil
}

func (ms *MemoryStore) UpdateDevice(device *model.Device) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.devices[device.ID]; !exists {
		return ErrNotFound
	}
	device.UpdatedAt = time.Now()
	clone := *device
	ms.devices[device.ID] = &clone

	// Keep denormalized link endpoint names current.
	for _, l := range ms.links {
		if l.SourceID == device.ID {
			l.SourceName = device.Name
		}
		if l.DestID == device.ID {
			l.DestName = device.Name
		}
	}
	return nil
}

func (ms *MemoryStore) DeleteDevice(id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	device, ok := ms.devices[id]
	if !ok {
		return ErrNotFound
	}

	// Links owned by this endpoint go with it.
	for linkID, l := range ms.links {
		if l.SourceID == id || l.DestID == id {
			ms.removeMemberAllPools(model.KindLink, linkID)
			delete(ms.links, linkID)
		}
	}

	for sessionID, s := range ms.sessions {
		if s.DeviceID == id {
			delete(ms.sessions, sessionID)
		}
	}

	ms.removeMemberAllPools(model.KindDevice, id)
	delete(ms.devices, device.ID)
	return nil
}

// Links

func (ms *MemoryStore) ListLinks() ([]model.Link, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	links := make([]model.Link, 0, len(ms.links))
	for _, l := range ms.links {
		links = append(links, *l)
	}
	sortByName(links, func(l model.Link) string { return l.Name })
	return links, nil
}

func (ms *MemoryStore) ListDeviceLinks(deviceID string) ([]model.Link, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var links []model.Link
	for _, l := range ms.links {
		if l.SourceID == deviceID || l.DestID == deviceID {
			links = append(links, *l)
		}
	}
	sortByName(links, func(l model.Link) string { return l.Name })
	return links, nil
}

func (ms *MemoryStore) GetLink(id string) (*model.Link, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if l, ok := ms.links[id]; ok {
		clone := *l
		return &clone, nil
	}
	for _, l := range ms.links {
		if strings.EqualFold(l.Name, id) {
			clone := *l
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (ms *MemoryStore) CreateLink(link *model.Link) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if link.ID == "" {
		return ErrInvalidID
	}
	if _, exists := ms.links[link.ID]; exists {
		return ErrConflict
	}
	for _, l := range ms.links {
		if l.Name == link.Name && l.SourceID == link.SourceID && l.DestID == link.DestID {
			return ErrConflict
		}
	}

	source, ok := ms.devices[link.SourceID]
	if !ok {
		return ErrNotFound
	}
	destination, ok := ms.devices[link.DestID]
	if !ok {
		return ErrNotFound
	}
	link.SourceName = source.Name
	link.DestName = destination.Name

	now := time.Now()
	link.CreatedAt = now
	link.UpdatedAt = now
	clone := *link
	ms.links[link.ID] = &clone
	return nil
}

func (ms *MemoryStore) UpdateLink(link *model.Link) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.links[link.ID]; !exists {
		return ErrNotFound
	}
	if source, ok := ms.devices[link.SourceID]; ok {
		link.SourceName = source.Name
	}
	if destination, ok := ms.devices[link.DestID]; ok {
		link.DestName = destination.Name
	}
	link.UpdatedAt = time.Now()
	clone := *link
	ms.links[link.ID] = &clone
	return nil
}

func (ms *MemoryStore) DeleteLink(id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.links[id]; !ok {
		return ErrNotFound
	}
	ms.removeMemberAllPools(model.KindLink, id)
	delete(ms.links, id)
	return nil
}

// Pools

func (ms *MemoryStore) ListPools() ([]model.Pool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	pools := make([]model.Pool, 0, len(ms.pools))
	for _, p := range ms.pools {
		pools = append(pools, *clonePool(p))
	}
	sortByName(pools, func(p model.Pool) string { return p.Name })
	return pools, nil
}

func (ms *MemoryStore) GetPool(id string) (*model.Pool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if p, ok := ms.pools[id]; ok {
		return clonePool(p), nil
	}
	for _, p := range ms.pools {
		if strings.EqualFold(p.Name, id) {
			return clonePool(p), nil
		}
	}
	return nil, ErrNotFound
}

func (ms *MemoryStore) CreatePool(pool *model.Pool) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if pool.ID == "" {
		return ErrInvalidID
	}
	if _, exists := ms.pools[pool.ID]; exists {
		return ErrConflict
	}
	for _, p := range ms.pools {
		if p.Name == pool.Name {
			return ErrConflict
		}
	}

	now := time.Now()
	pool.CreatedAt = now
	pool.UpdatedAt = now
	ms.pools[pool.ID] = clonePool(pool)
	ms.members[pool.ID] = make(map[model.Kind]map[string]bool)
	return nil
}

func (ms *MemoryStore) UpdatePool(pool *model.Pool) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.pools[pool.ID]; !exists {
		return ErrNotFound
	}
	pool.UpdatedAt = time.Now()
	ms.pools[pool.ID] = clonePool(pool)
	return nil
}

func (ms *MemoryStore) DeletePool(id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.pools[id]; !ok {
		return ErrNotFound
	}
	delete(ms.pools, id)
	delete(ms.members, id)
	return nil
}

func (ms *MemoryStore) PoolMembers(poolID string, kind model.Kind) ([]string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if _, ok := ms.pools[poolID]; !ok {
		return nil, ErrNotFound
	}
	set := ms.members[poolID][kind]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (ms *MemoryStore) AddPoolMember(poolID string, kind model.Kind, memberID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	pool, ok := ms.pools[poolID]
	if !ok {
		return ErrNotFound
	}
	if ms.members[poolID][kind] == nil {
		ms.members[poolID][kind] = make(map[string]bool)
	}
	if ms.members[poolID][kind][memberID] {
		return nil
	}
	ms.members[poolID][kind][memberID] = true
	bumpCount(pool, kind, 1)
	return nil
}

func (ms *MemoryStore) RemovePoolMember(poolID string, kind model.Kind, memberID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	pool, ok := ms.pools[poolID]
	if !ok {
		return ErrNotFound
	}
	if !ms.members[poolID][kind][memberID] {
		return nil
	}
	delete(ms.members[poolID][kind], memberID)
	bumpCount(pool, kind, -1)
	return nil
}

func (ms *MemoryStore) SetPoolMembers(poolID string, kind model.Kind, memberIDs []string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	pool, ok := ms.pools[poolID]
	if !ok {
		return ErrNotFound
	}
	set := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		set[id] = true
	}
	ms.members[poolID][kind] = set
	if pool.Counts == nil {
		pool.Counts = map[model.Kind]int{}
	}
	pool.Counts[kind] = len(set)
	return nil
}

func (ms *MemoryStore) MemberPools(kind model.Kind, memberID string) ([]model.Pool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var pools []model.Pool
	for poolID, kinds := range ms.members {
		if kinds[kind][memberID] {
			if p, ok := ms.pools[poolID]; ok {
				pools = append(pools, *clonePool(p))
			}
		}
	}
	sortByName(pools, func(p model.Pool) string { return p.Name })
	return pools, nil
}

// removeMemberAllPools drops an entity from every pool's membership,
// keeping counters in step. Callers hold the write lock.
func (ms *MemoryStore) removeMemberAllPools(kind model.Kind, memberID string) {
	for poolID, kinds := range ms.members {
		if kinds[kind][memberID] {
			delete(kinds[kind], memberID)
			if p, ok := ms.pools[poolID]; ok {
				bumpCount(p, kind, -1)
			}
		}
	}
}

// Services

func (ms *MemoryStore) ListServices() ([]model.Service, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	services := make([]model.Service, 0, len(ms.services))
	for _, s := range ms.services {
		services = append(services, *s)
	}
	sortByName(services, func(s model.Service) string { return s.Name })
	return services, nil
}

func (ms *MemoryStore) GetService(id string) (*model.Service, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if s, ok := ms.services[id]; ok {
		clone := *s
		return &clone, nil
	}
	for _, s := range ms.services {
		if strings.EqualFold(s.Name, id) {
			clone := *s
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (ms *MemoryStore) CreateService(service *model.Service) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if service.ID == "" {
		return ErrInvalidID
	}
	if _, exists := ms.services[service.ID]; exists {
		return ErrConflict
	}
	for _, s := range ms.services {
		if s.Name == service.Name {
			return ErrConflict
		}
	}
	now := time.Now()
	service.CreatedAt = now
	service.UpdatedAt = now
	clone := *service
	ms.services[service.ID] = &clone
	return nil
}

func (ms *MemoryStore) UpdateService(service *model.Service) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.services[service.ID]; !exists {
		return ErrNotFound
	}
	service.UpdatedAt = time.Now()
	clone := *service
	ms.services[service.ID] = &clone
	return nil
}

func (ms *MemoryStore) DeleteService(id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.services[id]; !ok {
		return ErrNotFound
	}
	ms.removeMemberAllPools(model.KindService, id)
	delete(ms.services, id)
	return nil
}

// Users

func (ms *MemoryStore) ListUsers() ([]model.User, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	users := make([]model.User, 0, len(ms.users))
	for _, u := range ms.users {
		users = append(users, *u)
	}
	sortByName(users, func(u model.User) string { return u.Name })
	return users, nil
}

func (ms *MemoryStore) GetUser(id string) (*model.User, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if u, ok := ms.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	for _, u := range ms.users {
		if strings.EqualFold(u.Name, id) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (ms *MemoryStore) CreateUser(user *model.User) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if user.ID == "" {
		return ErrInvalidID
	}
	if _, exists := ms.users[user.ID]; exists {
		return ErrConflict
	}
	for _, u := range ms.users {
		if u.Name == user.Name {
			return ErrConflict
		}
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	clone := *user
	ms.users[user.ID] = &clone
	return nil
}

func (ms *MemoryStore) UpdateUser(user *model.User) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.users[user.ID]; !exists {
		return ErrNotFound
	}
	user.UpdatedAt = time.Now()
	clone := *user
	ms.users[user.ID] = &clone
	return nil
}

func (ms *MemoryStore) DeleteUser(id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.users[id]; !ok {
		return ErrNotFound
	}
	ms.removeMemberAllPools(model.KindUser, id)
	delete(ms.users, id)
	return nil
}

// Credentials

func (ms *MemoryStore) ListCredentials() ([]model.Credential, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	credentials := make([]model.Credential, 0, len(ms.credentials))
	for _, c := range ms.credentials {
		credentials = append(credentials, *c)
	}
	sortByName(credentials, func(c model.Credential) string { return c.Name })
	return credentials, nil
}

func (ms *MemoryStore) GetCredential(id string) (*model.Credential, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if c, ok := ms.credentials[id]; ok {
		clone := *c
		return &clone, nil
	}
	for _, c := range ms.credentials {
		if strings.EqualFold(c.Name, id) {
			clone := *c
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (ms *MemoryStore) CreateCredential(credential *model.Credential) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if credential.ID == "" {
		return ErrInvalidID
	}
	if _, exists := ms.credentials[credential.ID]; exists {
		return ErrConflict
	}
	for _, c := range ms.credentials {
		if c.Name == credential.Name {
			return ErrConflict
		}
	}
	now := time.Now()
	credential.CreatedAt = now
	credential.UpdatedAt = now
	clone := *credential
	ms.credentials[credential.ID] = &clone
	return nil
}

func (ms *MemoryStore) UpdateCredential(credential *model.Credential) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.credentials[credential.ID]; !exists {
		return ErrNotFound
	}
	credential.UpdatedAt = time.Now()
	clone := *credential
	ms.credentials[credential.ID] = &clone
	return nil
}

func (ms *MemoryStore) DeleteCredential(id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.credentials[id]; !ok {
		return ErrNotFound
	}
	delete(ms.credentials, id)
	return nil
}

// Sessions

func (ms *MemoryStore) ListDeviceSessions(deviceID string) ([]model.Session, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var sessions []model.Session
	for _, s := range ms.sessions {
		if s.DeviceID == deviceID {
			sessions = append(sessions, *s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Timestamp < sessions[j].Timestamp })
	return sessions, nil
}

func (ms *MemoryStore) CreateSession(session *model.Session) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if session.ID == "" {
		return ErrInvalidID
	}
	if _, ok := ms.devices[session.DeviceID]; !ok {
		return ErrNotFound
	}
	clone := *session
	ms.sessions[session.ID] = &clone
	return nil
}

// ListPoolables returns the full universe of a kind.
func (ms *MemoryStore) ListPoolables(kind model.Kind) ([]model.Poolable, error) {
	switch kind {
	case model.KindDevice:
		devices, _ := ms.ListDevices()
		poolables := make([]model.Poolable, len(devices))
		for i := range devices {
			poolables[i] = &devices[i]
		}
		return poolables, nil
	case model.KindLink:
		links, _ := ms.ListLinks()
		poolables := make([]model.Poolable, len(links))
		for i := range links {
			poolables[i] = &links[i]
		}
		return poolables, nil
	case model.KindService:
		services, _ := ms.ListServices()
		poolables := make([]model.Poolable, len(services))
		for i := range services {
			poolables[i] = &services[i]
		}
		return poolables, nil
	case model.KindUser:
		users, _ := ms.ListUsers()
		poolables := make([]model.Poolable, len(users))
		for i := range users {
			poolables[i] = &users[i]
		}
		return poolables, nil
	}
	return nil, fmt.Errorf("unknown kind %q: %w", kind, ErrNotFound)
}

// Helpers

func clonePool(p *model.Pool) *model.Pool {
	clone := *p
	clone.Filters = make(map[model.Kind]map[string]model.FilterSpec, len(p.Filters))
	for kind, specs := range p.Filters {
		inner := make(map[string]model.FilterSpec, len(specs))
		for property, spec := range specs {
			inner[property] = spec
		}
		clone.Filters[kind] = inner
	}
	clone.Counts = make(map[model.Kind]int, len(p.Counts))
	for kind, n := range p.Counts {
		clone.Counts[kind] = n
	}
	return &clone
}

func bumpCount(p *model.Pool, kind model.Kind, delta int) {
	if p.Counts == nil {
		p.Counts = map[model.Kind]int{}
	}
	p.Counts[kind] += delta
}

func sortByName[T any](items []T, name func(T) string) {
	sort.Slice(items, func(i, j int) bool { return name(items[i]) < name(items[j]) })
}
