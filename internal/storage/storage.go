// Package storage defines the entity store the core components consume
// and provides SQLite and in-memory backends.
package storage

import (
	"errors"
	"fmt"

	"github.com/netfabd/netfabd/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("already exists")
	ErrInvalidID = errors.New("invalid ID")
)

// Store is the abstract repository over typed entities. Lookups by id
// also accept the entity name. Membership mutations couple the per-kind
// counter to the relation change inside the same transaction, on every
// mutation path.
type Store interface {
	// Devices. DeleteDevice cascades to links using the device as an
	// endpoint, to the device's sessions, and to pool membership rows
	// (with counter maintenance).
	ListDevices() ([]model.Device, error)
	GetDevice(id string) (*model.Device, error)
	CreateDevice(device *model.Device) error
	UpdateDevice(device *model.Device) error
	DeleteDevice(id string) error

	// Links. (name, source, destination) is unique.
	ListLinks() ([]model.Link, error)
	ListDeviceLinks(deviceID string) ([]model.Link, error)
	GetLink(id string) (*model.Link, error)
	CreateLink(link *model.Link) error
	UpdateLink(link *model.Link) error
	DeleteLink(id string) error

	// Pools and membership. AddPoolMember and RemovePoolMember are
	// idempotent: a duplicate add or a remove of a non-member changes
	// neither the relation nor the counter.
	ListPools() ([]model.Pool, error)
	GetPool(id string) (*model.Pool, error)
	CreatePool(pool *model.Pool) error
	UpdatePool(pool *model.Pool) error
	DeletePool(id string) error
	PoolMembers(poolID string, kind model.Kind) ([]string, error)
	AddPoolMember(poolID string, kind model.Kind, memberID string) error
	RemovePoolMember(poolID string, kind model.Kind, memberID string) error
	SetPoolMembers(poolID string, kind model.Kind, memberIDs []string) error
	MemberPools(kind model.Kind, memberID string) ([]model.Pool, error)

	// Services.
	ListServices() ([]model.Service, error)
	GetService(id string) (*model.Service, error)
	CreateService(service *model.Service) error
	UpdateService(service *model.Service) error
	DeleteService(id string) error

	// Users.
	ListUsers() ([]model.User, error)
	GetUser(id string) (*model.User, error)
	CreateUser(user *model.User) error
	UpdateUser(user *model.User) error
	DeleteUser(id string) error

	// Credentials.
	ListCredentials() ([]model.Credential, error)
	GetCredential(id string) (*model.Credential, error)
	CreateCredential(credential *model.Credential) error
	UpdateCredential(credential *model.Credential) error
	DeleteCredential(id string) error

	// Sessions are owned by their device.
	ListDeviceSessions(deviceID string) ([]model.Session, error)
	CreateSession(session *model.Session) error

	// ListPoolables returns the full universe of a kind for pool
	// recomputation.
	ListPoolables(kind model.Kind) ([]model.Poolable, error)

	Close() error
}

// NewStore creates a store for the configured backend, "sqlite" or
// "memory".
func NewStore(backend, dataDir string) (Store, error) {
	switch backend {
	case "sqlite", "":
		return NewSQLiteStore(dataDir)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported storage backend %q", backend)
}
