package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/netfabd/netfabd/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteStore implements Store with a SQLite backend.
type SQLiteStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the inventory database under
// dataDir.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "netfabd.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ss := &SQLiteStore{db: db, path: dbPath}
	if err := ss.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return ss, nil
}

func (ss *SQLiteStore) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}
	_, err = ss.db.Exec(string(schema))
	return err
}

// Close closes the database connection.
func (ss *SQLiteStore) Close() error { return ss.db.Close() }

const deviceColumns = `id, name, description, subtype, model, location, vendor,
	operating_system, os_version, ip_address, longitude, latitude, port, icon,
	netconf_driver, napalm_driver, netmiko_driver, configuration,
	last_config_update, last_config_status, created_at, updated_at`

// Devices

func (ss *SQLiteStore) ListDevices() ([]model.Device, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query("SELECT " + deviceColumns + " FROM devices ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()
	return scanDevices(rows)
}

func (ss *SQLiteStore) GetDevice(id string) (*model.Device, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.getDevice(ss.db, id)
}

type querier interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

func (ss *SQLiteStore) getDevice(q querier, id string) (*model.Device, error) {
	rows, err := q.Query(
		"SELECT "+deviceColumns+" FROM devices WHERE id = ? OR LOWER(name) = LOWER(?) LIMIT 1", id, id)
	if err != nil {
		return nil, fmt.Errorf("querying device: %w", err)
	}
	defer rows.Close()

	devices, err := scanDevices(rows)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrNotFound
	}
	return &devices[0], nil
}

func (ss *SQLiteStore) CreateDevice(device *model.Device) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if device.ID == "" {
		return ErrInvalidID
	}
	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	_, err := ss.db.Exec(`
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, device.ID, device.Name, device.Description, device.Subtype, device.Model,
		device.Location, device.Vendor, device.OperatingSystem, device.OSVersion,
		device.IPAddress, device.Longitude, device.Latitude, device.Port, device.Icon,
		device.NetconfDriver, device.NapalmDriver, device.NetmikoDriver,
		device.Configuration, device.LastConfigUpdate, device.LastConfigStatus,
		device.CreatedAt, device.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

func (ss *SQLiteStore) UpdateDevice(device *model.Device) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	device.UpdatedAt = time.Now()
	result, err := ss.db.Exec(`
		UPDATE devices SET name = ?, description = ?, subtype = ?, model = ?,
			location = ?, vendor = ?, operating_system = ?, os_version = ?,
			ip_address = ?, longitude = ?, latitude = ?, port = ?, icon = ?,
			netconf_driver = ?, napalm_driver = ?, netmiko_driver = ?,
			configuration = ?, last_config_update = ?, last_config_status = ?,
			updated_at = ?
		WHERE id = ?
	`, device.Name, device.Description, device.Subtype, device.Model,
		device.Location, device.Vendor, device.OperatingSystem, device.OSVersion,
		device.IPAddress, device.Longitude, device.Latitude, device.Port, device.Icon,
		device.NetconfDriver, device.NapalmDriver, device.NetmikoDriver,
		device.Configuration, device.LastConfigUpdate, device.LastConfigStatus,
		device.UpdatedAt, device.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("updating device: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (ss *SQLiteStore) DeleteDevice(id string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	device, err := ss.getDevice(tx, id)
	if err != nil {
		return err
	}

	// Membership cleanup has to run before the FK cascades remove the
	// link rows, so counters stay equal to the relation size.
	linkRows, err := tx.Query(
		"SELECT id FROM links WHERE source_id = ? OR destination_id = ?", device.ID, device.ID)
	if err != nil {
		return fmt.Errorf("querying device links: %w", err)
	}
	var linkIDs []string
	for linkRows.Next() {
		var linkID string
		if err := linkRows.Scan(&linkID); err != nil {
			linkRows.Close()
			return err
		}
		linkIDs = append(linkIDs, linkID)
	}
	linkRows.Close()
	if err := linkRows.Err(); err != nil {
		return err
	}

	for _, linkID := range linkIDs {
		if err := removeMemberEverywhere(tx, model.KindLink, linkID); err != nil {
			return err
		}
	}
	if err := removeMemberEverywhere(tx, model.KindDevice, device.ID); err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM devices WHERE id = ?", device.ID); err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return tx.Commit()
}

// Links

const linkColumns = `l.id, l.name, l.description, l.subtype, l.model, l.location,
	l.vendor, l.color, l.source_id, s.name, l.destination_id, d.name,
	l.created_at, l.updated_at`

const linkJoin = `FROM links l
	INNER JOIN devices s ON l.source_id = s.id
	INNER JOIN devices d ON l.destination_id = d.id`

func (ss *SQLiteStore) ListLinks() ([]model.Link, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query("SELECT " + linkColumns + " " + linkJoin + " ORDER BY l.name")
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

func (ss *SQLiteStore) ListDeviceLinks(deviceID string) ([]model.Link, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(
		"SELECT "+linkColumns+" "+linkJoin+
			" WHERE l.source_id = ? OR l.destination_id = ? ORDER BY l.name",
		deviceID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying device links: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

func (ss *SQLiteStore) GetLink(id string) (*model.Link, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(
		"SELECT "+linkColumns+" "+linkJoin+
			" WHERE l.id = ? OR LOWER(l.name) = LOWER(?) LIMIT 1", id, id)
	if err != nil {
		return nil, fmt.Errorf("querying link: %w", err)
	}
	defer rows.Close()

	links, err := scanLinks(rows)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, ErrNotFound
	}
	return &links[0], nil
}

func (ss *SQLiteStore) CreateLink(link *model.Link) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if link.ID == "" {
		return ErrInvalidID
	}
	source, err := ss.getDevice(ss.db, link.SourceID)
	if err != nil {
		return fmt.Errorf("link source: %w", err)
	}
	destination, err := ss.getDevice(ss.db, link.DestID)
	if err != nil {
		return fmt.Errorf("link destination: %w", err)
	}
	link.SourceID = source.ID
	link.SourceName = source.Name
	link.DestID = destination.ID
	link.DestName = destination.Name

	now := time.Now()
	link.CreatedAt = now
	link.UpdatedAt = now

	_, err = ss.db.Exec(`
		INSERT INTO links (id, name, description, subtype, model, location, vendor,
			color, source_id, destination_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, link.ID, link.Name, link.Description, link.Subtype, link.Model, link.Location,
		link.Vendor, link.Color, link.SourceID, link.DestID, link.CreatedAt, link.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting link: %w", err)
	}
	return nil
}

func (ss *SQLiteStore) UpdateLink(link *model.Link) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	link.UpdatedAt = time.Now()
	result, err := ss.db.Exec(`
		UPDATE links SET name = ?, description = ?, subtype = ?, model = ?,
			location = ?, vendor = ?, color = ?, updated_at = ?
		WHERE id = ?
	`, link.Name, link.Description, link.Subtype, link.Model, link.Location,
		link.Vendor, link.Color, link.UpdatedAt, link.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("updating link: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (ss *SQLiteStore) DeleteLink(id string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := removeMemberEverywhere(tx, model.KindLink, id); err != nil {
		return err
	}
	result, err := tx.Exec("DELETE FROM links WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting link: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// Pools

func (ss *SQLiteStore) ListPools() ([]model.Pool, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`
		SELECT id, name, description, admin_only, visualization_default,
			manually_defined, operator, device_number, link_number,
			service_number, user_number, created_at, updated_at
		FROM pools ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying pools: %w", err)
	}
	defer rows.Close()

	pools, err := scanPools(rows)
	if err != nil {
		return nil, err
	}
	for i := range pools {
		if err := ss.loadPoolFilters(&pools[i]); err != nil {
			return nil, err
		}
	}
	return pools, nil
}

func (ss *SQLiteStore) GetPool(id string) (*model.Pool, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`
		SELECT id, name, description, admin_only, visualization_default,
			manually_defined, operator, device_number, link_number,
			service_number, user_number, created_at, updated_at
		FROM pools WHERE id = ? OR LOWER(name) = LOWER(?) LIMIT 1`, id, id)
	if err != nil {
		return nil, fmt.Errorf("querying pool: %w", err)
	}
	defer rows.Close()

	pools, err := scanPools(rows)
	if err != nil {
		return nil, err
	}
	if len(pools) == 0 {
		return nil, ErrNotFound
	}
	if err := ss.loadPoolFilters(&pools[0]); err != nil {
		return nil, err
	}
	return &pools[0], nil
}

func (ss *SQLiteStore) CreatePool(pool *model.Pool) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if pool.ID == "" {
		return ErrInvalidID
	}
	now := time.Now()
	pool.CreatedAt = now
	pool.UpdatedAt = now

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO pools (id, name, description, admin_only, visualization_default,
			manually_defined, operator, device_number, link_number, service_number,
			user_number, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pool.ID, pool.Name, pool.Description, pool.AdminOnly, pool.VisualizationDefault,
		pool.ManuallyDefined, pool.Operator,
		pool.Count(model.KindDevice), pool.Count(model.KindLink),
		pool.Count(model.KindService), pool.Count(model.KindUser),
		pool.CreatedAt, pool.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting pool: %w", err)
	}
	if err := insertPoolFilters(tx, pool); err != nil {
		return err
	}
	return tx.Commit()
}

func (ss *SQLiteStore) UpdatePool(pool *model.Pool) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	pool.UpdatedAt = time.Now()

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE pools SET name = ?, description = ?, admin_only = ?,
			visualization_default = ?, manually_defined = ?, operator = ?,
			device_number = ?, link_number = ?, service_number = ?, user_number = ?,
			updated_at = ?
		WHERE id = ?
	`, pool.Name, pool.Description, pool.AdminOnly, pool.VisualizationDefault,
		pool.ManuallyDefined, pool.Operator,
		pool.Count(model.KindDevice), pool.Count(model.KindLink),
		pool.Count(model.KindService), pool.Count(model.KindUser),
		pool.UpdatedAt, pool.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("updating pool: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec("DELETE FROM pool_filters WHERE pool_id = ?", pool.ID); err != nil {
		return fmt.Errorf("deleting old pool filters: %w", err)
	}
	if err := insertPoolFilters(tx, pool); err != nil {
		return err
	}
	return tx.Commit()
}

func (ss *SQLiteStore) DeletePool(id string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	result, err := ss.db.Exec("DELETE FROM pools WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting pool: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (ss *SQLiteStore) PoolMembers(poolID string, kind model.Kind) ([]string, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(
		"SELECT member_id FROM pool_members WHERE pool_id = ? AND kind = ? ORDER BY member_id",
		poolID, kind)
	if err != nil {
		return nil, fmt.Errorf("querying pool members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (ss *SQLiteStore) AddPoolMember(poolID string, kind model.Kind, memberID string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO pool_members (pool_id, kind, member_id) VALUES (?, ?, ?)
		ON CONFLICT (pool_id, kind, member_id) DO NOTHING
	`, poolID, kind, memberID)
	if err != nil {
		return fmt.Errorf("inserting pool member: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		if err := bumpCounter(tx, poolID, kind, 1); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (ss *SQLiteStore) RemovePoolMember(poolID string, kind model.Kind, memberID string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		"DELETE FROM pool_members WHERE pool_id = ? AND kind = ? AND member_id = ?",
		poolID, kind, memberID)
	if err != nil {
		return fmt.Errorf("deleting pool member: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		if err := bumpCounter(tx, poolID, kind, -1); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (ss *SQLiteStore) SetPoolMembers(poolID string, kind model.Kind, memberIDs []string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM pool_members WHERE pool_id = ? AND kind = ?", poolID, kind); err != nil {
		return fmt.Errorf("clearing pool members: %w", err)
	}
	for _, memberID := range memberIDs {
		if _, err := tx.Exec(`
			INSERT INTO pool_members (pool_id, kind, member_id) VALUES (?, ?, ?)
			ON CONFLICT (pool_id, kind, member_id) DO NOTHING
		`, poolID, kind, memberID); err != nil {
			return fmt.Errorf("inserting pool member: %w", err)
		}
	}

	var count int
	if err := tx.QueryRow(
		"SELECT COUNT(*) FROM pool_members WHERE pool_id = ? AND kind = ?",
		poolID, kind).Scan(&count); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"UPDATE pools SET "+counterColumn(kind)+" = ? WHERE id = ?", count, poolID); err != nil {
		return fmt.Errorf("updating pool counter: %w", err)
	}
	return tx.Commit()
}

func (ss *SQLiteStore) MemberPools(kind model.Kind, memberID string) ([]model.Pool, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`
		SELECT p.id, p.name, p.description, p.admin_only, p.visualization_default,
			p.manually_defined, p.operator, p.device_number, p.link_number,
			p.service_number, p.user_number, p.created_at, p.updated_at
		FROM pools p
		INNER JOIN pool_members pm ON p.id = pm.pool_id
		WHERE pm.kind = ? AND pm.member_id = ?
		ORDER BY p.name`, kind, memberID)
	if err != nil {
		return nil, fmt.Errorf("querying member pools: %w", err)
	}
	defer rows.Close()

	pools, err := scanPools(rows)
	if err != nil {
		return nil, err
	}
	for i := range pools {
		if err := ss.loadPoolFilters(&pools[i]); err != nil {
			return nil, err
		}
	}
	return pools, nil
}

// Services

func (ss *SQLiteStore) ListServices() ([]model.Service, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`
		SELECT id, name, description, subtype, netconf, target_devices,
			target_pools, cron_schedule, created_at, updated_at
		FROM services ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying services: %w", err)
	}
	defer rows.Close()
	return scanServices(rows)
}

func (ss *SQLiteStore) GetService(id string) (*model.Service, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`
		SELECT id, name, description, subtype, netconf, target_devices,
			target_pools, cron_schedule, created_at, updated_at
		FROM services WHERE id = ? OR LOWER(name) = LOWER(?) LIMIT 1`, id, id)
	if err != nil {
		return nil, fmt.Errorf("querying service: %w", err)
	}
	defer rows.Close()

	services, err := scanServices(rows)
	if err != nil {
		return nil, err
	}
	if len(services) == 0 {
		return nil, ErrNotFound
	}
	return &services[0], nil
}

func (ss *SQLiteStore) CreateService(service *model.Service) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if service.ID == "" {
		return ErrInvalidID
	}
	now := time.Now()
	service.CreatedAt = now
	service.UpdatedAt = now

	netconf, devices, pools, err := encodeService(service)
	if err != nil {
		return err
	}
	_, err = ss.db.Exec(`
		INSERT INTO services (id, name, description, subtype, netconf,
			target_devices, target_pools, cron_schedule, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, service.ID, service.Name, service.Description, service.Subtype,
		netconf, devices, pools, service.CronSchedule, service.CreatedAt, service.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting service: %w", err)
	}
	return nil
}

func (ss *SQLiteStore) UpdateService(service *model.Service) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	service.UpdatedAt = time.Now()
	netconf, devices, pools, err := encodeService(service)
	if err != nil {
		return err
	}
	result, err := ss.db.Exec(`
		UPDATE services SET name = ?, description = ?, subtype = ?, netconf = ?,
			target_devices = ?, target_pools = ?, cron_schedule = ?, updated_at = ?
		WHERE id = ?
	`, service.Name, service.Description, service.Subtype, netconf,
		devices, pools, service.CronSchedule, service.UpdatedAt, service.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("updating service: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (ss *SQLiteStore) DeleteService(id string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := removeMemberEverywhere(tx, model.KindService, id); err != nil {
		return err
	}
	result, err := tx.Exec("DELETE FROM services WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting service: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// Users

func (ss *SQLiteStore) ListUsers() ([]model.User, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(
		"SELECT id, name, description, email, password, is_admin, created_at, updated_at FROM users ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (ss *SQLiteStore) GetUser(id string) (*model.User, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`
		SELECT id, name, description, email, password, is_admin, created_at, updated_at
		FROM users WHERE id = ? OR LOWER(name) = LOWER(?) LIMIT 1`, id, id)
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	defer rows.Close()

	users, err := scanUsers(rows)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return &users[0], nil
}

func (ss *SQLiteStore) CreateUser(user *model.User) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if user.ID == "" {
		return ErrInvalidID
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := ss.db.Exec(`
		INSERT INTO users (id, name, description, email, password, is_admin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, user.ID, user.Name, user.Description, user.Email, user.Password,
		user.IsAdmin, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (ss *SQLiteStore) UpdateUser(user *model.User) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	user.UpdatedAt = time.Now()
	result, err := ss.db.Exec(`
		UPDATE users SET name = ?, description = ?, email = ?, password = ?, is_admin = ?, updated_at = ?
		WHERE id = ?
	`, user.Name, user.Description, user.Email, user.Password, user.IsAdmin,
		user.UpdatedAt, user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("updating user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (ss *SQLiteStore) DeleteUser(id string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := removeMemberEverywhere(tx, model.KindUser, id); err != nil {
		return err
	}
	result, err := tx.Exec("DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// Credentials

func (ss *SQLiteStore) ListCredentials() ([]model.Credential, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`
		SELECT id, name, description, role, subtype, username, password,
			private_key, enable_password, priority, device_pools, user_pools,
			created_at, updated_at
		FROM credentials ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()
	return scanCredentials(rows)
}

func (ss *SQLiteStore) GetCredential(id string) (*model.Credential, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`
		SELECT id, name, description, role, subtype, username, password,
			private_key, enable_password, priority, device_pools, user_pools,
			created_at, updated_at
		FROM credentials WHERE id = ? OR LOWER(name) = LOWER(?) LIMIT 1`, id, id)
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	defer rows.Close()

	credentials, err := scanCredentials(rows)
	if err != nil {
		return nil, err
	}
	if len(credentials) == 0 {
		return nil, ErrNotFound
	}
	return &credentials[0], nil
}

func (ss *SQLiteStore) CreateCredential(credential *model.Credential) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if credential.ID == "" {
		return ErrInvalidID
	}
	now := time.Now()
	credential.CreatedAt = now
	credential.UpdatedAt = now

	devicePools, userPools, err := encodePoolRefs(credential)
	if err != nil {
		return err
	}
	_, err = ss.db.Exec(`
		INSERT INTO credentials (id, name, description, role, subtype, username,
			password, private_key, enable_password, priority, device_pools,
			user_pools, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, credential.ID, credential.Name, credential.Description, credential.Role,
		credential.Subtype, credential.Username, credential.Password,
		credential.PrivateKey, credential.EnablePassword, credential.Priority,
		devicePools, userPools, credential.CreatedAt, credential.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting credential: %w", err)
	}
	return nil
}

func (ss *SQLiteStore) UpdateCredential(credential *model.Credential) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	credential.UpdatedAt = time.Now()
	devicePools, userPools, err := encodePoolRefs(credential)
	if err != nil {
		return err
	}
	result, err := ss.db.Exec(`
		UPDATE credentials SET name = ?, description = ?, role = ?, subtype = ?,
			username = ?, password = ?, private_key = ?, enable_password = ?,
			priority = ?, device_pools = ?, user_pools = ?, updated_at = ?
		WHERE id = ?
	`, credential.Name, credential.Description, credential.Role, credential.Subtype,
		credential.Username, credential.Password, credential.PrivateKey,
		credential.EnablePassword, credential.Priority, devicePools, userPools,
		credential.UpdatedAt, credential.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("updating credential: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (ss *SQLiteStore) DeleteCredential(id string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	result, err := ss.db.Exec("DELETE FROM credentials WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Sessions

func (ss *SQLiteStore) ListDeviceSessions(deviceID string) ([]model.Session, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(
		"SELECT id, name, timestamp, user, content, device_id FROM sessions WHERE device_id = ? ORDER BY timestamp",
		deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.Name, &s.Timestamp, &s.User, &s.Content, &s.DeviceID); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (ss *SQLiteStore) CreateSession(session *model.Session) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if session.ID == "" {
		return ErrInvalidID
	}
	_, err := ss.db.Exec(`
		INSERT INTO sessions (id, name, timestamp, user, content, device_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, session.ID, session.Name, session.Timestamp, session.User,
		session.Content, session.DeviceID)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// ListPoolables returns the full universe of a kind.
func (ss *SQLiteStore) ListPoolables(kind model.Kind) ([]model.Poolable, error) {
	switch kind {
	case model.KindDevice:
		devices, err := ss.ListDevices()
		if err != nil {
			return nil, err
		}
		poolables := make([]model.Poolable, len(devices))
		for i := range devices {
			poolables[i] = &devices[i]
		}
		return poolables, nil
	case model.KindLink:
		links, err := ss.ListLinks()
		if err != nil {
			return nil, err
		}
		poolables := make([]model.Poolable, len(links))
		for i := range links {
			poolables[i] = &links[i]
		}
		return poolables, nil
	case model.KindService:
		services, err := ss.ListServices()
		if err != nil {
			return nil, err
		}
		poolables := make([]model.Poolable, len(services))
		for i := range services {
			poolables[i] = &services[i]
		}
		return poolables, nil
	case model.KindUser:
		users, err := ss.ListUsers()
		if err != nil {
			return nil, err
		}
		poolables := make([]model.Poolable, len(users))
		for i := range users {
			poolables[i] = &users[i]
		}
		return poolables, nil
	}
	return nil, fmt.Errorf("unknown kind %q: %w", kind, ErrNotFound)
}

// Helpers

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// removeMemberEverywhere drops an entity from every pool and decrements
// the matching counters in the same transaction.
func removeMemberEverywhere(tx execer, kind model.Kind, memberID string) error {
	rows, err := tx.Query(
		"SELECT pool_id FROM pool_members WHERE kind = ? AND member_id = ?", kind, memberID)
	if err != nil {
		return fmt.Errorf("querying memberships: %w", err)
	}
	var poolIDs []string
	for rows.Next() {
		var poolID string
		if err := rows.Scan(&poolID); err != nil {
			rows.Close()
			return err
		}
		poolIDs = append(poolIDs, poolID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, poolID := range poolIDs {
		if _, err := tx.Exec(
			"DELETE FROM pool_members WHERE pool_id = ? AND kind = ? AND member_id = ?",
			poolID, kind, memberID); err != nil {
			return fmt.Errorf("deleting membership: %w", err)
		}
		if err := bumpCounter(tx, poolID, kind, -1); err != nil {
			return err
		}
	}
	return nil
}

func bumpCounter(tx execer, poolID string, kind model.Kind, delta int) error {
	column := counterColumn(kind)
	if _, err := tx.Exec(
		"UPDATE pools SET "+column+" = "+column+" + ? WHERE id = ?", delta, poolID); err != nil {
		return fmt.Errorf("updating pool counter: %w", err)
	}
	return nil
}

func counterColumn(kind model.Kind) string {
	return string(kind) + "_number"
}

func insertPoolFilters(tx execer, pool *model.Pool) error {
	for kind, specs := range pool.Filters {
		for property, spec := range specs {
			if _, err := tx.Exec(`
				INSERT INTO pool_filters (pool_id, kind, property, value, match, invert)
				VALUES (?, ?, ?, ?, ?, ?)
			`, pool.ID, kind, property, spec.Value, spec.Match, spec.Invert); err != nil {
				return fmt.Errorf("inserting pool filter: %w", err)
			}
		}
	}
	return nil
}

func (ss *SQLiteStore) loadPoolFilters(pool *model.Pool) error {
	rows, err := ss.db.Query(
		"SELECT kind, property, value, match, invert FROM pool_filters WHERE pool_id = ?", pool.ID)
	if err != nil {
		return fmt.Errorf("querying pool filters: %w", err)
	}
	defer rows.Close()

	pool.Filters = map[model.Kind]map[string]model.FilterSpec{}
	for rows.Next() {
		var kind, property string
		var spec model.FilterSpec
		if err := rows.Scan(&kind, &property, &spec.Value, &spec.Match, &spec.Invert); err != nil {
			return fmt.Errorf("scanning pool filter: %w", err)
		}
		if pool.Filters[model.Kind(kind)] == nil {
			pool.Filters[model.Kind(kind)] = map[string]model.FilterSpec{}
		}
		pool.Filters[model.Kind(kind)][property] = spec
	}
	return rows.Err()
}

func scanDevices(rows *sql.Rows) ([]model.Device, error) {
	var devices []model.Device
	for rows.Next() {
		var d model.Device
		err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.Subtype, &d.Model,
			&d.Location, &d.Vendor, &d.OperatingSystem, &d.OSVersion, &d.IPAddress,
			&d.Longitude, &d.Latitude, &d.Port, &d.Icon, &d.NetconfDriver,
			&d.NapalmDriver, &d.NetmikoDriver, &d.Configuration,
			&d.LastConfigUpdate, &d.LastConfigStatus, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func scanLinks(rows *sql.Rows) ([]model.Link, error) {
	var links []model.Link
	for rows.Next() {
		var l model.Link
		err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.Subtype, &l.Model,
			&l.Location, &l.Vendor, &l.Color, &l.SourceID, &l.SourceName,
			&l.DestID, &l.DestName, &l.CreatedAt, &l.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func scanPools(rows *sql.Rows) ([]model.Pool, error) {
	var pools []model.Pool
	for rows.Next() {
		var p model.Pool
		var deviceN, linkN, serviceN, userN int
		err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.AdminOnly,
			&p.VisualizationDefault, &p.ManuallyDefined, &p.Operator,
			&deviceN, &linkN, &serviceN, &userN, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning pool: %w", err)
		}
		p.Counts = map[model.Kind]int{
			model.KindDevice:  deviceN,
			model.KindLink:    linkN,
			model.KindService: serviceN,
			model.KindUser:    userN,
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

func scanServices(rows *sql.Rows) ([]model.Service, error) {
	var services []model.Service
	for rows.Next() {
		var s model.Service
		var netconf, devices, pools string
		err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Subtype, &netconf,
			&devices, &pools, &s.CronSchedule, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning service: %w", err)
		}
		if err := json.Unmarshal([]byte(netconf), &s.Netconf); err != nil {
			return nil, fmt.Errorf("decoding service spec: %w", err)
		}
		if err := json.Unmarshal([]byte(devices), &s.TargetDeviceIDs); err != nil {
			return nil, fmt.Errorf("decoding service targets: %w", err)
		}
		if err := json.Unmarshal([]byte(pools), &s.TargetPoolIDs); err != nil {
			return nil, fmt.Errorf("decoding service pools: %w", err)
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

func scanUsers(rows *sql.Rows) ([]model.User, error) {
	var users []model.User
	for rows.Next() {
		var u model.User
		err := rows.Scan(&u.ID, &u.Name, &u.Description, &u.Email, &u.Password,
			&u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanCredentials(rows *sql.Rows) ([]model.Credential, error) {
	var credentials []model.Credential
	for rows.Next() {
		var c model.Credential
		var devicePools, userPools string
		err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Role, &c.Subtype,
			&c.Username, &c.Password, &c.PrivateKey, &c.EnablePassword,
			&c.Priority, &devicePools, &userPools, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		if err := json.Unmarshal([]byte(devicePools), &c.DevicePoolIDs); err != nil {
			return nil, fmt.Errorf("decoding credential device pools: %w", err)
		}
		if err := json.Unmarshal([]byte(userPools), &c.UserPoolIDs); err != nil {
			return nil, fmt.Errorf("decoding credential user pools: %w", err)
		}
		credentials = append(credentials, c)
	}
	return credentials, rows.Err()
}

func encodeService(service *model.Service) (netconf, devices, pools string, err error) {
	spec, err := json.Marshal(service.Netconf)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding service spec: %w", err)
	}
	targetDevices, err := json.Marshal(orEmpty(service.TargetDeviceIDs))
	if err != nil {
		return "", "", "", fmt.Errorf("encoding service targets: %w", err)
	}
	targetPools, err := json.Marshal(orEmpty(service.TargetPoolIDs))
	if err != nil {
		return "", "", "", fmt.Errorf("encoding service pools: %w", err)
	}
	return string(spec), string(targetDevices), string(targetPools), nil
}

func encodePoolRefs(credential *model.Credential) (devicePools, userPools string, err error) {
	devices, err := json.Marshal(orEmpty(credential.DevicePoolIDs))
	if err != nil {
		return "", "", fmt.Errorf("encoding credential device pools: %w", err)
	}
	users, err := json.Marshal(orEmpty(credential.UserPoolIDs))
	if err != nil {
		return "", "", fmt.Errorf("encoding credential user pools: %w", err)
	}
	return string(devices), string(users), nil
}

func orEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
