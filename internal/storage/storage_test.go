package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/netfabd/netfabd/internal/model"
)

// setupStores returns both backends so every test exercises SQLite and
// the in-memory store with the same assertions.
func setupStores(t *testing.T) map[string]Store {
	t.Helper()

	sqliteStore, err := NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"sqlite": sqliteStore,
		"memory": NewMemoryStore(),
	}
}

func newTestDevice(name string) *model.Device {
	device := model.NewDevice(name)
	device.ID = uuid.Must(uuid.NewV7()).String()
	device.Vendor = "Cisco"
	device.OperatingSystem = "IOS-XE"
	return device
}

func newTestPool(name string) *model.Pool {
	pool := model.NewPool(name)
	pool.ID = uuid.Must(uuid.NewV7()).String()
	return pool
}

func TestDeviceCRUD(t *testing.T) {
	for backend, store := range setupStores(t) {
		t.Run(backend, func(t *testing.T) {
			device := newTestDevice("edge-router-1")
			if err := store.CreateDevice(device); err != nil {
				t.Fatalf("CreateDevice() error = %v", err)
			}

			// Duplicate name must conflict.
			dup := newTestDevice("edge-router-1")
			if err := store.CreateDevice(dup); !errors.Is(err, ErrConflict) {
				t.Errorf("CreateDevice(duplicate) error = %v, want ErrConflict", err)
			}

			// Lookup by ID and by name.
			for _, key := range []string{device.ID, "edge-router-1", "EDGE-ROUTER-1"} {
				got, err := store.GetDevice(key)
				if err != nil {
					t.Fatalf("GetDevice(%q) error = %v", key, err)
				}
				if got.ID != device.ID {
					t.Errorf("GetDevice(%q) = %s, want %s", key, got.ID, device.ID)
				}
			}

			device.Location = "fra-dc2"
			if err := store.UpdateDevice(device); err != nil {
				t.Fatalf("UpdateDevice() error = %v", err)
			}
			got, err := store.GetDevice(device.ID)
			if err != nil {
				t.Fatalf("GetDevice() error = %v", err)
			}
			if got.Location != "fra-dc2" {
				t.Errorf("Location = %q, want fra-dc2", got.Location)
			}
			if got.Port != 830 {
				t.Errorf("Port = %d, want default 830", got.Port)
			}

			if err := store.DeleteDevice(device.ID); err != nil {
				t.Fatalf("DeleteDevice() error = %v", err)
			}
			if _, err := store.GetDevice(device.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetDevice(deleted) error = %v, want ErrNotFound", err)
			}
			if err := store.DeleteDevice(device.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("DeleteDevice(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestLinkEndpoints(t *testing.T) {
	for backend, store := range setupStores(t) {
		t.Run(backend, func(t *testing.T) {
			a := newTestDevice("core-1")
			b := newTestDevice("core-2")
			for _, d := range []*model.Device{a, b} {
				if err := store.CreateDevice(d); err != nil {
					t.Fatalf("CreateDevice() error = %v", err)
				}
			}

			link := model.NewLink("core-1 <-> core-2", a.ID, b.ID)
			link.ID = uuid.Must(uuid.NewV7()).String()
			if err := store.CreateLink(link); err != nil {
				t.Fatalf("CreateLink() error = %v", err)
			}
			if link.SourceName != "core-1" || link.DestName != "core-2" {
				t.Errorf("endpoint names = %q/%q, want core-1/core-2", link.SourceName, link.DestName)
			}

			// Unknown endpoint must fail.
			bad := model.NewLink("dangling", a.ID, "no-such-device")
			bad.ID = uuid.Must(uuid.NewV7()).String()
			if err := store.CreateLink(bad); !errors.Is(err, ErrNotFound) {
				t.Errorf("CreateLink(unknown endpoint) error = %v, want ErrNotFound", err)
			}

			links, err := store.ListDeviceLinks(a.ID)
			if err != nil {
				t.Fatalf("ListDeviceLinks() error = %v", err)
			}
			if len(links) != 1 {
				t.Fatalf("ListDeviceLinks() returned %d links, want 1", len(links))
			}

			// Renaming an endpoint must be visible on the link.
			a.Name = "core-1-renamed"
			if err := store.UpdateDevice(a); err != nil {
				t.Fatalf("UpdateDevice() error = %v", err)
			}
			got, err := store.GetLink(link.ID)
			if err != nil {
				t.Fatalf("GetLink() error = %v", err)
			}
			if got.SourceName != "core-1-renamed" {
				t.Errorf("SourceName = %q, want core-1-renamed", got.SourceName)
			}

			// Deleting an endpoint removes the link.
			if err := store.DeleteDevice(b.ID); err != nil {
				t.Fatalf("DeleteDevice() error = %v", err)
			}
			if _, err := store.GetLink(link.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetLink(after endpoint delete) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestPoolMembershipCounters(t *testing.T) {
	for backend, store := range setupStores(t) {
		t.Run(backend, func(t *testing.T) {
			pool := newTestPool("lab")
			if err := store.CreatePool(pool); err != nil {
				t.Fatalf("CreatePool() error = %v", err)
			}

			devices := make([]*model.Device, 3)
			for i := range devices {
				devices[i] = newTestDevice(fmt.Sprintf("lab-sw-%d", i))
				if err := store.CreateDevice(devices[i]); err != nil {
					t.Fatalf("CreateDevice() error = %v", err)
				}
				if err := store.AddPoolMember(pool.ID, model.KindDevice, devices[i].ID); err != nil {
					t.Fatalf("AddPoolMember() error = %v", err)
				}
			}

			assertCount := func(want int) {
				t.Helper()
				got, err := store.GetPool(pool.ID)
				if err != nil {
					t.Fatalf("GetPool() error = %v", err)
				}
				members, err := store.PoolMembers(pool.ID, model.KindDevice)
				if err != nil {
					t.Fatalf("PoolMembers() error = %v", err)
				}
				if got.Count(model.KindDevice) != want {
					t.Errorf("device count = %d, want %d", got.Count(model.KindDevice), want)
				}
				if len(members) != got.Count(model.KindDevice) {
					t.Errorf("counter %d diverged from relation size %d",
						got.Count(model.KindDevice), len(members))
				}
			}
			assertCount(3)

			// Idempotent add and remove.
			if err := store.AddPoolMember(pool.ID, model.KindDevice, devices[0].ID); err != nil {
				t.Fatalf("AddPoolMember(duplicate) error = %v", err)
			}
			assertCount(3)
			if err := store.RemovePoolMember(pool.ID, model.KindDevice, "not-a-member"); err != nil {
				t.Fatalf("RemovePoolMember(non-member) error = %v", err)
			}
			assertCount(3)

			if err := store.RemovePoolMember(pool.ID, model.KindDevice, devices[0].ID); err != nil {
				t.Fatalf("RemovePoolMember() error = %v", err)
			}
			assertCount(2)

			// Replacement resets relation and counter together.
			if err := store.SetPoolMembers(pool.ID, model.KindDevice, []string{devices[2].ID}); err != nil {
				t.Fatalf("SetPoolMembers() error = %v", err)
			}
			assertCount(1)

			// Deleting a member entity maintains the counter.
			if err := store.DeleteDevice(devices[2].ID); err != nil {
				t.Fatalf("DeleteDevice() error = %v", err)
			}
			assertCount(0)
		})
	}
}

func TestMemberPools(t *testing.T) {
	for backend, store := range setupStores(t) {
		t.Run(backend, func(t *testing.T) {
			device := newTestDevice("member-1")
			if err := store.CreateDevice(device); err != nil {
				t.Fatalf("CreateDevice() error = %v", err)
			}

			inPool := newTestPool("in")
			outPool := newTestPool("out")
			for _, p := range []*model.Pool{inPool, outPool} {
				if err := store.CreatePool(p); err != nil {
					t.Fatalf("CreatePool() error = %v", err)
				}
			}
			if err := store.AddPoolMember(inPool.ID, model.KindDevice, device.ID); err != nil {
				t.Fatalf("AddPoolMember() error = %v", err)
			}

			pools, err := store.MemberPools(model.KindDevice, device.ID)
			if err != nil {
				t.Fatalf("MemberPools() error = %v", err)
			}
			if len(pools) != 1 || pools[0].ID != inPool.ID {
				t.Errorf("MemberPools() = %v, want just %q", pools, inPool.ID)
			}
		})
	}
}

func TestPoolFiltersRoundTrip(t *testing.T) {
	for backend, store := range setupStores(t) {
		t.Run(backend, func(t *testing.T) {
			pool := newTestPool("vendor-pool")
			pool.SetFilter(model.KindDevice, "vendor", model.FilterSpec{
				Value: "Cisco", Match: model.MatchEquality,
			})
			pool.SetFilter(model.KindDevice, "name", model.FilterSpec{
				Value: "edge", Invert: true,
			})
			if err := store.CreatePool(pool); err != nil {
				t.Fatalf("CreatePool() error = %v", err)
			}

			got, err := store.GetPool(pool.ID)
			if err != nil {
				t.Fatalf("GetPool() error = %v", err)
			}
			vendor, ok := got.Filter(model.KindDevice, "vendor")
			if !ok || vendor.Match != model.MatchEquality || vendor.Value != "Cisco" {
				t.Errorf("vendor filter = %+v, ok=%v", vendor, ok)
			}
			name, ok := got.Filter(model.KindDevice, "name")
			if !ok || !name.Invert || name.Match != model.MatchInclusion {
				t.Errorf("name filter = %+v, ok=%v (want inverted inclusion)", name, ok)
			}

			// Update replaces the filter set wholesale.
			got.Filters = map[model.Kind]map[string]model.FilterSpec{}
			got.SetFilter(model.KindLink, "subtype", model.FilterSpec{Value: "bgp"})
			if err := store.UpdatePool(got); err != nil {
				t.Fatalf("UpdatePool() error = %v", err)
			}
			again, err := store.GetPool(pool.ID)
			if err != nil {
				t.Fatalf("GetPool() error = %v", err)
			}
			if _, ok := again.Filter(model.KindDevice, "vendor"); ok {
				t.Error("stale device filter survived the update")
			}
			if _, ok := again.Filter(model.KindLink, "subtype"); !ok {
				t.Error("link filter missing after update")
			}
		})
	}
}

func TestServiceRoundTrip(t *testing.T) {
	for backend, store := range setupStores(t) {
		t.Run(backend, func(t *testing.T) {
			service := model.NewService("backup-config")
			service.ID = uuid.Must(uuid.NewV7()).String()
			service.Netconf.Operation = model.NetconfGetConfig
			service.Netconf.Target = model.DatastoreRunning
			service.TargetDeviceIDs = []string{"d1", "d2"}
			service.CronSchedule = "0 2 * * *"
			if err := store.CreateService(service); err != nil {
				t.Fatalf("CreateService() error = %v", err)
			}

			got, err := store.GetService("backup-config")
			if err != nil {
				t.Fatalf("GetService() error = %v", err)
			}
			if got.Netconf.Operation != model.NetconfGetConfig {
				t.Errorf("Operation = %q, want get_config", got.Netconf.Operation)
			}
			if !got.Netconf.XMLConversion {
				t.Error("XMLConversion default lost in round trip")
			}
			if len(got.TargetDeviceIDs) != 2 {
				t.Errorf("TargetDeviceIDs = %v, want 2 entries", got.TargetDeviceIDs)
			}
			if got.CronSchedule != "0 2 * * *" {
				t.Errorf("CronSchedule = %q", got.CronSchedule)
			}
		})
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	for backend, store := range setupStores(t) {
		t.Run(backend, func(t *testing.T) {
			credential := model.NewCredential("netops")
			credential.ID = uuid.Must(uuid.NewV7()).String()
			credential.Username = "automation"
			credential.Priority = 5
			credential.DevicePoolIDs = []string{"p1"}
			credential.UserPoolIDs = []string{"p2", "p3"}
			if err := store.CreateCredential(credential); err != nil {
				t.Fatalf("CreateCredential() error = %v", err)
			}

			got, err := store.GetCredential(credential.ID)
			if err != nil {
				t.Fatalf("GetCredential() error = %v", err)
			}
			if got.Priority != 5 || got.Role != model.RoleReadWrite {
				t.Errorf("credential = %+v", got)
			}
			if len(got.UserPoolIDs) != 2 {
				t.Errorf("UserPoolIDs = %v, want 2 entries", got.UserPoolIDs)
			}
		})
	}
}

func TestDeviceSessions(t *testing.T) {
	for backend, store := range setupStores(t) {
		t.Run(backend, func(t *testing.T) {
			device := newTestDevice("audited-1")
			if err := store.CreateDevice(device); err != nil {
				t.Fatalf("CreateDevice() error = %v", err)
			}

			session := &model.Session{
				ID:       uuid.Must(uuid.NewV7()).String(),
				Name:     "netconf",
				User:     "alice",
				Content:  "<rpc>...</rpc>",
				DeviceID: device.ID,
			}
			if err := store.CreateSession(session); err != nil {
				t.Fatalf("CreateSession() error = %v", err)
			}

			sessions, err := store.ListDeviceSessions(device.ID)
			if err != nil {
				t.Fatalf("ListDeviceSessions() error = %v", err)
			}
			if len(sessions) != 1 || sessions[0].User != "alice" {
				t.Errorf("sessions = %+v", sessions)
			}

			if err := store.DeleteDevice(device.ID); err != nil {
				t.Fatalf("DeleteDevice() error = %v", err)
			}
			sessions, err = store.ListDeviceSessions(device.ID)
			if err != nil {
				t.Fatalf("ListDeviceSessions() error = %v", err)
			}
			if len(sessions) != 0 {
				t.Errorf("sessions survived device delete: %+v", sessions)
			}
		})
	}
}

func TestListPoolables(t *testing.T) {
	for backend, store := range setupStores(t) {
		t.Run(backend, func(t *testing.T) {
			device := newTestDevice("universe-1")
			if err := store.CreateDevice(device); err != nil {
				t.Fatalf("CreateDevice() error = %v", err)
			}
			user := &model.User{ID: uuid.Must(uuid.NewV7()).String(), Name: "bob"}
			if err := store.CreateUser(user); err != nil {
				t.Fatalf("CreateUser() error = %v", err)
			}

			for kind, want := range map[model.Kind]int{
				model.KindDevice:  1,
				model.KindLink:    0,
				model.KindService: 0,
				model.KindUser:    1,
			} {
				poolables, err := store.ListPoolables(kind)
				if err != nil {
					t.Fatalf("ListPoolables(%s) error = %v", kind, err)
				}
				if len(poolables) != want {
					t.Errorf("ListPoolables(%s) = %d entries, want %d", kind, len(poolables), want)
				}
			}
		})
	}
}
