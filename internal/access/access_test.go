package access

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/netfabd/netfabd/internal/model"
	"github.com/netfabd/netfabd/internal/storage"
)

type fixture struct {
	store    storage.Store
	resolver *Resolver
	device   *model.Device
	user     *model.User
	userPool *model.Pool
	devPool  *model.Pool
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()

	device := model.NewDevice("edge-1")
	device.ID = uuid.Must(uuid.NewV7()).String()
	if err := store.CreateDevice(device); err != nil {
		t.Fatal(err)
	}
	user := &model.User{ID: uuid.Must(uuid.NewV7()).String(), Name: "alice"}
	if err := store.CreateUser(user); err != nil {
		t.Fatal(err)
	}

	userPool := model.NewPool("operators")
	userPool.ID = uuid.Must(uuid.NewV7()).String()
	devPool := model.NewPool("edges")
	devPool.ID = uuid.Must(uuid.NewV7()).String()
	for _, p := range []*model.Pool{userPool, devPool} {
		if err := store.CreatePool(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.AddPoolMember(userPool.ID, model.KindUser, user.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.AddPoolMember(devPool.ID, model.KindDevice, device.ID); err != nil {
		t.Fatal(err)
	}

	return &fixture{
		store:    store,
		resolver: NewResolver(store),
		device:   device,
		user:     user,
		userPool: userPool,
		devPool:  devPool,
	}
}

func (f *fixture) addCredential(t *testing.T, name, role string, priority int, scoped bool) *model.Credential {
	t.Helper()
	credential := model.NewCredential(name)
	credential.ID = uuid.Must(uuid.NewV7()).String()
	credential.Role = role
	credential.Priority = priority
	if scoped {
		credential.UserPoolIDs = []string{f.userPool.ID}
		credential.DevicePoolIDs = []string{f.devPool.ID}
	}
	if err := f.store.CreateCredential(credential); err != nil {
		t.Fatal(err)
	}
	return credential
}

func TestGetCredentials(t *testing.T) {
	t.Run("highest priority wins", func(t *testing.T) {
		f := setupFixture(t)
		f.addCredential(t, "low", model.RoleReadWrite, 1, true)
		high := f.addCredential(t, "high", model.RoleReadWrite, 9, true)

		got, err := f.resolver.GetCredentials(f.device, model.RoleReadWrite, f.user.ID)
		if err != nil {
			t.Fatalf("GetCredentials() error = %v", err)
		}
		if got.ID != high.ID {
			t.Errorf("resolved %q, want %q", got.Name, high.Name)
		}
	})

	t.Run("priority tie resolves to oldest", func(t *testing.T) {
		f := setupFixture(t)
		first := f.addCredential(t, "first", model.RoleReadWrite, 5, true)
		f.addCredential(t, "second", model.RoleReadWrite, 5, true)

		got, err := f.resolver.GetCredentials(f.device, model.RoleReadWrite, f.user.ID)
		if err != nil {
			t.Fatalf("GetCredentials() error = %v", err)
		}
		if got.ID != first.ID {
			t.Errorf("resolved %q, want the older %q", got.Name, first.Name)
		}
	})

	t.Run("role filter", func(t *testing.T) {
		f := setupFixture(t)
		ro := f.addCredential(t, "monitor", model.RoleReadOnly, 9, true)
		rw := f.addCredential(t, "config", model.RoleReadWrite, 1, true)

		got, err := f.resolver.GetCredentials(f.device, model.RoleReadWrite, f.user.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != rw.ID {
			t.Errorf("read-write request resolved %q", got.Name)
		}

		// Role "any" sees both and picks the higher priority.
		got, err = f.resolver.GetCredentials(f.device, model.RoleAny, f.user.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != ro.ID {
			t.Errorf("any-role request resolved %q, want %q", got.Name, ro.Name)
		}
	})

	t.Run("unscoped credential never matches", func(t *testing.T) {
		f := setupFixture(t)
		f.addCredential(t, "orphan", model.RoleReadWrite, 9, false)

		_, err := f.resolver.GetCredentials(f.device, model.RoleReadWrite, f.user.ID)
		if !errors.Is(err, ErrNoCredentials) {
			t.Fatalf("error = %v, want ErrNoCredentials", err)
		}
		if !strings.Contains(err.Error(), "edge-1") {
			t.Errorf("error %q does not identify the device", err)
		}
	})

	t.Run("user outside the user pool", func(t *testing.T) {
		f := setupFixture(t)
		f.addCredential(t, "scoped", model.RoleReadWrite, 1, true)
		stranger := &model.User{ID: uuid.Must(uuid.NewV7()).String(), Name: "mallory"}
		if err := f.store.CreateUser(stranger); err != nil {
			t.Fatal(err)
		}

		if _, err := f.resolver.GetCredentials(f.device, model.RoleReadWrite, stranger.ID); !errors.Is(err, ErrNoCredentials) {
			t.Errorf("error = %v, want ErrNoCredentials", err)
		}
	})
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !IsHashed(hash) {
		t.Fatalf("hash %q missing prefix", hash)
	}
	if !VerifyPassword("s3cret", hash) {
		t.Error("correct password rejected")
	}
	if VerifyPassword("wrong", hash) {
		t.Error("wrong password accepted")
	}

	// Re-hashing an already hashed value is a no-op.
	again, err := HashPassword(hash)
	if err != nil {
		t.Fatal(err)
	}
	if again != hash {
		t.Error("stored hash was re-hashed")
	}

	// Empty secrets stay empty.
	empty, err := HashPassword("")
	if err != nil {
		t.Fatal(err)
	}
	if empty != "" {
		t.Errorf("empty password hashed to %q", empty)
	}
}
