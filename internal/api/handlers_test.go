package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/netfabd/netfabd/internal/access"
	"github.com/netfabd/netfabd/internal/drivers"
	"github.com/netfabd/netfabd/internal/model"
	"github.com/netfabd/netfabd/internal/netconf"
	"github.com/netfabd/netfabd/internal/pool"
	"github.com/netfabd/netfabd/internal/runner"
	"github.com/netfabd/netfabd/internal/snmp"
	"github.com/netfabd/netfabd/internal/storage"
	"github.com/netfabd/netfabd/internal/worker"
)

type apiSession struct{}

func (apiSession) GetConfig(context.Context, string) (string, error) { return "<a>1</a>", nil }
func (apiSession) Get(context.Context, string) (string, error)      { return "<a>1</a>", nil }
func (apiSession) EditConfig(context.Context, string, string, netconf.EditOptions) (string, error) {
	return "<ok/>", nil
}
func (apiSession) CopyConfig(context.Context, string, string) (string, error) { return "<ok/>", nil }
func (apiSession) RPC(context.Context, string) (string, error)                { return "<ok/>", nil }
func (apiSession) Lock(context.Context, string) error                         { return nil }
func (apiSession) Unlock(context.Context, string) error                       { return nil }
func (apiSession) Commit(context.Context) error                               { return nil }
func (apiSession) Close() error                                               { return nil }

func setupAPI(t *testing.T) (*http.ServeMux, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	engine := pool.NewEngine(store)
	resolver := access.NewResolver(store)

	registry := drivers.NewRegistry()
	registry.Register("default", netconf.DialerFunc(
		func(context.Context, netconf.DialParams) (netconf.Session, error) {
			return apiSession{}, nil
		}))

	workerPool := worker.NewWorkerPool(2)
	workerPool.Start()
	t.Cleanup(workerPool.Stop)

	handler := NewHandler(store, engine, resolver,
		runner.NewRunner(store, resolver, registry, workerPool),
		nil, snmp.NewPoller("public"))

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return mux, store
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestDeviceEndpoints(t *testing.T) {
	mux, _ := setupAPI(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/devices",
		map[string]interface{}{"name": "edge-1", "vendor": "Cisco"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	device := decode[model.Device](t, rec)
	if device.Port != 830 || device.Icon != "router" {
		t.Errorf("defaults not applied: %+v", device)
	}

	// Name is unique.
	rec = doJSON(t, mux, http.MethodPost, "/api/devices", map[string]interface{}{"name": "edge-1"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d", rec.Code)
	}

	// Lookup by name.
	rec = doJSON(t, mux, http.MethodGet, "/api/devices/edge-1", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodDelete, "/api/devices/"+device.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodGet, "/api/devices/"+device.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d", rec.Code)
	}
}

func TestPoolEndpoints(t *testing.T) {
	mux, store := setupAPI(t)

	for i, vendor := range []string{"Cisco IOS", "Juniper"} {
		rec := doJSON(t, mux, http.MethodPost, "/api/devices",
			map[string]interface{}{"name": fmt.Sprintf("d%d", i), "vendor": vendor})
		if rec.Code != http.StatusCreated {
			t.Fatalf("device create status = %d", rec.Code)
		}
	}

	rec := doJSON(t, mux, http.MethodPost, "/api/pools", map[string]interface{}{
		"name":     "cisco",
		"operator": "any",
		"filters": map[string]interface{}{
			"device": map[string]interface{}{
				"vendor": map[string]interface{}{"value": "Cisco", "match": "inclusion"},
			},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("pool create status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decode[model.Pool](t, rec)
	if created.Count(model.KindDevice) != 1 {
		t.Errorf("device count = %d, want 1", created.Count(model.KindDevice))
	}

	// A new matching device joins the pool on creation.
	rec = doJSON(t, mux, http.MethodPost, "/api/devices",
		map[string]interface{}{"name": "d2", "vendor": "Cisco NX-OS"})
	if rec.Code != http.StatusCreated {
		t.Fatal(rec.Code)
	}
	refreshed, err := store.GetPool(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.Count(model.KindDevice) != 2 {
		t.Errorf("device count after create = %d, want 2", refreshed.Count(model.KindDevice))
	}

	// Invalid regex filters are rejected before anything is stored.
	rec = doJSON(t, mux, http.MethodPut, "/api/pools/"+created.ID, map[string]interface{}{
		"name":     "cisco",
		"operator": "any",
		"filters": map[string]interface{}{
			"device": map[string]interface{}{
				"vendor": map[string]interface{}{"value": "[unclosed", "match": "regex"},
			},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad regex update status = %d", rec.Code)
	}

	// Unknown filter property.
	rec = doJSON(t, mux, http.MethodPost, "/api/pools", map[string]interface{}{
		"name":     "bogus",
		"operator": "all",
		"filters": map[string]interface{}{
			"device": map[string]interface{}{
				"nonexistent": map[string]interface{}{"value": "x"},
			},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown property status = %d", rec.Code)
	}

	// Computed pools reject manual membership edits.
	rec = doJSON(t, mux, http.MethodPut, "/api/pools/"+created.ID+"/members/device",
		map[string]interface{}{"members": []string{}})
	if rec.Code != http.StatusConflict {
		t.Errorf("manual edit of computed pool status = %d", rec.Code)
	}
}

func TestNeighborsEndpoint(t *testing.T) {
	mux, _ := setupAPI(t)

	var ids []string
	for _, name := range []string{"A", "B"} {
		rec := doJSON(t, mux, http.MethodPost, "/api/devices", map[string]interface{}{"name": name})
		device := decode[model.Device](t, rec)
		ids = append(ids, device.ID)
	}
	rec := doJSON(t, mux, http.MethodPost, "/api/links", map[string]interface{}{
		"name": "A-B", "source_id": ids[0], "destination_id": ids[1], "subtype": "bgp",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("link create status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/devices/A/neighbors?direction=both", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("neighbors status = %d", rec.Code)
	}
	neighbors := decode[[]model.Device](t, rec)
	if len(neighbors) != 1 || neighbors[0].Name != "B" {
		t.Errorf("neighbors = %+v", neighbors)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/devices/A/neighbors?kind=link&subtype=ospf", nil)
	links := decode[[]model.Link](t, rec)
	if len(links) != 0 {
		t.Errorf("ospf links = %+v", links)
	}
}

func TestConfigurationSearchEndpoint(t *testing.T) {
	mux, store := setupAPI(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/devices", map[string]interface{}{"name": "edge-1"})
	device := decode[model.Device](t, rec)
	stored, err := store.GetDevice(device.ID)
	if err != nil {
		t.Fatal(err)
	}
	stored.Configuration = "hostname edge-1\ninterface Gi0/0\n ip address 10.0.0.1"
	if err := store.UpdateDevice(stored); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, mux, http.MethodGet,
		"/api/devices/edge-1/configuration/search?q=interface&window=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
	body := decode[map[string][]string](t, rec)
	if len(body["matches"]) != 3 {
		t.Errorf("matches = %v, want 3 lines", body["matches"])
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/devices/edge-1/configuration/search", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing query status = %d", rec.Code)
	}
}

func TestRunServiceEndpoint(t *testing.T) {
	mux, store := setupAPI(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/devices",
		map[string]interface{}{"name": "edge-1", "ip_address": "192.0.2.1"})
	device := decode[model.Device](t, rec)
	rec = doJSON(t, mux, http.MethodPost, "/api/users", map[string]interface{}{"name": "alice"})
	user := decode[model.User](t, rec)

	// Scope a credential over both.
	devPool := model.NewPool("devs")
	devPool.ID = "pool-devices"
	devPool.ManuallyDefined = true
	userPool := model.NewPool("ops")
	userPool.ID = "pool-users"
	userPool.ManuallyDefined = true
	for _, p := range []*model.Pool{devPool, userPool} {
		if err := store.CreatePool(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.AddPoolMember(devPool.ID, model.KindDevice, device.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.AddPoolMember(userPool.ID, model.KindUser, user.ID); err != nil {
		t.Fatal(err)
	}
	rec = doJSON(t, mux, http.MethodPost, "/api/credentials", map[string]interface{}{
		"name": "netops", "role": "read-only", "username": "automation",
		"device_pool_ids": []string{devPool.ID}, "user_pool_ids": []string{userPool.ID},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("credential create status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/services", map[string]interface{}{
		"name": "backup",
		"netconf": map[string]interface{}{
			"nc_type": "get_config", "target": "running", "xml_conversion": true,
		},
		"target_device_ids": []string{device.ID},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("service create status = %d, body %s", rec.Code, rec.Body.String())
	}
	service := decode[model.Service](t, rec)

	rec = doJSON(t, mux, http.MethodPost,
		"/api/services/"+service.ID+"/run?user="+user.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d, body %s", rec.Code, rec.Body.String())
	}
	report := decode[runner.Report](t, rec)
	if !report.Success {
		t.Errorf("report = %+v", report)
	}
	if result, ok := report.Devices["edge-1"]; !ok || !result.Success {
		t.Errorf("device result = %+v", result)
	}

	// Invalid service spec is rejected at creation.
	rec = doJSON(t, mux, http.MethodPost, "/api/services", map[string]interface{}{
		"name":    "broken",
		"netconf": map[string]interface{}{"nc_type": "get_filtered_config"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid spec status = %d", rec.Code)
	}
}

func TestResolveCredentialEndpoint(t *testing.T) {
	mux, _ := setupAPI(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/devices", map[string]interface{}{"name": "edge-1"})
	if rec.Code != http.StatusCreated {
		t.Fatal(rec.Code)
	}
	rec = doJSON(t, mux, http.MethodPost, "/api/users", map[string]interface{}{"name": "alice"})
	if rec.Code != http.StatusCreated {
		t.Fatal(rec.Code)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/devices/edge-1/credentials?user=alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unscoped resolution status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	mux, _ := setupAPI(t)
	protected := AuthMiddleware("sekrit", mux)

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d", rec.Code)
	}
}
