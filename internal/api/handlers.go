// Package api exposes the inventory, pools, credentials and service
// runs over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/netfabd/netfabd/internal/access"
	"github.com/netfabd/netfabd/internal/log"
	"github.com/netfabd/netfabd/internal/pool"
	"github.com/netfabd/netfabd/internal/runner"
	"github.com/netfabd/netfabd/internal/snmp"
	"github.com/netfabd/netfabd/internal/storage"
	"github.com/netfabd/netfabd/internal/worker"
)

// Handler handles HTTP requests.
type Handler struct {
	store     storage.Store
	engine    *pool.Engine
	resolver  *access.Resolver
	runner    *runner.Runner
	scheduler *worker.Scheduler
	poller    *snmp.Poller
}

// NewHandler creates an API handler over the assembled components.
func NewHandler(store storage.Store, engine *pool.Engine, resolver *access.Resolver, svcRunner *runner.Runner, scheduler *worker.Scheduler, poller *snmp.Poller) *Handler {
	return &Handler{
		store:     store,
		engine:    engine,
		resolver:  resolver,
		runner:    svcRunner,
		scheduler: scheduler,
		poller:    poller,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Device CRUD and device views
	mux.HandleFunc("GET /api/devices", h.listDevices)
	mux.HandleFunc("POST /api/devices", h.createDevice)
	mux.HandleFunc("GET /api/devices/{id}", h.getDevice)
	mux.HandleFunc("PUT /api/devices/{id}", h.updateDevice)
	mux.HandleFunc("DELETE /api/devices/{id}", h.deleteDevice)
	mux.HandleFunc("GET /api/devices/{id}/neighbors", h.getNeighbors)
	mux.HandleFunc("GET /api/devices/{id}/configuration/search", h.searchConfiguration)
	mux.HandleFunc("GET /api/devices/{id}/sessions", h.listDeviceSessions)
	mux.HandleFunc("POST /api/devices/{id}/facts", h.refreshFacts)

	// Link CRUD
	mux.HandleFunc("GET /api/links", h.listLinks)
	mux.HandleFunc("POST /api/links", h.createLink)
	mux.HandleFunc("GET /api/links/{id}", h.getLink)
	mux.HandleFunc("PUT /api/links/{id}", h.updateLink)
	mux.HandleFunc("DELETE /api/links/{id}", h.deleteLink)

	// Pool CRUD and membership
	mux.HandleFunc("GET /api/pools", h.listPools)
	mux.HandleFunc("POST /api/pools", h.createPool)
	mux.HandleFunc("GET /api/pools/{id}", h.getPool)
	mux.HandleFunc("PUT /api/pools/{id}", h.updatePool)
	mux.HandleFunc("DELETE /api/pools/{id}", h.deletePool)
	mux.HandleFunc("GET /api/pools/{id}/members/{kind}", h.listPoolMembers)
	mux.HandleFunc("PUT /api/pools/{id}/members/{kind}", h.setPoolMembers)
	mux.HandleFunc("POST /api/pools/{id}/members/{kind}/{member}", h.addPoolMember)
	mux.HandleFunc("DELETE /api/pools/{id}/members/{kind}/{member}", h.removePoolMember)
	mux.HandleFunc("POST /api/pools/{id}/recompute", h.recomputePool)
	mux.HandleFunc("POST /api/pools/recompute", h.recomputeAllPools)

	// Service CRUD and runs
	mux.HandleFunc("GET /api/services", h.listServices)
	mux.HandleFunc("POST /api/services", h.createService)
	mux.HandleFunc("GET /api/services/{id}", h.getService)
	mux.HandleFunc("PUT /api/services/{id}", h.updateService)
	mux.HandleFunc("DELETE /api/services/{id}", h.deleteService)
	mux.HandleFunc("POST /api/services/{id}/run", h.runService)

	// Users and credentials
	mux.HandleFunc("GET /api/users", h.listUsers)
	mux.HandleFunc("POST /api/users", h.createUser)
	mux.HandleFunc("GET /api/users/{id}", h.getUser)
	mux.HandleFunc("PUT /api/users/{id}", h.updateUser)
	mux.HandleFunc("DELETE /api/users/{id}", h.deleteUser)
	mux.HandleFunc("GET /api/credentials", h.listCredentials)
	mux.HandleFunc("POST /api/credentials", h.createCredential)
	mux.HandleFunc("GET /api/credentials/{id}", h.getCredential)
	mux.HandleFunc("PUT /api/credentials/{id}", h.updateCredential)
	mux.HandleFunc("DELETE /api/credentials/{id}", h.deleteCredential)
	mux.HandleFunc("GET /api/devices/{id}/credentials", h.resolveCredential)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// internalError logs the error and writes a generic 500 response
func (h *Handler) internalError(w http.ResponseWriter, err error) {
	log.Error("Internal server error", "error", err)
	h.writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

// storageError maps the store sentinels onto HTTP statuses.
func (h *Handler) storageError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, storage.ErrConflict):
		h.writeError(w, http.StatusConflict, what+" already exists")
	case errors.Is(err, storage.ErrInvalidID):
		h.writeError(w, http.StatusBadRequest, "invalid "+what+" ID")
	default:
		h.internalError(w, err)
	}
}

// generateID generates a UUIDv7
func generateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// requestUser extracts the acting user from the request. The outer
// authentication layer is expected to have verified it.
func requestUser(r *http.Request) string {
	if user := r.Header.Get("X-User"); user != "" {
		return user
	}
	return r.URL.Query().Get("user")
}
