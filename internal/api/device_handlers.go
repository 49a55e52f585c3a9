package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/netfabd/netfabd/internal/log"
	"github.com/netfabd/netfabd/internal/model"
	"github.com/netfabd/netfabd/internal/topology"
)

// listDevices handles GET /api/devices
func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.store.ListDevices()
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, devices)
}

// getDevice handles GET /api/devices/{id}
func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	device, err := h.store.GetDevice(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "device")
		return
	}
	h.writeJSON(w, http.StatusOK, device)
}

// createDevice handles POST /api/devices
func (h *Handler) createDevice(w http.ResponseWriter, r *http.Request) {
	defaults := model.NewDevice("")
	device := *defaults
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if device.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if device.ID == "" {
		device.ID = generateID()
	}

	if err := h.store.CreateDevice(&device); err != nil {
		h.storageError(w, err, "device")
		return
	}
	if err := h.engine.RefreshEntity(&device); err != nil {
		log.Error("Failed to refresh pools for new device", "device", device.Name, "error", err)
	}
	h.writeJSON(w, http.StatusCreated, device)
}

// updateDevice handles PUT /api/devices/{id}
func (h *Handler) updateDevice(w http.ResponseWriter, r *http.Request) {
	device, err := h.store.GetDevice(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "device")
		return
	}
	id := device.ID
	if err := json.NewDecoder(r.Body).Decode(device); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	device.ID = id

	if err := h.store.UpdateDevice(device); err != nil {
		h.storageError(w, err, "device")
		return
	}
	if err := h.engine.RefreshEntity(device); err != nil {
		log.Error("Failed to refresh pools after device update", "device", device.Name, "error", err)
	}
	h.writeJSON(w, http.StatusOK, device)
}

// deleteDevice handles DELETE /api/devices/{id}
func (h *Handler) deleteDevice(w http.ResponseWriter, r *http.Request) {
	device, err := h.store.GetDevice(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "device")
		return
	}
	if err := h.store.DeleteDevice(device.ID); err != nil {
		h.storageError(w, err, "device")
		return
	}
	log.Info("Deleted device", "device", device.Name)
	w.WriteHeader(http.StatusNoContent)
}

// getNeighbors handles GET /api/devices/{id}/neighbors.
// Query parameters: kind (device|link), direction (source|destination|
// both), plus any link property as an equality filter.
func (h *Handler) getNeighbors(w http.ResponseWriter, r *http.Request) {
	device, err := h.store.GetDevice(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "device")
		return
	}

	direction := topology.Direction(r.URL.Query().Get("direction"))
	if direction == "" {
		direction = topology.DirectionBoth
	}
	switch direction {
	case topology.DirectionSource, topology.DirectionDestination, topology.DirectionBoth:
	default:
		h.writeError(w, http.StatusBadRequest, "invalid direction")
		return
	}

	linkFilters := map[string]string{}
	for _, descriptor := range model.FilterableProperties(model.KindLink) {
		if value := r.URL.Query().Get(descriptor.Name); value != "" {
			linkFilters[descriptor.Name] = value
		}
	}

	if r.URL.Query().Get("kind") == string(model.KindLink) {
		links, err := topology.NeighborLinks(h.store, device, direction, linkFilters)
		if err != nil {
			h.internalError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, links)
		return
	}

	neighbors, err := topology.NeighborDevices(h.store, device, direction, linkFilters)
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, neighbors)
}

// searchConfiguration handles GET /api/devices/{id}/configuration/search.
// Query parameters: q, mode (substring|regex), window, format (raw|html).
func (h *Handler) searchConfiguration(w http.ResponseWriter, r *http.Request) {
	device, err := h.store.GetDevice(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "device")
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	mode := topology.SearchMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = topology.SearchSubstring
	}
	window := 0
	if value := r.URL.Query().Get("window"); value != "" {
		window, err = strconv.Atoi(value)
		if err != nil || window < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid context window")
			return
		}
	}

	if r.URL.Query().Get("format") == "html" {
		blocks, err := topology.SearchBlocks(device.Configuration, query, mode, window)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"blocks": blocks})
		return
	}

	matches, err := topology.SearchLines(device.Configuration, query, mode, window)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"matches": topology.RawResults(matches),
	})
}

// listDeviceSessions handles GET /api/devices/{id}/sessions
func (h *Handler) listDeviceSessions(w http.ResponseWriter, r *http.Request) {
	device, err := h.store.GetDevice(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "device")
		return
	}
	sessions, err := h.store.ListDeviceSessions(device.ID)
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessions)
}

// refreshFacts handles POST /api/devices/{id}/facts
func (h *Handler) refreshFacts(w http.ResponseWriter, r *http.Request) {
	device, err := h.store.GetDevice(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "device")
		return
	}
	if err := h.poller.Refresh(h.store, device); err != nil {
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, device)
}
