package api

import (
	"encoding/json"
	"net/http"

	"github.com/netfabd/netfabd/internal/log"
	"github.com/netfabd/netfabd/internal/model"
)

// listLinks handles GET /api/links
func (h *Handler) listLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.store.ListLinks()
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, links)
}

// getLink handles GET /api/links/{id}
func (h *Handler) getLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.store.GetLink(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "link")
		return
	}
	h.writeJSON(w, http.StatusOK, link)
}

// createLink handles POST /api/links
func (h *Handler) createLink(w http.ResponseWriter, r *http.Request) {
	link := *model.NewLink("", "", "")
	if err := json.NewDecoder(r.Body).Decode(&link); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if link.Name == "" || link.SourceID == "" || link.DestID == "" {
		h.writeError(w, http.StatusBadRequest, "name, source and destination are required")
		return
	}
	if link.ID == "" {
		link.ID = generateID()
	}

	if err := h.store.CreateLink(&link); err != nil {
		h.storageError(w, err, "link")
		return
	}
	if err := h.engine.RefreshEntity(&link); err != nil {
		log.Error("Failed to refresh pools for new link", "link", link.Name, "error", err)
	}
	h.writeJSON(w, http.StatusCreated, link)
}

// updateLink handles PUT /api/links/{id}
func (h *Handler) updateLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.store.GetLink(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "link")
		return
	}
	id, sourceID, destID := link.ID, link.SourceID, link.DestID
	if err := json.NewDecoder(r.Body).Decode(link); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Endpoints are immutable; recreate the link to rewire it.
	link.ID, link.SourceID, link.DestID = id, sourceID, destID

	if err := h.store.UpdateLink(link); err != nil {
		h.storageError(w, err, "link")
		return
	}
	if err := h.engine.RefreshEntity(link); err != nil {
		log.Error("Failed to refresh pools after link update", "link", link.Name, "error", err)
	}
	h.writeJSON(w, http.StatusOK, link)
}

// deleteLink handles DELETE /api/links/{id}
func (h *Handler) deleteLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.store.GetLink(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "link")
		return
	}
	if err := h.store.DeleteLink(link.ID); err != nil {
		h.storageError(w, err, "link")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
