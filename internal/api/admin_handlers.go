package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/netfabd/netfabd/internal/access"
	"github.com/netfabd/netfabd/internal/log"
	"github.com/netfabd/netfabd/internal/model"
)

// listUsers handles GET /api/users
func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, users)
}

// getUser handles GET /api/users/{id}
func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "user")
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

// createUser handles POST /api/users
func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var user model.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if user.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if user.ID == "" {
		user.ID = generateID()
	}
	hashed, err := access.HashPassword(user.Password)
	if err != nil {
		h.internalError(w, err)
		return
	}
	user.Password = hashed
	if err := h.store.CreateUser(&user); err != nil {
		h.storageError(w, err, "user")
		return
	}
	if err := h.engine.RefreshEntity(&user); err != nil {
		log.Error("Failed to refresh pools for new user", "user", user.Name, "error", err)
	}
	h.writeJSON(w, http.StatusCreated, user)
}

// updateUser handles PUT /api/users/{id}
func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "user")
		return
	}
	id := user.ID
	if err := json.NewDecoder(r.Body).Decode(user); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user.ID = id
	// Already hashed values pass through, so a round-tripped record
	// never gets double-hashed.
	hashed, err := access.HashPassword(user.Password)
	if err != nil {
		h.internalError(w, err)
		return
	}
	user.Password = hashed
	if err := h.store.UpdateUser(user); err != nil {
		h.storageError(w, err, "user")
		return
	}
	if err := h.engine.RefreshEntity(user); err != nil {
		log.Error("Failed to refresh pools after user update", "user", user.Name, "error", err)
	}
	h.writeJSON(w, http.StatusOK, user)
}

// deleteUser handles DELETE /api/users/{id}
func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "user")
		return
	}
	if err := h.store.DeleteUser(user.ID); err != nil {
		h.storageError(w, err, "user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listCredentials handles GET /api/credentials.
func (h *Handler) listCredentials(w http.ResponseWriter, r *http.Request) {
	credentials, err := h.store.ListCredentials()
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, credentials)
}

// getCredential handles GET /api/credentials/{id}
func (h *Handler) getCredential(w http.ResponseWriter, r *http.Request) {
	credential, err := h.store.GetCredential(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "credential")
		return
	}
	h.writeJSON(w, http.StatusOK, credential)
}

// createCredential handles POST /api/credentials
func (h *Handler) createCredential(w http.ResponseWriter, r *http.Request) {
	credential := *model.NewCredential("")
	if err := json.NewDecoder(r.Body).Decode(&credential); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if credential.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if credential.Role != model.RoleReadOnly && credential.Role != model.RoleReadWrite {
		h.writeError(w, http.StatusBadRequest, "role must be read-only or read-write")
		return
	}
	if credential.ID == "" {
		credential.ID = generateID()
	}
	if err := h.store.CreateCredential(&credential); err != nil {
		h.storageError(w, err, "credential")
		return
	}
	h.writeJSON(w, http.StatusCreated, credential)
}

// updateCredential handles PUT /api/credentials/{id}
func (h *Handler) updateCredential(w http.ResponseWriter, r *http.Request) {
	credential, err := h.store.GetCredential(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "credential")
		return
	}
	id := credential.ID
	if err := json.NewDecoder(r.Body).Decode(credential); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	credential.ID = id
	if err := h.store.UpdateCredential(credential); err != nil {
		h.storageError(w, err, "credential")
		return
	}
	h.writeJSON(w, http.StatusOK, credential)
}

// deleteCredential handles DELETE /api/credentials/{id}
func (h *Handler) deleteCredential(w http.ResponseWriter, r *http.Request) {
	credential, err := h.store.GetCredential(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "credential")
		return
	}
	if err := h.store.DeleteCredential(credential.ID); err != nil {
		h.storageError(w, err, "credential")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolveCredential handles GET /api/devices/{id}/credentials.
// Query parameters: user (required), role.
func (h *Handler) resolveCredential(w http.ResponseWriter, r *http.Request) {
	device, err := h.store.GetDevice(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "device")
		return
	}
	userKey := requestUser(r)
	if userKey == "" {
		h.writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	user, err := h.store.GetUser(userKey)
	if err != nil {
		h.storageError(w, err, "user")
		return
	}
	role := r.URL.Query().Get("role")
	if role == "" {
		role = model.RoleAny
	}

	credential, err := h.resolver.GetCredentials(device, role, user.ID)
	if err != nil {
		if errors.Is(err, access.ErrNoCredentials) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, credential)
}
