package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/netfabd/netfabd/internal/log"
	"github.com/netfabd/netfabd/internal/model"
)

// listPools handles GET /api/pools
func (h *Handler) listPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.store.ListPools()
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pools)
}

// getPool handles GET /api/pools/{id}
func (h *Handler) getPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.store.GetPool(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "pool")
		return
	}
	h.writeJSON(w, http.StatusOK, pool)
}

// createPool handles POST /api/pools
func (h *Handler) createPool(w http.ResponseWriter, r *http.Request) {
	pool := *model.NewPool("")
	if err := json.NewDecoder(r.Body).Decode(&pool); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if pool.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if pool.Operator != model.OperatorAll && pool.Operator != model.OperatorAny {
		h.writeError(w, http.StatusBadRequest, "operator must be all or any")
		return
	}
	if err := h.validateFilterProperties(&pool); err != "" {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if pool.ID == "" {
		pool.ID = generateID()
	}

	if err := h.engine.Create(&pool); err != nil {
		h.storageError(w, err, "pool")
		return
	}
	created, err := h.store.GetPool(pool.ID)
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// updatePool handles PUT /api/pools/{id}. The update validates the
// filters, stores the definition, recomputes membership and signals
// users whose access may have changed.
func (h *Handler) updatePool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.store.GetPool(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "pool")
		return
	}
	id := pool.ID
	if err := json.NewDecoder(r.Body).Decode(pool); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pool.ID = id
	if err := h.validateFilterProperties(pool); err != "" {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.engine.Update(pool); err != nil {
		log.Warn("Pool update rejected", "pool", pool.Name, "error", err)
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.store.GetPool(pool.ID)
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// deletePool handles DELETE /api/pools/{id}
func (h *Handler) deletePool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.store.GetPool(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "pool")
		return
	}
	if err := h.store.DeletePool(pool.ID); err != nil {
		h.storageError(w, err, "pool")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listPoolMembers handles GET /api/pools/{id}/members/{kind}
func (h *Handler) listPoolMembers(w http.ResponseWriter, r *http.Request) {
	pool, kind, ok := h.poolAndKind(w, r)
	if !ok {
		return
	}
	members, err := h.store.PoolMembers(pool.ID, kind)
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"members": members,
		"count":   len(members),
	})
}

// setPoolMembers handles PUT /api/pools/{id}/members/{kind}. Only
// manually defined pools accept explicit membership.
func (h *Handler) setPoolMembers(w http.ResponseWriter, r *http.Request) {
	pool, kind, ok := h.poolAndKind(w, r)
	if !ok {
		return
	}
	if !pool.ManuallyDefined {
		h.writeError(w, http.StatusConflict, "membership of a computed pool cannot be hand-edited")
		return
	}
	var body struct {
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.store.SetPoolMembers(pool.ID, kind, body.Members); err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"count": len(body.Members)})
}

// addPoolMember handles POST /api/pools/{id}/members/{kind}/{member}.
func (h *Handler) addPoolMember(w http.ResponseWriter, r *http.Request) {
	pool, kind, ok := h.poolAndKind(w, r)
	if !ok {
		return
	}
	if !pool.ManuallyDefined {
		h.writeError(w, http.StatusConflict, "membership of a computed pool cannot be hand-edited")
		return
	}
	if err := h.store.AddPoolMember(pool.ID, kind, r.PathValue("member")); err != nil {
		h.internalError(w, err)
		return
	}
	updated, err := h.store.GetPool(pool.ID)
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// removePoolMember handles DELETE /api/pools/{id}/members/{kind}/{member}.
func (h *Handler) removePoolMember(w http.ResponseWriter, r *http.Request) {
	pool, kind, ok := h.poolAndKind(w, r)
	if !ok {
		return
	}
	if !pool.ManuallyDefined {
		h.writeError(w, http.StatusConflict, "membership of a computed pool cannot be hand-edited")
		return
	}
	if err := h.store.RemovePoolMember(pool.ID, kind, r.PathValue("member")); err != nil {
		h.internalError(w, err)
		return
	}
	updated, err := h.store.GetPool(pool.ID)
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// recomputePool handles POST /api/pools/{id}/recompute
func (h *Handler) recomputePool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.store.GetPool(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "pool")
		return
	}
	if err := h.engine.Compute(pool.ID); err != nil {
		h.internalError(w, err)
		return
	}
	recomputed, err := h.store.GetPool(pool.ID)
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, recomputed)
}

// recomputeAllPools handles POST /api/pools/recompute
func (h *Handler) recomputeAllPools(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ComputeAll(); err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "recomputed"})
}

func (h *Handler) poolAndKind(w http.ResponseWriter, r *http.Request) (*model.Pool, model.Kind, bool) {
	pool, err := h.store.GetPool(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "pool")
		return nil, "", false
	}
	kind := model.Kind(r.PathValue("kind"))
	if !slices.Contains(model.Kinds, kind) {
		h.writeError(w, http.StatusBadRequest, "invalid kind")
		return nil, "", false
	}
	return pool, kind, true
}

// validateFilterProperties rejects filters on unknown properties.
func (h *Handler) validateFilterProperties(pool *model.Pool) string {
	for kind, specs := range pool.Filters {
		if !slices.Contains(model.Kinds, kind) {
			return "unknown kind " + string(kind)
		}
		for property := range specs {
			if !model.IsFilterable(kind, property) {
				return "property " + property + " is not filterable for " + string(kind)
			}
		}
	}
	return ""
}
