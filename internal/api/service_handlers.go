package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/netfabd/netfabd/internal/log"
	"github.com/netfabd/netfabd/internal/model"
	"github.com/netfabd/netfabd/internal/netconf"
)

// listServices handles GET /api/services
func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.store.ListServices()
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, services)
}

// getService handles GET /api/services/{id}
func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	service, err := h.store.GetService(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "service")
		return
	}
	h.writeJSON(w, http.StatusOK, service)
}

// createService handles POST /api/services
func (h *Handler) createService(w http.ResponseWriter, r *http.Request) {
	service := *model.NewService("")
	if err := json.NewDecoder(r.Body).Decode(&service); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if service.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := netconf.Validate(&service.Netconf); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if service.ID == "" {
		service.ID = generateID()
	}

	if err := h.store.CreateService(&service); err != nil {
		h.storageError(w, err, "service")
		return
	}
	if err := h.engine.RefreshEntity(&service); err != nil {
		log.Error("Failed to refresh pools for new service", "service", service.Name, "error", err)
	}
	h.scheduleService(&service)
	h.writeJSON(w, http.StatusCreated, service)
}

// updateService handles PUT /api/services/{id}
func (h *Handler) updateService(w http.ResponseWriter, r *http.Request) {
	service, err := h.store.GetService(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "service")
		return
	}
	id := service.ID
	if err := json.NewDecoder(r.Body).Decode(service); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	service.ID = id
	if err := netconf.Validate(&service.Netconf); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.UpdateService(service); err != nil {
		h.storageError(w, err, "service")
		return
	}
	if err := h.engine.RefreshEntity(service); err != nil {
		log.Error("Failed to refresh pools after service update", "service", service.Name, "error", err)
	}
	h.scheduleService(service)
	h.writeJSON(w, http.StatusOK, service)
}

// deleteService handles DELETE /api/services/{id}
func (h *Handler) deleteService(w http.ResponseWriter, r *http.Request) {
	service, err := h.store.GetService(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "service")
		return
	}
	if err := h.store.DeleteService(service.ID); err != nil {
		h.storageError(w, err, "service")
		return
	}
	if h.scheduler != nil {
		h.scheduler.Unschedule(service.ID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// runService handles POST /api/services/{id}/run
func (h *Handler) runService(w http.ResponseWriter, r *http.Request) {
	service, err := h.store.GetService(r.PathValue("id"))
	if err != nil {
		h.storageError(w, err, "service")
		return
	}
	user := requestUser(r)
	if user == "" {
		h.writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	report, err := h.runner.Run(r.Context(), service, user)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// scheduleService registers or clears the service's cron trigger.
func (h *Handler) scheduleService(service *model.Service) {
	if h.scheduler == nil {
		return
	}
	serviceID := service.ID
	err := h.scheduler.Schedule(serviceID, service.CronSchedule, func() {
		scheduled, err := h.store.GetService(serviceID)
		if err != nil {
			log.Error("Scheduled service vanished", "service_id", serviceID, "error", err)
			return
		}
		report, err := h.runner.Run(context.Background(), scheduled, "scheduler")
		if err != nil {
			log.Error("Scheduled run failed", "service", scheduled.Name, "error", err)
			return
		}
		log.Info("Scheduled run finished", "service", scheduled.Name, "success", report.Success)
	})
	if err != nil {
		log.Warn("Failed to schedule service",
			"service", service.Name, "cron", service.CronSchedule, "error", err)
	}
}
