package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"klaxon/internal/lifecycle"
	"klaxon/internal/models"
	"klaxon/internal/store"
)

// AlertService is the lifecycle surface the handler needs; the engine
// implements it.
type AlertService interface {
	Acknowledge(ctx context.Context, alertID string) (models.Alert, error)
	Resolve(ctx context.Context, alertID string) (models.Alert, error)
}

// AlertHandler serves alert reads and lifecycle transitions
type AlertHandler struct {
	service AlertService
	alerts  store.AlertStore
}

// NewAlertHandler creates an alert handler
func NewAlertHandler(service AlertService, alerts store.AlertStore) *AlertHandler {
	return &AlertHandler{service: service, alerts: alerts}
}

// Get returns an alert with its delivery records
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.GetAlert(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	writeAlert(w, http.StatusOK, alert)
}

// Acknowledge applies the ACTIVE -> ACKNOWLEDGED transition
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.Acknowledge(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	writeAlert(w, http.StatusOK, alert)
}

// Resolve applies the transition to RESOLVED
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	writeAlert(w, http.StatusOK, alert)
}

// writeTransitionError maps lifecycle and store errors to HTTP statuses:
// unknown alert is 404, an illegal transition is 409, everything else 500.
func writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeAlert(w http.ResponseWriter, status int, alert models.Alert) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"alert":   alert,
	})
}
