package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"klaxon/internal/models"
	"klaxon/internal/worker"
)

// Sink receives validated events; the worker pool implements it
type Sink interface {
	Submit(event *models.Event) error
}

// IngestHandler accepts events over HTTP and feeds them to the
// evaluation pool. Evaluation is asynchronous: a 200 means the event
// was queued, not that any alert fired.
type IngestHandler struct {
	sink Sink

	// Max body size (default 10MB)
	maxBodySize int64
}

// IngestConfig holds configuration for the ingest handler
type IngestConfig struct {
	Sink        Sink
	MaxBodySize int64
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(cfg IngestConfig) *IngestHandler {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 10 * 1024 * 1024 // 10MB default
	}

	return &IngestHandler{
		sink:        cfg.Sink,
		maxBodySize: maxBodySize,
	}
}

// IngestRequest represents the incoming JSON payload (single or batch)
type IngestRequest struct {
	// Single event (if Events is empty)
	Event *EventInput `json:"event,omitempty"`

	// Batch of events
	Events []EventInput `json:"events,omitempty"`
}

// EventInput is the input format for events (with string timestamp)
type EventInput struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	EventType string            `json:"event_type"`
	Source    string            `json:"source"`
	Timestamp string            `json:"timestamp,omitempty"` // String for flexible parsing
	Data      map[string]any    `json:"data,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IngestResponse is the response returned to clients
type IngestResponse struct {
	Success  bool          `json:"success"`
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Errors   []IngestError `json:"errors,omitempty"`
}

// IngestError describes a validation error for a specific event
type IngestError struct {
	Index   int    `json:"index"`
	EventID string `json:"event_id,omitempty"`
	Error   string `json:"error"`
}

// ServeHTTP handles the ingest HTTP request
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "" {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	events, err := h.parseBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "no events provided")
		return
	}

	response := h.submitEvents(events)

	w.Header().Set("Content-Type", "application/json")
	if response.Rejected > 0 && response.Accepted == 0 {
		w.WriteHeader(http.StatusBadRequest)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// parseBody parses the JSON body into a slice of EventInput
func (h *IngestHandler) parseBody(body []byte) ([]EventInput, error) {
	// Try parsing as IngestRequest first
	var req IngestRequest
	if err := json.Unmarshal(body, &req); err == nil {
		if len(req.Events) > 0 {
			return req.Events, nil
		}
		if req.Event != nil {
			return []EventInput{*req.Event}, nil
		}
	}

	// Try parsing as array of events
	var events []EventInput
	if err := json.Unmarshal(body, &events); err == nil && len(events) > 0 {
		return events, nil
	}

	// Try parsing as single event
	var single EventInput
	if err := json.Unmarshal(body, &single); err == nil && single.EventType != "" {
		return []EventInput{single}, nil
	}

	return nil, fmt.Errorf("invalid JSON format: expected event object or array of events")
}

// submitEvents validates, normalizes, and pushes events to the pool
func (h *IngestHandler) submitEvents(inputs []EventInput) IngestResponse {
	response := IngestResponse{
		Success: true,
		Errors:  make([]IngestError, 0),
	}

	for i, input := range inputs {
		event, err := h.convertInput(input)
		if err != nil {
			response.Errors = append(response.Errors, IngestError{
				Index:   i,
				EventID: input.ID,
				Error:   err.Error(),
			})
			response.Rejected++
			continue
		}

		event.Normalize()

		if err := event.Validate(); err != nil {
			response.Errors = append(response.Errors, IngestError{
				Index:   i,
				EventID: event.ID,
				Error:   err.Error(),
			})
			response.Rejected++
			continue
		}

		if err := h.sink.Submit(event); err != nil {
			msg := err.Error()
			if errors.Is(err, worker.ErrQueueFull) {
				msg = "internal queue full, try again later"
			}
			response.Errors = append(response.Errors, IngestError{
				Index:   i,
				EventID: event.ID,
				Error:   msg,
			})
			response.Rejected++
			continue
		}
		response.Accepted++
	}

	response.Success = response.Rejected == 0
	return response
}

// convertInput converts EventInput to a models.Event
func (h *IngestHandler) convertInput(input EventInput) (*models.Event, error) {
	event := &models.Event{
		ID:       input.ID,
		TenantID: input.TenantID,
		Type:     input.EventType,
		Source:   input.Source,
		Data:     input.Data,
		Metadata: input.Metadata,
	}

	// Absent timestamps default to now during normalization
	if input.Timestamp != "" {
		ts, err := models.ParseTimestamp(input.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("timestamp: %w", err)
		}
		event.Timestamp = ts
	}
	return event, nil
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
