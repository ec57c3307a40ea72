package models

import (
	"errors"
	"strings"
	"time"
)

// Event is a single observation arriving from a tenant's systems. The
// envelope fields identify and route it; Data carries the structured
// payload that policy rules are evaluated against.
type Event struct {
	// Unique identifier for the event
	ID string `json:"id"`

	// Tenant identifier for multi-tenant support
	TenantID string `json:"tenant_id"`

	// Event type, e.g. "user_login"
	Type string `json:"event_type"`

	// Source system or application that emitted the event
	Source string `json:"source"`

	// Timestamp when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Structured payload; rules address it with dot-paths
	Data map[string]any `json:"data,omitempty"`

	// Optional flat metadata
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validation errors
var (
	ErrEmptyTenantID    = errors.New("tenant ID cannot be empty")
	ErrEmptyEventType   = errors.New("event type cannot be empty")
	ErrZeroTimestamp    = errors.New("timestamp cannot be zero")
	ErrFutureTimestamp  = errors.New("timestamp cannot be in the future")
	ErrInvalidTimestamp = errors.New("invalid timestamp format")
	ErrTooManyDataKeys  = errors.New("too many data keys")
	ErrTooManyMetadata  = errors.New("too many metadata keys")
)

const (
	MaxDataKeys     = 256
	MaxMetadataKeys = 50
)

// Validate checks that the event has all required fields and valid values
func (e *Event) Validate() error {
	if e.TenantID == "" {
		return ErrEmptyTenantID
	}

	if e.Type == "" {
		return ErrEmptyEventType
	}

	if e.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}

	if e.Timestamp.After(time.Now().Add(time.Minute)) {
		return ErrFutureTimestamp
	}

	if len(e.Data) > MaxDataKeys {
		return ErrTooManyDataKeys
	}

	if len(e.Metadata) > MaxMetadataKeys {
		return ErrTooManyMetadata
	}

	return nil
}

// Field resolves a dot-path against the event. The well-known envelope
// names resolve first, then the Data payload (walking nested maps), then
// flat Metadata keys. The second return value reports presence: an
// explicit null in Data is present with a nil value, a missing node is
// absent. Field never returns an error; a path through a non-map value
// is simply absent.
func (e *Event) Field(path string) (any, bool) {
	switch path {
	case "id":
		return e.ID, true
	case "tenant_id":
		return e.TenantID, true
	case "event_type", "type":
		return e.Type, true
	case "source":
		return e.Source, true
	case "timestamp":
		return e.Timestamp, true
	}

	if v, ok := lookupPath(e.Data, path); ok {
		return v, true
	}

	if e.Metadata != nil {
		if v, ok := e.Metadata[path]; ok {
			return v, true
		}
	}

	return nil, false
}

// lookupPath walks a dot-separated path through nested maps
func lookupPath(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}

	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
