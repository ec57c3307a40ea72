package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"klaxon/internal/models"
)

// Registry errors
var (
	ErrUnknownProviderType = errors.New("unknown provider type")
	ErrMissingConfigKey    = errors.New("missing required config key")
)

// Message is the rendered notification handed to an adapter
type Message struct {
	Text     string
	Summary  string
	Severity models.Severity

	// Flat context for providers that support it (dedup keys, links)
	Metadata map[string]string
}

// Result is the outcome of a successful send
type Result struct {
	// Provider-assigned reference for the delivered notification
	ExternalRef string
}

// Adapter is the uniform contract every destination channel implements.
// Adapters are stateless per-type singletons; the provider's config blob
// is passed on every call so one adapter serves every provider of its
// type.
type Adapter interface {
	Type() string
	ValidateConfig(cfg map[string]string) error
	Send(ctx context.Context, cfg map[string]string, msg Message) (Result, error)
	TestConnection(ctx context.Context, cfg map[string]string) error
}

// PermanentError marks a delivery failure that must not be retried:
// authentication rejection, malformed target, invalid payload. Checked
// with errors.As via IsPermanent.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps an error as non-retryable
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether a delivery error is non-retryable
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Registry maps provider type tags to their adapters. Adding a provider
// type means implementing Adapter and registering it here; the dispatch
// coordinator never changes.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its type tag, replacing any previous one
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Type()] = a
}

// Get resolves a type tag to its adapter
func (r *Registry) Get(typeTag string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[typeTag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProviderType, typeTag)
	}
	return a, nil
}

// Types returns the registered type tags, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry returns a registry with every built-in adapter. The
// HTTP-backed adapters share the given client; pass nil for a client
// with a sane default timeout.
func DefaultRegistry(client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	r := NewRegistry()
	r.Register(NewWebhook(client))
	r.Register(NewSlack(client))
	r.Register(NewPagerDuty(client))
	r.Register(NewEmail())
	return r
}

// requireKeys checks that every named key is present and non-empty
func requireKeys(cfg map[string]string, keys ...string) error {
	for _, k := range keys {
		if cfg[k] == "" {
			return fmt.Errorf("%w: %s", ErrMissingConfigKey, k)
		}
	}
	return nil
}
