package providers

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mock is a scripted adapter for tests. Results are consumed in order;
// once the script is exhausted the last entry repeats. An empty script
// means every send succeeds.
type Mock struct {
	TypeTag string

	// ConfigErr is returned by ValidateConfig when set
	ConfigErr error

	// Delay, when set, blocks each Send until the context expires or
	// the delay elapses
	Delay <-chan struct{}

	mu     sync.Mutex
	script []error
	sends  atomic.Int64
}

// Script queues the errors successive Send calls return (nil = success)
func (m *Mock) Script(errs ...error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, errs...)
	return m
}

// Sends reports how many Send calls were made
func (m *Mock) Sends() int { return int(m.sends.Load()) }

// Type returns the mock's type tag, defaulting to "mock"
func (m *Mock) Type() string {
	if m.TypeTag == "" {
		return "mock"
	}
	return m.TypeTag
}

// ValidateConfig returns the scripted config error, if any
func (m *Mock) ValidateConfig(cfg map[string]string) error {
	return m.ConfigErr
}

// Send pops the next scripted result
func (m *Mock) Send(ctx context.Context, cfg map[string]string, msg Message) (Result, error) {
	n := m.sends.Add(1)

	if m.Delay != nil {
		select {
		case <-m.Delay:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if len(m.script) > 0 {
		idx := int(n) - 1
		if idx >= len(m.script) {
			idx = len(m.script) - 1
		}
		err = m.script[idx]
	}
	if err != nil {
		return Result{}, err
	}
	return Result{ExternalRef: "mock-ref"}, nil
}

// TestConnection always succeeds
func (m *Mock) TestConnection(ctx context.Context, cfg map[string]string) error {
	return nil
}
