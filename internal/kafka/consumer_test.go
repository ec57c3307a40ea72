package kafka

import (
	"errors"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klaxon/internal/logger"
	"klaxon/internal/models"
	"klaxon/internal/worker"
)

// stubSink records submitted events and can be scripted to fail
type stubSink struct {
	mu     sync.Mutex
	events []*models.Event
	err    error
}

func (s *stubSink) Submit(event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *stubSink) submitted() []*models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

func newTestConsumer(sink Sink) *Consumer {
	return &Consumer{
		sink: sink,
		log:  logger.WithComponent("kafka_consumer"),
	}
}

func TestHandleMessageSubmitsDecodedEvent(t *testing.T) {
	sink := &stubSink{}
	c := newTestConsumer(sink)

	payload := `{
		"id": "evt-1",
		"tenant_id": "acme",
		"event_type": "user_login",
		"source": "auth-svc",
		"timestamp": "2024-03-11T12:00:00Z",
		"data": {"outcome": "failure", "attempts": 3}
	}`
	err := c.handleMessage(kafkago.Message{Value: []byte(payload)})
	require.NoError(t, err)

	events := sink.submitted()
	require.Len(t, events, 1)
	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, "acme", events[0].TenantID)
	assert.Equal(t, "user_login", events[0].Type)
	assert.Equal(t, "failure", events[0].Data["outcome"])
}

func TestHandleMessageDropsMalformedPayload(t *testing.T) {
	sink := &stubSink{}
	c := newTestConsumer(sink)

	for _, payload := range []string{
		`{"id": "evt-1"`,
		`not json at all`,
		`[1, 2, 3]`,
	} {
		err := c.handleMessage(kafkago.Message{Value: []byte(payload), Offset: 42})
		assert.NoError(t, err, "payload %q should be skipped, not fatal", payload)
	}
	assert.Empty(t, sink.submitted())
}

func TestHandleMessageDropsOnQueueFull(t *testing.T) {
	sink := &stubSink{err: worker.ErrQueueFull}
	c := newTestConsumer(sink)

	err := c.handleMessage(kafkago.Message{Value: []byte(`{"id": "evt-1"}`)})
	assert.NoError(t, err)
	assert.Empty(t, sink.submitted())
}

func TestHandleMessageFatalSinkError(t *testing.T) {
	sinkErr := errors.New("sink closed")
	sink := &stubSink{err: sinkErr}
	c := newTestConsumer(sink)

	err := c.handleMessage(kafkago.Message{Value: []byte(`{"id": "evt-1"}`)})
	assert.ErrorIs(t, err, sinkErr)
}
