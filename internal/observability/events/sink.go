package events

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/adapter/queue"
)

// Event is one structured protocol observation (command dispatched, result
// matched, registration completed, ...).
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Party     string                 `json:"party,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Sink receives protocol events. Implementations must be safe for concurrent
// use and must never block the emitting request path for long.
type Sink interface {
	Emit(event Event)
}

// QueueSink publishes events as JSON to a message queue subject derived from
// the event type ("ocpi.commands.dispatched" etc.).
type QueueSink struct {
	mq     queue.MessageQueue
	prefix string
	log    *zap.Logger
}

func NewQueueSink(mq queue.MessageQueue, prefix string, log *zap.Logger) *QueueSink {
	if prefix == "" {
		prefix = "ocpi"
	}
	return &QueueSink{mq: mq, prefix: prefix, log: log}
}

func (s *QueueSink) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.log.Error("Failed to marshal event", zap.String("type", event.Type), zap.Error(err))
		return
	}
	if err := s.mq.Publish(s.prefix+"."+event.Type, data); err != nil {
		s.log.Warn("Failed to publish event",
			zap.String("type", event.Type),
			zap.Error(err),
		)
	}
}

// NopSink discards events. Used in tests and when no queue is configured.
type NopSink struct{}

func (NopSink) Emit(Event) {}
