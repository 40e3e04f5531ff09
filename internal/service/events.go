package service

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	subjectEssayEvaluated = "essay.evaluated"
	subjectRunCompleted   = "run.completed"
)

// EventPublisher delivers pipeline events to a message bus.
type EventPublisher interface {
	Publish(subject string, data []byte) error
}

// NewNATSPublisher returns a publisher backed by conn, or nil when conn is nil.
func NewNATSPublisher(conn *nats.Conn) EventPublisher {
	if conn == nil {
		return nil
	}
	return conn
}

// EssayEvaluatedEvent is emitted once per persisted essay result.
type EssayEvaluatedEvent struct {
	RunID                uint      `json:"run_id"`
	ResultID             uint      `json:"result_id"`
	Filename             string    `json:"filename"`
	Status               string    `json:"status"`
	TotalScore           float64   `json:"total_score"`
	PlagiarismDetected   bool      `json:"plagiarism_detected"`
	SimilarityPercentage float64   `json:"similarity_percentage"`
	EvaluatedAt          time.Time `json:"evaluated_at"`
}

// RunCompletedEvent is emitted after a batch finishes.
type RunCompletedEvent struct {
	RunID       uint      `json:"run_id"`
	Evaluated   int       `json:"evaluated"`
	Failed      int       `json:"failed"`
	Detected    int       `json:"plagiarism_detected"`
	CompletedAt time.Time `json:"completed_at"`
}

type eventBus struct {
	publisher EventPublisher
	prefix    string
	logger    zerolog.Logger
}

func newEventBus(publisher EventPublisher, prefix string, logger zerolog.Logger) eventBus {
	prefix = strings.Trim(strings.ReplaceAll(strings.TrimSpace(prefix), ":", "."), ".")
	return eventBus{publisher: publisher, prefix: prefix, logger: logger}
}

func (b eventBus) subject(name string) string {
	if b.prefix == "" {
		return name
	}
	return b.prefix + "." + name
}

// emit never fails the caller; delivery problems are logged.
func (b eventBus) emit(name string, event interface{}) {
	if b.publisher == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn().Err(err).Str("subject", name).Msg("failed to encode event")
		return
	}
	subject := b.subject(name)
	if err := b.publisher.Publish(subject, payload); err != nil {
		b.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}
