// Package escalate carries the advisory signals the orchestrator emits
// when automatic elimination is not keeping pace with detection.
//
// Escalation never blocks or alters the loop: signals are collected during
// a cycle and drained synchronously through the configured sinks at the
// end of it.
package escalate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/frictiond/internal/friction"
)

// Reason classifies why a signal was raised.
type Reason string

const (
	// ReasonLowScore fires when the flow score drops below the configured
	// escalation threshold.
	ReasonLowScore Reason = "flow_score_below_threshold"

	// ReasonRepeatedFailures fires when a category accumulates enough
	// consecutive failed eliminations.
	ReasonRepeatedFailures Reason = "repeated_elimination_failures"
)

// Signal is one advisory escalation event.
type Signal struct {
	Reason       Reason            `json:"reason"`
	Category     friction.Category `json:"category,omitempty"`
	Score        float64           `json:"score,omitempty"`
	FailureCount int               `json:"failure_count,omitempty"`
	RaisedAt     time.Time         `json:"raised_at"`
}

// Sink receives escalation signals. Sinks must not block the caller for
// long; errors are logged by the orchestrator and never fail the cycle.
type Sink interface {
	Escalate(ctx context.Context, sig Signal) error
}

// LogSink writes signals to the structured log. It is the minimum sink
// every deployment carries.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Escalate logs the signal at warn level.
func (s *LogSink) Escalate(ctx context.Context, sig Signal) error {
	s.logger.Warn("friction escalation",
		zap.String("reason", string(sig.Reason)),
		zap.String("category", string(sig.Category)),
		zap.Float64("score", sig.Score),
		zap.Int("failure_count", sig.FailureCount),
	)
	return nil
}

// NATSSink publishes signals to a NATS subject per category. The
// connection is optional: a nil conn makes every publish a no-op, so the
// daemon runs fine without a broker.
type NATSSink struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        *zap.Logger
}

// NewNATSSink creates a NATS-backed sink. subjectPrefix defaults to
// "frictiond.escalations".
func NewNATSSink(conn *nats.Conn, subjectPrefix string, logger *zap.Logger) *NATSSink {
	if subjectPrefix == "" {
		subjectPrefix = "frictiond.escalations"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSink{conn: conn, subjectPrefix: subjectPrefix, logger: logger}
}

// Escalate publishes the JSON-encoded signal.
func (s *NATSSink) Escalate(ctx context.Context, sig Signal) error {
	if s.conn == nil {
		return nil
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encoding escalation: %w", err)
	}
	subject := s.subjectPrefix
	if sig.Category != "" {
		subject += "." + string(sig.Category)
	}
	if err := s.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing escalation to %s: %w", subject, err)
	}
	s.logger.Debug("escalation published", zap.String("subject", subject))
	return nil
}
