package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is the structured record emitted for violations and blacklist
// escalations. The limiter keeps no history of its own beyond TTL-bound
// counters; durable retention belongs to the collaborator behind the sink.
type Event struct {
	TraceID   string    `json:"trace_id"`
	Key       string    `json:"key"`
	Rule      string    `json:"rule"`
	Path      string    `json:"path"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Sink interface {
	Emit(ctx context.Context, evt Event)
}

type logSink struct {
	logger *logrus.Logger
}

func NewLogSink(logger *logrus.Logger) Sink {
	return &logSink{logger: logger}
}

func (s *logSink) Emit(_ context.Context, evt Event) {
	entry := s.logger.WithFields(logrus.Fields{
		"trace_id": evt.TraceID,
		"key":      evt.Key,
		"rule":     evt.Rule,
		"path":     evt.Path,
		"severity": evt.Severity,
	})
	switch evt.Severity {
	case SeverityCritical:
		entry.Error(evt.Message)
	case SeverityWarning:
		entry.Warn(evt.Message)
	default:
		entry.Info(evt.Message)
	}
}

type multiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) Sink {
	return &multiSink{sinks: sinks}
}

func (s *multiSink) Emit(ctx context.Context, evt Event) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, evt)
	}
}
