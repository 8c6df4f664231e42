package storage

import (
	"time"

	"go.uber.org/zap"
)

// Writer is the interface for persisting decision events.
// Write() must NEVER block the caller.
type Writer interface {
	Write(event DecisionEvent)
	Close() error
}

// DecisionEvent represents a single evaluated tool call to be persisted.
type DecisionEvent struct {
	RequestID     string
	OccurredAt    time.Time
	SessionID     string
	AgentID       string
	ToolName      string
	Intent        string
	Verdict       string
	Reason        string
	GateResults   string // JSON array of per-gate annotations
	LatencyMS     float64
	Overridden    bool
	WasteEstimate int64
}

// LogWriter is a fallback Writer for local development.
// It logs events as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event DecisionEvent) {
	w.logger.Info("decision_event",
		zap.String("request_id", event.RequestID),
		zap.String("session_id", event.SessionID),
		zap.String("agent_id", event.AgentID),
		zap.String("tool_name", event.ToolName),
		zap.String("intent", event.Intent),
		zap.String("verdict", event.Verdict),
		zap.String("reason", event.Reason),
		zap.Float64("latency_ms", event.LatencyMS),
		zap.Bool("overridden", event.Overridden),
		zap.Int64("waste_estimate", event.WasteEstimate),
	)
}

func (w *LogWriter) Close() error { return nil }
