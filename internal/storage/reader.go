package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the decision_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// DecisionRow represents a single row from the decision_events table.
type DecisionRow struct {
	RequestID     string    `json:"request_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	SessionID     string    `json:"session_id"`
	AgentID       string    `json:"agent_id"`
	ToolName      string    `json:"tool_name"`
	Intent        string    `json:"intent"`
	Verdict       string    `json:"verdict"`
	Reason        string    `json:"reason"`
	GateResults   string    `json:"gate_results"`
	LatencyMS     float64   `json:"latency_ms"`
	Overridden    bool      `json:"overridden"`
	WasteEstimate int64     `json:"waste_estimate"`
}

// ListDecisionsParams holds filters for decision listing.
type ListDecisionsParams struct {
	SessionID *string
	AgentID   *string
	Verdict   *string
	Limit     int
}

// ListDecisions returns the most recent decisions matching the filters,
// newest first.
func (r *Reader) ListDecisions(ctx context.Context, params ListDecisionsParams) ([]DecisionRow, error) {
	var conditions []string
	var args []any

	if params.SessionID != nil {
		conditions = append(conditions, "session_id = @session_id")
		args = append(args, clickhouse.Named("session_id", *params.SessionID))
	}
	if params.AgentID != nil {
		conditions = append(conditions, "agent_id = @agent_id")
		args = append(args, clickhouse.Named("agent_id", *params.AgentID))
	}
	if params.Verdict != nil {
		conditions = append(conditions, "verdict = @verdict")
		args = append(args, clickhouse.Named("verdict", *params.Verdict))
	}

	query := "SELECT request_id, occurred_at, session_id, agent_id, " +
		"tool_name, intent, verdict, reason, " +
		"gate_results, latency_ms, overridden, waste_estimate " +
		"FROM decision_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY occurred_at DESC LIMIT @limit"
	args = append(args, clickhouse.Named("limit", uint32(params.Limit)))

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListDecisions query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []DecisionRow
	for rows.Next() {
		var d DecisionRow
		var overridden uint8
		if err := rows.Scan(
			&d.RequestID, &d.OccurredAt, &d.SessionID, &d.AgentID,
			&d.ToolName, &d.Intent, &d.Verdict, &d.Reason,
			&d.GateResults, &d.LatencyMS, &overridden, &d.WasteEstimate,
		); err != nil {
			return nil, fmt.Errorf("ListDecisions scan: %w", err)
		}
		d.Overridden = overridden == 1
		decisions = append(decisions, d)
	}

	return decisions, rows.Err()
}
