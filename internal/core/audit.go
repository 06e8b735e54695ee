package core

import (
	"context"
	"time"

	"github.com/JonMunkholm/lakeingest/internal/database"
	"github.com/JonMunkholm/lakeingest/internal/logging"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// EvolutionAction is a structural change made to a lake table.
type EvolutionAction string

const (
	ActionCreateTable    EvolutionAction = "create_table"
	ActionAddColumn      EvolutionAction = "add_column"
	ActionPromoteTable   EvolutionAction = "promote_table"
	ActionReconcileBatch EvolutionAction = "reconcile_batch"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow    AuditSeverity = "low"
	SeverityMedium AuditSeverity = "medium"
	SeverityHigh   AuditSeverity = "high"
)

// EvolutionEvent is one schema_evolution_log entry.
type EvolutionEvent struct {
	Action    EvolutionAction `json:"action"`
	Severity  AuditSeverity   `json:"severity"`
	BatchID   string          `json:"batch_id,omitempty"`
	Schema    string          `json:"schema"`
	Table     string          `json:"table"`
	Column    string          `json:"column,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action EvolutionAction) AuditSeverity {
	switch action {
	case ActionPromoteTable, ActionReconcileBatch:
		return SeverityHigh
	case ActionAddColumn:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Recorder persists schema evolution events.
type Recorder interface {
	Record(ctx context.Context, ev EvolutionEvent) error
}

// PgRecorder writes events to schema_evolution_log.
type PgRecorder struct {
	db DBTX
}

// NewPgRecorder returns a Recorder backed by db.
func NewPgRecorder(db DBTX) *PgRecorder {
	return &PgRecorder{db: db}
}

func (r *PgRecorder) Record(ctx context.Context, ev EvolutionEvent) error {
	return database.New(r.db).InsertSchemaEvolution(ctx, database.InsertSchemaEvolutionParams{
		ID:         pgtype.UUID{Bytes: uuid.New(), Valid: true},
		BatchID:    textOrNull(ev.BatchID),
		SchemaName: ev.Schema,
		TableName:  ev.Table,
		ColumnName: textOrNull(ev.Column),
		Action:     string(ev.Action),
		Severity:   string(ev.Severity),
		Detail:     textOrNull(ev.Detail),
		Actor:      textOrNull(ev.Actor),
	})
}

// audit fills the context-derived fields of ev, logs it and records it.
// A failed audit write is logged and swallowed: the change it describes
// has already happened and must not be reported as a failed ingestion.
func audit(ctx context.Context, rec Recorder, ev EvolutionEvent) {
	ev.Severity = determineSeverity(ev.Action)
	if ev.BatchID == "" {
		ev.BatchID = BatchIDFromContext(ctx)
	}
	if ev.Actor == "" {
		ev.Actor = ActorFromContext(ctx)
	}
	ev.CreatedAt = time.Now()

	log := logging.FromContext(ctx)
	log.Info("schema evolution",
		"action", ev.Action,
		"table", ev.Schema+"."+ev.Table,
		"column", ev.Column,
		"severity", ev.Severity,
	)

	if rec == nil {
		return
	}
	if err := rec.Record(ctx, ev); err != nil {
		log.Error("failed to record schema evolution", "action", ev.Action, "table", ev.Table, "error", err)
	}
}

func textOrNull(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
