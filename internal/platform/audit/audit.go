// Package audit records who changed which scheduling entity, and how.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/orsched/orsched/internal/platform/db"
)

// Entry is one audited change. OldValues and NewValues are JSON-encoded
// snapshots of the entity.
type Entry struct {
	ID         uuid.UUID   `json:"id"`
	ActorID    string      `json:"actor_id"`
	Action     string      `json:"action"`
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	OldValues  interface{} `json:"old_values,omitempty"`
	NewValues  interface{} `json:"new_values,omitempty"`
	At         time.Time   `json:"at"`
}

type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, e Entry) error

func (f RecorderFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

func stamp(e *Entry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
}

func encode(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// PGRecorder inserts entries into the audit_log table. Inside a db.WithTx
// call it joins the caller's transaction.
type PGRecorder struct {
	pool *pgxpool.Pool
}

func NewPGRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

func (r *PGRecorder) Record(ctx context.Context, e Entry) error {
	stamp(&e)
	oldJSON, err := encode(e.OldValues)
	if err != nil {
		return fmt.Errorf("encode old values: %w", err)
	}
	newJSON, err := encode(e.NewValues)
	if err != nil {
		return fmt.Errorf("encode new values: %w", err)
	}

	const q = `INSERT INTO audit_log (id, actor_id, action, entity_type, entity_id, old_values, new_values, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	args := []interface{}{e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, oldJSON, newJSON, e.At}
	if tx := db.TxFromContext(ctx); tx != nil {
		_, err = tx.Exec(ctx, q, args...)
	} else {
		_, err = r.pool.Exec(ctx, q, args...)
	}
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// LogRecorder writes entries to a zerolog logger.
type LogRecorder struct {
	Logger zerolog.Logger
}

func (r LogRecorder) Record(_ context.Context, e Entry) error {
	stamp(&e)
	r.Logger.Info().
		Str("audit_id", e.ID.String()).
		Str("actor", e.ActorID).
		Str("action", e.Action).
		Str("entity_type", e.EntityType).
		Str("entity_id", e.EntityID).
		Interface("old", e.OldValues).
		Interface("new", e.NewValues).
		Time("at", e.At).
		Msg("audit")
	return nil
}

// MemoryRecorder keeps entries in memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *MemoryRecorder) Record(_ context.Context, e Entry) error {
	stamp(&e)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// WithAction returns the recorded entries for one action.
func (r *MemoryRecorder) WithAction(action string) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
