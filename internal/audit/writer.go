package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Writer persists events into audit_logs.
type Writer struct {
	pool *pgxpool.Pool
}

// NewWriter returns a new Writer.
func NewWriter(pool *pgxpool.Pool) *Writer {
	return &Writer{pool: pool}
}

// Write persists the event.
func (w *Writer) Write(ctx context.Context, e Event) error {
	if w == nil || w.pool == nil {
		return errors.New("audit writer not initialised")
	}
	if e.Name == "" || e.Entity == "" {
		return errors.New("audit event requires name/entity")
	}
	e = e.normalize()
	metaJSON, err := json.Marshal(eventMeta(e))
	if err != nil {
		return err
	}
	_, err = w.pool.Exec(ctx, `INSERT INTO audit_logs (id, actor_id, action, entity, entity_id, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`, e.ID, e.ActorID, e.Name, e.Entity, e.EntityID, metaJSON, e.At)
	return err
}

// Prune deletes events that occurred before cutoff and returns how many were removed.
func (w *Writer) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if w == nil || w.pool == nil {
		return 0, errors.New("audit writer not initialised")
	}
	tag, err := w.pool.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func eventMeta(e Event) map[string]any {
	meta := map[string]any{}
	if e.Guard != "" {
		meta["guard"] = e.Guard
	}
	if len(e.Roles) > 0 {
		meta["roles"] = e.Roles
	}
	if len(e.Permissions) > 0 {
		meta["permissions"] = e.Permissions
	}
	if e.Reason != "" {
		meta["reason"] = e.Reason
	}
	return meta
}

// DirectSink writes events synchronously through a Writer and logs failures.
type DirectSink struct {
	Writer    EventWriter
	Logger    *slog.Logger
	OnFailure func(sink string)
}

// Record implements Sink.
func (s DirectSink) Record(ctx context.Context, e Event) {
	if err := s.Writer.Write(ctx, e); err != nil {
		logger := s.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("audit write", slog.String("event", e.Name), slog.Any("error", err))
		if s.OnFailure != nil {
			s.OnFailure("direct")
		}
	}
}
