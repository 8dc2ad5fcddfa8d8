package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads audit_logs from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const timelineWindowSQL = `
SELECT id, occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR action = $5)
ORDER BY occurred_at DESC, id
OFFSET $6 LIMIT $7`

// TimelineWindow implements Repository.
func (r *PGRepository) TimelineWindow(ctx context.Context, q WindowQuery) ([]TimelineRow, error) {
	actor := pgtype.Int8{}
	if q.ActorID != 0 {
		actor = pgtype.Int8{Int64: q.ActorID, Valid: true}
	}
	rows, err := r.pool.Query(ctx, timelineWindowSQL,
		toPgTime(q.From), toPgTime(q.To), actor, optionalText(q.Entity), optionalText(q.Action), q.Offset, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var (
			id   uuid.UUID
			at   pgtype.Timestamptz
			row  TimelineRow
			meta []byte
		)
		if err := rows.Scan(&id, &at, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, err
		}
		row.ID = id.String()
		if at.Valid {
			row.At = at.Time
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &row.Meta); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
