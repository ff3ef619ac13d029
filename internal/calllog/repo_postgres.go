package calllog

import (
	"context"
	"database/sql"

	"github.com/goccy/go-json"

	"auralis/pkg/utils"
)

// PostgresRepo stores events in an insert-only call_logs table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	return utils.EnsureSchema(ctx, r.db,
		`CREATE TABLE IF NOT EXISTS call_logs (
			id            TEXT PRIMARY KEY,
			call_id       TEXT NOT NULL,
			type          TEXT NOT NULL,
			actor_user_id TEXT NOT NULL DEFAULT '',
			message       TEXT NOT NULL DEFAULT '',
			data          JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS call_logs_call_idx ON call_logs (call_id, created_at)`,
	)
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	if e.Data == nil {
		data = []byte("{}")
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO call_logs (id, call_id, type, actor_user_id, message, data, created_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
ON CONFLICT (id) DO NOTHING`,
		e.ID, e.CallID, string(e.Type), e.ActorUserID, e.Message, string(data), e.CreatedAt.UTC())
	return err
}

func (r *PostgresRepo) List(ctx context.Context, callID string, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, call_id, type, actor_user_id, message, data, created_at
FROM call_logs WHERE call_id = $1 ORDER BY created_at ASC, id ASC LIMIT $2`, callID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e    Event
			typ  string
			data []byte
		)
		if err := rows.Scan(&e.ID, &e.CallID, &typ, &e.ActorUserID, &e.Message, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
