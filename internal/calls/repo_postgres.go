package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"auralis/pkg/utils"
)

// PostgresBackend stores each call record as a JSONB document. Merges use
// the jsonb || operator so only the keys present in a write are replaced;
// the nested recording object is merged one level deeper. createdAt is
// written by the insert and kept by every later upsert.
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS call_records (
		call_id    TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS call_records_twilio_sid_idx ON call_records ((doc->>'twilioCallSid'))`,
	`CREATE INDEX IF NOT EXISTS call_records_elevenlabs_id_idx ON call_records ((doc->>'elevenlabsCallId'))`,
	`CREATE INDEX IF NOT EXISTS call_records_created_at_idx ON call_records (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS call_messages (
		call_id    TEXT NOT NULL,
		message_id TEXT NOT NULL,
		doc        JSONB NOT NULL,
		ts         TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (call_id, message_id)
	)`,
}

// Migrate creates the tables and indexes if they do not exist.
func (p *PostgresBackend) Migrate(ctx context.Context) error {
	return utils.EnsureSchema(ctx, p.db, postgresSchema...)
}

// mergeDocExpr merges the incoming document ($2) into the stored one.
const mergeDocExpr = `call_records.doc || $2::jsonb || CASE WHEN $2::jsonb ? 'recording'
	THEN jsonb_build_object('recording', COALESCE(call_records.doc->'recording', '{}'::jsonb) || ($2::jsonb->'recording'))
	ELSE '{}'::jsonb END`

const upsertRecordSQL = `
INSERT INTO call_records (call_id, doc, created_at, updated_at)
VALUES ($1, $2::jsonb, $3, $4)
ON CONFLICT (call_id) DO UPDATE SET
	doc = ` + mergeDocExpr + ` || CASE WHEN call_records.doc ? 'createdAt'
		THEN jsonb_build_object('createdAt', call_records.doc->'createdAt')
		ELSE '{}'::jsonb END,
	created_at = call_records.created_at,
	updated_at = EXCLUDED.updated_at`

const updateRecordSQL = `
UPDATE call_records SET
	doc = ` + mergeDocExpr + `,
	updated_at = $3
WHERE call_id = $1`

func (p *PostgresBackend) MergeRecord(ctx context.Context, rec CallRecord) error {
	return p.merge(ctx, p.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *PostgresBackend) merge(ctx context.Context, db execer, rec CallRecord) error {
	doc, err := json.Marshal(rec.Fields())
	if err != nil {
		return err
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	_, err = db.ExecContext(ctx, upsertRecordSQL, rec.CallID, string(doc), created, updated)
	return err
}

func (p *PostgresBackend) UpdateRecord(ctx context.Context, callID string, partial CallRecord) error {
	return p.update(ctx, p.db, callID, partial)
}

func (p *PostgresBackend) update(ctx context.Context, db execer, callID string, partial CallRecord) error {
	partial.CallID = ""
	partial.CreatedAt = time.Time{}
	doc, err := json.Marshal(partial.Fields())
	if err != nil {
		return err
	}
	updated := partial.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx, updateRecordSQL, callID, string(doc), updated)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyRecord locks the row for the length of a transaction so concurrent
// appliers see each other's writes.
func (p *PostgresBackend) ApplyRecord(ctx context.Context, callID string, fn ApplyFunc) (*CallRecord, bool, error) {
	var (
		out   *CallRecord
		wrote bool
	)
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var doc []byte
		err := tx.QueryRowContext(ctx, `SELECT doc FROM call_records WHERE call_id = $1 FOR UPDATE`, callID).Scan(&doc)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decodeRecord(doc)
		if err != nil {
			return err
		}
		if cur.CallID == "" {
			cur.CallID = callID
		}

		patch, write := fn(*cur)
		if write {
			if err := p.update(ctx, tx, callID, patch); err != nil {
				return err
			}
			patch.CallID = ""
			patch.CreatedAt = time.Time{}
			Merge(cur, patch)
		}
		out, wrote = cur, write
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, wrote, nil
}

func (p *PostgresBackend) GetRecord(ctx context.Context, callID string) (*CallRecord, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM call_records WHERE call_id = $1`, callID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(doc)
}

func (p *PostgresBackend) FindByField(ctx context.Context, field, value string) (*CallRecord, error) {
	var q string
	switch field {
	case FieldTwilioCallSid:
		q = `SELECT doc FROM call_records WHERE doc->>'twilioCallSid' = $1 LIMIT 1`
	case FieldElevenLabsCallID:
		q = `SELECT doc FROM call_records WHERE doc->>'elevenlabsCallId' = $1 LIMIT 1`
	default:
		return nil, fmt.Errorf("calls: unsupported lookup field %q", field)
	}
	var doc []byte
	err := p.db.QueryRowContext(ctx, q, value).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(doc)
}

func (p *PostgresBackend) ListRecords(ctx context.Context, limit int, since time.Time) ([]CallRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT doc FROM call_records WHERE created_at >= $1 ORDER BY created_at DESC, call_id DESC LIMIT $2`,
		since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallRecord, 0, limit)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (p *PostgresBackend) MergeRecords(ctx context.Context, recs []CallRecord) error {
	return utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, rec := range recs {
			if err := p.merge(ctx, tx, rec); err != nil {
				return fmt.Errorf("merge %s: %w", rec.CallID, err)
			}
		}
		return nil
	})
}

func (p *PostgresBackend) PutMessage(ctx context.Context, msg ConversationMessage) error {
	doc, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
INSERT INTO call_messages (call_id, message_id, doc, ts)
VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (call_id, message_id) DO UPDATE SET doc = EXCLUDED.doc, ts = EXCLUDED.ts`,
		msg.CallID, msg.ID, string(doc), msg.Timestamp.UTC())
	return err
}

func (p *PostgresBackend) ListMessages(ctx context.Context, callID string, limit int) ([]ConversationMessage, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT doc FROM call_messages WHERE call_id = $1 ORDER BY ts ASC, message_id ASC LIMIT $2`,
		callID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConversationMessage
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var msg ConversationMessage
		if err := json.Unmarshal(doc, &msg); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (p *PostgresBackend) Close() error {
	return p.db.Close()
}

func decodeRecord(doc []byte) (*CallRecord, error) {
	var rec CallRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode call record: %w", err)
	}
	return &rec, nil
}
