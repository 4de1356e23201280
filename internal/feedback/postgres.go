package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the feedback table. The scorer's output is kept
// as one JSONB document so a row is written in a single statement.
const Schema = `
CREATE TABLE IF NOT EXISTS feedback (
    id               TEXT PRIMARY KEY,
    interview_id     TEXT NOT NULL,
    user_id          TEXT NOT NULL,
    attempt_number   INTEGER NOT NULL,
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    total_score      INTEGER NOT NULL,
    evaluation       JSONB NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_feedback_pair_created ON feedback(interview_id, user_id, created_at DESC);
`

// DB is the database interface used by [PostgresStore]. *pgxpool.Pool
// satisfies it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db DB
}

var (
	_ Store          = (*PostgresStore)(nil)
	_ AtomicInserter = (*PostgresStore)(nil)
)

// NewPostgresStore returns a store using db.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes [Schema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("feedback: migrate: %w", err)
	}
	return nil
}

const insertSQL = `INSERT INTO feedback
    (id, interview_id, user_id, attempt_number, duration_seconds, total_score, evaluation, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insert(ctx context.Context, db execer, fb *Feedback) (string, error) {
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	ev, err := json.Marshal(fb.Evaluation)
	if err != nil {
		return "", fmt.Errorf("feedback: marshal evaluation: %w", err)
	}
	if _, err := db.Exec(ctx, insertSQL,
		fb.ID, fb.InterviewID, fb.UserID, fb.AttemptNumber, fb.DurationSeconds,
		fb.TotalScore, ev, fb.CreatedAt,
	); err != nil {
		return "", fmt.Errorf("feedback: insert: %w", err)
	}
	return fb.ID, nil
}

// Insert implements [Store].
func (s *PostgresStore) Insert(ctx context.Context, fb Feedback) (string, error) {
	return insert(ctx, s.db, &fb)
}

const countSQL = `SELECT count(*) FROM feedback WHERE interview_id = $1 AND user_id = $2`

// Count implements [Store].
func (s *PostgresStore) Count(ctx context.Context, f Filter) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, countSQL, f.InterviewID, f.UserID).Scan(&n); err != nil {
		return 0, fmt.Errorf("feedback: count: %w", err)
	}
	return n, nil
}

// InsertNextAttempt implements [AtomicInserter]. A transaction-scoped
// advisory lock on the (interview, user) pair serializes numbering across
// every process sharing the database.
func (s *PostgresStore) InsertNextAttempt(ctx context.Context, fb Feedback) (string, int, error) {
	var id string
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1 || ':' || $2, 0))`,
			fb.InterviewID, fb.UserID,
		); err != nil {
			return fmt.Errorf("feedback: lock attempt: %w", err)
		}
		var n int
		if err := tx.QueryRow(ctx, countSQL, fb.InterviewID, fb.UserID).Scan(&n); err != nil {
			return fmt.Errorf("feedback: count: %w", err)
		}
		fb.AttemptNumber = n + 1
		var err error
		id, err = insert(ctx, tx, &fb)
		return err
	})
	if err != nil {
		return "", 0, err
	}
	return id, fb.AttemptNumber, nil
}

const selectColumns = `id, interview_id, user_id, attempt_number, duration_seconds, evaluation, created_at`

// Find implements [Store].
func (s *PostgresStore) Find(ctx context.Context, q Query) ([]Feedback, error) {
	sql := `SELECT ` + selectColumns + ` FROM feedback
WHERE interview_id = $1 AND user_id = $2
ORDER BY created_at DESC`
	args := []any{q.InterviewID, q.UserID}
	if q.Limit > 0 {
		sql += ` LIMIT $3`
		args = append(args, q.Limit)
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("feedback: find: %w", err)
	}
	defer rows.Close()

	out := []Feedback{}
	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("feedback: find rows: %w", err)
	}
	return out, nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Feedback, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM feedback WHERE id = $1`, id)
	fb, err := scanFeedback(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return fb, err
}

func scanFeedback(row pgx.Row) (*Feedback, error) {
	var (
		fb Feedback
		ev []byte
	)
	if err := row.Scan(&fb.ID, &fb.InterviewID, &fb.UserID, &fb.AttemptNumber,
		&fb.DurationSeconds, &ev, &fb.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("feedback: scan: %w", err)
	}
	if err := json.Unmarshal(ev, &fb.Evaluation); err != nil {
		return nil, fmt.Errorf("feedback: decode evaluation %q: %w", fb.ID, err)
	}
	return &fb, nil
}
