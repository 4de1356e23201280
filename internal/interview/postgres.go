package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the interviews table. Interviews are written by
// the generation flow; this service only reads them (and upserts fixtures via
// the seed command).
const Schema = `
CREATE TABLE IF NOT EXISTS interviews (
    id          TEXT PRIMARY KEY,
    title       TEXT NOT NULL DEFAULT '',
    role        TEXT NOT NULL DEFAULT '',
    level       TEXT NOT NULL DEFAULT '',
    techstack   JSONB NOT NULL DEFAULT '[]',
    style       TEXT NOT NULL DEFAULT 'mixed',
    questions   JSONB NOT NULL DEFAULT '[]',
    user_id     TEXT NOT NULL,
    finalized   BOOLEAN NOT NULL DEFAULT false,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_interviews_user_created ON interviews(user_id, created_at DESC);
`

// DB is the database interface used by [PostgresRepository]. Both
// *pgxpool.Pool and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository is a [Repository] backed by PostgreSQL.
type PostgresRepository struct {
	db DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a repository using db.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate executes [Schema].
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("interview: migrate: %w", err)
	}
	return nil
}

const selectColumns = `id, title, role, level, techstack, style, questions, user_id, finalized, created_at`

// Get implements [Repository].
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Interview, error) {
	row := r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM interviews WHERE id = $1`, id)
	iv, err := scanInterview(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("interview: get %q: %w", id, err)
	}
	return iv, nil
}

// ListByUser implements [Repository].
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Interview, error) {
	query := `SELECT ` + selectColumns + ` FROM interviews WHERE user_id = $1 ORDER BY created_at DESC, id`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("interview: list for %q: %w", userID, err)
	}
	defer rows.Close()

	var out []Interview
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, fmt.Errorf("interview: scan: %w", err)
		}
		out = append(out, *iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("interview: list for %q: %w", userID, err)
	}
	return out, nil
}

// Upsert inserts iv or replaces the stored row with the same ID.
func (r *PostgresRepository) Upsert(ctx context.Context, iv *Interview) error {
	if err := iv.Validate(); err != nil {
		return err
	}
	techJSON, err := json.Marshal(emptySlice(iv.TechStack))
	if err != nil {
		return fmt.Errorf("interview: marshal techstack: %w", err)
	}
	qJSON, err := json.Marshal(emptySlice(iv.Questions))
	if err != nil {
		return fmt.Errorf("interview: marshal questions: %w", err)
	}

	const query = `
		INSERT INTO interviews (id, title, role, level, techstack, style, questions, user_id, finalized, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,COALESCE($10, now()))
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, role = EXCLUDED.role, level = EXCLUDED.level,
			techstack = EXCLUDED.techstack, style = EXCLUDED.style,
			questions = EXCLUDED.questions, user_id = EXCLUDED.user_id,
			finalized = EXCLUDED.finalized
		RETURNING created_at`

	var created any
	if !iv.CreatedAt.IsZero() {
		created = iv.CreatedAt
	}
	err = r.db.QueryRow(ctx, query,
		iv.ID, iv.Title, iv.Role, iv.Level, techJSON, string(iv.EffectiveStyle()), qJSON,
		iv.UserID, iv.Finalized, created,
	).Scan(&iv.CreatedAt)
	if err != nil {
		return fmt.Errorf("interview: upsert %q: %w", iv.ID, err)
	}
	return nil
}

func scanInterview(row pgx.Row) (*Interview, error) {
	var iv Interview
	var techJSON, qJSON []byte
	var style string
	if err := row.Scan(&iv.ID, &iv.Title, &iv.Role, &iv.Level, &techJSON, &style,
		&qJSON, &iv.UserID, &iv.Finalized, &iv.CreatedAt); err != nil {
		return nil, err
	}
	iv.Style = Style(style)
	if err := json.Unmarshal(techJSON, &iv.TechStack); err != nil {
		return nil, fmt.Errorf("unmarshal techstack: %w", err)
	}
	if err := json.Unmarshal(qJSON, &iv.Questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions: %w", err)
	}
	return &iv, nil
}

// emptySlice returns s if non-nil, or an empty non-nil slice so JSONB stores [].
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
