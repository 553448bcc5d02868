package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"gpt-subscription-orchestrator/internal/domain"
	"gpt-subscription-orchestrator/internal/domain/model"
	"gpt-subscription-orchestrator/internal/domain/ports/repository"
)

var _ repository.SessionRepository = (*sessionRepo)(nil)

type sessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) repository.SessionRepository {
	return &sessionRepo{pool: pool}
}

const sessionColumns = "email, payload, expires_at, validity, checked_at, updated_at"

// Upsert replaces the stored bundle in place: one current session per email.
func (r *sessionRepo) Upsert(ctx context.Context, tx repository.Tx, s *model.Session) error {
	const q = `
INSERT INTO sessions (email, payload, expires_at, validity, checked_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (email) DO UPDATE SET
  payload = EXCLUDED.payload,
  expires_at = EXCLUDED.expires_at,
  validity = EXCLUDED.validity,
  checked_at = EXCLUDED.checked_at,
  updated_at = EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, tx, q, s.Email, s.Payload, s.ExpiresAt, s.Validity, s.CheckedAt, s.UpdatedAt)
	return err
}

func (r *sessionRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE email = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, email)
	if err != nil {
		return nil, err
	}
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}

func (r *sessionRepo) MarkValidity(ctx context.Context, tx repository.Tx, email string, v model.SessionValidity, checkedAt time.Time) error {
	const q = `UPDATE sessions SET validity = $2, checked_at = $3 WHERE email = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, email, v, checkedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) FindUnchecked(ctx context.Context, tx repository.Tx) ([]*model.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE checked_at IS NULL;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var s model.Session
	var expires *time.Time
	err := row.Scan(&s.Email, &s.Payload, &expires, &s.Validity, &s.CheckedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expires != nil {
		s.ExpiresAt = *expires
	}
	return &s, nil
}
