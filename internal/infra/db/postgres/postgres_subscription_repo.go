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

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) repository.SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

const subColumns = "id, email, plan_rounds, status, start_at, completed_rounds, lifetime_rounds, next_due_at, note, created_at, updated_at"

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (id, email, plan_rounds, status, start_at, completed_rounds, lifetime_rounds, next_due_at, note, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  completed_rounds = EXCLUDED.completed_rounds,
  lifetime_rounds = GREATEST(subscriptions.lifetime_rounds, EXCLUDED.lifetime_rounds),
  next_due_at = EXCLUDED.next_due_at,
  note = EXCLUDED.note,
  updated_at = EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.Email, s.PlanRounds, s.Status, s.StartAt, s.CompletedRounds, s.LifetimeRounds, s.NextDueAt, s.Note, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	const q = `SELECT ` + subColumns + ` FROM subscriptions WHERE id = $1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *subscriptionRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.Subscription, error) {
	const q = `
SELECT ` + subColumns + `
  FROM subscriptions
 WHERE email = $1
 ORDER BY created_at DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, email)
}

func (r *subscriptionRepo) FindDue(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subColumns + `
  FROM subscriptions
 WHERE status = 'active'
   AND completed_rounds < plan_rounds
   AND next_due_at IS NOT NULL
   AND next_due_at <= $1
 ORDER BY next_due_at ASC;`
	return r.queryMany(ctx, tx, q, now)
}

func (r *subscriptionRepo) FindDueWithin(ctx context.Context, tx repository.Tx, until time.Time) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subColumns + `
  FROM subscriptions
 WHERE status = 'active'
   AND completed_rounds < plan_rounds
   AND next_due_at IS NOT NULL
   AND next_due_at <= $1
 ORDER BY next_due_at ASC;`
	return r.queryMany(ctx, tx, q, until)
}

func (r *subscriptionRepo) FindAll(ctx context.Context, tx repository.Tx) ([]*model.Subscription, error) {
	const q = `SELECT ` + subColumns + ` FROM subscriptions ORDER BY created_at ASC;`
	return r.queryMany(ctx, tx, q)
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status model.SubscriptionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSub(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSub(rows)
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

func scanSub(row pgx.Row) (*model.Subscription, error) {
	var s model.Subscription
	err := row.Scan(&s.ID, &s.Email, &s.PlanRounds, &s.Status, &s.StartAt, &s.CompletedRounds, &s.LifetimeRounds, &s.NextDueAt, &s.Note, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
