package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"gpt-subscription-orchestrator/internal/domain"
	"gpt-subscription-orchestrator/internal/domain/model"
	"gpt-subscription-orchestrator/internal/domain/ports/repository"
)

// Ensure implementation satisfies the interface.
var _ repository.KeyRepository = (*keyRepo)(nil)

type keyRepo struct {
	pool *pgxpool.Pool
}

func NewKeyRepo(pool *pgxpool.Pool) repository.KeyRepository {
	return &keyRepo{pool: pool}
}

const keyColumns = "id, code, status, created_at, allocated_at, consumed_at, consumed_by_email, subscription_id"

func (r *keyRepo) Save(ctx context.Context, tx repository.Tx, key *model.Key) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	const q = `
INSERT INTO activation_keys (id, code, status, created_at, allocated_at, consumed_at, consumed_by_email, subscription_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  allocated_at = EXCLUDED.allocated_at,
  consumed_at = EXCLUDED.consumed_at,
  consumed_by_email = EXCLUDED.consumed_by_email,
  subscription_id = EXCLUDED.subscription_id;`
	_, err := execSQL(ctx, r.pool, tx, q,
		key.ID, key.Code, key.Status, key.CreatedAt, key.AllocatedAt, key.ConsumedAt, key.ConsumedByEmail, key.SubscriptionID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Claim flips exactly one available key to allocated. SKIP LOCKED makes the
// claim safe under concurrent sweeps: two callers can never receive the
// same row.
func (r *keyRepo) Claim(ctx context.Context, tx repository.Tx, now time.Time) (*model.Key, error) {
	const q = `
UPDATE activation_keys
   SET status = 'allocated', allocated_at = $1
 WHERE id = (
       SELECT id FROM activation_keys
        WHERE status = 'available'
        ORDER BY created_at
        LIMIT 1
        FOR UPDATE SKIP LOCKED)
RETURNING ` + keyColumns + `;`
	row, err := pickRow(ctx, r.pool, tx, q, now)
	if err != nil {
		return nil, err
	}
	k, err := scanKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoKeyAvailable
		}
		return nil, err
	}
	return k, nil
}

func (r *keyRepo) MarkUsed(ctx context.Context, tx repository.Tx, keyID, email, subscriptionID string, at time.Time) error {
	const q = `
UPDATE activation_keys
   SET status = 'used', consumed_at = $2, consumed_by_email = $3, subscription_id = $4
 WHERE id = $1 AND status IN ('available', 'allocated');`
	tag, err := execSQL(ctx, r.pool, tx, q, keyID, at, email, subscriptionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// No transition happened: either the key does not exist, or it is
	// already used. A matching stamp makes the call an idempotent no-op.
	existing, err := r.findByID(ctx, tx, keyID)
	if err != nil {
		return err
	}
	if existing.Status == model.KeyStatusUsed &&
		existing.ConsumedByEmail != nil && *existing.ConsumedByEmail == email &&
		existing.SubscriptionID != nil && *existing.SubscriptionID == subscriptionID {
		return nil
	}
	return domain.ErrKeyAlreadyConsumed
}

func (r *keyRepo) Release(ctx context.Context, tx repository.Tx, keyID string) error {
	const q = `
UPDATE activation_keys
   SET status = 'available', allocated_at = NULL
 WHERE id = $1 AND status = 'allocated';`
	_, err := execSQL(ctx, r.pool, tx, q, keyID)
	return err
}

func (r *keyRepo) ReleaseStale(ctx context.Context, tx repository.Tx, cutoff time.Time) (int, error) {
	const q = `
UPDATE activation_keys
   SET status = 'available', allocated_at = NULL
 WHERE status = 'allocated' AND allocated_at < $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *keyRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Key, error) {
	const q = `SELECT ` + keyColumns + ` FROM activation_keys WHERE code = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, code)
	if err != nil {
		return nil, err
	}
	k, err := scanKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return k, nil
}

func (r *keyRepo) FindBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) ([]*model.Key, error) {
	const q = `SELECT ` + keyColumns + ` FROM activation_keys WHERE subscription_id = $1 ORDER BY consumed_at;`
	rows, err := queryRows(ctx, r.pool, tx, q, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *keyRepo) CountAvailable(ctx context.Context, tx repository.Tx) (int, error) {
	const q = `SELECT COUNT(*) FROM activation_keys WHERE status = 'available';`
	row, err := pickRow(ctx, r.pool, tx, q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *keyRepo) CountUsedBySubscription(ctx context.Context, tx repository.Tx) (map[string]int, error) {
	const q = `
SELECT subscription_id, COUNT(*)
  FROM activation_keys
 WHERE status = 'used' AND subscription_id IS NOT NULL
 GROUP BY subscription_id;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *keyRepo) findByID(ctx context.Context, tx repository.Tx, id string) (*model.Key, error) {
	const q = `SELECT ` + keyColumns + ` FROM activation_keys WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	k, err := scanKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return k, nil
}

func scanKey(row pgx.Row) (*model.Key, error) {
	var k model.Key
	err := row.Scan(&k.ID, &k.Code, &k.Status, &k.CreatedAt, &k.AllocatedAt, &k.ConsumedAt, &k.ConsumedByEmail, &k.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return &k, nil
}
