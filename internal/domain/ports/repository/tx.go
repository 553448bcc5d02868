package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle threaded through repository calls.
// The concrete type is infra-defined (pgx.Tx for Postgres); repositories
// must gracefully accept nil for the non-transactional path.
type Tx interface{}

// NoTX is passed where a call intentionally runs outside any transaction.
var NoTX Tx

// TransactionManager executes a function within one storage transaction.
// Keeping the handle opaque keeps use-case signatures free of driver types
// while still letting a round's writes (key consumption + ledger advance)
// commit or roll back as a unit.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
