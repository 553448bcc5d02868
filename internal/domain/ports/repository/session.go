package repository

import (
	"context"
	"time"

	"gpt-subscription-orchestrator/internal/domain/model"
)

// SessionRepository is the port for stored credential bundles, keyed by
// subscriber email. Upsert has replace-in-place semantics: one current
// session per email.
type SessionRepository interface {
	Upsert(ctx context.Context, tx Tx, s *model.Session) error
	FindByEmail(ctx context.Context, tx Tx, email string) (*model.Session, error)
	MarkValidity(ctx context.Context, tx Tx, email string, v model.SessionValidity, checkedAt time.Time) error

	// FindUnchecked returns sessions that have never been validated.
	FindUnchecked(ctx context.Context, tx Tx) ([]*model.Session, error)
}
