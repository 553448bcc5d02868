package repository

import (
	"context"
	"time"

	"gpt-subscription-orchestrator/internal/domain/model"
)

// SubscriptionRepository is the port for the subscription ledger's records.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	// FindByEmail returns the most recently created subscription for an email.
	FindByEmail(ctx context.Context, tx Tx, email string) (*model.Subscription, error)

	// FindDue returns active subscriptions with rounds remaining whose
	// NextDueAt is at or before now.
	FindDue(ctx context.Context, tx Tx, now time.Time) ([]*model.Subscription, error)

	// FindDueWithin returns active subscriptions whose NextDueAt falls at or
	// before the given horizon, used to pre-validate credentials ahead of
	// the sweep.
	FindDueWithin(ctx context.Context, tx Tx, until time.Time) ([]*model.Subscription, error)

	FindAll(ctx context.Context, tx Tx) ([]*model.Subscription, error)
	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)
}
