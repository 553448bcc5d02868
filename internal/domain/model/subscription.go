package model

import (
	"time"

	"gpt-subscription-orchestrator/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCompleted SubscriptionStatus = "completed"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

const (
	MinPlanRounds = 1
	MaxPlanRounds = 3

	// RoundPeriod is the time between activation rounds. NextDueAt advances
	// by one period from the moment a round actually succeeds, not from the
	// theoretical calendar date, so a late manual trigger does not compound
	// drift.
	RoundPeriod = 30 * 24 * time.Hour
)

// Subscription is one subscriber's plan instance. CompletedRounds counts
// rounds consumed in the current plan; LifetimeRounds is a durable audit
// counter that survives administrative resets and never decreases.
type Subscription struct {
	ID              string // UUID
	Email           string
	PlanRounds      int
	Status          SubscriptionStatus
	StartAt         time.Time
	CompletedRounds int
	LifetimeRounds  int
	NextDueAt       *time.Time // nil once the subscription is closed
	Note            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewSubscription creates an active subscription starting at `now` with its
// first round due immediately.
func NewSubscription(id, email string, planRounds int, note string, now time.Time) (*Subscription, error) {
	if id == "" || email == "" {
		return nil, domain.ErrInvalidArgument
	}
	if planRounds < MinPlanRounds || planRounds > MaxPlanRounds {
		return nil, domain.ErrInvalidArgument
	}
	due := now
	return &Subscription{
		ID:         id,
		Email:      email,
		PlanRounds: planRounds,
		Status:     SubscriptionStatusActive,
		StartAt:    now,
		NextDueAt:  &due,
		Note:       note,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// PlanEndAt is the calendar end of the plan window.
func (s *Subscription) PlanEndAt() time.Time {
	return s.StartAt.Add(time.Duration(s.PlanRounds) * RoundPeriod)
}

// RoundsRemaining reports how many rounds are still to be consumed.
func (s *Subscription) RoundsRemaining() int {
	n := s.PlanRounds - s.CompletedRounds
	if n < 0 {
		return 0
	}
	return n
}
