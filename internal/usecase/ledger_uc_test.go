//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"gpt-subscription-orchestrator/internal/domain"
	"gpt-subscription-orchestrator/internal/domain/model"
	"gpt-subscription-orchestrator/internal/domain/ports/repository"
	"gpt-subscription-orchestrator/internal/usecase"
)

func day(n int) time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * 24 * time.Hour)
}

func seedSub(t *testing.T, subs *memSubRepo, planRounds, completed int, start time.Time) *model.Subscription {
	t.Helper()
	s, err := model.NewSubscription("sub-"+start.Format("20060102")+"-"+string(rune('a'+completed)), "user@example.com", planRounds, "", start)
	if err != nil {
		t.Fatalf("new subscription: %v", err)
	}
	s.CompletedRounds = completed
	s.LifetimeRounds = completed
	if err := subs.Save(context.Background(), repository.NoTX, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	return s
}

func TestLedger_RecordRoundSuccess(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("first round of a 3-round plan advances due date by one period", func(t *testing.T) {
		subs := newMemSubRepo()
		ledger := usecase.NewLedgerUseCase(subs, newMemKeyRepo(), logger)
		s := seedSub(t, subs, 3, 0, day(0))

		got, err := ledger.RecordRoundSuccess(ctx, repository.NoTX, s, day(0))
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if got.CompletedRounds != 1 || got.LifetimeRounds != 1 {
			t.Errorf("counters = %d/%d, want 1/1", got.CompletedRounds, got.LifetimeRounds)
		}
		if got.Status != model.SubscriptionStatusActive {
			t.Errorf("status = %s, want active", got.Status)
		}
		if got.NextDueAt == nil || !got.NextDueAt.Equal(day(30)) {
			t.Errorf("nextDue = %v, want day 30", got.NextDueAt)
		}
	})

	t.Run("final round completes the plan and clears the due date", func(t *testing.T) {
		subs := newMemSubRepo()
		ledger := usecase.NewLedgerUseCase(subs, newMemKeyRepo(), logger)
		// Even with the calendar end date far in the future the plan closes
		// as soon as all rounds are consumed.
		s := seedSub(t, subs, 3, 2, day(0))

		got, err := ledger.RecordRoundSuccess(ctx, repository.NoTX, s, day(10))
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if got.Status != model.SubscriptionStatusCompleted {
			t.Errorf("status = %s, want completed", got.Status)
		}
		if got.NextDueAt != nil {
			t.Errorf("nextDue = %v, want nil", got.NextDueAt)
		}
		if got.CompletedRounds != 3 {
			t.Errorf("completedRounds = %d, want 3", got.CompletedRounds)
		}
	})

	t.Run("due date advances from actual success time, not the theoretical date", func(t *testing.T) {
		subs := newMemSubRepo()
		ledger := usecase.NewLedgerUseCase(subs, newMemKeyRepo(), logger)
		s := seedSub(t, subs, 3, 1, day(0))

		// Round 2 was due on day 30 but a manual trigger only lands on day 42.
		got, err := ledger.RecordRoundSuccess(ctx, repository.NoTX, s, day(42))
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if got.NextDueAt == nil || !got.NextDueAt.Equal(day(72)) {
			t.Errorf("nextDue = %v, want day 72", got.NextDueAt)
		}
	})

	t.Run("closed subscription rejects further rounds", func(t *testing.T) {
		subs := newMemSubRepo()
		ledger := usecase.NewLedgerUseCase(subs, newMemKeyRepo(), logger)
		s := seedSub(t, subs, 1, 1, day(0))
		s.Status = model.SubscriptionStatusCompleted

		if _, err := ledger.RecordRoundSuccess(ctx, repository.NoTX, s, day(1)); err != domain.ErrSubscriptionClosed {
			t.Errorf("err = %v, want ErrSubscriptionClosed", err)
		}
	})
}

func TestLedger_ReconcileStatuses(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("lapsed plan window closes a stuck-active subscription", func(t *testing.T) {
		subs := newMemSubRepo()
		ledger := usecase.NewLedgerUseCase(subs, newMemKeyRepo(), logger)
		s := seedSub(t, subs, 2, 1, day(0)) // window ends day 60

		n, err := ledger.ReconcileStatuses(ctx, day(61))
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if n != 1 {
			t.Errorf("corrected = %d, want 1", n)
		}
		got := subs.get(s.ID)
		if got.Status != model.SubscriptionStatusCompleted {
			t.Errorf("status = %s, want completed", got.Status)
		}
		if got.NextDueAt != nil {
			t.Errorf("nextDue = %v, want nil", got.NextDueAt)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		subs := newMemSubRepo()
		ledger := usecase.NewLedgerUseCase(subs, newMemKeyRepo(), logger)
		seedSub(t, subs, 2, 1, day(0))
		seedSub(t, subs, 3, 3, day(1)) // counters already full but status never flipped
		seedSub(t, subs, 1, 0, day(50))

		if _, err := ledger.ReconcileStatuses(ctx, day(61)); err != nil {
			t.Fatalf("first pass: %v", err)
		}
		n, err := ledger.ReconcileStatuses(ctx, day(61))
		if err != nil {
			t.Fatalf("second pass: %v", err)
		}
		if n != 0 {
			t.Errorf("second pass corrected %d, want 0", n)
		}
	})

	t.Run("healthy active subscription is untouched", func(t *testing.T) {
		subs := newMemSubRepo()
		ledger := usecase.NewLedgerUseCase(subs, newMemKeyRepo(), logger)
		seedSub(t, subs, 3, 1, day(0))

		n, err := ledger.ReconcileStatuses(ctx, day(31))
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if n != 0 {
			t.Errorf("corrected = %d, want 0", n)
		}
	})
}

func TestLedger_ResetRoundsKeepsLifetimeCounter(t *testing.T) {
	ctx := context.Background()
	subs := newMemSubRepo()
	ledger := usecase.NewLedgerUseCase(subs, newMemKeyRepo(), newTestLogger())

	s := seedSub(t, subs, 3, 0, day(0))
	for i := 0; i < 2; i++ {
		fresh := subs.get(s.ID)
		if _, err := ledger.RecordRoundSuccess(ctx, repository.NoTX, fresh, day(i*30)); err != nil {
			t.Fatalf("round %d: %v", i+1, err)
		}
	}
	if got := subs.get(s.ID); got.LifetimeRounds != 2 {
		t.Fatalf("lifetimeRounds = %d, want 2", got.LifetimeRounds)
	}

	if err := ledger.ResetRounds(ctx, s.ID, day(65)); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got := subs.get(s.ID)
	if got.CompletedRounds != 0 {
		t.Errorf("completedRounds = %d, want 0 after reset", got.CompletedRounds)
	}
	if got.LifetimeRounds != 2 {
		t.Errorf("lifetimeRounds = %d, want 2 after reset (must never decrease)", got.LifetimeRounds)
	}
}

func TestLedger_AuditKeyLinkage(t *testing.T) {
	ctx := context.Background()
	subs := newMemSubRepo()
	keys := newMemKeyRepo()
	ledger := usecase.NewLedgerUseCase(subs, keys, newTestLogger())

	s := seedSub(t, subs, 3, 2, day(0))
	// Only one key is actually linked: a corruption signal.
	email := s.Email
	_ = keys.Save(ctx, repository.NoTX, &model.Key{ID: "k1", Code: "AAAA", Status: model.KeyStatusUsed, CreatedAt: day(0), ConsumedByEmail: &email, SubscriptionID: &s.ID})

	mismatches, err := ledger.AuditKeyLinkage(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(mismatches) != 1 {
		t.Fatalf("mismatches = %d, want 1", len(mismatches))
	}
	m := mismatches[0]
	if m.SubscriptionID != s.ID || m.CompletedRounds != 2 || m.UsedKeys != 1 {
		t.Errorf("unexpected mismatch %+v", m)
	}
}
