//go:build !integration

// File: internal/usecase/mocks_test.go
package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"gpt-subscription-orchestrator/internal/domain"
	"gpt-subscription-orchestrator/internal/domain/model"
	"gpt-subscription-orchestrator/internal/domain/ports/repository"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// =============================
// Repositories (in-memory)
// =============================

// memKeyRepo is a mutex-guarded in-memory key pool. Claim is atomic under
// the lock, matching the conditional-update guarantee of the real store.
type memKeyRepo struct {
	mu   sync.Mutex
	keys map[string]*model.Key

	ClaimFunc func(ctx context.Context, tx repository.Tx, now time.Time) (*model.Key, error)
	SaveErr   error
}

func newMemKeyRepo() *memKeyRepo {
	return &memKeyRepo{keys: make(map[string]*model.Key)}
}

var _ repository.KeyRepository = (*memKeyRepo)(nil)

func (m *memKeyRepo) Save(ctx context.Context, tx repository.Tx, key *model.Key) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	cp := *key
	m.keys[key.ID] = &cp
	return nil
}

func (m *memKeyRepo) Claim(ctx context.Context, tx repository.Tx, now time.Time) (*model.Key, error) {
	if m.ClaimFunc != nil {
		return m.ClaimFunc(ctx, tx, now)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var candidates []*model.Key
	for _, k := range m.keys {
		if k.Status == model.KeyStatusAvailable {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNoKeyAvailable
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	k := candidates[0]
	k.Status = model.KeyStatusAllocated
	at := now
	k.AllocatedAt = &at
	cp := *k
	return &cp, nil
}

func (m *memKeyRepo) MarkUsed(ctx context.Context, tx repository.Tx, keyID, email, subscriptionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyID]
	if !ok {
		return domain.ErrNotFound
	}
	if k.Status == model.KeyStatusUsed {
		if k.ConsumedByEmail != nil && *k.ConsumedByEmail == email &&
			k.SubscriptionID != nil && *k.SubscriptionID == subscriptionID {
			return nil
		}
		return domain.ErrKeyAlreadyConsumed
	}
	k.Status = model.KeyStatusUsed
	ts := at
	k.ConsumedAt = &ts
	k.ConsumedByEmail = &email
	k.SubscriptionID = &subscriptionID
	return nil
}

func (m *memKeyRepo) Release(ctx context.Context, tx repository.Tx, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyID]
	if !ok {
		return domain.ErrNotFound
	}
	if k.Status == model.KeyStatusAllocated {
		k.Status = model.KeyStatusAvailable
		k.AllocatedAt = nil
	}
	return nil
}

func (m *memKeyRepo) ReleaseStale(ctx context.Context, tx repository.Tx, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.keys {
		if k.Status == model.KeyStatusAllocated && k.AllocatedAt != nil && k.AllocatedAt.Before(cutoff) {
			k.Status = model.KeyStatusAvailable
			k.AllocatedAt = nil
			n++
		}
	}
	return n, nil
}

func (m *memKeyRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.Code == code {
			cp := *k
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memKeyRepo) FindBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) ([]*model.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Key
	for _, k := range m.keys {
		if k.SubscriptionID != nil && *k.SubscriptionID == subscriptionID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memKeyRepo) CountAvailable(ctx context.Context, tx repository.Tx) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.keys {
		if k.Status == model.KeyStatusAvailable {
			n++
		}
	}
	return n, nil
}

func (m *memKeyRepo) CountUsedBySubscription(ctx context.Context, tx repository.Tx) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, k := range m.keys {
		if k.Status == model.KeyStatusUsed && k.SubscriptionID != nil {
			out[*k.SubscriptionID]++
		}
	}
	return out, nil
}

// get returns the stored key by id for assertions.
func (m *memKeyRepo) get(id string) *model.Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[id]; ok {
		cp := *k
		return &cp
	}
	return nil
}

// ---- memSessionRepo ----

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*model.Session)}
}

var _ repository.SessionRepository = (*memSessionRepo)(nil)

func (m *memSessionRepo) Upsert(ctx context.Context, tx repository.Tx, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.Email] = &cp
	return nil
}

func (m *memSessionRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessionRepo) MarkValidity(ctx context.Context, tx repository.Tx, email string, v model.SessionValidity, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[email]
	if !ok {
		return domain.ErrNotFound
	}
	s.Validity = v
	ts := checkedAt
	s.CheckedAt = &ts
	return nil
}

func (m *memSessionRepo) FindUnchecked(ctx context.Context, tx repository.Tx) ([]*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Session
	for _, s := range m.sessions {
		if s.CheckedAt == nil {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- memSubRepo ----

type memSubRepo struct {
	mu   sync.Mutex
	subs map[string]*model.Subscription

	SaveFunc    func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
	FindDueFunc func(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error)
}

func newMemSubRepo() *memSubRepo {
	return &memSubRepo{subs: make(map[string]*model.Subscription)}
}

var _ repository.SubscriptionRepository = (*memSubRepo)(nil)

func (m *memSubRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subs[s.ID] = &cp
	return nil
}

func (m *memSubRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.Subscription
	for _, s := range m.subs {
		if s.Email != email {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memSubRepo) FindDue(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	if m.FindDueFunc != nil {
		return m.FindDueFunc(ctx, tx, now)
	}
	return m.findDueUntil(now)
}

func (m *memSubRepo) FindDueWithin(ctx context.Context, tx repository.Tx, until time.Time) ([]*model.Subscription, error) {
	return m.findDueUntil(until)
}

func (m *memSubRepo) findDueUntil(until time.Time) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.subs {
		if s.Status != model.SubscriptionStatusActive || s.CompletedRounds >= s.PlanRounds {
			continue
		}
		if s.NextDueAt == nil || s.NextDueAt.After(until) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextDueAt.Before(*out[j].NextDueAt) })
	return out, nil
}

func (m *memSubRepo) FindAll(ctx context.Context, tx repository.Tx) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.subs {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memSubRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.SubscriptionStatus]int)
	for _, s := range m.subs {
		out[s.Status]++
	}
	return out, nil
}

func (m *memSubRepo) get(id string) *model.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[id]; ok {
		cp := *s
		return &cp
	}
	return nil
}

// =============================
// Transaction manager
// =============================

// MockTxManager runs the callback without a real transaction; the in-memory
// repositories apply writes immediately. Like the pool-backed manager it
// refuses a context that is already done, since BeginTx would.
type MockTxManager struct{}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, repository.NoTX)
}

// =============================
// Adapters
// =============================

type mockUpstream struct {
	mu    sync.Mutex
	calls []string // codes submitted

	ActivateFunc func(ctx context.Context, code, credentialPayload string) (model.ActivationOutcome, error)
}

func (m *mockUpstream) Activate(ctx context.Context, code, credentialPayload string) (model.ActivationOutcome, error) {
	m.mu.Lock()
	m.calls = append(m.calls, code)
	m.mu.Unlock()
	if m.ActivateFunc != nil {
		return m.ActivateFunc(ctx, code, credentialPayload)
	}
	return model.SuccessOutcome("task-1"), nil
}

func (m *mockUpstream) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockNotifier struct {
	mu       sync.Mutex
	Messages []string
	Urgent   []string
}

func (m *mockNotifier) Notify(ctx context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, message)
	return nil
}

func (m *mockNotifier) NotifyUrgent(ctx context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Urgent = append(m.Urgent, message)
	return nil
}

func (m *mockNotifier) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages) + len(m.Urgent)
}

// memLocker is an in-process keyed lock with the same contract as the
// Redis-backed one.
type memLocker struct {
	mu    sync.Mutex
	held  map[string]string
	Holds int // peak concurrent holds, for serialization assertions
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]string)}
}

func (l *memLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", domain.ErrLockNotAcquired
	}
	token := uuid.NewString()
	l.held[key] = token
	if len(l.held) > l.Holds {
		l.Holds = len(l.held)
	}
	return token, nil
}

func (l *memLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// plainEncryptor stores payloads as-is; crypto is covered by the security
// package's own tests.
type plainEncryptor struct{}

func (plainEncryptor) Encrypt(s string) (string, error) { return s, nil }
func (plainEncryptor) Decrypt(s string) (string, error) { return s, nil }
