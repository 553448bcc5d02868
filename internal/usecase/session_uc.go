// File: internal/usecase/session_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"gpt-subscription-orchestrator/internal/domain"
	"gpt-subscription-orchestrator/internal/domain/model"
	"gpt-subscription-orchestrator/internal/domain/ports/repository"
	"gpt-subscription-orchestrator/internal/infra/metrics"
)

// sessionCheckHorizon is how far ahead of a due round the validator checks
// a credential, so a dead session is discovered before the sweep needs it.
const sessionCheckHorizon = 7 * 24 * time.Hour

// Encryptor protects credential payloads at rest.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// credentialBundle is the minimal shape a stored payload must have.
// AccessToken is usually a JWT; when it is, its own exp claim is checked
// in addition to the declared expiry.
type credentialBundle struct {
	AccessToken string `json:"accessToken"`
	Expires     string `json:"expires,omitempty"`
}

// SessionUseCase owns stored credential bundles: upsert on signup or
// refresh, reads for activation rounds, and periodic validity checks.
type SessionUseCase struct {
	sessions repository.SessionRepository
	subs     repository.SubscriptionRepository
	enc      Encryptor
	log      *zerolog.Logger
}

func NewSessionUseCase(sessions repository.SessionRepository, subs repository.SubscriptionRepository, enc Encryptor, logger *zerolog.Logger) *SessionUseCase {
	l := logger.With().Str("component", "SessionUseCase").Logger()
	return &SessionUseCase{sessions: sessions, subs: subs, enc: enc, log: &l}
}

// Upsert stores a fresh credential bundle for an email, replacing any
// previous one in place. The payload is encrypted before it reaches the
// repository.
func (uc *SessionUseCase) Upsert(ctx context.Context, email, payload string, expiresAt, now time.Time) (*model.Session, error) {
	if email == "" || payload == "" {
		return nil, domain.ErrInvalidArgument
	}
	ct, err := uc.enc.Encrypt(payload)
	if err != nil {
		return nil, err
	}
	s := &model.Session{
		Email:     email,
		Payload:   ct,
		ExpiresAt: expiresAt,
		Validity:  model.SessionValidityUnchecked,
		UpdatedAt: now,
	}
	if err := uc.sessions.Upsert(ctx, repository.NoTX, s); err != nil {
		return nil, err
	}
	out := *s
	out.Payload = payload
	return &out, nil
}

// GetCurrent returns the decrypted current session for an email.
func (uc *SessionUseCase) GetCurrent(ctx context.Context, email string) (*model.Session, error) {
	s, err := uc.sessions.FindByEmail(ctx, repository.NoTX, email)
	if err != nil {
		return nil, err
	}
	pt, err := uc.enc.Decrypt(s.Payload)
	if err != nil {
		return nil, err
	}
	out := *s
	out.Payload = pt
	return &out, nil
}

// ValidateOne re-checks the stored credential for one email and records the
// result. First failing check wins: missing session, malformed bundle,
// declared expiry, embedded token expiry, else valid.
func (uc *SessionUseCase) ValidateOne(ctx context.Context, email string, now time.Time) (model.SessionValidity, error) {
	s, err := uc.GetCurrent(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncSessionChecks(string(model.SessionValidityNoSession))
			return model.SessionValidityNoSession, nil
		}
		return "", err
	}

	v := uc.classify(s, now)
	if err := uc.sessions.MarkValidity(ctx, repository.NoTX, email, v, now); err != nil {
		return "", err
	}
	metrics.IncSessionChecks(string(v))
	return v, nil
}

func (uc *SessionUseCase) classify(s *model.Session, now time.Time) model.SessionValidity {
	var bundle credentialBundle
	if err := json.Unmarshal([]byte(s.Payload), &bundle); err != nil || bundle.AccessToken == "" {
		return model.SessionValidityInvalid
	}
	if !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now) {
		return model.SessionValidityExpired
	}
	if exp, ok := tokenExpiry(bundle.AccessToken); ok && exp.Before(now) {
		return model.SessionValidityExpired
	}
	return model.SessionValidityValid
}

// tokenExpiry extracts the exp claim of a JWT access token without
// verifying its signature; only the timestamp matters here. Non-JWT tokens
// report no expiry.
func tokenExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// SweepUpcoming validates every session belonging to an active subscription
// whose next round is due within the check horizon, plus any session never
// yet checked. Returns the number of sessions examined.
func (uc *SessionUseCase) SweepUpcoming(ctx context.Context, now time.Time) (int, error) {
	seen := make(map[string]struct{})

	upcoming, err := uc.subs.FindDueWithin(ctx, repository.NoTX, now.Add(sessionCheckHorizon))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}
	for _, sub := range upcoming {
		seen[sub.Email] = struct{}{}
	}

	unchecked, err := uc.sessions.FindUnchecked(ctx, repository.NoTX)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}
	for _, s := range unchecked {
		seen[s.Email] = struct{}{}
	}

	checked := 0
	for email := range seen {
		if ctx.Err() != nil {
			return checked, ctx.Err()
		}
		v, err := uc.ValidateOne(ctx, email, now)
		if err != nil {
			uc.log.Error().Err(err).Str("email", email).Msg("session check failed")
			continue
		}
		checked++
		if v != model.SessionValidityValid {
			uc.log.Warn().Str("email", email).Str("validity", string(v)).Msg("session unhealthy ahead of due round")
		}
	}
	return checked, nil
}
