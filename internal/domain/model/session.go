package model

import (
	"time"
)

type SessionValidity string

const (
	SessionValidityUnchecked SessionValidity = "unchecked"
	SessionValidityValid     SessionValidity = "valid"
	SessionValidityInvalid   SessionValidity = "invalid"
	SessionValidityExpired   SessionValidity = "expired"
	SessionValidityNoSession SessionValidity = "no_session"
)

// Session is the most recent upstream credential bundle for one subscriber
// email. There is at most one current session per email: upserting for an
// existing email replaces the stored bundle in place.
type Session struct {
	Email     string
	Payload   string // credential bundle JSON; encrypted at rest
	ExpiresAt time.Time
	Validity  SessionValidity
	CheckedAt *time.Time
	UpdatedAt time.Time
}
