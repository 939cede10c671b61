// Package queue defines the security events exchanged over the message
// broker and the consumer that records them.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// SecurityQueue is the default durable queue for security events.
const SecurityQueue = "auth.security"

// Event kinds.
const (
	KindLoginFailed     = "login_failed"
	KindRefreshReuse    = "refresh_reuse"
	KindIPBlocked       = "ip_blocked"
	KindPasswordChanged = "password_changed"
	KindLogoutAll       = "logout_all"
)

// SecurityEvent records an authentication outcome that callers are never
// told about in detail, such as a replayed refresh token, so operators can
// still tell it apart from a plain expiry.
type SecurityEvent struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	UserID     string    `json:"user_id,omitempty"`
	IP         string    `json:"ip,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent stamps a fresh id on an event of the given kind.
func NewEvent(kind, userID, ip, detail string, at time.Time) SecurityEvent {
	return SecurityEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		UserID:     userID,
		IP:         ip,
		Detail:     detail,
		OccurredAt: at.UTC(),
	}
}
