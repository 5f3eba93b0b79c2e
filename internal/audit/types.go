package audit

import (
	"strings"
	"time"
)

// EventType is the closed set of audited actions.
type EventType string

const (
	LoginSuccess           EventType = "login_success"
	LoginFailed            EventType = "login_failed"
	Logout                 EventType = "logout"
	PasswordChanged        EventType = "password_changed"
	PasswordResetRequested EventType = "password_reset_requested"
	PasswordResetCompleted EventType = "password_reset_completed"
	AccountLocked          EventType = "account_locked"
	AccountUnlocked        EventType = "account_unlocked"

	UserCreated     EventType = "user_created"
	UserUpdated     EventType = "user_updated"
	UserDeactivated EventType = "user_deactivated"

	UnauthorizedAccess EventType = "unauthorized_access_attempt"
	SystemError        EventType = "system_error"
)

// Category derives the event category from the type prefix.
func Category(t EventType) string {
	s := string(t)
	switch {
	case strings.HasPrefix(s, "login") || strings.HasPrefix(s, "logout") ||
		strings.HasPrefix(s, "password") || strings.HasPrefix(s, "account"):
		return "authentication"
	case strings.HasPrefix(s, "user"):
		return "user_management"
	case strings.HasPrefix(s, "unauthorized") || strings.HasPrefix(s, "suspicious"):
		return "security"
	default:
		return "system"
	}
}

// Meta carries request metadata attached to audit events.
type Meta struct {
	IP        string
	UserAgent string
	Device    string
}

// Event is an append-only record of a security-relevant action. Events are
// never mutated or deleted by normal operation.
type Event struct {
	ID         string
	OccurredAt time.Time
	Type       EventType
	Category   string

	ActorID   string // empty when the actor never resolved to an identity
	Username  string
	SessionID string

	IP        string
	UserAgent string

	Description string
	Success     bool
	Error       string

	Data map[string]any
}
