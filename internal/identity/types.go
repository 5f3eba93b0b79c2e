package identity

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleGuest Role = "guest"
)

// ParseRole validates a role value coming from storage or input.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleUser:
		return RoleUser, nil
	case RoleGuest:
		return RoleGuest, nil
	default:
		return "", fmt.Errorf("identity: unknown role %q", s)
	}
}

// Identity is a user record: credentials, account state, security counters
// and an optional federated provider linkage.
type Identity struct {
	ID       string
	Email    string
	Username string

	// PasswordHash is empty for federated accounts created without a
	// password.
	PasswordHash string

	FullName  string
	AvatarURL string

	Role      Role
	Active    bool
	Verified  bool
	Superuser bool

	FailedAttempts int
	LockedUntil    *time.Time
	LastLogin      *time.Time

	EmailVerifiedAt *time.Time

	Provider        string
	ProviderSubject string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPassword reports whether the account can authenticate with a password.
func (i *Identity) HasPassword() bool { return i.PasswordHash != "" }

// Linked reports whether the account carries a federated provider linkage.
func (i *Identity) Linked() bool { return i.Provider != "" && i.ProviderSubject != "" }
