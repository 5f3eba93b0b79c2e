package session

import "time"

// Session is one device's refresh-token lifecycle: created at login, rotated
// on every refresh, revoked explicitly or lazily at expiry.
type Session struct {
	ID         string
	IdentityID string

	// RefreshToken holds the current secret value. Rotation replaces it
	// atomically; a replaced value never validates again.
	RefreshToken  string
	AccessTokenID string

	IP        string
	UserAgent string
	Device    string

	Active        bool
	Revoked       bool
	RevokedAt     *time.Time
	RevokedReason string

	ExpiresAt  time.Time
	LastUsedAt time.Time
	CreatedAt  time.Time
}

// BlacklistedToken invalidates a specific token before its natural expiry.
// Entries are irrelevant once expires_at passes and may be garbage-collected.
type BlacklistedToken struct {
	JTI        string
	TokenType  string
	IdentityID string
	SessionID  string
	ExpiresAt  time.Time
	Reason     string
}

// Grant is the token pair handed to a client after authentication.
type Grant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	SessionID    string `json:"session_id"`
}

// Summary is the user-facing view of a device session.
type Summary struct {
	ID         string    `json:"id"`
	IP         string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Device     string    `json:"device,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
