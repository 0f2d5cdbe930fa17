package models

import "time"

// Principal is an authenticated identity subject to authorization decisions.
// Role assignments live in the authorization engine, not here. Principals are
// soft-disabled, never hard-deleted, so attempt and audit history stays
// resolvable.
type Principal struct {
	ID             string     `json:"id"`
	Identity       string     `json:"identity"`
	CredentialHash string     `json:"-"`
	Active         bool       `json:"active"`
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	SecondFactor   bool       `json:"second_factor"`
	// SecondFactorSecret is the TOTP provisioning secret, set while the
	// second factor is enabled
	SecondFactorSecret string     `json:"-"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Locked reports whether the principal is under an unexpired lockout.
func (p *Principal) Locked(now time.Time) bool {
	return p.LockedUntil != nil && now.Before(*p.LockedUntil)
}

// TokenPair is a short-lived signed access token plus a server-tracked,
// single-use refresh token.
type TokenPair struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    time.Duration `json:"expires_in"`
}

// RefreshSession tracks one live refresh token. Only the SHA-256 hash of the
// token is retained.
type RefreshSession struct {
	TokenHash   string    `json:"-"`
	SessionID   string    `json:"session_id"`
	PrincipalID string    `json:"principal_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
}

// LoginAttempt is an immutable, append-only audit record of one
// authentication attempt.
type LoginAttempt struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id,omitempty"`
	Identity    string    `json:"identity"`
	SourceIP    string    `json:"source_ip,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Success     bool      `json:"success"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
