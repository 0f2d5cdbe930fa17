package models

import "time"

// KeyStrategy selects how a rate-limit counter is keyed.
type KeyStrategy string

const (
	KeyByAddress   KeyStrategy = "by-address"
	KeyByPrincipal KeyStrategy = "by-principal"
	KeyByBoth      KeyStrategy = "by-both"
)

// RateLimitRule is a sliding-window limit bound to an endpoint pattern.
// Endpoint supports a trailing "*" wildcard.
type RateLimitRule struct {
	ID          string        `json:"id" toml:"id"`
	Endpoint    string        `json:"endpoint" toml:"endpoint"`
	Method      string        `json:"method" toml:"method"`
	Window      time.Duration `json:"window" toml:"window"`
	MaxRequests int           `json:"max_requests" toml:"max_requests"`
	Strategy    KeyStrategy   `json:"strategy" toml:"strategy"`
	Enabled     bool          `json:"enabled" toml:"enabled"`
}

type BlockType string

const (
	BlockAddress   BlockType = "address"
	BlockPrincipal BlockType = "principal"
	BlockUserAgent BlockType = "user-agent"
	BlockCountry   BlockType = "country"
)

type BlockSeverity string

const (
	BlockTemporary BlockSeverity = "temporary"
	BlockPermanent BlockSeverity = "permanent"
)

// BlockedEntity denies all traffic matching its value. A temporary block
// with a past expiry is treated as absent and lazily purged on lookup.
type BlockedEntity struct {
	Type      BlockType     `json:"type"`
	Value     string        `json:"value"`
	Reason    string        `json:"reason,omitempty"`
	Severity  BlockSeverity `json:"severity"`
	BlockedAt time.Time     `json:"blocked_at"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

// Expired reports whether a temporary block has lapsed.
func (b *BlockedEntity) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}

type ActivitySeverity string

const (
	SeverityLow      ActivitySeverity = "low"
	SeverityMedium   ActivitySeverity = "medium"
	SeverityHigh     ActivitySeverity = "high"
	SeverityCritical ActivitySeverity = "critical"
)

// Detection reason codes recorded on suspicious activities and deny decisions.
const (
	ActivityRateLimitExceeded = "rate_limit_exceeded"
	ActivityBotBehavior       = "bot_behavior"
	ActivitySpamDetected      = "spam_detected"
	ActivityInjectionAttempt  = "injection_attempt"
	ActivityDDoSAttempt       = "ddos_attempt"
)

// SuspiciousActivity is one detected anomaly. It is mutated only by explicit
// resolution.
type SuspiciousActivity struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	Severity    ActivitySeverity `json:"severity"`
	SourceIP    string           `json:"source_ip"`
	PrincipalID string           `json:"principal_id,omitempty"`
	Description string           `json:"description,omitempty"`
	Resolved    bool             `json:"resolved"`
	DetectedAt  time.Time        `json:"detected_at"`
}
