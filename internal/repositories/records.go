package repositories

import (
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/AegisGate/aegis-gate/models"
)

// AuditRecord is the persisted form of an authorization decision.
type AuditRecord struct {
	bun.BaseModel `bun:"table:audit_log,alias:al"`

	ID           string    `json:"id" bun:",pk"`
	PrincipalID  string    `json:"principal_id" bun:",notnull"`
	Resource     string    `json:"resource" bun:",notnull"`
	Action       string    `json:"action" bun:",notnull"`
	Allowed      bool      `json:"allowed" bun:",notnull"`
	Reason       string    `json:"reason"`
	MatchedRules string    `json:"matched_rules"`
	SourceIP     string    `json:"source_ip"`
	Timestamp    time.Time `json:"timestamp" bun:",notnull"`
}

func newAuditRecord(entry models.AuditEntry) *AuditRecord {
	return &AuditRecord{
		ID:           entry.ID,
		PrincipalID:  entry.PrincipalID,
		Resource:     entry.Resource,
		Action:       entry.Action,
		Allowed:      entry.Allowed,
		Reason:       entry.Reason,
		MatchedRules: strings.Join(entry.MatchedRules, ","),
		SourceIP:     entry.SourceIP,
		Timestamp:    entry.Timestamp,
	}
}

// AttemptRecord is the persisted form of a login attempt.
type AttemptRecord struct {
	bun.BaseModel `bun:"table:login_attempts,alias:la"`

	ID          string    `json:"id" bun:",pk"`
	PrincipalID string    `json:"principal_id"`
	Identity    string    `json:"identity" bun:",notnull"`
	SourceIP    string    `json:"source_ip"`
	UserAgent   string    `json:"user_agent"`
	Success     bool      `json:"success" bun:",notnull"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp" bun:",notnull"`
}

func newAttemptRecord(attempt models.LoginAttempt) *AttemptRecord {
	return &AttemptRecord{
		ID:          attempt.ID,
		PrincipalID: attempt.PrincipalID,
		Identity:    attempt.Identity,
		SourceIP:    attempt.SourceIP,
		UserAgent:   attempt.UserAgent,
		Success:     attempt.Success,
		Reason:      attempt.Reason,
		Timestamp:   attempt.Timestamp,
	}
}
