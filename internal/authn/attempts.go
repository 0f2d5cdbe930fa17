package authn

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/AegisGate/aegis-gate/models"
)

// Login attempt outcome reasons.
const (
	ReasonSuccess            = "success"
	ReasonUnknownIdentity    = "unknown_identity"
	ReasonBadCredential      = "bad_credential"
	ReasonAccountLocked      = "account_locked"
	ReasonAccountDisabled    = "account_disabled"
	ReasonSecondFactorNeeded = "second_factor_required"
	ReasonSecondFactorFailed = "second_factor_failed"
)

// AttemptWriter receives attempts for write-behind persistence.
type AttemptWriter interface {
	WriteAttempt(attempt models.LoginAttempt)
}

// AttemptLog is the append-only login attempt trail, bounded in memory with
// optional asynchronous persistence.
type AttemptLog struct {
	mu       sync.Mutex
	attempts []models.LoginAttempt
	max      int
	writer   AttemptWriter
}

const defaultAttemptCap = 10_000

func NewAttemptLog(max int, writer AttemptWriter) *AttemptLog {
	if max <= 0 {
		max = defaultAttemptCap
	}
	return &AttemptLog{max: max, writer: writer}
}

// Append records one attempt.
func (l *AttemptLog) Append(attempt models.LoginAttempt) {
	if attempt.ID == "" {
		attempt.ID = ulid.Make().String()
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	l.attempts = append(l.attempts, attempt)
	if overflow := len(l.attempts) - l.max; overflow > 0 {
		l.attempts = append([]models.LoginAttempt(nil), l.attempts[overflow:]...)
	}
	l.mu.Unlock()

	if l.writer != nil {
		l.writer.WriteAttempt(attempt)
	}
}

// Recent returns up to n most recent attempts, newest last.
func (l *AttemptLog) Recent(n int) []models.LoginAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.attempts) {
		n = len(l.attempts)
	}
	out := make([]models.LoginAttempt, n)
	copy(out, l.attempts[len(l.attempts)-n:])
	return out
}

// TruncateBefore drops attempts older than cutoff.
func (l *AttemptLog) TruncateBefore(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := 0
	for idx < len(l.attempts) && l.attempts[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return 0
	}
	l.attempts = append([]models.LoginAttempt(nil), l.attempts[idx:]...)
	return idx
}
