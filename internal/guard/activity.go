package guard

import (
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/AegisGate/aegis-gate/models"
)

var ErrActivityNotFound = errors.New("guard: activity not found")

// ActivityLog is the bounded in-memory ledger of detected anomalies. It
// backs both the operator review surface and the repeat-offender escalation
// query.
type ActivityLog struct {
	mu         sync.Mutex
	activities []models.SuspiciousActivity
	max        int
}

const defaultActivityCap = 10_000

func NewActivityLog(max int) *ActivityLog {
	if max <= 0 {
		max = defaultActivityCap
	}
	return &ActivityLog{max: max}
}

// Record appends one activity and returns it with its assigned id.
func (l *ActivityLog) Record(activity models.SuspiciousActivity) models.SuspiciousActivity {
	if activity.ID == "" {
		activity.ID = ulid.Make().String()
	}
	if activity.DetectedAt.IsZero() {
		activity.DetectedAt = time.Now().UTC()
	}

	l.mu.Lock()
	l.activities = append(l.activities, activity)
	if overflow := len(l.activities) - l.max; overflow > 0 {
		l.activities = append([]models.SuspiciousActivity(nil), l.activities[overflow:]...)
	}
	l.mu.Unlock()

	return activity
}

// Resolve marks an activity as handled by an operator.
func (l *ActivityLog) Resolve(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.activities {
		if l.activities[i].ID == id {
			l.activities[i].Resolved = true
			return nil
		}
	}
	return ErrActivityNotFound
}

// Recent returns up to n most recent activities, newest last.
func (l *ActivityLog) Recent(n int) []models.SuspiciousActivity {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.activities) {
		n = len(l.activities)
	}
	out := make([]models.SuspiciousActivity, n)
	copy(out, l.activities[len(l.activities)-n:])
	return out
}

// UnresolvedSince counts unresolved activities from one source detected
// after the cutoff. Drives auto-block escalation for repeat offenders.
func (l *ActivityLog) UnresolvedSince(sourceIP string, cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for i := range l.activities {
		a := &l.activities[i]
		if a.SourceIP == sourceIP && !a.Resolved && a.DetectedAt.After(cutoff) {
			count++
		}
	}
	return count
}

// TruncateBefore drops activities older than cutoff, keeping unresolved ones.
func (l *ActivityLog) TruncateBefore(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.activities[:0]
	dropped := 0
	for i := range l.activities {
		a := l.activities[i]
		if a.Resolved && a.DetectedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, a)
	}
	l.activities = kept
	return dropped
}
