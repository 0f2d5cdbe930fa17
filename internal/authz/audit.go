package authz

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/AegisGate/aegis-gate/models"
)

// AuditWriter receives entries for write-behind persistence. It must never
// block the caller.
type AuditWriter interface {
	WriteAudit(entry models.AuditEntry)
}

// AuditLog is the in-memory, append-only decision trail. A bounded number of
// entries is retained; an optional writer persists them asynchronously.
type AuditLog struct {
	mu      sync.Mutex
	entries []models.AuditEntry
	max     int
	writer  AuditWriter
}

const defaultAuditCap = 10_000

func NewAuditLog(max int, writer AuditWriter) *AuditLog {
	if max <= 0 {
		max = defaultAuditCap
	}
	return &AuditLog{max: max, writer: writer}
}

// Append records one decision. Entries are immutable once appended.
func (l *AuditLog) Append(entry models.AuditEntry) {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if overflow := len(l.entries) - l.max; overflow > 0 {
		l.entries = append([]models.AuditEntry(nil), l.entries[overflow:]...)
	}
	l.mu.Unlock()

	if l.writer != nil {
		l.writer.WriteAudit(entry)
	}
}

// Recent returns up to n most recent entries, newest last.
func (l *AuditLog) Recent(n int) []models.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]models.AuditEntry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// TruncateBefore drops entries older than cutoff and reports how many were
// removed. Registered as a maintenance task.
func (l *AuditLog) TruncateBefore(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := 0
	for idx < len(l.entries) && l.entries[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return 0
	}
	l.entries = append([]models.AuditEntry(nil), l.entries[idx:]...)
	return idx
}
