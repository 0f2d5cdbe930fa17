package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"github.com/AegisGate/aegis-gate/models"
)

// TrailWriter persists audit and attempt trails write-behind: callers hand
// records to a bounded queue and never wait on the database. When the queue
// is full the record is dropped with a warning rather than blocking a
// decision path.
type TrailWriter struct {
	db     bun.IDB
	logger models.Logger

	queue chan any
	done  chan struct{}
	once  sync.Once
}

const (
	defaultQueueSize = 1024
	flushInterval    = time.Second
	flushBatchSize   = 64
	writeTimeout     = 5 * time.Second
)

func NewTrailWriter(db bun.IDB, logger models.Logger, queueSize int) *TrailWriter {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	w := &TrailWriter{
		db:     db,
		logger: logger,
		queue:  make(chan any, queueSize),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// EnsureSchema creates the trail tables when absent.
func (w *TrailWriter) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.NewCreateTable().Model((*AuditRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	_, err := w.db.NewCreateTable().Model((*AttemptRecord)(nil)).IfNotExists().Exec(ctx)
	return err
}

// WriteAudit enqueues an authorization decision for persistence.
func (w *TrailWriter) WriteAudit(entry models.AuditEntry) {
	w.enqueue(newAuditRecord(entry))
}

// WriteAttempt enqueues a login attempt for persistence.
func (w *TrailWriter) WriteAttempt(attempt models.LoginAttempt) {
	w.enqueue(newAttemptRecord(attempt))
}

func (w *TrailWriter) enqueue(record any) {
	select {
	case w.queue <- record:
	default:
		w.logger.Warn("trail queue full, dropping record")
	}
}

func (w *TrailWriter) run() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var audits []*AuditRecord
	var attempts []*AttemptRecord

	flush := func() {
		if len(audits) == 0 && len(attempts) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if len(audits) > 0 {
			if _, err := w.db.NewInsert().Model(&audits).Exec(ctx); err != nil {
				w.logger.Warn("failed to persist audit records", "count", len(audits), "error", err)
			}
			audits = audits[:0]
		}
		if len(attempts) > 0 {
			if _, err := w.db.NewInsert().Model(&attempts).Exec(ctx); err != nil {
				w.logger.Warn("failed to persist attempt records", "count", len(attempts), "error", err)
			}
			attempts = attempts[:0]
		}
	}

	for {
		select {
		case record := <-w.queue:
			switch r := record.(type) {
			case *AuditRecord:
				audits = append(audits, r)
			case *AttemptRecord:
				attempts = append(attempts, r)
			}
			if len(audits)+len(attempts) >= flushBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			// drain whatever is still queued
			for {
				select {
				case record := <-w.queue:
					switch r := record.(type) {
					case *AuditRecord:
						audits = append(audits, r)
					case *AttemptRecord:
						attempts = append(attempts, r)
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close flushes pending records and stops the writer.
func (w *TrailWriter) Close() error {
	w.once.Do(func() {
		close(w.done)
	})
	return nil
}
