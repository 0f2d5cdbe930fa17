package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AegisGate/aegis-gate/models"
)

// Task is one registered maintenance function.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs registered maintenance tasks on independent tickers,
// decoupled from request handling. Task errors are logged and retried on the
// next tick; a panicking task never takes down its loop.
type Scheduler struct {
	clock  Clock
	logger models.Logger

	mu      sync.Mutex
	tasks   []Task
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(clock Clock, logger models.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:  clock,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a task. Tasks registered after Start are picked up
// immediately.
func (s *Scheduler) Register(name string, interval time.Duration, run func(ctx context.Context) error) {
	if interval <= 0 {
		return
	}

	task := Task{Name: name, Interval: interval, Run: run}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = append(s.tasks, task)
	if s.started {
		s.wg.Add(1)
		go s.runLoop(task)
	}
}

// Start launches one goroutine per registered task.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runLoop(task)
	}
}

// Stop cancels all task loops and waits for them to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) runLoop(task Task) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C():
			s.runOnce(task)
		}
	}
}

func (s *Scheduler) runOnce(task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("maintenance task panicked",
				"task", task.Name,
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()

	if err := task.Run(s.ctx); err != nil {
		s.logger.Warn("maintenance task failed, will retry on next tick",
			"task", task.Name,
			"error", err,
		)
	}
}
