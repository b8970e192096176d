package settlement

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs a delayed action per settlement id. Scheduling an id again
// replaces its pending timer.
type Scheduler struct {
	delay  time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func NewScheduler(delay time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{delay: delay, logger: logger, timers: make(map[string]*time.Timer)}
}

// Schedule runs fn for id after the scheduler's delay.
func (s *Scheduler) Schedule(id string, fn func(ctx context.Context, id string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		if s.timers[id] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.mu.Unlock()

		if err := fn(context.Background(), id); err != nil {
			s.logger.Warn("scheduled settlement action failed", zap.String("settlement_id", id), zap.Error(err))
		}
	})
	s.timers[id] = timer
}

// Cancel drops the pending action for id. It reports whether one was pending.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, id)
	return true
}

// Pending returns the number of scheduled actions.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels everything and refuses new work.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
