package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler triggers background passes for recently active users.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	idleTTL  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	active map[uint]time.Time
}

// NewScheduler returns a Scheduler ticking every interval. Users untouched for
// idleTTL drop out of the periodic pass.
func NewScheduler(e *Engine, interval, idleTTL time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	if idleTTL <= 0 {
		idleTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:   e,
		interval: interval,
		idleTTL:  idleTTL,
		logger:   logger,
		now:      e.clock.Now,
		active:   map[uint]time.Time{},
	}
}

// Touch marks userID active (login, foreground, connectivity regained).
func (s *Scheduler) Touch(userID uint) {
	s.mu.Lock()
	s.active[userID] = s.now()
	s.mu.Unlock()
}

// Forget drops userID, for example on sign-out.
func (s *Scheduler) Forget(userID uint) {
	s.mu.Lock()
	delete(s.active, userID)
	s.mu.Unlock()
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick syncs every active user whose backoff has elapsed and returns how many
// passes ran.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()
	var due []uint
	s.mu.Lock()
	for id, seen := range s.active {
		if now.Sub(seen) > s.idleTTL {
			delete(s.active, id)
			continue
		}
		if s.engine.Due(id, now) {
			due = append(due, id)
		}
	}
	s.mu.Unlock()

	for _, id := range due {
		if ctx.Err() != nil {
			break
		}
		st := s.engine.Sync(ctx, id)
		if st.State == StateError || st.State == StateStalled {
			s.logger.Warn("background sync failed",
				zap.Uint("user_id", id),
				zap.String("state", string(st.State)),
				zap.Time("next_attempt", st.NextAttempt),
				zap.Error(st.Err))
		}
	}
	return len(due)
}
