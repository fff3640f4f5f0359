package statestore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultStalenessWindow is how long an inactive session may go without
// an update before the sweeper removes it.
const DefaultStalenessWindow = 30 * time.Minute

// Sweeper periodically deletes sessions that are inactive and whose
// last update is older than the staleness window. Active sessions are
// never removed regardless of age. Combined with the store TTL, no
// inactive session survives longer than max(TTL, staleness window)
// past its last update.
type Sweeper struct {
	store     Store
	schedule  cron.Schedule
	staleness time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithStaleness sets the staleness window (default 30m).
func WithStaleness(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.staleness = d
		}
	}
}

// WithSweeperLogger sets the sweeper's logger.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSweeperClock overrides the clock used for staleness checks.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper creates a Sweeper over the given store. The schedule uses
// cron syntax, including descriptors like "@every 5m".
func NewSweeper(store Store, schedule string, opts ...SweeperOption) (*Sweeper, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}

	s := &Sweeper{
		store:     store,
		schedule:  sched,
		staleness: DefaultStalenessWindow,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the background sweep goroutine. Calling Start on a
// running sweeper is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(s.stopCh, s.doneCh)

	s.logger.Info("session sweeper started",
		slog.Duration("staleness", s.staleness),
	)
}

// Stop halts the background goroutine and waits for it to exit.
// Calling Stop on a stopped sweeper is a no-op.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	stopCh, doneCh := s.stopCh, s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
	s.logger.Info("session sweeper stopped")
}

func (s *Sweeper) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		removed, err := s.SweepOnce(context.Background())
		if err != nil {
			s.logger.Error("session sweep failed",
				slog.String("error", err.Error()),
			)
			continue
		}
		if removed > 0 {
			s.logger.Info("session sweep complete",
				slog.Int("removed", removed),
			)
		}
	}
}

// SweepOnce runs a single sweep pass and returns the number of sessions
// removed. Per-session load or delete failures are logged and skipped
// so one bad entry cannot stall the pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ids, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	cutoff := s.now().Add(-s.staleness)
	removed := 0
	for _, id := range ids {
		m, found, err := s.store.Get(ctx, id)
		if err != nil {
			s.logger.Warn("sweep: load session failed",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !found {
			continue
		}

		state := m.State()
		if state.IsActive || state.UpdatedAt.After(cutoff) {
			continue
		}

		if err := s.store.Delete(ctx, id); err != nil {
			s.logger.Warn("sweep: delete session failed",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
		s.logger.Debug("swept stale session",
			slog.String("session_id", id),
			slog.Time("updated_at", state.UpdatedAt),
		)
	}
	return removed, nil
}
