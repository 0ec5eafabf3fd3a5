package trivia

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Sweeper periodically evicts lobbies that were abandoned before starting,
// and finished lobbies past their retention period. In-progress lobbies are
// never touched.
type Sweeper struct {
	Registry   *Registry
	Interval   time.Duration
	WaitingTTL time.Duration
	EndedTTL   time.Duration
	Logger     *slog.Logger

	now func() time.Time
}

func NewSweeper(r *Registry, interval, waitingTTL, endedTTL time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		Registry:   r,
		Interval:   interval,
		WaitingTTL: waitingTTL,
		EndedTTL:   endedTTL,
		Logger:     logger,
		now:        r.deps.now,
	}
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many lobbies were removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	now := s.now()
	lobbies := s.Registry.Lobbies()

	removed, failed := 0, 0
	for _, l := range lobbies {
		evicted, err := s.check(ctx, l, now)
		switch {
		case err != nil:
			failed++
			s.Logger.Warn("sweep check failed", "lobby", l.Code(), "error", err)
		case evicted:
			removed++
		}
	}

	s.Logger.Info("sweep complete", "scanned", len(lobbies), "removed", removed, "failed", failed)

	return removed
}

func (s *Sweeper) check(ctx context.Context, l *Lobby, now time.Time) (evicted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panicked: %v", r)
		}
	}()

	res, err := l.do(ctx, sweepIntent{now: now, waitingTTL: s.WaitingTTL, endedTTL: s.EndedTTL})
	switch {
	case errors.Is(err, ErrNotFound):
		// Already gone; make sure the indexes agree.
		_ = s.Registry.Remove(l.ID())
		return false, nil
	case err != nil:
		return false, err
	case !res.evict:
		return false, nil
	}

	if err := s.Registry.Remove(l.ID()); err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}

	return true, nil
}
