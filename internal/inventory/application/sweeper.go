package application

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically reclaims abandoned holds. Several instances may run at
// once; Manager.SweepExpired is safe under that.
type Sweeper struct {
	log      *slog.Logger
	manager  *Manager
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewSweeper(log *slog.Logger, manager *Manager, interval time.Duration, batch int) *Sweeper {
	return &Sweeper{
		log:      log,
		manager:  manager,
		interval: interval,
		batch:    batch,
		now:      manager.now,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.log.Info("expiry sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopping")
			return nil
		case <-t.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass. Errors are logged; the next tick tries again.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	n, err := s.manager.SweepExpired(ctx, s.now(), s.batch)
	if err != nil {
		s.log.Error("sweep expired reservations failed", "reclaimed", n, "err", err)
	}
	return n
}
