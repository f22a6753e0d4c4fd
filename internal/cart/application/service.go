package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmehra2102/drop-checkout/internal/cart/domain"
)

type Repository interface {
	Lines(ctx context.Context, cartID string) ([]domain.Line, error)
	// LockLines reads the lines and holds the cart until the surrounding
	// transaction ends.
	LockLines(ctx context.Context, cartID string) ([]domain.Line, error)
	Clear(ctx context.Context, cartID string) error
	// DeleteStale removes carts not updated since before; it reports how many.
	DeleteStale(ctx context.Context, before time.Time) (int, error)
}

type Service struct {
	log  *slog.Logger
	repo Repository
}

func NewService(log *slog.Logger, repo Repository) *Service {
	return &Service{log: log, repo: repo}
}

func (s *Service) Lines(ctx context.Context, cartID string) ([]domain.Line, error) {
	return s.repo.Lines(ctx, cartID)
}

func (s *Service) LockLines(ctx context.Context, cartID string) ([]domain.Line, error) {
	return s.repo.LockLines(ctx, cartID)
}

func (s *Service) Clear(ctx context.Context, cartID string) error {
	return s.repo.Clear(ctx, cartID)
}

// Janitor deletes abandoned carts once a day.
type Janitor struct {
	log      *slog.Logger
	repo     Repository
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewJanitor(log *slog.Logger, repo Repository, maxAge time.Duration) *Janitor {
	return &Janitor{log: log, repo: repo, maxAge: maxAge, interval: 24 * time.Hour, now: time.Now}
}

func (j *Janitor) Run(ctx context.Context) error {
	t := time.NewTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			j.CleanOnce(ctx)
		}
	}
}

func (j *Janitor) CleanOnce(ctx context.Context) int {
	n, err := j.repo.DeleteStale(ctx, j.now().Add(-j.maxAge))
	if err != nil {
		j.log.Error("stale cart cleanup failed", "err", err)
		return 0
	}
	if n > 0 {
		j.log.Info("stale carts deleted", "count", n, "max_age", j.maxAge)
	}
	return n
}
