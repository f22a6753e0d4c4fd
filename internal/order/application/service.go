package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/drop-checkout/internal/order/domain"
	"github.com/dmehra2102/drop-checkout/pkg/retry"
)

var errStatusRace = fmt.Errorf("order status changed concurrently: %w", retry.ErrTransient)

type Service struct {
	log       *slog.Logger
	tx        Transactor
	repo      OrderRepository
	inventory Inventory
	notifier  Notifier
	retry     retry.Policy
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRetry(p retry.Policy) Option {
	return func(s *Service) { s.retry = p }
}

func NewService(log *slog.Logger, tx Transactor, repo OrderRepository, inventory Inventory, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		log:       log,
		tx:        tx,
		repo:      repo,
		inventory: inventory,
		notifier:  notifier,
		retry:     retry.DefaultPolicy(3),
		tracer:    otel.Tracer("order"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpdateStatus drives the order state machine. The status write and its
// inventory side effect share one unit of work; the notification is sent
// only after that unit of work has committed, and its failure is logged.
func (s *Service) UpdateStatus(ctx context.Context, id string, to domain.OrderStatus) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status.to", string(to)),
	))
	defer span.End()

	var (
		updated domain.Order
		from    domain.OrderStatus
	)
	err := retry.Do(ctx, s.log, s.retry, "order.UpdateStatus", func() error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			o, err := s.repo.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			from = o.Status
			if err := o.TransitionTo(to, s.now()); err != nil {
				return err
			}
			if err := s.applyInventory(ctx, o, from); err != nil {
				return err
			}
			ok, err := s.repo.UpdateStatus(ctx, o.ID, from, to, o.UpdatedAt)
			if err != nil {
				return err
			}
			if !ok {
				return errStatusRace
			}
			updated = o
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update status failed")
		return domain.Order{}, err
	}

	s.log.Info("order status changed", "order_id", id, "order_number", updated.Number, "from", from, "to", to)
	if err := s.notifier.OrderStatusChanged(ctx, updated, from); err != nil {
		s.log.Error("order status notification failed", "order_id", id, "err", err)
	}
	return updated, nil
}

func (s *Service) applyInventory(ctx context.Context, o domain.Order, from domain.OrderStatus) error {
	switch {
	case o.Status == domain.StatusConfirmed && (from == domain.StatusPending || from == domain.StatusPaid):
		linked, err := s.inventory.ReservationsForOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		return s.inventory.Commit(ctx, o.ID, linked)
	case o.Status == domain.StatusCancelled:
		linked, err := s.inventory.ReservationsForOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		_, err = s.inventory.Release(ctx, linked)
		return err
	}
	return nil
}

// Create stores a new order. It runs inside the caller's unit of work.
func (s *Service) Create(ctx context.Context, o domain.Order) error {
	return s.repo.Create(ctx, o)
}

func (s *Service) NextNumber(ctx context.Context) (string, error) {
	return s.repo.NextNumber(ctx, s.now())
}

// NotifyCreated publishes the order-created notification. Failures are logged
// and never returned.
func (s *Service) NotifyCreated(ctx context.Context, o domain.Order) {
	if err := s.notifier.OrderCreated(ctx, o); err != nil {
		s.log.Error("order created notification failed", "order_id", o.ID, "order_number", o.Number, "err", err)
	}
}

func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByTrackingToken(ctx context.Context, token string) (domain.Order, error) {
	return s.repo.GetByTrackingToken(ctx, token)
}
