package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/drop-checkout/internal/inventory/domain"
)

// Manager is the only code path that mutates a variant's stock or a
// reservation's status. Every mutation happens while the variant's exclusive
// lock is held, and reservation rows only move through status-guarded updates.
type Manager struct {
	log          *slog.Logger
	tx           Transactor
	variants     VariantRepository
	reservations ReservationRepository
	metrics      *Metrics
	tracer       trace.Tracer
	now          func() time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

func NewManager(log *slog.Logger, tx Transactor, variants VariantRepository, reservations ReservationRepository, opts ...Option) *Manager {
	m := &Manager{
		log:          log,
		tx:           tx,
		variants:     variants,
		reservations: reservations,
		tracer:       otel.Tracer("inventory"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	return m
}

// Acquire holds quantity units of a variant for ttl. Lock, read, validate,
// decrement and insert all happen inside one lock scope, so two shoppers
// racing for the last unit are served one after the other.
func (m *Manager) Acquire(ctx context.Context, variantID string, quantity int, ttl time.Duration) (domain.Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "inventory.Acquire", trace.WithAttributes(
		attribute.String("variant.id", variantID),
		attribute.Int("reservation.quantity", quantity),
	))
	defer span.End()

	if quantity <= 0 {
		return domain.Reservation{}, domain.ErrInvalidQuantity
	}
	if ttl <= 0 {
		ttl = domain.DefaultReservationTTL
	}

	start := time.Now()
	var res domain.Reservation
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		v, err := m.variants.LockForUpdate(ctx, variantID)
		if err != nil {
			return err
		}
		if !v.Active {
			return fmt.Errorf("%w: %s", domain.ErrVariantInactive, v.SKU)
		}
		if available := v.Available(); available < quantity {
			return &domain.InsufficientStockError{
				VariantID: v.ID,
				SKU:       v.SKU,
				Requested: quantity,
				Available: available,
			}
		}
		if err := m.variants.AdjustStock(ctx, v.ID, -quantity); err != nil {
			return err
		}
		res = domain.NewReservation(v.ID, quantity, m.now(), ttl)
		return m.reservations.Insert(ctx, res)
	})
	m.metrics.lockWait.Observe(time.Since(start).Seconds())

	if err != nil {
		var insufficient *domain.InsufficientStockError
		if errors.As(err, &insufficient) {
			m.metrics.rejected.Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquire failed")
		return domain.Reservation{}, err
	}

	m.metrics.acquired.Inc()
	m.log.Info("reservation acquired",
		"reservation_id", res.ID, "variant_id", variantID, "quantity", quantity, "expires_at", res.ExpiresAt)
	return res, nil
}

// Release returns the stock of every ACTIVE or COMMITTED reservation in the
// list and marks it EXPIRED. Reservations already EXPIRED are skipped, so
// releasing twice restores stock once.
func (m *Manager) Release(ctx context.Context, reservations []domain.Reservation) (int, error) {
	return m.release(ctx, "inventory.Release", reservations,
		domain.ReservationActive, domain.ReservationCommitted)
}

// Cancel is Release restricted to holds still ACTIVE. A hold that has been
// committed to an order is left alone.
func (m *Manager) Cancel(ctx context.Context, reservations []domain.Reservation) (int, error) {
	return m.release(ctx, "inventory.Cancel", reservations, domain.ReservationActive)
}

func (m *Manager) release(ctx context.Context, name string, reservations []domain.Reservation, from ...domain.ReservationStatus) (int, error) {
	ctx, span := m.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int("reservation.count", len(reservations)),
	))
	defer span.End()

	released := 0
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		released = 0
		for _, r := range byVariant(reservations) {
			if _, err := m.variants.LockForUpdate(ctx, r.VariantID); err != nil {
				return err
			}
			ok, err := m.reservations.Transition(ctx, r.ID, from, domain.ReservationExpired, "")
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := m.variants.AdjustStock(ctx, r.VariantID, r.Quantity); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
		return 0, err
	}

	m.metrics.released.Add(float64(released))
	if released > 0 {
		m.log.Info("reservations released", "op", name, "requested", len(reservations), "released", released)
	}
	return released, nil
}

// Commit links reservations to an order and marks them COMMITTED. Stock was
// taken at Acquire time, so Commit never touches it. Reservations already
// committed to the same order are left as they are; an ACTIVE hold past its
// deadline fails with ErrReservationExpired even if no sweep has run yet.
func (m *Manager) Commit(ctx context.Context, orderID string, reservations []domain.Reservation) error {
	ctx, span := m.tracer.Start(ctx, "inventory.Commit", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.Int("reservation.count", len(reservations)),
	))
	defer span.End()

	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		now := m.now()
		for _, r := range byVariant(reservations) {
			if _, err := m.variants.LockForUpdate(ctx, r.VariantID); err != nil {
				return err
			}
			current, err := m.reservations.GetMany(ctx, []string{r.ID})
			if err != nil {
				return err
			}
			if len(current) == 0 {
				return fmt.Errorf("%w: %s", domain.ErrReservationNotFound, r.ID)
			}
			switch c := current[0]; {
			case c.Status == domain.ReservationCommitted && c.OrderID == orderID:
				continue
			case c.Status == domain.ReservationCommitted:
				return fmt.Errorf("%w: %s", domain.ErrReservationConflict, r.ID)
			case c.Status != domain.ReservationActive || c.ExpiredAt(now):
				return fmt.Errorf("%w: %s", domain.ErrReservationExpired, r.ID)
			}
			ok, err := m.reservations.Transition(ctx, r.ID,
				[]domain.ReservationStatus{domain.ReservationActive},
				domain.ReservationCommitted, orderID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrReservationExpired, r.ID)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return err
	}

	m.metrics.committed.Add(float64(len(reservations)))
	m.log.Info("reservations committed", "order_id", orderID, "count", len(reservations))
	return nil
}

// SweepExpired reclaims ACTIVE reservations whose deadline is before now. Each
// candidate is handled in its own unit of work under its variant's lock, and
// the status guard makes a reservation already moved by another sweeper,
// release or commit a no-op.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time, batch int) (int, error) {
	ctx, span := m.tracer.Start(ctx, "inventory.SweepExpired")
	defer span.End()

	if batch <= 0 {
		batch = 100
	}
	expired := 0
	for {
		candidates, err := m.reservations.ListExpired(ctx, now, batch)
		if err != nil {
			span.RecordError(err)
			return expired, err
		}

		for _, r := range candidates {
			ok, err := m.expireOne(ctx, r)
			if err != nil {
				span.RecordError(err)
				return expired, err
			}
			if ok {
				expired++
			}
		}
		// A full batch that another sweeper already drained still means more
		// candidates may be waiting behind it.
		if len(candidates) < batch {
			break
		}
	}

	span.SetAttributes(attribute.Int("reservation.expired", expired))
	m.metrics.expired.Add(float64(expired))
	if expired > 0 {
		m.log.Info("expired reservations reclaimed", "count", expired, "now", now)
	}
	return expired, nil
}

func (m *Manager) expireOne(ctx context.Context, r domain.Reservation) (bool, error) {
	var ok bool
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := m.variants.LockForUpdate(ctx, r.VariantID); err != nil {
			return err
		}
		var err error
		ok, err = m.reservations.Transition(ctx, r.ID,
			[]domain.ReservationStatus{domain.ReservationActive},
			domain.ReservationExpired, "")
		if err != nil || !ok {
			return err
		}
		return m.variants.AdjustStock(ctx, r.VariantID, r.Quantity)
	})
	if err != nil {
		return false, err
	}
	if ok {
		m.log.Debug("reservation expired", "reservation_id", r.ID, "variant_id", r.VariantID, "quantity", r.Quantity)
	}
	return ok, nil
}

// AvailableStock is the variant's stock count, which is already net of holds.
func (m *Manager) AvailableStock(ctx context.Context, variantID string) (int, error) {
	v, err := m.variants.Get(ctx, variantID)
	if err != nil {
		return 0, err
	}
	return v.Available(), nil
}

func (m *Manager) Variant(ctx context.Context, variantID string) (domain.Variant, error) {
	return m.variants.Get(ctx, variantID)
}

func (m *Manager) Reservations(ctx context.Context, ids []string) ([]domain.Reservation, error) {
	return m.reservations.GetMany(ctx, ids)
}

func (m *Manager) ReservationsForOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	return m.reservations.ListByOrder(ctx, orderID)
}

// byVariant orders reservations by variant so that units of work touching
// several variants always take their locks in the same order.
func byVariant(reservations []domain.Reservation) []domain.Reservation {
	sorted := slices.Clone(reservations)
	slices.SortStableFunc(sorted, func(a, b domain.Reservation) int {
		if c := strings.Compare(a.VariantID, b.VariantID); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return sorted
}
