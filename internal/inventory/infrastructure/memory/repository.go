// Package memory holds process-local inventory repositories. The per-variant
// lock is an in-process mutex table, so these only linearize callers that
// share one process.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmehra2102/drop-checkout/internal/inventory/domain"
	"github.com/dmehra2102/drop-checkout/pkg/keylock"
	"github.com/dmehra2102/drop-checkout/pkg/memtx"
)

type VariantRepository struct {
	mu       sync.RWMutex
	variants map[string]domain.Variant
	locks    *keylock.Table
}

func NewVariantRepository(lockTimeout time.Duration) *VariantRepository {
	return &VariantRepository{
		variants: make(map[string]domain.Variant),
		locks:    keylock.New(lockTimeout),
	}
}

// Put inserts or replaces a variant.
func (r *VariantRepository) Put(v domain.Variant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[v.ID] = v
}

func (r *VariantRepository) Get(_ context.Context, id string) (domain.Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[id]
	if !ok {
		return domain.Variant{}, fmt.Errorf("%w: %s", domain.ErrVariantNotFound, id)
	}
	return v, nil
}

func (r *VariantRepository) LockForUpdate(ctx context.Context, id string) (domain.Variant, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return domain.Variant{}, err
	}
	if err := memtx.Lock(ctx, r.locks, id); err != nil {
		return domain.Variant{}, err
	}
	return r.Get(ctx, id)
}

func (r *VariantRepository) AdjustStock(ctx context.Context, id string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.variants[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrVariantNotFound, id)
	}
	if v.StockQuantity+delta < 0 {
		return fmt.Errorf("stock for variant %s would drop below zero", v.SKU)
	}
	v.StockQuantity += delta
	r.variants[id] = v

	memtx.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		v := r.variants[id]
		v.StockQuantity -= delta
		r.variants[id] = v
	})
	return nil
}

type ReservationRepository struct {
	mu           sync.RWMutex
	reservations map[string]domain.Reservation
}

func NewReservationRepository() *ReservationRepository {
	return &ReservationRepository{reservations: make(map[string]domain.Reservation)}
}

func (r *ReservationRepository) Insert(ctx context.Context, res domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reservations[res.ID]; ok {
		return fmt.Errorf("reservation %s already exists", res.ID)
	}
	r.reservations[res.ID] = res

	memtx.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.reservations, res.ID)
	})
	return nil
}

// GetMany returns the reservations that exist, in the order of ids.
func (r *ReservationRepository) GetMany(_ context.Context, ids []string) ([]domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Reservation, 0, len(ids))
	for _, id := range ids {
		if res, ok := r.reservations[id]; ok {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *ReservationRepository) ListByOrder(_ context.Context, orderID string) ([]domain.Reservation, error) {
	return r.filter(func(res domain.Reservation) bool { return res.OrderID == orderID }, 0), nil
}

func (r *ReservationRepository) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	return r.filter(func(res domain.Reservation) bool {
		return res.Status == domain.ReservationActive && res.ExpiredAt(now)
	}, limit), nil
}

func (r *ReservationRepository) Transition(ctx context.Context, id string, from []domain.ReservationStatus, to domain.ReservationStatus, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.reservations[id]
	if !ok || !slices.Contains(from, prev.Status) {
		return false, nil
	}
	next := prev
	next.Status = to
	if orderID != "" {
		next.OrderID = orderID
	}
	r.reservations[id] = next

	memtx.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.reservations[id] = prev
	})
	return true, nil
}

func (r *ReservationRepository) filter(keep func(domain.Reservation) bool, limit int) []domain.Reservation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Reservation
	for _, res := range r.reservations {
		if keep(res) {
			out = append(out, res)
		}
	}
	slices.SortFunc(out, func(a, b domain.Reservation) int {
		return a.ReservedAt.Compare(b.ReservedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
