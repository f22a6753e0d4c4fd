package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmehra2102/drop-checkout/internal/order/domain"
	"github.com/dmehra2102/drop-checkout/pkg/keylock"
	"github.com/dmehra2102/drop-checkout/pkg/memtx"
)

type Repository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	tokens map[string]string
	seq    int64
	locks  *keylock.Table
}

func NewRepository(lockTimeout time.Duration) *Repository {
	return &Repository{
		orders: make(map[string]domain.Order),
		tokens: make(map[string]string),
		locks:  keylock.New(lockTimeout),
	}
}

func (r *Repository) Create(ctx context.Context, o domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	if _, ok := r.tokens[o.TrackingToken]; ok {
		return fmt.Errorf("tracking token already in use")
	}
	o.Items = slices.Clone(o.Items)
	r.orders[o.ID] = o
	r.tokens[o.TrackingToken] = o.ID
	memtx.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.orders, o.ID)
		delete(r.tokens, o.TrackingToken)
	})
	return nil
}

func (r *Repository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	o.Items = slices.Clone(o.Items)
	return o, nil
}

func (r *Repository) GetByTrackingToken(ctx context.Context, token string) (domain.Order, error) {
	r.mu.RLock()
	id, ok := r.tokens[token]
	r.mu.RUnlock()
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.Get(ctx, id)
}

func (r *Repository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return domain.Order{}, err
	}
	if err := memtx.Lock(ctx, r.locks, id); err != nil {
		return domain.Order{}, err
	}
	return r.Get(ctx, id)
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	if o.Status != from {
		return false, nil
	}
	prev := o
	o.Status = to
	o.UpdatedAt = at
	r.orders[id] = o
	memtx.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.orders[id] = prev
	})
	return true, nil
}

func (r *Repository) NextNumber(_ context.Context, day time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return domain.FormatNumber(day, r.seq), nil
}
