package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmehra2102/drop-checkout/internal/cart/domain"
	"github.com/dmehra2102/drop-checkout/pkg/keylock"
	"github.com/dmehra2102/drop-checkout/pkg/memtx"
)

const lockTimeout = 3 * time.Second

type Repository struct {
	mu    sync.RWMutex
	carts map[string]domain.Cart
	locks *keylock.Table
}

func NewRepository() *Repository {
	return &Repository{carts: make(map[string]domain.Cart), locks: keylock.New(lockTimeout)}
}

func (r *Repository) Put(c domain.Cart) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Lines = slices.Clone(c.Lines)
	r.carts[c.ID] = c
}

func (r *Repository) Lines(_ context.Context, cartID string) ([]domain.Line, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.carts[cartID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCartNotFound, cartID)
	}
	return slices.Clone(c.Lines), nil
}

// LockLines holds the cart until the transaction in ctx ends, then reads it.
func (r *Repository) LockLines(ctx context.Context, cartID string) ([]domain.Line, error) {
	if err := memtx.Lock(ctx, r.locks, cartID); err != nil {
		return nil, err
	}
	return r.Lines(ctx, cartID)
}

func (r *Repository) Clear(ctx context.Context, cartID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[cartID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCartNotFound, cartID)
	}
	prev := c
	c.Lines = nil
	c.UpdatedAt = time.Now().UTC()
	r.carts[cartID] = c
	memtx.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.carts[cartID] = prev
	})
	return nil
}

func (r *Repository) DeleteStale(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, c := range r.carts {
		if c.UpdatedAt.Before(before) {
			delete(r.carts, id)
			n++
		}
	}
	return n, nil
}
