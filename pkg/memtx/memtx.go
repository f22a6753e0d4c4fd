// Package memtx gives in-memory repositories a unit of work: writes register
// undo steps that run if the transaction fails, and held locks register
// release steps that run when it ends either way.
package memtx

import (
	"context"
	"errors"
	"sync"

	"github.com/dmehra2102/drop-checkout/pkg/keylock"
)

var ErrNoTx = errors.New("memtx: no transaction in context")

type ctxKey struct{}

type heldKey struct {
	table *keylock.Table
	key   string
}

type Tx struct {
	mu      sync.Mutex
	undo    []func()
	release []func()
	held    map[heldKey]struct{}
}

type Transactor struct{}

func NewTransactor() *Transactor { return &Transactor{} }

// WithinTx runs fn inside a transaction. A transaction already present in ctx
// is joined, so nested calls commit or roll back with the outermost one.
func (Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if From(ctx) != nil {
		return fn(ctx)
	}
	tx := &Tx{}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			tx.finish()
			panic(p)
		}
		if err != nil {
			tx.rollback()
		}
		tx.finish()
	}()
	return fn(context.WithValue(ctx, ctxKey{}, tx))
}

func From(ctx context.Context) *Tx {
	tx, _ := ctx.Value(ctxKey{}).(*Tx)
	return tx
}

// OnRollback registers an undo step for the transaction in ctx. Without a
// transaction the write is already final and nothing is recorded.
func OnRollback(ctx context.Context, fn func()) {
	if tx := From(ctx); tx != nil {
		tx.mu.Lock()
		tx.undo = append(tx.undo, fn)
		tx.mu.Unlock()
	}
}

// OnFinish registers a step to run when the transaction in ctx ends.
func OnFinish(ctx context.Context, fn func()) error {
	tx := From(ctx)
	if tx == nil {
		return ErrNoTx
	}
	tx.mu.Lock()
	tx.release = append(tx.release, fn)
	tx.mu.Unlock()
	return nil
}

// Lock takes key in table until the transaction in ctx ends. A key the
// transaction already holds is not taken again.
func Lock(ctx context.Context, table *keylock.Table, key string) error {
	tx := From(ctx)
	if tx == nil {
		return ErrNoTx
	}
	hk := heldKey{table: table, key: key}
	tx.mu.Lock()
	_, ok := tx.held[hk]
	tx.mu.Unlock()
	if ok {
		return nil
	}

	unlock, err := table.Lock(ctx, key)
	if err != nil {
		return err
	}
	tx.mu.Lock()
	if tx.held == nil {
		tx.held = make(map[heldKey]struct{})
	}
	tx.held[hk] = struct{}{}
	tx.release = append(tx.release, unlock)
	tx.mu.Unlock()
	return nil
}

func (tx *Tx) rollback() {
	tx.mu.Lock()
	undo := tx.undo
	tx.undo = nil
	tx.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

func (tx *Tx) finish() {
	tx.mu.Lock()
	release := tx.release
	tx.release = nil
	tx.mu.Unlock()
	for i := len(release) - 1; i >= 0; i-- {
		release[i]()
	}
}
