// Package keylock provides an in-process table of exclusive locks keyed by
// string, with bounded waits.
package keylock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmehra2102/drop-checkout/pkg/retry"
)

var ErrTimeout = fmt.Errorf("keylock: wait timed out: %w", retry.ErrTransient)

type entry struct {
	ch   chan struct{}
	refs int
}

type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
}

// New returns a table whose Lock gives up after timeout. A zero timeout waits
// until the context is done.
func New(timeout time.Duration) *Table {
	return &Table{entries: make(map[string]*entry), timeout: timeout}
}

// Lock blocks until key is held exclusively and returns the function that
// releases it. The release function must be called exactly once.
func (t *Table) Lock(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	var timer <-chan time.Time
	if t.timeout > 0 {
		tm := time.NewTimer(t.timeout)
		defer tm.Stop()
		timer = tm.C
	}

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				t.drop(key, e)
			})
		}, nil
	case <-timer:
		t.drop(key, e)
		return nil, ErrTimeout
	case <-ctx.Done():
		t.drop(key, e)
		return nil, ctx.Err()
	}
}

func (t *Table) drop(key string, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
}

// Len reports how many keys are currently held or waited on.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
