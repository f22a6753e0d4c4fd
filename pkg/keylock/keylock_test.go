package keylock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmehra2102/drop-checkout/pkg/retry"
)

func TestTable_SerializesSameKey(t *testing.T) {
	table := New(time.Second)
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := table.Lock(context.Background(), "variant-1")
			if err != nil {
				t.Errorf("Expected no error, got: %v", err)
				return
			}
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("Expected counter 50, got %d", counter)
	}
	if table.Len() != 0 {
		t.Errorf("Expected empty table, got %d entries", table.Len())
	}
}

func TestTable_TimesOut(t *testing.T) {
	table := New(20 * time.Millisecond)
	unlock, err := table.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer unlock()

	_, err = table.Lock(context.Background(), "k")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got: %v", err)
	}
	if !retry.IsTransient(err) {
		t.Error("Expected timeout to be transient")
	}
}

func TestTable_IndependentKeys(t *testing.T) {
	table := New(20 * time.Millisecond)
	unlockA, err := table.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer unlockA()

	unlockB, err := table.Lock(context.Background(), "b")
	if err != nil {
		t.Fatalf("Expected lock on other key, got: %v", err)
	}
	unlockB()
}

func TestTable_ReleaseIsIdempotent(t *testing.T) {
	table := New(20 * time.Millisecond)
	unlock, _ := table.Lock(context.Background(), "k")
	unlock()
	unlock()

	unlock2, err := table.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	unlock2()
}
