package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dmehra2102/drop-checkout/internal/inventory/application"
	"github.com/dmehra2102/drop-checkout/internal/inventory/domain"
	"github.com/dmehra2102/drop-checkout/internal/inventory/infrastructure/memory"
	"github.com/dmehra2102/drop-checkout/pkg/memtx"
)

type fixture struct {
	manager      *application.Manager
	variants     *memory.VariantRepository
	reservations *memory.ReservationRepository
	clock        *clock
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T, opts ...application.Option) *fixture {
	t.Helper()
	variants := memory.NewVariantRepository(time.Second)
	reservations := memory.NewReservationRepository()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]application.Option{application.WithClock(c.Now)}, opts...)
	return &fixture{
		manager:      application.NewManager(log, memtx.NewTransactor(), variants, reservations, opts...),
		variants:     variants,
		reservations: reservations,
		clock:        c,
	}
}

func (f *fixture) seed(id, sku string, stock int) {
	f.variants.Put(domain.Variant{ID: id, ProductName: "Drop Tee", SKU: sku, Size: "M", Color: "Black", PriceCents: 2500, StockQuantity: stock, Active: true})
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	v, err := f.variants.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Expected variant %s, got: %v", id, err)
	}
	return v.StockQuantity
}

func (f *fixture) status(t *testing.T, id string) domain.ReservationStatus {
	t.Helper()
	res, _ := f.reservations.GetMany(context.Background(), []string{id})
	if len(res) != 1 {
		t.Fatalf("Expected reservation %s to exist", id)
	}
	return res[0].Status
}

func TestManager_AcquireDecrementsStock(t *testing.T) {
	f := newFixture(t)
	f.seed("v1", "ABC-M-BLK", 10)

	res, err := f.manager.Acquire(context.Background(), "v1", 2, 15*time.Minute)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if res.Status != domain.ReservationActive {
		t.Errorf("Expected status ACTIVE, got %s", res.Status)
	}
	if !res.ExpiresAt.Equal(f.clock.Now().Add(15 * time.Minute)) {
		t.Errorf("Expected expiresAt %v, got %v", f.clock.Now().Add(15*time.Minute), res.ExpiresAt)
	}
	if got := f.stock(t, "v1"); got != 8 {
		t.Errorf("Expected stock 8, got %d", got)
	}
	avail, _ := f.manager.AvailableStock(context.Background(), "v1")
	if avail != 8 {
		t.Errorf("Expected available stock 8, got %d", avail)
	}
}

func TestManager_AcquireInsufficientStock(t *testing.T) {
	f := newFixture(t)
	f.seed("v1", "ABC-M-BLK", 1)

	_, err := f.manager.Acquire(context.Background(), "v1", 2, time.Minute)
	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected InsufficientStockError, got: %v", err)
	}
	if insufficient.Requested != 2 || insufficient.Available != 1 || insufficient.SKU != "ABC-M-BLK" {
		t.Errorf("Unexpected error details: %+v", insufficient)
	}
	if got := f.stock(t, "v1"); got != 1 {
		t.Errorf("Expected stock unchanged at 1, got %d", got)
	}
}

func TestManager_AcquireValidation(t *testing.T) {
	f := newFixture(t)
	f.seed("v1", "ABC-M-BLK", 5)
	f.variants.Put(domain.Variant{ID: "v2", SKU: "OLD-S", StockQuantity: 5, Active: false})

	if _, err := f.manager.Acquire(context.Background(), "v1", 0, time.Minute); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Errorf("Expected ErrInvalidQuantity, got: %v", err)
	}
	if _, err := f.manager.Acquire(context.Background(), "missing", 1, time.Minute); !errors.Is(err, domain.ErrVariantNotFound) {
		t.Errorf("Expected ErrVariantNotFound, got: %v", err)
	}
	if _, err := f.manager.Acquire(context.Background(), "v2", 1, time.Minute); !errors.Is(err, domain.ErrVariantInactive) {
		t.Errorf("Expected ErrVariantInactive, got: %v", err)
	}
}

func TestManager_NoOversellUnderContention(t *testing.T) {
	f := newFixture(t)
	const stock = 7
	f.seed("v1", "ABC-M-BLK", stock)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	quantities := []int{1, 2, 3, 1, 2, 1, 3, 2, 1, 1, 2, 3}
	for _, q := range quantities {
		wg.Add(1)
		go func(q int) {
			defer wg.Done()
			_, err := f.manager.Acquire(context.Background(), "v1", q, time.Minute)
			mu.Lock()
			defer mu.Unlock()
			var insufficient *domain.InsufficientStockError
			switch {
			case err == nil:
				succeeded += q
			case errors.As(err, &insufficient):
				rejected++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}(q)
	}
	wg.Wait()

	if succeeded > stock {
		t.Fatalf("Oversold: %d units reserved from stock %d", succeeded, stock)
	}
	if got := f.stock(t, "v1"); got != stock-succeeded {
		t.Errorf("Expected stock %d, got %d", stock-succeeded, got)
	}
	if rejected == 0 {
		t.Error("Expected some acquirers to be rejected")
	}
}

func TestManager_LastItemRace(t *testing.T) {
	f := newFixture(t)
	f.seed("v1", "ABC-M-BLK", 1)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Acquire(context.Background(), "v1", 1, 15*time.Minute)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins, losses := 0, 0
	for err := range errs {
		var insufficient *domain.InsufficientStockError
		switch {
		case err == nil:
			wins++
		case errors.As(err, &insufficient):
			losses++
			if insufficient.Available != 0 || insufficient.Requested != 1 {
				t.Errorf("Expected available 0 requested 1, got %+v", insufficient)
			}
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Errorf("Expected one winner and one loser, got %d/%d", wins, losses)
	}
	if got := f.stock(t, "v1"); got != 0 {
		t.Errorf("Expected stock 0, got %d", got)
	}
}

func TestManager_ReleaseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed("v1", "ABC-M-BLK", 5)
	res, _ := f.manager.Acquire(context.Background(), "v1", 3, time.Minute)

	n, err := f.manager.Release(context.Background(), []domain.Reservation{res})
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 released, got %d (%v)", n, err)
	}
	n, err = f.manager.Release(context.Background(), []domain.Reservation{res})
	if err != nil || n != 0 {
		t.Fatalf("Expected second release to be a no-op, got %d (%v)", n, err)
	}
	if got := f.stock(t, "v1"); got != 5 {
		t.Errorf("Expected stock restored once to 5, got %d", got)
	}
	if s := f.status(t, res.ID); s != domain.ReservationExpired {
		t.Errorf("Expected EXPIRED, got %s", s)
	}
}

func TestManager_ReleaseHandlesSameVariantTwice(t *testing.T) {
	f := newFixture(t)
	f.seed("v1", "ABC-M-BLK", 5)
	a, _ := f.manager.Acquire(context.Background(), "v1", 1, time.Minute)
	b, _ := f.manager.Acquire(context.Background(), "v1", 2, time.Minute)

	n, err := f.manager.Release(context.Background(), []domain.Reservation{a, b})
	if err != nil || n != 2 {
		t.Fatalf("Expected 2 released, got %d (%v)", n, err)
	}
	if got := f.stock(t, "v1"); got != 5 {
		t.Errorf("Expected stock 5, got %d", got)
	}
}

func TestManager_CommitIsStockNeutral(t *testing.T) {
	f := newFixture(t)
	f.seed("v1", "ABC-M-BLK", 5)
	res, _ := f.manager.Acquire(context.Background(), "v1", 2, time.Minute)

	if err := f.manager.Commit(context.Background(), "order-1", []domain.Reservation{res}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got := f.stock(t, "v1"); got != 3 {
		t.Errorf("Expected stock 3 after commit, got %d", got)
	}
	linked, _ := f.manager.ReservationsForOrder(context.Background(), "order-1")
	if len(linked) != 1 || linked[0].Status != domain.ReservationCommitted {
		t.Fatalf("Expected 1 committed reservation linked to order, got %+v", linked)
	}

	if err := f.manager.Commit(context.Background(), "order-1", linked); err != nil {
		t.Errorf("Expected re-commit to same order to succeed, got: %v", err)
	}
	if err := f.manager.Commit(context.Background(), "order-2", linked); !errors.Is(err, domain.ErrReservationConflict) {
		t.Errorf("Expected ErrReservationConflict, got: %v", err)
	}
	if got := f.stock(t, "v1"); got != 3 {
		t.Errorf("Expected stock still 3, got %d", got)
	}
}

func TestManager_CommitExpiredFailsAndRollsBack(t *testing.T) {
	f := newFixture(t)
	f.seed("v1", "ABC-M-BLK", 5)
	f.seed("v2", "ABC-L-BLK", 5)
	a, _ := f.manager.Acquire(context.Background(), "v1", 1, time.Minute)
	b, _ := f.manager.Acquire(context.Background(), "v2", 1, time.Minute)
	_, _ = f.manager.Release(context.Background(), []domain.Reservation{b})

	err := f.manager.Commit(context.Background(), "order-1", []domain.Reservation{a, b})
	if !errors.Is(err, domain.ErrReservationExpired) {
		t.Fatalf("Expected ErrReservationExpired, got: %v", err)
	}
	if s := f.status(t, a.ID); s != domain.ReservationActive {
		t.Errorf("Expected first reservation rolled back to ACTIVE, got %s", s)
	}
}

func TestManager_ReleaseCommittedRestoresStock(t *testing.T) {
	f := newFixture(t)
	f.seed("v1", "ABC-M-BLK", 5)
	res, _ := f.manager.Acquire(context.Background(), "v1", 2, time.Minute)
	_ = f.manager.Commit(context.Background(), "order-1", []domain.Reservation{res})

	n, err := f.manager.Release(context.Background(), []domain.Reservation{res})
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 released, got %d (%v)", n, err)
	}
	if got := f.stock(t, "v1"); got != 5 {
		t.Errorf("Expected stock 5, got %d", got)
	}
}

func TestManager_SweepExpired(t *testing.T) {
	f := newFixture(t)
	f.seed("v1", "ABC-M-BLK", 5)
	res, _ := f.manager.Acquire(context.Background(), "v1", 2, 15*time.Minute)
	fresh, _ := f.manager.Acquire(context.Background(), "v1", 1, time.Hour)

	f.clock.Advance(16 * time.Minute)
	n, err := f.manager.SweepExpired(context.Background(), f.clock.Now(), 10)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 expired, got %d", n)
	}
	if s := f.status(t, res.ID); s != domain.ReservationExpired {
		t.Errorf("Expected EXPIRED, got %s", s)
	}
	if s := f.status(t, fresh.ID); s != domain.ReservationActive {
		t.Errorf("Expected fresh hold ACTIVE, got %s", s)
	}
	if got := f.stock(t, "v1"); got != 4 {
		t.Errorf("Expected stock 4, got %d", got)
	}
}

func TestManager_SweepSkipsCommitted(t *testing.T) {
	f := newFixture(t)
	f.seed("v1", "ABC-M-BLK", 5)
	res, _ := f.manager.Acquire(context.Background(), "v1", 2, time.Minute)
	_ = f.manager.Commit(context.Background(), "order-1", []domain.Reservation{res})

	f.clock.Advance(time.Hour)
	n, _ := f.manager.SweepExpired(context.Background(), f.clock.Now(), 10)
	if n != 0 {
		t.Errorf("Expected committed hold to be left alone, got %d expired", n)
	}
	if got := f.stock(t, "v1"); got != 3 {
		t.Errorf("Expected stock 3, got %d", got)
	}
}

func TestManager_ConcurrentSweepersRestoreOnce(t *testing.T) {
	f := newFixture(t)
	f.seed("v1", "ABC-M-BLK", 20)
	for i := 0; i < 10; i++ {
		if _, err := f.manager.Acquire(context.Background(), "v1", 2, time.Minute); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}
	f.clock.Advance(2 * time.Minute)

	var wg sync.WaitGroup
	counts := make([]int, 4)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := f.manager.SweepExpired(context.Background(), f.clock.Now(), 3)
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			counts[i] = n
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	if total != 10 {
		t.Errorf("Expected 10 reservations expired across sweepers, got %d", total)
	}
	if got := f.stock(t, "v1"); got != 20 {
		t.Errorf("Expected stock restored exactly once to 20, got %d", got)
	}
}

func TestManager_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := application.NewMetrics(reg)
	f := newFixture(t, application.WithMetrics(metrics))
	f.seed("v1", "ABC-M-BLK", 1)

	_, _ = f.manager.Acquire(context.Background(), "v1", 1, time.Minute)
	_, _ = f.manager.Acquire(context.Background(), "v1", 1, time.Minute)

	if got := testutil.ToFloat64(metrics.Acquired()); got != 1 {
		t.Errorf("Expected 1 acquired, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Rejected()); got != 1 {
		t.Errorf("Expected 1 rejected, got %v", got)
	}
}

func TestManager_CancelLeavesCommittedHolds(t *testing.T) {
	f := newFixture(t)
	f.seed("v1", "ABC-M-BLK", 5)
	held, _ := f.manager.Acquire(context.Background(), "v1", 1, time.Minute)
	sold, _ := f.manager.Acquire(context.Background(), "v1", 2, time.Minute)
	_ = f.manager.Commit(context.Background(), "order-1", []domain.Reservation{sold})

	n, err := f.manager.Cancel(context.Background(), []domain.Reservation{held, sold})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected only the active hold cancelled, got %d", n)
	}
	if s := f.status(t, sold.ID); s != domain.ReservationCommitted {
		t.Errorf("Expected committed hold untouched, got %s", s)
	}
	if got := f.stock(t, "v1"); got != 3 {
		t.Errorf("Expected stock 3, got %d", got)
	}
}

func TestManager_CommitPastDeadlineBeforeSweep(t *testing.T) {
	f := newFixture(t)
	f.seed("v1", "ABC-M-BLK", 5)
	res, _ := f.manager.Acquire(context.Background(), "v1", 2, 15*time.Minute)

	f.clock.Advance(16 * time.Minute)
	err := f.manager.Commit(context.Background(), "order-1", []domain.Reservation{res})
	if !errors.Is(err, domain.ErrReservationExpired) {
		t.Fatalf("Expected ErrReservationExpired, got: %v", err)
	}
	if s := f.status(t, res.ID); s != domain.ReservationActive {
		t.Errorf("Expected hold left ACTIVE for the sweeper, got %s", s)
	}
	if n, _ := f.manager.SweepExpired(context.Background(), f.clock.Now(), 10); n != 1 {
		t.Errorf("Expected sweeper to reclaim the hold, got %d", n)
	}
	if got := f.stock(t, "v1"); got != 5 {
		t.Errorf("Expected stock 5, got %d", got)
	}
}

// drainedFirstBatch hands out its first batch only after another worker has
// already expired every row in it.
type drainedFirstBatch struct {
	*memory.ReservationRepository
	once  sync.Once
	other *application.Manager
}

func (r *drainedFirstBatch) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	batch, err := r.ReservationRepository.ListExpired(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	r.once.Do(func() { _, err = r.other.Cancel(ctx, batch) })
	return batch, err
}

func TestManager_SweepContinuesPastDrainedBatch(t *testing.T) {
	f := newFixture(t)
	f.seed("v1", "ABC-M-BLK", 20)
	for i := 0; i < 7; i++ {
		if _, err := f.manager.Acquire(context.Background(), "v1", 2, time.Minute); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}
	f.clock.Advance(2 * time.Minute)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tx := memtx.NewTransactor()
	repo := &drainedFirstBatch{
		ReservationRepository: f.reservations,
		other:                 application.NewManager(log, tx, f.variants, f.reservations, application.WithClock(f.clock.Now)),
	}
	sweeper := application.NewManager(log, tx, f.variants, repo, application.WithClock(f.clock.Now))

	n, err := sweeper.SweepExpired(context.Background(), f.clock.Now(), 3)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if n != 4 {
		t.Errorf("Expected the remaining 4 holds expired after the drained batch, got %d", n)
	}
	if got := f.stock(t, "v1"); got != 20 {
		t.Errorf("Expected stock restored exactly once to 20, got %d", got)
	}
}
