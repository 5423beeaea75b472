package syncer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinledger/portfolio-engine/internal/ledger"
	"github.com/coinledger/portfolio-engine/internal/model"
	"github.com/coinledger/portfolio-engine/internal/oracle"
	"github.com/coinledger/portfolio-engine/internal/store"
	"github.com/coinledger/portfolio-engine/internal/syncer"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fakeBalances is a BalanceProvider with an optional delay and error, so
// tests can hold a sync open or make it fail.
type fakeBalances struct {
	mu       sync.Mutex
	entries  []model.BalanceEntry
	err      error
	delay    time.Duration
	panicMsg string
	calls    int
}

func (f *fakeBalances) GetBalances(ctx context.Context) ([]model.BalanceEntry, error) {
	f.mu.Lock()
	f.calls++
	entries, err, delay, panicMsg := f.entries, f.err, f.delay, f.panicMsg
	f.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return entries, err
}

type failingOracle struct{}

func (failingOracle) GetCurrentPrices(context.Context, []string) (map[string]decimal.Decimal, error) {
	return nil, oracle.ErrPriceUnavailable
}

func newCoordinator(t *testing.T, st store.Store, bp *fakeBalances, or oracle.Oracle) *syncer.Coordinator {
	t.Helper()
	return syncer.NewCoordinator(st, ledger.New(st), bp, or, syncer.NewMemoryKeyLock(), nil, 5*time.Second)
}

func TestSyncReconcilesBalances(t *testing.T) {
	st := store.NewMemoryStore()
	bp := &fakeBalances{entries: []model.BalanceEntry{
		{Asset: "BTC", Free: d(1.5), Total: d(1.5)},
		{Asset: "USDT", Free: d(1000), Total: d(1000)},
	}}
	or := oracle.NewStatic(map[string]decimal.Decimal{"BTC": d(40000), "USDT": d(1)})
	c := newCoordinator(t, st, bp, or)

	res, err := c.Sync(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Status != syncer.OutcomeSuccess {
		t.Fatalf("status = %q, want success", res.Status)
	}
	if res.Reconciled.Created != 2 {
		t.Errorf("created = %d, want 2", res.Reconciled.Created)
	}
	if !res.Reconciled.TotalValueUSD.Equal(d(61000)) {
		t.Errorf("total value = %s, want 61000", res.Reconciled.TotalValueUSD)
	}

	state, running, err := c.Status(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if running {
		t.Error("sync reported running after completion")
	}
	if state.LastStatus != model.SyncStatusSuccess {
		t.Errorf("last status = %q, want success", state.LastStatus)
	}
	if state.LastSyncAt == nil {
		t.Error("last sync time not recorded")
	}
}

func TestSyncConcurrentCallsOnlyOneRuns(t *testing.T) {
	st := store.NewMemoryStore()
	bp := &fakeBalances{
		entries: []model.BalanceEntry{{Asset: "ETH", Free: d(2), Total: d(2)}},
		delay:   200 * time.Millisecond,
	}
	or := oracle.NewStatic(map[string]decimal.Decimal{"ETH": d(2500)})
	c := newCoordinator(t, st, bp, or)

	results := make(chan string, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Sync(context.Background(), "bob")
			if err != nil {
				t.Errorf("Sync: %v", err)
				return
			}
			results <- res.Status
		}()
		// Stagger so the first goroutine holds the marker.
		time.Sleep(50 * time.Millisecond)
	}
	wg.Wait()
	close(results)

	var success, inProgress int
	for status := range results {
		switch status {
		case syncer.OutcomeSuccess:
			success++
		case syncer.OutcomeInProgress:
			inProgress++
		}
	}
	if success != 1 || inProgress != 1 {
		t.Fatalf("got %d success, %d in_progress; want 1 and 1", success, inProgress)
	}
	if bp.calls != 1 {
		t.Errorf("balance provider called %d times, want 1", bp.calls)
	}
}

func TestSyncFailureRecordsStateAndReleasesLock(t *testing.T) {
	st := store.NewMemoryStore()
	bp := &fakeBalances{err: errors.New("binance: 502 bad gateway")}
	or := oracle.NewStatic(nil)
	c := newCoordinator(t, st, bp, or)

	res, err := c.Sync(context.Background(), "carol")
	if err == nil {
		t.Fatal("expected error from failing balance fetch")
	}
	if res.Status != syncer.OutcomeFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}

	state, running, err := c.Status(context.Background(), "carol")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if running {
		t.Error("lock not released after failure")
	}
	if state.LastStatus != model.SyncStatusFailed {
		t.Errorf("last status = %q, want failed", state.LastStatus)
	}
	if state.ErrorMessage == "" {
		t.Error("error message not recorded")
	}

	// The marker must be free for the next attempt.
	bp.mu.Lock()
	bp.err = nil
	bp.entries = []model.BalanceEntry{{Asset: "BTC", Free: d(1), Total: d(1)}}
	bp.mu.Unlock()
	res, err = c.Sync(context.Background(), "carol")
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if res.Status != syncer.OutcomeSuccess {
		t.Errorf("retry status = %q, want success", res.Status)
	}
}

func TestSyncErrorMessageTruncated(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	st := store.NewMemoryStore()
	bp := &fakeBalances{err: errors.New(string(long))}
	c := newCoordinator(t, st, bp, oracle.NewStatic(nil))

	if _, err := c.Sync(context.Background(), "dave"); err == nil {
		t.Fatal("expected error")
	}
	state, _, err := c.Status(context.Background(), "dave")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(state.ErrorMessage) > 500 {
		t.Errorf("error message length = %d, want <= 500", len(state.ErrorMessage))
	}
}

func TestSyncPanicReleasesLock(t *testing.T) {
	st := store.NewMemoryStore()
	bp := &fakeBalances{panicMsg: "nil map write"}
	c := newCoordinator(t, st, bp, oracle.NewStatic(nil))

	res, err := c.Sync(context.Background(), "erin")
	if err == nil {
		t.Fatal("expected error from panicking sync")
	}
	if res.Status != syncer.OutcomeFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}

	_, running, err := c.Status(context.Background(), "erin")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if running {
		t.Error("lock not released after panic")
	}
}

func TestSyncPriceOutageDegradesToQuantityOnly(t *testing.T) {
	st := store.NewMemoryStore()
	bp := &fakeBalances{entries: []model.BalanceEntry{{Asset: "SOL", Free: d(10), Total: d(10)}}}
	c := newCoordinator(t, st, bp, failingOracle{})

	res, err := c.Sync(context.Background(), "frank")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Status != syncer.OutcomeSuccess {
		t.Fatalf("status = %q, want success", res.Status)
	}

	h, err := st.GetHolding(context.Background(), "frank", "SOL")
	if err != nil {
		t.Fatalf("GetHolding: %v", err)
	}
	if !h.TotalQuantity.Equal(d(10)) {
		t.Errorf("quantity = %s, want 10", h.TotalQuantity)
	}
	if h.CurrentPriceUSD != nil {
		t.Errorf("price = %s, want nil during outage", h.CurrentPriceUSD)
	}
}

func TestStatusPollDoesNotStealSyncMarker(t *testing.T) {
	st := store.NewMemoryStore()
	bp := &fakeBalances{entries: []model.BalanceEntry{{Asset: "BTC", Free: d(1), Total: d(1)}}}
	or := oracle.NewStatic(map[string]decimal.Decimal{"BTC": d(40000)})
	c := newCoordinator(t, st, bp, or)

	// Status pollers running flat out must never make a serial Sync
	// appear concurrent with another.
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					if _, _, err := c.Status(context.Background(), "alice"); err != nil {
						t.Errorf("Status: %v", err)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		res, err := c.Sync(context.Background(), "alice")
		if err != nil {
			t.Fatalf("Sync %d: %v", i, err)
		}
		if res.Status != syncer.OutcomeSuccess {
			t.Fatalf("serial Sync %d rejected as %q with no concurrent sync running", i, res.Status)
		}
	}
	close(done)
	wg.Wait()
}

func TestMemoryKeyLock(t *testing.T) {
	l := syncer.NewMemoryKeyLock()
	ctx := context.Background()

	held, err := l.IsHeld(ctx, "u1")
	if err != nil || held {
		t.Fatalf("IsHeld before acquire: held=%v err=%v", held, err)
	}
	ok, err := l.TryAcquire(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	// IsHeld observes without contending.
	held, err = l.IsHeld(ctx, "u1")
	if err != nil || !held {
		t.Fatalf("IsHeld after acquire: held=%v err=%v", held, err)
	}
	ok, err = l.TryAcquire(ctx, "u1")
	if err != nil || ok {
		t.Fatalf("second acquire: ok=%v err=%v, want held", ok, err)
	}
	// Different keys are independent.
	ok, err = l.TryAcquire(ctx, "u2")
	if err != nil || !ok {
		t.Fatalf("acquire u2: ok=%v err=%v", ok, err)
	}
	if err := l.Release(ctx, "u1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = l.TryAcquire(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("reacquire after release: ok=%v err=%v", ok, err)
	}
}
