// Package syncer coordinates balance reconciliation against the exchange.
// At most one sync runs per user at a time; concurrent attempts are turned
// away with an in-progress result instead of queueing.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coinledger/portfolio-engine/internal/exchange"
	"github.com/coinledger/portfolio-engine/internal/ledger"
	"github.com/coinledger/portfolio-engine/internal/metrics"
	"github.com/coinledger/portfolio-engine/internal/model"
	"github.com/coinledger/portfolio-engine/internal/oracle"
	"github.com/coinledger/portfolio-engine/internal/store"
)

// Outcome values reported by Sync.
const (
	OutcomeSuccess    = "success"
	OutcomeFailed     = "failed"
	OutcomeInProgress = "in_progress"
)

// Stored error messages are capped so a pathological upstream error cannot
// bloat the sync_state row.
const maxErrorLen = 500

// Result reports what a sync attempt did.
type Result struct {
	Status        string                  `json:"status"`
	Message       string                  `json:"message,omitempty"`
	Reconciled    *ledger.ReconcileResult `json:"reconciled,omitempty"`
	Duration      time.Duration           `json:"-"`
	DurationMilli int64                   `json:"duration_ms"`
}

// Coordinator runs the sync pipeline: acquire the per-user marker, pull
// balances from the exchange, price them, reconcile the ledger, record the
// outcome, release the marker.
type Coordinator struct {
	store    store.Store
	ledger   *ledger.Ledger
	balances exchange.BalanceProvider
	prices   oracle.Oracle
	locks    KeyLock
	logger   *slog.Logger
	timeout  time.Duration
}

// NewCoordinator wires a sync coordinator. A nil logger falls back to
// slog.Default; a zero timeout defaults to 30s per sync.
func NewCoordinator(st store.Store, lg *ledger.Ledger, bp exchange.BalanceProvider, or oracle.Oracle, locks KeyLock, logger *slog.Logger, timeout time.Duration) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Coordinator{
		store:    st,
		ledger:   lg,
		balances: bp,
		prices:   or,
		locks:    locks,
		logger:   logger,
		timeout:  timeout,
	}
}

// Sync reconciles one user's holdings against exchange balances. A second
// call for the same user while one is running returns an in-progress result
// and a nil error; that is a normal signal, not a failure. Any failure after
// the marker is acquired is recorded in sync state and the marker is always
// released, including on panic.
func (c *Coordinator) Sync(ctx context.Context, userID string) (res *Result, err error) {
	acquired, lockErr := c.locks.TryAcquire(ctx, userID)
	if lockErr != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", lockErr)
	}
	if !acquired {
		metrics.SyncsTotal.WithLabelValues(OutcomeInProgress).Inc()
		return &Result{Status: OutcomeInProgress, Message: "sync already running"}, nil
	}

	start := time.Now()
	defer func() {
		// Release with a fresh context: the caller's may already be
		// canceled, and a stuck marker blocks every future sync.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rErr := c.locks.Release(releaseCtx, userID); rErr != nil {
			c.logger.Error("failed to release sync lock", "user_id", userID, "error", rErr)
		}

		if r := recover(); r != nil {
			panicErr := fmt.Errorf("sync panic: %v", r)
			c.recordFailure(userID, panicErr)
			res = &Result{Status: OutcomeFailed, Message: truncate(panicErr.Error())}
			err = panicErr
		}

		outcome := OutcomeFailed
		if res != nil {
			outcome = res.Status
		}
		metrics.SyncsTotal.WithLabelValues(outcome).Inc()
		metrics.SyncDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	balances, err := c.balances.GetBalances(ctx)
	if err != nil {
		c.recordFailure(userID, err)
		return &Result{Status: OutcomeFailed, Message: truncate(err.Error())}, fmt.Errorf("fetch balances: %w", err)
	}

	assets := make([]string, 0, len(balances))
	for _, b := range balances {
		assets = append(assets, b.Asset)
	}

	prices, err := c.prices.GetCurrentPrices(ctx, assets)
	if err != nil {
		// Price outages degrade to a quantity-only sync rather than
		// failing it; valuations stay stale until the next refresh.
		c.logger.Warn("price fetch failed, syncing quantities only", "user_id", userID, "error", err)
		metrics.PriceFetchesTotal.WithLabelValues("error").Inc()
		prices = nil
	} else {
		metrics.PriceFetchesTotal.WithLabelValues("ok").Inc()
	}

	rec, err := c.ledger.Reconcile(ctx, userID, balances, prices)
	if err != nil {
		c.recordFailure(userID, err)
		return &Result{Status: OutcomeFailed, Message: truncate(err.Error())}, fmt.Errorf("reconcile: %w", err)
	}

	now := time.Now().UTC()
	state := &model.SyncState{UserID: userID, LastSyncAt: &now, LastStatus: model.SyncStatusSuccess}
	if err := c.store.SetSyncState(ctx, state); err != nil {
		c.logger.Error("failed to record sync state", "user_id", userID, "error", err)
	}

	elapsed := time.Since(start)
	c.logger.Info("sync complete",
		"user_id", userID,
		"created", rec.Created,
		"updated", rec.Updated,
		"total_value_usd", rec.TotalValueUSD,
		"duration_ms", elapsed.Milliseconds())

	return &Result{
		Status:        OutcomeSuccess,
		Reconciled:    rec,
		Duration:      elapsed,
		DurationMilli: elapsed.Milliseconds(),
	}, nil
}

// Status returns the last recorded sync attempt plus whether a sync is
// running right now.
func (c *Coordinator) Status(ctx context.Context, userID string) (*model.SyncState, bool, error) {
	state, err := c.store.GetSyncState(ctx, userID)
	if err != nil && err != store.ErrNotFound {
		return nil, false, err
	}
	if err == store.ErrNotFound {
		state = &model.SyncState{UserID: userID}
	}

	// Read-only probe: acquiring the real marker here would race a
	// concurrent Sync and falsely reject it.
	running, lockErr := c.locks.IsHeld(ctx, userID)
	if lockErr != nil {
		return state, false, nil
	}
	return state, running, nil
}

// recordFailure persists a failed sync attempt. Recording uses a fresh
// context so a canceled sync still leaves a trace.
func (c *Coordinator) recordFailure(userID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	state := &model.SyncState{
		UserID:       userID,
		LastSyncAt:   &now,
		LastStatus:   model.SyncStatusFailed,
		ErrorMessage: truncate(cause.Error()),
	}
	if err := c.store.SetSyncState(ctx, state); err != nil {
		c.logger.Error("failed to record sync failure", "user_id", userID, "error", err)
	}
}

func truncate(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}
