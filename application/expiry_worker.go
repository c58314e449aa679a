package application

import (
	"context"
	"sync"
	"time"

	"betledger/models"

	log "github.com/sirupsen/logrus"
)

// BetSweeper is the part of the lifecycle manager the worker drives
type BetSweeper interface {
	TransitionExpiredBets(ctx context.Context) (int, error)
	NotifyExpiringBets(ctx context.Context) (int, error)
}

// PayoutReconciler retries payouts left unpaid by a partial settlement
type PayoutReconciler interface {
	ReconcilePayouts(ctx context.Context, limit int) (*models.ReconcileSummary, error)
}

// SweepResult summarises one pass of the worker
type SweepResult struct {
	Locked     int
	Notified   int
	Reconciled *models.ReconcileSummary
}

// ExpiryWorker locks expired bets, sends expiring notices and reconciles
// unpaid payouts on a fixed interval
type ExpiryWorker struct {
	sweeper    BetSweeper
	reconciler PayoutReconciler
	interval   time.Duration
	batchSize  int
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(sweeper BetSweeper, reconciler PayoutReconciler, interval time.Duration, batchSize int) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpiryWorker{
		sweeper:    sweeper,
		reconciler: reconciler,
		interval:   interval,
		batchSize:  batchSize,
	}
}

// RunOnce performs a single pass. Each step runs even when an earlier one
// failed; the first error is returned.
func (w *ExpiryWorker) RunOnce(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}
	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	locked, err := w.sweeper.TransitionExpiredBets(ctx)
	if err != nil {
		log.WithError(err).Error("Error transitioning expired bets")
		keep(err)
	}
	result.Locked = locked

	notified, err := w.sweeper.NotifyExpiringBets(ctx)
	if err != nil {
		log.WithError(err).Error("Error sending expiring notices")
		keep(err)
	}
	result.Notified = notified

	if w.reconciler != nil {
		summary, err := w.reconciler.ReconcilePayouts(ctx, w.batchSize)
		if err != nil {
			log.WithError(err).Error("Error reconciling payouts")
			keep(err)
		}
		result.Reconciled = summary
	}

	fields := log.Fields{
		"locked":   result.Locked,
		"notified": result.Notified,
	}
	if result.Reconciled != nil {
		fields["payoutsAttempted"] = result.Reconciled.Attempted
		fields["payoutsPaid"] = result.Reconciled.Paid
	}
	log.WithFields(fields).Debug("Expiry sweep completed")

	return result, firstErr
}

// Start runs a pass immediately and then on every tick until ctx is done or
// the returned cleanup function is called. Cleanup waits for the running
// pass to finish.
func (w *ExpiryWorker) Start(ctx context.Context) func() {
	ticker := time.NewTicker(w.interval)
	stopChan := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer ticker.Stop()

		log.WithField("interval", w.interval).Info("Expiry worker started")
		_, _ = w.RunOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				log.Info("Expiry worker shutting down (context cancelled)...")
				return
			case <-stopChan:
				log.Info("Expiry worker shutting down (stop requested)...")
				return
			case <-ticker.C:
				_, _ = w.RunOnce(ctx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopChan)
		})
		<-done
	}
}
