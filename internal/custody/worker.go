package custody

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Worker runs the sweep and the deposit scan on independent tickers.
type Worker struct {
	sweeper    *Sweeper
	deposits   *Deposits
	sweepEvery time.Duration
	scanEvery  time.Duration
	logger     *zap.Logger
}

func NewWorker(sweeper *Sweeper, deposits *Deposits, sweepEvery, scanEvery time.Duration, logger *zap.Logger) *Worker {
	if sweepEvery <= 0 {
		sweepEvery = 5 * time.Minute
	}
	if scanEvery <= 0 {
		scanEvery = 30 * time.Second
	}
	return &Worker{
		sweeper:    sweeper,
		deposits:   deposits,
		sweepEvery: sweepEvery,
		scanEvery:  scanEvery,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("custody worker started",
		zap.Duration("sweep_interval", w.sweepEvery),
		zap.Duration("deposit_scan_interval", w.scanEvery))
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.sweeper.Run(ctx, w.sweepEvery) })
	g.Go(func() error { return w.deposits.Run(ctx, w.scanEvery) })
	err := g.Wait()
	w.logger.Info("custody worker stopped")
	return err
}
