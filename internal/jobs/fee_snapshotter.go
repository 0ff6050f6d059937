package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/metrics"
	"github.com/Checker-Finance/settlement/pkg/model"
)

// FeeSource reports the accrued fee balance of every asset.
type FeeSource interface {
	FeeBalances(ctx context.Context) ([]model.FeeBalance, error)
}

// SnapshotStore persists fee snapshots.
type SnapshotStore interface {
	RecordFeeSnapshot(ctx context.Context, balances []model.FeeBalance) error
}

// SnapshotPublisher announces fee snapshots downstream.
type SnapshotPublisher interface {
	PublishFeeSnapshot(ctx context.Context, balances []model.FeeBalance) error
}

// FeeSnapshotter periodically records accrued fee balances and emits a
// snapshot event for treasury reconciliation. Store and publisher are both
// optional.
type FeeSnapshotter struct {
	logger    *zap.Logger
	source    FeeSource
	store     SnapshotStore
	publisher SnapshotPublisher
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewFeeSnapshotter(logger *zap.Logger, source FeeSource, store SnapshotStore, pub SnapshotPublisher, interval time.Duration) *FeeSnapshotter {
	return &FeeSnapshotter{
		logger:    logger,
		source:    source,
		store:     store,
		publisher: pub,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the snapshot loop until Stop is called or ctx is done.
func (f *FeeSnapshotter) Start(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Info("fee_snapshotter.started", zap.Duration("interval", f.interval))

	for {
		select {
		case <-ticker.C:
			_ = f.RunOnce(ctx)
		case <-f.stopCh:
			f.logger.Info("fee_snapshotter.stopped", zap.String("cause", "stop"))
			return
		case <-ctx.Done():
			f.logger.Info("fee_snapshotter.stopped", zap.String("cause", "context"))
			return
		}
	}
}

// Stop halts the loop. Safe to call more than once.
func (f *FeeSnapshotter) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
}

// RunOnce takes one snapshot. A store failure skips publication.
func (f *FeeSnapshotter) RunOnce(ctx context.Context) error {
	start := time.Now()

	balances, err := f.source.FeeBalances(ctx)
	if err != nil {
		f.logger.Error("fee_snapshotter.read_failed", zap.Error(err))
		metrics.IncError("fee_snapshotter", "read")
		return err
	}

	if f.store != nil {
		if err := f.store.RecordFeeSnapshot(ctx, balances); err != nil {
			f.logger.Error("fee_snapshotter.persist_failed", zap.Error(err))
			metrics.IncError("fee_snapshotter", "persist")
			return err
		}
	}

	if f.publisher != nil {
		if err := f.publisher.PublishFeeSnapshot(ctx, balances); err != nil {
			f.logger.Warn("fee_snapshotter.nats_publish_failed", zap.Error(err))
			metrics.IncError("fee_snapshotter", "publish")
		}
	}

	metrics.SetLastFeeSnapshot(time.Now())
	f.logger.Info("fee_snapshotter.success",
		zap.Int("assets", len(balances)),
		zap.Duration("duration", time.Since(start)))
	return nil
}
