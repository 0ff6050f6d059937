package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/pkg/eventbus"
	"github.com/Checker-Finance/settlement/pkg/model"
)

// Attach persists every engine event published on bus.
func Attach(bus *eventbus.Bus, st Store, logger *zap.Logger) {
	eventbus.Subscribe(bus, func(ctx context.Context, s model.Settlement) {
		if err := st.RecordSettlement(ctx, s); err != nil {
			logger.Warn("store.settlement_persist_failed", zap.String("quote_id", s.QuoteID.Hex()), zap.Error(err))
		}
	})
	eventbus.Subscribe(bus, func(ctx context.Context, ev model.FeeRateUpdated) {
		if err := st.RecordFeeRateChange(ctx, ev); err != nil {
			logger.Warn("store.fee_rate_persist_failed", zap.Error(err))
		}
	})
	eventbus.Subscribe(bus, func(ctx context.Context, ev model.FeesWithdrawn) {
		if err := st.RecordWithdrawal(ctx, ev); err != nil {
			logger.Warn("store.withdrawal_persist_failed", zap.String("asset", ev.Asset.Hex()), zap.Error(err))
		}
	})
}
