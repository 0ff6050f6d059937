package publisher

import (
	"context"

	"github.com/Checker-Finance/settlement/pkg/eventbus"
	"github.com/Checker-Finance/settlement/pkg/logger"
	"github.com/Checker-Finance/settlement/pkg/model"
)

// Attach forwards engine events from bus to NATS. Failures are logged and
// counted by PublishEnvelope; the engine never sees them.
func (p *Publisher) Attach(bus *eventbus.Bus) {
	eventbus.Subscribe(bus, func(ctx context.Context, s model.Settlement) {
		if err := p.PublishSettlement(ctx, s); err != nil {
			logger.S().Warnw("publisher.settlement_dropped", "quote_id", s.QuoteID.Hex())
		}
	})
	eventbus.Subscribe(bus, func(ctx context.Context, ev model.FeeRateUpdated) {
		_ = p.PublishFeeRateUpdated(ctx, ev)
	})
	eventbus.Subscribe(bus, func(ctx context.Context, ev model.FeesWithdrawn) {
		_ = p.PublishFeesWithdrawn(ctx, ev)
	})
}
