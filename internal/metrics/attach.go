package metrics

import (
	"context"
	"strings"

	"github.com/Checker-Finance/settlement/pkg/eventbus"
	"github.com/Checker-Finance/settlement/pkg/model"
)

// Attach tracks accrued fees and the current fee rate from engine events.
// Fees are charged on the output asset.
func Attach(bus *eventbus.Bus) {
	eventbus.Subscribe(bus, func(_ context.Context, s model.Settlement) {
		AddFee(strings.ToLower(s.TokenOut.Hex()), s.Fee)
	})
	eventbus.Subscribe(bus, func(_ context.Context, ev model.FeeRateUpdated) {
		SetFeeRate(ev.NewRateBps)
	})
}
