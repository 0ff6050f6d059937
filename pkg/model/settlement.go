package model

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TradeModel identifies which entry point executed a settlement.
type TradeModel string

const (
	TradeModelUserInitiated    TradeModel = "RFQ-T" // user submits and may attach native value
	TradeModelRelayerInitiated TradeModel = "RFQ-M" // relayer submits with the user's signature
)

// Valid returns true if the model is one of the known constants.
func (m TradeModel) Valid() bool {
	switch m {
	case TradeModelUserInitiated, TradeModelRelayerInitiated:
		return true
	default:
		return false
	}
}

func (m TradeModel) String() string {
	return string(m)
}

// Label returns a metrics-safe lowercase label.
func (m TradeModel) Label() string {
	switch m {
	case TradeModelUserInitiated:
		return "user"
	case TradeModelRelayerInitiated:
		return "relayer"
	default:
		return "unknown"
	}
}

func (m *TradeModel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RFQ-T", "USER":
		*m = TradeModelUserInitiated
	case "RFQ-M", "RELAYER":
		*m = TradeModelRelayerInitiated
	default:
		return fmt.Errorf("invalid trade model: %s", s)
	}
	return nil
}

// Settlement is the record emitted for every successfully executed quote.
type Settlement struct {
	QuoteID      common.Hash    `json:"quote_id"`
	Digest       common.Hash    `json:"digest"`
	Model        TradeModel     `json:"model"`
	Caller       common.Address `json:"caller"`
	User         common.Address `json:"user"`
	MarketMaker  common.Address `json:"market_maker"`
	TokenIn      common.Address `json:"token_in"`
	TokenOut     common.Address `json:"token_out"`
	AmountIn     *big.Int       `json:"amount_in"`
	AmountOut    *big.Int       `json:"amount_out"`
	Fee          *big.Int       `json:"fee"`
	UserReceived *big.Int       `json:"user_received"`
	FeeRateBps   uint64         `json:"fee_rate_bps"`
	ExecutedAt   time.Time      `json:"executed_at"`
}

// FeeRateUpdated is emitted when the administrator changes the fee rate.
type FeeRateUpdated struct {
	OldRateBps uint64         `json:"old_rate_bps"`
	NewRateBps uint64         `json:"new_rate_bps"`
	UpdatedBy  common.Address `json:"updated_by"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// FeesWithdrawn is emitted when accrued fees for an asset are paid out.
type FeesWithdrawn struct {
	Asset       common.Address `json:"asset"`
	Recipient   common.Address `json:"recipient"`
	Amount      *big.Int       `json:"amount"`
	WithdrawnBy common.Address `json:"withdrawn_by"`
	WithdrawnAt time.Time      `json:"withdrawn_at"`
}

// FeeBalance is a point-in-time view of one asset's accrued fees.
type FeeBalance struct {
	Asset  common.Address `json:"asset"`
	Amount *big.Int       `json:"amount"`
	AsOf   time.Time      `json:"as_of"`
}
