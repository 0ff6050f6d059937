package model

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// QuotePayload is the JSON form of a Quote. Amounts are base-unit integer
// strings so they survive clients without big number support.
type QuotePayload struct {
	User        string `json:"user" toml:"user"`
	MarketMaker string `json:"marketMaker" toml:"market_maker"`
	TokenIn     string `json:"tokenIn" toml:"token_in"`
	TokenOut    string `json:"tokenOut" toml:"token_out"`
	AmountIn    string `json:"amountIn" toml:"amount_in"`
	AmountOut   string `json:"amountOut" toml:"amount_out"`
	Expiry      uint64 `json:"expiry" toml:"expiry"`
	QuoteID     string `json:"quoteId" toml:"quote_id"`
}

func NewQuotePayload(q Quote) QuotePayload {
	return QuotePayload{
		User:        q.User.Hex(),
		MarketMaker: q.MarketMaker.Hex(),
		TokenIn:     q.TokenIn.Hex(),
		TokenOut:    q.TokenOut.Hex(),
		AmountIn:    amountString(q.AmountIn),
		AmountOut:   amountString(q.AmountOut),
		Expiry:      q.Expiry,
		QuoteID:     q.QuoteID.Hex(),
	}
}

// Quote validates the payload and converts it.
func (p QuotePayload) Quote() (Quote, error) {
	var (
		q   Quote
		err error
	)
	if q.User, err = ParseAddress("user", p.User); err != nil {
		return Quote{}, err
	}
	if q.MarketMaker, err = ParseAddress("marketMaker", p.MarketMaker); err != nil {
		return Quote{}, err
	}
	if q.TokenIn, err = ParseAddress("tokenIn", p.TokenIn); err != nil {
		return Quote{}, err
	}
	if q.TokenOut, err = ParseAddress("tokenOut", p.TokenOut); err != nil {
		return Quote{}, err
	}
	if q.AmountIn, err = ParseBaseUnits(p.AmountIn); err != nil {
		return Quote{}, fmt.Errorf("amountIn: %w", err)
	}
	if q.AmountOut, err = ParseBaseUnits(p.AmountOut); err != nil {
		return Quote{}, fmt.Errorf("amountOut: %w", err)
	}
	if q.QuoteID, err = ParseHash("quoteId", p.QuoteID); err != nil {
		return Quote{}, err
	}
	q.Expiry = p.Expiry
	return q, nil
}

// UserSettlementRequest submits an RFQ-T settlement. Value is the native
// amount attached by the caller, in base units.
type UserSettlementRequest struct {
	Quote                QuotePayload `json:"quote"`
	MarketMakerSignature string       `json:"marketMakerSignature"`
	Value                string       `json:"value,omitempty"`
}

// RelayerSettlementRequest submits an RFQ-M settlement.
type RelayerSettlementRequest struct {
	Quote                QuotePayload `json:"quote"`
	MarketMakerSignature string       `json:"marketMakerSignature"`
	UserSignature        string       `json:"userSignature"`
}

// RelayerCommand is a queued RFQ-M submission.
type RelayerCommand struct {
	CorrelationID string `json:"correlationId"`
	Relayer       string `json:"relayer"`
	RelayerSettlementRequest
}

// SettlementView is the JSON rendering of a Settlement.
type SettlementView struct {
	QuoteID      string    `json:"quoteId"`
	Digest       string    `json:"digest"`
	Model        string    `json:"model"`
	Caller       string    `json:"caller"`
	User         string    `json:"user"`
	MarketMaker  string    `json:"marketMaker"`
	TokenIn      string    `json:"tokenIn"`
	TokenOut     string    `json:"tokenOut"`
	AmountIn     string    `json:"amountIn"`
	AmountOut    string    `json:"amountOut"`
	Fee          string    `json:"fee"`
	UserReceived string    `json:"userReceived"`
	FeeRateBps   uint64    `json:"feeRateBps"`
	ExecutedAt   time.Time `json:"executedAt"`
}

func NewSettlementView(s Settlement) SettlementView {
	return SettlementView{
		QuoteID:      s.QuoteID.Hex(),
		Digest:       s.Digest.Hex(),
		Model:        s.Model.String(),
		Caller:       s.Caller.Hex(),
		User:         s.User.Hex(),
		MarketMaker:  s.MarketMaker.Hex(),
		TokenIn:      s.TokenIn.Hex(),
		TokenOut:     s.TokenOut.Hex(),
		AmountIn:     amountString(s.AmountIn),
		AmountOut:    amountString(s.AmountOut),
		Fee:          amountString(s.Fee),
		UserReceived: amountString(s.UserReceived),
		FeeRateBps:   s.FeeRateBps,
		ExecutedAt:   s.ExecutedAt,
	}
}

// SettlementResult is published for every queued relayer command.
type SettlementResult struct {
	CorrelationID string          `json:"correlationId"`
	QuoteID       string          `json:"quoteId"`
	Status        string          `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	Error         string          `json:"error,omitempty"`
	Settlement    *SettlementView `json:"settlement,omitempty"`
}

const (
	ResultExecuted = "executed"
	ResultRejected = "rejected"
)

// TokenBalance is one asset held by an account.
type TokenBalance struct {
	Asset     string `json:"asset"`
	Symbol    string `json:"symbol"`
	Decimals  uint8  `json:"decimals"`
	Amount    string `json:"amount"`
	Display   string `json:"display"`
	Allowance string `json:"allowance,omitempty"`
}

// ParseAddress parses a 0x-prefixed hex address, naming field on failure.
func ParseAddress(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

// ParseHash parses a 32-byte 0x-prefixed hex value.
func ParseHash(field, s string) (common.Hash, error) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", field, err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%s: expected %d bytes, got %d", field, common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

// ParseSignature decodes a 0x-prefixed hex signature. Empty input yields an
// empty signature, which never verifies.
func ParseSignature(field, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" {
		return []byte{}, nil
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return b, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
