package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// FeeRateRequest changes the protocol fee rate.
type FeeRateRequest struct {
	FeeRateBps *uint64 `json:"feeRateBps"`
}

func (r FeeRateRequest) Validate() error {
	if r.FeeRateBps == nil {
		return fmt.Errorf("feeRateBps is required")
	}
	return nil
}

// WithdrawFeesRequest pays out accrued fees for one asset.
type WithdrawFeesRequest struct {
	Asset     string `json:"asset"`
	Recipient string `json:"recipient"`
}

// Parse validates both addresses. The zero recipient parses; rejecting it
// is the engine's call.
func (r WithdrawFeesRequest) Parse() (asset, recipient common.Address, err error) {
	if asset, err = ParseAddress("asset", r.Asset); err != nil {
		return
	}
	recipient, err = ParseAddress("recipient", r.Recipient)
	return
}

// ApproveRequest sets the caller's allowance on a token. An empty spender
// means the engine.
type ApproveRequest struct {
	Token   string `json:"token"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

// VaultRequest wraps or unwraps native currency.
type VaultRequest struct {
	Amount string `json:"amount"`
}

type HashResponse struct {
	QuoteID string `json:"quoteId"`
	Digest  string `json:"digest"`
}

// QuoteStatusResponse reports whether a quote id was consumed.
type QuoteStatusResponse struct {
	QuoteID    string          `json:"quoteId"`
	Executed   bool            `json:"executed"`
	Settlement *SettlementView `json:"settlement,omitempty"`
}

// FeeView is one asset's accrued fees.
type FeeView struct {
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
	Display string `json:"display,omitempty"`
}

type FeesResponse struct {
	FeeRateBps uint64    `json:"feeRateBps"`
	Accrued    []FeeView `json:"accrued"`
}

type FeeRateResponse struct {
	OldRateBps uint64 `json:"oldRateBps"`
	NewRateBps uint64 `json:"newRateBps"`
}

type WithdrawFeesResponse struct {
	Asset     string `json:"asset"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}
