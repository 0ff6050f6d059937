package model

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset is the sentinel asset identifier for the chain's native currency.
var NativeAsset = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// IsNative reports whether asset is the native-asset sentinel.
func IsNative(asset common.Address) bool {
	return asset == NativeAsset
}

// Quote is a market maker's signed offer to swap AmountIn of TokenIn from User
// for AmountOut of TokenOut, valid until Expiry (unix seconds).
type Quote struct {
	User        common.Address `json:"user"`
	MarketMaker common.Address `json:"market_maker"`
	TokenIn     common.Address `json:"token_in"`
	TokenOut    common.Address `json:"token_out"`
	AmountIn    *big.Int       `json:"amount_in"`
	AmountOut   *big.Int       `json:"amount_out"`
	Expiry      uint64         `json:"expiry"`
	QuoteID     common.Hash    `json:"quote_id"`
}

var (
	ErrMissingAmount  = errors.New("quote amounts are required")
	ErrNegativeAmount = errors.New("quote amounts must not be negative")
	ErrAmountOverflow = errors.New("quote amounts must fit in 256 bits")
)

// CheckAmounts rejects quotes whose amounts cannot be hashed as uint256.
func (q Quote) CheckAmounts() error {
	if q.AmountIn == nil || q.AmountOut == nil {
		return ErrMissingAmount
	}
	if q.AmountIn.Sign() < 0 || q.AmountOut.Sign() < 0 {
		return ErrNegativeAmount
	}
	if q.AmountIn.BitLen() > 256 || q.AmountOut.BitLen() > 256 {
		return ErrAmountOverflow
	}
	return nil
}

// Copy returns a deep copy so callers can mutate amounts freely.
func (q Quote) Copy() Quote {
	c := q
	if q.AmountIn != nil {
		c.AmountIn = new(big.Int).Set(q.AmountIn)
	}
	if q.AmountOut != nil {
		c.AmountOut = new(big.Int).Set(q.AmountOut)
	}
	return c
}
