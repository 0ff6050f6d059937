package model

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// ParseBaseUnits parses a non-negative base-10 integer amount.
func ParseBaseUnits(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	if v.BitLen() > 256 {
		return nil, fmt.Errorf("%w: %q exceeds uint256", ErrInvalidAmount, s)
	}
	return v, nil
}

// ParseUnits converts a human amount such as "1.5" into base units for a
// token with the given decimals. Excess precision is an error.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, decimals)
	}
	v := scaled.BigInt()
	if v.BitLen() > 256 {
		return nil, fmt.Errorf("%w: %q exceeds uint256", ErrInvalidAmount, s)
	}
	return v, nil
}

// FormatUnits renders base units as a human amount.
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}
