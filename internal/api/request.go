package api

import (
	"math/big"

	"github.com/Checker-Finance/settlement/pkg/model"
)

// amountOrZero parses an optional base-unit amount.
func amountOrZero(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	return model.ParseBaseUnits(s)
}
