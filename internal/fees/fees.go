// Package fees tracks the protocol fee rate and the fees accrued per asset.
package fees

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Checker-Finance/settlement/internal/journal"
)

const (
	// BpsDenominator is 100% in basis points.
	BpsDenominator = 10_000
	// MaxFeeRateBps caps the fee rate at 10%.
	MaxFeeRateBps = 1_000
)

var (
	ErrFeeRateTooHigh   = errors.New("fee rate exceeds maximum")
	ErrNoFeesToWithdraw = errors.New("no fees to withdraw")
	ErrNegativeFee      = errors.New("fee must not be negative")
)

// Compute splits amountOut into the protocol fee, rounded down, and what the
// user receives.
func Compute(amountOut *big.Int, rateBps uint64) (fee, userReceives *big.Int) {
	fee = new(big.Int).Mul(amountOut, new(big.Int).SetUint64(rateBps))
	fee.Quo(fee, big.NewInt(BpsDenominator))
	userReceives = new(big.Int).Sub(amountOut, fee)
	return fee, userReceives
}

// ValidateRate rejects rates above MaxFeeRateBps.
func ValidateRate(bps uint64) error {
	if bps > MaxFeeRateBps {
		return fmt.Errorf("%w: %d > %d bps", ErrFeeRateTooHigh, bps, MaxFeeRateBps)
	}
	return nil
}

// Ledger holds accrued fee balances keyed by asset.
type Ledger struct {
	mu       sync.RWMutex
	journal  *journal.Journal
	rateBps  uint64
	balances map[common.Address]*big.Int
}

// NewLedger creates a ledger with an initial fee rate.
func NewLedger(j *journal.Journal, rateBps uint64) (*Ledger, error) {
	if err := ValidateRate(rateBps); err != nil {
		return nil, err
	}
	return &Ledger{
		journal:  j,
		rateBps:  rateBps,
		balances: make(map[common.Address]*big.Int),
	}, nil
}

// Rate returns the current fee rate in basis points.
func (l *Ledger) Rate() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rateBps
}

// SetRate replaces the fee rate and returns the previous one.
func (l *Ledger) SetRate(bps uint64) (uint64, error) {
	if err := ValidateRate(bps); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	old := l.rateBps
	l.rateBps = bps
	l.journal.Append(func() {
		l.mu.Lock()
		l.rateBps = old
		l.mu.Unlock()
	})
	return old, nil
}

// Credit adds amount to asset's accrued balance.
func (l *Ledger) Credit(asset common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeFee
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set(asset, new(big.Int).Add(l.balanceLocked(asset), amount))
	return nil
}

// Balance returns a copy of asset's accrued balance.
func (l *Ledger) Balance(asset common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(asset)
}

// Take zeroes asset's balance and returns what it held.
func (l *Ledger) Take(asset common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prior := l.balanceLocked(asset)
	if prior.Sign() == 0 {
		return nil, ErrNoFeesToWithdraw
	}
	l.set(asset, new(big.Int))
	return prior, nil
}

// Balances returns every asset with a non-zero balance, ordered by address.
func (l *Ledger) Balances() map[common.Address]*big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[common.Address]*big.Int, len(l.balances))
	for a, v := range l.balances {
		if v.Sign() > 0 {
			out[a] = new(big.Int).Set(v)
		}
	}
	return out
}

// Assets returns the assets with a non-zero balance in address order.
func (l *Ledger) Assets() []common.Address {
	bals := l.Balances()
	out := make([]common.Address, 0, len(bals))
	for a := range bals {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (l *Ledger) balanceLocked(asset common.Address) *big.Int {
	if v, ok := l.balances[asset]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// set must be called with l.mu held.
func (l *Ledger) set(asset common.Address, v *big.Int) {
	prev, existed := l.balances[asset]
	l.balances[asset] = v
	l.journal.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if existed {
			l.balances[asset] = prev
		} else {
			delete(l.balances, asset)
		}
	})
}
