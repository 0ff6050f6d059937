package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/Checker-Finance/settlement/internal/journal"
)

// ERC20 is a journaled fungible token with allowance-based pull transfers.
// An allowance of MaxUint256 is treated as unlimited and never decremented.
type ERC20 struct {
	mu         sync.Mutex
	journal    *journal.Journal
	address    common.Address
	symbol     string
	decimals   uint8
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewERC20 creates an empty token journaled into j.
func NewERC20(j *journal.Journal, address common.Address, symbol string, decimals uint8) *ERC20 {
	return &ERC20{
		journal:    j,
		address:    address,
		symbol:     symbol,
		decimals:   decimals,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *ERC20) Address() common.Address { return t.address }
func (t *ERC20) Symbol() string          { return t.symbol }
func (t *ERC20) Decimals() uint8         { return t.decimals }

// TotalSupply returns a copy of the circulating supply.
func (t *ERC20) TotalSupply() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.supply)
}

// BalanceOf returns a copy of owner's balance.
func (t *ERC20) BalanceOf(owner common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyOrZero(t.balances[owner])
}

// Allowance returns a copy of what spender may still pull from owner.
func (t *ERC20) Allowance(owner, spender common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyOrZero(t.allowances[owner][spender])
}

// Approve sets spender's allowance over owner's balance.
func (t *ERC20) Approve(owner, spender common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setAllowance(owner, spender, new(big.Int).Set(amount))
	return nil
}

// Mint creates amount new units for to.
func (t *ERC20) Mint(to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addBalance(to, amount)
	t.addSupply(amount)
	return nil
}

// Burn destroys amount units held by from.
func (t *ERC20) Burn(from common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if copyOrZero(t.balances[from]).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s balance of %s", ErrInsufficientBalance, t.symbol, from.Hex())
	}
	neg := new(big.Int).Neg(amount)
	t.addBalance(from, neg)
	t.addSupply(neg)
	return nil
}

// Transfer moves amount from -> to on from's own authority.
func (t *ERC20) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// TransferFrom moves amount from -> to, spending spender's allowance.
func (t *ERC20) TransferFrom(_ context.Context, spender, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := copyOrZero(t.allowances[from][spender])
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allowance of %s for %s", ErrInsufficientAllowance, t.symbol, from.Hex(), spender.Hex())
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	if allowed.Cmp(math.MaxBig256) != 0 {
		t.setAllowance(from, spender, allowed.Sub(allowed, amount))
	}
	return nil
}

// move must be called with t.mu held.
func (t *ERC20) move(from, to common.Address, amount *big.Int) error {
	if copyOrZero(t.balances[from]).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s balance of %s", ErrInsufficientBalance, t.symbol, from.Hex())
	}
	t.addBalance(from, new(big.Int).Neg(amount))
	t.addBalance(to, amount)
	return nil
}

func (t *ERC20) addBalance(addr common.Address, delta *big.Int) {
	prev, existed := t.balances[addr]
	t.balances[addr] = new(big.Int).Add(copyOrZero(prev), delta)
	t.journal.Append(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if existed {
			t.balances[addr] = prev
		} else {
			delete(t.balances, addr)
		}
	})
}

func (t *ERC20) addSupply(delta *big.Int) {
	prev := t.supply
	t.supply = new(big.Int).Add(prev, delta)
	t.journal.Append(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.supply = prev
	})
}

func (t *ERC20) setAllowance(owner, spender common.Address, amount *big.Int) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	prev, existed := t.allowances[owner][spender]
	t.allowances[owner][spender] = amount
	t.journal.Append(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if existed {
			t.allowances[owner][spender] = prev
		} else {
			delete(t.allowances[owner], spender)
		}
	})
}
