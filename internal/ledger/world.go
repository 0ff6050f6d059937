// Package ledger emulates the host chain the settlement engine runs against:
// native balances, fungible tokens with allowances, a wrapped-native vault and
// contract accounts. Every mutation is journaled so a failed settlement can be
// reverted as a whole.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/journal"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNativeRejected        = errors.New("native transfer rejected by recipient")
	ErrUnknownToken          = errors.New("unknown token")
	ErrNegativeAmount        = errors.New("amount must not be negative")
	ErrTokenExists           = errors.New("token already registered")
)

// NativeReceiver is implemented by contract accounts that run code when they
// receive native currency. Returning an error rejects the transfer.
type NativeReceiver interface {
	ReceiveNative(ctx context.Context, from common.Address, amount *big.Int) error
}

// SignatureValidator is a contract account able to validate signatures
// on its own behalf (ERC-1271).
type SignatureValidator interface {
	IsValidSignature(ctx context.Context, digest common.Hash, signature []byte) ([4]byte, error)
}

// World holds the emulated chain state.
type World struct {
	mu         sync.Mutex
	logger     *zap.Logger
	journal    *journal.Journal
	native     map[common.Address]*big.Int
	receivers  map[common.Address]NativeReceiver
	validators map[common.Address]SignatureValidator
	tokens     map[common.Address]*ERC20
}

// NewWorld creates an empty world recording undo actions into j.
func NewWorld(j *journal.Journal, logger *zap.Logger) *World {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &World{
		logger:     logger,
		journal:    j,
		native:     make(map[common.Address]*big.Int),
		receivers:  make(map[common.Address]NativeReceiver),
		validators: make(map[common.Address]SignatureValidator),
		tokens:     make(map[common.Address]*ERC20),
	}
}

// Journal returns the journal shared by all state in this world.
func (w *World) Journal() *journal.Journal {
	return w.journal
}

// NativeBalance returns a copy of addr's native balance.
func (w *World) NativeBalance(addr common.Address) *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return copyOrZero(w.native[addr])
}

// Fund credits native currency to addr out of thin air (genesis and tests).
func (w *World) Fund(addr common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addNative(addr, amount)
	return nil
}

// TransferNative moves amount of native currency from -> to. If to is a
// registered contract account its receive hook runs after the balances move;
// a hook error fails the transfer with ErrNativeRejected.
func (w *World) TransferNative(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := w.moveNative(from, to, amount); err != nil {
		return err
	}

	w.mu.Lock()
	recv := w.receivers[to]
	w.mu.Unlock()

	if recv != nil {
		if err := recv.ReceiveNative(ctx, from, amount); err != nil {
			w.logger.Debug("ledger.native_rejected",
				zap.String("from", from.Hex()),
				zap.String("to", to.Hex()),
				zap.Error(err))
			return fmt.Errorf("%w: %v", ErrNativeRejected, err)
		}
	}
	return nil
}

// moveNative updates balances without running receive hooks.
func (w *World) moveNative(from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if copyOrZero(w.native[from]).Cmp(amount) < 0 {
		return fmt.Errorf("%w: native balance of %s", ErrInsufficientBalance, from.Hex())
	}
	w.addNative(from, new(big.Int).Neg(amount))
	w.addNative(to, amount)
	return nil
}

// addNative must be called with w.mu held.
func (w *World) addNative(addr common.Address, delta *big.Int) {
	prev, existed := w.native[addr]
	w.native[addr] = new(big.Int).Add(copyOrZero(prev), delta)
	w.journal.Append(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if existed {
			w.native[addr] = prev
		} else {
			delete(w.native, addr)
		}
	})
}

// RegisterReceiver marks addr as a contract account with a receive hook.
func (w *World) RegisterReceiver(addr common.Address, r NativeReceiver) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.receivers[addr] = r
}

// RegisterValidator marks addr as a contract account able to validate signatures.
func (w *World) RegisterValidator(addr common.Address, v SignatureValidator) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.validators[addr] = v
}

// SignatureValidator returns the validator deployed at addr, if any.
func (w *World) SignatureValidator(_ context.Context, addr common.Address) (SignatureValidator, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.validators[addr]
	return v, ok
}

// AddToken registers a token contract in the world.
func (w *World) AddToken(t *ERC20) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.tokens[t.address]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, t.address.Hex())
	}
	w.tokens[t.address] = t
	return nil
}

// Token looks up a registered token by address.
func (w *World) Token(addr common.Address) (*ERC20, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return t, nil
}

// Tokens returns every registered token ordered by address.
func (w *World) Tokens() []*ERC20 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*ERC20, 0, len(w.tokens))
	for _, t := range w.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].address.Cmp(out[j].address) < 0 })
	return out
}

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
