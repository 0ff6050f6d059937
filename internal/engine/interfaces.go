package engine

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Checker-Finance/settlement/internal/journal"
	"github.com/Checker-Finance/settlement/pkg/model"
)

// Token is a fungible asset the engine moves on the parties' behalf.
type Token interface {
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
	BalanceOf(owner common.Address) *big.Int
}

// Vault wraps the native asset 1:1 into a fungible token.
type Vault interface {
	Token
	Address() common.Address
	Deposit(ctx context.Context, from common.Address, amount *big.Int) error
	Withdraw(ctx context.Context, from common.Address, amount *big.Int) error
}

// Host is the chain environment: native balances and token lookup.
type Host interface {
	Token(addr common.Address) (Token, error)
	TransferNative(ctx context.Context, from, to common.Address, amount *big.Int) error
}

// Hasher derives the digest both parties sign.
type Hasher interface {
	Digest(q model.Quote) (common.Hash, error)
}

// Verifier decides whether sig is signer's signature over digest.
type Verifier interface {
	IsValid(ctx context.Context, signer common.Address, digest common.Hash, sig []byte) bool
}

// Registry is the consumed-quote check-and-set.
type Registry interface {
	Consume(ctx context.Context, j *journal.Journal, id common.Hash) error
	IsConsumed(ctx context.Context, id common.Hash) (bool, error)
}

// FeeLedger holds the fee rate and accrued fees.
type FeeLedger interface {
	Rate() uint64
	SetRate(bps uint64) (uint64, error)
	Credit(asset common.Address, amount *big.Int) error
	Balance(asset common.Address) *big.Int
	Take(asset common.Address) (*big.Int, error)
	Assets() []common.Address
}

// Emitter receives committed events. It is called after the engine has
// released its lock.
type Emitter interface {
	Publish(ctx context.Context, event any)
}

// Observer records the outcome of every settlement attempt.
type Observer interface {
	ObserveSettlement(m model.TradeModel, result string, elapsed time.Duration)
}

// Clock returns the current time.
type Clock func() time.Time
