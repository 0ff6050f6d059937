// Package engine executes market maker quotes atomically: it validates the
// quote and its signatures, consumes the quote id, moves both legs of the
// trade and accrues the protocol fee. Any failure reverts every state change
// made by the call.
package engine

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/journal"
	"github.com/Checker-Finance/settlement/pkg/model"
)

// Call describes who invoked an entry point and the native value attached.
type Call struct {
	From  common.Address
	Value *big.Int
}

func (c Call) value() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return c.Value
}

// Config holds engine identity.
type Config struct {
	// Address is the engine's own account: it receives attached native
	// value, spends allowances and holds accrued fees.
	Address common.Address
	Admin   common.Address
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Journal  *journal.Journal
	Host     Host
	Vault    Vault
	Hasher   Hasher
	Verifier Verifier
	Registry Registry
	Fees     FeeLedger
	Emitter  Emitter
	Observer Observer
	Clock    Clock
}

// Engine is the settlement state machine. Calls are serialized.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	sem    chan struct{}
}

// New validates deps and creates an engine.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case deps.Journal == nil:
		return nil, errors.New("engine: journal is required")
	case deps.Host == nil:
		return nil, errors.New("engine: host is required")
	case deps.Vault == nil:
		return nil, errors.New("engine: vault is required")
	case deps.Hasher == nil:
		return nil, errors.New("engine: hasher is required")
	case deps.Verifier == nil:
		return nil, errors.New("engine: verifier is required")
	case deps.Registry == nil:
		return nil, errors.New("engine: registry is required")
	case deps.Fees == nil:
		return nil, errors.New("engine: fee ledger is required")
	case cfg.Address == (common.Address{}):
		return nil, errors.New("engine: address is required")
	case cfg.Admin == (common.Address{}):
		return nil, errors.New("engine: admin is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		sem:    make(chan struct{}, 1),
	}, nil
}

func (e *Engine) Address() common.Address { return e.cfg.Address }
func (e *Engine) Admin() common.Address   { return e.cfg.Admin }

// QuoteHash returns the digest parties sign for q.
func (e *Engine) QuoteHash(ctx context.Context, q model.Quote) (common.Hash, error) {
	if e.inFrame(ctx) {
		return common.Hash{}, ErrReentrantCall
	}
	d, err := e.deps.Hasher.Digest(q)
	if err != nil {
		return common.Hash{}, errors.Join(ErrInvalidQuote, err)
	}
	return d, nil
}

// IsQuoteExecuted reports whether id has been consumed.
func (e *Engine) IsQuoteExecuted(ctx context.Context, id common.Hash) (bool, error) {
	ctx, release, err := e.enter(ctx)
	if err != nil {
		return false, err
	}
	defer release()
	return e.deps.Registry.IsConsumed(ctx, id)
}

// FeeRate returns the current fee rate in basis points.
func (e *Engine) FeeRate(ctx context.Context) (uint64, error) {
	_, release, err := e.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	return e.deps.Fees.Rate(), nil
}

// AccruedFees returns the fees accrued for asset and not yet withdrawn.
func (e *Engine) AccruedFees(ctx context.Context, asset common.Address) (*big.Int, error) {
	_, release, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return e.deps.Fees.Balance(asset), nil
}

// FeeBalances returns every asset with accrued fees.
func (e *Engine) FeeBalances(ctx context.Context) ([]model.FeeBalance, error) {
	_, release, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	now := e.deps.Clock().UTC()
	assets := e.deps.Fees.Assets()
	out := make([]model.FeeBalance, 0, len(assets))
	for _, a := range assets {
		out = append(out, model.FeeBalance{Asset: a, Amount: e.deps.Fees.Balance(a), AsOf: now})
	}
	return out, nil
}

// atomically runs fn inside a journal snapshot. Every state change fn makes
// is reverted if it returns an error.
func (e *Engine) atomically(fn func() error) error {
	j := e.deps.Journal
	snap := j.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			j.RevertTo(snap)
			panic(r)
		}
	}()
	if err := fn(); err != nil {
		j.RevertTo(snap)
		return err
	}
	j.Commit(snap)
	return nil
}

// Execute runs fn as one atomic call under the engine lock. It lets
// operators and tooling mutate the host (approvals, vault deposits) without
// interleaving with a settlement in flight.
func (e *Engine) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	frame, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return e.atomically(func() error { return fn(frame) })
}

func (e *Engine) emit(ctx context.Context, event any) {
	if e.deps.Emitter != nil {
		e.deps.Emitter.Publish(ctx, event)
	}
}
