package main

import (
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/engine"
	"github.com/Checker-Finance/settlement/internal/fees"
	"github.com/Checker-Finance/settlement/internal/journal"
	"github.com/Checker-Finance/settlement/internal/ledger"
	"github.com/Checker-Finance/settlement/internal/metrics"
	"github.com/Checker-Finance/settlement/internal/quote"
	"github.com/Checker-Finance/settlement/internal/sigverify"
	"github.com/Checker-Finance/settlement/pkg/config"
	"github.com/Checker-Finance/settlement/pkg/eventbus"
)

// core is the in-process settlement state: the emulated ledger and the
// engine driving it.
type core struct {
	world    *ledger.World
	vault    *ledger.Vault
	verifier *sigverify.Verifier
	engine   *engine.Engine
	wallet   *engine.Wallet
}

// newCore seeds a world from genesis and builds an engine over it.
// extra resolvers are consulted after the emulated smart accounts.
func newCore(cfg *config.Config, genesis *ledger.Genesis, registry engine.Registry, bus *eventbus.Bus, logger *zap.Logger, extra ...sigverify.Resolver) (*core, error) {
	j := journal.New()
	world := ledger.NewWorld(j, logger)
	vault, err := genesis.Apply(world)
	if err != nil {
		return nil, fmt.Errorf("apply genesis: %w", err)
	}
	j.Commit(0)

	hasher, err := quote.NewHasher(quote.Domain{
		Name:              cfg.DomainName,
		Version:           cfg.DomainVersion,
		ChainID:           new(big.Int).SetUint64(cfg.ChainID),
		VerifyingContract: cfg.EngineAddress,
	})
	if err != nil {
		return nil, err
	}

	resolvers := append([]sigverify.Resolver{sigverify.WorldResolver(world)}, extra...)
	verifier := sigverify.New(logger, resolvers...)

	feeLedger, err := fees.NewLedger(j, cfg.FeeRateBps)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(engine.Config{
		Address: cfg.EngineAddress,
		Admin:   cfg.AdminAddress,
	}, engine.Deps{
		Journal:  j,
		Host:     engine.WorldHost(world),
		Vault:    vault,
		Hasher:   hasher,
		Verifier: verifier,
		Registry: registry,
		Fees:     feeLedger,
		Emitter:  bus,
		Observer: metrics.EngineObserver{},
	}, logger)
	if err != nil {
		return nil, err
	}
	metrics.SetFeeRate(cfg.FeeRateBps)

	return &core{
		world:    world,
		vault:    vault,
		verifier: verifier,
		engine:   eng,
		wallet:   engine.NewWallet(eng, world, vault),
	}, nil
}
