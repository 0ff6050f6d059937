package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Checker-Finance/settlement/internal/ledger"
	"github.com/Checker-Finance/settlement/pkg/model"
)

// NativeSymbol labels the native asset in balance listings.
const NativeSymbol = "NATIVE"

// Wallet runs account operations against the emulated ledger through
// Engine.Execute, so they never interleave with a settlement.
type Wallet struct {
	engine *Engine
	world  *ledger.World
	vault  *ledger.Vault
}

func NewWallet(e *Engine, w *ledger.World, v *ledger.Vault) *Wallet {
	return &Wallet{engine: e, world: w, vault: v}
}

// Approve sets owner's allowance for spender on token.
func (w *Wallet) Approve(ctx context.Context, owner, token, spender common.Address, amount *big.Int) error {
	return w.engine.Execute(ctx, func(context.Context) error {
		t, err := w.world.Token(token)
		if err != nil {
			return err
		}
		return t.Approve(owner, spender, amount)
	})
}

// Deposit wraps amount of from's native balance in the vault.
func (w *Wallet) Deposit(ctx context.Context, from common.Address, amount *big.Int) error {
	return w.engine.Execute(ctx, func(ctx context.Context) error {
		return w.vault.Deposit(ctx, from, amount)
	})
}

// Withdraw unwraps amount back to from's native balance.
func (w *Wallet) Withdraw(ctx context.Context, from common.Address, amount *big.Int) error {
	return w.engine.Execute(ctx, func(ctx context.Context) error {
		return w.vault.Withdraw(ctx, from, amount)
	})
}

// Balances lists owner's native balance followed by every token, with the
// allowance granted to the engine.
func (w *Wallet) Balances(ctx context.Context, owner common.Address) ([]model.TokenBalance, error) {
	var out []model.TokenBalance
	err := w.engine.Execute(ctx, func(context.Context) error {
		native := w.world.NativeBalance(owner)
		out = append(out, model.TokenBalance{
			Asset:    model.NativeAsset.Hex(),
			Symbol:   NativeSymbol,
			Decimals: 18,
			Amount:   native.String(),
			Display:  model.FormatUnits(native, 18),
		})
		for _, t := range w.world.Tokens() {
			bal := t.BalanceOf(owner)
			out = append(out, model.TokenBalance{
				Asset:     t.Address().Hex(),
				Symbol:    t.Symbol(),
				Decimals:  t.Decimals(),
				Amount:    bal.String(),
				Display:   model.FormatUnits(bal, t.Decimals()),
				Allowance: t.Allowance(owner, w.engine.Address()).String(),
			})
		}
		return nil
	})
	return out, err
}

// Decimals returns the precision of asset, treating the native asset as 18.
func (w *Wallet) Decimals(asset common.Address) (uint8, error) {
	if model.IsNative(asset) {
		return 18, nil
	}
	t, err := w.world.Token(asset)
	if err != nil {
		return 0, err
	}
	return t.Decimals(), nil
}
