package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Vault wraps native currency 1:1 into a fungible token held at the vault's
// own address. Native currency pushed to the vault without calling Deposit
// is credited to the sender as an implicit deposit.
type Vault struct {
	*ERC20
	world  *World
	logger *zap.Logger
}

// NewVault deploys a wrapped-native vault at address and registers it with w.
func NewVault(w *World, address common.Address, symbol string) (*Vault, error) {
	v := &Vault{
		ERC20:  NewERC20(w.journal, address, symbol, 18),
		world:  w,
		logger: w.logger.With(zap.String("vault", address.Hex())),
	}
	if err := w.AddToken(v.ERC20); err != nil {
		return nil, err
	}
	w.RegisterReceiver(address, v)
	return v, nil
}

// Deposit takes amount of from's native currency and mints the same amount
// of wrapped units to from.
func (v *Vault) Deposit(_ context.Context, from common.Address, amount *big.Int) error {
	if err := v.world.moveNative(from, v.address, amount); err != nil {
		return fmt.Errorf("vault deposit: %w", err)
	}
	if err := v.Mint(from, amount); err != nil {
		return fmt.Errorf("vault deposit: %w", err)
	}
	v.logger.Debug("vault.deposit", zap.String("from", from.Hex()), zap.String("amount", amount.String()))
	return nil
}

// Withdraw burns amount of from's wrapped units and sends the native
// currency back to from.
func (v *Vault) Withdraw(ctx context.Context, from common.Address, amount *big.Int) error {
	if err := v.Burn(from, amount); err != nil {
		return fmt.Errorf("vault withdraw: %w", err)
	}
	if err := v.world.TransferNative(ctx, v.address, from, amount); err != nil {
		return fmt.Errorf("vault withdraw: %w", err)
	}
	v.logger.Debug("vault.withdraw", zap.String("to", from.Hex()), zap.String("amount", amount.String()))
	return nil
}

// ReceiveNative credits unsolicited native currency as a deposit.
func (v *Vault) ReceiveNative(_ context.Context, from common.Address, amount *big.Int) error {
	return v.Mint(from, amount)
}
