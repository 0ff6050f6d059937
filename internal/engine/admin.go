package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/pkg/model"
)

// SetFeeRate changes the fee rate applied to subsequent settlements.
func (e *Engine) SetFeeRate(ctx context.Context, call Call, bps uint64) (*model.FeeRateUpdated, error) {
	_, release, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}

	var ev *model.FeeRateUpdated
	err = func() error {
		defer release()
		return e.atomically(func() error {
			if call.From != e.cfg.Admin {
				return ErrUnauthorized
			}
			if call.value().Sign() != 0 {
				return fmt.Errorf("%w: admin calls carry no value", ErrWrongNativeAmount)
			}
			old, err := e.deps.Fees.SetRate(bps)
			if err != nil {
				return err
			}
			ev = &model.FeeRateUpdated{
				OldRateBps: old,
				NewRateBps: bps,
				UpdatedBy:  call.From,
				UpdatedAt:  e.deps.Clock().UTC(),
			}
			return nil
		})
	}()
	if err != nil {
		e.logger.Warn("engine.fee_rate_rejected",
			zap.String("caller", call.From.Hex()),
			zap.Uint64("bps", bps),
			zap.Error(err))
		return nil, err
	}

	e.logger.Info("engine.fee_rate_updated",
		zap.Uint64("old_bps", ev.OldRateBps),
		zap.Uint64("new_bps", ev.NewRateBps))
	e.emit(ctx, *ev)
	return ev, nil
}

// WithdrawFees pays out everything accrued for asset to recipient. The
// ledger balance is zeroed before the transfer is attempted.
func (e *Engine) WithdrawFees(ctx context.Context, call Call, asset, recipient common.Address) (*model.FeesWithdrawn, error) {
	frame, release, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}

	var ev *model.FeesWithdrawn
	err = func() error {
		defer release()
		return e.atomically(func() error {
			if call.From != e.cfg.Admin {
				return ErrUnauthorized
			}
			if call.value().Sign() != 0 {
				return fmt.Errorf("%w: admin calls carry no value", ErrWrongNativeAmount)
			}
			if recipient == (common.Address{}) {
				return ErrInvalidRecipient
			}
			amount, err := e.deps.Fees.Take(asset)
			if err != nil {
				return err
			}

			if model.IsNative(asset) {
				if err := e.deps.Host.TransferNative(frame, e.cfg.Address, recipient, amount); err != nil {
					return fmt.Errorf("%w: %v", ErrNativeTransferFailed, err)
				}
			} else {
				tok, err := e.deps.Host.Token(asset)
				if err != nil {
					return fmt.Errorf("fee token: %w", err)
				}
				if err := tok.Transfer(frame, e.cfg.Address, recipient, amount); err != nil {
					return fmt.Errorf("pay fees: %w", err)
				}
			}

			ev = &model.FeesWithdrawn{
				Asset:       asset,
				Recipient:   recipient,
				Amount:      amount,
				WithdrawnBy: call.From,
				WithdrawnAt: e.deps.Clock().UTC(),
			}
			return nil
		})
	}()
	if err != nil {
		e.logger.Warn("engine.fee_withdraw_rejected",
			zap.String("caller", call.From.Hex()),
			zap.String("asset", asset.Hex()),
			zap.Error(err))
		return nil, err
	}

	e.logger.Info("engine.fees_withdrawn",
		zap.String("asset", asset.Hex()),
		zap.String("recipient", recipient.Hex()),
		zap.String("amount", ev.Amount.String()))
	e.emit(ctx, *ev)
	return ev, nil
}
