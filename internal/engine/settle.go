package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/fees"
	"github.com/Checker-Finance/settlement/pkg/model"
)

// SettleUserInitiated executes q on behalf of its user, who must be the
// caller. When the input asset is native, call.Value must equal AmountIn;
// otherwise it must be zero.
func (e *Engine) SettleUserInitiated(ctx context.Context, call Call, q model.Quote, mmSig []byte) (*model.Settlement, error) {
	return e.settle(ctx, model.TradeModelUserInitiated, call, q, mmSig, nil)
}

// SettleRelayerInitiated executes q on the user's signed authorization.
// Any caller may submit it; native input is not supported.
func (e *Engine) SettleRelayerInitiated(ctx context.Context, call Call, q model.Quote, mmSig, userSig []byte) (*model.Settlement, error) {
	return e.settle(ctx, model.TradeModelRelayerInitiated, call, q, mmSig, userSig)
}

func (e *Engine) settle(ctx context.Context, m model.TradeModel, call Call, q model.Quote, mmSig, userSig []byte) (*model.Settlement, error) {
	start := time.Now()
	q = q.Copy()

	frame, release, err := e.enter(ctx)
	if err != nil {
		e.observe(m, err, start)
		return nil, err
	}

	var rec *model.Settlement
	err = func() error {
		defer release()
		return e.atomically(func() error {
			var err error
			rec, err = e.execute(frame, m, call, q, mmSig, userSig)
			return err
		})
	}()

	e.observe(m, err, start)
	if err != nil {
		e.logger.Info("engine.settlement_rejected",
			zap.String("quote_id", q.QuoteID.Hex()),
			zap.String("model", m.String()),
			zap.String("caller", call.From.Hex()),
			zap.String("reason", Reason(err)),
			zap.Error(err))
		return nil, err
	}

	e.logger.Info("engine.settlement_executed",
		zap.String("quote_id", rec.QuoteID.Hex()),
		zap.String("model", m.String()),
		zap.String("user", rec.User.Hex()),
		zap.String("market_maker", rec.MarketMaker.Hex()),
		zap.String("fee", rec.Fee.String()),
		zap.Duration("elapsed", time.Since(start)))
	e.emit(ctx, *rec)
	return rec, nil
}

func (e *Engine) execute(ctx context.Context, m model.TradeModel, call Call, q model.Quote, mmSig, userSig []byte) (*model.Settlement, error) {
	if err := q.CheckAmounts(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuote, err)
	}
	value := call.value()

	switch m {
	case model.TradeModelUserInitiated:
		if call.From != q.User {
			return nil, ErrNotUser
		}
		if model.IsNative(q.TokenIn) {
			if value.Cmp(q.AmountIn) != 0 {
				return nil, fmt.Errorf("%w: attached %s, quote requires %s", ErrWrongNativeAmount, value, q.AmountIn)
			}
		} else if value.Sign() != 0 {
			return nil, fmt.Errorf("%w: attached %s to a token-input quote", ErrWrongNativeAmount, value)
		}
	case model.TradeModelRelayerInitiated:
		if model.IsNative(q.TokenIn) {
			return nil, ErrNativeInputNotSupported
		}
		if value.Sign() != 0 {
			return nil, fmt.Errorf("%w: relayer calls carry no value", ErrWrongNativeAmount)
		}
	}

	digest, err := e.validate(ctx, m, q, mmSig, userSig)
	if err != nil {
		return nil, err
	}

	if err := e.deps.Registry.Consume(ctx, e.deps.Journal, q.QuoteID); err != nil {
		return nil, err
	}

	if value.Sign() > 0 {
		if err := e.deps.Host.TransferNative(ctx, call.From, e.cfg.Address, value); err != nil {
			return nil, fmt.Errorf("attach value: %w", err)
		}
	}

	if err := e.payInput(ctx, q); err != nil {
		return nil, err
	}

	rate := e.deps.Fees.Rate()
	fee, userReceives := fees.Compute(q.AmountOut, rate)
	if err := e.payOutput(ctx, q, fee, userReceives); err != nil {
		return nil, err
	}

	return &model.Settlement{
		QuoteID:      q.QuoteID,
		Digest:       digest,
		Model:        m,
		Caller:       call.From,
		User:         q.User,
		MarketMaker:  q.MarketMaker,
		TokenIn:      q.TokenIn,
		TokenOut:     q.TokenOut,
		AmountIn:     q.AmountIn,
		AmountOut:    q.AmountOut,
		Fee:          fee,
		UserReceived: userReceives,
		FeeRateBps:   rate,
		ExecutedAt:   e.deps.Clock().UTC(),
	}, nil
}

// validate runs the replay, expiry and signature checks in order.
func (e *Engine) validate(ctx context.Context, m model.TradeModel, q model.Quote, mmSig, userSig []byte) (common.Hash, error) {
	consumed, err := e.deps.Registry.IsConsumed(ctx, q.QuoteID)
	if err != nil {
		return common.Hash{}, err
	}
	if consumed {
		return common.Hash{}, ErrAlreadyExecuted
	}

	now := e.deps.Clock().Unix()
	if now < 0 || uint64(now) > q.Expiry {
		return common.Hash{}, fmt.Errorf("%w: expiry %d, now %d", ErrExpired, q.Expiry, now)
	}

	digest, err := e.deps.Hasher.Digest(q)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidQuote, err)
	}

	if m == model.TradeModelRelayerInitiated && !e.deps.Verifier.IsValid(ctx, q.User, digest, userSig) {
		return common.Hash{}, ErrInvalidUserSignature
	}
	if !e.deps.Verifier.IsValid(ctx, q.MarketMaker, digest, mmSig) {
		return common.Hash{}, ErrInvalidMarketMakerSignature
	}
	return digest, nil
}

// payInput delivers AmountIn of TokenIn to the market maker.
func (e *Engine) payInput(ctx context.Context, q model.Quote) error {
	if model.IsNative(q.TokenIn) {
		vault := e.deps.Vault
		if err := vault.Deposit(ctx, e.cfg.Address, q.AmountIn); err != nil {
			return fmt.Errorf("wrap input: %w", err)
		}
		if err := vault.Transfer(ctx, e.cfg.Address, q.MarketMaker, q.AmountIn); err != nil {
			return fmt.Errorf("deliver wrapped input: %w", err)
		}
		return nil
	}

	tok, err := e.deps.Host.Token(q.TokenIn)
	if err != nil {
		return fmt.Errorf("input token: %w", err)
	}
	if err := tok.TransferFrom(ctx, e.cfg.Address, q.User, q.MarketMaker, q.AmountIn); err != nil {
		return fmt.Errorf("pull input: %w", err)
	}
	return nil
}

// payOutput delivers AmountOut less fee to the user and accrues the fee.
func (e *Engine) payOutput(ctx context.Context, q model.Quote, fee, userReceives *big.Int) error {
	if model.IsNative(q.TokenOut) {
		vault := e.deps.Vault
		if err := vault.TransferFrom(ctx, e.cfg.Address, q.MarketMaker, e.cfg.Address, q.AmountOut); err != nil {
			return fmt.Errorf("pull wrapped output: %w", err)
		}
		if err := vault.Withdraw(ctx, e.cfg.Address, q.AmountOut); err != nil {
			return fmt.Errorf("unwrap output: %w", err)
		}
		if err := e.deps.Host.TransferNative(ctx, e.cfg.Address, q.User, userReceives); err != nil {
			return fmt.Errorf("%w: %v", ErrNativeTransferFailed, err)
		}
		return e.deps.Fees.Credit(model.NativeAsset, fee)
	}

	tok, err := e.deps.Host.Token(q.TokenOut)
	if err != nil {
		return fmt.Errorf("output token: %w", err)
	}
	if err := tok.TransferFrom(ctx, e.cfg.Address, q.MarketMaker, q.User, userReceives); err != nil {
		return fmt.Errorf("pull output: %w", err)
	}
	if fee.Sign() > 0 {
		if err := tok.TransferFrom(ctx, e.cfg.Address, q.MarketMaker, e.cfg.Address, fee); err != nil {
			return fmt.Errorf("pull fee: %w", err)
		}
	}
	return e.deps.Fees.Credit(q.TokenOut, fee)
}

func (e *Engine) observe(m model.TradeModel, err error, start time.Time) {
	if e.deps.Observer != nil {
		e.deps.Observer.ObserveSettlement(m, Reason(err), time.Since(start))
	}
}
