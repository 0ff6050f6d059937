package engine

import (
	"errors"

	"github.com/Checker-Finance/settlement/internal/fees"
	"github.com/Checker-Finance/settlement/internal/ledger"
	"github.com/Checker-Finance/settlement/internal/registry"
)

var (
	ErrAlreadyExecuted             = registry.ErrAlreadyExecuted
	ErrExpired                     = errors.New("quote expired")
	ErrInvalidUserSignature        = errors.New("invalid user signature")
	ErrInvalidMarketMakerSignature = errors.New("invalid market maker signature")
	ErrNotUser                     = errors.New("caller is not the quote user")
	ErrWrongNativeAmount           = errors.New("attached native value does not match quote")
	ErrNativeInputNotSupported     = errors.New("native input not supported for relayer-initiated settlement")
	ErrNativeTransferFailed        = errors.New("native transfer failed")
	ErrFeeRateTooHigh              = fees.ErrFeeRateTooHigh
	ErrUnauthorized                = errors.New("caller is not the administrator")
	ErrInvalidRecipient            = errors.New("invalid recipient")
	ErrNoFeesToWithdraw            = fees.ErrNoFeesToWithdraw
	ErrReentrantCall               = errors.New("reentrant call")
	ErrInvalidQuote                = errors.New("invalid quote")
)

// Reason maps an engine error onto a short machine-readable code.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyExecuted):
		return "already_executed"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidUserSignature):
		return "invalid_user_signature"
	case errors.Is(err, ErrInvalidMarketMakerSignature):
		return "invalid_market_maker_signature"
	case errors.Is(err, ErrNotUser):
		return "not_user"
	case errors.Is(err, ErrWrongNativeAmount):
		return "wrong_native_amount"
	case errors.Is(err, ErrNativeInputNotSupported):
		return "native_input_not_supported"
	case errors.Is(err, ErrNativeTransferFailed):
		return "native_transfer_failed"
	case errors.Is(err, ErrFeeRateTooHigh):
		return "fee_rate_too_high"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, ErrNoFeesToWithdraw):
		return "no_fees_to_withdraw"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant_call"
	case errors.Is(err, ErrInvalidQuote):
		return "invalid_quote"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, ledger.ErrUnknownToken):
		return "unknown_token"
	default:
		return "error"
	}
}
