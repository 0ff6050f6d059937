package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Checker-Finance/settlement/internal/engine"
	"github.com/Checker-Finance/settlement/internal/ledger"
	"github.com/Checker-Finance/settlement/pkg/model"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotUser), errors.Is(err, engine.ErrUnauthorized):
		return fiber.StatusForbidden
	case errors.Is(err, engine.ErrInvalidUserSignature), errors.Is(err, engine.ErrInvalidMarketMakerSignature):
		return fiber.StatusUnauthorized
	case errors.Is(err, engine.ErrAlreadyExecuted), errors.Is(err, engine.ErrReentrantCall):
		return fiber.StatusConflict
	case errors.Is(err, engine.ErrInvalidQuote),
		errors.Is(err, engine.ErrWrongNativeAmount),
		errors.Is(err, engine.ErrNativeInputNotSupported),
		errors.Is(err, engine.ErrFeeRateTooHigh),
		errors.Is(err, engine.ErrInvalidRecipient),
		errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, ledger.ErrNegativeAmount):
		return fiber.StatusBadRequest
	case errors.Is(err, ledger.ErrUnknownToken):
		return fiber.StatusNotFound
	case errors.Is(err, engine.ErrExpired),
		errors.Is(err, engine.ErrNoFeesToWithdraw),
		errors.Is(err, engine.ErrNativeTransferFailed),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientAllowance),
		errors.Is(err, ledger.ErrNativeRejected):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(model.ErrorResponse{Error: err.Error(), Reason: engine.Reason(err)})
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(model.ErrorResponse{Error: err.Error(), Reason: "bad_request"})
}
