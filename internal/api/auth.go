package api

import (
	"context"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/pkg/model"
)

const callerKey = "caller"

// SignatureVerifier checks a signature for signer over digest. Smart
// account callers authenticate through ERC-1271 like any quote signer.
type SignatureVerifier interface {
	IsValid(ctx context.Context, signer common.Address, digest common.Hash, sig []byte) bool
}

// Authenticator verifies EIP-191 request signatures.
type Authenticator struct {
	logger   *zap.Logger
	verifier SignatureVerifier
	maxSkew  time.Duration
	now      func() time.Time
}

func NewAuthenticator(logger *zap.Logger, verifier SignatureVerifier, maxSkew time.Duration) *Authenticator {
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	return &Authenticator{logger: logger, verifier: verifier, maxSkew: maxSkew, now: time.Now}
}

// Handler rejects requests whose caller headers do not verify and stores
// the authenticated address for downstream handlers.
func (a *Authenticator) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		addr := c.Get(model.HeaderCallerAddress)
		if !common.IsHexAddress(addr) {
			return unauthorized(c, "missing or invalid "+model.HeaderCallerAddress)
		}
		caller := common.HexToAddress(addr)

		sig, err := model.ParseSignature("signature", c.Get(model.HeaderCallerSignature))
		if err != nil || len(sig) == 0 {
			return unauthorized(c, "missing or invalid "+model.HeaderCallerSignature)
		}

		ts, err := strconv.ParseInt(c.Get(model.HeaderCallerTimestamp), 10, 64)
		if err != nil {
			return unauthorized(c, "missing or invalid "+model.HeaderCallerTimestamp)
		}
		skew := a.now().Sub(time.Unix(ts, 0))
		if skew < -a.maxSkew || skew > a.maxSkew {
			return unauthorized(c, "request timestamp outside allowed window")
		}

		digest := model.AuthDigest(c.Method(), c.Path(), ts, c.Body())
		if !a.verifier.IsValid(c.UserContext(), caller, digest, sig) {
			a.logger.Warn("api.auth_failed",
				zap.String("caller", caller.Hex()),
				zap.String("path", c.Path()))
			return unauthorized(c, "invalid caller signature")
		}

		c.Locals(callerKey, caller)
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(model.ErrorResponse{Error: msg, Reason: "unauthenticated"})
}

// Caller returns the authenticated address set by Authenticator.
func Caller(c *fiber.Ctx) (common.Address, bool) {
	addr, ok := c.Locals(callerKey).(common.Address)
	return addr, ok
}
