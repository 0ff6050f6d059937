package api

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/engine"
	"github.com/Checker-Finance/settlement/internal/store"
	"github.com/Checker-Finance/settlement/pkg/model"
)

// Engine is the settlement surface exposed over HTTP.
type Engine interface {
	Address() common.Address
	SettleUserInitiated(ctx context.Context, call engine.Call, q model.Quote, mmSig []byte) (*model.Settlement, error)
	SettleRelayerInitiated(ctx context.Context, call engine.Call, q model.Quote, mmSig, userSig []byte) (*model.Settlement, error)
	QuoteHash(ctx context.Context, q model.Quote) (common.Hash, error)
	IsQuoteExecuted(ctx context.Context, id common.Hash) (bool, error)
	FeeRate(ctx context.Context) (uint64, error)
	AccruedFees(ctx context.Context, asset common.Address) (*big.Int, error)
	FeeBalances(ctx context.Context) ([]model.FeeBalance, error)
	SetFeeRate(ctx context.Context, call engine.Call, bps uint64) (*model.FeeRateUpdated, error)
	WithdrawFees(ctx context.Context, call engine.Call, asset, recipient common.Address) (*model.FeesWithdrawn, error)
}

// Wallet performs account operations on the host ledger.
type Wallet interface {
	Approve(ctx context.Context, owner, token, spender common.Address, amount *big.Int) error
	Deposit(ctx context.Context, from common.Address, amount *big.Int) error
	Withdraw(ctx context.Context, from common.Address, amount *big.Int) error
	Balances(ctx context.Context, owner common.Address) ([]model.TokenBalance, error)
	Decimals(asset common.Address) (uint8, error)
}

// SettlementReader looks up persisted settlement records.
type SettlementReader interface {
	GetSettlement(ctx context.Context, quoteID common.Hash) (*model.Settlement, error)
}

// Handler serves the settlement API.
type Handler struct {
	logger  *zap.Logger
	engine  Engine
	wallet  Wallet
	records SettlementReader
}

// NewHandler creates a Handler. wallet and records are optional; without
// them the account routes and stored lookups are unavailable.
func NewHandler(logger *zap.Logger, e Engine, wallet Wallet, records SettlementReader) *Handler {
	return &Handler{logger: logger, engine: e, wallet: wallet, records: records}
}

// SettleUser handles RFQ-T submissions. The authenticated caller must be
// the quote's user.
func (h *Handler) SettleUser(c *fiber.Ctx) error {
	caller, _ := Caller(c)
	var req model.UserSettlementRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	q, err := req.Quote.Quote()
	if err != nil {
		return badRequest(c, err)
	}
	mmSig, err := model.ParseSignature("marketMakerSignature", req.MarketMakerSignature)
	if err != nil {
		return badRequest(c, err)
	}
	value, err := amountOrZero(req.Value)
	if err != nil {
		return badRequest(c, err)
	}

	rec, err := h.engine.SettleUserInitiated(c.UserContext(), engine.Call{From: caller, Value: value}, q, mmSig)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(model.NewSettlementView(*rec))
}

// SettleRelayer handles RFQ-M submissions from any authenticated caller.
func (h *Handler) SettleRelayer(c *fiber.Ctx) error {
	caller, _ := Caller(c)
	var req model.RelayerSettlementRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	q, err := req.Quote.Quote()
	if err != nil {
		return badRequest(c, err)
	}
	mmSig, err := model.ParseSignature("marketMakerSignature", req.MarketMakerSignature)
	if err != nil {
		return badRequest(c, err)
	}
	userSig, err := model.ParseSignature("userSignature", req.UserSignature)
	if err != nil {
		return badRequest(c, err)
	}

	rec, err := h.engine.SettleRelayerInitiated(c.UserContext(), engine.Call{From: caller}, q, mmSig, userSig)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(model.NewSettlementView(*rec))
}

// QuoteHash returns the digest both parties sign.
func (h *Handler) QuoteHash(c *fiber.Ctx) error {
	var p model.QuotePayload
	if err := c.BodyParser(&p); err != nil {
		return badRequest(c, err)
	}
	q, err := p.Quote()
	if err != nil {
		return badRequest(c, err)
	}
	d, err := h.engine.QuoteHash(c.UserContext(), q)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(model.HashResponse{QuoteID: q.QuoteID.Hex(), Digest: d.Hex()})
}

// QuoteStatus reports whether a quote id was consumed, with the stored
// record when one is available.
func (h *Handler) QuoteStatus(c *fiber.Ctx) error {
	id, err := model.ParseHash("quoteId", c.Params("quoteId"))
	if err != nil {
		return badRequest(c, err)
	}
	ctx := c.UserContext()
	executed, err := h.engine.IsQuoteExecuted(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	resp := model.QuoteStatusResponse{QuoteID: id.Hex(), Executed: executed}
	if executed && h.records != nil {
		rec, err := h.records.GetSettlement(ctx, id)
		switch {
		case err == nil:
			v := model.NewSettlementView(*rec)
			resp.Settlement = &v
		case !errors.Is(err, store.ErrNotFound):
			h.logger.Warn("api.settlement_lookup_failed", zap.String("quote_id", id.Hex()), zap.Error(err))
		}
	}
	return c.JSON(resp)
}

// Fees returns the fee rate and every asset with accrued fees.
func (h *Handler) Fees(c *fiber.Ctx) error {
	ctx := c.UserContext()
	rate, err := h.engine.FeeRate(ctx)
	if err != nil {
		return fail(c, err)
	}
	balances, err := h.engine.FeeBalances(ctx)
	if err != nil {
		return fail(c, err)
	}
	resp := model.FeesResponse{FeeRateBps: rate, Accrued: make([]model.FeeView, 0, len(balances))}
	for _, b := range balances {
		resp.Accrued = append(resp.Accrued, h.feeView(b.Asset, b.Amount))
	}
	return c.JSON(resp)
}

// AccruedFees returns the fees accrued for one asset.
func (h *Handler) AccruedFees(c *fiber.Ctx) error {
	asset, err := model.ParseAddress("asset", c.Params("asset"))
	if err != nil {
		return badRequest(c, err)
	}
	amount, err := h.engine.AccruedFees(c.UserContext(), asset)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(h.feeView(asset, amount))
}

func (h *Handler) feeView(asset common.Address, amount *big.Int) model.FeeView {
	v := model.FeeView{Asset: asset.Hex(), Amount: amount.String()}
	if h.wallet != nil {
		if d, err := h.wallet.Decimals(asset); err == nil {
			v.Display = model.FormatUnits(amount, d)
		}
	}
	return v
}

// SetFeeRate changes the fee rate. Administrator only.
func (h *Handler) SetFeeRate(c *fiber.Ctx) error {
	caller, _ := Caller(c)
	var req model.FeeRateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}
	ev, err := h.engine.SetFeeRate(c.UserContext(), engine.Call{From: caller}, *req.FeeRateBps)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(model.FeeRateResponse{OldRateBps: ev.OldRateBps, NewRateBps: ev.NewRateBps})
}

// WithdrawFees pays out one asset's accrued fees. Administrator only.
func (h *Handler) WithdrawFees(c *fiber.Ctx) error {
	caller, _ := Caller(c)
	var req model.WithdrawFeesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	asset, recipient, err := req.Parse()
	if err != nil {
		return badRequest(c, err)
	}
	ev, err := h.engine.WithdrawFees(c.UserContext(), engine.Call{From: caller}, asset, recipient)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(model.WithdrawFeesResponse{Asset: ev.Asset.Hex(), Recipient: ev.Recipient.Hex(), Amount: ev.Amount.String()})
}

// Approve sets the caller's allowance. The spender defaults to the engine.
func (h *Handler) Approve(c *fiber.Ctx) error {
	caller, _ := Caller(c)
	var req model.ApproveRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	token, err := model.ParseAddress("token", req.Token)
	if err != nil {
		return badRequest(c, err)
	}
	spender := h.engine.Address()
	if req.Spender != "" {
		if spender, err = model.ParseAddress("spender", req.Spender); err != nil {
			return badRequest(c, err)
		}
	}
	amount, err := model.ParseBaseUnits(req.Amount)
	if err != nil {
		return badRequest(c, err)
	}
	if err := h.wallet.Approve(c.UserContext(), caller, token, spender, amount); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Deposit wraps the caller's native currency in the vault.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	return h.vaultOp(c, h.wallet.Deposit)
}

// Withdraw unwraps the caller's vault units.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	return h.vaultOp(c, h.wallet.Withdraw)
}

func (h *Handler) vaultOp(c *fiber.Ctx, op func(context.Context, common.Address, *big.Int) error) error {
	caller, _ := Caller(c)
	var req model.VaultRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	amount, err := model.ParseBaseUnits(req.Amount)
	if err != nil {
		return badRequest(c, err)
	}
	if err := op(c.UserContext(), caller, amount); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Balances lists an account's holdings.
func (h *Handler) Balances(c *fiber.Ctx) error {
	owner, err := model.ParseAddress("address", c.Params("address"))
	if err != nil {
		return badRequest(c, err)
	}
	out, err := h.wallet.Balances(c.UserContext(), owner)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(out)
}
