package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/engine"
	"github.com/Checker-Finance/settlement/internal/fees"
	"github.com/Checker-Finance/settlement/internal/journal"
	"github.com/Checker-Finance/settlement/internal/ledger"
	"github.com/Checker-Finance/settlement/internal/quote"
	"github.com/Checker-Finance/settlement/internal/rate"
	"github.com/Checker-Finance/settlement/internal/registry"
	"github.com/Checker-Finance/settlement/internal/sigverify"
	"github.com/Checker-Finance/settlement/pkg/model"
)

var (
	engineAddr = common.HexToAddress("0x000000000000000000000000000000000000E9E1")
	vaultAddr  = common.HexToAddress("0x000000000000000000000000000000000000BEEF")
	usdcAddr   = common.HexToAddress("0x00000000000000000000000000000000000005DC")
	treasury   = common.HexToAddress("0x0000000000000000000000000000000000007EA5")
)

func ether(numer, denom int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(1e18), big.NewInt(numer))
	return v.Quo(v, big.NewInt(denom))
}

type stack struct {
	t        *testing.T
	app      *fiber.App
	engine   *engine.Engine
	hasher   *quote.Hasher
	world    *ledger.World
	vault    *ledger.Vault
	usdc     *ledger.ERC20
	userKey  *ecdsa.PrivateKey
	mmKey    *ecdsa.PrivateKey
	adminKey *ecdsa.PrivateKey
	user     common.Address
	mm       common.Address
	admin    common.Address
	seq      int64
}

type stackOption func(*Routes)

func newStack(t *testing.T, opts ...stackOption) *stack {
	t.Helper()
	s := &stack{t: t}
	s.userKey, s.mmKey, s.adminKey = mustKey(t), mustKey(t), mustKey(t)
	s.user = crypto.PubkeyToAddress(s.userKey.PublicKey)
	s.mm = crypto.PubkeyToAddress(s.mmKey.PublicKey)
	s.admin = crypto.PubkeyToAddress(s.adminKey.PublicKey)

	j := journal.New()
	s.world = ledger.NewWorld(j, zap.NewNop())
	var err error
	s.vault, err = ledger.NewVault(s.world, vaultAddr, "WETH")
	require.NoError(t, err)
	s.usdc = ledger.NewERC20(j, usdcAddr, "USDC", 6)
	require.NoError(t, s.world.AddToken(s.usdc))

	require.NoError(t, s.world.Fund(s.user, ether(10, 1)))
	require.NoError(t, s.world.Fund(s.mm, ether(10, 1)))
	require.NoError(t, s.vault.Deposit(context.Background(), s.mm, ether(5, 1)))
	require.NoError(t, s.usdc.Mint(s.user, big.NewInt(1_000_000_000)))
	require.NoError(t, s.usdc.Approve(s.user, engineAddr, ledger.MaxAllowance()))
	require.NoError(t, s.vault.Approve(s.mm, engineAddr, ledger.MaxAllowance()))
	j.Commit(0)

	feeLedger, err := fees.NewLedger(j, 30)
	require.NoError(t, err)
	s.hasher, err = quote.NewHasher(quote.Domain{Name: "QuoteSettlement", Version: "1", ChainID: big.NewInt(1), VerifyingContract: engineAddr})
	require.NoError(t, err)
	verifier := sigverify.New(zap.NewNop(), sigverify.WorldResolver(s.world))

	s.engine, err = engine.New(engine.Config{Address: engineAddr, Admin: s.admin}, engine.Deps{
		Journal:  j,
		Host:     engine.WorldHost(s.world),
		Vault:    s.vault,
		Hasher:   s.hasher,
		Verifier: verifier,
		Registry: registry.NewMemory(),
		Fees:     feeLedger,
	}, zap.NewNop())
	require.NoError(t, err)

	routes := Routes{
		Handler: NewHandler(zap.NewNop(), s.engine, engine.NewWallet(s.engine, s.world, s.vault), nil),
		Auth:    NewAuthenticator(zap.NewNop(), verifier, time.Minute),
		Checks:  map[string]HealthCheck{"ledger": func(context.Context) error { return nil }},
	}
	for _, o := range opts {
		o(&routes)
	}
	s.app = fiber.New()
	RegisterRoutes(s.app, routes)
	return s
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return k
}

func sign(t *testing.T, key *ecdsa.PrivateKey, digest common.Hash) string {
	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)
	sig[64] += 27
	return hexutil.Encode(sig)
}

// usdcForNative is 1000 USDC for 0.9 native.
func (s *stack) usdcForNative() model.Quote {
	s.seq++
	return model.Quote{
		User:        s.user,
		MarketMaker: s.mm,
		TokenIn:     usdcAddr,
		TokenOut:    model.NativeAsset,
		AmountIn:    big.NewInt(1_000_000_000),
		AmountOut:   ether(9, 10),
		Expiry:      uint64(time.Now().Add(time.Hour).Unix()),
		QuoteID:     crypto.Keccak256Hash([]byte(fmt.Sprintf("quote-%d", s.seq))),
	}
}

func (s *stack) digest(q model.Quote) common.Hash {
	d, err := s.hasher.Digest(q)
	require.NoError(s.t, err)
	return d
}

func (s *stack) do(req *http.Request) (*http.Response, []byte) {
	resp, err := s.app.Test(req, -1)
	require.NoError(s.t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	return resp, body
}

func (s *stack) signed(key *ecdsa.PrivateKey, method, path string, payload any) *http.Request {
	return signedAt(s.t, key, method, path, payload, time.Now().Unix())
}

func signedAt(t *testing.T, key *ecdsa.PrivateKey, method, path string, payload any, ts int64) *http.Request {
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(model.HeaderCallerAddress, crypto.PubkeyToAddress(key.PublicKey).Hex())
	req.Header.Set(model.HeaderCallerTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(model.HeaderCallerSignature, sign(t, key, model.AuthDigest(method, path, ts, data)))
	return req
}

func decode[T any](t *testing.T, body []byte) T {
	var out T
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out
}

func TestSettleUser_Success(t *testing.T) {
	s := newStack(t)
	q := s.usdcForNative()
	req := model.UserSettlementRequest{
		Quote:                model.NewQuotePayload(q),
		MarketMakerSignature: sign(t, s.mmKey, s.digest(q)),
	}

	resp, body := s.do(s.signed(s.userKey, http.MethodPost, "/api/v1/settlements/user", req))
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, string(body))

	view := decode[model.SettlementView](t, body)
	assert.Equal(t, "RFQ-T", view.Model)
	assert.Equal(t, "2700000000000000", view.Fee)
	assert.Equal(t, "897300000000000000", view.UserReceived)
	assert.Equal(t, s.user.Hex(), view.Caller)

	// replay of the same quote
	resp, body = s.do(s.signed(s.userKey, http.MethodPost, "/api/v1/settlements/user", req))
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_executed", decode[model.ErrorResponse](t, body).Reason)

	resp, body = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/quotes/"+q.QuoteID.Hex(), nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, decode[model.QuoteStatusResponse](t, body).Executed)
}

func TestSettleUser_CallerMustBeUser(t *testing.T) {
	s := newStack(t)
	q := s.usdcForNative()
	req := model.UserSettlementRequest{
		Quote:                model.NewQuotePayload(q),
		MarketMakerSignature: sign(t, s.mmKey, s.digest(q)),
	}

	resp, body := s.do(s.signed(s.mmKey, http.MethodPost, "/api/v1/settlements/user", req))
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "not_user", decode[model.ErrorResponse](t, body).Reason)
}

func TestSettleUser_BadMarketMakerSignature(t *testing.T) {
	s := newStack(t)
	q := s.usdcForNative()
	req := model.UserSettlementRequest{
		Quote:                model.NewQuotePayload(q),
		MarketMakerSignature: sign(t, s.userKey, s.digest(q)),
	}

	resp, body := s.do(s.signed(s.userKey, http.MethodPost, "/api/v1/settlements/user", req))
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_market_maker_signature", decode[model.ErrorResponse](t, body).Reason)
}

func TestSettleUser_InvalidPayload(t *testing.T) {
	s := newStack(t)
	q := model.NewQuotePayload(s.usdcForNative())
	q.AmountIn = "-5"

	resp, _ := s.do(s.signed(s.userKey, http.MethodPost, "/api/v1/settlements/user", model.UserSettlementRequest{Quote: q}))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSettleRelayer(t *testing.T) {
	s := newStack(t)
	relayerKey := mustKey(t)

	q := s.usdcForNative()
	d := s.digest(q)
	req := model.RelayerSettlementRequest{
		Quote:                model.NewQuotePayload(q),
		MarketMakerSignature: sign(t, s.mmKey, d),
		UserSignature:        sign(t, s.userKey, d),
	}
	resp, body := s.do(s.signed(relayerKey, http.MethodPost, "/api/v1/settlements/relayer", req))
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, string(body))
	view := decode[model.SettlementView](t, body)
	assert.Equal(t, "RFQ-M", view.Model)
	assert.Equal(t, crypto.PubkeyToAddress(relayerKey.PublicKey).Hex(), view.Caller)

	native := s.usdcForNative()
	native.TokenIn, native.TokenOut = model.NativeAsset, usdcAddr
	d = s.digest(native)
	req = model.RelayerSettlementRequest{
		Quote:                model.NewQuotePayload(native),
		MarketMakerSignature: sign(t, s.mmKey, d),
		UserSignature:        sign(t, s.userKey, d),
	}
	resp, body = s.do(s.signed(relayerKey, http.MethodPost, "/api/v1/settlements/relayer", req))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "native_input_not_supported", decode[model.ErrorResponse](t, body).Reason)
}

func TestAuth_Rejections(t *testing.T) {
	s := newStack(t)
	path := "/api/v1/settlements/user"

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(`{}`)))
	resp, _ := s.do(req)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	stale := signedAt(t, s.userKey, http.MethodPost, path, map[string]string{}, time.Now().Add(-time.Hour).Unix())
	resp, body := s.do(stale)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "window")

	forged := s.signed(s.mmKey, http.MethodPost, path, map[string]string{})
	forged.Header.Set(model.HeaderCallerAddress, s.user.Hex())
	resp, body = s.do(forged)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "invalid caller signature")

	// signature over a different path does not authorize this one
	ts := time.Now().Unix()
	wrongPath := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(`{}`)))
	wrongPath.Header.Set("Content-Type", "application/json")
	wrongPath.Header.Set(model.HeaderCallerAddress, s.user.Hex())
	wrongPath.Header.Set(model.HeaderCallerTimestamp, strconv.FormatInt(ts, 10))
	wrongPath.Header.Set(model.HeaderCallerSignature,
		sign(t, s.userKey, model.AuthDigest(http.MethodPost, "/api/v1/vault/deposit", ts, []byte(`{}`))))
	resp, _ = s.do(wrongPath)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestQuoteHash(t *testing.T) {
	s := newStack(t)
	q := s.usdcForNative()
	data, err := json.Marshal(model.NewQuotePayload(q))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes/hash", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	resp, body := s.do(req)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, s.digest(q).Hex(), decode[model.HashResponse](t, body).Digest)
}

func TestQuoteStatus_BadID(t *testing.T) {
	s := newStack(t)
	resp, _ := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/quotes/not-a-hash", nil))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, body := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/quotes/"+common.HexToHash("0x01").Hex(), nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.False(t, decode[model.QuoteStatusResponse](t, body).Executed)
}

func TestAdmin_FeeRateAndWithdraw(t *testing.T) {
	s := newStack(t)

	q := s.usdcForNative()
	settle := model.UserSettlementRequest{Quote: model.NewQuotePayload(q), MarketMakerSignature: sign(t, s.mmKey, s.digest(q))}
	resp, _ := s.do(s.signed(s.userKey, http.MethodPost, "/api/v1/settlements/user", settle))
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, body := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/fees", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	fr := decode[model.FeesResponse](t, body)
	assert.EqualValues(t, 30, fr.FeeRateBps)
	require.Len(t, fr.Accrued, 1)
	assert.Equal(t, "0.0027", fr.Accrued[0].Display)

	bps := uint64(50)
	resp, _ = s.do(s.signed(s.userKey, http.MethodPost, "/api/v1/admin/fee-rate", model.FeeRateRequest{FeeRateBps: &bps}))
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, body = s.do(s.signed(s.adminKey, http.MethodPost, "/api/v1/admin/fee-rate", model.FeeRateRequest{FeeRateBps: &bps}))
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, model.FeeRateResponse{OldRateBps: 30, NewRateBps: 50}, decode[model.FeeRateResponse](t, body))

	tooHigh := uint64(1001)
	resp, _ = s.do(s.signed(s.adminKey, http.MethodPost, "/api/v1/admin/fee-rate", model.FeeRateRequest{FeeRateBps: &tooHigh}))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(s.signed(s.adminKey, http.MethodPost, "/api/v1/admin/fee-rate", map[string]any{}))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	withdraw := model.WithdrawFeesRequest{Asset: model.NativeAsset.Hex(), Recipient: common.Address{}.Hex()}
	resp, body = s.do(s.signed(s.adminKey, http.MethodPost, "/api/v1/admin/withdraw", withdraw))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_recipient", decode[model.ErrorResponse](t, body).Reason)

	withdraw.Recipient = treasury.Hex()
	resp, body = s.do(s.signed(s.adminKey, http.MethodPost, "/api/v1/admin/withdraw", withdraw))
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "2700000000000000", decode[model.WithdrawFeesResponse](t, body).Amount)
	assert.Equal(t, "2700000000000000", s.world.NativeBalance(treasury).String())

	resp, body = s.do(s.signed(s.adminKey, http.MethodPost, "/api/v1/admin/withdraw", withdraw))
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "no_fees_to_withdraw", decode[model.ErrorResponse](t, body).Reason)

	resp, body = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/fees/"+model.NativeAsset.Hex(), nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", decode[model.FeeView](t, body).Amount)
}

func TestWalletRoutes(t *testing.T) {
	s := newStack(t)

	resp, body := s.do(s.signed(s.userKey, http.MethodPost, "/api/v1/vault/deposit", model.VaultRequest{Amount: ether(1, 1).String()}))
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode, string(body))
	assert.Equal(t, ether(1, 1).String(), s.vault.BalanceOf(s.user).String())

	resp, _ = s.do(s.signed(s.userKey, http.MethodPost, "/api/v1/vault/withdraw", model.VaultRequest{Amount: ether(2, 1).String()}))
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = s.do(s.signed(s.userKey, http.MethodPost, "/api/v1/tokens/approve", model.ApproveRequest{Token: vaultAddr.Hex(), Amount: "5"}))
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "5", s.vault.Allowance(s.user, engineAddr).String())

	resp, _ = s.do(s.signed(s.userKey, http.MethodPost, "/api/v1/tokens/approve", model.ApproveRequest{Token: treasury.Hex(), Amount: "5"}))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, body = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/accounts/"+s.user.Hex()+"/balances", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	balances := decode[[]model.TokenBalance](t, body)
	require.Len(t, balances, 3)
	assert.Equal(t, "9", balances[0].Display)
}

func TestHealth(t *testing.T) {
	s := newStack(t, func(r *Routes) {
		r.Checks["store"] = func(context.Context) error { return errors.New("redis ping failed") }
	})
	resp, body := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	out := decode[map[string]any](t, body)
	assert.Equal(t, "degraded", out["status"])
	checks := out["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["ledger"])
	assert.Equal(t, "redis ping failed", checks["store"])
}

func TestRateLimit(t *testing.T) {
	s := newStack(t, func(r *Routes) {
		r.Limiter = rate.NewManager(rate.Config{RequestsPerSecond: 0, Burst: 1})
	})
	resp, _ := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/fees", nil))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp, _ = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/fees", nil))
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{engine.ErrNotUser, fiber.StatusForbidden},
		{engine.ErrUnauthorized, fiber.StatusForbidden},
		{engine.ErrInvalidUserSignature, fiber.StatusUnauthorized},
		{engine.ErrAlreadyExecuted, fiber.StatusConflict},
		{engine.ErrReentrantCall, fiber.StatusConflict},
		{engine.ErrExpired, fiber.StatusUnprocessableEntity},
		{engine.ErrWrongNativeAmount, fiber.StatusBadRequest},
		{ledger.ErrInsufficientAllowance, fiber.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", ledger.ErrUnknownToken), fiber.StatusNotFound},
		{context.DeadlineExceeded, fiber.StatusServiceUnavailable},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
