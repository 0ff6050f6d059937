// Package client is a Go client for the settlement API. Mutating calls are
// signed with the caller's key; every call goes through a rate-limited,
// retrying executor.
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/httpclient"
	"github.com/Checker-Finance/settlement/internal/rate"
	"github.com/Checker-Finance/settlement/pkg/model"
)

// APIError is a non-2xx reply from the settlement API.
type APIError struct {
	Status  int
	Message string
	Reason  string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("settlement api %d (%s): %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("settlement api %d: %s", e.Status, e.Message)
}

func decodeError(status int, body []byte) error {
	var resp model.ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error == "" {
		return &APIError{Status: status, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{Status: status, Message: resp.Error, Reason: resp.Reason}
}

type options struct {
	logger     *zap.Logger
	httpClient *http.Client
	retries    int
	limits     *rate.Config
	now        func() time.Time
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option           { return func(o *options) { o.logger = l } }
func WithHTTPClient(c *http.Client) Option      { return func(o *options) { o.httpClient = c } }
func WithRetries(n int) Option                  { return func(o *options) { o.retries = n } }
func WithRateLimit(cfg rate.Config) Option      { return func(o *options) { o.limits = &cfg } }
func withClock(now func() time.Time) Option     { return func(o *options) { o.now = now } }

// Client talks to one settlement service as one caller.
type Client struct {
	baseURL string
	key     *ecdsa.PrivateKey
	address common.Address
	exec    *httpclient.Executor
	now     func() time.Time
}

// New creates a client. key may be nil for read-only use.
func New(baseURL string, key *ecdsa.PrivateKey, opts ...Option) *Client {
	o := options{retries: 2, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	var mgr *rate.Manager
	if o.limits != nil {
		mgr = rate.NewManager(*o.limits)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		exec:    httpclient.New(o.logger, mgr, o.httpClient, o.retries, "settlement", decodeError),
		now:     o.now,
	}
	if key != nil {
		c.address = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c
}

// Address is the caller address requests are signed as.
func (c *Client) Address() common.Address { return c.address }

func (c *Client) SettleUser(ctx context.Context, req model.UserSettlementRequest) (*model.SettlementView, error) {
	var out model.SettlementView
	if err := c.post(ctx, "/api/v1/settlements/user", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SettleRelayer(ctx context.Context, req model.RelayerSettlementRequest) (*model.SettlementView, error) {
	var out model.SettlementView
	if err := c.post(ctx, "/api/v1/settlements/relayer", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QuoteHash asks the service for q's signing digest.
func (c *Client) QuoteHash(ctx context.Context, q model.Quote) (common.Hash, error) {
	var out model.HashResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/quotes/hash", model.NewQuotePayload(q), false, &out); err != nil {
		return common.Hash{}, err
	}
	return model.ParseHash("digest", out.Digest)
}

func (c *Client) QuoteStatus(ctx context.Context, id common.Hash) (*model.QuoteStatusResponse, error) {
	var out model.QuoteStatusResponse
	if err := c.get(ctx, "/api/v1/quotes/"+id.Hex(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Fees(ctx context.Context) (*model.FeesResponse, error) {
	var out model.FeesResponse
	if err := c.get(ctx, "/api/v1/fees", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetFeeRate(ctx context.Context, bps uint64) (*model.FeeRateResponse, error) {
	var out model.FeeRateResponse
	if err := c.post(ctx, "/api/v1/admin/fee-rate", model.FeeRateRequest{FeeRateBps: &bps}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) WithdrawFees(ctx context.Context, asset, recipient common.Address) (*model.WithdrawFeesResponse, error) {
	var out model.WithdrawFeesResponse
	req := model.WithdrawFeesRequest{Asset: asset.Hex(), Recipient: recipient.Hex()}
	if err := c.post(ctx, "/api/v1/admin/withdraw", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve grants spender an allowance; the zero spender means the engine.
func (c *Client) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	req := model.ApproveRequest{Token: token.Hex(), Amount: amount.String()}
	if spender != (common.Address{}) {
		req.Spender = spender.Hex()
	}
	return c.post(ctx, "/api/v1/tokens/approve", req, nil)
}

func (c *Client) Deposit(ctx context.Context, amount *big.Int) error {
	return c.post(ctx, "/api/v1/vault/deposit", model.VaultRequest{Amount: amount.String()}, nil)
}

func (c *Client) Withdraw(ctx context.Context, amount *big.Int) error {
	return c.post(ctx, "/api/v1/vault/withdraw", model.VaultRequest{Amount: amount.String()}, nil)
}

func (c *Client) Balances(ctx context.Context, owner common.Address) ([]model.TokenBalance, error) {
	var out []model.TokenBalance
	if err := c.get(ctx, "/api/v1/accounts/"+owner.Hex()+"/balances", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, false, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	return c.do(ctx, http.MethodPost, path, payload, true, out)
}

func (c *Client) do(ctx context.Context, method, path string, payload any, signed bool, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		if err := c.sign(req, path, body); err != nil {
			return err
		}
	}
	return c.exec.DoJSON(ctx, req, c.address.Hex(), out)
}

func (c *Client) sign(req *http.Request, path string, body []byte) error {
	if c.key == nil {
		return fmt.Errorf("client has no signing key")
	}
	ts := c.now().Unix()
	sig, err := SignDigest(c.key, model.AuthDigest(req.Method, path, ts, body))
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set(model.HeaderCallerAddress, c.address.Hex())
	req.Header.Set(model.HeaderCallerTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(model.HeaderCallerSignature, hexutil.Encode(sig))
	return nil
}
