package engine

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/fees"
	"github.com/Checker-Finance/settlement/internal/journal"
	"github.com/Checker-Finance/settlement/internal/ledger"
	"github.com/Checker-Finance/settlement/internal/quote"
	"github.com/Checker-Finance/settlement/internal/registry"
	"github.com/Checker-Finance/settlement/internal/sigverify"
	"github.com/Checker-Finance/settlement/pkg/model"
)

var (
	engineAddr = common.HexToAddress("0x000000000000000000000000000000000000E9E1")
	adminAddr  = common.HexToAddress("0x000000000000000000000000000000000000AD01")
	relayer    = common.HexToAddress("0x000000000000000000000000000000000000BE1A")
	vaultAddr  = common.HexToAddress("0x000000000000000000000000000000000000BEEF")
	usdcAddr   = common.HexToAddress("0x00000000000000000000000000000000000005DC")
	daiAddr    = common.HexToAddress("0x0000000000000000000000000000000000000DA1")

	oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func ether(numer, denom int64) *big.Int {
	v := new(big.Int).Mul(oneEther, big.NewInt(numer))
	return v.Quo(v, big.NewInt(denom))
}

func usdc(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

type recorder struct {
	mu     sync.Mutex
	events []any
}

func (r *recorder) Publish(_ context.Context, ev any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events...)
}

type observation struct {
	model  model.TradeModel
	result string
}

type observer struct {
	mu   sync.Mutex
	seen []observation
}

func (o *observer) ObserveSettlement(m model.TradeModel, result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, observation{m, result})
}

type harness struct {
	t        *testing.T
	j        *journal.Journal
	world    *ledger.World
	vault    *ledger.Vault
	usdc     *ledger.ERC20
	dai      *ledger.ERC20
	fees     *fees.Ledger
	registry *registry.Memory
	hasher   *quote.Hasher
	events   *recorder
	observer *observer
	engine   *Engine
	now      time.Time
	seq      int64

	userKey *ecdsa.PrivateKey
	mmKey   *ecdsa.PrivateKey
	user    common.Address
	mm      common.Address
}

type option func(*Deps)

func withHost(wrap func(Host) Host) option {
	return func(d *Deps) { d.Host = wrap(d.Host) }
}

func newHarness(t *testing.T, feeBps uint64, opts ...option) *harness {
	t.Helper()
	h := &harness{t: t, now: time.Unix(1_700_000_000, 0)}

	var err error
	h.userKey, err = crypto.GenerateKey()
	require.NoError(t, err)
	h.mmKey, err = crypto.GenerateKey()
	require.NoError(t, err)
	h.user = crypto.PubkeyToAddress(h.userKey.PublicKey)
	h.mm = crypto.PubkeyToAddress(h.mmKey.PublicKey)

	h.j = journal.New()
	h.world = ledger.NewWorld(h.j, zap.NewNop())
	h.vault, err = ledger.NewVault(h.world, vaultAddr, "WETH")
	require.NoError(t, err)
	h.usdc = ledger.NewERC20(h.j, usdcAddr, "USDC", 6)
	require.NoError(t, h.world.AddToken(h.usdc))
	h.dai = ledger.NewERC20(h.j, daiAddr, "DAI", 18)
	require.NoError(t, h.world.AddToken(h.dai))

	require.NoError(t, h.world.Fund(h.user, ether(10, 1)))
	require.NoError(t, h.world.Fund(h.mm, ether(10, 1)))
	require.NoError(t, h.vault.Deposit(context.Background(), h.mm, ether(5, 1)))
	require.NoError(t, h.usdc.Mint(h.user, usdc(1_000)))
	require.NoError(t, h.usdc.Mint(h.mm, usdc(1_000)))
	require.NoError(t, h.dai.Mint(h.mm, ether(1_000, 1)))

	h.approveAll(h.user)
	h.approveAll(h.mm)
	h.j.Commit(0)

	h.fees, err = fees.NewLedger(h.j, feeBps)
	require.NoError(t, err)
	h.registry = registry.NewMemory()
	h.hasher, err = quote.NewHasher(quote.Domain{
		Name: "QuoteSettlement", Version: "1", ChainID: big.NewInt(1), VerifyingContract: engineAddr,
	})
	require.NoError(t, err)
	h.events = &recorder{}
	h.observer = &observer{}

	deps := Deps{
		Journal:  h.j,
		Host:     WorldHost(h.world),
		Vault:    h.vault,
		Hasher:   h.hasher,
		Verifier: sigverify.New(zap.NewNop(), sigverify.WorldResolver(h.world)),
		Registry: h.registry,
		Fees:     h.fees,
		Emitter:  h.events,
		Observer: h.observer,
		Clock:    func() time.Time { return h.now },
	}
	for _, o := range opts {
		o(&deps)
	}
	h.engine, err = New(Config{Address: engineAddr, Admin: adminAddr}, deps, zap.NewNop())
	require.NoError(t, err)
	return h
}

func (h *harness) approveAll(owner common.Address) {
	for _, tok := range []*ledger.ERC20{h.vault.ERC20, h.usdc, h.dai} {
		require.NoError(h.t, tok.Approve(owner, engineAddr, ledger.MaxAllowance()))
	}
}

func (h *harness) quote(tokenIn, tokenOut common.Address, amountIn, amountOut *big.Int) model.Quote {
	h.seq++
	return model.Quote{
		User:        h.user,
		MarketMaker: h.mm,
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    new(big.Int).Set(amountIn),
		AmountOut:   new(big.Int).Set(amountOut),
		Expiry:      uint64(h.now.Add(time.Minute).Unix()),
		QuoteID:     crypto.Keccak256Hash(big.NewInt(h.seq).Bytes()),
	}
}

func (h *harness) sign(key *ecdsa.PrivateKey, q model.Quote) []byte {
	h.t.Helper()
	d, err := h.hasher.Digest(q)
	require.NoError(h.t, err)
	sig, err := crypto.Sign(d.Bytes(), key)
	require.NoError(h.t, err)
	sig[64] += 27
	return sig
}

func (h *harness) userCall(value *big.Int) Call {
	return Call{From: h.user, Value: value}
}

// snapshot captures every balance a settlement can touch.
type balances map[string]string

func (h *harness) balances() balances {
	out := balances{}
	parties := map[string]common.Address{
		"user": h.user, "mm": h.mm, "engine": engineAddr, "relayer": relayer, "admin": adminAddr, "vault": vaultAddr,
	}
	for name, addr := range parties {
		out[name+".native"] = h.world.NativeBalance(addr).String()
		out[name+".weth"] = h.vault.BalanceOf(addr).String()
		out[name+".usdc"] = h.usdc.BalanceOf(addr).String()
		out[name+".dai"] = h.dai.BalanceOf(addr).String()
	}
	for _, a := range []common.Address{model.NativeAsset, usdcAddr, daiAddr} {
		out["fees."+a.Hex()] = h.fees.Balance(a).String()
	}
	out["fee_rate"] = big.NewInt(int64(h.fees.Rate())).String()
	return out
}
