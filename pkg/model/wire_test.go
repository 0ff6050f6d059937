package model

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleQuote() Quote {
	return Quote{
		User:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
		MarketMaker: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		TokenIn:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
		TokenOut:    NativeAsset,
		AmountIn:    big.NewInt(1_000_000),
		AmountOut:   new(big.Int).Mul(big.NewInt(9), big.NewInt(1e17)),
		Expiry:      1_900_000_000,
		QuoteID:     common.HexToHash("0xabc"),
	}
}

func TestQuotePayload_RoundTrip(t *testing.T) {
	q := sampleQuote()
	p := NewQuotePayload(q)
	assert.Equal(t, "900000000000000000", p.AmountOut)

	got, err := p.Quote()
	require.NoError(t, err)
	assert.Equal(t, q.User, got.User)
	assert.Equal(t, q.TokenOut, got.TokenOut)
	assert.Equal(t, 0, q.AmountOut.Cmp(got.AmountOut))
	assert.Equal(t, q.QuoteID, got.QuoteID)
	assert.Equal(t, q.Expiry, got.Expiry)
}

func TestQuotePayload_Invalid(t *testing.T) {
	base := NewQuotePayload(sampleQuote())

	cases := map[string]func(p *QuotePayload){
		"bad user":        func(p *QuotePayload) { p.User = "0x123" },
		"bad token":       func(p *QuotePayload) { p.TokenIn = "usdc" },
		"negative amount": func(p *QuotePayload) { p.AmountIn = "-1" },
		"decimal amount":  func(p *QuotePayload) { p.AmountOut = "1.5" },
		"empty amount":    func(p *QuotePayload) { p.AmountOut = "" },
		"short id":        func(p *QuotePayload) { p.QuoteID = "0xabc" },
		"id not hex":      func(p *QuotePayload) { p.QuoteID = "quote-1" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := base
			mutate(&p)
			_, err := p.Quote()
			assert.Error(t, err)
		})
	}
}

func TestParseBaseUnits_Overflow(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err := ParseBaseUnits(tooBig.String())
	assert.ErrorIs(t, err, ErrInvalidAmount)

	limit := new(big.Int).Sub(tooBig, big.NewInt(1))
	v, err := ParseBaseUnits(limit.String())
	require.NoError(t, err)
	assert.Equal(t, 0, v.Cmp(limit))
}

func TestParseUnits(t *testing.T) {
	v, err := ParseUnits("0.9", 18)
	require.NoError(t, err)
	assert.Equal(t, "900000000000000000", v.String())

	v, err = ParseUnits("12.5", 6)
	require.NoError(t, err)
	assert.Equal(t, "12500000", v.String())

	_, err = ParseUnits("0.0000001", 6)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParseUnits("-1", 6)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParseUnits("abc", 6)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "0.8973", FormatUnits(big.NewInt(897_300_000_000_000_000), 18))
	assert.Equal(t, "1", FormatUnits(big.NewInt(1_000_000), 6))
	assert.Equal(t, "0", FormatUnits(nil, 6))
}

func TestParseSignature(t *testing.T) {
	b, err := ParseSignature("sig", "")
	require.NoError(t, err)
	assert.Empty(t, b)

	b, err = ParseSignature("sig", "0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)

	_, err = ParseSignature("sig", "deadbeef")
	assert.Error(t, err)
}

func TestNewSettlementView(t *testing.T) {
	s := Settlement{
		QuoteID:      common.HexToHash("0x01"),
		Model:        TradeModelRelayerInitiated,
		Fee:          big.NewInt(27),
		UserReceived: big.NewInt(8973),
	}
	v := NewSettlementView(s)
	assert.Equal(t, "RFQ-M", v.Model)
	assert.Equal(t, "27", v.Fee)
	assert.Equal(t, "0", v.AmountIn)
}
