package main

import (
	"crypto/ecdsa"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fatih/color"

	"github.com/Checker-Finance/settlement/internal/quote"
	"github.com/Checker-Finance/settlement/pkg/client"
	"github.com/Checker-Finance/settlement/pkg/config"
	"github.com/Checker-Finance/settlement/pkg/model"
)

// signed is one quote signature ready to print or submit.
type signed struct {
	Quote     model.Quote
	Digest    common.Hash
	Signer    common.Address
	Signature []byte
}

// loadQuote reads a quote TOML file whose keys follow model.QuotePayload.
func loadQuote(path string) (model.QuotePayload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.QuotePayload{}, fmt.Errorf("read quote: %w", err)
	}
	return decodeQuote(string(raw))
}

func decodeQuote(data string) (model.QuotePayload, error) {
	var p model.QuotePayload
	md, err := toml.Decode(data, &p)
	if err != nil {
		return model.QuotePayload{}, fmt.Errorf("decode quote: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return model.QuotePayload{}, fmt.Errorf("decode quote: unknown key %q", undecoded[0].String())
	}
	return p, nil
}

func newHasher(cfg *config.Config) (*quote.Hasher, error) {
	return quote.NewHasher(quote.Domain{
		Name:              cfg.DomainName,
		Version:           cfg.DomainVersion,
		ChainID:           new(big.Int).SetUint64(cfg.ChainID),
		VerifyingContract: cfg.EngineAddress,
	})
}

// signQuote validates p, derives its digest and signs it with key.
func signQuote(h *quote.Hasher, key *ecdsa.PrivateKey, p model.QuotePayload) (*signed, error) {
	q, err := p.Quote()
	if err != nil {
		return nil, err
	}
	if err := q.CheckAmounts(); err != nil {
		return nil, err
	}
	digest, err := h.Digest(q)
	if err != nil {
		return nil, err
	}
	sig, err := client.SignDigest(key, digest)
	if err != nil {
		return nil, err
	}
	return &signed{
		Quote:     q,
		Digest:    digest,
		Signer:    crypto.PubkeyToAddress(key.PublicKey),
		Signature: sig,
	}, nil
}

// role names the party s signed for, or "" when the key is neither.
func (s *signed) role() string {
	switch s.Signer {
	case s.Quote.MarketMaker:
		return "market maker"
	case s.Quote.User:
		return "user"
	}
	return ""
}

func render(w io.Writer, s *signed) {
	label := color.New(color.FgCyan).SprintFunc()
	value := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(w, "%s %s\n", label("quote id: "), value(s.Quote.QuoteID.Hex()))
	fmt.Fprintf(w, "%s %s\n", label("digest:   "), value(s.Digest.Hex()))
	fmt.Fprintf(w, "%s %s\n", label("signer:   "), value(s.Signer.Hex()))
	fmt.Fprintf(w, "%s %s\n", label("signature:"), value(hexutil.Encode(s.Signature)))
	if role := s.role(); role != "" {
		color.New(color.FgGreen).Fprintf(w, "signed as %s\n", role)
	} else {
		color.New(color.FgYellow).Fprintln(w, "warning: signer is neither the quote's user nor its market maker")
	}
}
