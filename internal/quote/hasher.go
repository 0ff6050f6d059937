// Package quote derives the canonical EIP-712 digest that market makers and
// users sign for a quote.
package quote

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Checker-Finance/settlement/pkg/model"
)

const (
	DomainType = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
	QuoteType  = "Quote(address user,address marketMaker,address tokenIn,address tokenOut,uint256 amountIn,uint256 amountOut,uint256 expiry,bytes32 quoteId)"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(DomainType))
	quoteTypeHash  = crypto.Keccak256Hash([]byte(QuoteType))

	bytes32Ty, _ = abi.NewType("bytes32", "", nil)
	uint256Ty, _ = abi.NewType("uint256", "", nil)
	addressTy, _ = abi.NewType("address", "", nil)

	domainArgs = abi.Arguments{
		{Type: bytes32Ty}, {Type: bytes32Ty}, {Type: bytes32Ty}, {Type: uint256Ty}, {Type: addressTy},
	}
	quoteArgs = abi.Arguments{
		{Type: bytes32Ty},
		{Type: addressTy}, {Type: addressTy}, {Type: addressTy}, {Type: addressTy},
		{Type: uint256Ty}, {Type: uint256Ty}, {Type: uint256Ty},
		{Type: bytes32Ty},
	}
)

// Domain separates signatures between deployments.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Hasher computes quote digests for a fixed domain.
type Hasher struct {
	domain    Domain
	separator common.Hash
}

// NewHasher precomputes the domain separator for d.
func NewHasher(d Domain) (*Hasher, error) {
	if d.ChainID == nil || d.ChainID.Sign() < 0 {
		return nil, fmt.Errorf("quote domain: invalid chain id")
	}
	enc, err := domainArgs.Pack(
		domainTypeHash,
		crypto.Keccak256Hash([]byte(d.Name)),
		crypto.Keccak256Hash([]byte(d.Version)),
		d.ChainID,
		d.VerifyingContract,
	)
	if err != nil {
		return nil, fmt.Errorf("quote domain: %w", err)
	}
	return &Hasher{domain: d, separator: crypto.Keccak256Hash(enc)}, nil
}

func (h *Hasher) Domain() Domain { return h.domain }

// DomainSeparator returns keccak256 of the encoded domain.
func (h *Hasher) DomainSeparator() common.Hash {
	return h.separator
}

// StructHash returns keccak256 of the encoded quote fields.
func (h *Hasher) StructHash(q model.Quote) (common.Hash, error) {
	if err := q.CheckAmounts(); err != nil {
		return common.Hash{}, err
	}
	enc, err := quoteArgs.Pack(
		quoteTypeHash,
		q.User,
		q.MarketMaker,
		q.TokenIn,
		q.TokenOut,
		q.AmountIn,
		q.AmountOut,
		new(big.Int).SetUint64(q.Expiry),
		q.QuoteID,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode quote: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// Digest returns keccak256(0x1901 ‖ domainSeparator ‖ structHash(q)), the
// value every party signs.
func (h *Hasher) Digest(q model.Quote) (common.Hash, error) {
	sh, err := h.StructHash(q)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, h.separator.Bytes(), sh.Bytes()), nil
}
