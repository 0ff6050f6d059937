// Package chain resolves ERC-1271 signature validators deployed on a live
// EVM node.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/sigverify"
)

const erc1271ABI = `[{
	"type": "function",
	"name": "isValidSignature",
	"stateMutability": "view",
	"inputs": [
		{"name": "hash", "type": "bytes32"},
		{"name": "signature", "type": "bytes"}
	],
	"outputs": [{"name": "magicValue", "type": "bytes4"}]
}]`

var erc1271 abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc1271ABI))
	if err != nil {
		panic("erc1271 abi: " + err.Error())
	}
	erc1271 = parsed
}

// Backend is the subset of an RPC client the resolver needs.
// *ethclient.Client satisfies it.
type Backend interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Resolver finds ERC-1271 validators on chain.
type Resolver struct {
	logger  *zap.Logger
	backend Backend
}

// Dial connects to rawURL and returns a resolver backed by it.
func Dial(ctx context.Context, logger *zap.Logger, rawURL string) (*Resolver, func(), error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	logger.Info("chain.connected", zap.String("url", rawURL))
	return NewResolver(logger, client), client.Close, nil
}

func NewResolver(logger *zap.Logger, backend Backend) *Resolver {
	return &Resolver{logger: logger, backend: backend}
}

// Resolve reports a validator for addr when it has deployed code.
func (r *Resolver) Resolve(ctx context.Context, addr common.Address) (sigverify.ContractValidator, bool, error) {
	code, err := r.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, false, fmt.Errorf("code at %s: %w", addr.Hex(), err)
	}
	if len(code) == 0 {
		return nil, false, nil
	}
	return &contract{backend: r.backend, address: addr}, true, nil
}

type contract struct {
	backend Backend
	address common.Address
}

func (c *contract) IsValidSignature(ctx context.Context, digest common.Hash, signature []byte) ([4]byte, error) {
	data, err := erc1271.Pack("isValidSignature", [32]byte(digest), signature)
	if err != nil {
		return [4]byte{}, err
	}
	to := c.address
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return [4]byte{}, err
	}
	values, err := erc1271.Unpack("isValidSignature", out)
	if err != nil {
		return [4]byte{}, err
	}
	if len(values) != 1 {
		return [4]byte{}, fmt.Errorf("isValidSignature: %d return values", len(values))
	}
	magic, ok := values[0].([4]byte)
	if !ok {
		return [4]byte{}, fmt.Errorf("isValidSignature: unexpected return type %T", values[0])
	}
	return magic, nil
}
