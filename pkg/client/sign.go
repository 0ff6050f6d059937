package client

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignDigest produces the 65-byte r||s||v signature, v in {27, 28}, that
// the engine accepts for a quote digest.
func SignDigest(key *ecdsa.PrivateKey, digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
