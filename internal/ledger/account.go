package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ERC1271MagicValue is returned by IsValidSignature for an accepted signature.
var ERC1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

// SmartAccountSigVersion prefixes every signature a SmartAccount accepts.
const SmartAccountSigVersion byte = 0x01

var errBadAccountSig = errors.New("malformed smart account signature")

// SmartAccount is a threshold multisig contract wallet. A signature is the
// version byte followed by Threshold 65-byte ECDSA signatures from distinct
// owners over the digest.
type SmartAccount struct {
	address   common.Address
	owners    map[common.Address]struct{}
	threshold int
	// AcceptNative controls whether native pushes to the account succeed.
	AcceptNative bool
}

// NewSmartAccount deploys a multisig at address and registers it with w as
// both a signature validator and a native receiver.
func NewSmartAccount(w *World, address common.Address, owners []common.Address, threshold int) (*SmartAccount, error) {
	if threshold <= 0 || threshold > len(owners) {
		return nil, fmt.Errorf("smart account %s: threshold %d out of range", address.Hex(), threshold)
	}
	a := &SmartAccount{
		address:      address,
		owners:       make(map[common.Address]struct{}, len(owners)),
		threshold:    threshold,
		AcceptNative: true,
	}
	for _, o := range owners {
		a.owners[o] = struct{}{}
	}
	w.RegisterValidator(address, a)
	w.RegisterReceiver(address, a)
	return a, nil
}

func (a *SmartAccount) Address() common.Address { return a.address }

// IsValidSignature returns ERC1271MagicValue when sig carries enough distinct
// owner signatures over digest, and a zero value otherwise.
func (a *SmartAccount) IsValidSignature(_ context.Context, digest common.Hash, sig []byte) ([4]byte, error) {
	if len(sig) != 1+65*a.threshold || sig[0] != SmartAccountSigVersion {
		return [4]byte{}, errBadAccountSig
	}
	seen := make(map[common.Address]struct{}, a.threshold)
	for i := 0; i < a.threshold; i++ {
		part := bytes.Clone(sig[1+65*i : 1+65*(i+1)])
		if part[64] >= 27 {
			part[64] -= 27
		}
		pub, err := crypto.SigToPub(digest.Bytes(), part)
		if err != nil {
			return [4]byte{}, nil
		}
		owner := crypto.PubkeyToAddress(*pub)
		if _, ok := a.owners[owner]; !ok {
			return [4]byte{}, nil
		}
		if _, dup := seen[owner]; dup {
			return [4]byte{}, nil
		}
		seen[owner] = struct{}{}
	}
	return ERC1271MagicValue, nil
}

// ReceiveNative accepts or rejects native pushes according to AcceptNative.
func (a *SmartAccount) ReceiveNative(_ context.Context, _ common.Address, _ *big.Int) error {
	if !a.AcceptNative {
		return fmt.Errorf("account %s does not accept native currency", a.address.Hex())
	}
	return nil
}

// SignSmartAccount builds a signature SmartAccount accepts from raw 65-byte
// owner signatures.
func SignSmartAccount(ownerSigs ...[]byte) []byte {
	out := []byte{SmartAccountSigVersion}
	for _, s := range ownerSigs {
		out = append(out, s...)
	}
	return out
}
