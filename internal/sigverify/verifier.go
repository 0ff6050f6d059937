package sigverify

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/ledger"
)

// MagicValue is the ERC-1271 return value for a valid signature.
var MagicValue = ledger.ERC1271MagicValue

// ContractValidator is a signer able to validate signatures on its own behalf.
type ContractValidator interface {
	IsValidSignature(ctx context.Context, digest common.Hash, signature []byte) ([4]byte, error)
}

// Resolver finds the contract validator deployed at an address. ok is false
// when the address has no code.
type Resolver interface {
	Resolve(ctx context.Context, addr common.Address) (v ContractValidator, ok bool, err error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, addr common.Address) (ContractValidator, bool, error)

func (f ResolverFunc) Resolve(ctx context.Context, addr common.Address) (ContractValidator, bool, error) {
	return f(ctx, addr)
}

// Verifier checks ECDSA signatures locally and contract signatures through
// a chain of resolvers, first match wins.
type Verifier struct {
	logger    *zap.Logger
	resolvers []Resolver
}

// New creates a verifier. Resolvers are consulted in order.
func New(logger *zap.Logger, resolvers ...Resolver) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{logger: logger, resolvers: resolvers}
}

// IsValid reports whether raw is an acceptable signature by signer over
// digest. It never returns an error: every failure is a rejection.
func (v *Verifier) IsValid(ctx context.Context, signer common.Address, digest common.Hash, raw []byte) bool {
	return v.Verify(ctx, signer, digest, Decode(raw))
}

// Verify dispatches on the signature scheme.
func (v *Verifier) Verify(ctx context.Context, signer common.Address, digest common.Hash, sig Signature) bool {
	switch sig.Scheme {
	case SchemeECDSA:
		return verifyECDSA(signer, digest, sig.Bytes)
	case SchemeContract:
		return v.verifyContract(ctx, signer, digest, sig.Bytes)
	default:
		return false
	}
}

// Recover returns the address that produced a 65-byte signature over digest.
// v must be 27 or 28 and s must be in the lower half of the curve order.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != ECDSALength {
		return common.Address{}, fmt.Errorf("signature length %d", len(sig))
	}
	recID := sig[64]
	if recID != 27 && recID != 28 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", recID)
	}
	recID -= 27
	r := new(big.Int).SetBytes(sig[0:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(recID, r, s, true) {
		return common.Address{}, fmt.Errorf("signature values out of range")
	}

	normalized := make([]byte, ECDSALength)
	copy(normalized, sig)
	normalized[64] = recID
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func verifyECDSA(signer common.Address, digest common.Hash, sig []byte) bool {
	if signer == (common.Address{}) {
		return false
	}
	got, err := Recover(digest, sig)
	if err != nil {
		return false
	}
	return got == signer
}

func (v *Verifier) verifyContract(ctx context.Context, signer common.Address, digest common.Hash, blob []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Warn("sigverify.contract_panic",
				zap.String("signer", signer.Hex()),
				zap.Any("panic", r))
			ok = false
		}
	}()

	for _, res := range v.resolvers {
		validator, found, err := res.Resolve(ctx, signer)
		if err != nil {
			v.logger.Debug("sigverify.resolve_failed", zap.String("signer", signer.Hex()), zap.Error(err))
			return false
		}
		if !found {
			continue
		}
		magic, err := validator.IsValidSignature(ctx, digest, blob)
		if err != nil {
			v.logger.Debug("sigverify.contract_rejected", zap.String("signer", signer.Hex()), zap.Error(err))
			return false
		}
		return magic == MagicValue
	}
	return false
}

// WorldResolver resolves validators registered in an emulated ledger world.
func WorldResolver(w *ledger.World) Resolver {
	return ResolverFunc(func(ctx context.Context, addr common.Address) (ContractValidator, bool, error) {
		sv, ok := w.SignatureValidator(ctx, addr)
		if !ok {
			return nil, false, nil
		}
		return sv, true, nil
	})
}
