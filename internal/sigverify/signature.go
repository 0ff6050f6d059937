// Package sigverify decides whether a signature over a quote digest was
// produced by, or is endorsed by, a given address.
package sigverify

import (
	"bytes"
	"math/big"
)

// Scheme identifies how a signature must be checked.
type Scheme int

const (
	// SchemeNone is an empty or unusable signature; it never verifies.
	SchemeNone Scheme = iota
	// SchemeECDSA is a 65-byte r‖s‖v secp256k1 signature.
	SchemeECDSA
	// SchemeContract is an opaque blob handed to the signer's ERC-1271 validator.
	SchemeContract
)

func (s Scheme) String() string {
	switch s {
	case SchemeECDSA:
		return "ecdsa"
	case SchemeContract:
		return "contract"
	default:
		return "none"
	}
}

// ECDSALength is the byte length of an r‖s‖v signature.
const ECDSALength = 65

// minContractLength is the shortest blob forwarded to a contract validator.
const minContractLength = 4

// Signature is a decoded signature ready for verification.
type Signature struct {
	Scheme Scheme
	Bytes  []byte
}

// Decode classifies raw by length: exactly 65 bytes is ECDSA, any other
// length of at least 4 bytes is a contract signature, anything shorter is none.
func Decode(raw []byte) Signature {
	switch {
	case len(raw) == ECDSALength:
		return Signature{Scheme: SchemeECDSA, Bytes: bytes.Clone(raw)}
	case len(raw) >= minContractLength:
		return Signature{Scheme: SchemeContract, Bytes: bytes.Clone(raw)}
	default:
		return Signature{Scheme: SchemeNone}
	}
}

// ECDSA builds a 65-byte signature from its components.
func ECDSA(r, s *big.Int, v byte) Signature {
	out := make([]byte, ECDSALength)
	r.FillBytes(out[0:32])
	s.FillBytes(out[32:64])
	out[64] = v
	return Signature{Scheme: SchemeECDSA, Bytes: out}
}

// Contract wraps an opaque blob for ERC-1271 verification.
func Contract(blob []byte) Signature {
	return Signature{Scheme: SchemeContract, Bytes: bytes.Clone(blob)}
}
