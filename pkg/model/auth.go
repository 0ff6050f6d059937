package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
)

// Request authentication headers.
const (
	HeaderCallerAddress   = "X-Caller-Address"
	HeaderCallerSignature = "X-Caller-Signature"
	HeaderCallerTimestamp = "X-Caller-Timestamp"
)

// AuthDigest is the EIP-191 personal message hash a caller signs to
// authenticate an API request: "<METHOD> <path>\n<unix ts>\n<body>".
func AuthDigest(method, path string, ts int64, body []byte) common.Hash {
	prefix := fmt.Sprintf("%s %s\n%d\n", strings.ToUpper(method), path, ts)
	msg := make([]byte, 0, len(prefix)+len(body))
	msg = append(msg, prefix...)
	msg = append(msg, body...)
	return common.BytesToHash(accounts.TextHash(msg))
}
