package utils

import (
	"regexp"
	"strings"
)

var dsnPasswordRegex = regexp.MustCompile(`(:)([^:@/]+)(@)`)

// MaskDSN hides the password in a postgres, redis, or amqp connection string.
func MaskDSN(dsn string) string {
	return dsnPasswordRegex.ReplaceAllString(dsn, ":***@")
}

// MaskHex shortens a hex string to its first and last four digits.
func MaskHex(s string) string {
	body := strings.TrimPrefix(s, "0x")
	if len(body) <= 8 {
		return s
	}
	return "0x" + body[:4] + "..." + body[len(body)-4:]
}
