package config

import (
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// GetEnv returns the environment variable value for key, or def if unset or empty.
func GetEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// GetEnvInt returns the environment variable value for key parsed as int, or def if unset or invalid.
func GetEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

// GetEnvDuration returns the environment variable value for key parsed as time.Duration, or def if unset or invalid.
func GetEnvDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return def
}

// GetEnvUint64 returns the environment variable value for key parsed as uint64, or def if unset or invalid.
func GetEnvUint64(key string, def uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			return u
		}
	}
	return def
}

// GetEnvBool returns the environment variable value for key parsed as bool, or def if unset or invalid.
func GetEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return def
}

// GetEnvAddress returns the environment variable value for key parsed as a hex address, or the zero address if unset or invalid.
func GetEnvAddress(key string) common.Address {
	if val := os.Getenv(key); common.IsHexAddress(val) {
		return common.HexToAddress(val)
	}
	return common.Address{}
}
