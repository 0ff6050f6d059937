// Package secrets resolves quote signing keys from AWS Secrets Manager.
package secrets

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/metrics"
	pkgsecrets "github.com/Checker-Finance/settlement/pkg/secrets"
)

// PrivateKeyField is the secret field holding the hex private key.
const PrivateKeyField = "private_key"

// SignerResolver loads signing keys by signer name, caching parsed keys.
//
// Secret naming convention: {env}/{name}/signer
type SignerResolver struct {
	logger   *zap.Logger
	env      string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[*ecdsa.PrivateKey]
}

func NewSignerResolver(logger *zap.Logger, env string, provider pkgsecrets.Provider, cache *pkgsecrets.Cache[*ecdsa.PrivateKey]) *SignerResolver {
	return &SignerResolver{logger: logger, env: env, provider: provider, cache: cache}
}

func (r *SignerResolver) secretName(name string) string {
	return strings.ToLower(fmt.Sprintf("%s/%s/signer", r.env, name))
}

// Resolve returns the key for name from cache or Secrets Manager.
func (r *SignerResolver) Resolve(ctx context.Context, name string) (*ecdsa.PrivateKey, error) {
	key := strings.ToLower(name)
	if k, ok := r.cache.Get(key); ok {
		metrics.IncCacheHit("hit")
		return k, nil
	}
	metrics.IncCacheHit("miss")

	secretName := r.secretName(name)
	values, err := r.provider.GetSecret(ctx, secretName)
	if err != nil {
		r.logger.Warn("aws.secret_fetch_failed", zap.String("key", secretName), zap.Error(err))
		return nil, fmt.Errorf("resolve signer %q: %w", name, err)
	}
	raw, ok := values[PrivateKeyField]
	if !ok {
		return nil, fmt.Errorf("secret %q has no %s field", secretName, PrivateKeyField)
	}
	k, err := ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse secret %q: %w", secretName, err)
	}

	r.cache.Put(key, k)
	r.logger.Info("aws.signer_resolved",
		zap.String("signer", name),
		zap.String("address", crypto.PubkeyToAddress(k.PublicKey).Hex()))
	return k, nil
}

// DiscoverSigners lists the signer names configured for this environment.
func (r *SignerResolver) DiscoverSigners(ctx context.Context) ([]string, error) {
	prefix := strings.ToLower(r.env + "/")
	const suffix = "/signer"

	names, err := r.provider.ListSecrets(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("discover signers: %w", err)
	}
	var out []string
	for _, n := range names {
		lower := strings.ToLower(n)
		if !strings.HasPrefix(lower, prefix) || !strings.HasSuffix(lower, suffix) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(lower, prefix), suffix)
		if name != "" && !strings.Contains(name, "/") {
			out = append(out, name)
		}
	}
	return out, nil
}

// ParsePrivateKey parses a hex secp256k1 key with or without 0x.
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	k, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return k, nil
}
