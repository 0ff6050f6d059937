package secrets

import "context"

// Provider reads JSON-map secrets from a secret store.
type Provider interface {
	// GetSecret retrieves a secret by name and returns its key-value map.
	GetSecret(ctx context.Context, name string) (map[string]string, error)

	// ListSecrets returns the names of all secrets starting with prefix.
	ListSecrets(ctx context.Context, prefix string) ([]string, error)
}
