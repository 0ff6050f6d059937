package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	secretsmanager.ListSecretsAPIClient
}

// AWSSecretsManagerProvider implements Provider using AWS Secrets Manager.
type AWSSecretsManagerProvider struct {
	client SecretsManagerAPI
}

// NewAWSProvider creates a Secrets Manager provider for region using the
// default credential chain.
func NewAWSProvider(ctx context.Context, region string) (*AWSSecretsManagerProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewAWSProviderWithClient(secretsmanager.NewFromConfig(cfg)), nil
}

func NewAWSProviderWithClient(client SecretsManagerAPI) *AWSSecretsManagerProvider {
	return &AWSSecretsManagerProvider{client: client}
}

// GetSecret fetches a secret stored as a flat JSON object,
// e.g. {"private_key": "0x..."}.
func (p *AWSSecretsManagerProvider) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch secret [%s]: %w", name, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret [%s] has no string value", name)
	}

	var result map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &result); err != nil {
		return nil, fmt.Errorf("invalid secret format for [%s]: %w", name, err)
	}
	return result, nil
}

// ListSecrets pages through every secret whose name starts with prefix.
func (p *AWSSecretsManagerProvider) ListSecrets(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	input := &secretsmanager.ListSecretsInput{
		Filters: []types.Filter{
			{
				Key:    types.FilterNameStringTypeName,
				Values: []string{prefix},
			},
		},
		MaxResults: aws.Int32(100),
	}

	paginator := secretsmanager.NewListSecretsPaginator(p.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list secrets with prefix [%s]: %w", prefix, err)
		}
		for _, entry := range page.SecretList {
			if entry.Name != nil {
				names = append(names, *entry.Name)
			}
		}
	}
	return names, nil
}
