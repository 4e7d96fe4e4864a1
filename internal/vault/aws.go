package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerAPI is the subset of the AWS Secrets Manager client the
// vault uses. Narrowed for mocking in tests.
type SecretsManagerAPI interface {
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// AWSVaultConfig configures the Secrets Manager backend.
type AWSVaultConfig struct {
	// Region is the AWS region. Defaults to us-east-1.
	Region string

	// Prefix is prepended to every key, namespacing this engine's secrets
	// within the account.
	Prefix string

	// Endpoint optionally overrides the API endpoint (LocalStack, testing).
	Endpoint string

	// AccessKeyID and SecretAccessKey optionally set static credentials
	// (LocalStack, testing). The default credential chain is used otherwise.
	AccessKeyID     string
	SecretAccessKey string
}

// AWSVault stores secrets in AWS Secrets Manager.
type AWSVault struct {
	client SecretsManagerAPI
	prefix string
}

// AWSVaultOption configures an AWSVault.
type AWSVaultOption func(*AWSVault)

// WithSecretsManagerClient sets a custom client (for testing).
func WithSecretsManagerClient(client SecretsManagerAPI) AWSVaultOption {
	return func(v *AWSVault) {
		v.client = client
	}
}

// NewAWSVault creates a Secrets Manager backed vault.
func NewAWSVault(ctx context.Context, cfg AWSVaultConfig, opts ...AWSVaultOption) (*AWSVault, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	v := &AWSVault{prefix: cfg.Prefix}
	for _, opt := range opts {
		opt(v)
	}

	if v.client == nil {
		configOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			configOpts = append(configOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			))
		}

		awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		var clientOpts []func(*secretsmanager.Options)
		if cfg.Endpoint != "" {
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			})
		}
		v.client = secretsmanager.NewFromConfig(awsCfg, clientOpts...)
	}

	return v, nil
}

func (v *AWSVault) secretName(key string) string {
	if v.prefix == "" {
		return key
	}
	return v.prefix + "/" + key
}

// Store creates the secret or writes a new version if it exists.
func (v *AWSVault) Store(ctx context.Context, key, value string) error {
	name := v.secretName(key)

	_, err := v.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(value),
	})
	if err == nil {
		return nil
	}

	var exists *types.ResourceExistsException
	if !errors.As(err, &exists) {
		return fmt.Errorf("failed to create secret %q: %w", name, err)
	}

	_, err = v.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(value),
	})
	if err != nil {
		return fmt.Errorf("failed to update secret %q: %w", name, err)
	}
	return nil
}

// Retrieve returns the current version of the secret.
func (v *AWSVault) Retrieve(ctx context.Context, key string) (string, error) {
	name := v.secretName(key)

	result, err := v.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("no secret stored at %q", key)
		}
		return "", fmt.Errorf("failed to read secret %q: %w", name, err)
	}

	if result.SecretString != nil {
		return *result.SecretString, nil
	}
	if result.SecretBinary != nil {
		return string(result.SecretBinary), nil
	}
	return "", fmt.Errorf("secret %q has no value", name)
}

// Delete removes the secret immediately. Missing secrets are not an error.
func (v *AWSVault) Delete(ctx context.Context, key string) error {
	name := v.secretName(key)

	_, err := v.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(name),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to delete secret %q: %w", name, err)
	}
	return nil
}
