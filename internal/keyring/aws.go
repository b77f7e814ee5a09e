package keyring

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, in *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
}

// AWSSecret stores the key as a binary secret in AWS Secrets Manager.
type AWSSecret struct {
	Client   SecretsAPI
	SecretID string
}

// NewAWSSecret builds a backend from the default AWS credential chain.
func NewAWSSecret(ctx context.Context, secretID, region string) (*AWSSecret, error) {
	if secretID == "" {
		return nil, fmt.Errorf("aws key backend requires a secret id")
	}
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &AWSSecret{Client: secretsmanager.NewFromConfig(awsCfg), SecretID: secretID}, nil
}

func (a *AWSSecret) Get(ctx context.Context) ([]byte, error) {
	out, err := a.Client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(a.SecretID)})
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading secret %s: %w", a.SecretID, err)
	}
	if len(out.SecretBinary) > 0 {
		if len(out.SecretBinary) != KeySize {
			return nil, fmt.Errorf("invalid key length: expected %d bytes, got %d", KeySize, len(out.SecretBinary))
		}
		return out.SecretBinary, nil
	}
	return decodeKey(aws.ToString(out.SecretString))
}

func (a *AWSSecret) Set(ctx context.Context, key []byte) error {
	_, err := a.Client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(a.SecretID),
		Description:  aws.String("diplomasecure audit attestation master key"),
		SecretBinary: key,
	})
	var exists *types.ResourceExistsException
	if errors.As(err, &exists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating secret %s: %w", a.SecretID, err)
	}
	return nil
}

func (a *AWSSecret) Name() string { return "aws secrets manager (" + a.SecretID + ")" }
