package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"wallet-custody/observability"
)

const (
	awsKMSService = "aws_kms"
	// GenerateRandom accepts at most 1024 bytes per call
	awsMaxRandomBytes = 1024
)

// kmsRandomAPI is the slice of the AWS KMS client this package uses
type kmsRandomAPI interface {
	GenerateRandom(ctx context.Context, params *kms.GenerateRandomInput, optFns ...func(*kms.Options)) (*kms.GenerateRandomOutput, error)
}

// AWSEntropySource draws random bytes from AWS KMS
type AWSEntropySource struct {
	client         kmsRandomAPI
	customKeyStore string
	retry          RetryConfig
}

// NewAWSEntropySource creates an entropy source from the default AWS config chain
func NewAWSEntropySource(ctx context.Context, region, customKeyStore string) (*AWSEntropySource, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	return &AWSEntropySource{
		client:         kms.NewFromConfig(cfg),
		customKeyStore: customKeyStore,
		retry:          DefaultRetryConfig,
	}, nil
}

// RandomBytes returns n bytes from GenerateRandom
func (s *AWSEntropySource) RandomBytes(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 || n > awsMaxRandomBytes {
		return nil, fmt.Errorf("invalid random byte count %d", n)
	}

	return WithCircuitBreaker(ctx, BreakerAWSKMS, func() ([]byte, error) {
		metrics := observability.GetMetrics()
		metrics.RecordExternalAPIRequest(awsKMSService, "generate_random")
		defer metrics.NewTimer().ObserveExternalAPI(awsKMSService, "generate_random")

		input := &kms.GenerateRandomInput{NumberOfBytes: aws.Int32(int32(n))}
		if s.customKeyStore != "" {
			// routes the request to a CloudHSM cluster
			input.CustomKeyStoreId = aws.String(s.customKeyStore)
		}

		var out []byte
		err := WithRetry(ctx, s.retry, func() error {
			resp, err := s.client.GenerateRandom(ctx, input)
			if err != nil {
				metrics.RecordExternalAPIError(awsKMSService, "generate_random", "api")
				return fmt.Errorf("kms GenerateRandom failed: %w", err)
			}
			out = resp.Plaintext
			return nil
		})
		if err != nil {
			return nil, err
		}
		if len(out) != n {
			return nil, fmt.Errorf("aws kms returned %d random bytes, want %d", len(out), n)
		}
		return out, nil
	})
}
