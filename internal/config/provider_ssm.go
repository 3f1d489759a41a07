package config

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// GetParameters accepts at most ten names per request.
const ssmMaxBatchSize = 10

// ssmClient is the slice of the SSM API the provider calls.
type ssmClient interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMProvider resolves secret pointers against AWS Systems Manager Parameter
// Store. Self-hosted runners on AWS use it to keep the GitHub token and the
// Carbon Aware API key out of workflow files.
type SSMProvider struct {
	region   string
	endpoint string

	once    sync.Once
	client  ssmClient
	initErr error
}

// SSMOption configures an SSMProvider.
type SSMOption func(*SSMProvider)

// WithSSMEndpoint points the client at a non-AWS endpoint such as LocalStack.
func WithSSMEndpoint(endpoint string) SSMOption {
	return func(p *SSMProvider) {
		p.endpoint = endpoint
	}
}

// NewSSMProvider creates a provider for region. The SDK client is built on
// first use, so runs without pointers never touch AWS credentials.
func NewSSMProvider(region string, opts ...SSMOption) *SSMProvider {
	p := &SSMProvider{region: region}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func newSSMProviderWithClient(region string, client ssmClient) *SSMProvider {
	p := &SSMProvider{region: region, client: client}
	p.once.Do(func() {})
	return p
}

func (p *SSMProvider) getClient(ctx context.Context) (ssmClient, error) {
	p.once.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
		if err != nil {
			p.initErr = fmt.Errorf("aws config for ssm in %s: %w", p.region, err)
			return
		}
		p.client = ssm.NewFromConfig(cfg, func(o *ssm.Options) {
			if p.endpoint != "" {
				o.BaseEndpoint = aws.String(p.endpoint)
			}
		})
	})
	return p.client, p.initErr
}

// GetParametersBatch fetches the decrypted value of every distinct path in
// keys. Paths Parameter Store does not know are collected across all batches
// and reported together.
func (p *SSMProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}

	paths := slices.Clone(keys)
	slices.Sort(paths)
	paths = slices.Compact(paths)

	var unknown []string
	for batch := range slices.Chunk(paths, ssmMaxBatchSize) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ssm lookup interrupted: %w", err)
		}

		out, err := client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          batch,
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("ssm GetParameters for %d paths: %w", len(batch), err)
		}
		for _, param := range out.Parameters {
			if name, value := aws.ToString(param.Name), param.Value; name != "" && value != nil {
				values[name] = *value
			}
		}
		unknown = append(unknown, out.InvalidParameters...)
	}

	if len(unknown) > 0 {
		return nil, fmt.Errorf("ssm has no parameters named %v", unknown)
	}
	return values, nil
}
