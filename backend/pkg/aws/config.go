package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// Options selects the region and, for LocalStack, a single edge endpoint.
type Options struct {
	Region   string
	Endpoint string
}

// LoadAWSConfig loads the default credential chain. When opts.Endpoint is
// set every client built from the returned config targets that endpoint.
func LoadAWSConfig(ctx context.Context, opts Options) (sdkaws.Config, error) {
	var loaders []func(*config.LoadOptions) error
	if opts.Region != "" {
		loaders = append(loaders, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load aws config: %w", err)
	}

	if opts.Endpoint != "" {
		signingRegion := cfg.Region
		cfg.EndpointResolverWithOptions = sdkaws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (sdkaws.Endpoint, error) {
			sr := signingRegion
			if sr == "" {
				sr = region
			}
			return sdkaws.Endpoint{
				URL:               opts.Endpoint,
				SigningRegion:     sr,
				HostnameImmutable: true,
			}, nil
		})
	}

	return cfg, nil
}
