// Package awsconf builds the aws.Config shared by the SQS and S3 clients.
package awsconf

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/aridsondez/sqs-redrive/internal/config"
)

// Load resolves credentials from the default chain and applies the retry
// policy, timeouts and optional endpoint override from cfg.
func Load(ctx context.Context, cfg config.AWS) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryer(NewRetryer(cfg)),
		awsconfig.WithHTTPClient(NewHTTPClient(cfg)),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

// NewRetryer returns a retryer factory for the configured mode.
func NewRetryer(cfg config.AWS) func() aws.Retryer {
	return func() aws.Retryer {
		var r aws.Retryer
		if cfg.RetryMode == "standard" {
			r = retry.NewStandard()
		} else {
			r = retry.NewAdaptiveMode()
		}
		r = retry.AddWithMaxAttempts(r, cfg.MaxAttempts)
		return retry.AddWithMaxBackoffDelay(r, cfg.MaxBackoff)
	}
}

// NewHTTPClient applies the connect and read timeouts. The read timeout
// bounds the wait for response headers so SQS long polls stay under it.
func NewHTTPClient(cfg config.AWS) *awshttp.BuildableClient {
	return awshttp.NewBuildableClient().
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = cfg.ConnectTimeout
		}).
		WithTransportOptions(func(tr *http.Transport) {
			tr.TLSHandshakeTimeout = cfg.ConnectTimeout
			tr.ResponseHeaderTimeout = cfg.ReadTimeout
		})
}
