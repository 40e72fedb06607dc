package gateway

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/omnichannel-engine/internal/channel"
)

// AddressResolver maps a customer id to a deliverable email address. Supplied
// by the customer-data collaborator.
type AddressResolver func(ctx context.Context, customerID string) (string, error)

// SESConfig holds AWS SES v2 credentials and sender identity.
type SESConfig struct {
	AccessKey   string
	SecretKey   string
	Region      string
	FromName    string
	FromAddress string
	Subject     string
}

// SESGateway delivers email-channel messages through AWS SES v2.
type SESGateway struct {
	client  *sesv2.Client
	cfg     SESConfig
	resolve AddressResolver
}

// NewSESGateway builds an SES v2 client with static credentials.
func NewSESGateway(ctx context.Context, cfg SESConfig, resolve AddressResolver) (*SESGateway, error) {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	if cfg.Subject == "" {
		cfg.Subject = "A message for you"
	}
	return &SESGateway{
		client:  sesv2.NewFromConfig(awsCfg),
		cfg:     cfg,
		resolve: resolve,
	}, nil
}

// Deliver resolves the customer address and sends the content as a simple
// HTML email.
func (g *SESGateway) Deliver(ctx context.Context, _ channel.Channel, customerID, content string) (string, error) {
	to, err := g.resolve(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("resolving address for %s: %w", customerID, err)
	}

	from := g.cfg.FromAddress
	if g.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", g.cfg.FromName, g.cfg.FromAddress)
	}

	out, err := g.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(g.cfg.Subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(content)},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ses send to %s: %w", customerID, err)
	}
	return aws.ToString(out.MessageId), nil
}
