package transport

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/klickraai-ship-it/del-ai/internal/dispatch"
)

// SESConfig configures the AWS SES v2 sender.
type SESConfig struct {
	Region    string
	AccessKey string
	SecretKey string
}

// sesAPI is the slice of the SES v2 client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends through the AWS SES v2 API.
type SES struct {
	api sesAPI
}

// NewSES builds an SES sender with static credentials.
func NewSES(ctx context.Context, cfg SESConfig) (*SES, error) {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("ses: loading AWS config: %w", err)
	}
	return &SES{api: sesv2.NewFromConfig(awsCfg)}, nil
}

// Name implements Sender.
func (s *SES) Name() string { return "ses" }

// Send implements Sender.
func (s *SES) Send(ctx context.Context, msg dispatch.Message) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatFrom(msg.FromName, msg.From)),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML)},
					Text: &types.Content{Data: aws.String(msg.Text)},
				},
			},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	if _, err := s.api.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses: send to %s: %w", msg.To, err)
	}
	return nil
}
