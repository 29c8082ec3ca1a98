package mailer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// SES sends email through AWS SES.
type SES struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

// Config holds SES settings.
type Config struct {
	Region    string
	FromEmail string
}

// NewSES creates an SES-backed mailer.
func NewSES(ctx context.Context, cfg Config, logger *zap.Logger) (*SES, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SES{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send delivers a plain-text email.
func (s *SES) Send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("recipient address is required")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("to", to),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}
