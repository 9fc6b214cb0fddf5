package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/google/uuid"

	"github.com/ignite/mailrouter/internal/domain"
	"github.com/ignite/mailrouter/internal/pkg/logger"
	"github.com/ignite/mailrouter/internal/vault"
)

// SESSender delivers through AWS SES using the SDK v2. Credentials come
// from the account blob, so each account can target a different AWS
// identity and region.
type SESSender struct {
	vault *vault.Vault
}

// NewSESSender creates the SES adapter.
func NewSESSender(v *vault.Vault) *SESSender {
	return &SESSender{vault: v}
}

// Send builds an SES client from the account credentials and sends.
func (s *SESSender) Send(ctx context.Context, account *domain.Account, msg *domain.OutboundMessage) (*SendResult, error) {
	var cfg domain.APIConfig
	if err := s.vault.DecryptJSON(account.Config, &cfg); err != nil {
		return nil, domain.WrapError(domain.KindProvider, fmt.Errorf("decrypt ses config: %w", err))
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, domain.NewSendError(domain.KindProvider, "ses credentials not configured for account %s", account.Name)
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.APIKey, cfg.APISecret, "")),
	)
	if err != nil {
		return nil, domain.WrapError(domain.KindProvider, fmt.Errorf("aws config: %w", err))
	}
	client := sesv2.NewFromConfig(awsCfg)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", account.FromName, account.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content:          sesContent(account, msg),
	}
	if account.ReplyTo != "" && len(msg.Attachments) == 0 {
		input.ReplyToAddresses = []string{account.ReplyTo}
	}

	result, err := client.SendEmail(ctx, input)
	if err != nil {
		return nil, domain.WrapError(domain.KindProvider, fmt.Errorf("ses send: %w", err))
	}

	messageID := aws.ToString(result.MessageId)
	logger.Info("ses send completed", map[string]interface{}{
		"account":    account.Name,
		"recipient":  msg.To,
		"message_id": messageID,
	})
	return &SendResult{MessageID: messageID, SentAt: time.Now()}, nil
}

// sesContent builds the Simple shape for body-only mail and falls back
// to a raw RFC 5322 message when attachments are present, since the
// Simple shape cannot carry them. Reply-To rides in the raw headers on
// that path.
func sesContent(account *domain.Account, msg *domain.OutboundMessage) *types.EmailContent {
	if len(msg.Attachments) > 0 {
		messageID := fmt.Sprintf("%s@ses.amazonaws.com", uuid.New().String())
		return &types.EmailContent{
			Raw: &types.RawMessage{Data: buildMIME(account, msg, messageID)},
		}
	}

	body := &types.Body{}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	return &types.EmailContent{
		Simple: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body:    body,
		},
	}
}
