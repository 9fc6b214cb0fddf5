// Package provider contains the transport adapters behind the uniform
// send contract.
//
// Adapters are split into individual files:
//   - smtp.go:     plain SMTP submission
//   - oauth.go:    Gmail/Microsoft/Yahoo SMTP with XOAUTH2 and token refresh
//   - sendgrid.go: SendGrid v3 Mail Send API
//   - mailgun.go:  Mailgun Messages API
//   - ses.go:      AWS SES v2 API
package provider

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailrouter/internal/config"
	"github.com/ignite/mailrouter/internal/domain"
	"github.com/ignite/mailrouter/internal/vault"
)

// SendResult reports one successful provider transmission.
type SendResult struct {
	MessageID string
	Response  string
	Warnings  []string
	SentAt    time.Time
}

// Sender is the uniform send contract every adapter implements. The
// account arrives with its credential blobs still encrypted; adapters
// open them through the vault.
type Sender interface {
	Send(ctx context.Context, account *domain.Account, msg *domain.OutboundMessage) (*SendResult, error)
}

// TokenStore persists refreshed OAuth tokens so a refresh survives the
// process.
type TokenStore interface {
	UpdateOAuthToken(ctx context.Context, id uuid.UUID, token *domain.OAuthToken) error
}

// Registry maps each provider kind to its adapter. The table is closed:
// a provider value outside it is an unsupported-provider error, never a
// silent default.
type Registry struct {
	senders map[domain.ProviderType]Sender
	timeout time.Duration
}

// NewRegistry builds the full adapter table.
func NewRegistry(v *vault.Vault, tokens TokenStore, cfg config.ProviderConfig) *Registry {
	return &Registry{
		senders: map[domain.ProviderType]Sender{
			domain.ProviderSMTP:      NewSMTPSender(v),
			domain.ProviderGmail:     NewOAuthSMTPSender(v, tokens, gmailProvider),
			domain.ProviderMicrosoft: NewOAuthSMTPSender(v, tokens, microsoftProvider),
			domain.ProviderYahoo:     NewOAuthSMTPSender(v, tokens, yahooProvider),
			domain.ProviderSendGrid:  NewSendGridSender(v, cfg.Timeout()),
			domain.ProviderMailgun:   NewMailgunSender(v, cfg.Timeout()),
			domain.ProviderSES:       NewSESSender(v),
		},
		timeout: cfg.Timeout(),
	}
}

// Send validates the message and dispatches it through the account's
// adapter under the configured per-send timeout.
func (r *Registry) Send(ctx context.Context, account *domain.Account, msg *domain.OutboundMessage) (*SendResult, error) {
	sender, ok := r.senders[account.Provider]
	if !ok {
		return nil, domain.NewSendError(domain.KindUnsupportedProvider,
			"provider %q has no adapter", account.Provider)
	}

	warnings, err := ValidateMessage(msg)
	if err != nil {
		return nil, err
	}
	if err := resolveAttachments(msg); err != nil {
		return nil, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	result, err := sender.Send(ctx, account, msg)
	if err != nil {
		return nil, err
	}
	result.Warnings = append(warnings, result.Warnings...)
	if result.SentAt.IsZero() {
		result.SentAt = time.Now()
	}
	return result, nil
}

// resolveAttachments loads path-referenced attachments into memory so
// every adapter sees inline content.
func resolveAttachments(msg *domain.OutboundMessage) error {
	for i := range msg.Attachments {
		a := &msg.Attachments[i]
		if len(a.Content) > 0 || a.Path == "" {
			continue
		}
		data, err := os.ReadFile(a.Path)
		if err != nil {
			return domain.WrapError(domain.KindValidation,
				fmt.Errorf("attachment %q: %w", a.Filename, err))
		}
		a.Content = data
	}
	return nil
}
