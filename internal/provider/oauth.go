package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/ignite/mailrouter/internal/domain"
	"github.com/ignite/mailrouter/internal/pkg/httpretry"
	"github.com/ignite/mailrouter/internal/pkg/logger"
	"github.com/ignite/mailrouter/internal/vault"
)

// oauthProvider binds one OAuth mail provider to its SMTP submission
// endpoint and token endpoint.
type oauthProvider struct {
	name     string
	smtpHost string
	smtpPort int
	tokenURL string
}

var (
	gmailProvider = oauthProvider{
		name:     "gmail",
		smtpHost: "smtp.gmail.com",
		smtpPort: 587,
		tokenURL: "https://oauth2.googleapis.com/token",
	}
	microsoftProvider = oauthProvider{
		name:     "microsoft",
		smtpHost: "smtp-mail.outlook.com",
		smtpPort: 587,
		tokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
	}
	yahooProvider = oauthProvider{
		name:     "yahoo",
		smtpHost: "smtp.mail.yahoo.com",
		smtpPort: 587,
		tokenURL: "https://api.login.yahoo.com/oauth2/get_token",
	}
)

// OAuthSMTPSender delivers through a provider SMTP endpoint using
// XOAUTH2. Expired access tokens are refreshed transparently when a
// refresh token exists; the refreshed token is re-sealed and persisted
// so the refresh survives the process.
type OAuthSMTPSender struct {
	vault       *vault.Vault
	tokens      TokenStore
	provider    oauthProvider
	tokenClient *http.Client
}

// NewOAuthSMTPSender creates an OAuth SMTP adapter for one provider.
// Token endpoint calls go through the retrying client; a transient 5xx
// from the provider must not force re-authentication.
func NewOAuthSMTPSender(v *vault.Vault, tokens TokenStore, p oauthProvider) *OAuthSMTPSender {
	return &OAuthSMTPSender{
		vault:       v,
		tokens:      tokens,
		provider:    p,
		tokenClient: httpretry.Client(30*time.Second, 2),
	}
}

// Send refreshes credentials as needed and transmits the message.
func (s *OAuthSMTPSender) Send(ctx context.Context, account *domain.Account, msg *domain.OutboundMessage) (*SendResult, error) {
	var cfg domain.OAuthConfig
	if err := s.vault.DecryptJSON(account.Config, &cfg); err != nil {
		return nil, domain.WrapError(domain.KindProvider, fmt.Errorf("decrypt oauth config: %w", err))
	}
	if account.OAuthToken == "" {
		return nil, domain.NewSendError(domain.KindProvider, "account %s has no oauth token; re-authentication required", account.Name)
	}
	var token domain.OAuthToken
	if err := s.vault.DecryptJSON(account.OAuthToken, &token); err != nil {
		return nil, domain.WrapError(domain.KindProvider, fmt.Errorf("decrypt oauth token: %w", err))
	}

	if token.Expired() {
		refreshed, err := s.refresh(ctx, account, cfg, token)
		if err != nil {
			return nil, err
		}
		token = *refreshed
	}

	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), s.provider.smtpHost)
	raw := buildMIME(account, msg, messageID)

	addr := fmt.Sprintf("%s:%d", s.provider.smtpHost, s.provider.smtpPort)
	auth := &xoauth2Auth{user: account.FromEmail, token: token.AccessToken}
	if err := sendSMTP(ctx, addr, s.provider.smtpHost, auth, true, account.FromEmail, msg.To, raw); err != nil {
		return nil, domain.WrapError(domain.KindProvider, err)
	}

	logger.Info("oauth smtp send completed", map[string]interface{}{
		"provider":   s.provider.name,
		"account":    account.Name,
		"recipient":  msg.To,
		"message_id": messageID,
	})
	return &SendResult{MessageID: messageID, SentAt: time.Now()}, nil
}

// refresh exchanges the refresh token for a new access token and
// persists the result. An expired token with no refresh token is a hard
// provider error: the account needs interactive re-authentication.
func (s *OAuthSMTPSender) refresh(ctx context.Context, account *domain.Account, cfg domain.OAuthConfig, token domain.OAuthToken) (*domain.OAuthToken, error) {
	if token.RefreshToken == "" {
		return nil, domain.NewSendError(domain.KindProvider,
			"oauth token for account %s is expired and has no refresh token; re-authentication required", account.Name)
	}

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: s.provider.tokenURL},
	}
	if s.tokenClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.tokenClient)
	}
	src := conf.TokenSource(ctx, &oauth2.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	})

	fresh, err := src.Token()
	if err != nil {
		return nil, domain.WrapError(domain.KindProvider, fmt.Errorf("oauth refresh for account %s: %w", account.Name, err))
	}

	updated := &domain.OAuthToken{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		Expiry:       fresh.Expiry,
	}
	if updated.RefreshToken == "" {
		updated.RefreshToken = token.RefreshToken
	}

	if s.tokens != nil {
		if err := s.tokens.UpdateOAuthToken(ctx, account.ID, updated); err != nil {
			logger.Warn("failed to persist refreshed oauth token", map[string]interface{}{
				"account": account.Name,
				"error":   err.Error(),
			})
		}
	}

	logger.Info("oauth token refreshed", map[string]interface{}{
		"provider": s.provider.name,
		"account":  account.Name,
	})
	return updated, nil
}

// xoauth2Auth implements the XOAUTH2 SASL mechanism used by Gmail,
// Microsoft, and Yahoo SMTP submission.
type xoauth2Auth struct {
	user, token string
}

func (a *xoauth2Auth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	resp := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.user, a.token)
	return "XOAUTH2", []byte(resp), nil
}

func (a *xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		// The server sent an error challenge; an empty response makes it
		// return the final error.
		return []byte(""), nil
	}
	return nil, nil
}
