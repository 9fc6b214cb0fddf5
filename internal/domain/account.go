package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProviderType identifies the transport used for sending.
type ProviderType string

const (
	ProviderSMTP      ProviderType = "smtp"
	ProviderGmail     ProviderType = "gmail-oauth"
	ProviderMicrosoft ProviderType = "microsoft-oauth"
	ProviderYahoo     ProviderType = "yahoo-oauth"
	ProviderSendGrid  ProviderType = "sendgrid"
	ProviderMailgun   ProviderType = "mailgun"
	ProviderSES       ProviderType = "ses"
)

// IsOAuth reports whether the provider authenticates with OAuth tokens
// that need a refresh lifecycle.
func (p ProviderType) IsOAuth() bool {
	switch p {
	case ProviderGmail, ProviderMicrosoft, ProviderYahoo:
		return true
	}
	return false
}

// RedactedSecret is the sentinel returned in place of encrypted credential
// blobs by every accessor except GetAccountDecrypted.
const RedactedSecret = "[encrypted]"

// Account is a configured sender identity bound to one provider and one
// set of credentials. Config and OAuthToken are stored encrypted; outside
// of the decrypting accessor they carry RedactedSecret.
type Account struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	Name         string       `json:"name" db:"name"`
	Provider     ProviderType `json:"provider" db:"provider"`
	Config       string       `json:"config" db:"config"`
	OAuthToken   string       `json:"oauth_token,omitempty" db:"oauth_token"`
	FromEmail    string       `json:"from_email" db:"from_email"`
	FromName     string       `json:"from_name" db:"from_name"`
	ReplyTo      string       `json:"reply_to,omitempty" db:"reply_to"`
	IsActive     bool         `json:"is_active" db:"is_active"`
	IsPrimary    bool         `json:"is_primary" db:"is_primary"`
	Priority     int          `json:"priority" db:"priority"`
	DailyLimit   int          `json:"daily_limit" db:"daily_limit"`
	HourlyLimit  int          `json:"hourly_limit" db:"hourly_limit"`
	SentToday    int          `json:"sent_today" db:"sent_today"`
	SentThisHour int          `json:"sent_this_hour" db:"sent_this_hour"`
	TotalSent    int64        `json:"total_sent" db:"total_sent"`
	LastUsed     *time.Time   `json:"last_used,omitempty" db:"last_used"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

// SMTPConfig is the decrypted provider config for plain SMTP accounts.
type SMTPConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	UseTLS     bool   `json:"use_tls"`
	DKIMDomain string `json:"dkim_domain,omitempty"`
	DKIMKey    string `json:"dkim_key,omitempty"`
}

// APIConfig is the decrypted provider config for API-based accounts
// (SendGrid, Mailgun, SES).
type APIConfig struct {
	APIKey        string `json:"api_key"`
	APISecret     string `json:"api_secret,omitempty"`
	SendingDomain string `json:"sending_domain,omitempty"`
	Region        string `json:"region,omitempty"`
}

// OAuthConfig is the decrypted provider config for OAuth SMTP accounts.
type OAuthConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// OAuthToken is the decrypted token blob for OAuth accounts.
type OAuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

// Expired reports whether the access token needs a refresh. A small skew
// keeps us from presenting a token that dies mid-handshake.
func (t OAuthToken) Expired() bool {
	if t.Expiry.IsZero() {
		return false
	}
	return time.Now().After(t.Expiry.Add(-30 * time.Second))
}
