package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailrouter/internal/domain"
	"github.com/ignite/mailrouter/internal/pkg/logger"
	"github.com/ignite/mailrouter/internal/vault"
)

// SMTPSender delivers through a plain SMTP submission endpoint.
type SMTPSender struct {
	vault *vault.Vault
}

// NewSMTPSender creates the plain SMTP adapter.
func NewSMTPSender(v *vault.Vault) *SMTPSender {
	return &SMTPSender{vault: v}
}

// Send opens the account's SMTP config and transmits the message.
func (s *SMTPSender) Send(ctx context.Context, account *domain.Account, msg *domain.OutboundMessage) (*SendResult, error) {
	var cfg domain.SMTPConfig
	if err := s.vault.DecryptJSON(account.Config, &cfg); err != nil {
		return nil, domain.WrapError(domain.KindProvider, fmt.Errorf("decrypt smtp config: %w", err))
	}
	if cfg.Host == "" {
		return nil, domain.NewSendError(domain.KindProvider, "smtp host not configured for account %s", account.Name)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), cfg.Host)
	raw := buildMIME(account, msg, messageID)

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = &plainAuth{user: cfg.Username, pass: cfg.Password}
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	if err := sendSMTP(ctx, addr, cfg.Host, auth, cfg.UseTLS, account.FromEmail, msg.To, raw); err != nil {
		return nil, domain.WrapError(domain.KindProvider, err)
	}

	logger.Info("smtp send completed", map[string]interface{}{
		"account":    account.Name,
		"recipient":  msg.To,
		"message_id": messageID,
	})
	return &SendResult{MessageID: messageID, SentAt: time.Now()}, nil
}

// sendSMTP performs the raw SMTP transaction, shared by the plain and
// OAuth adapters.
func sendSMTP(ctx context.Context, addr, host string, auth smtp.Auth, requireTLS bool, from, to string, raw []byte) error {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp connect to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			if requireTLS {
				return fmt.Errorf("starttls: %w", err)
			}
			logger.Warn("starttls failed, continuing without TLS", map[string]interface{}{
				"host":  host,
				"error": err.Error(),
			})
		}
	} else if requireTLS {
		return fmt.Errorf("server %s does not support STARTTLS", host)
	}

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return client.Quit()
}

// plainAuth implements AUTH PLAIN without stdlib's TLS requirement;
// submission hosts on private networks often skip TLS.
type plainAuth struct {
	user, pass string
}

func (a *plainAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.user + "\x00" + a.pass), nil
}

func (a *plainAuth) Next(_ []byte, _ bool) ([]byte, error) {
	return nil, nil
}
