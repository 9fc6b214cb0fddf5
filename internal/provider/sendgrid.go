package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailrouter/internal/domain"
	"github.com/ignite/mailrouter/internal/pkg/logger"
	"github.com/ignite/mailrouter/internal/vault"
)

// SendGridSender delivers through the SendGrid v3 Mail Send API.
type SendGridSender struct {
	vault   *vault.Vault
	baseURL string
	client  *http.Client
}

// NewSendGridSender creates the SendGrid adapter.
func NewSendGridSender(v *vault.Vault, timeout time.Duration) *SendGridSender {
	return &SendGridSender{
		vault:   v,
		baseURL: "https://api.sendgrid.com/v3",
		client:  &http.Client{Timeout: timeout},
	}
}

// Send posts the message to the Mail Send endpoint.
func (s *SendGridSender) Send(ctx context.Context, account *domain.Account, msg *domain.OutboundMessage) (*SendResult, error) {
	var cfg domain.APIConfig
	if err := s.vault.DecryptJSON(account.Config, &cfg); err != nil {
		return nil, domain.WrapError(domain.KindProvider, fmt.Errorf("decrypt sendgrid config: %w", err))
	}
	if cfg.APIKey == "" {
		return nil, domain.NewSendError(domain.KindProvider, "sendgrid api key not configured for account %s", account.Name)
	}

	var content []map[string]string
	if msg.Text != "" {
		content = append(content, map[string]string{"type": "text/plain", "value": msg.Text})
	}
	if msg.HTML != "" {
		content = append(content, map[string]string{"type": "text/html", "value": msg.HTML})
	}

	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{
			{"to": []map[string]string{{"email": msg.To}}},
		},
		"from":    map[string]string{"email": account.FromEmail, "name": account.FromName},
		"subject": msg.Subject,
		"content": content,
		// The engine injects its own pixel and rewrites links; double
		// tracking would skew the counters.
		"tracking_settings": map[string]interface{}{
			"click_tracking": map[string]bool{"enable": false},
			"open_tracking":  map[string]bool{"enable": false},
		},
	}
	if account.ReplyTo != "" {
		payload["reply_to"] = map[string]string{"email": account.ReplyTo}
	}
	if msg.UnsubscribeURL != "" {
		payload["headers"] = map[string]string{
			"List-Unsubscribe":      fmt.Sprintf("<%s>", msg.UnsubscribeURL),
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		}
	}
	if len(msg.Attachments) > 0 {
		var attachments []map[string]string
		for _, a := range msg.Attachments {
			contentType := a.ContentType
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			attachments = append(attachments, map[string]string{
				"content":     base64.StdEncoding.EncodeToString(a.Content),
				"type":        contentType,
				"filename":    a.Filename,
				"disposition": "attachment",
			})
		}
		payload["attachments"] = attachments
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.WrapError(domain.KindProvider, fmt.Errorf("marshal: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/mail/send", bytes.NewReader(body))
	if err != nil {
		return nil, domain.WrapError(domain.KindProvider, err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.KindProvider, fmt.Errorf("sendgrid send: %w", err))
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, domain.NewSendError(domain.KindProvider, "sendgrid error %d: %s", resp.StatusCode, string(respBody))
	}

	messageID := resp.Header.Get("X-Message-Id")
	if messageID == "" {
		messageID = uuid.New().String()
	}

	logger.Info("sendgrid send completed", map[string]interface{}{
		"account":    account.Name,
		"recipient":  msg.To,
		"message_id": messageID,
	})
	return &SendResult{MessageID: messageID, Response: string(respBody), SentAt: time.Now()}, nil
}
