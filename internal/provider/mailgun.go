package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/mailrouter/internal/domain"
	"github.com/ignite/mailrouter/internal/pkg/logger"
	"github.com/ignite/mailrouter/internal/vault"
)

// MailgunSender delivers through the Mailgun Messages API.
type MailgunSender struct {
	vault   *vault.Vault
	baseURL string
	client  *http.Client
}

// NewMailgunSender creates the Mailgun adapter.
func NewMailgunSender(v *vault.Vault, timeout time.Duration) *MailgunSender {
	return &MailgunSender{
		vault:   v,
		baseURL: "https://api.mailgun.net/v3",
		client:  &http.Client{Timeout: timeout},
	}
}

// Send posts the message to the account's sending domain endpoint.
func (s *MailgunSender) Send(ctx context.Context, account *domain.Account, msg *domain.OutboundMessage) (*SendResult, error) {
	var cfg domain.APIConfig
	if err := s.vault.DecryptJSON(account.Config, &cfg); err != nil {
		return nil, domain.WrapError(domain.KindProvider, fmt.Errorf("decrypt mailgun config: %w", err))
	}
	if cfg.APIKey == "" {
		return nil, domain.NewSendError(domain.KindProvider, "mailgun api key not configured for account %s", account.Name)
	}
	if cfg.SendingDomain == "" {
		return nil, domain.NewSendError(domain.KindProvider, "mailgun sending domain not configured for account %s", account.Name)
	}

	form := url.Values{}
	form.Add("from", fmt.Sprintf("%s <%s>", account.FromName, account.FromEmail))
	form.Add("to", msg.To)
	form.Add("subject", msg.Subject)
	if msg.HTML != "" {
		form.Add("html", msg.HTML)
	}
	if msg.Text != "" {
		form.Add("text", msg.Text)
	}
	if account.ReplyTo != "" {
		form.Add("h:Reply-To", account.ReplyTo)
	}
	if msg.UnsubscribeURL != "" {
		form.Add("h:List-Unsubscribe", fmt.Sprintf("<%s>", msg.UnsubscribeURL))
		form.Add("h:List-Unsubscribe-Post", "List-Unsubscribe=One-Click")
	}
	// The engine does its own tracking.
	form.Add("o:tracking", "no")

	// Attachments force the multipart encoding of the Messages API;
	// plain sends stay on the urlencoded form.
	var reqBody io.Reader = strings.NewReader(form.Encode())
	contentType := "application/x-www-form-urlencoded"
	if len(msg.Attachments) > 0 {
		buf, mpType, err := encodeMultipartForm(form, msg.Attachments)
		if err != nil {
			return nil, domain.WrapError(domain.KindProvider, fmt.Errorf("encode mailgun form: %w", err))
		}
		reqBody = buf
		contentType = mpType
	}

	endpoint := fmt.Sprintf("%s/%s/messages", s.baseURL, cfg.SendingDomain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reqBody)
	if err != nil {
		return nil, domain.WrapError(domain.KindProvider, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.SetBasicAuth("api", cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.KindProvider, fmt.Errorf("mailgun send: %w", err))
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, domain.NewSendError(domain.KindProvider, "mailgun error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &result)
	messageID := strings.Trim(result.ID, "<>")

	logger.Info("mailgun send completed", map[string]interface{}{
		"account":    account.Name,
		"recipient":  msg.To,
		"message_id": messageID,
	})
	return &SendResult{MessageID: messageID, Response: result.Message, SentAt: time.Now()}, nil
}

// encodeMultipartForm writes the form fields plus one "attachment" file
// part per attachment, preserving each attachment's content type.
func encodeMultipartForm(form url.Values, attachments []domain.Attachment) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for key, vals := range form {
		for _, v := range vals {
			if err := w.WriteField(key, v); err != nil {
				return nil, "", err
			}
		}
	}
	for _, a := range attachments {
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="attachment"; filename="%s"`, a.Filename))
		header.Set("Content-Type", contentType)
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(a.Content); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
