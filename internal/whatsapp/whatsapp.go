// Package whatsapp is the client for the external WhatsApp gateway.
// The session/pairing handshake lives in the gateway; this side only
// asks whether a session is connected and relays text messages.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ignite/mailrouter/internal/config"
	"github.com/ignite/mailrouter/internal/pkg/httpretry"
	"github.com/ignite/mailrouter/internal/pkg/logger"
)

// ConnectionState mirrors the gateway's session lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateQRPending    ConnectionState = "qr_pending"
	StateConnected    ConnectionState = "connected"
)

// Status is the gateway's reported session state.
type Status struct {
	IsConnected bool            `json:"is_connected"`
	State       ConnectionState `json:"state"`
	PhoneNumber string          `json:"phone_number,omitempty"`
}

// SendResult reports one relayed message.
type SendResult struct {
	Success bool   `json:"success"`
	JID     string `json:"jid,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Gateway is the channel-fallback surface the dispatch engine consumes.
type Gateway interface {
	GetStatus(ctx context.Context) Status
	SendMessage(ctx context.Context, phoneNumber, text string) (*SendResult, error)
}

// Client talks to the gateway over HTTP. Status is cached briefly so a
// burst of fallback sends does not hammer the status endpoint, and
// repeated status failures back off until maxFailures is reached.
type Client struct {
	baseURL string
	apiKey  string
	enabled bool
	http    *httpretry.RetryClient

	mu          sync.Mutex
	lastStatus  Status
	checkedAt   time.Time
	statusTTL   time.Duration
	failures    int
	maxFailures int
}

// New creates a gateway client from configuration.
func New(cfg config.WhatsAppConfig) *Client {
	return &Client{
		baseURL:     cfg.GatewayURL,
		apiKey:      cfg.APIKey,
		enabled:     cfg.Enabled && cfg.GatewayURL != "",
		http:        httpretry.New(cfg.Timeout(), 1),
		statusTTL:   10 * time.Second,
		maxFailures: cfg.MaxReconnectAttempts,
	}
}

// GetStatus returns the gateway's session state. An unconfigured or
// persistently failing gateway reports disconnected, which disables the
// channel fallback without erroring the email path.
func (c *Client) GetStatus(ctx context.Context) Status {
	if !c.enabled {
		return Status{State: StateDisconnected}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.checkedAt) < c.statusTTL {
		return c.lastStatus
	}
	if c.maxFailures > 0 && c.failures >= c.maxFailures {
		return Status{State: StateDisconnected}
	}

	status, err := c.fetchStatus(ctx)
	c.checkedAt = time.Now()
	if err != nil {
		c.failures++
		logger.Warn("whatsapp status check failed", map[string]interface{}{
			"error":    err.Error(),
			"failures": c.failures,
		})
		c.lastStatus = Status{State: StateDisconnected}
		return c.lastStatus
	}

	c.failures = 0
	c.lastStatus = status
	return status
}

// SendMessage relays a text message through the gateway.
func (c *Client) SendMessage(ctx context.Context, phoneNumber, text string) (*SendResult, error) {
	if !c.enabled {
		return nil, fmt.Errorf("whatsapp gateway not configured")
	}

	body, err := json.Marshal(map[string]string{
		"phone_number": phoneNumber,
		"text":         text,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	var result SendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode whatsapp response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !result.Success {
		if result.Error == "" {
			result.Error = fmt.Sprintf("gateway returned %d", resp.StatusCode)
		}
		return &result, fmt.Errorf("whatsapp send failed: %s", result.Error)
	}

	logger.Info("whatsapp message relayed", map[string]interface{}{
		"phone": phoneNumber,
		"jid":   result.JID,
	})
	return &result, nil
}

func (c *Client) fetchStatus(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/status", nil)
	if err != nil {
		return Status{}, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
