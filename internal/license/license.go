// Package license is the client for the remote license/feature server.
// When the license server is not configured the client is permissive:
// every provider is allowed, every feature is on, quotas are unlimited.
package license

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ignite/mailrouter/internal/config"
	"github.com/ignite/mailrouter/internal/domain"
	"github.com/ignite/mailrouter/internal/pkg/httpretry"
	"github.com/ignite/mailrouter/internal/pkg/logger"
)

// Unlimited marks a quota with no cap.
const Unlimited = -1

// Checker is the feature-gate surface the dispatch engine consumes.
type Checker interface {
	IsProviderAllowed(ctx context.Context, provider domain.ProviderType) bool
	HasFeature(ctx context.Context, name string) bool
	GetMaxAccounts(ctx context.Context) int
	GetMaxRoutingRules(ctx context.Context) int
}

// entitlements is the license server's response payload.
type entitlements struct {
	AllowedProviders []string        `json:"allowed_providers"`
	Features         map[string]bool `json:"features"`
	MaxAccounts      int             `json:"max_accounts"`
	MaxRoutingRules  int             `json:"max_routing_rules"`
}

// Client fetches entitlements from the license server and caches them.
// A fetch failure keeps serving the last good payload; with no payload
// at all the client behaves as unlicensed-permissive so a license
// outage never blocks mail.
type Client struct {
	baseURL string
	apiKey  string
	enabled bool
	http    *httpretry.RetryClient

	mu        sync.RWMutex
	cached    *entitlements
	fetchedAt time.Time
	cacheTTL  time.Duration
}

// New creates a license client from configuration.
func New(cfg config.LicenseConfig) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		enabled:  cfg.Enabled && cfg.BaseURL != "",
		http:     httpretry.New(cfg.Timeout(), 2),
		cacheTTL: 5 * time.Minute,
	}
}

// IsProviderAllowed reports whether the license permits the provider.
func (c *Client) IsProviderAllowed(ctx context.Context, provider domain.ProviderType) bool {
	ent := c.entitlements(ctx)
	if ent == nil || len(ent.AllowedProviders) == 0 {
		return true
	}
	for _, p := range ent.AllowedProviders {
		if p == string(provider) {
			return true
		}
	}
	return false
}

// HasFeature reports whether a named feature is licensed.
func (c *Client) HasFeature(ctx context.Context, name string) bool {
	ent := c.entitlements(ctx)
	if ent == nil {
		return true
	}
	enabled, known := ent.Features[name]
	if !known {
		return false
	}
	return enabled
}

// GetMaxAccounts returns the account quota, Unlimited when uncapped.
func (c *Client) GetMaxAccounts(ctx context.Context) int {
	ent := c.entitlements(ctx)
	if ent == nil || ent.MaxAccounts == 0 {
		return Unlimited
	}
	return ent.MaxAccounts
}

// GetMaxRoutingRules returns the rule quota, Unlimited when uncapped.
func (c *Client) GetMaxRoutingRules(ctx context.Context) int {
	ent := c.entitlements(ctx)
	if ent == nil || ent.MaxRoutingRules == 0 {
		return Unlimited
	}
	return ent.MaxRoutingRules
}

func (c *Client) entitlements(ctx context.Context) *entitlements {
	if !c.enabled {
		return nil
	}

	c.mu.RLock()
	if c.cached != nil && time.Since(c.fetchedAt) < c.cacheTTL {
		ent := c.cached
		c.mu.RUnlock()
		return ent
	}
	c.mu.RUnlock()

	ent, err := c.fetch(ctx)
	if err != nil {
		logger.Warn("license fetch failed, using last known entitlements", map[string]interface{}{
			"error": err.Error(),
		})
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.cached
	}

	c.mu.Lock()
	c.cached = ent
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return ent
}

func (c *Client) fetch(ctx context.Context) (*entitlements, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/entitlements", nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("license server returned %d", resp.StatusCode)
	}

	var ent entitlements
	if err := json.NewDecoder(resp.Body).Decode(&ent); err != nil {
		return nil, fmt.Errorf("decode entitlements: %w", err)
	}
	return &ent, nil
}
