// Package analytics generates tracking identifiers, injects pixels and
// rewritten links into outgoing HTML, and records inbound open/click
// hits against content-addressed link mappings.
package analytics

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/mailrouter/internal/domain"
	"github.com/ignite/mailrouter/internal/pkg/logger"
)

// Store is the slice of persistence the engine needs.
type Store interface {
	GetEmailLog(ctx context.Context, emailID string) (*domain.EmailLog, error)
	InsertEvent(ctx context.Context, ev *domain.EmailEvent) error
	RecordOpen(ctx context.Context, logID uuid.UUID) error
	RecordClick(ctx context.Context, logID uuid.UUID) error
	GetOrCreateLinkMapping(ctx context.Context, logID uuid.UUID, linkHash, originalURL string) (*domain.LinkMapping, error)
	GetLinkMapping(ctx context.Context, logID uuid.UUID, linkHash string) (*domain.LinkMapping, error)
	RecordLinkClick(ctx context.Context, mappingID uuid.UUID) error
}

// Engine performs tracking decoration and hit recording.
type Engine struct {
	store      Store
	signingKey []byte
	baseURL    string
	bots       *BotDetector
}

// New creates the analytics engine. baseURL is the public origin the
// tracking URLs point at.
func New(store Store, signingSecret, baseURL string) *Engine {
	return &Engine{
		store:      store,
		signingKey: []byte(signingSecret),
		baseURL:    strings.TrimRight(baseURL, "/"),
		bots:       NewBotDetector(),
	}
}

// GenerateEmailID returns the opaque per-message tracking identifier.
func GenerateEmailID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the platform RNG is broken; a UUID
		// still gives a unique, if theoretically weaker, identifier.
		return strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	return hex.EncodeToString(b)
}

// GenerateRecipientHash derives the capability token that binds a
// tracking request to one message+recipient pair. Without the signing
// secret the hash cannot be forged, so delivery state cannot be
// enumerated for arbitrary recipients.
func (e *Engine) GenerateRecipientHash(emailID, recipient string) string {
	h := hmac.New(sha256.New, e.signingKey)
	h.Write([]byte(emailID + "|" + recipient))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (e *Engine) verifyHash(emailID, recipient, hash string) bool {
	expected := e.GenerateRecipientHash(emailID, recipient)
	return hmac.Equal([]byte(expected), []byte(hash))
}

// linkHash content-addresses a URL inside one message.
func linkHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:12]
}

// InjectTrackingPixel appends the open pixel to the HTML, before
// </body> when present. The cache-bust token keeps mail clients from
// collapsing repeat opens into a cached image fetch.
func (e *Engine) InjectTrackingPixel(html, emailID, recipient string) string {
	hash := e.GenerateRecipientHash(emailID, recipient)
	pixel := fmt.Sprintf(`<img src="%s/track/open/%s/%s?cb=%s" width="1" height="1" style="display:none" alt="" />`,
		e.baseURL, emailID, hash, GenerateEmailID()[:8])

	if strings.Contains(html, "</body>") {
		return strings.Replace(html, "</body>", pixel+"</body>", 1)
	}
	return html + pixel
}

// RewriteLinks replaces absolute http(s) hrefs with tracked redirect
// URLs and persists one LinkMapping per distinct URL. Anchors, relative
// links, mailto links, and already-tracked URLs are left alone. The
// rewrite is idempotent: the same HTML against the same log yields the
// same hashes and no duplicate mappings.
func (e *Engine) RewriteLinks(ctx context.Context, html string, log *domain.EmailLog) (string, error) {
	var out strings.Builder
	rest := html
	for {
		idx := strings.Index(rest, `href="`)
		if idx == -1 {
			out.WriteString(rest)
			break
		}
		start := idx + len(`href="`)
		end := strings.Index(rest[start:], `"`)
		if end == -1 {
			out.WriteString(rest)
			break
		}

		original := rest[start : start+end]
		out.WriteString(rest[:start])

		if !strings.HasPrefix(original, "http://") && !strings.HasPrefix(original, "https://") {
			out.WriteString(original)
		} else if strings.Contains(original, "/track/") {
			out.WriteString(original)
		} else {
			lh := linkHash(original)
			if _, err := e.store.GetOrCreateLinkMapping(ctx, log.ID, lh, original); err != nil {
				return "", err
			}
			hash := e.GenerateRecipientHash(log.EmailID, log.Recipient)
			out.WriteString(fmt.Sprintf("%s/track/click/%s/%s/%s", e.baseURL, log.EmailID, lh, hash))
		}
		rest = rest[start+end:]
	}
	return out.String(), nil
}

// Decorate applies pixel injection and link rewriting per the message's
// tracking flags.
func (e *Engine) Decorate(ctx context.Context, html string, log *domain.EmailLog, skipLinks bool) (string, error) {
	if html == "" {
		return html, nil
	}
	if !skipLinks {
		rewritten, err := e.RewriteLinks(ctx, html, log)
		if err != nil {
			return "", err
		}
		html = rewritten
	}
	return e.InjectTrackingPixel(html, log.EmailID, log.Recipient), nil
}

// RecordOpen verifies the hash and records one open hit. A bad hash is
// rejected before any state changes. Bot hits are logged as events but
// excluded from the counters.
func (e *Engine) RecordOpen(ctx context.Context, emailID, hash string, r *http.Request) error {
	log, err := e.store.GetEmailLog(ctx, emailID)
	if err != nil {
		return err
	}
	if !e.verifyHash(emailID, log.Recipient, hash) {
		return domain.ErrInvalidTrackingHash
	}

	ua := r.UserAgent()
	isBot := e.bots.IsBot(ua)
	ev := &domain.EmailEvent{
		EmailLogID: log.ID,
		Type:       domain.EventOpen,
		IPAddress:  clientIP(r),
		UserAgent:  ua,
		DeviceType: detectDevice(ua),
		Bot:        isBot,
	}
	if err := e.store.InsertEvent(ctx, ev); err != nil {
		return err
	}
	if isBot {
		logger.Debug("bot open excluded from counters", map[string]interface{}{
			"email_id":   emailID,
			"user_agent": ua,
		})
		return nil
	}
	return e.store.RecordOpen(ctx, log.ID)
}

// RecordClick verifies the hash, records one click hit, and returns the
// original URL for the redirect.
func (e *Engine) RecordClick(ctx context.Context, emailID, lh, hash string, r *http.Request) (string, error) {
	log, err := e.store.GetEmailLog(ctx, emailID)
	if err != nil {
		return "", err
	}
	if !e.verifyHash(emailID, log.Recipient, hash) {
		return "", domain.ErrInvalidTrackingHash
	}

	mapping, err := e.store.GetLinkMapping(ctx, log.ID, lh)
	if err != nil {
		return "", err
	}

	ua := r.UserAgent()
	isBot := e.bots.IsBot(ua)
	ev := &domain.EmailEvent{
		EmailLogID: log.ID,
		Type:       domain.EventClick,
		IPAddress:  clientIP(r),
		UserAgent:  ua,
		DeviceType: detectDevice(ua),
		URL:        mapping.OriginalURL,
		Bot:        isBot,
	}
	if err := e.store.InsertEvent(ctx, ev); err != nil {
		return "", err
	}
	if !isBot {
		if err := e.store.RecordClick(ctx, log.ID); err != nil {
			return "", err
		}
		if err := e.store.RecordLinkClick(ctx, mapping.ID); err != nil {
			return "", err
		}
	}
	return mapping.OriginalURL, nil
}

// clientIP extracts the requester IP, honoring proxy headers.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i != -1 {
		host = host[:i]
	}
	return host
}

func detectDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad"):
		return "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone"):
		return "mobile"
	default:
		return "desktop"
	}
}

// BotDetector flags automated user agents so prefetch proxies and
// scanners do not inflate engagement counters.
type BotDetector struct {
	patterns []string
}

// NewBotDetector creates a detector with the common crawler patterns.
func NewBotDetector() *BotDetector {
	return &BotDetector{
		patterns: []string{
			"bot", "crawler", "spider", "slurp", "googlebot", "bingbot",
			"yahoo", "baidu", "yandex", "preview", "proxy", "scanner",
		},
	}
}

// IsBot reports whether the user agent matches a known bot pattern.
func (d *BotDetector) IsBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, p := range d.patterns {
		if strings.Contains(ua, p) {
			return true
		}
	}
	return false
}
