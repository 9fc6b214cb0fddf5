// Package dispatch orchestrates the send pipeline: template rendering,
// tracking decoration, account resolution, rate limiting, provider
// dispatch, and the failover cascades (account to account, email to
// WhatsApp).
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailrouter/internal/analytics"
	"github.com/ignite/mailrouter/internal/domain"
	"github.com/ignite/mailrouter/internal/pkg/logger"
	"github.com/ignite/mailrouter/internal/provider"
	"github.com/ignite/mailrouter/internal/ratelimit"
	"github.com/ignite/mailrouter/internal/routing"
	"github.com/ignite/mailrouter/internal/template"
	"github.com/ignite/mailrouter/internal/whatsapp"
)

// Store is the slice of persistence the engine needs.
type Store interface {
	ListActiveAccounts(ctx context.Context) ([]*domain.Account, error)
	ListActiveRules(ctx context.Context) ([]*domain.RoutingRule, error)
	CreateEmailLog(ctx context.Context, log *domain.EmailLog) error
	MarkDelivered(ctx context.Context, emailID, accountUsed string) error
	IncrementUsage(ctx context.Context, id uuid.UUID) error
}

// ProviderRegistry dispatches a message through an account's adapter.
type ProviderRegistry interface {
	Send(ctx context.Context, account *domain.Account, msg *domain.OutboundMessage) (*provider.SendResult, error)
}

// Renderer resolves stored templates.
type Renderer interface {
	Render(ctx context.Context, name string, data map[string]any) (*template.Rendered, error)
}

// Tracker decorates outgoing HTML with tracking artifacts.
type Tracker interface {
	Decorate(ctx context.Context, html string, log *domain.EmailLog, skipLinks bool) (string, error)
}

// Gate is the license/feature surface the engine consults.
type Gate interface {
	IsProviderAllowed(ctx context.Context, provider domain.ProviderType) bool
	HasFeature(ctx context.Context, name string) bool
}

// BurstLimiter smooths short-window send rate per account.
type BurstLimiter interface {
	CheckAndIncr(ctx context.Context, accountID uuid.UUID) (ratelimit.Decision, error)
}

// FeaturePrioritySending gates high-priority dispatch.
const FeaturePrioritySending = "priority_sending"

// Engine runs the dispatch pipeline.
type Engine struct {
	store     Store
	providers ProviderRegistry
	templates Renderer
	tracker   Tracker
	gate      Gate
	burst     BurstLimiter
	whatsapp  whatsapp.Gateway
}

// New wires the engine. templates, tracker, gate, burst, and wa may be
// nil; the corresponding pipeline stages become no-ops.
func New(store Store, providers ProviderRegistry, templates Renderer, tracker Tracker, gate Gate, burst BurstLimiter, wa whatsapp.Gateway) *Engine {
	return &Engine{
		store:     store,
		providers: providers,
		templates: templates,
		tracker:   tracker,
		gate:      gate,
		burst:     burst,
		whatsapp:  wa,
	}
}

// Send runs the full pipeline for one email message.
func (e *Engine) Send(ctx context.Context, msg *domain.OutboundMessage) (*domain.SendOutcome, error) {
	if err := e.applyTemplate(ctx, msg); err != nil {
		return nil, err
	}

	// Validation runs before the tracking record exists so malformed
	// input never reaches a provider or the log.
	warnings, err := provider.ValidateMessage(msg)
	if err != nil {
		return nil, err
	}

	if msg.Priority == domain.PriorityHigh && e.gate != nil && !e.gate.HasFeature(ctx, FeaturePrioritySending) {
		msg.Priority = domain.PriorityNormal
		warnings = append(warnings, "high priority downgraded: priority sending is not licensed")
	}

	log := &domain.EmailLog{
		EmailID:   analytics.GenerateEmailID(),
		Recipient: msg.To,
		Subject:   msg.Subject,
		Template:  msg.Template,
	}
	if err := e.store.CreateEmailLog(ctx, log); err != nil {
		return nil, domain.WrapError(domain.KindPersistence, err)
	}

	if !msg.DisableTracking && e.tracker != nil && msg.HTML != "" {
		decorated, err := e.tracker.Decorate(ctx, msg.HTML, log, msg.SkipLinkTracking)
		if err != nil {
			return nil, domain.WrapError(domain.KindPersistence, err)
		}
		msg.HTML = decorated
	}

	outcome, err := e.deliver(ctx, msg, log)
	if err != nil {
		return nil, err
	}
	outcome.EmailID = log.EmailID
	outcome.Warnings = append(warnings, outcome.Warnings...)
	return outcome, nil
}

// deliver walks the account failover cascade and, when email delivery
// is exhausted, the WhatsApp channel fallback.
func (e *Engine) deliver(ctx context.Context, msg *domain.OutboundMessage, log *domain.EmailLog) (*domain.SendOutcome, error) {
	accounts, err := e.store.ListActiveAccounts(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.KindPersistence, err)
	}
	rules, err := e.store.ListActiveRules(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.KindPersistence, err)
	}
	if len(accounts) == 0 {
		return nil, domain.WrapError(domain.KindRateLimited, domain.ErrNoActiveAccount)
	}

	excluded := make(map[uuid.UUID]bool)
	var lastErr error

	for {
		account := e.pickAccount(msg, accounts, rules, excluded)
		if account == nil {
			break
		}

		result, err := e.attempt(ctx, account, msg, log)
		if err == nil {
			return &domain.SendOutcome{
				Success:     true,
				AccountUsed: account.Name,
				MessageID:   result.MessageID,
				Channel:     domain.ChannelEmail,
				Warnings:    result.Warnings,
				SentAt:      result.SentAt,
			}, nil
		}

		switch domain.KindOf(err) {
		case domain.KindRateLimited, domain.KindProvider:
			logger.Warn("send attempt failed, trying next account", map[string]interface{}{
				"account": account.Name,
				"kind":    string(domain.KindOf(err)),
				"error":   err.Error(),
			})
			excluded[account.ID] = true
			lastErr = err
			continue
		default:
			// Validation, authorization, unsupported provider: another
			// account cannot fix these.
			lastErr = err
		}
		break
	}

	if lastErr == nil {
		lastErr = domain.WrapError(domain.KindRateLimited, domain.ErrNoActiveAccount)
	}

	if domain.KindOf(lastErr) == domain.KindValidation {
		return nil, lastErr
	}
	if outcome := e.whatsappFallback(ctx, msg, rules); outcome != nil {
		return outcome, nil
	}
	return nil, lastErr
}

// pickAccount resolves the next candidate. A forced account name wins
// until it is excluded; after that the rules take over, honoring the
// §4.3-style cascade with the exclusion set.
func (e *Engine) pickAccount(msg *domain.OutboundMessage, accounts []*domain.Account, rules []*domain.RoutingRule, excluded map[uuid.UUID]bool) *domain.Account {
	if msg.ForceAccount != "" {
		for _, a := range accounts {
			if a.Name == msg.ForceAccount && !excluded[a.ID] {
				return a
			}
		}
	}
	return routing.SelectAccount(msg, accounts, rules, excluded)
}

// attempt gates one account and sends through it.
func (e *Engine) attempt(ctx context.Context, account *domain.Account, msg *domain.OutboundMessage, log *domain.EmailLog) (*provider.SendResult, error) {
	if e.gate != nil && !e.gate.IsProviderAllowed(ctx, account.Provider) {
		return nil, domain.NewSendError(domain.KindAuthorization,
			"provider %q is not permitted by the current license", account.Provider)
	}

	if d := ratelimit.CanSend(account); !d.Allowed {
		return nil, domain.NewSendError(domain.KindRateLimited, "account %s: %s", account.Name, d.Reason)
	}
	if e.burst != nil {
		if d, _ := e.burst.CheckAndIncr(ctx, account.ID); !d.Allowed {
			return nil, domain.NewSendError(domain.KindRateLimited, "account %s: %s", account.Name, d.Reason)
		}
	}

	result, err := e.providers.Send(ctx, account, msg)
	if err != nil {
		return nil, err
	}

	if err := e.store.MarkDelivered(ctx, log.EmailID, account.Name); err != nil {
		logger.Error("failed to mark delivery", map[string]interface{}{
			"email_id": log.EmailID,
			"error":    err.Error(),
		})
	}
	if err := e.store.IncrementUsage(ctx, account.ID); err != nil {
		logger.Error("failed to increment usage counters", map[string]interface{}{
			"account": account.Name,
			"error":   err.Error(),
		})
	}
	return result, nil
}

// whatsappFallback relays a condensed text summary when the matched
// rule opts in, a phone number is present, and the gateway session is
// connected. Returns nil when the fallback does not apply or fails, in
// which case the original error surfaces.
func (e *Engine) whatsappFallback(ctx context.Context, msg *domain.OutboundMessage, rules []*domain.RoutingRule) *domain.SendOutcome {
	if e.whatsapp == nil || msg.PhoneNumber == "" {
		return nil
	}
	rule := routing.MatchRule(msg, rules)
	if rule == nil || !rule.WhatsAppFallback {
		return nil
	}
	if !e.whatsapp.GetStatus(ctx).IsConnected {
		logger.Warn("whatsapp fallback configured but gateway not connected", map[string]interface{}{
			"rule": rule.Name,
		})
		return nil
	}

	body := msg.Text
	if body == "" {
		body = msg.HTML
	}
	text := fmt.Sprintf("*%s*\n\n%s", msg.Subject, body)

	result, err := e.whatsapp.SendMessage(ctx, msg.PhoneNumber, text)
	if err != nil {
		logger.Error("whatsapp fallback failed", map[string]interface{}{
			"phone": msg.PhoneNumber,
			"error": err.Error(),
		})
		return nil
	}

	logger.Info("delivered via whatsapp fallback", map[string]interface{}{
		"phone": msg.PhoneNumber,
		"rule":  rule.Name,
	})
	return &domain.SendOutcome{
		Success:   true,
		MessageID: result.JID,
		Channel:   domain.ChannelWhatsApp,
		Warnings:  []string{"email delivery failed; message relayed over WhatsApp"},
		SentAt:    time.Now(),
	}
}

// applyTemplate renders the referenced template. Explicit subject and
// bodies on the message override rendered values.
func (e *Engine) applyTemplate(ctx context.Context, msg *domain.OutboundMessage) error {
	if msg.Template == "" || e.templates == nil {
		return nil
	}
	rendered, err := e.templates.Render(ctx, msg.Template, msg.TemplateData)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.WrapError(domain.KindNotFound, err)
		}
		return domain.WrapError(domain.KindValidation, err)
	}
	if msg.Subject == "" {
		msg.Subject = rendered.Subject
	}
	if msg.HTML == "" {
		msg.HTML = rendered.HTML
	}
	if msg.Text == "" {
		msg.Text = rendered.Text
	}
	if msg.Type == "" && rendered.Category != "" {
		msg.Type = domain.EmailType(rendered.Category)
	}
	return nil
}
