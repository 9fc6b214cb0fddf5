package routing

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/mailrouter/internal/domain"
	"github.com/ignite/mailrouter/internal/pkg/logger"
)

// Matches reports whether the rule applies to the message. Recipient
// and subject match on case-insensitive containment; everything else is
// exact equality.
func Matches(r *domain.RoutingRule, msg *domain.OutboundMessage) bool {
	switch r.MatchType {
	case domain.MatchEmailType:
		return string(msg.Type) == r.MatchValue
	case domain.MatchRecipient:
		return strings.Contains(strings.ToLower(msg.To), strings.ToLower(r.MatchValue))
	case domain.MatchSubject:
		return strings.Contains(strings.ToLower(msg.Subject), strings.ToLower(r.MatchValue))
	case domain.MatchTemplate:
		return msg.Template == r.MatchValue
	case domain.MatchCustom:
		if r.CustomField == "" {
			return false
		}
		return msg.Custom[r.CustomField] == r.MatchValue
	default:
		return false
	}
}

// MatchRule returns the highest-priority active rule matching the
// message, or nil. The caller supplies rules already sorted by priority
// descending with creation order breaking ties, which keeps selection
// reproducible.
func MatchRule(msg *domain.OutboundMessage, rules []*domain.RoutingRule) *domain.RoutingRule {
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		if Matches(r, msg) {
			return r
		}
	}
	return nil
}

// SelectAccount picks the sender account for a message. Rules are
// evaluated first; a matched rule resolves its target account by name,
// then its fallback. When no rule applies, or the resolved accounts are
// excluded or missing, the primary account wins, then the first account
// in priority order. Returns nil only when no active account survives
// the exclusion set.
//
// excluded carries accounts already refused during this dispatch, so
// failover retries never reconsider them.
func SelectAccount(msg *domain.OutboundMessage, accounts []*domain.Account, rules []*domain.RoutingRule, excluded map[uuid.UUID]bool) *domain.Account {
	byName := make(map[string]*domain.Account, len(accounts))
	for _, a := range accounts {
		byName[a.Name] = a
	}

	usable := func(a *domain.Account) bool {
		return a != nil && a.IsActive && !excluded[a.ID]
	}

	if rule := MatchRule(msg, rules); rule != nil {
		if a := byName[rule.TargetAccount]; usable(a) {
			logger.Debug("rule matched", map[string]interface{}{
				"rule":    rule.Name,
				"account": a.Name,
			})
			return a
		}
		if rule.FallbackAccount != "" {
			if a := byName[rule.FallbackAccount]; usable(a) {
				logger.Debug("rule fallback account selected", map[string]interface{}{
					"rule":    rule.Name,
					"account": a.Name,
				})
				return a
			}
		}
	}

	for _, a := range accounts {
		if a.IsPrimary && usable(a) {
			return a
		}
	}
	for _, a := range accounts {
		if usable(a) {
			return a
		}
	}
	return nil
}
