package api

import (
	"fmt"
	"net/http"

	"github.com/ignite/mailrouter/internal/domain"
	"github.com/ignite/mailrouter/internal/license"
	"github.com/ignite/mailrouter/internal/pkg/httputil"
)

// ListRules returns every routing rule in evaluation order.
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ListRules(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, rules)
}

// CreateRule creates a routing rule, enforcing the license quota.
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.RoutingRule
	if !httputil.Decode(w, r, &rule) {
		return
	}
	if rule.Name == "" || rule.TargetAccount == "" {
		httputil.BadRequest(w, "name and target_account are required")
		return
	}
	if rule.MatchType == domain.MatchCustom && rule.CustomField == "" {
		httputil.BadRequest(w, "custom match rules require custom_field")
		return
	}

	if h.license != nil {
		if max := h.license.GetMaxRoutingRules(r.Context()); max != license.Unlimited {
			count, err := h.store.CountRules(r.Context())
			if err != nil {
				httputil.InternalError(w, err)
				return
			}
			if count >= max {
				httputil.ErrorWithCode(w, http.StatusForbidden, "quota_exceeded",
					fmt.Sprintf("license allows at most %d routing rules", max))
				return
			}
		}
	}

	if err := h.store.CreateRule(r.Context(), &rule); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, rule)
}

// GetRule returns one routing rule.
func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rule, err := h.store.GetRule(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, rule)
}

// UpdateRule updates a routing rule in place.
func (h *Handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var rule domain.RoutingRule
	if !httputil.Decode(w, r, &rule) {
		return
	}
	rule.ID = id
	if err := h.store.UpdateRule(r.Context(), &rule); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, rule)
}

// DeleteRule removes a routing rule.
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteRule(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.NoContent(w)
}
