package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/mailrouter/internal/domain"
	"github.com/ignite/mailrouter/internal/license"
	"github.com/ignite/mailrouter/internal/pkg/httputil"
	"github.com/ignite/mailrouter/internal/store"
)

// ListAccounts returns all accounts with credentials redacted.
func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, accounts)
}

// CreateAccount creates a sender account, enforcing the license quota.
func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var in store.AccountInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	if in.Name == "" || in.FromEmail == "" {
		httputil.BadRequest(w, "name and from_email are required")
		return
	}

	if h.license != nil {
		if max := h.license.GetMaxAccounts(r.Context()); max != license.Unlimited {
			count, err := h.store.CountAccounts(r.Context())
			if err != nil {
				httputil.InternalError(w, err)
				return
			}
			if count >= max {
				httputil.ErrorWithCode(w, http.StatusForbidden, "quota_exceeded",
					fmt.Sprintf("license allows at most %d accounts", max))
				return
			}
		}
		if !h.license.IsProviderAllowed(r.Context(), in.Provider) {
			httputil.ErrorWithCode(w, http.StatusForbidden, "provider_not_licensed",
				fmt.Sprintf("provider %q is not permitted by the current license", in.Provider))
			return
		}
	}

	account, err := h.store.CreateAccount(r.Context(), in)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, account)
}

// GetAccount returns one account with credentials redacted.
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	account, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, account)
}

// GetAccountDecrypted returns one account with the credential blobs
// opened to plaintext. Edit flows are the only consumer; every other
// read path stays redacted.
func (h *Handlers) GetAccountDecrypted(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	account, err := h.store.GetAccountDecrypted(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, account)
}

// UpdateAccount updates an account in place.
func (h *Handlers) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var in store.AccountInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	account, err := h.store.UpdateAccount(r.Context(), id, in)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, account)
}

// DeleteAccount removes an account.
func (h *Handlers) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteAccount(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ResetCounters zeroes the daily or hourly counters across all
// accounts. Meant for an external scheduler.
func (h *Handlers) ResetCounters(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Granularity string `json:"granularity"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := h.store.ResetCounters(r.Context(), req.Granularity); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, map[string]string{"status": "reset", "granularity": req.Granularity})
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalError(w, err)
}
