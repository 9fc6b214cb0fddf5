package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailrouter/internal/analytics"
	"github.com/ignite/mailrouter/internal/dispatch"
	"github.com/ignite/mailrouter/internal/domain"
	"github.com/ignite/mailrouter/internal/provider"
	"github.com/ignite/mailrouter/internal/store"
	"github.com/ignite/mailrouter/internal/vault"
)

// memTrackStore backs the analytics engine in handler tests.
type memTrackStore struct {
	logs     map[string]*domain.EmailLog
	mappings map[string]*domain.LinkMapping
	opens    int
	clicks   int
}

func (m *memTrackStore) GetEmailLog(_ context.Context, emailID string) (*domain.EmailLog, error) {
	if l, ok := m.logs[emailID]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("email log %s: %w", emailID, domain.ErrNotFound)
}

func (m *memTrackStore) InsertEvent(context.Context, *domain.EmailEvent) error { return nil }

func (m *memTrackStore) RecordOpen(context.Context, uuid.UUID) error {
	m.opens++
	return nil
}

func (m *memTrackStore) RecordClick(context.Context, uuid.UUID) error {
	m.clicks++
	return nil
}

func (m *memTrackStore) GetOrCreateLinkMapping(_ context.Context, logID uuid.UUID, lh, url string) (*domain.LinkMapping, error) {
	key := logID.String() + "|" + lh
	if mp, ok := m.mappings[key]; ok {
		return mp, nil
	}
	mp := &domain.LinkMapping{ID: uuid.New(), EmailLogID: logID, LinkHash: lh, OriginalURL: url}
	m.mappings[key] = mp
	return mp, nil
}

func (m *memTrackStore) GetLinkMapping(_ context.Context, logID uuid.UUID, lh string) (*domain.LinkMapping, error) {
	if mp, ok := m.mappings[logID.String()+"|"+lh]; ok {
		return mp, nil
	}
	return nil, fmt.Errorf("link mapping %s: %w", lh, domain.ErrNotFound)
}

func (m *memTrackStore) RecordLinkClick(context.Context, uuid.UUID) error { return nil }

// dispatchStore satisfies dispatch.Store with in-memory state.
type dispatchStore struct {
	accounts []*domain.Account
}

func (d *dispatchStore) ListActiveAccounts(context.Context) ([]*domain.Account, error) {
	return d.accounts, nil
}

func (d *dispatchStore) ListActiveRules(context.Context) ([]*domain.RoutingRule, error) {
	return nil, nil
}

func (d *dispatchStore) CreateEmailLog(_ context.Context, log *domain.EmailLog) error {
	log.ID = uuid.New()
	return nil
}

func (d *dispatchStore) MarkDelivered(context.Context, string, string) error { return nil }

func (d *dispatchStore) IncrementUsage(context.Context, uuid.UUID) error { return nil }

type okRegistry struct{}

func (okRegistry) Send(_ context.Context, account *domain.Account, _ *domain.OutboundMessage) (*provider.SendResult, error) {
	return &provider.SendResult{MessageID: "msg-1"}, nil
}

func trackingHandlers(t *testing.T) (*Handlers, *memTrackStore, *analytics.Engine, *domain.EmailLog) {
	t.Helper()
	ts := &memTrackStore{
		logs:     map[string]*domain.EmailLog{},
		mappings: map[string]*domain.LinkMapping{},
	}
	an := analytics.New(ts, "secret", "https://t.example.com")
	log := &domain.EmailLog{ID: uuid.New(), EmailID: analytics.GenerateEmailID(), Recipient: "alice@example.com"}
	ts.logs[log.EmailID] = log
	return NewHandlers(nil, nil, an, nil), ts, an, log
}

func TestHandleOpenServesPixel(t *testing.T) {
	h, ts, an, log := trackingHandlers(t)
	router := SetupRoutes(h)

	hash := an.GenerateRecipientHash(log.EmailID, log.Recipient)
	req := httptest.NewRequest("GET", fmt.Sprintf("/track/open/%s/%s", log.EmailID, hash), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, ts.opens)
}

func TestHandleOpenBadHashStillServesPixel(t *testing.T) {
	h, ts, _, log := trackingHandlers(t)
	router := SetupRoutes(h)

	req := httptest.NewRequest("GET", fmt.Sprintf("/track/open/%s/%s", log.EmailID, "0000000000000000"), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Zero(t, ts.opens, "forged hit must not count")
}

func TestHandleClickRedirects(t *testing.T) {
	h, ts, an, log := trackingHandlers(t)
	router := SetupRoutes(h)

	_, err := an.RewriteLinks(context.Background(), `<a href="https://example.com/x">x</a>`, log)
	require.NoError(t, err)
	var lh string
	for key := range ts.mappings {
		lh = strings.Split(key, "|")[1]
	}
	hash := an.GenerateRecipientHash(log.EmailID, log.Recipient)

	req := httptest.NewRequest("GET", fmt.Sprintf("/track/click/%s/%s/%s", log.EmailID, lh, hash), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/x", rec.Header().Get("Location"))
	assert.Equal(t, 1, ts.clicks)
}

func TestHandleClickBadHashIs400(t *testing.T) {
	h, _, _, log := trackingHandlers(t)
	router := SetupRoutes(h)

	req := httptest.NewRequest("GET", fmt.Sprintf("/track/click/%s/abc123def456/badhash", log.EmailID), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSendErrorMapping(t *testing.T) {
	engine := dispatch.New(&dispatchStore{accounts: []*domain.Account{{
		ID: uuid.New(), Name: "a", Provider: domain.ProviderSMTP, IsActive: true,
		DailyLimit: 1, SentToday: 1,
	}}}, okRegistry{}, nil, nil, nil, nil, nil)
	h := NewHandlers(nil, engine, nil, nil)
	router := SetupRoutes(h)

	// Rate limited with no fallback account maps to 429.
	body := `{"to":"alice@example.com","subject":"hi","html":"<p>hi</p>"}`
	req := httptest.NewRequest("POST", "/api/send", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Validation maps to 400.
	body = `{"to":"not-an-email","subject":"hi","html":"<p>hi</p>"}`
	req = httptest.NewRequest("POST", "/api/send", strings.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSendSuccess(t *testing.T) {
	engine := dispatch.New(&dispatchStore{accounts: []*domain.Account{{
		ID: uuid.New(), Name: "a", Provider: domain.ProviderSMTP, IsActive: true, IsPrimary: true,
	}}}, okRegistry{}, nil, nil, nil, nil, nil)
	h := NewHandlers(nil, engine, nil, nil)
	router := SetupRoutes(h)

	body := `{"to":"alice@example.com","subject":"hi","html":"<p>hi</p>"}`
	req := httptest.NewRequest("POST", "/api/send", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"account_used":"a"`)
	assert.Contains(t, rec.Body.String(), `"success":true`)
}

func TestCreateRuleRequiresCustomField(t *testing.T) {
	h := NewHandlers(nil, nil, nil, nil)
	router := SetupRoutes(h)

	body := `{"name":"r1","target_account":"a","match_type":"custom","match_value":"x"}`
	req := httptest.NewRequest("POST", "/api/rules/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "custom_field")
}

func TestResetCounters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	v, err := vault.New("test-secret")
	require.NoError(t, err)
	st := store.New(db, v)

	mock.ExpectExec(`SET sent_today = 0`).WillReturnResult(sqlmock.NewResult(0, 2))

	h := NewHandlers(st, nil, nil, nil)
	router := SetupRoutes(h)

	req := httptest.NewRequest("POST", "/api/accounts/reset-counters", strings.NewReader(`{"granularity":"daily"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())

	req = httptest.NewRequest("POST", "/api/accounts/reset-counters", strings.NewReader(`{"granularity":"weekly"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAccountDecrypted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	v, err := vault.New("test-secret")
	require.NoError(t, err)
	st := store.New(db, v)

	id := uuid.New()
	blob, err := v.EncryptJSON(map[string]any{"host": "smtp.example.com", "password": "hunter2"})
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT .+ FROM router_accounts WHERE id`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "provider", "config", "oauth_token", "from_email", "from_name",
			"reply_to", "is_active", "is_primary", "priority", "daily_limit", "hourly_limit",
			"sent_today", "sent_this_hour", "total_sent", "last_used", "created_at", "updated_at",
		}).AddRow(id, "main", "smtp", blob, "", "noreply@example.com", "", "",
			true, false, 0, 0, 0, 0, 0, 0, nil, time.Now(), time.Now()))

	h := NewHandlers(st, nil, nil, nil)
	router := SetupRoutes(h)

	req := httptest.NewRequest("GET", "/api/accounts/"+id.String()+"/decrypted", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hunter2", "edit flow must see plaintext credentials")
	assert.NotContains(t, rec.Body.String(), domain.RedactedSecret)
	assert.NoError(t, mock.ExpectationsWereMet())
}
