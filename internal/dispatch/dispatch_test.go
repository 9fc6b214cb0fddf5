package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailrouter/internal/domain"
	"github.com/ignite/mailrouter/internal/provider"
	"github.com/ignite/mailrouter/internal/template"
	"github.com/ignite/mailrouter/internal/whatsapp"
)

type fakeStore struct {
	accounts []*domain.Account
	rules    []*domain.RoutingRule
	logs     []*domain.EmailLog
	usage    map[uuid.UUID]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{usage: map[uuid.UUID]int{}}
}

func (f *fakeStore) ListActiveAccounts(context.Context) ([]*domain.Account, error) {
	return f.accounts, nil
}

func (f *fakeStore) ListActiveRules(context.Context) ([]*domain.RoutingRule, error) {
	return f.rules, nil
}

func (f *fakeStore) CreateEmailLog(_ context.Context, log *domain.EmailLog) error {
	log.ID = uuid.New()
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeStore) MarkDelivered(_ context.Context, emailID, accountUsed string) error {
	for _, l := range f.logs {
		if l.EmailID == emailID {
			l.AccountUsed = accountUsed
		}
	}
	return nil
}

func (f *fakeStore) IncrementUsage(_ context.Context, id uuid.UUID) error {
	f.usage[id]++
	for _, a := range f.accounts {
		if a.ID == id {
			a.SentToday++
			a.SentThisHour++
		}
	}
	return nil
}

// fakeRegistry succeeds unless the account name is listed in failures.
type fakeRegistry struct {
	failures map[string]error
	sends    []string
}

func (f *fakeRegistry) Send(_ context.Context, account *domain.Account, msg *domain.OutboundMessage) (*provider.SendResult, error) {
	if err, ok := f.failures[account.Name]; ok {
		return nil, err
	}
	f.sends = append(f.sends, account.Name)
	return &provider.SendResult{MessageID: "msg-" + account.Name, SentAt: time.Now()}, nil
}

type fakeGateway struct {
	connected bool
	sent      []string
	fail      bool
}

func (f *fakeGateway) GetStatus(context.Context) whatsapp.Status {
	return whatsapp.Status{IsConnected: f.connected, State: whatsapp.StateConnected}
}

func (f *fakeGateway) SendMessage(_ context.Context, phone, text string) (*whatsapp.SendResult, error) {
	if f.fail {
		return nil, fmt.Errorf("gateway down")
	}
	f.sent = append(f.sent, text)
	return &whatsapp.SendResult{Success: true, JID: phone + "@s.whatsapp.net"}, nil
}

type fakeGate struct {
	blockedProviders map[domain.ProviderType]bool
	features         map[string]bool
}

func (f *fakeGate) IsProviderAllowed(_ context.Context, p domain.ProviderType) bool {
	return !f.blockedProviders[p]
}

func (f *fakeGate) HasFeature(_ context.Context, name string) bool {
	if f.features == nil {
		return true
	}
	return f.features[name]
}

type fakeRenderer struct {
	templates map[string]*template.Rendered
}

func (f *fakeRenderer) Render(_ context.Context, name string, _ map[string]any) (*template.Rendered, error) {
	if r, ok := f.templates[name]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("template %q: %w", name, domain.ErrNotFound)
}

func activeAccount(name string, priority, dailyLimit, sentToday int, primary bool) *domain.Account {
	return &domain.Account{
		ID:         uuid.New(),
		Name:       name,
		Provider:   domain.ProviderSMTP,
		IsActive:   true,
		IsPrimary:  primary,
		Priority:   priority,
		DailyLimit: dailyLimit,
		SentToday:  sentToday,
	}
}

func marketingMsg() *domain.OutboundMessage {
	return &domain.OutboundMessage{
		To:      "alice@example.com",
		Subject: "Offer",
		HTML:    "<p>offer</p>",
		Type:    domain.TypeMarketing,
	}
}

func TestSendViaRuleTarget(t *testing.T) {
	store := newFakeStore()
	a := activeAccount("marketing-pool", 2, 0, 0, false)
	b := activeAccount("default", 1, 0, 0, true)
	store.accounts = []*domain.Account{a, b}
	store.rules = []*domain.RoutingRule{
		{Name: "mkt", MatchType: domain.MatchEmailType, MatchValue: "marketing",
			TargetAccount: "marketing-pool", IsActive: true},
	}
	reg := &fakeRegistry{}
	e := New(store, reg, nil, nil, nil, nil, nil)

	out, err := e.Send(context.Background(), marketingMsg())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "marketing-pool", out.AccountUsed)
	assert.Equal(t, domain.ChannelEmail, out.Channel)
	assert.NotEmpty(t, out.EmailID)
	assert.Equal(t, 1, store.usage[a.ID])
	assert.Equal(t, "marketing-pool", store.logs[0].AccountUsed)
}

func TestRateLimitFailover(t *testing.T) {
	// Account A has dailyLimit=1, B is the rule fallback. Two sequential
	// marketing sends land on A then B.
	store := newFakeStore()
	a := activeAccount("a", 2, 1, 0, false)
	b := activeAccount("b", 1, 0, 0, false)
	store.accounts = []*domain.Account{a, b}
	store.rules = []*domain.RoutingRule{
		{Name: "mkt", MatchType: domain.MatchEmailType, MatchValue: "marketing",
			TargetAccount: "a", FallbackAccount: "b", IsActive: true},
	}
	reg := &fakeRegistry{}
	e := New(store, reg, nil, nil, nil, nil, nil)

	out, err := e.Send(context.Background(), marketingMsg())
	require.NoError(t, err)
	assert.Equal(t, "a", out.AccountUsed)
	assert.Equal(t, 1, a.SentToday)

	out, err = e.Send(context.Background(), marketingMsg())
	require.NoError(t, err)
	assert.Equal(t, "b", out.AccountUsed)
	assert.Equal(t, []string{"a", "b"}, reg.sends)
}

func TestForcedAccountRateLimitFailsOver(t *testing.T) {
	store := newFakeStore()
	a := activeAccount("limited", 2, 3, 3, false)
	b := activeAccount("spare", 1, 0, 0, true)
	store.accounts = []*domain.Account{a, b}
	reg := &fakeRegistry{}
	e := New(store, reg, nil, nil, nil, nil, nil)

	msg := marketingMsg()
	msg.ForceAccount = "limited"
	out, err := e.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "spare", out.AccountUsed)
}

func TestRateLimitedWithNoFallbackRaises(t *testing.T) {
	store := newFakeStore()
	store.accounts = []*domain.Account{activeAccount("only", 1, 3, 3, true)}
	e := New(store, &fakeRegistry{}, nil, nil, nil, nil, nil)

	_, err := e.Send(context.Background(), marketingMsg())
	require.Error(t, err)
	assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))
}

func TestValidationRejectedBeforeProviderCall(t *testing.T) {
	store := newFakeStore()
	store.accounts = []*domain.Account{activeAccount("a", 1, 0, 0, true)}
	reg := &fakeRegistry{}
	e := New(store, reg, nil, nil, nil, nil, nil)

	msg := marketingMsg()
	msg.HTML = "<p>hi</p><script>alert(1)</script>"

	_, err := e.Send(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Empty(t, reg.sends)
	assert.Empty(t, store.logs, "log is created only after validation passes")
}

func TestMarketingWithoutUnsubscribeIsWarningOnly(t *testing.T) {
	store := newFakeStore()
	store.accounts = []*domain.Account{activeAccount("a", 1, 0, 0, true)}
	e := New(store, &fakeRegistry{}, nil, nil, nil, nil, nil)

	out, err := e.Send(context.Background(), marketingMsg())
	require.NoError(t, err)
	require.NotEmpty(t, out.Warnings)
	assert.Contains(t, out.Warnings[0], "unsubscribe")
}

func TestProviderFailureFailsOverToNextAccount(t *testing.T) {
	store := newFakeStore()
	a := activeAccount("flaky", 2, 0, 0, true)
	b := activeAccount("stable", 1, 0, 0, false)
	store.accounts = []*domain.Account{a, b}
	reg := &fakeRegistry{failures: map[string]error{
		"flaky": domain.NewSendError(domain.KindProvider, "smtp timeout"),
	}}
	e := New(store, reg, nil, nil, nil, nil, nil)

	out, err := e.Send(context.Background(), marketingMsg())
	require.NoError(t, err)
	assert.Equal(t, "stable", out.AccountUsed)
	assert.Zero(t, store.usage[a.ID], "failed attempt must not consume quota")
	assert.Equal(t, 1, store.usage[b.ID])
}

func TestWhatsAppFallbackOnExhaustedEmail(t *testing.T) {
	store := newFakeStore()
	a := activeAccount("a", 1, 0, 0, true)
	store.accounts = []*domain.Account{a}
	store.rules = []*domain.RoutingRule{
		{Name: "mkt", MatchType: domain.MatchEmailType, MatchValue: "marketing",
			TargetAccount: "a", WhatsAppFallback: true, IsActive: true},
	}
	reg := &fakeRegistry{failures: map[string]error{
		"a": domain.NewSendError(domain.KindProvider, "hard bounce"),
	}}
	gw := &fakeGateway{connected: true}
	e := New(store, reg, nil, nil, nil, nil, gw)

	msg := marketingMsg()
	msg.Text = "plain body"
	msg.PhoneNumber = "+15551234567"

	out, err := e.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, domain.ChannelWhatsApp, out.Channel)
	require.Len(t, gw.sent, 1)
	assert.Equal(t, "*Offer*\n\nplain body", gw.sent[0])
}

func TestWhatsAppFallbackSkippedWhenDisconnected(t *testing.T) {
	store := newFakeStore()
	a := activeAccount("a", 1, 0, 0, true)
	store.accounts = []*domain.Account{a}
	store.rules = []*domain.RoutingRule{
		{Name: "mkt", MatchType: domain.MatchEmailType, MatchValue: "marketing",
			TargetAccount: "a", WhatsAppFallback: true, IsActive: true},
	}
	sendErr := domain.NewSendError(domain.KindProvider, "hard bounce")
	reg := &fakeRegistry{failures: map[string]error{"a": sendErr}}
	gw := &fakeGateway{connected: false}
	e := New(store, reg, nil, nil, nil, nil, gw)

	msg := marketingMsg()
	msg.PhoneNumber = "+15551234567"

	_, err := e.Send(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, domain.KindProvider, domain.KindOf(err), "original error re-raised")
}

func TestWhatsAppFallbackNeedsPhoneNumber(t *testing.T) {
	store := newFakeStore()
	a := activeAccount("a", 1, 0, 0, true)
	store.accounts = []*domain.Account{a}
	store.rules = []*domain.RoutingRule{
		{Name: "mkt", MatchType: domain.MatchEmailType, MatchValue: "marketing",
			TargetAccount: "a", WhatsAppFallback: true, IsActive: true},
	}
	reg := &fakeRegistry{failures: map[string]error{
		"a": domain.NewSendError(domain.KindProvider, "hard bounce"),
	}}
	gw := &fakeGateway{connected: true}
	e := New(store, reg, nil, nil, nil, nil, gw)

	_, err := e.Send(context.Background(), marketingMsg())
	require.Error(t, err)
	assert.Empty(t, gw.sent)
}

func TestLicenseBlockedProviderIsAuthorizationError(t *testing.T) {
	store := newFakeStore()
	store.accounts = []*domain.Account{activeAccount("a", 1, 0, 0, true)}
	gate := &fakeGate{blockedProviders: map[domain.ProviderType]bool{domain.ProviderSMTP: true}}
	e := New(store, &fakeRegistry{}, nil, nil, gate, nil, nil)

	_, err := e.Send(context.Background(), marketingMsg())
	require.Error(t, err)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
}

func TestHighPriorityDowngradedWithoutFeature(t *testing.T) {
	store := newFakeStore()
	store.accounts = []*domain.Account{activeAccount("a", 1, 0, 0, true)}
	gate := &fakeGate{features: map[string]bool{}}
	e := New(store, &fakeRegistry{}, nil, nil, gate, nil, nil)

	msg := marketingMsg()
	msg.Priority = domain.PriorityHigh

	out, err := e.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityNormal, msg.Priority)
	assert.NotEmpty(t, out.Warnings)
}

func TestTemplateRenderWithOverrides(t *testing.T) {
	store := newFakeStore()
	store.accounts = []*domain.Account{activeAccount("a", 1, 0, 0, true)}
	renderer := &fakeRenderer{templates: map[string]*template.Rendered{
		"welcome": {Subject: "Rendered Subject", HTML: "<p>rendered</p>", Category: "transactional"},
	}}
	e := New(store, &fakeRegistry{}, renderer, nil, nil, nil, nil)

	msg := &domain.OutboundMessage{
		To:       "alice@example.com",
		Template: "welcome",
		Subject:  "Explicit Subject",
	}
	out, err := e.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "Explicit Subject", msg.Subject, "explicit subject wins")
	assert.Equal(t, "<p>rendered</p>", msg.HTML)
	assert.Equal(t, domain.TypeTransactional, msg.Type)
}

func TestTemplateNotFound(t *testing.T) {
	store := newFakeStore()
	store.accounts = []*domain.Account{activeAccount("a", 1, 0, 0, true)}
	e := New(store, &fakeRegistry{}, &fakeRenderer{}, nil, nil, nil, nil)

	msg := marketingMsg()
	msg.Template = "missing"
	_, err := e.Send(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestSendMessageChannelAutoDetect(t *testing.T) {
	store := newFakeStore()
	store.accounts = []*domain.Account{activeAccount("a", 1, 0, 0, true)}
	gw := &fakeGateway{connected: true}
	e := New(store, &fakeRegistry{}, nil, nil, nil, nil, gw)

	out, err := e.SendMessage(context.Background(), marketingMsg())
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelEmail, out.Channel)

	out, err = e.SendMessage(context.Background(), &domain.OutboundMessage{
		PhoneNumber: "+15551234567",
		Subject:     "Alert",
		Text:        "ping",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelWhatsApp, out.Channel)
	assert.Equal(t, []string{"*Alert*\n\nping"}, gw.sent)

	_, err = e.SendMessage(context.Background(), &domain.OutboundMessage{Subject: "x", Text: "y"})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestNoActiveAccounts(t *testing.T) {
	e := New(newFakeStore(), &fakeRegistry{}, nil, nil, nil, nil, nil)
	_, err := e.Send(context.Background(), marketingMsg())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoActiveAccount)
}
