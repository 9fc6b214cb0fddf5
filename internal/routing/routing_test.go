package routing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ignite/mailrouter/internal/domain"
)

func account(name string, priority int, primary bool) *domain.Account {
	return &domain.Account{
		ID:        uuid.New(),
		Name:      name,
		IsActive:  true,
		IsPrimary: primary,
		Priority:  priority,
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name string
		rule domain.RoutingRule
		msg  domain.OutboundMessage
		want bool
	}{
		{
			"email type exact",
			domain.RoutingRule{MatchType: domain.MatchEmailType, MatchValue: "marketing"},
			domain.OutboundMessage{Type: domain.TypeMarketing},
			true,
		},
		{
			"email type mismatch",
			domain.RoutingRule{MatchType: domain.MatchEmailType, MatchValue: "marketing"},
			domain.OutboundMessage{Type: domain.TypeTransactional},
			false,
		},
		{
			"recipient substring is case insensitive",
			domain.RoutingRule{MatchType: domain.MatchRecipient, MatchValue: "@Example.COM"},
			domain.OutboundMessage{To: "alice@example.com"},
			true,
		},
		{
			"subject substring",
			domain.RoutingRule{MatchType: domain.MatchSubject, MatchValue: "invoice"},
			domain.OutboundMessage{Subject: "Your Invoice #42"},
			true,
		},
		{
			"template exact",
			domain.RoutingRule{MatchType: domain.MatchTemplate, MatchValue: "welcome"},
			domain.OutboundMessage{Template: "welcome"},
			true,
		},
		{
			"template is not substring",
			domain.RoutingRule{MatchType: domain.MatchTemplate, MatchValue: "welcome"},
			domain.OutboundMessage{Template: "welcome-v2"},
			false,
		},
		{
			"custom exact on configured field",
			domain.RoutingRule{MatchType: domain.MatchCustom, MatchValue: "tenant-7", CustomField: "tenant"},
			domain.OutboundMessage{Custom: map[string]string{"tenant": "tenant-7"}},
			true,
		},
		{
			"custom with no configured field never matches",
			domain.RoutingRule{MatchType: domain.MatchCustom, MatchValue: "tenant-7"},
			domain.OutboundMessage{Custom: map[string]string{"tenant": "tenant-7"}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(&tt.rule, &tt.msg))
		})
	}
}

func TestSelectAccountRuleTarget(t *testing.T) {
	a := account("marketing-pool", 2, false)
	b := account("default-pool", 1, true)
	rules := []*domain.RoutingRule{
		{Name: "marketing", MatchType: domain.MatchEmailType, MatchValue: "marketing",
			TargetAccount: "marketing-pool", IsActive: true},
	}

	got := SelectAccount(&domain.OutboundMessage{Type: domain.TypeMarketing},
		[]*domain.Account{a, b}, rules, nil)
	assert.Equal(t, a.Name, got.Name)
}

func TestSelectAccountFallsBackWithinRule(t *testing.T) {
	a := account("marketing-pool", 2, false)
	b := account("backup-pool", 1, false)
	rules := []*domain.RoutingRule{
		{Name: "marketing", MatchType: domain.MatchEmailType, MatchValue: "marketing",
			TargetAccount: "marketing-pool", FallbackAccount: "backup-pool", IsActive: true},
	}

	excluded := map[uuid.UUID]bool{a.ID: true}
	got := SelectAccount(&domain.OutboundMessage{Type: domain.TypeMarketing},
		[]*domain.Account{a, b}, rules, excluded)
	assert.Equal(t, b.Name, got.Name)
}

func TestSelectAccountUnmatchedFallsBackToPrimary(t *testing.T) {
	a := account("high-priority", 10, false)
	b := account("primary", 1, true)

	got := SelectAccount(&domain.OutboundMessage{Type: domain.TypeTransactional},
		[]*domain.Account{a, b}, nil, nil)
	assert.Equal(t, "primary", got.Name)
}

func TestSelectAccountNoPrimaryUsesPriorityOrder(t *testing.T) {
	// The store delivers accounts sorted by priority descending.
	a := account("high", 10, false)
	b := account("low", 1, false)

	got := SelectAccount(&domain.OutboundMessage{}, []*domain.Account{a, b}, nil, nil)
	assert.Equal(t, "high", got.Name)
}

func TestSelectAccountFirstMatchWins(t *testing.T) {
	a := account("first", 1, false)
	b := account("second", 1, false)
	// Rules arrive pre-sorted by priority descending.
	rules := []*domain.RoutingRule{
		{Name: "hi", MatchType: domain.MatchSubject, MatchValue: "report",
			TargetAccount: "first", Priority: 10, IsActive: true},
		{Name: "lo", MatchType: domain.MatchSubject, MatchValue: "report",
			TargetAccount: "second", Priority: 1, IsActive: true},
	}

	got := SelectAccount(&domain.OutboundMessage{Subject: "Weekly report"},
		[]*domain.Account{a, b}, rules, nil)
	assert.Equal(t, "first", got.Name)
}

func TestSelectAccountSkipsInactiveRules(t *testing.T) {
	a := account("target", 1, false)
	b := account("primary", 1, true)
	rules := []*domain.RoutingRule{
		{Name: "off", MatchType: domain.MatchEmailType, MatchValue: "marketing",
			TargetAccount: "target", IsActive: false},
	}

	got := SelectAccount(&domain.OutboundMessage{Type: domain.TypeMarketing},
		[]*domain.Account{a, b}, rules, nil)
	assert.Equal(t, "primary", got.Name)
}

func TestSelectAccountAllExcluded(t *testing.T) {
	a := account("only", 1, true)
	excluded := map[uuid.UUID]bool{a.ID: true}

	got := SelectAccount(&domain.OutboundMessage{}, []*domain.Account{a}, nil, excluded)
	assert.Nil(t, got)
}

func TestSelectAccountDeterministic(t *testing.T) {
	a := account("a", 5, false)
	b := account("b", 5, false)
	accounts := []*domain.Account{a, b}
	msg := &domain.OutboundMessage{Subject: "hello"}

	first := SelectAccount(msg, accounts, nil, nil)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first.Name, SelectAccount(msg, accounts, nil, nil).Name)
	}
}
