package domain

import (
	"time"

	"github.com/google/uuid"
)

// MatchType determines how a routing rule's MatchValue is compared
// against an outbound message.
type MatchType string

const (
	MatchEmailType MatchType = "emailType" // exact match on classification
	MatchRecipient MatchType = "recipient" // case-insensitive substring
	MatchSubject   MatchType = "subject"   // case-insensitive substring
	MatchTemplate  MatchType = "template"  // exact match on template ref
	MatchCustom    MatchType = "custom"    // exact match on a configured custom field
)

// RoutingRule maps message attributes to a target (and optional fallback)
// account. Rules are evaluated in descending priority; first match wins.
type RoutingRule struct {
	ID               uuid.UUID `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	MatchType        MatchType `json:"match_type" db:"match_type"`
	MatchValue       string    `json:"match_value" db:"match_value"`
	CustomField      string    `json:"custom_field,omitempty" db:"custom_field"`
	TargetAccount    string    `json:"target_account" db:"target_account"`
	FallbackAccount  string    `json:"fallback_account,omitempty" db:"fallback_account"`
	Priority         int       `json:"priority" db:"priority"`
	IsActive         bool      `json:"is_active" db:"is_active"`
	WhatsAppFallback bool      `json:"whatsapp_fallback" db:"whatsapp_fallback"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}
