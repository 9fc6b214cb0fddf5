package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates recorded engagement events.
type EventType string

const (
	EventOpen  EventType = "open"
	EventClick EventType = "click"
)

// EmailLog is the durable record of one dispatched, tracked message.
// Created before provider dispatch and never rolled back, so delivery
// failures stay auditable.
type EmailLog struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	EmailID       string     `json:"email_id" db:"email_id"`
	Recipient     string     `json:"recipient" db:"recipient"`
	Subject       string     `json:"subject" db:"subject"`
	Template      string     `json:"template,omitempty" db:"template"`
	AccountUsed   string     `json:"account_used,omitempty" db:"account_used"`
	SentAt        time.Time  `json:"sent_at" db:"sent_at"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	OpenCount     int        `json:"open_count" db:"open_count"`
	ClickCount    int        `json:"click_count" db:"click_count"`
	FirstOpenedAt *time.Time `json:"first_opened_at,omitempty" db:"first_opened_at"`
	LastOpenedAt  *time.Time `json:"last_opened_at,omitempty" db:"last_opened_at"`
	Bounced       bool       `json:"bounced" db:"bounced"`
}

// EmailEvent is one append-only open or click record belonging to an
// EmailLog.
type EmailEvent struct {
	ID         uuid.UUID `json:"id" db:"id"`
	EmailLogID uuid.UUID `json:"email_log_id" db:"email_log_id"`
	Type       EventType `json:"type" db:"type"`
	IPAddress  string    `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  string    `json:"user_agent,omitempty" db:"user_agent"`
	DeviceType string    `json:"device_type,omitempty" db:"device_type"`
	URL        string    `json:"url,omitempty" db:"url"`
	Bot        bool      `json:"bot" db:"bot"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// LinkMapping associates a short content hash with the original URL it
// replaced in one tracked message. The same URL in two messages gets
// independent mappings; within one message the mapping is unique per
// (email_log_id, link_hash).
type LinkMapping struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	EmailLogID     uuid.UUID  `json:"email_log_id" db:"email_log_id"`
	LinkHash       string     `json:"link_hash" db:"link_hash"`
	OriginalURL    string     `json:"original_url" db:"original_url"`
	ClickCount     int        `json:"click_count" db:"click_count"`
	FirstClickedAt *time.Time `json:"first_clicked_at,omitempty" db:"first_clicked_at"`
	LastClickedAt  *time.Time `json:"last_clicked_at,omitempty" db:"last_clicked_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}
