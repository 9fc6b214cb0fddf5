package domain

import "time"

// EmailType classifies an outbound message.
type EmailType string

const (
	TypeTransactional EmailType = "transactional"
	TypeMarketing     EmailType = "marketing"
	TypeNotification  EmailType = "notification"
)

// MessagePriority orders dispatch urgency.
type MessagePriority string

const (
	PriorityHigh   MessagePriority = "high"
	PriorityNormal MessagePriority = "normal"
	PriorityLow    MessagePriority = "low"
)

// Channel identifies the delivery transport class.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// Attachment is a file attached to an outbound message, either inline
// content or a path resolved by the provider adapter.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Content     []byte `json:"content,omitempty"`
	Path        string `json:"path,omitempty"`
}

// OutboundMessage is the caller-supplied message in flight through the
// dispatch pipeline. It is never persisted as an entity; the durable
// record is the EmailLog created at send time.
type OutboundMessage struct {
	To          string          `json:"to"`
	Subject     string          `json:"subject"`
	HTML        string          `json:"html,omitempty"`
	Text        string          `json:"text,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	Type        EmailType       `json:"type,omitempty"`
	Priority    MessagePriority `json:"priority,omitempty"`

	// Template reference and substitution data, resolved by the template
	// collaborator before dispatch. Explicit Subject/HTML/Text override
	// rendered values.
	Template     string         `json:"template,omitempty"`
	TemplateData map[string]any `json:"template_data,omitempty"`

	// ForceAccount bypasses rule evaluation and names the account to use.
	ForceAccount string `json:"force_account,omitempty"`

	// Channel override and WhatsApp fallback number.
	Channel     Channel `json:"channel,omitempty"`
	PhoneNumber string  `json:"phone_number,omitempty"`

	// DisableTracking skips both pixel and link injection.
	// SkipLinkTracking keeps the pixel but leaves hrefs untouched, for
	// security-sensitive URLs such as magic links.
	DisableTracking  bool `json:"disable_tracking,omitempty"`
	SkipLinkTracking bool `json:"skip_link_tracking,omitempty"`

	// UnsubscribeURL feeds the List-Unsubscribe headers and the marketing
	// compliance check.
	UnsubscribeURL string `json:"unsubscribe_url,omitempty"`

	// Custom carries caller-supplied fields matched by custom routing rules.
	Custom map[string]string `json:"custom,omitempty"`
}

// SendOutcome reports the result of one dispatch.
type SendOutcome struct {
	Success     bool      `json:"success"`
	AccountUsed string    `json:"account_used,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	EmailID     string    `json:"email_id,omitempty"`
	Channel     Channel   `json:"channel"`
	Warnings    []string  `json:"warnings,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}
