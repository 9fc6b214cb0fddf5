package provider

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ignite/mailrouter/internal/domain"
)

var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const maxSubjectSoftLimit = 200

// ValidateMessage runs the pre-transmission checks shared by every
// adapter. Hard failures return a validation error; soft findings come
// back as warnings and never block the send.
func ValidateMessage(msg *domain.OutboundMessage) ([]string, error) {
	if !emailShape.MatchString(msg.To) {
		return nil, domain.NewSendError(domain.KindValidation, "invalid recipient address %q", msg.To)
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return nil, domain.NewSendError(domain.KindValidation, "subject is required")
	}
	if msg.HTML == "" && msg.Text == "" {
		return nil, domain.NewSendError(domain.KindValidation, "message body is required (text and/or html)")
	}

	lowered := strings.ToLower(msg.HTML)
	if strings.Contains(lowered, "<script") {
		return nil, domain.NewSendError(domain.KindValidation, "html body must not contain script tags")
	}
	if strings.Contains(lowered, "javascript:") {
		return nil, domain.NewSendError(domain.KindValidation, "html body must not contain javascript: URIs")
	}

	var warnings []string
	if len(msg.Subject) > maxSubjectSoftLimit {
		warnings = append(warnings, fmt.Sprintf("subject exceeds %d characters and may be truncated by clients", maxSubjectSoftLimit))
	}
	if msg.Type == domain.TypeMarketing && msg.UnsubscribeURL == "" {
		warnings = append(warnings, "marketing message has no unsubscribe URL (RFC 8058 / CAN-SPAM compliance)")
	}
	return warnings, nil
}
