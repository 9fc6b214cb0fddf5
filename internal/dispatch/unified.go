package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/mailrouter/internal/domain"
)

// SendMessage is the unified entry point. The channel is taken from the
// explicit override when present, otherwise detected from the address
// shape: an email recipient routes through the email pipeline, a bare
// phone number goes straight to WhatsApp.
func (e *Engine) SendMessage(ctx context.Context, msg *domain.OutboundMessage) (*domain.SendOutcome, error) {
	channel := msg.Channel
	if channel == "" {
		if msg.To != "" {
			channel = domain.ChannelEmail
		} else if msg.PhoneNumber != "" {
			channel = domain.ChannelWhatsApp
		}
	}

	switch channel {
	case domain.ChannelEmail:
		return e.Send(ctx, msg)
	case domain.ChannelWhatsApp:
		return e.sendWhatsApp(ctx, msg)
	default:
		return nil, domain.NewSendError(domain.KindValidation,
			"message needs an email address or a phone number")
	}
}

// sendWhatsApp relays the message directly over the WhatsApp channel,
// outside the email failover cascade.
func (e *Engine) sendWhatsApp(ctx context.Context, msg *domain.OutboundMessage) (*domain.SendOutcome, error) {
	if msg.PhoneNumber == "" {
		return nil, domain.NewSendError(domain.KindValidation, "phone number is required for whatsapp delivery")
	}
	if e.whatsapp == nil {
		return nil, domain.NewSendError(domain.KindProvider, "whatsapp gateway not configured")
	}
	if !e.whatsapp.GetStatus(ctx).IsConnected {
		return nil, domain.NewSendError(domain.KindProvider, "whatsapp session not connected")
	}

	body := msg.Text
	if body == "" {
		body = msg.HTML
	}
	text := body
	if msg.Subject != "" {
		text = fmt.Sprintf("*%s*\n\n%s", msg.Subject, body)
	}
	if text == "" {
		return nil, domain.NewSendError(domain.KindValidation, "message body is required")
	}

	result, err := e.whatsapp.SendMessage(ctx, msg.PhoneNumber, text)
	if err != nil {
		return nil, domain.WrapError(domain.KindProvider, err)
	}
	return &domain.SendOutcome{
		Success:   true,
		MessageID: result.JID,
		Channel:   domain.ChannelWhatsApp,
		SentAt:    time.Now(),
	}, nil
}
