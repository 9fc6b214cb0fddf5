package provider

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/quotedprintable"

	"github.com/google/uuid"

	"github.com/ignite/mailrouter/internal/domain"
)

// buildMIME assembles the raw RFC 5322 message for the SMTP adapters.
// Text and HTML bodies go into a multipart/alternative part; attachments
// wrap the whole thing in multipart/mixed.
func buildMIME(account *domain.Account, msg *domain.OutboundMessage, messageID string) []byte {
	var buf bytes.Buffer

	from := account.FromEmail
	if account.FromName != "" {
		from = fmt.Sprintf("%s <%s>", account.FromName, account.FromEmail)
	}
	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s>\r\n", messageID))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if account.ReplyTo != "" {
		buf.WriteString(fmt.Sprintf("Reply-To: %s\r\n", account.ReplyTo))
	}
	if msg.Priority == domain.PriorityHigh {
		buf.WriteString("X-Priority: 1\r\n")
		buf.WriteString("Importance: high\r\n")
	}
	if msg.UnsubscribeURL != "" {
		buf.WriteString(fmt.Sprintf("List-Unsubscribe: <%s>\r\n", msg.UnsubscribeURL))
		buf.WriteString("List-Unsubscribe-Post: List-Unsubscribe=One-Click\r\n")
	}

	altBoundary := "=_alt_" + uuid.New().String()[:16]

	var body bytes.Buffer
	if msg.Text != "" {
		body.WriteString(fmt.Sprintf("--%s\r\n", altBoundary))
		body.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		body.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		writeQuotedPrintable(&body, msg.Text)
		body.WriteString("\r\n")
	}
	if msg.HTML != "" {
		body.WriteString(fmt.Sprintf("--%s\r\n", altBoundary))
		body.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
		body.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		writeQuotedPrintable(&body, msg.HTML)
		body.WriteString("\r\n")
	}
	body.WriteString(fmt.Sprintf("--%s--\r\n", altBoundary))

	if len(msg.Attachments) == 0 {
		buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", altBoundary))
		buf.Write(body.Bytes())
		return buf.Bytes()
	}

	mixedBoundary := "=_mix_" + uuid.New().String()[:16]
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=\"%s\"\r\n\r\n", mixedBoundary))

	buf.WriteString(fmt.Sprintf("--%s\r\n", mixedBoundary))
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", altBoundary))
	buf.Write(body.Bytes())

	for _, a := range msg.Attachments {
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		buf.WriteString(fmt.Sprintf("--%s\r\n", mixedBoundary))
		buf.WriteString(fmt.Sprintf("Content-Type: %s; name=\"%s\"\r\n", contentType, a.Filename))
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		buf.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=\"%s\"\r\n\r\n", a.Filename))

		encoded := base64.StdEncoding.EncodeToString(a.Content)
		for len(encoded) > 76 {
			buf.WriteString(encoded[:76])
			buf.WriteString("\r\n")
			encoded = encoded[76:]
		}
		buf.WriteString(encoded)
		buf.WriteString("\r\n")
	}
	buf.WriteString(fmt.Sprintf("--%s--\r\n", mixedBoundary))
	return buf.Bytes()
}

// writeQuotedPrintable encodes s to match the declared transfer
// encoding. Literal '=' must come out as =3D or clients QP-decoding the
// body mangle embedded query strings, tracking URLs included.
func writeQuotedPrintable(buf *bytes.Buffer, s string) {
	w := quotedprintable.NewWriter(buf)
	w.Write([]byte(s))
	w.Close()
}
