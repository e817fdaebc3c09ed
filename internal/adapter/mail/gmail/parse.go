package gmail

import (
	"encoding/base64"
	"log/slog"
	"net/mail"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/mailmind-app/mailmind/internal/domain"
)

// parseMessage converts a full-format Gmail message into the provider-neutral
// form. The read flag is derived from the absence of the UNREAD label.
func parseMessage(m *gmailapi.Message) domain.IncomingMessage {
	out := domain.IncomingMessage{
		ProviderMessageID: m.Id,
		Snippet:           m.Snippet,
		Labels:            m.LabelIds,
	}
	var dateHeader string
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			switch h.Name {
			case "Subject":
				out.Subject = h.Value
			case "From":
				out.Sender = h.Value
			case "Date":
				dateHeader = h.Value
			}
		}
		out.Body = extractBody(m.Payload)
	}
	if out.Body == "" {
		out.Body = m.Snippet
	}
	out.Date = parseDate(dateHeader, m.InternalDate)
	return out
}

// extractBody prefers the first text/plain part, walking nested multiparts.
// A single-part message's body lives directly on the payload.
func extractBody(p *gmailapi.MessagePart) string {
	if p == nil {
		return ""
	}
	if p.MimeType == "text/plain" && p.Body != nil && p.Body.Data != "" {
		return decodeBody(p.Body.Data)
	}
	for _, part := range p.Parts {
		if s := extractBody(part); s != "" {
			return s
		}
	}
	if len(p.Parts) == 0 && p.Body != nil && p.Body.Data != "" {
		return decodeBody(p.Body.Data)
	}
	return ""
}

func decodeBody(data string) string {
	b, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(data)
	if err != nil {
		// Some providers pad; try the strict alphabet too.
		if b2, err2 := base64.URLEncoding.DecodeString(data); err2 == nil {
			return string(b2)
		}
		return ""
	}
	return string(b)
}

// parseDate parses the RFC 5322 Date header, falling back to the provider's
// internal timestamp (ms) and finally to now.
func parseDate(header string, internalMs int64) time.Time {
	if header != "" {
		if t, err := mail.ParseDate(header); err == nil {
			return t.UTC()
		}
	}
	if internalMs > 0 {
		return time.UnixMilli(internalMs).UTC()
	}
	slog.Warn("message has no usable date, using current time",
		slog.String("date_header", header))
	return time.Now().UTC()
}
