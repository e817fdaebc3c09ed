// Package gmail adapts the Gmail API to the mail provider port. Per-user
// OAuth tokens come from the users table; the adapter refreshes them through
// the standard oauth2 token source.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mailmind-app/mailmind/internal/config"
	"github.com/mailmind-app/mailmind/internal/domain"
)

// Service implements domain.MailProvider against the Gmail API.
type Service struct {
	cfg config.Config
}

// New constructs a Gmail mail provider.
func New(cfg config.Config) *Service { return &Service{cfg: cfg} }

func (s *Service) svcFor(ctx domain.Context, u domain.User) (*gmailapi.Service, error) {
	conf := &oauth2.Config{
		ClientID:     s.cfg.GoogleClientID,
		ClientSecret: s.cfg.GoogleClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailModifyScope, gmailapi.GmailSendScope},
	}
	tok := &oauth2.Token{
		AccessToken:  u.AccessCredential,
		RefreshToken: u.RefreshCredential,
		Expiry:       u.TokenExpiry,
	}
	// Trace outgoing Gmail calls.
	ctx = oauth2Context(ctx)
	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(conf.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("op=gmail.service: %w", err)
	}
	return svc, nil
}

func oauth2Context(ctx domain.Context) domain.Context {
	hc := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport), Timeout: 30 * time.Second}
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}

// FetchSince lists INBOX messages received after the watermark, newest first.
func (s *Service) FetchSince(ctx domain.Context, u domain.User, after time.Time, max int) ([]domain.IncomingMessage, error) {
	svc, err := s.svcFor(ctx, u)
	if err != nil {
		return nil, err
	}
	query := "in:inbox"
	if !after.IsZero() {
		// Gmail's after: operator has day granularity; the caller dedupes.
		query += " after:" + after.Format("2006/01/02")
	}
	if max <= 0 {
		max = 100
	}
	list, err := svc.Users.Messages.List("me").
		LabelIds("INBOX").
		Q(query).
		MaxResults(int64(max)).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("op=gmail.list: %w", err)
	}
	out := make([]domain.IncomingMessage, 0, len(list.Messages))
	for _, ref := range list.Messages {
		full, err := svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			slog.Warn("gmail message fetch failed",
				slog.String("provider_message_id", ref.Id),
				slog.Any("error", err))
			continue
		}
		msg := parseMessage(full)
		if !hasLabel(msg.Labels, "INBOX") {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Send delivers a plain-text message and returns the provider id.
func (s *Service) Send(ctx domain.Context, u domain.User, to, subject, body string) (string, error) {
	svc, err := s.svcFor(ctx, u)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", u.EmailAddress)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(body)
	raw := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(b.String()))
	sent, err := svc.Users.Messages.Send("me", &gmailapi.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("op=gmail.send: %w", err)
	}
	return sent.Id, nil
}

// SetRead adds or removes the UNREAD label on the provider side.
func (s *Service) SetRead(ctx domain.Context, u domain.User, providerMessageID string, read bool) error {
	svc, err := s.svcFor(ctx, u)
	if err != nil {
		return err
	}
	mod := &gmailapi.ModifyMessageRequest{}
	if read {
		mod.RemoveLabelIds = []string{"UNREAD"}
	} else {
		mod.AddLabelIds = []string{"UNREAD"}
	}
	if _, err := svc.Users.Messages.Modify("me", providerMessageID, mod).Context(ctx).Do(); err != nil {
		return fmt.Errorf("op=gmail.modify: %w", err)
	}
	return nil
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}
