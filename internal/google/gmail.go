package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"backoffice/internal/core"
	"backoffice/internal/ports"
	"backoffice/internal/ratelimit"
)

// Gmail sends owner statements.
type Gmail struct {
	svc     *gmail.Service
	sender  string
	limiter *ratelimit.Limiter
}

var _ ports.Mailer = (*Gmail)(nil)

func NewGmail(ctx context.Context, creds Credentials, sender string, limiter *ratelimit.Limiter) (*Gmail, error) {
	opts, err := gmailOptions(ctx, creds, sender, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("gmail credentials: %w", err)
	}
	return NewGmailWithOptions(ctx, sender, limiter, opts...)
}

func NewGmailWithOptions(ctx context.Context, sender string, limiter *ratelimit.Limiter, opts ...option.ClientOption) (*Gmail, error) {
	if limiter == nil {
		return nil, errors.New("gmail adapter needs a rate limiter")
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Gmail{svc: svc, sender: sender, limiter: limiter}, nil
}

func (g *Gmail) Send(ctx context.Context, e ports.Email) error {
	if e.From == "" {
		e.From = g.sender
	}
	if strings.TrimSpace(e.To) == "" {
		return core.Errorf(core.KindValidation, "gmail.send", "missing recipient")
	}
	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(buildMessage(e))}

	err := g.limiter.Do(ctx, func(ctx context.Context) error {
		_, err := g.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
		return classify("gmail.send", err)
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Email sent", "to", e.To, "subject", e.Subject)
	return nil
}

// buildMessage renders a minimal RFC 5322 HTML message.
func buildMessage(e ports.Email) []byte {
	var b bytes.Buffer
	if e.From != "" {
		fmt.Fprintf(&b, "From: %s\r\n", e.From)
	}
	fmt.Fprintf(&b, "To: %s\r\n", e.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", e.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")

	body := base64.StdEncoding.EncodeToString([]byte(e.HTMLBody))
	for len(body) > 76 {
		b.WriteString(body[:76])
		b.WriteString("\r\n")
		body = body[76:]
	}
	b.WriteString(body)
	b.WriteString("\r\n")
	return b.Bytes()
}
