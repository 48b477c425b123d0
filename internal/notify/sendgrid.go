package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/pavelanni/examgrader/internal/i18n"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGrid emails the recipient through the SendGrid v3 API. Messages are
// sent in the background; delivery errors are logged.
type SendGrid struct {
	key  string
	from *sgmail.Email
	lang string
	host string

	// sent is called after each delivery attempt; tests use it to wait.
	sent func(error)
}

// NewSendGrid creates a SendGrid notifier. lang selects the message language.
func NewSendGrid(key, fromName, fromEmail, lang string) *SendGrid {
	return &SendGrid{
		key:  key,
		from: sgmail.NewEmail(fromName, fromEmail),
		lang: lang,
		host: sendgridHost,
	}
}

func (s *SendGrid) Notify(ctx context.Context, ev Event) error {
	if ev.RecipientEmail == "" {
		slog.Debug("no email address, skipping notification", "recipient_id", ev.RecipientID, "type", ev.Type)
		return nil
	}
	m := s.prepare(i18n.WithLang(context.WithoutCancel(ctx), s.lang), ev)
	go func() {
		err := s.send(m)
		if err != nil {
			slog.Error("sending notification email", "recipient_id", ev.RecipientID, "type", ev.Type, "error", err)
		}
		if s.sent != nil {
			s.sent(err)
		}
	}()
	return nil
}

func (s *SendGrid) prepare(ctx context.Context, ev Event) *sgmail.SGMailV3 {
	data := map[string]any{
		"Name":       ev.RecipientName,
		"ExamTitle":  ev.ExamTitle,
		"Percentage": ev.Percentage,
		"Letter":     ev.Letter,
	}
	p := sgmail.NewPersonalization()
	p.Subject = i18n.Td(ctx, "GradePublishedSubject", data)
	p.AddTos(sgmail.NewEmail(ev.RecipientName, ev.RecipientEmail))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", i18n.Td(ctx, "GradePublishedBody", data)))
	return m
}

func (s *SendGrid) send(m *sgmail.SGMailV3) error {
	req := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
