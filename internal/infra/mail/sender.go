package mail

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"

	"gopkg.in/gomail.v2"

	"github.com/xavierca1/lead-pipeline/internal/infra/queue"
)

//go:embed templates/*.html
var templatesFS embed.FS

var dealWonTemplate = template.Must(template.ParseFS(templatesFS, "templates/deal_won.html"))

func NewEmailSender(host string, port int, user, password, from string, to []string) *EmailSender {
	return NewEmailSenderWithDialer(gomail.NewDialer(host, port, user, password), from, to)
}

func NewEmailSenderWithDialer(d Dialer, from string, to []string) *EmailSender {
	return &EmailSender{From: from, To: to, dialer: d}
}

// SendDealWon notifies the sales inbox that a lead reached "Venta ganada".
func (s *EmailSender) SendDealWon(ctx context.Context, event queue.StageChangedEvent) error {
	if len(s.To) == 0 {
		return errors.New("no deal notification recipients configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := renderDealWon(DealWonEmailData{
		Name:             event.Name,
		Phone:            event.Phone,
		PropertyInterest: event.PropertyInterest,
		FromStage:        event.FromStage,
		ChangedAt:        event.ChangedAt.Format("02/01/2006 15:04 MST"),
	})
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", s.To...)
	m.SetHeader("Subject", fmt.Sprintf("Venta ganada: %s", event.Name))
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send deal email: %w", err)
	}
	return nil
}

func renderDealWon(data DealWonEmailData) (string, error) {
	var body bytes.Buffer
	if err := dealWonTemplate.Execute(&body, data); err != nil {
		return "", fmt.Errorf("render deal email: %w", err)
	}
	return body.String(), nil
}
