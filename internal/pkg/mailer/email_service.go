package mailer

import (
	"context"
	"fmt"
	"html"

	"watermark-gateway/pkg/events"

	"gopkg.in/gomail.v2"
)

// IAlertService mails operators when an ingestion session fails. It satisfies
// the consumer's event sink contract.
type IAlertService interface {
	Publish(ctx context.Context, event events.Event) error
}

type alertService struct {
	send        func(m ...*gomail.Message) error
	senderEmail string
	recipients  []string
}

func NewAlertService(host string, port int, username, password, senderEmail string, recipients []string) IAlertService {
	d := gomail.NewDialer(host, port, username, password)
	return newAlertService(d.DialAndSend, senderEmail, recipients)
}

func newAlertService(send func(m ...*gomail.Message) error, senderEmail string, recipients []string) *alertService {
	return &alertService{
		send:        send,
		senderEmail: senderEmail,
		recipients:  recipients,
	}
}

// Publish ignores everything except failed session events.
func (s *alertService) Publish(ctx context.Context, event events.Event) error {
	session, ok := event.(events.SessionEvent)
	if !ok || session.Status != "failed" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.senderEmail)
	m.SetHeader("To", s.recipients...)
	m.SetHeader("Subject", "Watermarking failed for session "+session.SessionID)

	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<h2>Ingestion failed</h2>
			<p>Session: <code>%s</code></p>
			<p>At: %s</p>
			<pre style="background: #f6f6f6; padding: 10px;">%s</pre>
		</div>
	`, html.EscapeString(session.SessionID), session.OccurredAt.UTC().Format("2006-01-02 15:04:05 MST"), html.EscapeString(session.Error))

	m.SetBody("text/html", body)

	// gomail has no context support; an unresponsive SMTP server is abandoned
	// at the deadline and the send finishes in the background.
	done := make(chan error, 1)
	go func() { done <- s.send(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send failure alert for %s: %w", session.SessionID, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send failure alert for %s: %w", session.SessionID, ctx.Err())
	}
}
