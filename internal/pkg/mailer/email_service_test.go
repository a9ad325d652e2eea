package mailer

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"watermark-gateway/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type outbox struct {
	sent []*gomail.Message
	err  error
}

func (o *outbox) send(m ...*gomail.Message) error {
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, m...)
	return nil
}

func TestAlertOnFailedSession(t *testing.T) {
	box := &outbox{}
	svc := newAlertService(box.send, "gateway@example.com", []string{"ops@example.com", "oncall@example.com"})

	err := svc.Publish(context.Background(), events.SessionEvent{
		SessionID:  "abc",
		Status:     "failed",
		Error:      "embedding failed: backend returned 503 <html>",
		OccurredAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, box.sent, 1)

	m := box.sent[0]
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"Watermarking failed for session abc"}, m.GetHeader("Subject"))

	var raw bytes.Buffer
	_, err = m.WriteTo(&raw)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), "backend returned 503 &lt;html&gt;")
}

func TestAlertIgnoresOtherStatuses(t *testing.T) {
	box := &outbox{}
	svc := newAlertService(box.send, "gateway@example.com", []string{"ops@example.com"})

	for _, status := range []string{"uploading", "processing", "completed"} {
		require.NoError(t, svc.Publish(context.Background(), events.SessionEvent{SessionID: "abc", Status: status}))
	}
	assert.Empty(t, box.sent)
}

func TestAlertSendFailure(t *testing.T) {
	box := &outbox{err: errors.New("dial tcp: connection refused")}
	svc := newAlertService(box.send, "gateway@example.com", []string{"ops@example.com"})

	err := svc.Publish(context.Background(), events.SessionEvent{SessionID: "abc", Status: "failed", Error: "boom"})
	assert.ErrorContains(t, err, "connection refused")
}

func TestAlertGivesUpOnHungServer(t *testing.T) {
	hang := make(chan struct{})
	defer close(hang)
	svc := newAlertService(func(...*gomail.Message) error {
		<-hang
		return nil
	}, "gateway@example.com", []string{"ops@example.com"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := svc.Publish(ctx, events.SessionEvent{SessionID: "abc", Status: "failed", Error: "boom"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
