package email

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	mail "github.com/go-mail/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (r *recordingSender) Send(to, subject, htmlBody, textBody string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Message{To: to, Subject: subject, HTML: htmlBody, Text: textBody})
	return r.err
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestRenderLinkNotice(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	m, err := RenderLinkNotice("ana@example.com", LinkNoticeVars{
		Email:            "ana@example.com",
		NewProvider:      "google",
		PreviousProvider: "facebook",
		At:               at,
	})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", m.To)
	assert.Contains(t, m.Text, "google")
	assert.Contains(t, m.Text, "antes: facebook")
	assert.Contains(t, m.Text, "2025-03-01 12:30 UTC")
	assert.Contains(t, m.HTML, "<b>google</b>")
}

func TestRenderLinkNoticeEscapesHTML(t *testing.T) {
	m, err := RenderLinkNotice("x@example.com", LinkNoticeVars{Email: "<script>@x", NewProvider: "apple", At: time.Now()})
	require.NoError(t, err)
	assert.NotContains(t, m.HTML, "<script>")
}

func TestQueueDeliversAndDrainsOnCancel(t *testing.T) {
	s := &recordingSender{}
	q := NewQueue(s, 4)
	require.NoError(t, q.Enqueue(Message{To: "a@example.com"}))
	require.NoError(t, q.Enqueue(Message{To: "b@example.com"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	require.Eventually(t, func() bool { return s.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(&recordingSender{}, 1)
	require.NoError(t, q.Enqueue(Message{To: "a@example.com"}))
	assert.ErrorIs(t, q.Enqueue(Message{To: "b@example.com"}), ErrQueueFull)
	assert.Equal(t, 1, q.Len())
}

func TestQueueSurvivesSendErrors(t *testing.T) {
	s := &recordingSender{err: errors.New("smtp down")}
	q := NewQueue(s, 2)
	require.NoError(t, q.Enqueue(Message{To: "a@example.com"}))
	require.NoError(t, q.Enqueue(Message{To: "b@example.com"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Run(ctx))
	assert.Equal(t, 2, s.count())
}

func TestSMTPSenderBuildsDialerPerTLSMode(t *testing.T) {
	cases := []struct {
		mode  string
		port  int
		check func(t *testing.T, d *mail.Dialer)
	}{
		{"ssl", 465, func(t *testing.T, d *mail.Dialer) { assert.True(t, d.SSL) }},
		{"none", 25, func(t *testing.T, d *mail.Dialer) {
			assert.Equal(t, mail.StartTLSPolicy(mail.NoStartTLS), d.StartTLSPolicy)
			assert.False(t, d.SSL)
		}},
		{"starttls", 587, func(t *testing.T, d *mail.Dialer) { assert.Equal(t, mail.MandatoryStartTLS, d.StartTLSPolicy) }},
		// auto deja los defaults de go-mail: 465 es SSL implícito, el resto STARTTLS oportunista.
		{"", 587, func(t *testing.T, d *mail.Dialer) {
			assert.False(t, d.SSL)
			assert.Equal(t, mail.OpportunisticStartTLS, d.StartTLSPolicy)
		}},
		{"", 465, func(t *testing.T, d *mail.Dialer) { assert.True(t, d.SSL) }},
	}
	for _, tc := range cases {
		mode, check := tc.mode, tc.check
		t.Run(fmt.Sprintf("mode=%s/port=%d", mode, tc.port), func(t *testing.T) {
			s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: tc.port, From: "no-reply@beout.app", TLSMode: mode})
			var got *mail.Dialer
			s.dial = func(d *mail.Dialer, m *mail.Message) error {
				got = d
				assert.Equal(t, []string{"no-reply@beout.app"}, m.GetHeader("From"))
				return nil
			}
			require.NoError(t, s.Send("ana@example.com", "hi", "<p>hi</p>", "hi"))
			require.NotNil(t, got)
			assert.Equal(t, "smtp.example.com", got.Host)
			check(t, got)
		})
	}
}

func TestSMTPSenderWrapsDialErrors(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "no-reply@beout.app"})
	s.dial = func(*mail.Dialer, *mail.Message) error { return errors.New("refused") }
	err := s.Send("ana@example.com", "hi", "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}
