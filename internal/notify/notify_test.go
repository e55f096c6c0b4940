package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

type stubChannel struct {
	name string
	err  error
	sent []Message
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Send(_ context.Context, msg Message) error {
	s.sent = append(s.sent, msg)
	return s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchIsolatesFailures(t *testing.T) {
	ok := &stubChannel{name: "log"}
	broken := &stubChannel{name: "email", err: errors.New("relay down")}
	reg := NewRegistry(quietLogger(), ok, broken, nil)

	statuses := reg.Dispatch(context.Background(), []string{"email", "log", "sms"}, Message{Subject: "s", Body: "b"})

	assert.Equal(t, map[string]string{"email": StatusFailed, "log": StatusSent, "sms": StatusFailed}, statuses)
	assert.Len(t, ok.sent, 1)
	assert.Equal(t, []string{"email", "log"}, reg.Names())
}

func TestEmailChannel(t *testing.T) {
	ch := NewEmailChannel(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "alerts@example.com"})

	var sent *mail.Msg
	ch.sendMail = func(_ context.Context, m *mail.Msg) error {
		sent = m
		return nil
	}

	err := ch.Send(context.Background(), Message{Subject: "Traffic\ndrop", Body: "line1\nline2", Recipients: []string{"ops@example.com"}})
	require.NoError(t, err)
	require.NotNil(t, sent)

	to, err := sent.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@example.com"}, to)
	assert.Equal(t, []string{"Traffic drop"}, sent.GetGenHeader(mail.HeaderSubject))

	var raw bytes.Buffer
	_, err = sent.WriteTo(&raw)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), "alerts@example.com")
	assert.Contains(t, raw.String(), "text/plain")
	assert.Contains(t, raw.String(), "line1")

	t.Run("requires recipients", func(t *testing.T) {
		assert.Error(t, ch.Send(context.Background(), Message{Subject: "x"}))
	})

	t.Run("rejects a malformed recipient before sending", func(t *testing.T) {
		sent = nil
		assert.Error(t, ch.Send(context.Background(), Message{Recipients: []string{"not an address"}}))
		assert.Nil(t, sent)
	})

	t.Run("relay errors surface", func(t *testing.T) {
		ch.sendMail = func(context.Context, *mail.Msg) error { return errors.New("421") }
		err := ch.Send(context.Background(), Message{Recipients: []string{"a@b.c"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "smtp.example.com:587")
	})

	t.Run("unreachable relay fails", func(t *testing.T) {
		live := NewEmailChannel(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "alerts@example.com"})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.Error(t, live.Send(ctx, Message{Subject: "x", Body: "y", Recipients: []string{"ops@example.com"}}))
	})
}

func TestWebhookChannel(t *testing.T) {
	var received Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL)
	require.NoError(t, ch.Send(context.Background(), Message{Subject: "hello", Body: "world", Fields: map[string]any{"metric": "page_views"}}))
	assert.Equal(t, "hello", received.Subject)
	assert.Equal(t, "page_views", received.Fields["metric"])

	t.Run("non-2xx is an error", func(t *testing.T) {
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer failing.Close()
		assert.Error(t, NewWebhookChannel(failing.URL).Send(context.Background(), Message{}))
	})
}
