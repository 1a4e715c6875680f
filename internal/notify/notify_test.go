package notify

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/config"
)

func TestWebhookSender_PostsJSON(t *testing.T) {
	t.Parallel()

	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL).Send(context.Background(), "mod@x.io", "New ticket", "Docker build fails")
	require.NoError(t, err)
	assert.Equal(t, "mod@x.io", got.To)
	assert.Equal(t, "New ticket", got.Subject)
	assert.Contains(t, got.Text, "Docker build fails")
}

func TestWebhookSender_Non2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL).Send(context.Background(), "a@x.io", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookSender_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	assert.NoError(t, NewWebhookSender("").Send(context.Background(), "a@x.io", "s", "b"))
}

func TestSMTPSender_BuildsMessage(t *testing.T) {
	t.Parallel()

	s := NewSMTPSender(config.NotificationConfig{
		SMTPHost:  "mail.internal",
		SMTPPort:  2525,
		EmailFrom: "desk@x.io",
	})
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	s.sendMail = func(_ context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		assert.Nil(t, a)
		assert.Equal(t, "desk@x.io", from)
		return nil
	}

	require.NoError(t, s.Send(context.Background(), "mod@x.io", "Assigned", "line one\nline two"))
	assert.Equal(t, "mail.internal:2525", gotAddr)
	assert.Equal(t, []string{"mod@x.io"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Assigned\r\n")
	assert.Contains(t, gotMsg, "line one\r\nline two")
}

func TestSMTPSender_RejectsHeaderInjection(t *testing.T) {
	t.Parallel()

	s := NewSMTPSender(config.NotificationConfig{SMTPHost: "h", SMTPPort: 25, EmailFrom: "f@x.io"})
	s.sendMail = func(context.Context, string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("sendMail must not be called")
		return nil
	}
	assert.Error(t, s.Send(context.Background(), "a@x.io\r\nBcc: evil@x.io", "s", "b"))
}

func TestSMTPSender_EncodesNonASCIISubject(t *testing.T) {
	t.Parallel()

	s := NewSMTPSender(config.NotificationConfig{SMTPHost: "h", SMTPPort: 25, EmailFrom: "f@x.io"})
	var gotMsg string
	s.sendMail = func(_ context.Context, _ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotMsg = string(msg)
		return nil
	}

	require.NoError(t, s.Send(context.Background(), "a@x.io", "Ticket assigned: Café login ✓", "b"))
	assert.Contains(t, gotMsg, "Subject: =?utf-8?q?")
	assert.NotContains(t, gotMsg, "Café")

	var dec mime.WordDecoder
	line := gotMsg[strings.Index(gotMsg, "Subject: ")+len("Subject: "):]
	line = line[:strings.Index(line, "\r\n")]
	decoded, err := dec.DecodeHeader(line)
	require.NoError(t, err)
	assert.Equal(t, "Ticket assigned: Café login ✓", decoded)
}

func TestSMTPSender_SilentRelayHonoursDeadline(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var held []net.Conn
	var mu sync.Mutex
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			held = append(held, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range held {
			_ = c.Close()
		}
	})

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)
	s := NewSMTPSender(config.NotificationConfig{SMTPHost: host, SMTPPort: portNum, EmailFrom: "f@x.io"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = s.Send(ctx, "a@x.io", "s", "b")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestMulti_JoinsErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	ok := SenderFunc(func(context.Context, string, string, string) error { calls++; return nil })
	boom := SenderFunc(func(context.Context, string, string, string) error { calls++; return errors.New("boom") })

	err := Multi{boom, ok}.Send(context.Background(), "a@x.io", "s", "b")
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestNew_SelectsTransports(t *testing.T) {
	t.Parallel()

	logger := zap.NewNop()
	assert.IsType(t, &LogSender{}, New(config.NotificationConfig{}, logger))

	s := New(config.NotificationConfig{SMTPHost: "h", EmailFrom: "f@x.io", WebhookURL: "http://hook"}, logger)
	multi, ok := s.(Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)
}
