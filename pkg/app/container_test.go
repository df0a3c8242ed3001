package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/wagate/pkg/bus"
	"github.com/sipeed/wagate/pkg/config"
	"github.com/sipeed/wagate/pkg/dispatch"
	"github.com/sipeed/wagate/pkg/domain"
	contactdomain "github.com/sipeed/wagate/pkg/domain/contact"
	sessiondomain "github.com/sipeed/wagate/pkg/domain/session"
	"github.com/sipeed/wagate/pkg/transport"
	"github.com/sipeed/wagate/pkg/transport/transporttest"
)

type hookRecorder struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	h.mu.Lock()
	h.bodies = append(h.bodies, body)
	h.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (h *hookRecorder) all() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.bodies...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Logs.DBPath = filepath.Join(dir, "gateway.db")
	cfg.Session.StorePath = filepath.Join(dir, "session.db")
	cfg.Templates.Dirs = nil
	return cfg
}

type stack struct {
	ctx   context.Context
	clock *clockwork.FakeClock
	tr    *transporttest.Transport
	c     *Container
	done  chan error
}

func startStack(t *testing.T, cfg *config.Config, opts ...Option) *stack {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC))
	tr := transporttest.New()
	tr.Now = clock.Now

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	opts = append([]Option{WithClock(clock)}, opts...)
	c, err := NewContainer(ctx, cfg, tr, opts...)
	require.NoError(t, err)

	s := &stack{ctx: ctx, clock: clock, tr: tr, c: c, done: make(chan error, 1)}
	go func() { s.done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-s.done
		c.Close()
	})
	require.NoError(t, tr.WaitConnect(ctx, 1))
	return s
}

func (s *stack) connect(t *testing.T, peer string) {
	t.Helper()
	s.tr.EmitOpen(peer)
	require.Eventually(t, func() bool {
		return s.c.Session.State() == sessiondomain.StateConnected
	}, 2*time.Second, time.Millisecond)
}

func TestContainerEndToEnd(t *testing.T) {
	hook := &hookRecorder{}
	srv := httptest.NewServer(hook)
	t.Cleanup(srv.Close)

	cfg := testConfig(t)
	cfg.Webhook.URL = srv.URL
	cfg.Webhook.Active = true
	s := startStack(t, cfg)
	s.connect(t, "5511000000000")

	ana, err := s.c.Contacts.Create(NewContact{Phone: "5511999990000", Name: "Ana"})
	require.NoError(t, err)

	_, err = s.c.Dispatcher.Enqueue([]string{string(ana.ID())}, "Olá {name}", dispatch.Options{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(s.tr.Sent()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, "Olá Ana", s.tr.Sent()[0].Text)
	assert.Equal(t, "5511999990000", s.tr.Sent()[0].Peer)
	require.Eventually(t, func() bool {
		got, err := s.c.Contacts.Get(ana.ID())
		return err == nil && got.Status == contactdomain.StatusContacted
	}, 2*time.Second, time.Millisecond)

	s.tr.Emit(transport.Message{
		Peer:      "5511999990000",
		ID:        "IN1",
		Timestamp: s.clock.Now(),
		Text:      "oi, tudo bem?",
		PushName:  "Ana S.",
	})

	require.Eventually(t, func() bool { return len(hook.all()) == 1 }, 2*time.Second, time.Millisecond)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(hook.all()[0], &payload))
	assert.Equal(t, "5511999990000", payload["sender"])
	assert.Equal(t, "oi, tudo bem?", payload["message"])
	assert.Equal(t, "IN1", payload["messageId"])

	require.Eventually(t, func() bool {
		got, err := s.c.Contacts.Get(ana.ID())
		return err == nil && got.Status == contactdomain.StatusResponded
	}, 2*time.Second, time.Millisecond)

	archived, err := s.c.Store.RecentMessages(s.ctx, "5511999990000", 10)
	require.NoError(t, err)
	require.Len(t, archived, 2)
	assert.Equal(t, domain.DirectionInbound, archived[0].Direction)
	assert.Equal(t, domain.DirectionOutbound, archived[1].Direction)

	logs := s.c.Book.Recent(0)
	var messages []string
	for _, e := range logs {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "Connected to WhatsApp as +5511000000000")
	assert.Contains(t, messages, "Message from Ana: oi, tudo bem?")
}

func TestInactiveWebhookIsSkipped(t *testing.T) {
	hook := &hookRecorder{}
	srv := httptest.NewServer(hook)
	t.Cleanup(srv.Close)

	cfg := testConfig(t)
	cfg.Webhook.URL = srv.URL
	s := startStack(t, cfg)
	s.connect(t, "5511000000000")

	s.tr.Emit(transport.Message{Peer: "5521988887777", ID: "IN1", Timestamp: s.clock.Now(), Text: "oi"})

	require.Eventually(t, func() bool {
		archived, err := s.c.Store.RecentMessages(s.ctx, "", 10)
		return err == nil && len(archived) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Zero(t, s.c.Webhook.Len())
	assert.Empty(t, hook.all())
}

func TestTerminalQR(t *testing.T) {
	var mu sync.Mutex
	var out bytes.Buffer
	w := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return out.Write(p)
	})

	s := startStack(t, testConfig(t), WithQROutput(w))
	require.Eventually(t, func() bool { return s.c.Observers.Count() == 1 }, 2*time.Second, time.Millisecond)
	s.tr.EmitQR("2@wagate-test")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return bytes.Contains(out.Bytes(), []byte("Scan this QR code with WhatsApp (expires in 60s)"))
	}, 2*time.Second, time.Millisecond)
}

func TestLogHistorySurvivesRestart(t *testing.T) {
	cfg := testConfig(t)

	clock := clockwork.NewFakeClock()
	first, err := NewContainer(context.Background(), cfg, transporttest.New(), WithClock(clock))
	require.NoError(t, err)
	first.Book.Warning("Webhook returned status 502")
	first.Close()

	second, err := NewContainer(context.Background(), cfg, transporttest.New(), WithClock(clock))
	require.NoError(t, err)
	defer second.Close()

	entries := second.Book.Recent(0)
	require.Len(t, entries, 1)
	assert.Equal(t, "Webhook returned status 502", entries[0].Message)
}

func TestLogsReachObservers(t *testing.T) {
	s := startStack(t, testConfig(t))
	obs := s.c.Observers.Attach("test")

	s.c.Book.Info("hello observers")
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-obs.Events():
			if l, ok := ev.(bus.LogEvent); ok && l.Message == "hello observers" {
				return
			}
		case <-deadline:
			t.Fatal("log event not broadcast")
		}
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
