// Package transporttest provides a scripted transport.Adapter for tests.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sessiondomain "github.com/sipeed/wagate/pkg/domain/session"
	"github.com/sipeed/wagate/pkg/transport"
)

// Sent records one Send call.
type Sent struct {
	Peer string
	Text string
	At   time.Time
}

// Transport is an in-memory adapter. Each Connect call opens a new session
// whose sink the test drives with Emit* helpers.
type Transport struct {
	mu sync.Mutex

	sinks       []transport.Sink
	connects    int
	disconnects int
	logouts     int
	clears      int
	sent        []Sent

	connectErr error
	sendErr    error
	// Now stamps Sent records; defaults to time.Now. Set before use.
	Now func() time.Time

	connected chan int
}

func New() *Transport {
	return &Transport{connected: make(chan int, 64)}
}

var _ transport.Adapter = (*Transport)(nil)

func (t *Transport) Connect(ctx context.Context, sink transport.Sink) error {
	t.mu.Lock()
	if err := t.connectErr; err != nil {
		t.connectErr = nil
		t.connects++
		n := t.connects
		t.mu.Unlock()
		t.notify(n)
		return err
	}
	t.sinks = append(t.sinks, sink)
	t.connects++
	n := t.connects
	t.mu.Unlock()
	t.notify(n)
	return nil
}

// FailNextConnect makes the next Connect call return err.
func (t *Transport) FailNextConnect(err error) {
	t.mu.Lock()
	t.connectErr = err
	t.mu.Unlock()
}

// FailSends makes every Send return err until called again with nil.
func (t *Transport) FailSends(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

func (t *Transport) notify(n int) {
	select {
	case t.connected <- n:
	default:
	}
}

func (t *Transport) Send(ctx context.Context, peer, text string) (sessiondomain.Ack, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if t.Now != nil {
		now = t.Now()
	}
	if t.sendErr != nil {
		return sessiondomain.Ack{}, t.sendErr
	}
	t.sent = append(t.sent, Sent{Peer: peer, Text: text, At: now})
	return sessiondomain.Ack{MessageID: fmt.Sprintf("MSG%d", len(t.sent)), Timestamp: now}, nil
}

func (t *Transport) Logout(ctx context.Context) error {
	t.mu.Lock()
	t.logouts++
	t.mu.Unlock()
	return nil
}

func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.disconnects++
	t.mu.Unlock()
}

func (t *Transport) ClearCredentials(ctx context.Context) error {
	t.mu.Lock()
	t.clears++
	t.mu.Unlock()
	return nil
}

// WaitConnect blocks until the n-th Connect call (1-based) has happened.
func (t *Transport) WaitConnect(ctx context.Context, n int) error {
	for {
		if t.Connects() >= n {
			return nil
		}
		select {
		case <-t.connected:
		case <-ctx.Done():
			return fmt.Errorf("waiting for connect #%d (have %d): %w", n, t.Connects(), ctx.Err())
		}
	}
}

func (t *Transport) sink() (transport.Sink, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sinks) == 0 {
		return nil, errors.New("transporttest: no session opened")
	}
	return t.sinks[len(t.sinks)-1], nil
}

// Emit sends ev to the latest session.
func (t *Transport) Emit(ev transport.Event) {
	s, err := t.sink()
	if err != nil {
		panic(err)
	}
	s(ev)
}

// EmitTo sends ev to the session opened by the n-th successful Connect
// (1-based), which lets tests replay events from stale sessions.
func (t *Transport) EmitTo(n int, ev transport.Event) {
	t.mu.Lock()
	s := t.sinks[n-1]
	t.mu.Unlock()
	s(ev)
}

func (t *Transport) EmitQR(code string)  { t.Emit(transport.QR{Code: code}) }
func (t *Transport) EmitOpen(peer string) { t.Emit(transport.Open{PeerIdentity: peer}) }

func (t *Transport) EmitClose(loggedOut bool) {
	t.Emit(transport.Close{Cause: transport.ErrConnectionLost, LoggedOut: loggedOut})
}

func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

func (t *Transport) Sessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sinks)
}

func (t *Transport) Disconnects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnects
}

func (t *Transport) Logouts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.logouts
}

func (t *Transport) Clears() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clears
}

func (t *Transport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Sent, len(t.sent))
	copy(out, t.sent)
	return out
}
