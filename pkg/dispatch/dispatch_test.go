package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sessiondomain "github.com/sipeed/wagate/pkg/domain/session"
	"github.com/sipeed/wagate/pkg/logs"
	"github.com/sipeed/wagate/pkg/templates"
)

type sentMsg struct {
	peer string
	text string
	at   time.Time
}

type fakeSender struct {
	clock clockwork.Clock

	mu    sync.Mutex
	calls []sentMsg
	fail  map[string]error
}

func (f *fakeSender) SendMessage(ctx context.Context, peer, text string) (sessiondomain.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	f.calls = append(f.calls, sentMsg{peer: peer, text: text, at: now})
	if err := f.fail[peer]; err != nil {
		return sessiondomain.Ack{}, err
	}
	return sessiondomain.Ack{MessageID: fmt.Sprintf("M%d", len(f.calls)), Timestamp: now}, nil
}

func (f *fakeSender) sent() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.calls...)
}

type fakeDirectory struct {
	mu        sync.Mutex
	known     map[string]Recipient
	delivered []string
}

func (d *fakeDirectory) Resolve(ctx context.Context, target string) (Recipient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.known[target]
	if !ok {
		return Recipient{}, ErrUnknownTarget
	}
	return r, nil
}

func (d *fakeDirectory) MarkDelivered(ctx context.Context, r Recipient, text string, ack sessiondomain.Ack) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, r.Peer)
	return nil
}

func (d *fakeDirectory) deliveredPeers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.delivered...)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	clock  *clockwork.FakeClock
	sender *fakeSender
	dir    *fakeDirectory
	book   *logs.Book
	d      *Dispatcher
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 4, 7, 10, 0, 0, 0, time.UTC))
	f := &fixture{
		t:      t,
		clock:  clock,
		sender: &fakeSender{clock: clock, fail: map[string]error{}},
		dir: &fakeDirectory{known: map[string]Recipient{
			"a": {ContactID: "a", Peer: "5511900000001", Name: "Ana"},
			"b": {ContactID: "b", Peer: "5511900000002", Name: "Bruno"},
			"c": {ContactID: "c", Peer: "5511900000003", Name: "Carla"},
		}},
		book: logs.NewBook(100, logs.WithClock(clock)),
	}
	f.d = New(cfg, f.sender, f.dir, clock, f.book)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	f.ctx = ctx
	done := make(chan struct{})
	go func() {
		f.d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func (f *fixture) waitSent(n int) {
	f.t.Helper()
	require.Eventually(f.t, func() bool { return len(f.sender.sent()) == n }, 2*time.Second, time.Millisecond,
		"sent %d, want %d", len(f.sender.sent()), n)
}

func (f *fixture) advance(d time.Duration) {
	f.t.Helper()
	require.NoError(f.t, f.clock.BlockUntilContext(f.ctx, 1))
	f.clock.Advance(d)
}

func TestSpacingBetweenSends(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	start := f.clock.Now()

	receipt, err := f.d.Enqueue([]string{"a", "b", "c"}, "Olá {name}", Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, receipt.Accepted)

	f.waitSent(1)
	f.advance(8 * time.Second)
	f.waitSent(2)
	f.advance(8 * time.Second)
	f.waitSent(3)

	got := f.sender.sent()
	assert.Equal(t, []time.Duration{0, 8 * time.Second, 16 * time.Second},
		[]time.Duration{got[0].at.Sub(start), got[1].at.Sub(start), got[2].at.Sub(start)})
	assert.Equal(t, []string{"Olá Ana", "Olá Bruno", "Olá Carla"}, []string{got[0].text, got[1].text, got[2].text})
	require.Eventually(t, func() bool { return len(f.dir.deliveredPeers()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, f.d.Len())
}

func TestBatchPause(t *testing.T) {
	f := newFixture(t, Config{MessageDelay: time.Second, BatchSize: 2, BatchPause: 30 * time.Second})
	start := f.clock.Now()

	_, err := f.d.Enqueue([]string{"a", "b", "c"}, "hi", Options{})
	require.NoError(t, err)

	f.waitSent(1)
	f.advance(time.Second)
	f.waitSent(2)

	// The limiter alone would allow the third send at +2s.
	f.advance(29 * time.Second)
	assert.Len(t, f.sender.sent(), 2)
	f.clock.Advance(time.Second)
	f.waitSent(3)

	got := f.sender.sent()
	assert.Equal(t, 31*time.Second, got[2].at.Sub(start))

	var pauses int
	for _, e := range f.book.Recent(0) {
		if e.Message == "Sent a batch of 2 messages, pausing for 30s" {
			pauses++
		}
	}
	assert.Equal(t, 1, pauses)
}

func TestFailedSendIsNotRetried(t *testing.T) {
	f := newFixture(t, Config{MessageDelay: time.Second, BatchSize: 10, BatchPause: time.Minute})
	f.sender.mu.Lock()
	f.sender.fail["5511900000002"] = sessiondomain.ErrNotConnected
	f.sender.mu.Unlock()

	_, err := f.d.Enqueue([]string{"a", "b", "c"}, "hi", Options{})
	require.NoError(t, err)

	f.waitSent(1)
	f.advance(time.Second)
	f.waitSent(2)
	f.advance(time.Second)
	f.waitSent(3)

	peers := []string{}
	for _, s := range f.sender.sent() {
		peers = append(peers, s.peer)
	}
	assert.Equal(t, []string{"5511900000001", "5511900000002", "5511900000003"}, peers)
	require.Eventually(t, func() bool { return len(f.dir.deliveredPeers()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(2), f.d.Stats().Sent)
	assert.Equal(t, int64(1), f.d.Stats().Failed)
	assert.Equal(t, []string{"5511900000001", "5511900000003"}, f.dir.deliveredPeers())
}

func TestTransportFailureIsLoggedBySupervisorOnly(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.sender.mu.Lock()
	f.sender.fail["5511900000001"] = &sessiondomain.TransportError{Peer: "5511900000001", Cause: errors.New("boom")}
	f.sender.mu.Unlock()

	_, err := f.d.Enqueue([]string{"a"}, "hi", Options{})
	require.NoError(t, err)
	f.waitSent(1)
	require.Eventually(t, func() bool { return f.d.Stats().Failed == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, f.book.Len())
}

func TestUnknownTargetIsDroppedWithoutDelay(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, err := f.d.Enqueue([]string{"ghost", "a"}, "hi", Options{})
	require.NoError(t, err)

	f.waitSent(1)
	assert.Equal(t, "5511900000001", f.sender.sent()[0].peer)
	assert.Equal(t, int64(1), f.d.Stats().Dropped)

	entries := f.book.Recent(0)
	require.NotEmpty(t, entries)
	assert.Equal(t, "Contact ghost not found, message dropped", entries[0].Message)
	assert.Equal(t, logs.LevelWarning, entries[0].Level)
}

func TestBusinessHoursNotice(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, err := f.d.Enqueue([]string{"a"}, "Oi {name}", Options{BusinessHours: true})
	require.NoError(t, err)
	f.waitSent(1)

	assert.Equal(t, templates.BusinessNotice+"\n\nOi Ana", f.sender.sent()[0].text)
}

func TestEnqueueValidationAndPriority(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := New(DefaultConfig(), &fakeSender{clock: clock}, &fakeDirectory{}, clock, nil)

	_, err := d.Enqueue(nil, "hi", Options{})
	assert.ErrorIs(t, err, ErrNoTargets)
	_, err = d.Enqueue([]string{"a"}, "", Options{})
	assert.ErrorIs(t, err, ErrEmptyPayload)

	receipt, err := d.Enqueue([]string{"x", "y", "z"}, "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, Receipt{Accepted: 3, Queued: 3}, receipt)

	pending := d.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{pending[0].Priority, pending[1].Priority, pending[2].Priority})
	assert.Equal(t, "x", pending[0].Target)
}
