// Package session supervises the single messaging-network session: QR
// authentication, reconnect with a bounded number of attempts, operator
// logout, and the send path that every outbound message goes through.
//
// All state lives on one goroutine (Run). Transport callbacks, timers and
// operator calls are posted to it as closures, and every closure that was
// armed for an earlier session carries that session's generation so it can
// tell it is stale.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sipeed/wagate/pkg/bus"
	"github.com/sipeed/wagate/pkg/dedup"
	"github.com/sipeed/wagate/pkg/domain"
	sessiondomain "github.com/sipeed/wagate/pkg/domain/session"
	"github.com/sipeed/wagate/pkg/logger"
	"github.com/sipeed/wagate/pkg/logs"
	"github.com/sipeed/wagate/pkg/transport"
)

// Config holds the supervisor's timing policy.
type Config struct {
	QRTimeout            time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

func DefaultConfig() Config {
	return Config{
		QRTimeout:            60 * time.Second,
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// NameResolver looks up a human-readable name for a peer. It returns "" when
// the peer is unknown.
type NameResolver interface {
	NameFor(peer string) string
}

// Broadcaster receives observer events.
type Broadcaster interface {
	Broadcast(e bus.Event)
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State      sessiondomain.State           `json:"state"`
	Connection sessiondomain.ConnectionState `json:"connection"`
	Attempts   int                           `json:"reconnectAttempts"`
	// Reason is set while terminated.
	Reason sessiondomain.TerminationReason `json:"terminationReason,omitempty"`
}

const inboxSize = 256

// Supervisor owns the transport adapter and the connection state.
type Supervisor struct {
	id        domain.EntityID
	cfg       Config
	transport transport.Adapter
	clock     clockwork.Clock
	book      logs.Recorder
	observers Broadcaster
	dedup     *dedup.Deduplicator
	events    domain.EventBus
	names     NameResolver

	inbox   chan func()
	done    chan struct{}
	started atomic.Bool

	// Loop-owned. Only touched from closures running on Run's goroutine.
	ctx           context.Context
	cancelSession context.CancelFunc
	state         sessiondomain.State
	reason        sessiondomain.TerminationReason
	conn          sessiondomain.ConnectionState
	generation    uint64
	// floor is the oldest generation whose inbound messages are still accepted.
	floor      uint64
	attempts   int
	qrTimer    clockwork.Timer
	retryTimer clockwork.Timer

	// Published copy for readers on other goroutines.
	mu     sync.RWMutex
	status Status
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithConfig(cfg Config) Option                  { return func(s *Supervisor) { s.cfg = cfg } }
func WithClock(c clockwork.Clock) Option            { return func(s *Supervisor) { s.clock = c } }
func WithRecorder(r logs.Recorder) Option           { return func(s *Supervisor) { s.book = r } }
func WithBroadcaster(b Broadcaster) Option          { return func(s *Supervisor) { s.observers = b } }
func WithDeduplicator(d *dedup.Deduplicator) Option { return func(s *Supervisor) { s.dedup = d } }
func WithEventBus(b domain.EventBus) Option         { return func(s *Supervisor) { s.events = b } }
func WithNames(n NameResolver) Option               { return func(s *Supervisor) { s.names = n } }

// New creates a supervisor in StateUninitialized. Call Run to start it.
func New(adapter transport.Adapter, opts ...Option) *Supervisor {
	s := &Supervisor{
		id:        domain.NewID(),
		cfg:       DefaultConfig(),
		transport: adapter,
		clock:     clockwork.NewRealClock(),
		inbox:     make(chan func(), inboxSize),
		done:      make(chan struct{}),
		state:     sessiondomain.StateUninitialized,
		conn:      sessiondomain.Disconnected(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.book == nil {
		s.book = logs.NewBook(100, logs.WithClock(s.clock))
	}
	if s.observers == nil {
		s.observers = bus.NewBroadcaster()
	}
	if s.dedup == nil {
		s.dedup = dedup.New(s.clock, 60*time.Minute, 30*time.Minute)
	}
	s.status = Status{State: s.state, Connection: s.conn}
	return s
}

// ID identifies this supervisor in domain events.
func (s *Supervisor) ID() domain.EntityID { return s.id }

// Run opens the first session and processes events until ctx is cancelled.
// It may be called once.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session: supervisor already running")
	}
	s.ctx = ctx
	s.openSession("Starting WhatsApp session")

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			close(s.done)
			return nil
		case fn := <-s.inbox:
			fn()
		}
	}
}

func (s *Supervisor) shutdown() {
	s.stopTimers()
	s.endSession()
	s.generation++
	s.floor = s.generation
	s.transport.Disconnect()
	logger.InfoCF("session", "Supervisor stopped", map[string]interface{}{
		"state": string(s.state),
	})
}

// post queues fn for the loop. It returns false once the loop has exited.
func (s *Supervisor) post(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (s *Supervisor) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- func() { reply <- fn() }:
	case <-s.done:
		return sessiondomain.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return sessiondomain.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// SendMessage delivers text to a bare numeric peer. It fails with
// ErrNotConnected unless the session is connected and never retries.
func (s *Supervisor) SendMessage(ctx context.Context, peer, text string) (sessiondomain.Ack, error) {
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return sessiondomain.Ack{}, sessiondomain.ErrEmptyPeer
	}
	if !domain.PhoneNumber(peer).Valid() {
		return sessiondomain.Ack{}, sessiondomain.ErrInvalidPeer
	}
	if strings.TrimSpace(text) == "" {
		return sessiondomain.Ack{}, sessiondomain.ErrEmptyText
	}
	if err := s.sendable(); err != nil {
		return sessiondomain.Ack{}, err
	}

	ack, err := s.transport.Send(ctx, peer, text)
	now := s.clock.Now().UTC()
	if err != nil {
		s.book.Record(logs.LevelError, "Failed to send message to +"+peer+": "+err.Error())
		s.publishDomain(domain.EventMessageFailed, domain.OutboundMessage{
			Peer: peer, Text: text, Error: err.Error(), Timestamp: now,
		})
		return sessiondomain.Ack{}, &sessiondomain.TransportError{Peer: peer, Cause: err}
	}
	if ack.Timestamp.IsZero() {
		ack.Timestamp = now
	}

	s.book.Record(logs.LevelSuccess, "Message sent to +"+peer)
	s.observers.Broadcast(bus.MessageEvent{
		Type:      bus.TypeMessage,
		Direction: string(domain.DirectionOutbound),
		Peer:      peer,
		Text:      text,
		MessageID: ack.MessageID,
		Timestamp: ack.Timestamp,
	})
	s.publishDomain(domain.EventMessageSent, domain.OutboundMessage{
		Peer: peer, MessageID: ack.MessageID, Text: text, Timestamp: ack.Timestamp,
	})
	return ack, nil
}

// sendable reports why the published state cannot send. A session that gave
// up reconnecting says so.
func (s *Supervisor) sendable() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.status.State == sessiondomain.StateConnected:
		return nil
	case s.status.Reason == sessiondomain.ReasonReconnectExhausted:
		return fmt.Errorf("%w: %w", sessiondomain.ErrNotConnected, sessiondomain.ErrReconnectExhausted)
	default:
		return sessiondomain.ErrNotConnected
	}
}

// Disconnect logs out and moves to StateTerminated from any state, cancelling
// pending QR and reconnect timers. It is a no-op once terminated. A failed
// logout is returned but the session is terminated regardless.
func (s *Supervisor) Disconnect(ctx context.Context) error {
	return s.call(ctx, func() error {
		if !s.state.Live() {
			return nil
		}
		return s.terminate(sessiondomain.ReasonOperator, true)
	})
}

// RefreshQR logs out (when connected) and restarts authentication, which
// produces a fresh QR challenge. From StateTerminated it is the manual
// restart. The reconnect counter starts over.
func (s *Supervisor) RefreshQR(ctx context.Context) error {
	return s.call(ctx, func() error {
		switch s.state {
		case sessiondomain.StateAwaitingScan, sessiondomain.StateConnected, sessiondomain.StateTerminated:
		default:
			return sessiondomain.ErrRestartNotAllowed
		}

		s.stopTimers()
		s.endSession()
		s.generation++
		s.floor = s.generation
		if s.state == sessiondomain.StateConnected {
			if err := s.transport.Logout(s.ctx); err != nil {
				logger.WarnCF("session", "Logout before refresh failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			s.conn = sessiondomain.Disconnected()
			s.publish()
			s.observers.Broadcast(bus.Connection(false, ""))
		}
		s.transport.Disconnect()
		s.conn = sessiondomain.Disconnected()
		s.attempts = 0
		s.openSession("Restarting WhatsApp session at operator request")
		return nil
	})
}

// Status returns the published connection state.
func (s *Supervisor) Status() sessiondomain.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Connection.Clone()
}

// State returns the published lifecycle state.
func (s *Supervisor) State() sessiondomain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.State
}

// Snapshot returns state, connection and reconnect attempts together.
func (s *Supervisor) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Connection = st.Connection.Clone()
	return st
}

// ReplayEvents is the catch-up sequence for a newly attached observer.
func (s *Supervisor) ReplayEvents() []bus.Event {
	st := s.Snapshot()
	events := []bus.Event{
		bus.State(string(st.State), "", st.Attempts),
		bus.Connection(st.Connection.IsConnected, st.Connection.Peer()),
	}
	if st.Connection.HasQR() {
		events = append(events, bus.QR(*st.Connection.QRChallenge, st.Connection.QRSecondsLeft(s.clock.Now())))
	}
	return events
}
