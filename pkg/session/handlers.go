package session

import (
	"context"
	"fmt"

	"github.com/sipeed/wagate/pkg/bus"
	"github.com/sipeed/wagate/pkg/dedup"
	"github.com/sipeed/wagate/pkg/domain"
	sessiondomain "github.com/sipeed/wagate/pkg/domain/session"
	"github.com/sipeed/wagate/pkg/logger"
	"github.com/sipeed/wagate/pkg/logs"
	"github.com/sipeed/wagate/pkg/transport"
)

// openSession starts a new transport session under a fresh generation. The
// session gets its own context, cancelled by endSession.
func (s *Supervisor) openSession(message string) {
	s.endSession()
	s.generation++
	s.reason = ""
	gen := s.generation
	if !s.transition(sessiondomain.StateAuthenticating, logs.LevelInfo, message) {
		return
	}

	sink := func(ev transport.Event) {
		s.post(func() { s.handle(gen, ev) })
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelSession = cancel
	go func() {
		if err := s.transport.Connect(ctx, sink); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.post(func() { s.handle(gen, transport.Close{Cause: err}) })
		}
	}()
}

// endSession cancels the context of the current session, which aborts a
// Connect that is still in flight.
func (s *Supervisor) endSession() {
	if s.cancelSession != nil {
		s.cancelSession()
		s.cancelSession = nil
	}
}

// handle dispatches one transport event. Inbound messages are accepted from
// any session opened since the last terminate or refresh; everything else
// must belong to the current one.
func (s *Supervisor) handle(gen uint64, ev transport.Event) {
	if m, ok := ev.(transport.Message); ok {
		if gen < s.floor || s.state == sessiondomain.StateTerminated {
			logger.DebugCF("session", "Dropping message from closed session", map[string]interface{}{
				"message_id": m.ID,
				"generation": gen,
				"state":      string(s.state),
			})
			return
		}
		s.onMessage(m)
		return
	}
	if gen != s.generation {
		logger.DebugCF("session", "Ignoring event from stale session", map[string]interface{}{
			"event":      fmt.Sprintf("%T", ev),
			"generation": gen,
			"current":    s.generation,
		})
		return
	}

	switch e := ev.(type) {
	case transport.QR:
		s.onQR(gen, e)
	case transport.Open:
		s.onOpen(e)
	case transport.Close:
		s.onClose(e)
	}
}

func (s *Supervisor) onQR(gen uint64, e transport.QR) {
	now := s.clock.Now()
	switch s.state {
	case sessiondomain.StateAuthenticating:
		s.conn = sessiondomain.WithQR(e.Code, now.Add(s.cfg.QRTimeout))
		s.armQRTimer(gen)
		s.transition(sessiondomain.StateAwaitingScan, logs.LevelInfo, "QR code generated, scan it with WhatsApp")
	case sessiondomain.StateAwaitingScan:
		// The network rotates codes; the deadline of the first one stands.
		code := e.Code
		s.conn.QRChallenge = &code
		s.publish()
	default:
		return
	}
	s.observers.Broadcast(bus.QR(e.Code, s.conn.QRSecondsLeft(now)))
}

func (s *Supervisor) armQRTimer(gen uint64) {
	if s.qrTimer != nil {
		s.qrTimer.Stop()
	}
	s.qrTimer = s.clock.AfterFunc(s.cfg.QRTimeout, func() {
		s.post(func() { s.onQRExpired(gen) })
	})
}

func (s *Supervisor) onQRExpired(gen uint64) {
	if gen != s.generation || s.state != sessiondomain.StateAwaitingScan {
		return
	}
	s.qrTimer = nil
	s.observers.Broadcast(bus.QRTimeout())
	s.book.Record(logs.LevelWarning, "QR code expired without being scanned")

	s.endSession()
	s.transport.Disconnect()
	s.conn = sessiondomain.Disconnected()
	s.openSession("Requesting a new QR code")
}

func (s *Supervisor) onOpen(e transport.Open) {
	if s.state != sessiondomain.StateAuthenticating && s.state != sessiondomain.StateAwaitingScan {
		return
	}
	s.stopTimers()
	s.attempts = 0
	s.conn = sessiondomain.Connected(e.PeerIdentity)
	s.transition(sessiondomain.StateConnected, logs.LevelSuccess, "Connected to WhatsApp as +"+e.PeerIdentity)
	s.observers.Broadcast(bus.Connection(true, e.PeerIdentity))
	s.publishDomain(domain.EventSessionConnected, map[string]string{"peer": e.PeerIdentity})
}

func (s *Supervisor) onClose(e transport.Close) {
	switch s.state {
	case sessiondomain.StateAuthenticating, sessiondomain.StateAwaitingScan, sessiondomain.StateConnected:
	default:
		return
	}
	s.stopTimers()
	s.endSession()

	cause := "connection closed"
	if e.Cause != nil {
		cause = e.Cause.Error()
	}
	s.conn = sessiondomain.Disconnected()
	s.transition(sessiondomain.StateDisconnected, logs.LevelWarning, "Disconnected from WhatsApp: "+cause)
	s.observers.Broadcast(bus.Connection(false, ""))
	s.publishDomain(domain.EventSessionDisconnected, map[string]interface{}{
		"cause":      cause,
		"logged_out": e.LoggedOut,
	})

	if e.LoggedOut {
		s.terminate(sessiondomain.ReasonLoggedOut, false)
		return
	}
	s.scheduleReconnect()
}

func (s *Supervisor) scheduleReconnect() {
	if s.attempts >= s.cfg.MaxReconnectAttempts {
		s.terminate(sessiondomain.ReasonReconnectExhausted, false)
		return
	}
	s.attempts++
	gen := s.generation
	s.transition(sessiondomain.StateReconnecting, logs.LevelInfo,
		fmt.Sprintf("Reconnecting in %s (attempt %d/%d)", s.cfg.ReconnectDelay, s.attempts, s.cfg.MaxReconnectAttempts))

	s.retryTimer = s.clock.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.post(func() {
			if gen != s.generation || s.state != sessiondomain.StateReconnecting {
				return
			}
			s.retryTimer = nil
			s.openSession(fmt.Sprintf("Reconnecting to WhatsApp (attempt %d/%d)", s.attempts, s.cfg.MaxReconnectAttempts))
		})
	})
}

// terminate moves to StateTerminated. logout revokes the credentials when the
// session is connected; a logged-out session has its credentials cleared.
func (s *Supervisor) terminate(reason sessiondomain.TerminationReason, logout bool) error {
	wasConnected := s.state == sessiondomain.StateConnected
	s.stopTimers()
	s.generation++
	s.floor = s.generation
	s.reason = reason

	var err error
	if logout && wasConnected {
		if lerr := s.transport.Logout(s.ctx); lerr != nil {
			err = &sessiondomain.TransportError{Peer: s.conn.Peer(), Cause: lerr}
			logger.WarnCF("session", "Logout failed", map[string]interface{}{
				"error": lerr.Error(),
			})
		}
	}
	s.endSession()
	s.transport.Disconnect()
	if reason == sessiondomain.ReasonLoggedOut {
		if cerr := s.transport.ClearCredentials(s.ctx); cerr != nil {
			logger.WarnCF("session", "Failed to clear credentials", map[string]interface{}{
				"error": cerr.Error(),
			})
		}
	}

	s.conn = sessiondomain.Disconnected()
	level, message := logs.LevelInfo, "Session disconnected by operator"
	switch reason {
	case sessiondomain.ReasonLoggedOut:
		level, message = logs.LevelWarning, "Logged out from WhatsApp, scan a new QR code to reconnect"
	case sessiondomain.ReasonReconnectExhausted:
		level, message = logs.LevelError,
			fmt.Sprintf("Giving up after %d reconnect attempts, restart the session manually", s.attempts)
	}
	if wasConnected {
		s.publish()
		s.observers.Broadcast(bus.Connection(false, ""))
	}
	s.transition(sessiondomain.StateTerminated, level, message)
	s.observers.Broadcast(bus.SessionTerminated(string(reason)))
	s.publishDomain(domain.EventSessionTerminated, map[string]string{"reason": string(reason)})
	return err
}

func (s *Supervisor) onMessage(m transport.Message) {
	key := dedup.Key{Peer: m.Peer, MessageID: m.ID, Timestamp: m.Timestamp}
	if !s.dedup.Admit(key) {
		s.book.Record(logs.LevelInfo, fmt.Sprintf("Duplicate message %s from +%s ignored", m.ID, m.Peer))
		return
	}

	name := s.nameFor(m.Peer, m.PushName)
	s.book.Record(logs.LevelInfo, fmt.Sprintf("Message from %s: %s", name, preview(m.Text, 80)))
	s.observers.Broadcast(bus.MessageEvent{
		Type:      bus.TypeMessage,
		Direction: string(domain.DirectionInbound),
		Peer:      m.Peer,
		Name:      name,
		Text:      m.Text,
		MessageID: m.ID,
		Timestamp: m.Timestamp,
	})
	s.publishDomain(domain.EventMessageReceived, domain.InboundMessage{
		Peer:      m.Peer,
		MessageID: m.ID,
		Text:      m.Text,
		PushName:  m.PushName,
		Timestamp: m.Timestamp,
	})
}

func (s *Supervisor) nameFor(peer, pushName string) string {
	if s.names != nil {
		if n := s.names.NameFor(peer); n != "" {
			return n
		}
	}
	if pushName != "" {
		return pushName
	}
	return "+" + peer
}

func preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}

// transition moves to the given state, publishes the snapshot, and emits one
// state event and one log entry. Edges outside the state machine are refused.
func (s *Supervisor) transition(to sessiondomain.State, level logs.Level, message string) bool {
	from := s.state
	if !sessiondomain.CanTransition(from, to) {
		logger.ErrorCF("session", "Refusing invalid state transition", map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		})
		return false
	}
	s.state = to
	s.publish()

	attempt := 0
	if to == sessiondomain.StateReconnecting || to == sessiondomain.StateAuthenticating {
		attempt = s.attempts
	}
	logger.InfoCF("session", "State changed", map[string]interface{}{
		"from":       string(from),
		"to":         string(to),
		"attempt":    attempt,
		"generation": s.generation,
	})
	s.observers.Broadcast(bus.State(string(to), string(from), attempt))
	s.book.Record(level, message)
	return true
}

func (s *Supervisor) publish() {
	s.mu.Lock()
	s.status = Status{State: s.state, Connection: s.conn.Clone(), Attempts: s.attempts, Reason: s.reason}
	s.mu.Unlock()
}

func (s *Supervisor) stopTimers() {
	if s.qrTimer != nil {
		s.qrTimer.Stop()
		s.qrTimer = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Supervisor) publishDomain(t domain.EventType, payload interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(domain.NewEvent(t, s.id, payload))
}
