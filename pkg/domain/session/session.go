// Package session defines the Session bounded context: the lifecycle states
// of the single messaging-network session and the connection snapshot that
// observers see.
package session

import (
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Lifecycle states
// ---------------------------------------------------------------------------

// State is a node of the session state machine.
type State string

const (
	StateUninitialized  State = "uninitialized"
	StateAuthenticating State = "authenticating"
	StateAwaitingScan   State = "awaiting_scan"
	StateConnected      State = "connected"
	StateDisconnected   State = "disconnected"
	StateReconnecting   State = "reconnecting"
	StateTerminated     State = "terminated"
)

func (s State) String() string { return string(s) }

// ValidTransitions is the complete edge set of the state machine.
// Terminated → Authenticating is the manual restart.
var ValidTransitions = map[State][]State{
	StateUninitialized:  {StateAuthenticating, StateTerminated},
	StateAuthenticating: {StateAwaitingScan, StateConnected, StateDisconnected, StateTerminated},
	StateAwaitingScan:   {StateConnected, StateAuthenticating, StateDisconnected, StateTerminated},
	StateConnected:      {StateDisconnected, StateAuthenticating, StateTerminated},
	StateDisconnected:   {StateReconnecting, StateTerminated},
	StateReconnecting:   {StateAuthenticating, StateTerminated},
	StateTerminated:     {StateAuthenticating},
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Live reports whether the state still owns a transport session or a
// pending timer that will open one.
func (s State) Live() bool {
	return s != StateUninitialized && s != StateTerminated
}

// ---------------------------------------------------------------------------
// Connection snapshot
// ---------------------------------------------------------------------------

// ConnectionState is what observers know about the session. At most one of
// {QR challenge active, connected} holds at any time.
type ConnectionState struct {
	IsConnected  bool       `json:"isConnected"`
	PeerIdentity *string    `json:"peerIdentity"`
	QRChallenge  *string    `json:"qrChallenge,omitempty"`
	QRExpiresAt  *time.Time `json:"qrExpiresAt,omitempty"`
}

// Disconnected is the initial (and post-logout) snapshot.
func Disconnected() ConnectionState { return ConnectionState{} }

// Connected returns the snapshot for an open session as peer.
func Connected(peer string) ConnectionState {
	return ConnectionState{IsConnected: true, PeerIdentity: &peer}
}

// WithQR returns the snapshot for an active challenge.
func WithQR(code string, expiresAt time.Time) ConnectionState {
	return ConnectionState{QRChallenge: &code, QRExpiresAt: &expiresAt}
}

// HasQR reports whether a challenge is active.
func (c ConnectionState) HasQR() bool { return c.QRChallenge != nil }

// QRSecondsLeft returns the whole seconds until the challenge expires,
// rounded up, or 0 when no challenge is active.
func (c ConnectionState) QRSecondsLeft(now time.Time) int {
	if c.QRExpiresAt == nil {
		return 0
	}
	left := c.QRExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

// Peer returns the peer identity or "".
func (c ConnectionState) Peer() string {
	if c.PeerIdentity == nil {
		return ""
	}
	return *c.PeerIdentity
}

// Valid checks the snapshot invariant.
func (c ConnectionState) Valid() bool {
	if c.IsConnected {
		return c.QRChallenge == nil
	}
	return c.PeerIdentity == nil
}

// Clone copies the pointer fields so the result shares nothing with c.
func (c ConnectionState) Clone() ConnectionState {
	out := ConnectionState{IsConnected: c.IsConnected}
	if c.PeerIdentity != nil {
		p := *c.PeerIdentity
		out.PeerIdentity = &p
	}
	if c.QRChallenge != nil {
		q := *c.QRChallenge
		out.QRChallenge = &q
	}
	if c.QRExpiresAt != nil {
		t := *c.QRExpiresAt
		out.QRExpiresAt = &t
	}
	return out
}

// ---------------------------------------------------------------------------
// Send results
// ---------------------------------------------------------------------------

// Ack acknowledges a message accepted by the network.
type Ack struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// TerminationReason explains why the session reached StateTerminated.
type TerminationReason string

const (
	ReasonLoggedOut          TerminationReason = "logged_out"
	ReasonReconnectExhausted TerminationReason = "reconnect_exhausted"
	ReasonOperator           TerminationReason = "operator_disconnect"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Error is a sentinel error of the session context.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrNotConnected       Error = "session: not connected"
	ErrReconnectExhausted Error = "session: reconnect attempts exhausted"
	ErrEmptyPeer          Error = "session: peer is empty"
	ErrInvalidPeer        Error = "session: peer must be digits only"
	ErrEmptyText          Error = "session: text is empty"
	ErrRestartNotAllowed  Error = "session: restart not allowed in current state"
	ErrStopped            Error = "session: supervisor stopped"
)

// TransportError carries the cause of a failed send.
type TransportError struct {
	Peer  string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session: transport send to %s failed: %v", e.Peer, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// IsTransportError reports whether err wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
