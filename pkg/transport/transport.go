// Package transport is the boundary to the messaging network. An Adapter
// opens one session at a time and reports what happens on it through a Sink;
// the session supervisor is its only owner.
package transport

import (
	"context"
	"errors"
	"time"

	sessiondomain "github.com/sipeed/wagate/pkg/domain/session"
)

// Event is anything an adapter reports about the open session.
type Event interface {
	transportEvent()
}

// QR carries an authentication challenge to be scanned by the phone.
type QR struct {
	Code string
}

// Open reports an authenticated, usable session.
type Open struct {
	PeerIdentity string
}

// Close reports the end of the session. LoggedOut is true only when the
// network revoked the credentials; every other cause is retryable.
type Close struct {
	Cause     error
	LoggedOut bool
}

// Message is an inbound text message.
type Message struct {
	Peer      string
	ID        string
	Timestamp time.Time
	Text      string
	PushName  string
}

func (QR) transportEvent()      {}
func (Open) transportEvent()    {}
func (Close) transportEvent()   {}
func (Message) transportEvent() {}

// Sink receives adapter events. It must not block for long.
type Sink func(Event)

// Adapter is implemented by network clients.
type Adapter interface {
	// Connect starts a new session and returns once the attempt is under way.
	// Events for this session, including its eventual Close, go to sink.
	Connect(ctx context.Context, sink Sink) error
	// Send delivers text to a bare numeric peer.
	Send(ctx context.Context, peer, text string) (sessiondomain.Ack, error)
	// Logout revokes the credentials on the network and locally.
	Logout(ctx context.Context) error
	// Disconnect drops the current session without revoking credentials.
	// Events already in flight may still reach the old sink.
	Disconnect()
	// ClearCredentials forgets the locally stored credentials.
	ClearCredentials(ctx context.Context) error
}

// ErrConnectionLost is the Close cause for an unexpected drop.
var ErrConnectionLost = errors.New("transport: connection lost")
