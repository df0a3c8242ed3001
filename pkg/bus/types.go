package bus

import "time"

// Event is a message for observers. Every event marshals to a JSON object
// whose "type" field names it.
type Event interface {
	EventType() string
}

// Event type names as they appear on the observer stream.
const (
	TypeConnection        = "connection"
	TypeQR                = "qr"
	TypeQRTimeout         = "qr_timeout"
	TypeLog               = "log"
	TypeState             = "state"
	TypeSessionTerminated = "session_terminated"
	TypeMessage           = "message"
	TypeContact           = "contact"
)

// ConnectionEvent reports whether the session is usable.
type ConnectionEvent struct {
	Type        string  `json:"type"`
	Connected   bool    `json:"connected"`
	PhoneNumber *string `json:"phoneNumber"`
}

// QREvent carries a challenge and its remaining lifetime in seconds.
type QREvent struct {
	Type    string `json:"type"`
	QRCode  string `json:"qrCode"`
	Timeout int    `json:"timeout"`
}

type QRTimeoutEvent struct {
	Type string `json:"type"`
}

// LogEvent mirrors one operator log entry.
type LogEvent struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// StateEvent is emitted on every supervisor transition.
type StateEvent struct {
	Type    string `json:"type"`
	State   string `json:"state"`
	From    string `json:"from,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// SessionTerminatedEvent announces that the supervisor stopped retrying.
type SessionTerminatedEvent struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// MessageEvent mirrors an inbound or outbound message.
type MessageEvent struct {
	Type      string    `json:"type"`
	Direction string    `json:"direction"`
	Peer      string    `json:"peer"`
	Name      string    `json:"name,omitempty"`
	Text      string    `json:"text"`
	MessageID string    `json:"messageId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ContactEvent reports a change to a contact's outreach state. Change is the
// domain event name, e.g. "contact.messaged".
type ContactEvent struct {
	Type      string `json:"type"`
	Change    string `json:"change"`
	ContactID string `json:"contactId"`
	Phone     string `json:"phoneNumber"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status"`
}

func (e ConnectionEvent) EventType() string        { return e.Type }
func (e QREvent) EventType() string                { return e.Type }
func (e QRTimeoutEvent) EventType() string         { return e.Type }
func (e LogEvent) EventType() string               { return e.Type }
func (e StateEvent) EventType() string             { return e.Type }
func (e SessionTerminatedEvent) EventType() string { return e.Type }
func (e MessageEvent) EventType() string           { return e.Type }
func (e ContactEvent) EventType() string           { return e.Type }

// Connection builds a connection event. An empty phone marshals as null.
func Connection(connected bool, phone string) ConnectionEvent {
	e := ConnectionEvent{Type: TypeConnection, Connected: connected}
	if phone != "" {
		e.PhoneNumber = &phone
	}
	return e
}

func QR(code string, timeoutSeconds int) QREvent {
	return QREvent{Type: TypeQR, QRCode: code, Timeout: timeoutSeconds}
}

func QRTimeout() QRTimeoutEvent { return QRTimeoutEvent{Type: TypeQRTimeout} }

func Log(message, level string, at time.Time) LogEvent {
	return LogEvent{Type: TypeLog, Message: message, Level: level, Timestamp: at}
}

func State(state, from string, attempt int) StateEvent {
	return StateEvent{Type: TypeState, State: state, From: from, Attempt: attempt}
}

func SessionTerminated(reason string) SessionTerminatedEvent {
	return SessionTerminatedEvent{Type: TypeSessionTerminated, Reason: reason}
}

// ClientMessage is what observers send back over the stream.
type ClientMessage struct {
	Type string `json:"type"`
}

// Client message types.
const (
	ClientRefreshQR = "refresh_qr"
	ClientClearLogs = "clear_logs"
)
