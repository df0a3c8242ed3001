package domain

import "strings"

// ---------------------------------------------------------------------------
// Shared value objects
// ---------------------------------------------------------------------------

// Direction tells whether a message was received or sent by the gateway.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) String() string { return string(d) }

// ---------------------------------------------------------------------------

// ConnectionStatus is the coarse, externally reported connection health.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusTerminated   ConnectionStatus = "terminated"
)

func (cs ConnectionStatus) String() string { return string(cs) }

// ---------------------------------------------------------------------------

// PhoneNumber is a bare numeric peer identifier (country code included,
// no punctuation).
type PhoneNumber string

// NormalizePhone strips everything that is not a digit.
func NormalizePhone(raw string) PhoneNumber {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return PhoneNumber(b.String())
}

func (p PhoneNumber) String() string { return string(p) }

// Valid reports whether p is non-empty and digits only.
func (p PhoneNumber) Valid() bool {
	if p == "" {
		return false
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------

// Metadata is a generic key-value map for extensible properties.
type Metadata map[string]string

// Get returns a metadata value, or empty string if not present.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// Set writes a metadata key-value pair. Initializes the map if nil.
func (m *Metadata) Set(key, value string) {
	if *m == nil {
		*m = make(Metadata)
	}
	(*m)[key] = value
}
