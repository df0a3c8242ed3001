package domain

import "time"

// ---------------------------------------------------------------------------
// Domain event system
// ---------------------------------------------------------------------------

// EventType classifies domain events for routing and filtering.
type EventType string

// Bounded context prefixes ensure global uniqueness of event names.
const (
	// Session context events
	EventSessionConnected    EventType = "session.connected"
	EventSessionDisconnected EventType = "session.disconnected"
	EventSessionTerminated   EventType = "session.terminated"

	// Channel context events
	EventMessageReceived EventType = "channel.message.received"
	EventMessageSent     EventType = "channel.message.sent"
	EventMessageFailed   EventType = "channel.message.failed"

	// Contact context events
	EventContactCreated   EventType = "contact.created"
	EventContactMessaged  EventType = "contact.messaged"
	EventContactResponded EventType = "contact.responded"
	EventContactUpdated   EventType = "contact.updated"
)

// Event is the interface all domain events implement.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() EntityID
	Payload() interface{}
}

// BaseEvent provides a reusable implementation of the Event interface.
type BaseEvent struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	AggID     EntityID    `json:"aggregate_id"`
	EventData interface{} `json:"data,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() EntityID { return e.AggID }
func (e BaseEvent) Payload() interface{}  { return e.EventData }

// NewEvent creates a new domain event.
func NewEvent(eventType EventType, aggregateID EntityID, data interface{}) BaseEvent {
	return BaseEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		AggID:     aggregateID,
		EventData: data,
	}
}

// ---------------------------------------------------------------------------
// Event payloads shared across contexts
// ---------------------------------------------------------------------------

// InboundMessage is the payload of EventMessageReceived.
type InboundMessage struct {
	Peer      string    `json:"peer"`
	MessageID string    `json:"message_id"`
	Text      string    `json:"text"`
	PushName  string    `json:"push_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OutboundMessage is the payload of EventMessageSent and EventMessageFailed.
type OutboundMessage struct {
	Peer      string    `json:"peer"`
	ContactID EntityID  `json:"contact_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Text      string    `json:"text"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ---------------------------------------------------------------------------
// Event bus
// ---------------------------------------------------------------------------

// EventHandler processes a domain event. Handlers should be idempotent.
type EventHandler func(Event)

// EventBus dispatches domain events to registered handlers.
type EventBus interface {
	Publish(event Event)
	Subscribe(eventType EventType, handler EventHandler)
	SubscribeAll(handler EventHandler)
	Close()
}
