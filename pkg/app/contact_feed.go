package app

import (
	"github.com/sipeed/wagate/pkg/bus"
	"github.com/sipeed/wagate/pkg/domain"
	"github.com/sipeed/wagate/pkg/logger"
)

// Broadcaster receives observer events.
type Broadcaster interface {
	Broadcast(e bus.Event)
}

// ContactFeed forwards contact lifecycle events to observers with the
// contact's current state, so a dashboard can update one row at a time.
type ContactFeed struct {
	contacts  *ContactService
	observers Broadcaster
}

func NewContactFeed(contacts *ContactService, observers Broadcaster) *ContactFeed {
	return &ContactFeed{contacts: contacts, observers: observers}
}

// Subscribe registers the feed on the domain event bus.
func (f *ContactFeed) Subscribe(events domain.EventBus) {
	for _, t := range []domain.EventType{
		domain.EventContactCreated,
		domain.EventContactMessaged,
		domain.EventContactResponded,
		domain.EventContactUpdated,
	} {
		events.Subscribe(t, f.forward)
	}
}

func (f *ContactFeed) forward(e domain.Event) {
	c, err := f.contacts.Get(e.AggregateID())
	if err != nil {
		logger.DebugCF("contacts", "Contact gone before its event was forwarded", map[string]interface{}{
			"event":      string(e.EventType()),
			"contact_id": e.AggregateID().String(),
		})
		return
	}
	f.observers.Broadcast(bus.ContactEvent{
		Type:      bus.TypeContact,
		Change:    string(e.EventType()),
		ContactID: c.ID().String(),
		Phone:     string(c.Phone),
		Name:      c.Name,
		Status:    string(c.Status),
	})
}
