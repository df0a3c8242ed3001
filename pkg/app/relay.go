package app

import (
	"context"
	"time"

	"github.com/sipeed/wagate/pkg/domain"
	"github.com/sipeed/wagate/pkg/infrastructure/persistence"
	"github.com/sipeed/wagate/pkg/logger"
	"github.com/sipeed/wagate/pkg/webhook"
)

// Archive stores messages for later review.
type Archive interface {
	ArchiveMessage(ctx context.Context, m persistence.ArchivedMessage) (int64, error)
}

// Relay reacts to message events: inbound messages go to the webhook and the
// archive and mark the contact as responded; sent messages are archived.
type Relay struct {
	queue    webhook.Enqueuer
	dest     webhook.Destination
	archive  Archive
	contacts *ContactService
}

func NewRelay(queue webhook.Enqueuer, dest webhook.Destination, archive Archive, contacts *ContactService) *Relay {
	return &Relay{queue: queue, dest: dest, archive: archive, contacts: contacts}
}

// Subscribe registers the relay on bus.
func (r *Relay) Subscribe(bus domain.EventBus) {
	bus.Subscribe(domain.EventMessageReceived, r.onReceived)
	bus.Subscribe(domain.EventMessageSent, r.onSent)
}

func (r *Relay) onReceived(e domain.Event) {
	m, ok := e.Payload().(domain.InboundMessage)
	if !ok {
		return
	}

	if _, active := r.dest.Effective(); active {
		r.queue.Enqueue(webhook.MessagePayload{
			Sender:    m.Peer,
			Message:   m.Text,
			Timestamp: m.Timestamp.Unix(),
			MessageID: m.MessageID,
			PushName:  m.PushName,
		})
	}

	r.store(persistence.ArchivedMessage{
		MessageID: m.MessageID,
		Peer:      m.Peer,
		PushName:  m.PushName,
		Direction: domain.DirectionInbound,
		Text:      m.Text,
		Timestamp: m.Timestamp,
	})

	if r.contacts != nil {
		if err := r.contacts.MarkResponded(m.Peer, m.Timestamp); err != nil {
			logger.WarnCF("relay", "Failed to mark contact as responded", map[string]interface{}{
				"peer":  m.Peer,
				"error": err.Error(),
			})
		}
	}
}

func (r *Relay) onSent(e domain.Event) {
	m, ok := e.Payload().(domain.OutboundMessage)
	if !ok {
		return
	}
	r.store(persistence.ArchivedMessage{
		MessageID: m.MessageID,
		Peer:      m.Peer,
		Direction: domain.DirectionOutbound,
		Text:      m.Text,
		Timestamp: m.Timestamp,
	})
}

func (r *Relay) store(m persistence.ArchivedMessage) {
	if r.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.archive.ArchiveMessage(ctx, m); err != nil {
		logger.WarnCF("relay", "Failed to archive message", map[string]interface{}{
			"peer":  m.Peer,
			"error": err.Error(),
		})
	}
}
