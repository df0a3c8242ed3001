package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/wagate/pkg/bus"
	"github.com/sipeed/wagate/pkg/dispatch"
	"github.com/sipeed/wagate/pkg/domain"
	contactdomain "github.com/sipeed/wagate/pkg/domain/contact"
	sessiondomain "github.com/sipeed/wagate/pkg/domain/session"
	"github.com/sipeed/wagate/pkg/infrastructure/eventbus"
	"github.com/sipeed/wagate/pkg/infrastructure/persistence"
)

func newContactService(t *testing.T) (*ContactService, *eventbus.InProcessEventBus) {
	t.Helper()
	repo, _, err := persistence.NewContactRepository(t.TempDir())
	require.NoError(t, err)
	events := eventbus.New()
	return NewContactService(repo, events), events
}

func TestBulkCreate(t *testing.T) {
	svc, events := newContactService(t)
	var created int
	events.Subscribe(domain.EventContactCreated, func(domain.Event) { created++ })

	contacts, failed := svc.BulkCreate([]NewContact{
		{Phone: "+55 11 99999-0000", Name: "Ana"},
		{Phone: "no digits", Name: "Bad"},
		{Phone: "5511999990000", Name: "Ana twice"},
		{Phone: "5521988887777", Name: "Bia", Notes: "prefers mornings"},
	})

	require.Len(t, contacts, 2)
	assert.Equal(t, "prefers mornings", contacts[1].Notes)
	require.Len(t, failed, 2)
	assert.Equal(t, 1, failed[0].Index)
	assert.Equal(t, contactdomain.ErrInvalidPhone.Error(), failed[0].Error)
	assert.Equal(t, 2, failed[1].Index)
	assert.Equal(t, contactdomain.ErrDuplicate.Error(), failed[1].Error)
	assert.Equal(t, 2, created)
}

func TestResolve(t *testing.T) {
	svc, _ := newContactService(t)
	ana, err := svc.Create(NewContact{Phone: "5511999990000", Name: "Ana"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		target  string
		wantErr bool
	}{
		{"by id", string(ana.ID()), false},
		{"by phone", "+55 11 99999-0000", false},
		{"unknown id", "c0ffee", true},
		{"unknown phone", "5521988887777", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := svc.Resolve(context.Background(), tt.target)
			if tt.wantErr {
				assert.ErrorIs(t, err, dispatch.ErrUnknownTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, dispatch.Recipient{ContactID: ana.ID(), Peer: "5511999990000", Name: "Ana"}, r)
		})
	}
}

func TestMarkDeliveredThenResponded(t *testing.T) {
	svc, events := newContactService(t)
	var messaged, responded int
	events.Subscribe(domain.EventContactMessaged, func(domain.Event) { messaged++ })
	events.Subscribe(domain.EventContactResponded, func(domain.Event) { responded++ })

	ana, err := svc.Create(NewContact{Phone: "5511999990000", Name: "Ana"})
	require.NoError(t, err)
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	r, err := svc.Resolve(context.Background(), string(ana.ID()))
	require.NoError(t, err)
	require.NoError(t, svc.MarkDelivered(context.Background(), r, "Olá Ana", sessiondomain.Ack{MessageID: "M1", Timestamp: at}))

	got, err := svc.Get(ana.ID())
	require.NoError(t, err)
	assert.Equal(t, contactdomain.StatusContacted, got.Status)
	assert.Equal(t, "Olá Ana", got.LastMessage)
	assert.Equal(t, 1, messaged)

	require.NoError(t, svc.MarkResponded("5511999990000", at.Add(time.Hour)))
	require.NoError(t, svc.MarkResponded("5599000000000", at.Add(time.Hour)))
	got, _ = svc.Get(ana.ID())
	assert.Equal(t, contactdomain.StatusResponded, got.Status)
	assert.Equal(t, 1, responded)

	// Already responded: nothing more to record.
	require.NoError(t, svc.MarkResponded("5511999990000", at.Add(2*time.Hour)))
	assert.Equal(t, 1, responded)
}

func TestUpdateAndList(t *testing.T) {
	svc, _ := newContactService(t)
	ana, _ := svc.Create(NewContact{Phone: "5511999990000", Name: "Ana"})
	_, _ = svc.Create(NewContact{Phone: "5521988887777", Name: "Bia"})

	name := "Ana Souza"
	scheduled := contactdomain.StatusScheduled
	updated, err := svc.Update(ana.ID(), ContactPatch{Name: &name, Status: &scheduled})
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", updated.Name)

	bad := contactdomain.Status("lost")
	_, err = svc.Update(ana.ID(), ContactPatch{Status: &bad})
	assert.ErrorIs(t, err, contactdomain.ErrInvalidStatus)

	list, err := svc.List(contactdomain.StatusScheduled)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ana.ID(), list[0].ID())

	all, err := svc.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.List("lost")
	assert.ErrorIs(t, err, contactdomain.ErrInvalidStatus)

	assert.Equal(t, "Ana Souza", svc.NameFor("5511999990000"))
	assert.Empty(t, svc.NameFor("5599"))

	require.NoError(t, svc.Delete(ana.ID()))
	_, err = svc.Get(ana.ID())
	assert.ErrorIs(t, err, contactdomain.ErrNotFound)
}

func TestContactEventsArePublishedOnce(t *testing.T) {
	svc, events := newContactService(t)
	var seen []domain.EventType
	events.SubscribeAll(func(e domain.Event) { seen = append(seen, e.EventType()) })

	ana, err := svc.Create(NewContact{Phone: "5511999990000", Name: "Ana"})
	require.NoError(t, err)
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	r := dispatch.Recipient{ContactID: ana.ID(), Peer: "5511999990000"}

	require.NoError(t, svc.MarkDelivered(context.Background(), r, "Olá", sessiondomain.Ack{Timestamp: at}))
	require.NoError(t, svc.MarkDelivered(context.Background(), r, "Olá de novo", sessiondomain.Ack{Timestamp: at.Add(time.Minute)}))
	require.NoError(t, svc.MarkResponded("5511999990000", at.Add(time.Hour)))
	completed := contactdomain.StatusCompleted
	_, err = svc.Update(ana.ID(), ContactPatch{Status: &completed})
	require.NoError(t, err)

	assert.Equal(t, []domain.EventType{
		domain.EventContactCreated,
		domain.EventContactMessaged,
		domain.EventContactMessaged,
		domain.EventContactResponded,
		domain.EventContactUpdated,
	}, seen)

	stored, err := svc.Get(ana.ID())
	require.NoError(t, err)
	assert.False(t, stored.HasPendingEvents())
}

func TestReplyDuringDeliveryIsNotLost(t *testing.T) {
	svc, _ := newContactService(t)
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		phone := fmt.Sprintf("5511999%03d000", i)
		c, err := svc.Create(NewContact{Phone: phone})
		require.NoError(t, err)
		r := dispatch.Recipient{ContactID: c.ID(), Peer: phone}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.MarkDelivered(context.Background(), r, "Olá", sessiondomain.Ack{Timestamp: at}))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.MarkResponded(phone, at.Add(time.Second)))
		}()
		wg.Wait()

		got, err := svc.Get(c.ID())
		require.NoError(t, err)
		assert.Equal(t, contactdomain.StatusResponded, got.Status, "contact %s", phone)
	}
}

type observedEvents struct {
	mu     sync.Mutex
	events []bus.Event
}

func (o *observedEvents) Broadcast(e bus.Event) {
	o.mu.Lock()
	o.events = append(o.events, e)
	o.mu.Unlock()
}

func TestContactFeed(t *testing.T) {
	svc, events := newContactService(t)
	observed := &observedEvents{}
	NewContactFeed(svc, observed).Subscribe(events)

	ana, err := svc.Create(NewContact{Phone: "5511999990000", Name: "Ana"})
	require.NoError(t, err)
	r := dispatch.Recipient{ContactID: ana.ID(), Peer: "5511999990000"}
	require.NoError(t, svc.MarkDelivered(context.Background(), r, "Olá", sessiondomain.Ack{Timestamp: time.Now()}))

	id := ana.ID().String()
	assert.Equal(t, []bus.Event{
		bus.ContactEvent{Type: bus.TypeContact, Change: "contact.created", ContactID: id, Phone: "5511999990000", Name: "Ana", Status: "pending"},
		bus.ContactEvent{Type: bus.TypeContact, Change: "contact.messaged", ContactID: id, Phone: "5511999990000", Name: "Ana", Status: "contacted"},
	}, observed.events)
}
