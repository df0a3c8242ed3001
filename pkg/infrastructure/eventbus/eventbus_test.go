package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sipeed/wagate/pkg/domain"
)

func TestPublishOrder(t *testing.T) {
	b := New()
	var got []string
	b.SubscribeAll(func(e domain.Event) { got = append(got, "all:"+string(e.EventType())) })
	b.Subscribe(domain.EventSessionConnected, func(e domain.Event) { got = append(got, "typed") })
	b.Subscribe(domain.EventSessionTerminated, func(e domain.Event) { got = append(got, "other") })

	b.Publish(domain.NewEvent(domain.EventSessionConnected, "s1", nil))

	assert.Equal(t, []string{"typed", "all:session.connected"}, got)
	assert.Equal(t, 3, b.HandlerCount())
}

func TestPanickingHandlerIsContained(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe(domain.EventMessageReceived, func(domain.Event) { panic("boom") })
	b.Subscribe(domain.EventMessageReceived, func(domain.Event) { calls++ })

	assert.NotPanics(t, func() {
		b.Publish(domain.NewEvent(domain.EventMessageReceived, "s1", nil))
	})
	assert.Equal(t, 1, calls)
}

func TestHandlersMayPublish(t *testing.T) {
	b := New()
	var seen []domain.EventType
	b.Subscribe(domain.EventMessageReceived, func(e domain.Event) {
		b.Publish(domain.NewEvent(domain.EventContactResponded, e.AggregateID(), nil))
	})
	b.SubscribeAll(func(e domain.Event) { seen = append(seen, e.EventType()) })

	b.Publish(domain.NewEvent(domain.EventMessageReceived, "s1", nil))

	assert.Equal(t, []domain.EventType{domain.EventContactResponded, domain.EventMessageReceived}, seen)
}

func TestClosedBusDropsEvents(t *testing.T) {
	b := New()
	calls := 0
	b.SubscribeAll(func(domain.Event) { calls++ })
	b.Close()
	b.PublishAll([]domain.Event{
		domain.NewEvent(domain.EventSessionConnected, "s1", nil),
		domain.NewEvent(domain.EventSessionDisconnected, "s1", nil),
	})
	assert.Zero(t, calls)
}
