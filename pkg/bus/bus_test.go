package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(o *Observer) []Event {
	var out []Event
	for {
		select {
		case e, ok := <-o.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestAttachReplaysCurrentState(t *testing.T) {
	b := NewBroadcaster()
	b.SetReplay(func() []Event {
		return []Event{Connection(false, ""), QR("2@abc", 42)}
	})

	o := b.Attach("ui")
	got := drain(o)
	require.Len(t, got, 2)
	assert.Equal(t, TypeConnection, got[0].EventType())
	assert.Equal(t, QR("2@abc", 42), got[1])
}

func TestBroadcastReachesAllObservers(t *testing.T) {
	b := NewBroadcaster()
	a := b.Attach("a")
	c := b.Attach("c")

	b.Broadcast(QRTimeout())

	assert.Equal(t, []Event{QRTimeout()}, drain(a))
	assert.Equal(t, []Event{QRTimeout()}, drain(c))
}

func TestDetachedObserverIsSkipped(t *testing.T) {
	b := NewBroadcaster()
	gone := b.Attach("gone")
	stay := b.Attach("stay")

	b.Detach(gone)
	b.Detach(gone)
	b.Broadcast(SessionTerminated("logged_out"))

	_, open := <-gone.Events()
	assert.False(t, open)
	assert.Len(t, drain(stay), 1)
	assert.Equal(t, 1, b.Count())
}

func TestSlowObserverDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Attach("slow")

	done := make(chan struct{})
	go func() {
		for i := 0; i < DefaultBuffer*2; i++ {
			b.Broadcast(Log("line", "info", time.Now()))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full observer")
	}
	assert.Equal(t, int64(DefaultBuffer), slow.Dropped())
}

func TestCloseClosesObservers(t *testing.T) {
	b := NewBroadcaster()
	o := b.Attach("x")
	b.Close()
	b.Close()

	_, open := <-o.Events()
	assert.False(t, open)

	late := b.Attach("late")
	_, open = <-late.Events()
	assert.False(t, open)
	b.Broadcast(QRTimeout())
}

func TestWireShapes(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"connected", Connection(true, "5511"), `{"type":"connection","connected":true,"phoneNumber":"5511"}`},
		{"disconnected", Connection(false, ""), `{"type":"connection","connected":false,"phoneNumber":null}`},
		{"qr", QR("2@x", 60), `{"type":"qr","qrCode":"2@x","timeout":60}`},
		{"qr timeout", QRTimeout(), `{"type":"qr_timeout"}`},
		{"terminated", SessionTerminated("reconnect_exhausted"), `{"type":"session_terminated","reason":"reconnect_exhausted"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}
