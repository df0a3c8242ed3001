package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestAdmitIsIdempotentWithinWindow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	d := New(clock, 60*time.Minute, 30*time.Minute)
	k := Key{Peer: "5511999990000", MessageID: "3EB0A1", Timestamp: epoch}

	assert.True(t, d.Admit(k))
	assert.False(t, d.Admit(k))

	clock.Advance(59 * time.Minute)
	d.Sweep()
	assert.False(t, d.Admit(k), "still inside the retention window")

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, d.Sweep())
	assert.True(t, d.Admit(k), "expired keys are admitted again")
}

func TestKeyComponentsAreDistinct(t *testing.T) {
	d := New(clockwork.NewFakeClockAt(epoch), time.Hour, time.Minute)
	base := Key{Peer: "1", MessageID: "A", Timestamp: epoch}

	tests := []struct {
		name string
		key  Key
	}{
		{"other peer", Key{Peer: "2", MessageID: "A", Timestamp: epoch}},
		{"other id", Key{Peer: "1", MessageID: "B", Timestamp: epoch}},
		{"other timestamp", Key{Peer: "1", MessageID: "A", Timestamp: epoch.Add(time.Second)}},
	}
	require.True(t, d.Admit(base))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, d.Admit(tt.key))
		})
	}
}

func TestRunSweepsPeriodically(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	d := New(clock, 60*time.Minute, 30*time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.Admit(Key{Peer: "1", MessageID: "old", Timestamp: epoch})
	go d.Run(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(30 * time.Minute)
	d.Admit(Key{Peer: "1", MessageID: "new", Timestamp: epoch})
	clock.Advance(30 * time.Minute)
	assert.Eventually(t, func() bool { return d.Len() == 2 }, time.Second, 5*time.Millisecond,
		"nothing is older than an hour yet")

	clock.Advance(30 * time.Minute)
	assert.Eventually(t, func() bool { return d.Len() == 1 }, time.Second, 5*time.Millisecond)
}
