// Package dedup suppresses inbound events the transport redelivers, which
// is common right after a reconnect.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sipeed/wagate/pkg/logger"
)

// Key identifies one inbound event.
type Key struct {
	Peer      string
	MessageID string
	Timestamp time.Time
}

func (k Key) String() string {
	return fmt.Sprintf("%s_%s_%d", k.Peer, k.MessageID, k.Timestamp.Unix())
}

// Deduplicator remembers keys for a retention window. Safe for concurrent use.
type Deduplicator struct {
	clock     clockwork.Clock
	retention time.Duration
	interval  time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

// New creates a Deduplicator. Call Run to start the periodic sweep.
func New(clock clockwork.Clock, retention, sweepInterval time.Duration) *Deduplicator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Deduplicator{
		clock:     clock,
		retention: retention,
		interval:  sweepInterval,
		seen:      make(map[string]time.Time),
	}
}

// Admit records k and returns true the first time k is seen; it returns
// false while k is remembered.
func (d *Deduplicator) Admit(k Key) bool {
	id := k.String()
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.seen[id]; dup {
		return false
	}
	d.seen[id] = d.clock.Now()
	return true
}

// Sweep forgets keys first seen longer than the retention window ago and
// returns how many were removed.
func (d *Deduplicator) Sweep() int {
	cutoff := d.clock.Now().Add(-d.retention)
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for id, first := range d.seen {
		if first.Before(cutoff) {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered keys.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Run sweeps on every interval until ctx is cancelled.
func (d *Deduplicator) Run(ctx context.Context) {
	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := d.Sweep(); n > 0 {
				logger.DebugCF("dedup", "Swept expired message keys", map[string]interface{}{
					"removed":   n,
					"remaining": d.Len(),
				})
			}
		}
	}
}
