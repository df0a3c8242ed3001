package webhook

import (
	"context"
	"fmt"

	"github.com/adhocore/gronx"
	"github.com/jonboulle/clockwork"

	sessiondomain "github.com/sipeed/wagate/pkg/domain/session"
	"github.com/sipeed/wagate/pkg/logger"
	"github.com/sipeed/wagate/pkg/logs"
)

// StatusSource exposes the current connection state.
type StatusSource interface {
	Status() sessiondomain.ConnectionState
}

// Enqueuer accepts payloads for delivery.
type Enqueuer interface {
	Enqueue(payload interface{})
}

// Keepalive queues a ping on a cron schedule while the session is connected
// and the webhook is active.
type Keepalive struct {
	expr   string
	clock  clockwork.Clock
	queue  Enqueuer
	dest   Destination
	status StatusSource
	book   logs.Recorder
}

func NewKeepalive(expr string, clock clockwork.Clock, queue Enqueuer, dest Destination, status StatusSource, book logs.Recorder) (*Keepalive, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("webhook: invalid keepalive schedule %q", expr)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Keepalive{expr: expr, clock: clock, queue: queue, dest: dest, status: status, book: book}, nil
}

// Run ticks on the schedule until ctx is cancelled.
func (k *Keepalive) Run(ctx context.Context) {
	for {
		now := k.clock.Now()
		next, err := gronx.NextTickAfter(k.expr, now, false)
		if err != nil {
			logger.ErrorCF("webhook", "Keepalive schedule failed", map[string]interface{}{
				"expr":  k.expr,
				"error": err.Error(),
			})
			return
		}

		t := k.clock.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.Chan():
			k.Tick()
		}
	}
}

// Tick queues one ping if the session is connected and delivery is enabled.
func (k *Keepalive) Tick() bool {
	url, active := k.dest.Effective()
	st := k.status.Status()
	if !active || url == "" || !st.IsConnected {
		return false
	}
	if k.book != nil {
		k.book.Record(logs.LevelInfo, "Sending keepalive ping to webhook")
	}
	k.queue.Enqueue(KeepalivePayload{
		Type:        "keepalive",
		Timestamp:   k.clock.Now().UnixMilli(),
		Status:      "connected",
		PhoneNumber: st.Peer(),
	})
	return true
}
