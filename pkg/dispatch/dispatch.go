// Package dispatch drains outbound sends one at a time, spaced by a minimum
// delay and paused after every batch, so bulk campaigns do not trip the
// network's abuse detection.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/sipeed/wagate/pkg/domain"
	sessiondomain "github.com/sipeed/wagate/pkg/domain/session"
	"github.com/sipeed/wagate/pkg/logger"
	"github.com/sipeed/wagate/pkg/logs"
	"github.com/sipeed/wagate/pkg/templates"
)

// Error is a sentinel error of the dispatcher.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrUnknownTarget Error = "dispatch: unknown target"
	ErrNoTargets     Error = "dispatch: no targets"
	ErrEmptyPayload  Error = "dispatch: payload is empty"
)

// Sender is the send capability borrowed from the session supervisor.
type Sender interface {
	SendMessage(ctx context.Context, peer, text string) (sessiondomain.Ack, error)
}

// Recipient is a resolved target.
type Recipient struct {
	ContactID domain.EntityID
	Peer      string
	Name      string
}

// Directory resolves targets and records deliveries.
type Directory interface {
	// Resolve returns ErrUnknownTarget when target does not exist.
	Resolve(ctx context.Context, target string) (Recipient, error)
	MarkDelivered(ctx context.Context, r Recipient, text string, ack sessiondomain.Ack) error
}

// Options apply to every item of one Enqueue call.
type Options struct {
	BusinessHours bool `json:"useBusinessTemplate"`
}

// QueuedSend is one pending message. Priority is informational; the queue is
// strictly FIFO.
type QueuedSend struct {
	Target     string    `json:"target"`
	Payload    string    `json:"payload"`
	Options    Options   `json:"options"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Priority   int       `json:"priority"`
}

// Receipt acknowledges an Enqueue call.
type Receipt struct {
	Accepted int `json:"accepted"`
	Queued   int `json:"queued"`
}

// Stats are lifetime counters.
type Stats struct {
	Queued  int   `json:"queued"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

type Config struct {
	MessageDelay time.Duration
	BatchSize    int
	BatchPause   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MessageDelay: 8 * time.Second,
		BatchSize:    10,
		BatchPause:   30 * time.Second,
	}
}

// Dispatcher owns the outbound queue.
type Dispatcher struct {
	cfg     Config
	sender  Sender
	dir     Directory
	clock   clockwork.Clock
	book    logs.Recorder
	limiter *rate.Limiter

	mu    sync.Mutex
	queue []QueuedSend
	wake  chan struct{}

	// drain-owned
	batchCount int
	pauseUntil time.Time

	sent, failed, dropped atomic.Int64
}

// New creates a dispatcher. Call Run to start draining.
func New(cfg Config, sender Sender, dir Directory, clock clockwork.Clock, book logs.Recorder) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Dispatcher{
		cfg:     cfg,
		sender:  sender,
		dir:     dir,
		clock:   clock,
		book:    book,
		limiter: rate.NewLimiter(rate.Every(cfg.MessageDelay), 1),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue queues one send per target. Earlier targets get a higher priority
// hint.
func (d *Dispatcher) Enqueue(targets []string, payload string, opts Options) (Receipt, error) {
	if len(targets) == 0 {
		return Receipt{}, ErrNoTargets
	}
	if payload == "" {
		return Receipt{}, ErrEmptyPayload
	}

	now := d.clock.Now()
	d.mu.Lock()
	for i, target := range targets {
		d.queue = append(d.queue, QueuedSend{
			Target:     target,
			Payload:    payload,
			Options:    opts,
			EnqueuedAt: now,
			Priority:   len(targets) - i,
		})
	}
	queued := len(d.queue)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}

	logger.InfoCF("dispatch", "Messages queued", map[string]interface{}{
		"accepted": len(targets),
		"queued":   queued,
	})
	return Receipt{Accepted: len(targets), Queued: queued}, nil
}

// Len returns the number of items waiting.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Pending returns a copy of the waiting items in dispatch order.
func (d *Dispatcher) Pending() []QueuedSend {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]QueuedSend, len(d.queue))
	copy(out, d.queue)
	return out
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:  d.Len(),
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
	}
}

func (d *Dispatcher) pop() (QueuedSend, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return QueuedSend{}, false
	}
	item := d.queue[0]
	d.queue[0] = QueuedSend{}
	d.queue = d.queue[1:]
	return item, true
}

// Run drains the queue until ctx is cancelled. Items still queued at that
// point are discarded.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		item, ok := d.pop()
		if !ok {
			d.batchCount = 0
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
				continue
			}
		}
		if err := d.process(ctx, item); err != nil {
			return
		}
	}
}

// process handles one item. It only returns an error when ctx ends while
// waiting for the item's turn.
func (d *Dispatcher) process(ctx context.Context, item QueuedSend) error {
	rcpt, err := d.dir.Resolve(ctx, item.Target)
	if err != nil {
		d.dropped.Add(1)
		if errors.Is(err, ErrUnknownTarget) {
			d.record(logs.LevelWarning, fmt.Sprintf("Contact %s not found, message dropped", item.Target))
		} else {
			d.record(logs.LevelError, fmt.Sprintf("Could not resolve %s, message dropped: %v", item.Target, err))
		}
		return nil
	}

	if err := d.waitTurn(ctx); err != nil {
		return err
	}

	vars := templates.Vars{Name: rcpt.Name, At: d.clock.Now()}
	text := templates.Render(item.Payload, vars)
	if item.Options.BusinessHours {
		text = templates.WithBusinessNotice(text)
	}

	ack, err := d.sender.SendMessage(ctx, rcpt.Peer, text)
	if err != nil {
		d.failed.Add(1)
		// The supervisor already logs transport failures.
		if !sessiondomain.IsTransportError(err) {
			d.record(logs.LevelError, fmt.Sprintf("Message to %s not sent: %v", label(rcpt), err))
		}
		return nil
	}

	d.sent.Add(1)
	if err := d.dir.MarkDelivered(ctx, rcpt, text, ack); err != nil {
		logger.WarnCF("dispatch", "Failed to record delivery", map[string]interface{}{
			"target": item.Target,
			"error":  err.Error(),
		})
	}

	d.batchCount++
	if d.batchCount >= d.cfg.BatchSize {
		d.batchCount = 0
		d.pauseUntil = d.clock.Now().Add(d.cfg.BatchPause)
		d.record(logs.LevelInfo, fmt.Sprintf("Sent a batch of %d messages, pausing for %s", d.cfg.BatchSize, d.cfg.BatchPause))
	}
	return nil
}

// waitTurn blocks until the batch pause is over and the limiter allows the
// next send.
func (d *Dispatcher) waitTurn(ctx context.Context) error {
	now := d.clock.Now()
	if now.Before(d.pauseUntil) {
		if err := d.sleep(ctx, d.pauseUntil.Sub(now)); err != nil {
			return err
		}
		now = d.clock.Now()
	}

	r := d.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		if err := d.sleep(ctx, delay); err != nil {
			r.CancelAt(d.clock.Now())
			return err
		}
	}
	return nil
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) error {
	t := d.clock.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}

func (d *Dispatcher) record(level logs.Level, msg string) {
	if d.book != nil {
		d.book.Record(level, msg)
		return
	}
	logger.InfoCF("dispatch", msg, map[string]interface{}{"level": string(level)})
}

func label(r Recipient) string {
	if r.Name != "" {
		return fmt.Sprintf("%s (+%s)", r.Name, r.Peer)
	}
	return "+" + r.Peer
}
