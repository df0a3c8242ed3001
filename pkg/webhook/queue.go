// Package webhook relays gateway events to an external HTTP endpoint with
// bounded retry, and pings it while the session is up.
package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"

	"github.com/sipeed/wagate/pkg/logger"
	"github.com/sipeed/wagate/pkg/logs"
)

// Item is one queued payload.
type Item struct {
	Payload       interface{}
	AttemptCount  int
	LastAttemptAt time.Time
}

type Config struct {
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
	ItemPause     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:       8 * time.Second,
		MaxRetries:    3,
		RetryInterval: 5 * time.Second,
		ItemPause:     500 * time.Millisecond,
	}
}

// MessagePayload is posted for every admitted inbound message. Timestamp is
// in Unix seconds.
type MessagePayload struct {
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"messageId"`
	PushName  string `json:"pushName,omitempty"`
}

// KeepalivePayload is posted on the keepalive schedule. Timestamp is in Unix
// milliseconds.
type KeepalivePayload struct {
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
	Status      string `json:"status"`
	PhoneNumber string `json:"phoneNumber"`
}

// Queue delivers payloads in order. At most one processing pass runs at a
// time; a pass that leaves items behind schedules the next one.
type Queue struct {
	cfg    Config
	dest   Destination
	clock  clockwork.Clock
	book   logs.Recorder
	client *resty.Client

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	items   []*Item
	running bool
	retry   clockwork.Timer
	closed  bool
}

// NewQueue creates a queue posting to dest.
func NewQueue(cfg Config, dest Destination, clock clockwork.Clock, book logs.Recorder) *Queue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if book == nil {
		book = logs.NewBook(100, logs.WithClock(clock))
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "wagate-webhook/1.0")

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:    cfg,
		dest:   dest,
		clock:  clock,
		book:   book,
		client: client,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue adds payload and starts a pass if none is running.
func (q *Queue) Enqueue(payload interface{}) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, &Item{Payload: payload})
	start := q.claim()
	q.mu.Unlock()

	if start {
		go q.process()
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops processing. Queued items are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	if q.retry != nil {
		q.retry.Stop()
		q.retry = nil
	}
	q.cancel()
}

// claim marks a pass as running. Caller holds mu.
func (q *Queue) claim() bool {
	if q.running || q.closed {
		return false
	}
	q.running = true
	return true
}

// release ends a pass and schedules another if items remain. Caller holds mu.
func (q *Queue) release() {
	q.running = false
	if len(q.items) == 0 || q.closed || q.retry != nil {
		return
	}
	q.retry = q.clock.AfterFunc(q.cfg.RetryInterval, func() {
		q.mu.Lock()
		q.retry = nil
		start := q.claim()
		q.mu.Unlock()
		if start {
			q.process()
		}
	})
}

func (q *Queue) process() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 || q.closed {
			q.release()
			q.mu.Unlock()
			return
		}

		url, active := q.dest.Effective()
		if !active || url == "" {
			dropped := len(q.items)
			q.items = nil
			q.release()
			q.mu.Unlock()
			logger.DebugCF("webhook", "Webhook disabled, queue cleared", map[string]interface{}{
				"dropped": dropped,
			})
			return
		}

		item := q.items[0]
		now := q.clock.Now()
		if !item.LastAttemptAt.IsZero() && now.Sub(item.LastAttemptAt) < q.cfg.RetryInterval {
			q.release()
			q.mu.Unlock()
			return
		}
		item.LastAttemptAt = now
		attempt := item.AttemptCount + 1
		q.mu.Unlock()

		q.book.Record(logs.LevelInfo, fmt.Sprintf("Webhook attempt %d/%d", attempt, q.cfg.MaxRetries+1))
		ok := q.deliver(url, item.Payload)

		q.mu.Lock()
		exhausted := false
		if ok {
			q.removeHead(item)
		} else {
			item.AttemptCount++
			if item.AttemptCount > q.cfg.MaxRetries {
				q.removeHead(item)
				exhausted = true
			}
		}
		q.mu.Unlock()

		if exhausted {
			q.book.Record(logs.LevelError,
				fmt.Sprintf("Webhook gave up after %d attempts, payload dropped", q.cfg.MaxRetries+1))
		}

		select {
		case <-q.ctx.Done():
		case <-q.clock.After(q.cfg.ItemPause):
		}
	}
}

// removeHead drops item if it is still first. Caller holds mu.
func (q *Queue) removeHead(item *Item) {
	if len(q.items) > 0 && q.items[0] == item {
		q.items[0] = nil
		q.items = q.items[1:]
	}
}

// deliver posts one payload and reports whether the endpoint returned 2xx.
func (q *Queue) deliver(url string, payload interface{}) bool {
	resp, err := q.client.R().
		SetContext(q.ctx).
		SetBody(payload).
		Post(url)
	if err != nil {
		q.book.Record(logs.LevelError, fmt.Sprintf("Webhook request failed: %v", err))
		return false
	}
	if resp.IsSuccess() {
		q.book.Record(logs.LevelSuccess, fmt.Sprintf("Webhook delivered: %d", resp.StatusCode()))
		return true
	}
	q.book.Record(logs.LevelWarning, fmt.Sprintf("Webhook returned status %d", resp.StatusCode()))
	return false
}
