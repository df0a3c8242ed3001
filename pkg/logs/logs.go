// Package logs keeps the operator-facing activity log: a bounded history of
// short human-readable lines that is mirrored to observers, to the process
// logger, and to a durable store.
package logs

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sipeed/wagate/pkg/bus"
	"github.com/sipeed/wagate/pkg/logger"
)

// Level is the operator-facing severity.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelSuccess, LevelWarning, LevelError:
		return true
	}
	return false
}

// Entry is one log line.
type Entry struct {
	Message   string    `json:"message"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder is the narrow capability the pipeline components log through.
type Recorder interface {
	Record(level Level, message string) Entry
}

// Store persists entries. Failures are reported but never stop logging.
type Store interface {
	AppendLog(ctx context.Context, e Entry) error
	RecentLogs(ctx context.Context, limit int) ([]Entry, error)
	ClearLogs(ctx context.Context) error
}

// Publisher is where entries are mirrored for live observers.
type Publisher interface {
	Broadcast(e bus.Event)
}

// Book is the bounded in-memory history. Safe for concurrent use.
type Book struct {
	clock   clockwork.Clock
	limit   int
	store   Store
	publish Publisher

	mu      sync.Mutex
	entries []Entry
}

// Option configures a Book.
type Option func(*Book)

func WithStore(s Store) Option         { return func(b *Book) { b.store = s } }
func WithPublisher(p Publisher) Option { return func(b *Book) { b.publish = p } }
func WithClock(c clockwork.Clock) Option {
	return func(b *Book) { b.clock = c }
}

// NewBook keeps the last limit entries.
func NewBook(limit int, opts ...Option) *Book {
	if limit <= 0 {
		limit = 100
	}
	b := &Book{clock: clockwork.NewRealClock(), limit: limit}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Restore seeds the history from the store, oldest first.
func (b *Book) Restore(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	entries, err := b.store.RecentLogs(ctx, b.limit)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.entries = append(b.entries[:0], entries...)
	b.mu.Unlock()
	return nil
}

// Record appends an entry and mirrors it everywhere.
func (b *Book) Record(level Level, message string) Entry {
	if !level.Valid() {
		level = LevelInfo
	}
	e := Entry{Message: message, Level: level, Timestamp: b.clock.Now().UTC()}

	b.mu.Lock()
	b.entries = append(b.entries, e)
	if over := len(b.entries) - b.limit; over > 0 {
		b.entries = append(b.entries[:0], b.entries[over:]...)
	}
	b.mu.Unlock()

	fields := map[string]interface{}{"level": string(level)}
	switch level {
	case LevelError:
		logger.ErrorCF("activity", message, fields)
	case LevelWarning:
		logger.WarnCF("activity", message, fields)
	default:
		logger.InfoCF("activity", message, fields)
	}

	if b.store != nil {
		if err := b.store.AppendLog(context.Background(), e); err != nil {
			logger.WarnCF("activity", "Failed to persist log entry", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	if b.publish != nil {
		b.publish.Broadcast(bus.Log(e.Message, string(e.Level), e.Timestamp))
	}
	return e
}

func (b *Book) Info(message string) Entry    { return b.Record(LevelInfo, message) }
func (b *Book) Success(message string) Entry { return b.Record(LevelSuccess, message) }
func (b *Book) Warning(message string) Entry { return b.Record(LevelWarning, message) }
func (b *Book) Error(message string) Entry   { return b.Record(LevelError, message) }

// Recent returns up to limit of the newest entries, oldest first. A limit
// of zero or less returns the whole history.
func (b *Book) Recent(limit int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := 0
	if limit > 0 && len(b.entries) > limit {
		start = len(b.entries) - limit
	}
	out := make([]Entry, len(b.entries)-start)
	copy(out, b.entries[start:])
	return out
}

// Len returns the number of entries held in memory.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Clear empties the history and the store, then records that it did so.
func (b *Book) Clear(ctx context.Context) error {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()

	var err error
	if b.store != nil {
		err = b.store.ClearLogs(ctx)
	}
	b.Info("Logs cleared")
	return err
}
