// Package app provides application services that orchestrate domain operations.
// These services sit between the API layer and the domain layer, and the
// Container wires them to the session pipeline.
package app

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/sipeed/wagate/pkg/bus"
	"github.com/sipeed/wagate/pkg/config"
	"github.com/sipeed/wagate/pkg/dedup"
	"github.com/sipeed/wagate/pkg/dispatch"
	"github.com/sipeed/wagate/pkg/domain"
	"github.com/sipeed/wagate/pkg/infrastructure/eventbus"
	"github.com/sipeed/wagate/pkg/infrastructure/persistence"
	"github.com/sipeed/wagate/pkg/logger"
	"github.com/sipeed/wagate/pkg/logs"
	"github.com/sipeed/wagate/pkg/session"
	"github.com/sipeed/wagate/pkg/templates"
	"github.com/sipeed/wagate/pkg/transport"
	"github.com/sipeed/wagate/pkg/webhook"
)

// ---------------------------------------------------------------------------
// Application container: dependency injection root
// ---------------------------------------------------------------------------

// Container holds all application services and their dependencies.
// It acts as a composition root for dependency injection.
type Container struct {
	Config *config.Config

	// Domain event bus
	EventBus domain.EventBus

	// Observers and operator log
	Observers *bus.Broadcaster
	Book      *logs.Book

	// Persistence
	Store    *persistence.SQLiteStore
	Contacts *ContactService

	// Session pipeline
	Session    *session.Supervisor
	Dedup      *dedup.Deduplicator
	Dispatcher *dispatch.Dispatcher
	Templates  *templates.Registry

	// Webhook egress
	WebhookSettings *webhook.SettingsStore
	Webhook         *webhook.Queue
	Keepalive       *webhook.Keepalive

	// QROutput receives terminal QR codes when set.
	QROutput io.Writer

	clock clockwork.Clock
}

// Option adjusts container construction.
type Option func(*Container)

// WithClock replaces the real clock, for tests.
func WithClock(c clockwork.Clock) Option { return func(ct *Container) { ct.clock = c } }

// WithQROutput prints QR challenges to w.
func WithQROutput(w io.Writer) Option { return func(ct *Container) { ct.QROutput = w } }

// NewContainer creates a fully wired application container around adapter.
func NewContainer(ctx context.Context, cfg *config.Config, adapter transport.Adapter, opts ...Option) (*Container, error) {
	c := &Container{Config: cfg, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(c)
	}

	store, err := persistence.OpenSQLite(cfg.Logs.DBPath)
	if err != nil {
		return nil, err
	}
	c.Store = store

	c.Observers = bus.NewBroadcaster()
	c.Book = logs.NewBook(cfg.Logs.History,
		logs.WithStore(store),
		logs.WithPublisher(c.Observers),
		logs.WithClock(c.clock),
	)
	if err := c.Book.Restore(ctx); err != nil {
		logger.WarnCF("app", "Could not restore log history", map[string]interface{}{
			"error": err.Error(),
		})
	}

	c.EventBus = eventbus.New()

	repo, skipped, err := persistence.NewContactRepository(cfg.ContactsDir())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open contacts: %w", err)
	}
	for _, name := range skipped {
		logger.WarnCF("app", "Skipped unreadable contact file", map[string]interface{}{"file": name})
	}
	c.Contacts = NewContactService(repo, c.EventBus)

	c.Templates = templates.NewRegistry()
	n, warnings := c.Templates.LoadDefaults(cfg.Templates.Dirs)
	for _, w := range warnings {
		logger.WarnC("templates", w)
	}
	logger.InfoCF("app", "Message templates loaded", map[string]interface{}{"count": n})

	c.Dedup = dedup.New(c.clock, cfg.Dedup.Retention.Duration, cfg.Dedup.SweepInterval.Duration)

	c.Session = session.New(adapter,
		session.WithConfig(session.Config{
			QRTimeout:            cfg.Session.QRTimeout.Duration,
			ReconnectDelay:       cfg.Session.ReconnectDelay.Duration,
			MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
		}),
		session.WithClock(c.clock),
		session.WithRecorder(c.Book),
		session.WithBroadcaster(c.Observers),
		session.WithDeduplicator(c.Dedup),
		session.WithEventBus(c.EventBus),
		session.WithNames(c.Contacts),
	)
	c.Observers.SetReplay(c.Session.ReplayEvents)

	c.WebhookSettings = webhook.NewSettingsStore(webhook.Settings{
		Active: cfg.Webhook.Active,
		URL:    cfg.Webhook.URL,
	}, cfg.Webhook.Override)
	c.Webhook = webhook.NewQueue(webhook.Config{
		Timeout:       cfg.Webhook.Timeout.Duration,
		MaxRetries:    cfg.Webhook.MaxRetries,
		RetryInterval: cfg.Webhook.RetryInterval.Duration,
		ItemPause:     cfg.Webhook.ItemPause.Duration,
	}, c.WebhookSettings, c.clock, c.Book)

	c.Keepalive, err = webhook.NewKeepalive(cfg.Webhook.KeepaliveCron, c.clock, c.Webhook, c.WebhookSettings, c.Session, c.Book)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Dispatcher = dispatch.New(dispatch.Config{
		MessageDelay: cfg.Dispatch.MessageDelay.Duration,
		BatchSize:    cfg.Dispatch.BatchSize,
		BatchPause:   cfg.Dispatch.BatchPause.Duration,
	}, c.Session, c.Contacts, c.clock, c.Book)

	NewRelay(c.Webhook, c.WebhookSettings, store, c.Contacts).Subscribe(c.EventBus)
	NewContactFeed(c.Contacts, c.Observers).Subscribe(c.EventBus)

	return c, nil
}

// Run starts every background worker and blocks until ctx is cancelled and
// all of them have stopped.
func (c *Container) Run(ctx context.Context) error {
	var (
		wg     sync.WaitGroup
		runErr error
	)
	start := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if c.QROutput != nil {
		start(func() { PrintQR(ctx, c.Observers, c.QROutput) })
	}
	start(func() { c.Dedup.Run(ctx) })
	start(func() { c.Dispatcher.Run(ctx) })
	start(func() { c.Keepalive.Run(ctx) })
	start(func() { runErr = c.Session.Run(ctx) })

	wg.Wait()
	return runErr
}

// Close releases resources. Call it after Run returns.
func (c *Container) Close() {
	if c.Webhook != nil {
		c.Webhook.Close()
	}
	if c.Observers != nil {
		c.Observers.Close()
	}
	if c.EventBus != nil {
		c.EventBus.Close()
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logger.WarnCF("app", "Failed to close database", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
