// Package whatsapp implements transport.Adapter on top of whatsmeow. The
// device credentials live in a sqlite store; every Connect builds a fresh
// client so events from a dropped session can never reach the new sink.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	sessiondomain "github.com/sipeed/wagate/pkg/domain/session"
	"github.com/sipeed/wagate/pkg/logger"
	"github.com/sipeed/wagate/pkg/transport"
)

var (
	ErrNoClient      = errors.New("whatsapp: no active client")
	ErrQRChannel     = errors.New("whatsapp: QR pairing ended")
	ErrStreamReplace = errors.New("whatsapp: session opened elsewhere")
)

// Adapter is the whatsmeow-backed transport.
type Adapter struct {
	container *sqlstore.Container
	logLevel  string

	mu     sync.Mutex
	client *whatsmeow.Client
	cancel context.CancelFunc
}

// Open prepares the device store at path. The file is created on first use.
// logLevel filters whatsmeow's own logging (DEBUG, INFO, WARN or ERROR).
func Open(ctx context.Context, path, logLevel string) (*Adapter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
	container, err := sqlstore.New(ctx, "sqlite3", dsn, newLogBridge("store", logLevel))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &Adapter{container: container, logLevel: logLevel}, nil
}

// Connect builds a client for the stored device (or a new one) and starts
// connecting. Unpaired devices report QR challenges through sink. Once ctx is
// cancelled the client is dropped and its events no longer reach sink, even
// if the cancel lands while the connection is being established.
func (a *Adapter) Connect(ctx context.Context, sink transport.Sink) error {
	device, err := a.container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("load device: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	client := whatsmeow.NewClient(device, newLogBridge("client", a.logLevel))
	client.EnableAutoReconnect = false
	client.AddEventHandler(a.handler(sessionCtx, client, sink))

	a.mu.Lock()
	old, oldCancel := a.client, a.cancel
	a.client, a.cancel = client, cancel
	a.mu.Unlock()
	if old != nil {
		oldCancel()
		old.Disconnect()
	}

	if client.Store.ID == nil {
		qr, err := client.GetQRChannel(sessionCtx)
		if err != nil {
			a.release(client)
			return fmt.Errorf("qr channel: %w", err)
		}
		go pumpQR(sessionCtx, qr, sink)
	}

	if err := client.Connect(); err != nil {
		a.release(client)
		return fmt.Errorf("connect: %w", err)
	}
	if err := sessionCtx.Err(); err != nil {
		a.release(client)
		client.Disconnect()
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// release forgets client if it is still the current one and cancels its
// session.
func (a *Adapter) release(client *whatsmeow.Client) {
	a.mu.Lock()
	cancel := a.cancel
	if a.client == client {
		a.client, a.cancel = nil, nil
	} else {
		cancel = nil
	}
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func pumpQR(ctx context.Context, qr <-chan whatsmeow.QRChannelItem, sink transport.Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-qr:
			if !ok {
				return
			}
			switch item.Event {
			case "code":
				sink(transport.QR{Code: item.Code})
			case "success":
				// Connected follows.
			default:
				cause := fmt.Errorf("%w: %s", ErrQRChannel, item.Event)
				if item.Error != nil {
					cause = fmt.Errorf("%w: %v", ErrQRChannel, item.Error)
				}
				sink(transport.Close{Cause: cause})
				return
			}
		}
	}
}

func (a *Adapter) handler(ctx context.Context, client *whatsmeow.Client, sink transport.Sink) func(interface{}) {
	return func(evt interface{}) {
		if ctx.Err() != nil {
			return
		}
		switch v := evt.(type) {
		case *events.Connected:
			peer := ""
			if client.Store.ID != nil {
				peer = client.Store.ID.User
			}
			sink(transport.Open{PeerIdentity: peer})
		case *events.Disconnected:
			sink(transport.Close{Cause: transport.ErrConnectionLost})
		case *events.StreamReplaced:
			sink(transport.Close{Cause: ErrStreamReplace})
		case *events.KeepAliveTimeout:
			logger.WarnCF("whatsapp", "Keepalive timeout", map[string]interface{}{
				"error_count": v.ErrorCount,
			})
		case *events.ConnectFailure:
			if v.Reason.IsLoggedOut() {
				sink(transport.Close{Cause: fmt.Errorf("connect failure: %s", v.Reason), LoggedOut: true})
				return
			}
			sink(transport.Close{Cause: fmt.Errorf("connect failure: %s", v.Reason)})
		case *events.LoggedOut:
			sink(transport.Close{Cause: fmt.Errorf("logged out: %s", v.Reason), LoggedOut: true})
		case *events.Message:
			if m, ok := inbound(v); ok {
				sink(m)
			}
		}
	}
}

// inbound keeps one-to-one text messages from other people.
func inbound(v *events.Message) (transport.Message, bool) {
	info := v.Info
	if info.IsFromMe || info.IsGroup {
		return transport.Message{}, false
	}
	if info.Chat.Server != types.DefaultUserServer && info.Chat.Server != types.HiddenUserServer {
		return transport.Message{}, false
	}
	text := messageText(v.Message)
	if text == "" {
		return transport.Message{}, false
	}
	return transport.Message{
		Peer:      info.Chat.User,
		ID:        info.ID,
		Timestamp: info.Timestamp,
		Text:      text,
		PushName:  info.PushName,
	}, true
}

func messageText(m *waE2E.Message) string {
	switch {
	case m == nil:
		return ""
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetExtendedTextMessage().GetText() != "":
		return m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage().GetCaption() != "":
		return m.GetImageMessage().GetCaption()
	}
	return ""
}

func (a *Adapter) current() (*whatsmeow.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil, ErrNoClient
	}
	return a.client, nil
}

// Send delivers a plain conversation message.
func (a *Adapter) Send(ctx context.Context, peer, text string) (sessiondomain.Ack, error) {
	client, err := a.current()
	if err != nil {
		return sessiondomain.Ack{}, err
	}
	jid := types.NewJID(strings.TrimPrefix(peer, "+"), types.DefaultUserServer)
	resp, err := client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return sessiondomain.Ack{}, err
	}
	ts := resp.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return sessiondomain.Ack{MessageID: resp.ID, Timestamp: ts}, nil
}

// Logout unlinks the device on the network and deletes its credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	client, err := a.current()
	if err != nil {
		return err
	}
	return client.Logout(ctx)
}

func (a *Adapter) Disconnect() {
	a.mu.Lock()
	client, cancel := a.client, a.cancel
	a.client, a.cancel = nil, nil
	a.mu.Unlock()
	if client == nil {
		return
	}
	cancel()
	client.Disconnect()
}

// ClearCredentials removes every stored device so the next Connect pairs
// from scratch.
func (a *Adapter) ClearCredentials(ctx context.Context) error {
	devices, err := a.container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	var errs []error
	for _, d := range devices {
		if err := deleteDevice(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deleteDevice(ctx context.Context, d *store.Device) error {
	if d.ID == nil {
		return nil
	}
	if err := d.Delete(ctx); err != nil {
		return fmt.Errorf("delete device %s: %w", d.ID, err)
	}
	return nil
}

// Close releases the device store.
func (a *Adapter) Close() error {
	a.Disconnect()
	return a.container.Close()
}

var _ transport.Adapter = (*Adapter)(nil)
