package whatsapp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/sipeed/wagate/pkg/transport"
)

func message(chat types.JID, fromMe bool, msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:     chat,
				Sender:   chat,
				IsFromMe: fromMe,
				IsGroup:  chat.Server == types.GroupServer,
			},
			ID:        "3EB0ABCDEF",
			PushName:  "Ana",
			Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		},
		Message: msg,
	}
}

func TestInboundFilter(t *testing.T) {
	user := types.NewJID("5511999990000", types.DefaultUserServer)
	text := &waE2E.Message{Conversation: proto.String("oi")}

	tests := []struct {
		name string
		evt  *events.Message
		want bool
	}{
		{"direct text", message(user, false, text), true},
		{"own message", message(user, true, text), false},
		{"group", message(types.NewJID("1203630", types.GroupServer), false, text), false},
		{"status broadcast", message(types.NewJID("status", types.BroadcastServer), false, text), false},
		{"no text", message(user, false, &waE2E.Message{}), false},
		{"extended text", message(user, false, &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("link https://example.com")},
		}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := inbound(tt.evt)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestInboundFields(t *testing.T) {
	user := types.NewJID("5511999990000", types.DefaultUserServer)
	m, ok := inbound(message(user, false, &waE2E.Message{Conversation: proto.String("bom dia")}))
	require.True(t, ok)
	assert.Equal(t, transport.Message{
		Peer:      "5511999990000",
		ID:        "3EB0ABCDEF",
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Text:      "bom dia",
		PushName:  "Ana",
	}, m)
}

func TestPumpQR(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	qr := make(chan whatsmeow.QRChannelItem, 3)
	qr <- whatsmeow.QRChannelItem{Event: "code", Code: "2@abc"}
	qr <- whatsmeow.QRChannelItem{Event: "code", Code: "2@def"}
	qr <- whatsmeow.QRChannelItem{Event: "timeout"}
	close(qr)

	var got []transport.Event
	pumpQR(ctx, qr, func(ev transport.Event) { got = append(got, ev) })

	require.Len(t, got, 3)
	assert.Equal(t, transport.QR{Code: "2@abc"}, got[0])
	assert.Equal(t, transport.QR{Code: "2@def"}, got[1])
	closed, ok := got[2].(transport.Close)
	require.True(t, ok)
	assert.ErrorIs(t, closed.Cause, ErrQRChannel)
	assert.False(t, closed.LoggedOut)
}

func TestSendWithoutClient(t *testing.T) {
	a := &Adapter{}
	_, err := a.Send(context.Background(), "5511", "oi")
	assert.ErrorIs(t, err, ErrNoClient)
	assert.ErrorIs(t, a.Logout(context.Background()), ErrNoClient)
	assert.NotPanics(t, a.Disconnect)
}

func TestHandlerStopsAfterSessionCancel(t *testing.T) {
	user := types.NewJID("5511999990000", types.DefaultUserServer)
	evt := message(user, false, &waE2E.Message{Conversation: proto.String("oi")})

	ctx, cancel := context.WithCancel(context.Background())
	var got []transport.Event
	handle := (&Adapter{}).handler(ctx, nil, func(ev transport.Event) { got = append(got, ev) })

	handle(evt)
	require.Len(t, got, 1)

	cancel()
	handle(evt)
	handle(&events.LoggedOut{})
	assert.Len(t, got, 1)
}

func TestReleaseOnlyDropsCurrentClient(t *testing.T) {
	current, stale := &whatsmeow.Client{}, &whatsmeow.Client{}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{client: current, cancel: cancel}

	a.release(stale)
	assert.Same(t, current, a.client)
	assert.NoError(t, ctx.Err())

	a.release(current)
	assert.Nil(t, a.client)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
