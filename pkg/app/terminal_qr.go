package app

import (
	"context"
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"

	"github.com/sipeed/wagate/pkg/bus"
)

// PrintQR attaches to the broadcaster and draws every QR challenge on w
// until ctx ends.
func PrintQR(ctx context.Context, b *bus.Broadcaster, w io.Writer) {
	obs := b.Attach("terminal")
	defer b.Detach(obs)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-obs.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case bus.QREvent:
				fmt.Fprintf(w, "\nScan this QR code with WhatsApp (expires in %ds):\n", e.Timeout)
				qrterminal.GenerateHalfBlock(e.QRCode, qrterminal.L, w)
			case bus.ConnectionEvent:
				if e.Connected && e.PhoneNumber != nil {
					fmt.Fprintf(w, "Connected as +%s\n", *e.PhoneNumber)
				}
			}
		}
	}
}
