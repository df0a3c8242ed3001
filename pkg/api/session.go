// Session API: connection status, direct send, logout, restart and the QR
// challenge as an image.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/sipeed/wagate/pkg/domain"
	sessiondomain "github.com/sipeed/wagate/pkg/domain/session"
	"github.com/sipeed/wagate/pkg/logger"
)

const (
	sendTimeout = 30 * time.Second
	qrImageSize = 256
)

// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	c := s.app
	snap := c.Session.Snapshot()
	webhookURL, webhookActive := c.WebhookSettings.Effective()
	uptime := time.Since(s.startTime)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connected":         snap.Connection.IsConnected,
		"phoneNumber":       snap.Connection.PeerIdentity,
		"state":             snap.State,
		"reconnectAttempts": snap.Attempts,
		"terminationReason": snap.Reason,
		"hasQr":             snap.Connection.HasQR(),
		"dispatch":          c.Dispatcher.Stats(),
		"webhook": map[string]interface{}{
			"active":     webhookActive,
			"url":        webhookURL,
			"overridden": c.WebhookSettings.Overridden(),
			"queued":     c.Webhook.Len(),
		},
		"observers":      c.Observers.Count(),
		"uptime_seconds": int(uptime.Seconds()),
		"uptime_human":   formatDuration(uptime),
	})
}

// POST /api/send
//
//	{"to": "5511999990000", "message": "hello"}
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, sendResult(false, "invalid request body"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sendTimeout)
	defer cancel()

	ack, err := s.app.Session.SendMessage(ctx, string(domain.NormalizePhone(req.To)), req.Message)
	if err != nil {
		writeJSON(w, sendStatus(err), sendResult(false, err.Error()))
		return
	}

	res := sendResult(true, "Message sent")
	res["messageId"] = ack.MessageID
	res["timestamp"] = ack.Timestamp
	writeJSON(w, http.StatusOK, res)
}

func sendResult(ok bool, msg string) map[string]interface{} {
	return map[string]interface{}{"success": ok, "message": msg}
}

func sendStatus(err error) int {
	switch {
	case errors.Is(err, sessiondomain.ErrEmptyPeer),
		errors.Is(err, sessiondomain.ErrInvalidPeer),
		errors.Is(err, sessiondomain.ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, sessiondomain.ErrNotConnected),
		errors.Is(err, sessiondomain.ErrStopped):
		return http.StatusServiceUnavailable
	case sessiondomain.IsTransportError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// POST /api/disconnect: log out and stop. The session stays terminated until
// restarted.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.Session.Disconnect(r.Context()); err != nil {
		logger.WarnCF("api", "Disconnect reported an error", map[string]interface{}{
			"error": err.Error(),
		})
		if errors.Is(err, sessiondomain.ErrStopped) || errors.Is(err, context.Canceled) {
			writeJSON(w, http.StatusServiceUnavailable, sendResult(false, err.Error()))
			return
		}
	}
	writeJSON(w, http.StatusOK, sendResult(true, "Disconnected"))
}

// POST /api/session/restart: fresh authentication with a new QR code.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.Session.RefreshQR(r.Context()); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, sessiondomain.ErrRestartNotAllowed) {
			status = http.StatusConflict
		}
		writeJSON(w, status, sendResult(false, err.Error()))
		return
	}
	writeJSON(w, http.StatusAccepted, sendResult(true, "Session restarting"))
}

// GET /api/qr.png: the active challenge as a PNG.
func (s *Server) handleQRImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	conn := s.app.Session.Status()
	if !conn.HasQR() {
		writeError(w, http.StatusNotFound, "no QR code pending")
		return
	}
	png, err := qrcode.Encode(*conn.QRChallenge, qrcode.Medium, qrImageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
