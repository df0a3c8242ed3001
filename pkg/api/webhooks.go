// Webhook settings API: where inbound messages and keepalive pings are posted.
package api

import (
	"net/http"

	"github.com/sipeed/wagate/pkg/logger"
	"github.com/sipeed/wagate/pkg/webhook"
)

// GET /api/webhook/settings
// PUT /api/webhook/settings
//
//	{"active": true, "webhookUrl": "https://example.org/hook"}
//
// Settings live in memory only. When WHATSAPP_BOT_WEBHOOK is set it wins over
// the stored URL and "overridden" is true.
func (s *Server) handleWebhookSettings(w http.ResponseWriter, r *http.Request) {
	store := s.app.WebhookSettings

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.webhookView())

	case http.MethodPut, http.MethodPost:
		var next webhook.Settings
		if err := decodeJSON(w, r, &next); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := store.Set(next); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if next.Active {
			s.app.Book.Info("Webhook enabled: " + store.Get().URL)
		} else {
			s.app.Book.Info("Webhook disabled")
		}
		logger.InfoCF("api", "Webhook settings updated", map[string]interface{}{
			"active": next.Active,
			"url":    store.Get().URL,
		})
		writeJSON(w, http.StatusOK, s.webhookView())

	default:
		methodNotAllowed(w)
	}
}

func (s *Server) webhookView() map[string]interface{} {
	store := s.app.WebhookSettings
	stored := store.Get()
	effective, active := store.Effective()
	return map[string]interface{}{
		"active":       stored.Active,
		"webhookUrl":   stored.URL,
		"overridden":   store.Overridden(),
		"effectiveUrl": effective,
		"delivering":   active,
		"queued":       s.app.Webhook.Len(),
	}
}
