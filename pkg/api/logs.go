package api

import (
	"net/http"

	"github.com/sipeed/wagate/pkg/domain"
	"github.com/sipeed/wagate/pkg/infrastructure/persistence"
	"github.com/sipeed/wagate/pkg/logger"
)

// GET    /api/logs?limit=100  oldest first
// DELETE /api/logs
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries := s.app.Book.Recent(parseLimit(r, 0))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"logs":  entries,
			"count": len(entries),
		})

	case http.MethodDelete:
		if err := s.app.Book.Clear(r.Context()); err != nil {
			logger.WarnCF("api", "Clearing logs failed", map[string]interface{}{
				"error": err.Error(),
			})
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})

	default:
		methodNotAllowed(w)
	}
}

// GET /api/messages?peer=5511999990000&limit=50  newest first
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	peer := string(domain.NormalizePhone(r.URL.Query().Get("peer")))
	msgs, err := s.app.Store.RecentMessages(r.Context(), peer, parseLimit(r, defaultListLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []persistence.ArchivedMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"count":    len(msgs),
	})
}
