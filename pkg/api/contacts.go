// Contact API: registry CRUD and bulk send through the dispatcher.
package api

import (
	"errors"
	"net/http"

	"github.com/sipeed/wagate/pkg/app"
	"github.com/sipeed/wagate/pkg/dispatch"
	"github.com/sipeed/wagate/pkg/domain"
	contactdomain "github.com/sipeed/wagate/pkg/domain/contact"
	sessiondomain "github.com/sipeed/wagate/pkg/domain/session"
)

// GET  /api/contacts?status=pending  list, optionally filtered
// POST /api/contacts                  bulk create
//
//	{"contacts": [{"phoneNumber": "5511999990000", "name": "Ana", "notes": "..."}]}
func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.app.Contacts.List(contactdomain.Status(r.URL.Query().Get("status")))
		if err != nil {
			writeError(w, contactStatus(err), err.Error())
			return
		}
		if list == nil {
			list = []*contactdomain.Contact{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"contacts": list,
			"count":    len(list),
		})

	case http.MethodPost:
		var req struct {
			Contacts []app.NewContact `json:"contacts"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Contacts) == 0 {
			writeError(w, http.StatusBadRequest, "contacts required")
			return
		}

		created, failed := s.app.Contacts.BulkCreate(req.Contacts)
		if created == nil {
			created = []*contactdomain.Contact{}
		}
		if failed == nil {
			failed = []app.BulkError{}
		}
		status := http.StatusCreated
		if len(created) == 0 {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]interface{}{
			"success":  len(created) > 0,
			"created":  created,
			"errors":   failed,
			"count":    len(created),
			"rejected": len(failed),
		})

	default:
		methodNotAllowed(w)
	}
}

// GET|PUT|DELETE /api/contacts/{id}
func (s *Server) handleContactByID(w http.ResponseWriter, r *http.Request) {
	id := domain.EntityID(r.PathValue("id"))
	if id.IsZero() {
		writeError(w, http.StatusBadRequest, "contact id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		c, err := s.app.Contacts.Get(id)
		if err != nil {
			writeError(w, contactStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, c)

	case http.MethodPut:
		var patch app.ContactPatch
		if err := decodeJSON(w, r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		c, err := s.app.Contacts.Update(id, patch)
		if err != nil {
			writeError(w, contactStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, c)

	case http.MethodDelete:
		if err := s.app.Contacts.Delete(id); err != nil {
			writeError(w, contactStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		methodNotAllowed(w)
	}
}

// POST /api/contacts/send
//
//	{"contactIds": ["..."], "message": "Olá {name}", "useBusinessTemplate": false}
//
// Sends are queued and paced by the dispatcher; the response only confirms
// they were accepted.
func (s *Server) handleContactsSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		ContactIDs []string `json:"contactIds"`
		Message    string   `json:"message"`
		dispatch.Options
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if s.app.Session.State() != sessiondomain.StateConnected {
		writeJSON(w, http.StatusServiceUnavailable, sendResult(false, sessiondomain.ErrNotConnected.Error()))
		return
	}

	receipt, err := s.app.Dispatcher.Enqueue(req.ContactIDs, req.Message, req.Options)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dispatch.ErrNoTargets) || errors.Is(err, dispatch.ErrEmptyPayload) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, sendResult(false, err.Error()))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":  true,
		"message":  "Messages queued",
		"accepted": receipt.Accepted,
		"queued":   receipt.Queued,
	})
}

func contactStatus(err error) int {
	switch {
	case errors.Is(err, contactdomain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, contactdomain.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, contactdomain.ErrInvalidStatus),
		errors.Is(err, contactdomain.ErrInvalidPhone):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
