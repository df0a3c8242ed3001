// Message template API: the YAML templates operators can pick for bulk sends.
package api

import (
	"net/http"
)

// GET /api/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	list := s.app.Templates.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates": list,
		"count":     len(list),
	})
}

// GET /api/templates/{name}
func (s *Server) handleTemplateByName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	tmpl, ok := s.app.Templates.Get(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}
