package web

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/errors"
)

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderError writes err as {"error": {code, message, status}}. Requests
// that prefer HTML (a browser opening a report) get a minimal page instead.
// INTERNAL and PERSISTENCE messages are logged, never echoed.
func (h *Handlers) renderError(w http.ResponseWriter, r *http.Request, err error) {
	tErr, ok := errors.As(err)
	if !ok {
		tErr = errors.NewInternal(err)
	}
	if tErr.Status >= 500 {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	if prefersHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(tErr.Status)
		fmt.Fprintf(w, "<!DOCTYPE html><title>Error %d</title><p>%s</p>\n",
			tErr.Status, template.HTMLEscapeString(tErr.Message))
		return
	}

	renderJSON(w, tErr.Status, map[string]any{
		"error": map[string]any{
			"code":    string(tErr.Code),
			"message": tErr.Message,
			"status":  tErr.Status,
		},
	})
}

// renderHTML writes a complete HTML document.
func renderHTML(w http.ResponseWriter, status int, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(page))
}

// renderMarkdown writes markdown source as text.
func renderMarkdown(w http.ResponseWriter, status int, md string) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(md))
}

func prefersHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && !strings.Contains(accept, "application/json")
}
