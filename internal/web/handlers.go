package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/model"
	"github.com/hpungsan/tether/internal/recovery"
	"github.com/hpungsan/tether/internal/report"
	"github.com/hpungsan/tether/internal/stats"
	"github.com/hpungsan/tether/internal/window"
)

// Handlers contains the HTTP route handlers of the status API.
type Handlers struct {
	engine  *recovery.Engine
	version string
	log     *zap.Logger
}

// NewHandlers creates Handlers over engine.
func NewHandlers(engine *recovery.Engine, version string, log *zap.Logger) *Handlers {
	return &Handlers{engine: engine, version: version, log: logging.OrNop(log).Named("web")}
}

// HandleIndex handles GET / with the server version and route list.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{
		"name":    "tether",
		"version": h.version,
		"routes": []string{
			"/sessions",
			"/sessions/{id}",
			"/sessions/{id}/windows",
			"/sessions/{id}/stats",
			"/sessions/{id}/report",
			"/metrics",
		},
	})
}

// HandleSessions handles GET /sessions, most recently active first.
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	var statuses []model.SessionStatus
	for _, s := range queryList(r, "status") {
		statuses = append(statuses, model.SessionStatus(s))
	}

	sessions, err := h.engine.Sessions().List(r.Context(), parseIntParam(r, "limit", 50), statuses...)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*model.Session{}
	}
	renderJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

// HandleStatus handles GET /sessions/{id} with the session's status summary.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sum := h.engine.Status(r.Context(), id)
	if sum == nil {
		h.renderError(w, r, errors.NewNotFound("session", id))
		return
	}
	renderJSON(w, http.StatusOK, sum)
}

// HandleWindows handles GET /sessions/{id}/windows.
//
// Query: type (repeatable), status (repeatable), from, to (RFC3339),
// include_merged, limit.
func (h *Handlers) HandleWindows(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.engine.Sessions().Get(r.Context(), id) == nil {
		h.renderError(w, r, errors.NewNotFound("session", id))
		return
	}

	from, to, err := parseRange(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	f := window.ListFilter{
		SessionID:     id,
		Types:         windowTypes(r),
		ExcludeMerged: !parseBoolParam(r, "include_merged"),
		From:          from,
		To:            to,
		Limit:         parseIntParam(r, "limit", 0),
	}
	for _, s := range queryList(r, "status") {
		f.Statuses = append(f.Statuses, model.WindowStatus(s))
	}

	ws, err := h.engine.Windows().List(r.Context(), f)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if ws == nil {
		ws = []*model.TimeWindow{}
	}
	renderJSON(w, http.StatusOK, map[string]any{"windows": ws, "count": len(ws)})
}

// HandleStats handles GET /sessions/{id}/stats.
//
// Query: type (repeatable), from, to, min_duration_sec, max_duration_sec, task_id.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.engine.Sessions().Get(r.Context(), id) == nil {
		h.renderError(w, r, errors.NewNotFound("session", id))
		return
	}

	from, to, err := parseRange(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	st, err := h.engine.Stats().Compute(r.Context(), stats.Filter{
		SessionID:   id,
		Types:       windowTypes(r),
		From:        from,
		To:          to,
		MinDuration: time.Duration(parseIntParam(r, "min_duration_sec", 0)) * time.Second,
		MaxDuration: time.Duration(parseIntParam(r, "max_duration_sec", 0)) * time.Second,
		TaskID:      r.URL.Query().Get("task_id"),
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, st)
}

// HandleReport handles GET /sessions/{id}/report: the session timeline as
// an HTML page, or as markdown with ?format=markdown.
func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	s := h.engine.Sessions().Get(ctx, id)
	if s == nil {
		h.renderError(w, r, errors.NewNotFound("session", id))
		return
	}

	ws, err := h.engine.Windows().List(ctx, window.ListFilter{SessionID: id})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	st, err := h.engine.Stats().Compute(ctx, stats.Filter{SessionID: id})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	md := report.Markdown(s, ws, st)
	switch r.URL.Query().Get("format") {
	case "", "html":
		page, err := report.HTML("Session "+s.ID, md)
		if err != nil {
			h.renderError(w, r, errors.NewInternal(err))
			return
		}
		renderHTML(w, http.StatusOK, page)
	case "markdown", "md":
		renderMarkdown(w, http.StatusOK, md)
	default:
		h.renderError(w, r, errors.NewInvalidRequest("format must be html or markdown"))
	}
}

// Helpers

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}

func parseBoolParam(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "true" || v == "1"
}

// parseRange reads the optional from/to RFC3339 parameters.
func parseRange(r *http.Request) (from, to *time.Time, err error) {
	parse := func(name string) (*time.Time, error) {
		s := r.URL.Query().Get(name)
		if s == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, errors.NewInvalidRequest(name + " must be an RFC3339 time")
		}
		return &t, nil
	}
	if from, err = parse("from"); err != nil {
		return nil, nil, err
	}
	if to, err = parse("to"); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

// queryList collects a repeatable parameter, also splitting comma lists
// (?type=work&type=break or ?type=work,break).
func queryList(r *http.Request, name string) []string {
	var out []string
	for _, v := range r.URL.Query()[name] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func windowTypes(r *http.Request) []model.WindowType {
	var out []model.WindowType
	for _, t := range queryList(r, "type") {
		out = append(out, model.WindowType(t))
	}
	return out
}
