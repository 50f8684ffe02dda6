package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/model"
	"github.com/hpungsan/tether/internal/recovery"
	"github.com/hpungsan/tether/internal/stats"
	"github.com/hpungsan/tether/internal/window"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	engine *recovery.Engine
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(engine *recovery.Engine) *Handlers {
	return &Handlers{engine: engine}
}

// Request types for each tool

// SessionRequest addresses a single session.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// WindowListRequest represents the arguments for window_list.
type WindowListRequest struct {
	SessionID     string             `json:"session_id"`
	Types         []model.WindowType `json:"types,omitempty"`
	From          *time.Time         `json:"from,omitempty"`
	To            *time.Time         `json:"to,omitempty"`
	IncludeMerged bool               `json:"include_merged,omitempty"`
	Limit         int                `json:"limit,omitempty"`
}

// WindowCreateRequest represents the arguments for window_create.
type WindowCreateRequest struct {
	SessionID string           `json:"session_id"`
	Start     *time.Time       `json:"start"`
	End       *time.Time       `json:"end"`
	Name      string           `json:"name,omitempty"`
	Type      model.WindowType `json:"type,omitempty"`
}

// WindowFindRequest represents the arguments for window_find.
type WindowFindRequest struct {
	SessionID string     `json:"session_id"`
	At        *time.Time `json:"at,omitempty"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
}

// WindowSplitRequest represents the arguments for window_split.
type WindowSplitRequest struct {
	WindowID   string     `json:"window_id"`
	At         *time.Time `json:"at"`
	CreateGap  bool       `json:"create_gap,omitempty"`
	GapSeconds int        `json:"gap_seconds,omitempty"`
}

// WindowMergeRequest represents the arguments for window_merge.
type WindowMergeRequest struct {
	WindowIDs          []string         `json:"window_ids"`
	Name               string           `json:"name,omitempty"`
	Type               model.WindowType `json:"type,omitempty"`
	PreserveBoundaries bool             `json:"preserve_boundaries,omitempty"`
}

// WindowDetectRequest represents the arguments for window_detect.
type WindowDetectRequest struct {
	SessionID     string `json:"session_id"`
	MergeAdjacent bool   `json:"merge_adjacent,omitempty"`
}

// WindowStatsRequest represents the arguments for window_stats.
type WindowStatsRequest struct {
	SessionID      string             `json:"session_id,omitempty"`
	Types          []model.WindowType `json:"types,omitempty"`
	From           *time.Time         `json:"from,omitempty"`
	To             *time.Time         `json:"to,omitempty"`
	MinDurationSec int                `json:"min_duration_sec,omitempty"`
	MaxDurationSec int                `json:"max_duration_sec,omitempty"`
	TaskID         string             `json:"task_id,omitempty"`
}

// RecoverOutput is the result of session_recover.
type RecoverOutput struct {
	Recovered bool           `json:"recovered"`
	Session   *model.Session `json:"session,omitempty"`
}

// WindowsOutput wraps a window list.
type WindowsOutput struct {
	Windows []*model.TimeWindow `json:"windows"`
	Count   int                 `json:"count"`
}

// FindOutput is the result of window_find. Window is set for point
// lookups, Windows for range lookups.
type FindOutput struct {
	Window  *model.TimeWindow   `json:"window"`
	Windows []*model.TimeWindow `json:"windows,omitempty"`
}

func windowsOutput(ws []*model.TimeWindow) WindowsOutput {
	if ws == nil {
		ws = []*model.TimeWindow{}
	}
	return WindowsOutput{Windows: ws, Count: len(ws)}
}

func requireSession(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.NewInvalidRequest("session_id is required")
	}
	return nil
}

// Handler implementations

// HandleSessionStatus handles the session_status tool call.
func (h *Handlers) HandleSessionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if err := requireSession(input.SessionID); err != nil {
		return errorResult(err), nil
	}

	sum := h.engine.Status(ctx, input.SessionID)
	if sum == nil {
		return errorResult(errors.NewNotFound("session", input.SessionID)), nil
	}
	return successResult(sum)
}

// HandleSessionRecover handles the session_recover tool call.
func (h *Handlers) HandleSessionRecover(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	var s *model.Session
	if id := strings.TrimSpace(input.SessionID); id != "" {
		s = h.engine.RecoverByID(ctx, id, nil)
	} else {
		s = h.engine.RecoverSession(ctx, nil)
	}
	return successResult(RecoverOutput{Recovered: s != nil, Session: s})
}

// HandleSessionEnableRecovery handles the session_enable_recovery tool call.
func (h *Handlers) HandleSessionEnableRecovery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if err := requireSession(input.SessionID); err != nil {
		return errorResult(err), nil
	}

	if !h.engine.EnableSessionRecovery(ctx, input.SessionID) {
		return errorResult(errors.NewNotFound("session", input.SessionID)), nil
	}
	return successResult(map[string]any{"session_id": input.SessionID, "recovery_enabled": true})
}

// HandleSessionDisconnect handles the session_disconnect tool call.
func (h *Handlers) HandleSessionDisconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if err := requireSession(input.SessionID); err != nil {
		return errorResult(err), nil
	}

	if !h.engine.Disconnect(ctx, input.SessionID) {
		return errorResult(errors.NewNotFound("session", input.SessionID)), nil
	}
	return successResult(map[string]any{"session_id": input.SessionID, "status": model.SessionDisconnected})
}

// HandleWindowList handles the window_list tool call.
func (h *Handlers) HandleWindowList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WindowListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if err := requireSession(input.SessionID); err != nil {
		return errorResult(err), nil
	}
	if input.Limit < 0 {
		return errorResult(errors.NewInvalidRequest("limit must not be negative")), nil
	}

	ws, err := h.engine.Windows().List(ctx, window.ListFilter{
		SessionID:     input.SessionID,
		Types:         input.Types,
		ExcludeMerged: !input.IncludeMerged,
		From:          input.From,
		To:            input.To,
		Limit:         input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(windowsOutput(ws))
}

// HandleWindowCreate handles the window_create tool call.
func (h *Handlers) HandleWindowCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WindowCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if err := requireSession(input.SessionID); err != nil {
		return errorResult(err), nil
	}
	if input.Start == nil || input.End == nil {
		return errorResult(errors.NewInvalidRequest("start and end are required")), nil
	}

	w, err := h.engine.Windows().Create(ctx, input.SessionID, *input.Start, *input.End, window.CreateOptions{
		Name: input.Name,
		Type: input.Type,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(w)
}

// HandleWindowFind handles the window_find tool call.
func (h *Handlers) HandleWindowFind(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WindowFindRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if err := requireSession(input.SessionID); err != nil {
		return errorResult(err), nil
	}

	switch {
	case input.At != nil && (input.Start != nil || input.End != nil):
		return errorResult(errors.NewInvalidRequest("use either at or start/end, not both")), nil
	case input.At != nil:
		return successResult(FindOutput{Window: h.engine.Windows().FindAtTime(ctx, input.SessionID, *input.At)})
	case input.Start != nil && input.End != nil:
		ws, err := h.engine.Windows().FindOverlapping(ctx, input.SessionID, *input.Start, *input.End)
		if err != nil {
			return errorResult(err), nil
		}
		if ws == nil {
			ws = []*model.TimeWindow{}
		}
		return successResult(FindOutput{Windows: ws})
	default:
		return errorResult(errors.NewInvalidRequest("at or both start and end are required")), nil
	}
}

// HandleWindowSplit handles the window_split tool call.
func (h *Handlers) HandleWindowSplit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WindowSplitRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(input.WindowID) == "" {
		return errorResult(errors.NewInvalidRequest("window_id is required")), nil
	}
	if input.At == nil {
		return errorResult(errors.NewInvalidRequest("at is required")), nil
	}

	children, err := h.engine.Windows().Split(ctx, input.WindowID, *input.At, window.SplitOptions{
		CreateGap:   input.CreateGap,
		GapDuration: time.Duration(input.GapSeconds) * time.Second,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(windowsOutput(children))
}

// HandleWindowMerge handles the window_merge tool call.
func (h *Handlers) HandleWindowMerge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WindowMergeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	w, err := h.engine.Windows().Merge(ctx, input.WindowIDs, window.MergeOptions{
		Name:               input.Name,
		Type:               input.Type,
		PreserveBoundaries: input.PreserveBoundaries,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(w)
}

// HandleWindowDetect handles the window_detect tool call.
func (h *Handlers) HandleWindowDetect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WindowDetectRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if err := requireSession(input.SessionID); err != nil {
		return errorResult(err), nil
	}

	ws, err := h.engine.DetectWindows(ctx, input.SessionID, input.MergeAdjacent)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(windowsOutput(ws))
}

// HandleWindowStats handles the window_stats tool call.
func (h *Handlers) HandleWindowStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WindowStatsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.MinDurationSec < 0 || input.MaxDurationSec < 0 {
		return errorResult(errors.NewInvalidRequest("durations must not be negative")), nil
	}

	st, err := h.engine.Stats().Compute(ctx, stats.Filter{
		SessionID:   input.SessionID,
		Types:       input.Types,
		From:        input.From,
		To:          input.To,
		MinDuration: time.Duration(input.MinDurationSec) * time.Second,
		MaxDuration: time.Duration(input.MaxDurationSec) * time.Second,
		TaskID:      input.TaskID,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(st)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Details of INTERNAL and PERSISTENCE errors never reach the client.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if tErr, ok := errors.As(err); ok {
		// Keep any wrapping context ("window_ids[1]: ...") in the message.
		msg := tErr.Message
		if outer := err.Error(); outer != tErr.Error() {
			msg = strings.TrimSuffix(outer, tErr.Error()) + tErr.Message
		}
		errorObj := map[string]any{
			"code":    tErr.Code,
			"message": msg,
			"status":  tErr.Status,
		}
		if tErr.Code != errors.ErrInternal && tErr.Code != errors.ErrPersistence && tErr.Details != nil {
			errorObj["details"] = tErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
