package model

import (
	"encoding/json"
	"time"
)

// WindowType classifies what a time window represents.
type WindowType string

const (
	WindowWork     WindowType = "work"
	WindowBreak    WindowType = "break"
	WindowMeeting  WindowType = "meeting"
	WindowAuto     WindowType = "auto"
	WindowManual   WindowType = "manual"
	WindowRecovery WindowType = "recovery"
)

// WindowTypes lists every window type in display order.
var WindowTypes = []WindowType{WindowWork, WindowBreak, WindowMeeting, WindowAuto, WindowManual, WindowRecovery}

// Valid reports whether t is a known window type.
func (t WindowType) Valid() bool {
	for _, known := range WindowTypes {
		if t == known {
			return true
		}
	}
	return false
}

// WindowStatus is the state of a time window. Merged windows are superseded
// by the window(s) named in their Successor provenance.
type WindowStatus string

const (
	WindowActive WindowStatus = "active"
	WindowClosed WindowStatus = "closed"
	WindowMerged WindowStatus = "merged"
)

// Valid reports whether s is a known window status.
func (s WindowStatus) Valid() bool {
	switch s {
	case WindowActive, WindowClosed, WindowMerged:
		return true
	}
	return false
}

// TimeWindow is a bounded interval [StartTime, EndTime) attached to a session.
type TimeWindow struct {
	ID        string
	SessionID string
	StartTime time.Time
	EndTime   time.Time
	Name      string
	Type      WindowType
	Status    WindowStatus

	// Origin records how the window was produced (nil, SplitFrom or MergedFrom).
	Origin Provenance

	// Successor records what superseded the window (nil, SplitInto or MergedInto).
	Successor Provenance

	// Boundaries holds preserved input boundaries of a merge, sorted and unique.
	Boundaries []time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Duration returns EndTime - StartTime.
func (w TimeWindow) Duration() time.Duration {
	return w.EndTime.Sub(w.StartTime)
}

// ContainsStrict reports whether start < t < end.
func (w TimeWindow) ContainsStrict(t time.Time) bool {
	return w.StartTime.Before(t) && t.Before(w.EndTime)
}

// Summary returns the compact form stored in merge provenance.
func (w TimeWindow) Summary() WindowSummary {
	return WindowSummary{
		ID:    w.ID,
		Start: w.StartTime,
		End:   w.EndTime,
		Name:  w.Name,
		Type:  w.Type,
	}
}

// Normalize truncates t to the millisecond precision the store keeps and
// converts it to UTC, so values round-trip unchanged.
func Normalize(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.UnixMilli(t.UnixMilli()).UTC()
}

// WindowSummary is a snapshot of a window kept inside merge provenance.
type WindowSummary struct {
	ID    string     `json:"id"`
	Start time.Time  `json:"start"`
	End   time.Time  `json:"end"`
	Name  string     `json:"name,omitempty"`
	Type  WindowType `json:"type"`
}

type timeWindowJSON struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	DurationMS int64           `json:"duration_ms"`
	Name       string          `json:"name,omitempty"`
	Type       WindowType      `json:"type"`
	Status     WindowStatus    `json:"status"`
	Origin     *ProvenanceJSON `json:"origin,omitempty"`
	Successor  *ProvenanceJSON `json:"successor,omitempty"`
	Boundaries []time.Time     `json:"boundaries,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// MarshalJSON encodes provenance as tagged objects.
func (w TimeWindow) MarshalJSON() ([]byte, error) {
	return json.Marshal(timeWindowJSON{
		ID:         w.ID,
		SessionID:  w.SessionID,
		StartTime:  w.StartTime,
		EndTime:    w.EndTime,
		DurationMS: w.Duration().Milliseconds(),
		Name:       w.Name,
		Type:       w.Type,
		Status:     w.Status,
		Origin:     EncodeProvenance(w.Origin),
		Successor:  EncodeProvenance(w.Successor),
		Boundaries: w.Boundaries,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (w *TimeWindow) UnmarshalJSON(data []byte) error {
	var raw timeWindowJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	origin, err := DecodeProvenance(raw.Origin)
	if err != nil {
		return err
	}
	successor, err := DecodeProvenance(raw.Successor)
	if err != nil {
		return err
	}
	*w = TimeWindow{
		ID:         raw.ID,
		SessionID:  raw.SessionID,
		StartTime:  raw.StartTime,
		EndTime:    raw.EndTime,
		Name:       raw.Name,
		Type:       raw.Type,
		Status:     raw.Status,
		Origin:     origin,
		Successor:  successor,
		Boundaries: raw.Boundaries,
		CreatedAt:  raw.CreatedAt,
		UpdatedAt:  raw.UpdatedAt,
	}
	return nil
}
