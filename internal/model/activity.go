package model

import "time"

// ActivityKind distinguishes the two append-only activity streams.
type ActivityKind string

const (
	ActivityTask ActivityKind = "task"
	ActivityFile ActivityKind = "file"
)

// ActivityEvent is one task-use or file-touch record. Ref is the task id or file path.
type ActivityEvent struct {
	SessionID string       `json:"session_id"`
	Kind      ActivityKind `json:"kind"`
	Ref       string       `json:"ref"`
	Timestamp time.Time    `json:"timestamp"`
}

// ActivityCounts holds distinct task and file counts over a time range.
type ActivityCounts struct {
	Tasks int `json:"tasks"`
	Files int `json:"files"`
}
