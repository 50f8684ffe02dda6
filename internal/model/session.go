package model

import "time"

// SessionStatus is the lifecycle state of a terminal session.
type SessionStatus string

const (
	SessionActive       SessionStatus = "active"
	SessionInactive     SessionStatus = "inactive"
	SessionDisconnected SessionStatus = "disconnected"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionInactive, SessionDisconnected:
		return true
	}
	return false
}

// RecoverySource names the fingerprint signal that re-associated a process
// with a persisted session.
type RecoverySource string

const (
	SourceTTY    RecoverySource = "tty"
	SourcePID    RecoverySource = "pid"
	SourceTmux   RecoverySource = "tmux"
	SourceScreen RecoverySource = "screen"
	SourceID     RecoverySource = "id"
)

// Metadata keys holding multiplexer and remote identifiers. These are the
// matching keys for future recovery and are never removed once written.
const (
	MetaSSHConnection = "ssh_connection"
	MetaTmuxSession   = "tmux_session"
	MetaTmuxPane      = "tmux_pane"
	MetaScreenSession = "screen_session"
	MetaTermProgram   = "term_program"
)

// Session is a persisted terminal identity plus its activity timeline anchor.
type Session struct {
	// ID is a ULID that uniquely identifies this session
	ID string `json:"id"`

	// TTY, PID and PPID are refreshed on every reconnect
	TTY  string `json:"tty"`
	PID  int    `json:"pid"`
	PPID int    `json:"ppid"`

	User  string `json:"user"`
	Shell string `json:"shell"`
	Term  string `json:"term"`

	StartTime  time.Time     `json:"start_time"`
	LastActive time.Time     `json:"last_active"`
	Status     SessionStatus `json:"status"`

	// ConnectionCount starts at 1 and grows with each reconnect or resume
	ConnectionCount int `json:"connection_count"`

	// RecoveryCount only grows when a recovery actually succeeds
	RecoveryCount   int             `json:"recovery_count"`
	LastRecovery    *time.Time      `json:"last_recovery,omitempty"`
	RecoverySource  *RecoverySource `json:"recovery_source,omitempty"`
	RecoveryEnabled bool            `json:"recovery_enabled"`

	// CurrentTaskID references a task owned by the external task repository
	CurrentTaskID *string `json:"current_task_id,omitempty"`

	// Metadata holds ssh/tmux/screen identifiers (additive only)
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration returns how long the session has existed as of now.
func (s *Session) Duration(now time.Time) time.Duration {
	if now.Before(s.StartTime) {
		return 0
	}
	return now.Sub(s.StartTime)
}

// UnionMetadata returns a copy of base with every non-empty entry of extra
// applied on top. Keys present in base are never dropped.
func UnionMetadata(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		if v == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
