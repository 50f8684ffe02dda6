// Package fingerprint snapshots the OS-level signals that identify a terminal.
package fingerprint

import (
	"runtime"
	"strings"
	"time"

	"github.com/hpungsan/tether/internal/model"
)

// Fingerprint is an immutable snapshot of a process's terminal identity.
type Fingerprint struct {
	TTY           string    `json:"tty"`
	PID           int       `json:"pid"`
	PPID          int       `json:"ppid"`
	User          string    `json:"user"`
	Shell         string    `json:"shell"`
	Term          string    `json:"term"`
	TermProgram   string    `json:"term_program,omitempty"`
	SSHConnection string    `json:"ssh_connection,omitempty"`
	TmuxSession   string    `json:"tmux_session,omitempty"`
	TmuxPane      string    `json:"tmux_pane,omitempty"`
	ScreenSession string    `json:"screen_session,omitempty"`
	CapturedAt    time.Time `json:"captured_at"`
}

// Metadata returns the multiplexer and remote identifiers used as matching
// keys, omitting empty values.
func (f Fingerprint) Metadata() map[string]string {
	return model.UnionMetadata(nil, map[string]string{
		model.MetaSSHConnection: f.SSHConnection,
		model.MetaTmuxSession:   f.TmuxSession,
		model.MetaTmuxPane:      f.TmuxPane,
		model.MetaScreenSession: f.ScreenSession,
		model.MetaTermProgram:   f.TermProgram,
	})
}

// Source supplies raw process signals. OS() is the live implementation.
type Source interface {
	Getenv(key string) string
	PID() int
	PPID() int
	TTY() string
	Username() string
	GOOS() string
	Now() time.Time
}

// Collect builds a Fingerprint from src. Every missing signal degrades to an
// empty or platform default value; Collect never fails.
func Collect(src Source) Fingerprint {
	fp := Fingerprint{
		TTY:           strings.TrimSpace(src.TTY()),
		PID:           src.PID(),
		PPID:          src.PPID(),
		User:          src.Username(),
		Shell:         src.Getenv("SHELL"),
		Term:          src.Getenv("TERM"),
		TermProgram:   src.Getenv("TERM_PROGRAM"),
		SSHConnection: src.Getenv("SSH_CONNECTION"),
		TmuxPane:      src.Getenv("TMUX_PANE"),
		ScreenSession: src.Getenv("STY"),
		CapturedAt:    src.Now(),
	}

	if fp.User == "" {
		fp.User = src.Getenv("USER")
	}
	if fp.User == "" {
		fp.User = src.Getenv("USERNAME")
	}
	if fp.Shell == "" {
		fp.Shell = DefaultShell(src.GOOS())
	}
	if tmux := src.Getenv("TMUX"); tmux != "" {
		fp.TmuxSession = tmuxSessionID(tmux)
	}
	if fp.PID < 0 {
		fp.PID = 0
	}
	if fp.PPID < 0 {
		fp.PPID = 0
	}

	return fp
}

// DefaultShell is the shell assumed when SHELL is unset.
func DefaultShell(goos string) string {
	switch goos {
	case "darwin":
		return "/bin/zsh"
	case "windows":
		return "cmd.exe"
	default:
		return "/bin/bash"
	}
}

// tmuxSessionID reduces $TMUX ("socket,server-pid,session-index") to
// "socket,session-index". The server pid changes when tmux restarts, the
// socket and session index do not.
func tmuxSessionID(tmux string) string {
	parts := strings.Split(tmux, ",")
	if len(parts) != 3 {
		return tmux
	}
	return parts[0] + "," + parts[2]
}

// Static is a fixed Source, handy for tests and for replaying a stored fingerprint.
type Static struct {
	Env      map[string]string
	Pid      int
	Ppid     int
	Tty      string
	User     string
	OS       string
	Captured time.Time
}

func (s Static) Getenv(key string) string { return s.Env[key] }
func (s Static) PID() int                 { return s.Pid }
func (s Static) PPID() int                { return s.Ppid }
func (s Static) TTY() string              { return s.Tty }
func (s Static) Username() string         { return s.User }
func (s Static) Now() time.Time           { return s.Captured }

func (s Static) GOOS() string {
	if s.OS == "" {
		return runtime.GOOS
	}
	return s.OS
}
