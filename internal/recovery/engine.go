// Package recovery composes session matching, lifecycle and window
// detection into the operations a shell or agent calls directly.
package recovery

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/activity"
	"github.com/hpungsan/tether/internal/config"
	"github.com/hpungsan/tether/internal/db"
	"github.com/hpungsan/tether/internal/fingerprint"
	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/model"
	"github.com/hpungsan/tether/internal/notify"
	"github.com/hpungsan/tether/internal/session"
	"github.com/hpungsan/tether/internal/stats"
	"github.com/hpungsan/tether/internal/window"
)

// Shell integration variables exported to child processes.
const (
	EnvSessionID = "TETHER_SESSION_ID"
	EnvTTY       = "TETHER_TTY"
	EnvPID       = "TETHER_PID"
	EnvPPID      = "TETHER_PPID"
)

// Options carries the collaborators shared by every component the engine
// builds. Nil fields get defaults.
type Options struct {
	Clock    clockwork.Clock
	Logger   *zap.Logger
	Observer notify.Observer
	// Source is where RecoverSession collects a fingerprint when none is
	// given. Defaults to fingerprint.OS().
	Source fingerprint.Source
}

// RecoveryInfo is the recovery part of a status summary.
type RecoveryInfo struct {
	Count        int                   `json:"count"`
	LastRecovery *time.Time            `json:"last_recovery,omitempty"`
	Source       *model.RecoverySource `json:"source,omitempty"`
	Enabled      bool                  `json:"enabled"`
}

// StatusSummary is the externally visible state of a session.
type StatusSummary struct {
	SessionID         string              `json:"session_id"`
	Status            model.SessionStatus `json:"status"`
	CurrentTaskID     *string             `json:"current_task_id"`
	TaskCount         int                 `json:"task_count"`
	FileCount         int                 `json:"file_count"`
	SessionDurationMs int64               `json:"session_duration_ms"`
	ShellIntegrated   bool                `json:"shell_integrated"`
	Recovery          *RecoveryInfo       `json:"recovery,omitempty"`
}

// Engine is the only component that calls across the session and window
// layers.
type Engine struct {
	db       *sql.DB
	cfg      *config.Config
	clock    clockwork.Clock
	log      *zap.Logger
	obs      notify.Observer
	source   fingerprint.Source
	sessions *session.Manager
	windows  *window.Store
	detector *window.Detector
	activity *activity.Recorder
	stats    *stats.Aggregator
}

// New wires an Engine and its components over database.
func New(database *sql.DB, cfg *config.Config, opts Options) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	source := opts.Source
	if source == nil {
		source = fingerprint.OS()
	}
	log := logging.OrNop(opts.Logger)
	obs := notify.OrNop(opts.Observer)

	sessions := session.NewManager(database, cfg, session.Options{Clock: clock, Logger: log, Observer: obs})
	windows := window.NewStore(database, cfg, window.Options{Clock: clock, Logger: log, Observer: obs})

	return &Engine{
		db:       database,
		cfg:      cfg,
		clock:    clock,
		log:      log.Named("recovery"),
		obs:      obs,
		source:   source,
		sessions: sessions,
		windows:  windows,
		detector: window.NewDetector(windows),
		activity: activity.NewRecorder(database, sessions, log),
		stats:    stats.NewAggregator(database, log),
	}
}

// Sessions returns the lifecycle manager.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// Windows returns the window store.
func (e *Engine) Windows() *window.Store { return e.windows }

// Activity returns the activity recorder.
func (e *Engine) Activity() *activity.Recorder { return e.activity }

// Stats returns the statistics aggregator.
func (e *Engine) Stats() *stats.Aggregator { return e.stats }

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Fingerprint collects the current process fingerprint from the engine's source.
func (e *Engine) Fingerprint() fingerprint.Fingerprint {
	return fingerprint.Collect(e.source)
}

// Initialize detects (or creates) the session for fp and starts its
// inactivity monitor. The returned session is the caller's handle.
func (e *Engine) Initialize(ctx context.Context, fp fingerprint.Fingerprint) (*model.Session, error) {
	s, err := e.sessions.Detect(ctx, fp)
	if err != nil {
		return nil, err
	}
	e.sessions.Watch(s.ID)
	return s, nil
}

// RecoverSession resumes the session fp belongs to: a live match first,
// then a disconnected session with recovery enabled. It never creates a
// session. A nil fp is collected from the engine's source. Returns nil when
// nothing matches or the store fails.
func (e *Engine) RecoverSession(ctx context.Context, fp *fingerprint.Fingerprint) *model.Session {
	if fp == nil {
		collected := e.Fingerprint()
		fp = &collected
	}

	match := e.sessions.Matcher().Find(ctx, *fp)
	if match == nil {
		match = e.sessions.Matcher().FindRecoverable(ctx, *fp)
	}
	if match == nil {
		e.log.Debug("no recoverable session", zap.String("tty", fp.TTY), zap.Int("pid", fp.PID))
		return nil
	}
	return e.resume(ctx, match.Session.ID, *fp, match.Source)
}

// RecoverByID resumes a known session explicitly, whatever its status.
// Returns nil when the id is unknown or the store fails.
func (e *Engine) RecoverByID(ctx context.Context, id string, fp *fingerprint.Fingerprint) *model.Session {
	if fp == nil {
		collected := e.Fingerprint()
		fp = &collected
	}
	if e.sessions.Get(ctx, id) == nil {
		return nil
	}
	return e.resume(ctx, id, *fp, model.SourceID)
}

func (e *Engine) resume(ctx context.Context, id string, fp fingerprint.Fingerprint, source model.RecoverySource) *model.Session {
	s, err := e.sessions.Resume(ctx, id, fp, source)
	if err != nil {
		e.log.Warn("session recovery failed", zap.String("session_id", id), zap.Error(err))
		return nil
	}
	e.sessions.Watch(s.ID)
	e.log.Info("session recovered", zap.String("session_id", s.ID), zap.String("source", string(source)))
	e.obs.Notify(notify.Event{Type: notify.EventSessionRecovered, SessionID: s.ID, Source: string(source), At: e.clock.Now()})
	return s
}

// EnableSessionRecovery marks the session recoverable after it disconnects.
// Reports false when the session is unknown or the store fails.
func (e *Engine) EnableSessionRecovery(ctx context.Context, id string) bool {
	if err := e.sessions.EnableRecovery(ctx, id); err != nil {
		e.log.Warn("enable recovery failed", zap.String("session_id", id), zap.Error(err))
		return false
	}
	e.obs.Notify(notify.Event{Type: notify.EventRecoveryEnabled, SessionID: id, At: e.clock.Now()})
	return true
}

// Status summarizes a session. Returns nil when it is unknown or the store fails.
func (e *Engine) Status(ctx context.Context, id string) *StatusSummary {
	s := e.sessions.Get(ctx, id)
	if s == nil {
		return nil
	}

	counts, err := db.CountActivity(ctx, e.db, id, time.Time{}, time.Time{})
	if err != nil {
		e.log.Warn("activity count failed", zap.String("session_id", id), zap.Error(err))
	}

	sum := &StatusSummary{
		SessionID:         s.ID,
		Status:            s.Status,
		CurrentTaskID:     s.CurrentTaskID,
		TaskCount:         counts.Tasks,
		FileCount:         counts.Files,
		SessionDurationMs: s.Duration(e.clock.Now()).Milliseconds(),
		ShellIntegrated:   e.cfg.ShellIntegration,
	}
	if s.RecoveryEnabled || s.RecoveryCount > 0 {
		sum.Recovery = &RecoveryInfo{
			Count:        s.RecoveryCount,
			LastRecovery: s.LastRecovery,
			Source:       s.RecoverySource,
			Enabled:      s.RecoveryEnabled,
		}
	}
	return sum
}

// ShellEnv returns the variables a shell exports for child processes, or
// an empty map when shell integration is off.
func (e *Engine) ShellEnv(s *model.Session) map[string]string {
	env := map[string]string{}
	if s == nil || !e.cfg.ShellIntegration {
		return env
	}
	env[EnvSessionID] = s.ID
	env[EnvTTY] = s.TTY
	env[EnvPID] = strconv.Itoa(s.PID)
	env[EnvPPID] = strconv.Itoa(s.PPID)
	return env
}

// DetectWindows runs auto-window detection over the session's recorded activity.
func (e *Engine) DetectWindows(ctx context.Context, id string, mergeAdjacent bool) ([]*model.TimeWindow, error) {
	s, err := db.GetSession(ctx, e.db, id)
	if err != nil {
		return nil, err
	}
	events, err := e.activity.Events(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.detector.Detect(ctx, window.DetectInput{Session: s, Events: events, MergeAdjacent: mergeAdjacent})
}

// Disconnect ends a session. Reports false when it is unknown or the store fails.
func (e *Engine) Disconnect(ctx context.Context, id string) bool {
	if err := e.sessions.Disconnect(ctx, id); err != nil {
		e.log.Warn("disconnect failed", zap.String("session_id", id), zap.Error(err))
		return false
	}
	return true
}

// Close stops every inactivity monitor.
func (e *Engine) Close() {
	e.sessions.Close()
}
