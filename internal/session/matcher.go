// Package session re-associates terminal processes with persisted sessions
// and owns their lifecycle transitions.
package session

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/db"
	"github.com/hpungsan/tether/internal/fingerprint"
	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/model"
)

// Match is a matched session and the signal that matched it.
type Match struct {
	Session *model.Session
	Source  model.RecoverySource
}

// Matcher ranks persisted sessions against a fingerprint.
type Matcher struct {
	db  *sql.DB
	log *zap.Logger
}

// NewMatcher creates a Matcher. A nil logger is replaced with a no-op logger.
func NewMatcher(database *sql.DB, log *zap.Logger) *Matcher {
	return &Matcher{db: database, log: logging.OrNop(log).Named("matcher")}
}

var liveStatuses = []model.SessionStatus{model.SessionActive, model.SessionInactive}

// Find returns the live (active or inactive) session fp belongs to, or nil.
// Disconnected sessions are never returned. Store failures are logged and
// count as a miss.
func (m *Matcher) Find(ctx context.Context, fp fingerprint.Fingerprint) *Match {
	return m.match(ctx, fp, liveStatuses, nil)
}

// FindRecoverable is Find over disconnected sessions that opted into recovery.
func (m *Matcher) FindRecoverable(ctx context.Context, fp fingerprint.Fingerprint) *Match {
	return m.match(ctx, fp, []model.SessionStatus{model.SessionDisconnected}, func(s *model.Session) bool {
		return s.RecoveryEnabled
	})
}

// match tries TTY, then (PID, PPID), then multiplexer ids; first hit wins.
func (m *Matcher) match(ctx context.Context, fp fingerprint.Fingerprint, statuses []model.SessionStatus, accept func(*model.Session) bool) *Match {
	ok := func(s *model.Session) bool {
		if fp.User != "" && s.User != "" && s.User != fp.User {
			return false
		}
		return accept == nil || accept(s)
	}

	if fp.TTY != "" {
		sessions, err := db.FindSessionsByTTY(ctx, m.db, fp.TTY, statuses...)
		if err != nil {
			m.log.Warn("tty lookup failed", zap.String("tty", fp.TTY), zap.Error(err))
		}
		if s := first(sessions, ok); s != nil {
			return &Match{Session: s, Source: model.SourceTTY}
		}
	}

	if fp.PID != 0 {
		sessions, err := db.FindSessionsByPID(ctx, m.db, fp.PID, fp.PPID, statuses...)
		if err != nil {
			m.log.Warn("pid lookup failed", zap.Int("pid", fp.PID), zap.Int("ppid", fp.PPID), zap.Error(err))
		}
		if s := first(sessions, ok); s != nil {
			return &Match{Session: s, Source: model.SourcePID}
		}
	}

	if fp.TmuxSession == "" && fp.ScreenSession == "" {
		return nil
	}

	candidates, err := db.ListSessions(ctx, m.db, 0, statuses...)
	if err != nil {
		m.log.Warn("multiplexer scan failed", zap.Error(err))
		return nil
	}

	if fp.TmuxSession != "" {
		if fp.TmuxPane != "" {
			if s := first(candidates, func(s *model.Session) bool {
				return ok(s) &&
					s.Metadata[model.MetaTmuxSession] == fp.TmuxSession &&
					s.Metadata[model.MetaTmuxPane] == fp.TmuxPane
			}); s != nil {
				return &Match{Session: s, Source: model.SourceTmux}
			}
		}
		if s := first(candidates, func(s *model.Session) bool {
			return ok(s) && s.Metadata[model.MetaTmuxSession] == fp.TmuxSession
		}); s != nil {
			return &Match{Session: s, Source: model.SourceTmux}
		}
	}

	if fp.ScreenSession != "" {
		if s := first(candidates, func(s *model.Session) bool {
			return ok(s) && s.Metadata[model.MetaScreenSession] == fp.ScreenSession
		}); s != nil {
			return &Match{Session: s, Source: model.SourceScreen}
		}
	}

	return nil
}

func first(sessions []*model.Session, ok func(*model.Session) bool) *model.Session {
	for _, s := range sessions {
		if ok(s) {
			return s
		}
	}
	return nil
}
