// Package activity records the task-use and file-touch streams that feed
// window detection and statistics.
package activity

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/db"
	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/model"
	"github.com/hpungsan/tether/internal/session"
)

// Recorder appends activity records and keeps the owning session alive.
type Recorder struct {
	db       *sql.DB
	sessions *session.Manager
	log      *zap.Logger
}

// NewRecorder creates a Recorder. Timestamps come from the manager's clock.
func NewRecorder(database *sql.DB, sessions *session.Manager, log *zap.Logger) *Recorder {
	return &Recorder{
		db:       database,
		sessions: sessions,
		log:      logging.OrNop(log).Named("activity"),
	}
}

// RecordTask records that the session used taskID, touches the session and
// makes taskID its current task.
func (r *Recorder) RecordTask(ctx context.Context, sessionID, taskID string) (model.ActivityEvent, error) {
	e, live, err := r.record(ctx, sessionID, model.ActivityTask, taskID)
	if err != nil || !live {
		return e, err
	}
	if err := r.sessions.SetCurrentTask(ctx, sessionID, e.Ref); err != nil {
		return e, err
	}
	return e, nil
}

// RecordFile records that the session touched path and touches the session.
func (r *Recorder) RecordFile(ctx context.Context, sessionID, path string) (model.ActivityEvent, error) {
	e, _, err := r.record(ctx, sessionID, model.ActivityFile, path)
	return e, err
}

// record appends one event. live reports whether the session accepted the
// touch; activity on a disconnected or unknown session is still kept.
func (r *Recorder) record(ctx context.Context, sessionID string, kind model.ActivityKind, ref string) (model.ActivityEvent, bool, error) {
	ref = strings.TrimSpace(ref)
	if sessionID == "" {
		return model.ActivityEvent{}, false, errors.NewInvalidRequest("session_id is required")
	}
	if ref == "" {
		return model.ActivityEvent{}, false, errors.NewInvalidRequest(string(kind) + " reference is required")
	}

	e := model.ActivityEvent{
		SessionID: sessionID,
		Kind:      kind,
		Ref:       ref,
		Timestamp: model.Normalize(r.sessions.Clock().Now()),
	}
	if err := db.InsertActivity(ctx, r.db, e); err != nil {
		return e, false, err
	}

	live, err := r.sessions.Touch(ctx, sessionID)
	if err != nil {
		return e, false, err
	}
	if !live {
		r.log.Warn("activity recorded for session that is not live",
			zap.String("session_id", sessionID),
			zap.String("kind", string(kind)),
		)
	}
	return e, live, nil
}

// Events returns the session's merged activity stream, oldest first.
func (r *Recorder) Events(ctx context.Context, sessionID string) ([]model.ActivityEvent, error) {
	return db.ListActivity(ctx, r.db, sessionID)
}

// Counts returns distinct task and file counts within [from, to).
func (r *Recorder) Counts(ctx context.Context, sessionID string, from, to time.Time) (model.ActivityCounts, error) {
	return db.CountActivity(ctx, r.db, sessionID, from, to)
}

// TaskHistory returns every recorded use of taskID across sessions.
func (r *Recorder) TaskHistory(ctx context.Context, taskID string) ([]model.ActivityEvent, error) {
	return db.TaskActivity(ctx, r.db, taskID)
}
