package session

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hpungsan/tether/internal/config"
	"github.com/hpungsan/tether/internal/db"
	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/fingerprint"
	"github.com/hpungsan/tether/internal/ids"
	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/model"
	"github.com/hpungsan/tether/internal/notify"
)

// Options carries the collaborators a Manager needs besides the store.
// Nil fields get defaults: real clock, no-op logger, no-op observer.
type Options struct {
	Clock    clockwork.Clock
	Logger   *zap.Logger
	Observer notify.Observer
}

// Manager owns session state transitions and the per-session inactivity monitor.
type Manager struct {
	db      *sql.DB
	cfg     *config.Config
	clock   clockwork.Clock
	log     *zap.Logger
	obs     notify.Observer
	matcher *Matcher

	detect singleflight.Group

	mu       sync.Mutex
	watchers map[string]context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
}

// NewManager creates a Manager. A nil cfg uses config.DefaultConfig().
func NewManager(database *sql.DB, cfg *config.Config, opts Options) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := logging.OrNop(opts.Logger)
	return &Manager{
		db:       database,
		cfg:      cfg,
		clock:    clock,
		log:      log.Named("session"),
		obs:      notify.OrNop(opts.Observer),
		matcher:  NewMatcher(database, log),
		watchers: make(map[string]context.CancelFunc),
	}
}

// Matcher returns the matcher the manager detects with.
func (m *Manager) Matcher() *Matcher { return m.matcher }

// Detect reconnects fp to its live session or creates a new one. Concurrent
// calls for the same fingerprint share one in-flight detection and receive
// the same session.
func (m *Manager) Detect(ctx context.Context, fp fingerprint.Fingerprint) (*model.Session, error) {
	v, err, _ := m.detect.Do(detectKey(fp), func() (any, error) {
		if match := m.matcher.Find(ctx, fp); match != nil {
			return m.Reconnect(ctx, match.Session.ID, fp)
		}
		return m.Create(ctx, fp)
	})
	if err != nil {
		return nil, err
	}
	// Waiters share one result; each gets its own copy.
	s := *v.(*model.Session)
	s.Metadata = maps.Clone(s.Metadata)
	return &s, nil
}

func detectKey(fp fingerprint.Fingerprint) string {
	return fmt.Sprintf("%s|%d|%d|%s|%s|%s|%s", fp.TTY, fp.PID, fp.PPID, fp.TmuxSession, fp.TmuxPane, fp.ScreenSession, fp.User)
}

// Create persists a brand-new active session for fp.
func (m *Manager) Create(ctx context.Context, fp fingerprint.Fingerprint) (*model.Session, error) {
	now := model.Normalize(m.clock.Now())
	s := &model.Session{
		ID:              ids.New(now),
		TTY:             fp.TTY,
		PID:             fp.PID,
		PPID:            fp.PPID,
		User:            fp.User,
		Shell:           fp.Shell,
		Term:            fp.Term,
		StartTime:       now,
		LastActive:      now,
		Status:          model.SessionActive,
		ConnectionCount: 1,
		Metadata:        fp.Metadata(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := db.InsertSession(ctx, m.db, s); err != nil {
		return nil, err
	}

	m.log.Info("session created", zap.String("session_id", s.ID), zap.String("tty", s.TTY), zap.Int("pid", s.PID))
	m.emit(notify.EventSessionCreated, s.ID, "")
	return s, nil
}

// Reconnect refreshes the identity of a live session, unions its metadata
// and increments its connection count. Disconnected sessions are rejected;
// they come back only through Resume.
func (m *Manager) Reconnect(ctx context.Context, id string, fp fingerprint.Fingerprint) (*model.Session, error) {
	s, err := db.GetSession(ctx, m.db, id)
	if err != nil {
		return nil, err
	}
	if s.Status == model.SessionDisconnected {
		return nil, errors.NewValidationf("session %s is disconnected; recover it instead", id)
	}

	now := model.Normalize(m.clock.Now())
	refresh(s, fp, now)
	s.ConnectionCount++

	if err := db.UpdateSession(ctx, m.db, s); err != nil {
		return nil, err
	}

	m.log.Info("session reconnected", zap.String("session_id", s.ID), zap.Int("connection_count", s.ConnectionCount))
	m.emit(notify.EventSessionReconnected, s.ID, "")
	return s, nil
}

// Resume is the recovery transition: it reactivates the session (from any
// status), refreshes identity and bumps both connection and recovery counts.
func (m *Manager) Resume(ctx context.Context, id string, fp fingerprint.Fingerprint, source model.RecoverySource) (*model.Session, error) {
	s, err := db.GetSession(ctx, m.db, id)
	if err != nil {
		return nil, err
	}

	now := model.Normalize(m.clock.Now())
	refresh(s, fp, now)
	s.ConnectionCount++
	s.RecoveryCount++
	s.LastRecovery = &now
	s.RecoverySource = &source

	if err := db.UpdateSession(ctx, m.db, s); err != nil {
		return nil, err
	}

	m.log.Info("session resumed",
		zap.String("session_id", s.ID),
		zap.String("source", string(source)),
		zap.Int("recovery_count", s.RecoveryCount),
	)
	return s, nil
}

// refresh applies the identity fields of fp and marks s active at now.
func refresh(s *model.Session, fp fingerprint.Fingerprint, now time.Time) {
	if fp.TTY != "" {
		s.TTY = fp.TTY
	}
	if fp.PID != 0 {
		s.PID = fp.PID
		s.PPID = fp.PPID
	}
	if fp.Shell != "" {
		s.Shell = fp.Shell
	}
	if fp.Term != "" {
		s.Term = fp.Term
	}
	if s.User == "" {
		s.User = fp.User
	}
	s.Metadata = model.UnionMetadata(s.Metadata, fp.Metadata())
	s.Status = model.SessionActive
	if now.After(s.LastActive) {
		s.LastActive = now
	}
	s.UpdatedAt = now
}

// Touch records activity: last_active moves forward and an inactive session
// becomes active again. Reports false when id is not a live session.
func (m *Manager) Touch(ctx context.Context, id string) (bool, error) {
	return db.TouchSession(ctx, m.db, id, model.Normalize(m.clock.Now()))
}

// Disconnect moves a session to disconnected and stops its monitor.
// Disconnecting an already disconnected session is a no-op.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	m.unwatch(id)

	s, err := db.GetSession(ctx, m.db, id)
	if err != nil {
		return err
	}
	if s.Status == model.SessionDisconnected {
		return nil
	}

	s.Status = model.SessionDisconnected
	s.UpdatedAt = model.Normalize(m.clock.Now())
	if err := db.UpdateSession(ctx, m.db, s); err != nil {
		return err
	}

	m.log.Info("session disconnected", zap.String("session_id", id))
	m.emit(notify.EventSessionDisconnected, id, "")
	return nil
}

// EnableRecovery marks a session as a candidate for explicit recovery.
// The recovery count is not touched.
func (m *Manager) EnableRecovery(ctx context.Context, id string) error {
	s, err := db.GetSession(ctx, m.db, id)
	if err != nil {
		return err
	}
	if s.RecoveryEnabled {
		return nil
	}
	s.RecoveryEnabled = true
	s.UpdatedAt = model.Normalize(m.clock.Now())
	return db.UpdateSession(ctx, m.db, s)
}

// SetCurrentTask records the task the session is working on. An empty
// taskID clears it.
func (m *Manager) SetCurrentTask(ctx context.Context, id, taskID string) error {
	s, err := db.GetSession(ctx, m.db, id)
	if err != nil {
		return err
	}
	if taskID == "" {
		s.CurrentTaskID = nil
	} else {
		s.CurrentTaskID = &taskID
	}
	s.UpdatedAt = model.Normalize(m.clock.Now())
	return db.UpdateSession(ctx, m.db, s)
}

// Get returns the session, or nil when it is unknown or the store fails.
func (m *Manager) Get(ctx context.Context, id string) *model.Session {
	s, err := db.GetSession(ctx, m.db, id)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			m.log.Warn("get session failed", zap.String("session_id", id), zap.Error(err))
		}
		return nil
	}
	return s
}

// List returns sessions most recently active first, optionally limited to
// the given statuses. A limit <= 0 returns all of them.
func (m *Manager) List(ctx context.Context, limit int, statuses ...model.SessionStatus) ([]*model.Session, error) {
	for _, st := range statuses {
		if !st.Valid() {
			return nil, errors.NewValidationf("unknown session status: %s", st)
		}
	}
	return db.ListSessions(ctx, m.db, limit, statuses...)
}

// Watch starts the inactivity monitor for id. Watching an id twice, or
// after Close, is a no-op.
func (m *Manager) Watch(id string) {
	interval := m.cfg.InactivityCheckInterval()
	if interval <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, ok := m.watchers[id]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.watchers[id] = cancel
	ticker := m.clock.NewTicker(interval)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				m.checkInactive(ctx, id)
			}
		}
	}()
}

// Watching reports whether an inactivity monitor is running for id.
func (m *Manager) Watching(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watchers[id]
	return ok
}

func (m *Manager) unwatch(id string) {
	m.mu.Lock()
	cancel, ok := m.watchers[id]
	delete(m.watchers, id)
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

func (m *Manager) checkInactive(ctx context.Context, id string) {
	now := model.Normalize(m.clock.Now())
	changed, err := db.MarkInactive(ctx, m.db, id, now.Add(-m.cfg.InactivityTimeout()), now)
	if err != nil {
		if ctx.Err() == nil {
			m.log.Warn("inactivity check failed", zap.String("session_id", id), zap.Error(err))
		}
		return
	}
	if changed {
		m.log.Info("session inactive", zap.String("session_id", id))
		m.emit(notify.EventSessionInactive, id, "")
	}
}

// Close stops every inactivity monitor and waits for them to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	cancels := make([]context.CancelFunc, 0, len(m.watchers))
	for id, cancel := range m.watchers {
		cancels = append(cancels, cancel)
		delete(m.watchers, id)
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.wg.Wait()
}

// Clock exposes the manager's clock so collaborators share one time source.
func (m *Manager) Clock() clockwork.Clock { return m.clock }

func (m *Manager) emit(t notify.EventType, sessionID string, source model.RecoverySource) {
	m.obs.Notify(notify.Event{Type: t, SessionID: sessionID, Source: string(source), At: m.clock.Now()})
}
