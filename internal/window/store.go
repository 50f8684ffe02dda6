package window

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/config"
	"github.com/hpungsan/tether/internal/db"
	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/ids"
	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/model"
	"github.com/hpungsan/tether/internal/notify"
)

// Options carries the collaborators a Store needs besides the database.
type Options struct {
	Clock    clockwork.Clock
	Logger   *zap.Logger
	Observer notify.Observer
}

// ListFilter narrows List.
type ListFilter = db.WindowFilter

// CreateOptions controls Create.
type CreateOptions struct {
	Name string
	// Type defaults to manual.
	Type model.WindowType
}

// MergeOptions controls Merge.
type MergeOptions struct {
	Name string
	// Type defaults to the type shared by all inputs, else manual.
	Type model.WindowType
	// PreserveBoundaries keeps every input start/end on the merged window.
	PreserveBoundaries bool
}

// GetOrCreateOptions controls GetOrCreateForTimestamp.
type GetOrCreateOptions struct {
	// WindowDuration defaults to the configured minimum window duration.
	WindowDuration time.Duration
	Name           string
	// Type defaults to auto.
	Type model.WindowType
}

// Store creates and transforms time windows. Windows are never deleted:
// superseded windows are marked merged and point at their successors.
type Store struct {
	db    *sql.DB
	cfg   *config.Config
	clock clockwork.Clock
	log   *zap.Logger
	obs   notify.Observer
}

// NewStore creates a Store. A nil cfg uses config.DefaultConfig().
func NewStore(database *sql.DB, cfg *config.Config, opts Options) *Store {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		db:    database,
		cfg:   cfg,
		clock: clock,
		log:   logging.OrNop(opts.Logger).Named("window"),
		obs:   notify.OrNop(opts.Observer),
	}
}

// Create persists a window over [start, end). Windows shorter than the
// minimum duration are created with a warning. Windows longer than the
// maximum are bisected (unless auto-split is disabled) and only the first
// piece is returned. Overlap with existing windows is reported, not rejected.
func (s *Store) Create(ctx context.Context, sessionID string, start, end time.Time, opts CreateOptions) (*model.TimeWindow, error) {
	leaves, err := s.create(ctx, sessionID, start, end, opts)
	if err != nil {
		return nil, err
	}
	return leaves[0], nil
}

// create is Create returning every persisted piece in chronological order.
func (s *Store) create(ctx context.Context, sessionID string, start, end time.Time, opts CreateOptions) ([]*model.TimeWindow, error) {
	if sessionID == "" {
		return nil, errors.NewInvalidRequest("session_id is required")
	}
	start, end = model.Normalize(start), model.Normalize(end)
	if !end.After(start) {
		return nil, errors.NewValidationf("window end %s must be after start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if opts.Type == "" {
		opts.Type = model.WindowManual
	}
	if !opts.Type.Valid() {
		return nil, errors.NewValidationf("unknown window type: %s", opts.Type)
	}

	iv := Interval{Start: start, End: end}
	if minDur := s.cfg.MinWindowDuration(); iv.Duration() < minDur {
		s.log.Warn("window shorter than minimum duration",
			zap.String("session_id", sessionID),
			zap.Duration("duration", iv.Duration()),
			zap.Duration("min", minDur),
		)
	}

	limit := s.cfg.MaxWindowDuration()
	if s.cfg.DisableAutoSplit {
		limit = 0
	}
	pieces := bisect(iv, opts.Name, limit)
	overlapping := s.overlapping(ctx, sessionID, iv)

	out := make([]*model.TimeWindow, 0, len(pieces))
	created := make([]string, 0, len(pieces))
	for _, p := range pieces {
		w, err := s.insert(ctx, sessionID, p.Interval, p.Name, opts.Type, nil)
		if err != nil {
			return out, err
		}
		out = append(out, w)
		created = append(created, w.ID)
	}
	if len(out) > 1 {
		s.log.Info("window bisected",
			zap.String("session_id", sessionID),
			zap.Int("pieces", len(out)),
			zap.Duration("max", s.cfg.MaxWindowDuration()),
		)
	}
	if len(overlapping) > 0 {
		s.log.Warn("window overlaps existing windows",
			zap.String("session_id", sessionID),
			zap.Strings("window_ids", created),
			zap.Strings("overlapping", overlapping),
		)
		s.emit(notify.EventWindowOverlap, sessionID, append(created, overlapping...)...)
	}
	return out, nil
}

// insert writes one window.
func (s *Store) insert(ctx context.Context, sessionID string, iv Interval, name string, typ model.WindowType, origin model.Provenance) (*model.TimeWindow, error) {
	now := model.Normalize(s.clock.Now())
	w := &model.TimeWindow{
		ID:        ids.New(now),
		SessionID: sessionID,
		StartTime: iv.Start,
		EndTime:   iv.End,
		Name:      name,
		Type:      typ,
		Status:    model.WindowActive,
		Origin:    origin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.InsertWindow(ctx, s.db, w); err != nil {
		return nil, err
	}
	s.emit(notify.EventWindowCreated, sessionID, w.ID)
	return w, nil
}

// overlapping returns the ids of the session's non-merged windows that
// overlap iv. A failed check is logged and reported as no overlap.
func (s *Store) overlapping(ctx context.Context, sessionID string, iv Interval) []string {
	existing, err := db.FindWindowsOverlapping(ctx, s.db, sessionID, iv.Start, iv.End)
	if err != nil {
		s.log.Warn("overlap check failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	var out []string
	for _, e := range existing {
		if Overlaps(intervalOf(e), iv.Start, iv.End) {
			out = append(out, e.ID)
		}
	}
	return out
}

// Get returns a window by id, merged windows included.
func (s *Store) Get(ctx context.Context, id string) (*model.TimeWindow, error) {
	return db.GetWindow(ctx, s.db, id)
}

// List returns windows matching f ordered by start time.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*model.TimeWindow, error) {
	return db.ListWindows(ctx, s.db, f)
}

// FindOverlapping returns the session's non-merged windows that touch [start, end].
func (s *Store) FindOverlapping(ctx context.Context, sessionID string, start, end time.Time) ([]*model.TimeWindow, error) {
	return db.FindWindowsOverlapping(ctx, s.db, sessionID, model.Normalize(start), model.Normalize(end))
}

// FindAtTime returns the non-merged window with start < t < end. When
// several qualify the one ending last wins. Returns nil on a miss or when
// the store fails.
func (s *Store) FindAtTime(ctx context.Context, sessionID string, t time.Time) *model.TimeWindow {
	ws, err := db.FindWindowsContaining(ctx, s.db, sessionID, model.Normalize(t))
	if err != nil {
		s.log.Warn("find window at time failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	if len(ws) == 0 {
		return nil
	}
	return ws[0]
}

// GetOrCreateForTimestamp returns the window containing t, creating one
// centred on t when none exists and auto-creation is enabled.
func (s *Store) GetOrCreateForTimestamp(ctx context.Context, sessionID string, t time.Time, opts GetOrCreateOptions) (*model.TimeWindow, error) {
	if w := s.FindAtTime(ctx, sessionID, t); w != nil {
		return w, nil
	}
	if s.cfg.DisableAutoCreate {
		return nil, errors.NewValidationf("no window contains %s and auto-creation is disabled", t.Format(time.RFC3339))
	}

	d := opts.WindowDuration
	if d <= 0 {
		d = s.cfg.MinWindowDuration()
	}
	if d <= 0 {
		d = 15 * time.Minute
	}
	// A centred window longer than the maximum would be bisected at t,
	// leaving t on a boundary of every piece.
	if maxDur := s.cfg.MaxWindowDuration(); !s.cfg.DisableAutoSplit && maxDur > 0 && d > maxDur {
		d = maxDur
	}
	if opts.Type == "" {
		opts.Type = model.WindowAuto
	}
	start := t.Add(-d / 2)
	return s.Create(ctx, sessionID, start, start.Add(d), CreateOptions{Name: opts.Name, Type: opts.Type})
}

// Split cuts an active window at at into [start, at) and [at, end), or
// leaves a clamped gap around at when opts.CreateGap is set. The parent is
// marked merged and points at both children.
func (s *Store) Split(ctx context.Context, id string, at time.Time, opts SplitOptions) ([]*model.TimeWindow, error) {
	parent, err := db.GetWindow(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if parent.Status != model.WindowActive {
		return nil, errors.NewValidationf("window %s is %s; only active windows can be split", id, parent.Status)
	}

	at = model.Normalize(at)
	left, right, err := splitBounds(intervalOf(parent), at, opts)
	if err != nil {
		return nil, err
	}

	origin := model.SplitFrom{Parent: parent.ID, At: at}
	lw, err := s.insert(ctx, parent.SessionID, left, parent.Name, parent.Type, origin)
	if err != nil {
		return nil, err
	}
	rw, err := s.insert(ctx, parent.SessionID, right, parent.Name, parent.Type, origin)
	if err != nil {
		return nil, err
	}

	successor := model.SplitInto{Children: []string{lw.ID, rw.ID}, At: at}
	if err := db.SupersedeWindow(ctx, s.db, parent.ID, successor, model.Normalize(s.clock.Now())); err != nil {
		return nil, err
	}

	s.log.Info("window split",
		zap.String("window_id", parent.ID),
		zap.Time("at", at),
		zap.Strings("children", successor.Children),
	)
	s.emit(notify.EventWindowSplit, parent.SessionID, lw.ID, rw.ID, parent.ID)
	return []*model.TimeWindow{lw, rw}, nil
}

// Merge replaces two or more windows of one session with a single window
// spanning [min(start), max(end)]. The result does not depend on the order
// of ids.
func (s *Store) Merge(ctx context.Context, windowIDs []string, opts MergeOptions) (*model.TimeWindow, error) {
	unique := dedupe(windowIDs)
	if len(unique) < 2 {
		return nil, errors.NewValidation("merge needs at least two distinct windows")
	}
	if opts.Type != "" && !opts.Type.Valid() {
		return nil, errors.NewValidationf("unknown window type: %s", opts.Type)
	}

	inputs := make([]*model.TimeWindow, 0, len(unique))
	for _, id := range unique {
		w, err := db.GetWindow(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if w.Status == model.WindowMerged {
			return nil, errors.NewValidationf("window %s is already merged", id)
		}
		if len(inputs) > 0 && w.SessionID != inputs[0].SessionID {
			return nil, errors.NewValidation("windows belong to different sessions")
		}
		inputs = append(inputs, w)
	}
	sortWindows(inputs)
	return s.combine(ctx, inputs, span(inputs), opts)
}

// absorb supersedes stale with a single auto window covering both them and
// seg. Detection uses it when new activity extends windows it created on an
// earlier run.
func (s *Store) absorb(ctx context.Context, stale []*model.TimeWindow, seg Interval) (*model.TimeWindow, error) {
	inputs := append([]*model.TimeWindow(nil), stale...)
	sortWindows(inputs)
	iv := span(inputs)
	if seg.Start.Before(iv.Start) {
		iv.Start = seg.Start
	}
	if seg.End.After(iv.End) {
		iv.End = seg.End
	}
	return s.combine(ctx, inputs, iv, MergeOptions{Type: model.WindowAuto})
}

// combine persists one window over iv and supersedes the sorted inputs.
func (s *Store) combine(ctx context.Context, inputs []*model.TimeWindow, iv Interval, opts MergeOptions) (*model.TimeWindow, error) {
	if maxDur := s.cfg.MaxWindowDuration(); maxDur > 0 && iv.Duration() > maxDur {
		s.log.Warn("merged window exceeds maximum duration",
			zap.Duration("duration", iv.Duration()),
			zap.Duration("max", maxDur),
		)
	}

	parents := make([]string, len(inputs))
	originals := make([]model.WindowSummary, len(inputs))
	for i, w := range inputs {
		parents[i] = w.ID
		originals[i] = w.Summary()
	}

	name := opts.Name
	if name == "" {
		for _, w := range inputs {
			if w.Name != "" {
				name = w.Name
				break
			}
		}
	}

	now := model.Normalize(s.clock.Now())
	merged := &model.TimeWindow{
		ID:        ids.New(now),
		SessionID: inputs[0].SessionID,
		StartTime: iv.Start,
		EndTime:   iv.End,
		Name:      name,
		Type:      mergedType(opts.Type, inputs),
		Status:    model.WindowActive,
		Origin:    model.MergedFrom{Parents: parents, Originals: originals},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if opts.PreserveBoundaries {
		merged.Boundaries = boundaries(inputs)
	}

	if err := db.InsertWindow(ctx, s.db, merged); err != nil {
		return nil, err
	}
	for _, w := range inputs {
		if err := db.SupersedeWindow(ctx, s.db, w.ID, model.MergedInto{Parent: merged.ID}, now); err != nil {
			return nil, err
		}
	}

	s.log.Info("windows merged", zap.String("window_id", merged.ID), zap.Strings("parents", parents))
	s.emit(notify.EventWindowMerged, merged.SessionID, append([]string{merged.ID}, parents...)...)
	return merged, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Close marks an active window closed. Closing a closed window is a no-op;
// merged windows cannot be closed.
func (s *Store) Close(ctx context.Context, id string) (*model.TimeWindow, error) {
	changed, err := db.SetWindowStatus(ctx, s.db, id, model.WindowClosed, model.Normalize(s.clock.Now()), model.WindowActive)
	if err != nil {
		return nil, err
	}
	w, err := db.GetWindow(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !changed {
		if w.Status == model.WindowMerged {
			return nil, errors.NewValidationf("window %s is merged; close its successor instead", id)
		}
		return w, nil
	}
	s.emit(notify.EventWindowClosed, w.SessionID, w.ID)
	return w, nil
}

// Canonical follows successor links forward from id and returns the live
// windows that now represent it. A successor that was never written is
// skipped; if none of a window's successors exist, the window itself is
// treated as canonical.
func (s *Store) Canonical(ctx context.Context, id string) ([]*model.TimeWindow, error) {
	root, err := db.GetWindow(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	var out []*model.TimeWindow
	seen := map[string]bool{root.ID: true}
	queue := []*model.TimeWindow{root}
	for len(queue) > 0 {
		w := queue[0]
		queue = queue[1:]

		if w.Status != model.WindowMerged {
			out = append(out, w)
			continue
		}

		found := false
		for _, next := range model.SuccessorIDs(w.Successor) {
			if seen[next] {
				found = true
				continue
			}
			nw, err := db.GetWindow(ctx, s.db, next)
			if err != nil {
				if !errors.Is(err, errors.ErrNotFound) {
					return nil, err
				}
				s.log.Warn("successor window missing", zap.String("window_id", w.ID), zap.String("successor", next))
				continue
			}
			seen[next] = true
			found = true
			queue = append(queue, nw)
		}
		if !found {
			out = append(out, w)
		}
	}

	sortWindows(out)
	return out, nil
}

func (s *Store) emit(t notify.EventType, sessionID string, windowIDs ...string) {
	s.obs.Notify(notify.Event{Type: t, SessionID: sessionID, WindowIDs: windowIDs, At: s.clock.Now()})
}
