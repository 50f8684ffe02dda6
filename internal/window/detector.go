package window

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/model"
)

const (
	// activityPadding extends the first and last detected window around the
	// outermost activity.
	activityPadding = 5 * time.Minute

	// minSegment is how far a zero-length segment is widened.
	minSegment = time.Minute
)

// Bounds clamps the padded outer edges of detected windows. The clamp never
// cuts off recorded activity. A zero field leaves that side unclamped.
type Bounds struct {
	Start time.Time
	End   time.Time
}

// SegmentOptions controls Segment.
type SegmentOptions struct {
	// GapThreshold is the silence that separates two segments.
	GapThreshold time.Duration
	// Padding extends the outer edges (default 5m).
	Padding time.Duration
	// MinSpan is the width given to zero-length segments (default 1m).
	MinSpan time.Duration
}

// Segment splits chronologically sorted activity timestamps into intervals
// separated by gaps longer than opts.GapThreshold. N gaps yield N+1
// intervals: [padded start, first gap start], [gap end, next gap start]...,
// [last gap end, padded end].
func Segment(timestamps []time.Time, bounds Bounds, opts SegmentOptions) []Interval {
	if len(timestamps) == 0 {
		return nil
	}
	if opts.Padding <= 0 {
		opts.Padding = activityPadding
	}
	if opts.MinSpan <= 0 {
		opts.MinSpan = minSegment
	}

	ts := append([]time.Time(nil), timestamps...)
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	first, last := ts[0], ts[len(ts)-1]

	start := first.Add(-opts.Padding)
	if !bounds.Start.IsZero() && start.Before(bounds.Start) {
		start = bounds.Start
	}
	if start.After(first) {
		start = first
	}
	end := last.Add(opts.Padding)
	if !bounds.End.IsZero() && end.After(bounds.End) {
		end = bounds.End
	}
	if end.Before(last) {
		end = last
	}

	var out []Interval
	cur := start
	for i := 1; i < len(ts); i++ {
		if opts.GapThreshold > 0 && ts[i].Sub(ts[i-1]) > opts.GapThreshold {
			out = append(out, Interval{Start: cur, End: ts[i-1]})
			cur = ts[i]
		}
	}
	out = append(out, Interval{Start: cur, End: end})

	for i := range out {
		if out[i].End.After(out[i].Start) {
			continue
		}
		widen := opts.MinSpan
		if i+1 < len(out) {
			if room := out[i+1].Start.Sub(out[i].Start); room <= widen {
				widen = room / 2
			}
		}
		out[i].End = out[i].Start.Add(widen)
	}

	return out
}

// DetectInput is one detection run.
type DetectInput struct {
	Session *model.Session
	// Events is the session's activity stream; it is sorted before use.
	Events []model.ActivityEvent
	// MergeAdjacent merges consecutive detected windows separated by no
	// more than the auto-merge threshold.
	MergeAdjacent bool
}

// Detector turns activity gaps into auto windows.
type Detector struct {
	store *Store
}

// NewDetector creates a Detector that persists through store.
func NewDetector(store *Store) *Detector {
	return &Detector{store: store}
}

// Detect segments the activity stream and creates an auto window for every
// segment not already present. Auto windows from an earlier run that a
// segment has outgrown are superseded by one window spanning both.
// Re-running detection over the same activity creates nothing new. Returns
// the session's non-merged windows.
func (d *Detector) Detect(ctx context.Context, in DetectInput) ([]*model.TimeWindow, error) {
	s := d.store
	sessionID := in.Session.ID

	timestamps := make([]time.Time, 0, len(in.Events))
	for _, e := range in.Events {
		timestamps = append(timestamps, model.Normalize(e.Timestamp))
	}
	segments := Segment(timestamps,
		Bounds{Start: in.Session.StartTime, End: in.Session.LastActive},
		SegmentOptions{GapThreshold: s.cfg.ActivityGapThreshold()},
	)

	existing, err := s.List(ctx, ListFilter{SessionID: sessionID, ExcludeMerged: true})
	if err != nil {
		return nil, err
	}

	var runs [][]*model.TimeWindow
	var prev *Interval
	created, extended := 0, 0
	for i := range segments {
		seg := segments[i]

		pieces := covering(existing, seg)
		if pieces == nil {
			if stale := overlappingAuto(existing, seg); len(stale) > 0 {
				w, err := s.absorb(ctx, stale, seg)
				if err != nil {
					return nil, err
				}
				existing = replaceWindows(existing, stale, w)
				pieces = []*model.TimeWindow{w}
				extended++
			} else {
				pieces, err = s.create(ctx, sessionID, seg.Start, seg.End, CreateOptions{Type: model.WindowAuto})
				if err != nil {
					return nil, err
				}
				created += len(pieces)
			}
		}

		if in.MergeAdjacent && prev != nil && seg.Start.Sub(prev.End) <= s.cfg.AutoMergeThreshold() {
			runs[len(runs)-1] = append(runs[len(runs)-1], pieces...)
		} else {
			runs = append(runs, pieces)
		}
		prev = &segments[i]
	}

	if in.MergeAdjacent {
		for _, run := range runs {
			members := distinctIDs(run)
			if len(members) < 2 {
				continue
			}
			if _, err := s.Merge(ctx, members, MergeOptions{Type: model.WindowAuto}); err != nil {
				return nil, err
			}
		}
	}

	s.log.Info("auto windows detected",
		zap.String("session_id", sessionID),
		zap.Int("events", len(in.Events)),
		zap.Int("segments", len(segments)),
		zap.Int("created", created),
		zap.Int("extended", extended),
	)

	return s.List(ctx, ListFilter{SessionID: sessionID, ExcludeMerged: true})
}

// covering returns the existing non-merged auto windows that already
// represent seg: one window spanning it (an identical or merged one), or
// the pieces of a bisected one tiling it exactly. Returns nil otherwise.
func covering(existing []*model.TimeWindow, seg Interval) []*model.TimeWindow {
	var inside []*model.TimeWindow
	for _, w := range existing {
		if w.Type != model.WindowAuto || w.Status == model.WindowMerged {
			continue
		}
		if !w.StartTime.After(seg.Start) && !w.EndTime.Before(seg.End) {
			return []*model.TimeWindow{w}
		}
		if !w.StartTime.Before(seg.Start) && !w.EndTime.After(seg.End) {
			inside = append(inside, w)
		}
	}
	if len(inside) == 0 {
		return nil
	}
	sortWindows(inside)

	var chain []*model.TimeWindow
	cursor := seg.Start
	for _, w := range inside {
		if w.StartTime.Equal(cursor) {
			chain = append(chain, w)
			cursor = w.EndTime
		}
	}
	if !cursor.Equal(seg.End) {
		return nil
	}
	return chain
}

// overlappingAuto returns the non-merged auto windows sharing more than an
// endpoint with seg.
func overlappingAuto(existing []*model.TimeWindow, seg Interval) []*model.TimeWindow {
	var out []*model.TimeWindow
	for _, w := range existing {
		if w.Type != model.WindowAuto || w.Status == model.WindowMerged {
			continue
		}
		if w.StartTime.Before(seg.End) && w.EndTime.After(seg.Start) {
			out = append(out, w)
		}
	}
	return out
}

func replaceWindows(existing, stale []*model.TimeWindow, with *model.TimeWindow) []*model.TimeWindow {
	gone := make(map[string]bool, len(stale))
	for _, w := range stale {
		gone[w.ID] = true
	}
	out := make([]*model.TimeWindow, 0, len(existing)-len(stale)+1)
	for _, w := range existing {
		if !gone[w.ID] {
			out = append(out, w)
		}
	}
	return append(out, with)
}

func distinctIDs(ws []*model.TimeWindow) []string {
	seen := make(map[string]bool, len(ws))
	var out []string
	for _, w := range ws {
		if !seen[w.ID] {
			seen[w.ID] = true
			out = append(out, w.ID)
		}
	}
	return out
}
