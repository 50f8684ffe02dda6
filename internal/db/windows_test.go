package db

import (
	"context"
	"testing"
	"time"

	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/model"
)

func newTestWindow(id, sessionID string, start, end time.Time) *model.TimeWindow {
	return &model.TimeWindow{
		ID:        id,
		SessionID: sessionID,
		StartTime: start,
		EndTime:   end,
		Type:      model.WindowManual,
		Status:    model.WindowActive,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func TestInsertAndGetWindow_Provenance(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	w := newTestWindow("01W1", "s1", t0, t0.Add(2*time.Hour))
	w.Name = "deep work"
	w.Type = model.WindowWork
	w.Origin = model.MergedFrom{
		Parents: []string{"a", "b"},
		Originals: []model.WindowSummary{
			{ID: "a", Start: t0, End: t0.Add(time.Hour), Type: model.WindowWork},
			{ID: "b", Start: t0.Add(time.Hour), End: t0.Add(2 * time.Hour), Type: model.WindowWork},
		},
	}
	w.Boundaries = []time.Time{t0, t0.Add(time.Hour), t0.Add(2 * time.Hour)}

	if err := InsertWindow(ctx, db, w); err != nil {
		t.Fatalf("InsertWindow failed: %v", err)
	}

	got, err := GetWindow(ctx, db, "01W1")
	if err != nil {
		t.Fatalf("GetWindow failed: %v", err)
	}
	if got.Name != "deep work" || got.Type != model.WindowWork || got.Status != model.WindowActive {
		t.Errorf("got %+v", got)
	}
	if got.Duration() != 2*time.Hour {
		t.Errorf("Duration = %v, want 2h", got.Duration())
	}
	origin, ok := got.Origin.(model.MergedFrom)
	if !ok {
		t.Fatalf("Origin = %T, want MergedFrom", got.Origin)
	}
	if len(origin.Parents) != 2 || len(origin.Originals) != 2 || origin.Originals[1].ID != "b" {
		t.Errorf("Origin = %+v", origin)
	}
	if got.Successor != nil {
		t.Errorf("Successor = %v, want nil", got.Successor)
	}
	if len(got.Boundaries) != 3 || !got.Boundaries[1].Equal(t0.Add(time.Hour)) {
		t.Errorf("Boundaries = %v", got.Boundaries)
	}
}

func TestGetWindow_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := GetWindow(context.Background(), db, "missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestSupersedeWindow(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	w := newTestWindow("01W2", "s1", t0, t0.Add(time.Hour))
	if err := InsertWindow(ctx, db, w); err != nil {
		t.Fatalf("InsertWindow failed: %v", err)
	}

	at := t0.Add(30 * time.Minute)
	if err := SupersedeWindow(ctx, db, w.ID, model.SplitInto{Children: []string{"c1", "c2"}, At: at}, t0.Add(time.Hour)); err != nil {
		t.Fatalf("SupersedeWindow failed: %v", err)
	}

	got, _ := GetWindow(ctx, db, w.ID)
	if got.Status != model.WindowMerged {
		t.Errorf("Status = %q, want merged", got.Status)
	}
	succ, ok := got.Successor.(model.SplitInto)
	if !ok || len(succ.Children) != 2 || !succ.At.Equal(at) {
		t.Errorf("Successor = %#v", got.Successor)
	}

	if err := SupersedeWindow(ctx, db, "missing", model.MergedInto{Parent: "x"}, t0); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestSetWindowStatus_FromGuard(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	w := newTestWindow("01W3", "s1", t0, t0.Add(time.Hour))
	w.Status = model.WindowMerged
	if err := InsertWindow(ctx, db, w); err != nil {
		t.Fatalf("InsertWindow failed: %v", err)
	}

	changed, err := SetWindowStatus(ctx, db, w.ID, model.WindowClosed, t0, model.WindowActive)
	if err != nil || changed {
		t.Errorf("closing a merged window = (%v, %v), want (false, nil)", changed, err)
	}
}

func TestFindWindowsContaining(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	short := newTestWindow("01A", "s1", t0, t0.Add(time.Hour))
	long := newTestWindow("01B", "s1", t0.Add(30*time.Minute), t0.Add(3*time.Hour))
	merged := newTestWindow("01C", "s1", t0, t0.Add(5*time.Hour))
	merged.Status = model.WindowMerged
	otherSession := newTestWindow("01D", "s2", t0, t0.Add(4*time.Hour))

	for _, w := range []*model.TimeWindow{short, long, merged, otherSession} {
		if err := InsertWindow(ctx, db, w); err != nil {
			t.Fatalf("InsertWindow failed: %v", err)
		}
	}

	got, err := FindWindowsContaining(ctx, db, "s1", t0.Add(45*time.Minute))
	if err != nil {
		t.Fatalf("FindWindowsContaining failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "01B" || got[1].ID != "01A" {
		t.Errorf("expected [01B 01A] (latest end first), got %d rows", len(got))
	}

	// Bounds are exclusive
	got, _ = FindWindowsContaining(ctx, db, "s1", t0)
	if len(got) != 0 {
		t.Errorf("start instant should not match, got %d rows", len(got))
	}
}

func TestFindWindowsOverlapping_TouchingCounts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	a := newTestWindow("01A", "s1", t0, t0.Add(time.Hour))
	b := newTestWindow("01B", "s1", t0.Add(2*time.Hour), t0.Add(3*time.Hour))
	for _, w := range []*model.TimeWindow{a, b} {
		if err := InsertWindow(ctx, db, w); err != nil {
			t.Fatalf("InsertWindow failed: %v", err)
		}
	}

	got, err := FindWindowsOverlapping(ctx, db, "s1", t0.Add(time.Hour), t0.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("FindWindowsOverlapping failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "01A" {
		t.Errorf("expected touching window 01A, got %d rows", len(got))
	}

	got, _ = FindWindowsOverlapping(ctx, db, "s1", t0.Add(65*time.Minute), t0.Add(110*time.Minute))
	if len(got) != 0 {
		t.Errorf("gap interval should overlap nothing, got %d rows", len(got))
	}
}

func TestListWindows_Filters(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	work := newTestWindow("01A", "s1", t0, t0.Add(time.Hour))
	work.Type = model.WindowWork
	brk := newTestWindow("01B", "s1", t0.Add(time.Hour), t0.Add(90*time.Minute))
	brk.Type = model.WindowBreak
	merged := newTestWindow("01C", "s1", t0.Add(2*time.Hour), t0.Add(3*time.Hour))
	merged.Status = model.WindowMerged
	other := newTestWindow("01D", "s2", t0, t0.Add(time.Hour))

	for _, w := range []*model.TimeWindow{merged, brk, work, other} {
		if err := InsertWindow(ctx, db, w); err != nil {
			t.Fatalf("InsertWindow failed: %v", err)
		}
	}

	all, err := ListWindows(ctx, db, WindowFilter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("ListWindows failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "01A" || all[2].ID != "01C" {
		t.Errorf("expected start-ordered [01A 01B 01C], got %d rows", len(all))
	}

	live, _ := ListWindows(ctx, db, WindowFilter{SessionID: "s1", ExcludeMerged: true})
	if len(live) != 2 {
		t.Errorf("ExcludeMerged: got %d rows, want 2", len(live))
	}

	breaks, _ := ListWindows(ctx, db, WindowFilter{Types: []model.WindowType{model.WindowBreak}})
	if len(breaks) != 1 || breaks[0].ID != "01B" {
		t.Errorf("type filter: got %d rows", len(breaks))
	}

	from := t0.Add(100 * time.Minute)
	later, _ := ListWindows(ctx, db, WindowFilter{SessionID: "s1", From: &from})
	if len(later) != 1 || later[0].ID != "01C" {
		t.Errorf("From filter: got %d rows", len(later))
	}

	limited, _ := ListWindows(ctx, db, WindowFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("Limit: got %d rows", len(limited))
	}
}
