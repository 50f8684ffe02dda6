package notifytest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/tether/internal/notify"
)

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	rec.Notify(notify.Event{Type: notify.EventSessionCreated, SessionID: "s1"})
	rec.Notify(notify.Event{Type: notify.EventWindowCreated, SessionID: "s1"})
	rec.Notify(notify.Event{Type: notify.EventWindowCreated, SessionID: "s1"})

	require.Equal(t, []notify.EventType{notify.EventSessionCreated, notify.EventWindowCreated, notify.EventWindowCreated}, rec.Types())
	require.Equal(t, 2, rec.Count(notify.EventWindowCreated))
	require.Zero(t, rec.Count(notify.EventWindowMerged))

	events := rec.Events()
	events[0].SessionID = "mutated"
	require.Equal(t, "s1", rec.Events()[0].SessionID)
}

func TestRecorder_IsAnObserver(t *testing.T) {
	rec := &Recorder{}
	var obs notify.Observer = rec
	notify.Multi(nil, obs).Notify(notify.Event{Type: notify.EventWindowClosed})
	require.Equal(t, 1, rec.Count(notify.EventWindowClosed))
}
