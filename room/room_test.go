package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mevt "maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/davidwed/libkazv/event"
	"github.com/davidwed/libkazv/value"
)

func mustEvent(t *testing.T, id_ id.EventID, roomID id.RoomID, evtType mevt.Type, raw string) event.Event {
	t.Helper()
	e, err := event.FromRaw([]byte(raw))
	require.NoError(t, err)
	return e
}

func TestRoomTimelineMonotonic(t *testing.T) {
	r := New("!r:h")
	e1 := mustEvent(t, "$1", "!r:h", mevt.EventMessage, `{"event_id":"$1","room_id":"!r:h","sender":"@u:h","type":"m.room.message","origin_server_ts":1}`)
	e2 := mustEvent(t, "$2", "!r:h", mevt.EventMessage, `{"event_id":"$2","room_id":"!r:h","sender":"@u:h","type":"m.room.message","origin_server_ts":2}`)

	r = r.AppendTimeline(e1, e2)
	assert.Equal(t, 2, r.Timeline.Len())

	// Re-appending the same events is a no-op: the timeline never shrinks
	// and never duplicates.
	r = r.AppendTimeline(e1, e2)
	assert.Equal(t, 2, r.Timeline.Len())
}

func TestRoomEncryptedIsMonotonic(t *testing.T) {
	r := New("!r:h")
	assert.False(t, r.Encrypted)
	r = r.MarkEncrypted()
	assert.True(t, r.Encrypted)
	// There is no unset operation; calling MarkEncrypted again is idempotent.
	r = r.MarkEncrypted()
	assert.True(t, r.Encrypted)
}

func TestRoomStateAtMostOnePerKey(t *testing.T) {
	r := New("!r:h")
	sk := ""
	e := event.Event{ID: "$s1", Type: "m.room.name", StateKey: &sk, Original: value.NewJSON([]byte(`{"a":1}`))}
	r = r.PutState(e)
	assert.Len(t, r.State, 1)

	e2 := event.Event{ID: "$s2", Type: "m.room.name", StateKey: &sk, Original: value.NewJSON([]byte(`{"a":2}`))}
	r = r.PutState(e2)
	assert.Len(t, r.State, 1)
	got, ok := r.GetState("m.room.name", "")
	require.True(t, ok)
	assert.Equal(t, id.EventID("$s2"), got.ID)
}

func TestGapCloses(t *testing.T) {
	r := New("!r:h")
	r = r.AddGap("$gap", "tok123")
	assert.Len(t, r.TimelineGaps, 1)
	r = r.CloseGap("$gap")
	assert.Len(t, r.TimelineGaps, 0)
}

func TestListForgetRemovesRoom(t *testing.T) {
	l := NewList()
	r := New("!r:h")
	l = l.Put(r)
	assert.Equal(t, 1, l.Len())
	l = l.Forget("!r:h")
	assert.Equal(t, 0, l.Len())
	_, ok := l.Lookup("!r:h")
	assert.False(t, ok)
}

