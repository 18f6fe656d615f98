package snapshot

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidwed/libkazv/client"
	"github.com/davidwed/libkazv/devicelist"
	"github.com/davidwed/libkazv/event"
	"github.com/davidwed/libkazv/room"
)

func TestRoundTripPreservesCoreFields(t *testing.T) {
	m := client.New("https://example.org", devicelist.TrustIfNeverVerified)
	m.UserID = "@alice:example.org"
	m.DeviceID = "DEVICE1"
	m.Token = "tok"
	m.SyncToken = "s1"

	r := room.New("!room:example.org").WithMembership(room.Join).MarkEncrypted()
	e, err := event.FromRaw([]byte(`{"event_id":"$1","room_id":"!room:example.org","sender":"@bob:example.org","type":"m.room.message","origin_server_ts":1,"content":{"body":"hi"}}`))
	require.NoError(t, err)
	r = r.AppendTimeline(e)
	m.Rooms = m.Rooms.Put(r)

	m = m.PutAccountData(client.AccountDataEntry{Type: "m.direct", Content: []byte(`{"a":1}`)})
	m.DeviceLists = m.DeviceLists.PutDevice("@bob:example.org", devicelist.DeviceKeyInfo{DeviceID: "BOBDEV"})

	state := ToState(m, nil)

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, state))

	loaded, err := Load(&buf)
	require.NoError(t, err)

	restored, err := FromState(loaded, nil)
	require.NoError(t, err)

	assert.Equal(t, m.UserID, restored.UserID)
	assert.Equal(t, m.DeviceID, restored.DeviceID)
	assert.Equal(t, m.Token, restored.Token)
	assert.Equal(t, m.SyncToken, restored.SyncToken)
	assert.Equal(t, 1, restored.Rooms.Len())

	rr, ok := restored.Rooms.Lookup("!room:example.org")
	require.True(t, ok)
	assert.True(t, rr.Encrypted)
	assert.Equal(t, room.Join, rr.Membership)
	assert.Len(t, rr.Timeline.Events(), 1)

	assert.Equal(t, []byte(`{"a":1}`), restored.AccountData["m.direct"].Content)
	devices := restored.DeviceLists.Devices("@bob:example.org")
	_, ok = devices["BOBDEV"]
	assert.True(t, ok)
}

func TestUnknownFieldsRoundTrip(t *testing.T) {
	raw := []byte(`{"serverUrl":"https://x","userId":"","deviceId":"","token":"","syncToken":"","rooms":null,"accountData":null,"presence":null,"deviceLists":{"devices":null,"outdated":null,"queried":null},"verification":null,"verificationStrategy":0,"futureField":"kept"}`)

	loaded, err := Load(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Contains(t, loaded.Unknown, "futureField")

	var out bytes.Buffer
	require.NoError(t, Save(&out, loaded))
	assert.Contains(t, out.String(), "futureField")
}
