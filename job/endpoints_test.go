package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maunium.net/go/mautrix/id"
)

func TestClaimKeysCarriesRoomIDInExtraData(t *testing.T) {
	claims := map[id.UserID]map[id.DeviceID]string{
		"@bob:example.org": {"DEVICE1": "signed_curve25519:AAAAAQ"},
	}
	j := ClaimKeysAndSendSessionKey("tok", "!room:example.org", claims)

	assert.Equal(t, "ClaimKeysAndSendSessionKey", j.ID)
	roomID, ok := j.ExtraData.Field("room_id")
	require.True(t, ok)
	assert.Equal(t, `"!room:example.org"`, string(roomID.Raw()))
}

func TestSendToDeviceBuildsPathFromEventTypeAndTxnID(t *testing.T) {
	messages := map[id.UserID]map[id.DeviceID]interface{}{
		"@bob:example.org": {"DEVICE1": map[string]interface{}{"ciphertext": "x"}},
	}
	j := SendToDevice("tok", "m.room.encrypted", "txn-1", messages)

	assert.Equal(t, PUT, j.Method)
	assert.Equal(t, apiPrefix+"/sendToDevice/m.room.encrypted/txn-1", j.Path)
	assert.Equal(t, BodyJSON, j.Body.Kind)
}
