package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidwed/libkazv/devicelist"
	"github.com/davidwed/libkazv/matrixerr"
	"github.com/davidwed/libkazv/trigger"
)

func TestNewModelIsLoggedOut(t *testing.T) {
	m := New("https://example.org", devicelist.TrustIfNeverVerified)
	assert.False(t, m.LoggedIn())
	assert.Equal(t, 0, m.Rooms.Len())
}

func TestPutAccountDataMergesByType(t *testing.T) {
	m := New("https://example.org", devicelist.TrustAll)
	m = m.PutAccountData(AccountDataEntry{Type: "m.direct", Content: []byte(`{"a":1}`)})
	m = m.PutAccountData(AccountDataEntry{Type: "m.direct", Content: []byte(`{"a":2}`)})
	require.Len(t, m.AccountData, 1)
	assert.Equal(t, []byte(`{"a":2}`), m.AccountData["m.direct"].Content)
}

func TestWithTriggerAccumulatesWithoutAliasing(t *testing.T) {
	m := New("https://example.org", devicelist.TrustAll)
	m1 := m.WithTrigger(trigger.UnrecognizedResponse{JobID: "x"})
	m2 := m1.ClearTriggers()
	assert.Equal(t, 1, m1.Triggers.Len())
	assert.Equal(t, 0, m2.Triggers.Len())
}

func TestWithErrorSetsSlot(t *testing.T) {
	m := New("https://example.org", devicelist.TrustAll)
	err := matrixerr.New(matrixerr.Transport, "timed out")
	m2 := m.WithError(err)
	require.NotNil(t, m2.Err)
	assert.Nil(t, m.Err)
}
