package verification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidwed/libkazv/devicelist"
	"github.com/davidwed/libkazv/value"
)

func TestRequestOutsideWindowIsCancelled(t *testing.T) {
	tr := NewTracker()
	reqTime := value.Now()
	now := reqTime.Add(10*time.Minute + time.Millisecond)

	evt := InEvent{
		Kind:          EventRequest,
		TransactionID: "tx1",
		UserID:        "@them:h",
		DeviceID:      "DEV",
		Timestamp:     reqTime,
		Methods:       []string{string(SASv1)},
	}

	devices := devicelist.NewTracker()
	_, outcome, _ := tr.Process(evt, now, devices, value.CryptoRandom{})

	require.NotNil(t, outcome.SendCancel)
	assert.Equal(t, "tx1", outcome.SendCancel.TransactionID)
	require.Len(t, outcome.Triggers, 1)
	assert.Equal(t, "VerificationCancelled", outcome.Triggers[0].Name())

	// No Process should have been recorded since the request was rejected.
	_, known := tr.Lookup("tx1")
	assert.False(t, known)
}

func TestRequestWithinWindowIsTracked(t *testing.T) {
	tr := NewTracker()
	now := value.Now()
	evt := InEvent{
		Kind:          EventRequest,
		TransactionID: "tx2",
		UserID:        "@them:h",
		DeviceID:      "DEV",
		Timestamp:     now,
		Methods:       []string{string(SASv1)},
	}
	devices := devicelist.NewTracker()
	next, outcome, _ := tr.Process(evt, now, devices, value.CryptoRandom{})
	assert.Nil(t, outcome.SendCancel)
	proc, ok := next.Lookup("tx2")
	require.True(t, ok)
	assert.Equal(t, Requested, proc.State)
}

func TestUnknownTransactionCancelIsIgnored(t *testing.T) {
	tr := NewTracker()
	now := value.Now()
	evt := InEvent{Kind: EventCancel, TransactionID: "does-not-exist"}
	devices := devicelist.NewTracker()
	_, outcome, _ := tr.Process(evt, now, devices, value.CryptoRandom{})
	assert.Nil(t, outcome.SendCancel)
	assert.Empty(t, outcome.Triggers)
}

func TestUnknownNonRequestTransactionIsCancelled(t *testing.T) {
	tr := NewTracker()
	now := value.Now()
	evt := InEvent{Kind: EventStart, TransactionID: "does-not-exist", UserID: "@them:h", DeviceID: "DEV"}
	devices := devicelist.NewTracker()
	_, outcome, _ := tr.Process(evt, now, devices, value.CryptoRandom{})
	require.NotNil(t, outcome.SendCancel)
	assert.Equal(t, "m.unknown_transaction", outcome.SendCancel.Code)
}

// Every branch of Process must hand back the devices tracker it was given
// (updated or not), never a zero-value one — a regression guard for a bug
// where non-MAC branches discarded the caller's device-list state.
func TestProcessNeverDiscardsDeviceList(t *testing.T) {
	devices := devicelist.NewTracker().PutDevice("@them:h", devicelist.DeviceKeyInfo{DeviceID: "DEV"})
	now := value.Now()

	cases := []struct {
		name string
		tr   Tracker
		evt  InEvent
	}{
		{
			name: "request outside window",
			tr:   NewTracker(),
			evt: InEvent{Kind: EventRequest, TransactionID: "t1", UserID: "@them:h", DeviceID: "DEV",
				Timestamp: now.Add(-time.Hour), Methods: []string{string(SASv1)}},
		},
		{
			name: "cancel unknown transaction",
			tr:   NewTracker(),
			evt:  InEvent{Kind: EventCancel, TransactionID: "does-not-exist"},
		},
		{
			name: "non-request non-cancel unknown transaction",
			tr:   NewTracker(),
			evt:  InEvent{Kind: EventStart, TransactionID: "does-not-exist", UserID: "@them:h", DeviceID: "DEV"},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, _, outDevices := c.tr.Process(c.evt, now, devices, value.CryptoRandom{})
			_, ok := outDevices.Devices("@them:h")["DEV"]
			assert.True(t, ok, "device-list tracker must be preserved across Process")
		})
	}
}
