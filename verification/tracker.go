package verification

import (
	"time"

	"maunium.net/go/mautrix/id"

	"github.com/davidwed/libkazv/devicelist"
	"github.com/davidwed/libkazv/trigger"
	"github.com/davidwed/libkazv/value"
)

const (
	requestPastWindow   = 10 * time.Minute
	requestFutureWindow = 5 * time.Minute
)

// EventKind distinguishes the to-device verification events a Process can
// receive, per spec §4.6.
type EventKind int

const (
	EventRequest EventKind = iota
	EventStart
	EventAccept
	EventKey
	EventMAC
	EventCancel
)

// InEvent is the engine's own representation of an incoming
// m.key.verification.* to-device event; wire decoding into this shape is
// done by package action (decodeVerificationEvent), keeping this package
// free of transport details.
type InEvent struct {
	Kind            EventKind
	TransactionID   string
	UserID          id.UserID
	DeviceID        id.DeviceID
	Timestamp       value.Timestamp
	Methods         []string // EventRequest / EventStart
	Commitment      []byte   // EventAccept
	EphemeralKey    id.Curve25519PublicKey // EventKey
	MAC             []byte                 // EventMAC
	CancelCode      string                 // EventCancel
	CancelledByUser bool                   // EventCancel, for OnCancel bookkeeping
}

// Outcome is what a tracker transition produces: an updated tracker, any
// outbound to-device sends the host must dispatch, and any triggers to
// surface to the application.
type Outcome struct {
	SendCancel  *SendCancel
	SendEvents  []SendEvent
	Triggers    []trigger.Trigger
}

// SendCancel is a cancel the tracker wants the host to transmit.
type SendCancel struct {
	TransactionID string
	UserID        id.UserID
	DeviceID      id.DeviceID
	Code          string
}

// SendEvent is a generic outbound to-device verification event (accept,
// key, mac) the host must transmit; Kind distinguishes its shape.
type SendEvent struct {
	Kind          EventKind
	TransactionID string
	UserID        id.UserID
	DeviceID      id.DeviceID
}

// Tracker is the per-transaction-id SAS tracker from spec §3
// "VerificationProcess" / §4.6.
type Tracker struct {
	processes map[string]Process
}

// NewTracker returns an empty verification tracker.
func NewTracker() Tracker {
	return Tracker{processes: make(map[string]Process)}
}

// ProcessRandomSize reports the randomness an event's handling needs: zero
// for every event kind except EventKey, whose handling mixes that many
// random bytes into the SAS derivation, per spec §4.6
// "processRandomSize(event) ... zero for events whose handling is
// deterministic".
func ProcessRandomSize(evt InEvent) int {
	if evt.Kind == EventKey {
		return curve25519KeySize
	}
	return 0
}

const curve25519KeySize = 32

// Process runs one step of the state machine for evt, consuming random
// bytes from src only when ProcessRandomSize(evt) > 0 (EventKey).
func (t Tracker) Process(evt InEvent, now value.Timestamp, devices devicelist.Tracker, src value.Source) (Tracker, Outcome, devicelist.Tracker) {
	existing, known := t.processes[evt.TransactionID]

	switch evt.Kind {
	case EventRequest:
		return t.handleRequest(evt, now, devices)
	case EventCancel:
		return t.handleCancel(evt, known, devices)
	}

	if !known {
		// "a non-request, non-cancel event referencing an unknown
		// transaction id yields an ignore-and-cancel outcome" (spec §4.6).
		return t.handleUnknown(evt, devices)
	}

	switch evt.Kind {
	case EventStart:
		return t.handleStart(evt, existing, devices)
	case EventAccept:
		return t.handleAccept(evt, existing, devices)
	case EventKey:
		return t.handleKey(evt, existing, src, devices)
	case EventMAC:
		return t.handleMAC(evt, existing, devices)
	}
	return t, Outcome{}, devices
}

func (t Tracker) handleRequest(evt InEvent, now value.Timestamp, devices devicelist.Tracker) (Tracker, Outcome, devicelist.Tracker) {
	age := now.Sub(evt.Timestamp)
	if age > requestPastWindow || -age > requestFutureWindow {
		return t, Outcome{
			SendCancel: &SendCancel{TransactionID: evt.TransactionID, UserID: evt.UserID, DeviceID: evt.DeviceID, Code: "m.timeout"},
			Triggers:   []trigger.Trigger{trigger.VerificationCancelled{TransactionID: evt.TransactionID, Reason: "request outside acceptable time window"}},
		}, devices
	}
	method, ok := selectMethod(evt.Methods)
	if !ok {
		return t, Outcome{
			SendCancel: &SendCancel{TransactionID: evt.TransactionID, UserID: evt.UserID, DeviceID: evt.DeviceID, Code: "m.unknown_method"},
			Triggers:   []trigger.Trigger{trigger.VerificationCancelled{TransactionID: evt.TransactionID, Reason: "no supported method"}},
		}, devices
	}
	proc := Process{
		TransactionID: evt.TransactionID,
		Timestamp:     evt.Timestamp,
		Initiator:     Them,
		Method:        method,
		State:         Requested,
		UserID:        evt.UserID,
		DeviceID:      evt.DeviceID,
	}
	next := t.clone()
	next.processes[evt.TransactionID] = proc
	return next, Outcome{}, devices
}

func (t Tracker) handleCancel(evt InEvent, known bool, devices devicelist.Tracker) (Tracker, Outcome, devicelist.Tracker) {
	if !known {
		// "a cancel for an unknown transaction id is silently ignored".
		return t, Outcome{}, devices
	}
	next := t.clone()
	delete(next.processes, evt.TransactionID)
	return next, Outcome{
		Triggers: []trigger.Trigger{trigger.VerificationCancelled{TransactionID: evt.TransactionID, Reason: "peer cancelled"}},
	}, devices
}

func (t Tracker) handleUnknown(evt InEvent, devices devicelist.Tracker) (Tracker, Outcome, devicelist.Tracker) {
	return t, Outcome{
		SendCancel: &SendCancel{TransactionID: evt.TransactionID, UserID: evt.UserID, DeviceID: evt.DeviceID, Code: "m.unknown_transaction"},
	}, devices
}

func (t Tracker) handleStart(evt InEvent, proc Process, devices devicelist.Tracker) (Tracker, Outcome, devicelist.Tracker) {
	method, ok := selectMethod(evt.Methods)
	if !ok {
		return t.cancelProcess(evt.TransactionID, "m.unknown_method", devices)
	}
	proc.Method = method
	proc.State = Started
	next := t.clone()
	next.processes[evt.TransactionID] = proc
	return next, Outcome{
		SendEvents: []SendEvent{{Kind: EventAccept, TransactionID: evt.TransactionID, UserID: proc.UserID, DeviceID: proc.DeviceID}},
	}, devices
}

func (t Tracker) handleAccept(evt InEvent, proc Process, devices devicelist.Tracker) (Tracker, Outcome, devicelist.Tracker) {
	proc.TheirCommitment = evt.Commitment
	proc.State = Accepted
	next := t.clone()
	next.processes[evt.TransactionID] = proc
	return next, Outcome{
		SendEvents: []SendEvent{{Kind: EventKey, TransactionID: evt.TransactionID, UserID: proc.UserID, DeviceID: proc.DeviceID}},
	}, devices
}

func (t Tracker) handleKey(evt InEvent, proc Process, src value.Source, devices devicelist.Tracker) (Tracker, Outcome, devicelist.Tracker) {
	random, err := src.RandomBytes(ProcessRandomSize(evt))
	if err != nil {
		return t.cancelProcess(evt.TransactionID, "m.key_generation_failed", devices)
	}
	proc.SASBytes = deriveSAS(proc.TheirCommitment, []byte(evt.EphemeralKey), random)
	proc.State = KeyExchanged
	next := t.clone()
	next.processes[evt.TransactionID] = proc
	return next, Outcome{
		Triggers: []trigger.Trigger{trigger.DisplayCodes{
			TransactionID: evt.TransactionID,
			Emoji:         emojiFromSAS(proc.SASBytes),
			Decimal:       decimalFromSAS(proc.SASBytes),
		}},
	}, devices
}

func (t Tracker) handleMAC(evt InEvent, proc Process, devices devicelist.Tracker) (Tracker, Outcome, devicelist.Tracker) {
	next := t.clone()
	delete(next.processes, evt.TransactionID)

	ok := macMatches(proc.SASBytes, evt.MAC)
	newTrust := devicelist.Verified
	if !ok {
		newTrust = devicelist.Blocked
	}
	updatedDevices := devices.SetTrust(proc.UserID, proc.DeviceID, newTrust)

	return next, Outcome{
		Triggers: []trigger.Trigger{trigger.VerificationCompleted{
			TransactionID: evt.TransactionID,
			UserID:        proc.UserID,
			DeviceID:      proc.DeviceID,
			Verified:      ok,
		}},
	}, updatedDevices
}

func (t Tracker) cancelProcess(transactionID, code string, devices devicelist.Tracker) (Tracker, Outcome, devicelist.Tracker) {
	next := t.clone()
	delete(next.processes, transactionID)
	return next, Outcome{
		SendCancel: &SendCancel{TransactionID: transactionID, Code: code},
		Triggers:   []trigger.Trigger{trigger.VerificationCancelled{TransactionID: transactionID, Reason: code}},
	}, devices
}

func (t Tracker) clone() Tracker {
	out := make(map[string]Process, len(t.processes)+1)
	for k, v := range t.processes {
		out[k] = v
	}
	return Tracker{processes: out}
}

// Export exposes every in-flight process for persistence (spec §6's
// snapshot); verification state is transaction-scoped and short-lived, but
// a host restarting mid-exchange should still be able to resume or cancel
// cleanly rather than silently losing the transaction.
func (t Tracker) Export() map[string]Process {
	out := make(map[string]Process, len(t.processes))
	for k, v := range t.processes {
		out[k] = v
	}
	return out
}

// Import rebuilds a Tracker from a prior Export.
func Import(processes map[string]Process) Tracker {
	t := NewTracker()
	for k, v := range processes {
		t.processes[k] = v
	}
	return t
}

// Lookup returns the Process for a transaction id, if tracked.
func (t Tracker) Lookup(transactionID string) (Process, bool) {
	p, ok := t.processes[transactionID]
	return p, ok
}
