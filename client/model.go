// Package client implements the ClientModel aggregate root from spec §3:
// the single value every reducer transition consumes and produces.
package client

import (
	"maunium.net/go/mautrix/id"

	"github.com/davidwed/libkazv/cryptoengine"
	"github.com/davidwed/libkazv/devicelist"
	"github.com/davidwed/libkazv/job"
	"github.com/davidwed/libkazv/matrixerr"
	"github.com/davidwed/libkazv/room"
	"github.com/davidwed/libkazv/trigger"
	"github.com/davidwed/libkazv/verification"
)

// Model is the ClientModel from spec §3: the client owns every
// substructure by value (Crypto is the sole exception, carried as a
// pointer because olm/megolm session state is inherently mutable opaque
// pickled state — see cryptoengine.Crypto's own doc comment). Effects
// consume a snapshot of Model and produce further actions; there are no
// cyclic references.
type Model struct {
	ServerURL   string
	UserID      id.UserID
	DeviceID    id.DeviceID
	Token       string
	SyncToken   string

	Rooms       room.List
	AccountData map[string]AccountDataEntry
	Presence    map[id.UserID]PresenceEntry

	Crypto               *cryptoengine.Crypto
	DeviceLists          devicelist.Tracker
	Verification         verification.Tracker
	VerificationStrategy devicelist.Strategy

	Jobs     job.Queues
	Triggers trigger.Buffer
	Err      *matrixerr.Error
}

// AccountDataEntry is one entry of the account-data map, keyed by event
// type per spec §4.2 ("account-data ... merged using ... event-type ...
// as key; later entries replace earlier with equal key").
type AccountDataEntry struct {
	Type    string
	Content []byte // raw JSON content
}

// PresenceEntry is one entry of the presence map, keyed by user id.
type PresenceEntry struct {
	UserID  id.UserID
	Content []byte // raw JSON presence event content
}

// New returns a freshly logged-out Model, ready for a Login action.
func New(serverURL string, strategy devicelist.Strategy) Model {
	return Model{
		ServerURL:            serverURL,
		Rooms:                room.NewList(),
		AccountData:          make(map[string]AccountDataEntry),
		Presence:             make(map[id.UserID]PresenceEntry),
		DeviceLists:          devicelist.NewTracker(),
		Verification:         verification.NewTracker(),
		VerificationStrategy: strategy,
		Jobs:                 job.NewQueues(),
	}
}

// ClearTriggers returns a copy of the model with an empty trigger
// buffer, used by the runtime after it has drained the previous
// transition's triggers to the host sink (spec §4.7: "a buffer of
// triggers ... emitted by the last transition").
func (m Model) ClearTriggers() Model {
	m.Triggers = trigger.Buffer{}
	return m
}

// WithTrigger appends a trigger to the buffer, returning a copy.
func (m Model) WithTrigger(t trigger.Trigger) Model {
	b := m.Triggers
	b.Push(t)
	m.Triggers = b
	return m
}

// WithError returns a copy of the model with its error slot set.
func (m Model) WithError(err *matrixerr.Error) Model {
	m.Err = err
	return m
}

// PutAccountData returns a copy with one account-data entry merged in by
// type key, later entries replacing earlier ones with the same key.
func (m Model) PutAccountData(entry AccountDataEntry) Model {
	out := make(map[string]AccountDataEntry, len(m.AccountData)+1)
	for k, v := range m.AccountData {
		out[k] = v
	}
	out[entry.Type] = entry
	m.AccountData = out
	return m
}

// PutPresence returns a copy with one presence entry merged in by user id.
func (m Model) PutPresence(entry PresenceEntry) Model {
	out := make(map[id.UserID]PresenceEntry, len(m.Presence)+1)
	for k, v := range m.Presence {
		out[k] = v
	}
	out[entry.UserID] = entry
	m.Presence = out
	return m
}

// LoggedIn reports whether the model holds a usable access token.
func (m Model) LoggedIn() bool { return m.Token != "" }
