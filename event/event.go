// Package event implements the immutable event envelope from spec §3:
// events are created on receipt and never mutated in place; replacing the
// decrypted body produces a new value.
package event

import (
	"encoding/json"

	mevt "maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/davidwed/libkazv/value"
)

// DecryptionStatus is the NotDecrypted|Decrypted tag from spec §3.
type DecryptionStatus int

const (
	NotDecrypted DecryptionStatus = iota
	Decrypted
)

// StateKey identifies a slot in a room's state map: (type, state key).
type StateKey struct {
	Type string
	Key  string
}

// Event is the immutable envelope: original JSON, optional decrypted JSON,
// decryption status, and whether the event arrived encrypted. Identity is
// the event id carried inside the original JSON.
type Event struct {
	ID         id.EventID
	RoomID     id.RoomID
	Sender     id.UserID
	Type       mevt.Type
	StateKey   *string // nil for non-state events; "" is a valid state key
	OriginTS   value.Timestamp
	Original   value.JSON
	Decrypted  value.JSON
	Status     DecryptionStatus
	IsEncrypted bool
}

// IsState reports whether this event carries a (possibly empty) state key.
func (e Event) IsState() bool { return e.StateKey != nil }

// StateEntryKey returns the (type, key) this event would occupy in a room's
// state map. Callers must only call this when IsState() is true.
func (e Event) StateEntryKey() StateKey {
	k := ""
	if e.StateKey != nil {
		k = *e.StateKey
	}
	return StateKey{Type: string(e.Type), Key: k}
}

// Content returns the body to render: the decrypted body if decryption
// succeeded, otherwise the original (possibly still-encrypted) body.
func (e Event) Content() value.JSON {
	if e.Status == Decrypted {
		return e.Decrypted
	}
	return e.Original
}

// Equal implements value comparison by original JSON, per spec §3 and §8's
// "Event equality ... agrees with original-JSON equality" invariant.
func (e Event) Equal(other Event) bool {
	return e.ID == other.ID && e.Original.Equal(other.Original)
}

// WithDecrypted returns a new Event with the decrypted body and status set,
// leaving the receiver untouched (events are never mutated in place).
func (e Event) WithDecrypted(body value.JSON) Event {
	cp := e
	cp.Decrypted = body
	cp.Status = Decrypted
	return cp
}

// FromRaw builds an Event from a raw Matrix event JSON blob, using mevt.Event
// as the parsing vocabulary so field names/casing match the wire protocol
// exactly (spec §6 "copy the schema verbatim").
func FromRaw(raw json.RawMessage) (Event, error) {
	var parsed mevt.Event
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Event{}, err
	}
	var stateKey *string
	if parsed.StateKey != nil {
		sk := *parsed.StateKey
		stateKey = &sk
	}
	return Event{
		ID:          parsed.ID,
		RoomID:      parsed.RoomID,
		Sender:      parsed.Sender,
		Type:        parsed.Type,
		StateKey:    stateKey,
		OriginTS:    value.Timestamp(parsed.Timestamp),
		Original:    value.NewJSON(raw),
		Status:      NotDecrypted,
		IsEncrypted: parsed.Type == mevt.EventEncrypted,
	}, nil
}

// IsRedaction reports whether this event is a room redaction, per the
// m.room.redaction type carried by mautrix/event.
func (e Event) IsRedaction() bool { return e.Type == mevt.EventRedaction }
