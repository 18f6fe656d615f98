// Package room implements the Room and RoomList model from spec §3: a
// timeline, keyed state, account data, membership and the gap/encryption
// bookkeeping the sync driver and send pipeline depend on.
package room

import (
	"maunium.net/go/mautrix/id"

	"github.com/davidwed/libkazv/event"
)

// Membership is Invite|Join|Leave, per spec §3.
type Membership int

const (
	MembershipNone Membership = iota
	Invite
	Join
	Leave
)

// Room is the per-room state, value-typed: every mutating method returns a
// new Room rather than mutating the receiver, matching the "no shared
// mutable references escape the reducer" design note (spec §9).
type Room struct {
	ID                     id.RoomID
	Membership             Membership
	Timeline               event.Timeline
	State                  map[event.StateKey]event.Event
	AccountData            map[string]event.Event
	Ephemeral              map[string]event.Event
	InviteState            map[event.StateKey]event.Event
	Encrypted              bool
	MembersFullyLoaded     bool
	ShouldRotateSessionKey bool
	TimelineGaps           map[id.EventID]string // event id -> pagination token
}

// New returns an empty, just-observed room in no particular membership state.
func New(roomID id.RoomID) Room {
	return Room{
		ID:          roomID,
		State:       make(map[event.StateKey]event.Event),
		AccountData: make(map[string]event.Event),
		Ephemeral:   make(map[string]event.Event),
		InviteState: make(map[event.StateKey]event.Event),
		Timeline:    event.NewTimeline(),
		TimelineGaps: make(map[id.EventID]string),
	}
}

// WithMembership returns a copy with the membership set. Once a room is
// observed it is never deleted by a membership transition (spec §3).
func (r Room) WithMembership(m Membership) Room {
	r.Membership = m
	return r
}

// AppendTimeline returns a copy with events appended at the tail. The
// timeline grows monotonically: this never removes existing events.
func (r Room) AppendTimeline(events ...event.Event) Room {
	r.Timeline = r.Timeline.Append(events...)
	return r
}

// PrependTimeline returns a copy with events spliced in at the head,
// typically after a successful backward paginate that closes a gap.
func (r Room) PrependTimeline(events ...event.Event) Room {
	r.Timeline = r.Timeline.Prepend(events...)
	return r
}

// PutState returns a copy with a state event recorded at its (type, key)
// slot, enforcing "at most one state entry per (type,key)" by overwrite.
func (r Room) PutState(e event.Event) Room {
	if !e.IsState() {
		return r
	}
	state := cloneEventMap(r.State)
	state[e.StateEntryKey()] = e
	r.State = state
	return r
}

// PutAccountData returns a copy with an account-data entry recorded by type,
// later entries replacing earlier ones with an equal key (spec §4.2).
func (r Room) PutAccountData(e event.Event) Room {
	data := cloneEventMap2(r.AccountData)
	data[string(e.Type)] = e
	r.AccountData = data
	return r
}

// PutEphemeral returns a copy with an ephemeral entry recorded by type.
func (r Room) PutEphemeral(e event.Event) Room {
	data := cloneEventMap2(r.Ephemeral)
	data[string(e.Type)] = e
	r.Ephemeral = data
	return r
}

// SetInviteState replaces the invite-state map wholesale, as happens when a
// fresh invite sync entry arrives (spec §4.2 "replace invite-state with
// stripped state converted to events").
func (r Room) SetInviteState(events []event.Event) Room {
	state := make(map[event.StateKey]event.Event, len(events))
	for _, e := range events {
		if e.IsState() {
			state[e.StateEntryKey()] = e
		}
	}
	r.InviteState = state
	return r
}

// MarkEncrypted returns a copy with Encrypted forced to true. Encrypted is
// sticky: calling this on an already-encrypted room is a no-op, and there
// is deliberately no inverse operation (spec §3, §8 monotonicity).
func (r Room) MarkEncrypted() Room {
	r.Encrypted = true
	return r
}

// SetMembersFullyLoaded returns a copy with the membersFullyLoaded flag set.
func (r Room) SetMembersFullyLoaded(v bool) Room {
	r.MembersFullyLoaded = v
	return r
}

// MarkShouldRotateSessionKey returns a copy with the rotation flag set or
// cleared, used when the room's device list changes (set) or a rotation
// has just happened (cleared), per spec §4.4 step 5.
func (r Room) MarkShouldRotateSessionKey(v bool) Room {
	r.ShouldRotateSessionKey = v
	return r
}

// AddGap returns a copy recording a pagination token needed to fetch the
// events preceding eventID.
func (r Room) AddGap(eventID id.EventID, paginationToken string) Room {
	gaps := make(map[id.EventID]string, len(r.TimelineGaps)+1)
	for k, v := range r.TimelineGaps {
		gaps[k] = v
	}
	gaps[eventID] = paginationToken
	r.TimelineGaps = gaps
	return r
}

// CloseGap returns a copy with the gap at eventID removed, as happens once
// a paginate succeeds and stitches the timeline back together (spec §3).
func (r Room) CloseGap(eventID id.EventID) Room {
	if _, ok := r.TimelineGaps[eventID]; !ok {
		return r
	}
	gaps := make(map[id.EventID]string, len(r.TimelineGaps))
	for k, v := range r.TimelineGaps {
		if k == eventID {
			continue
		}
		gaps[k] = v
	}
	r.TimelineGaps = gaps
	return r
}

// GetState returns the state event at (eventType, stateKey), if any.
func (r Room) GetState(eventType, stateKey string) (event.Event, bool) {
	e, ok := r.State[event.StateKey{Type: eventType, Key: stateKey}]
	return e, ok
}

func cloneEventMap(m map[event.StateKey]event.Event) map[event.StateKey]event.Event {
	out := make(map[event.StateKey]event.Event, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneEventMap2(m map[string]event.Event) map[string]event.Event {
	out := make(map[string]event.Event, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
