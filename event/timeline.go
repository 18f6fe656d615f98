package event

import "maunium.net/go/mautrix/id"

// Timeline is an ordered, append-only index over a backing event store: a
// sequence of event ids plus a parallel map of the events themselves, per
// spec §3's "ordered timeline (sequence of event ids with a parallel store
// of the events)".
type Timeline struct {
	order []id.EventID
	byID  map[id.EventID]Event
}

// NewTimeline returns an empty Timeline.
func NewTimeline() Timeline {
	return Timeline{byID: make(map[id.EventID]Event)}
}

// Append returns a copy of the timeline extended at the tail (newest end),
// skipping events already present so repeated delivery (e.g. a replayed
// sync) is a no-op, preserving the "timeline is monotonically extended"
// invariant (spec §3) without ever shortening it. Like every other Room
// mutator, it clones its backing map/slice rather than writing through
// the receiver, so a snapshot taken before the call stays valid.
func (t Timeline) Append(events ...Event) Timeline {
	byID := cloneEventByID(t.byID)
	order := append([]id.EventID(nil), t.order...)
	for _, e := range events {
		if _, ok := byID[e.ID]; ok {
			continue
		}
		byID[e.ID] = e
		order = append(order, e.ID)
	}
	return Timeline{byID: byID, order: order}
}

// Prepend returns a copy of the timeline extended at the head (oldest
// end), used when a paginate-backwards response closes a gap.
func (t Timeline) Prepend(events ...Event) Timeline {
	byID := cloneEventByID(t.byID)
	var fresh []id.EventID
	for _, e := range events {
		if _, ok := byID[e.ID]; ok {
			continue
		}
		byID[e.ID] = e
		fresh = append(fresh, e.ID)
	}
	order := append(fresh, t.order...)
	return Timeline{byID: byID, order: order}
}

func cloneEventByID(m map[id.EventID]Event) map[id.EventID]Event {
	out := make(map[id.EventID]Event, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Events returns the timeline events in order, oldest first.
func (t Timeline) Events() []Event {
	out := make([]Event, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

// Get returns the event with the given id, if present.
func (t Timeline) Get(eventID id.EventID) (Event, bool) {
	e, ok := t.byID[eventID]
	return e, ok
}

// Replace returns a copy of the timeline with a new value swapped in for
// an existing event (e.g. after decrypting it), by identity, without
// changing its position.
func (t Timeline) Replace(updated Event) Timeline {
	if _, ok := t.byID[updated.ID]; !ok {
		return t
	}
	byID := cloneEventByID(t.byID)
	byID[updated.ID] = updated
	return Timeline{byID: byID, order: t.order}
}

// Len returns the number of events currently in the timeline.
func (t Timeline) Len() int { return len(t.order) }
