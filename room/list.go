package room

import "maunium.net/go/mautrix/id"

// List is the room id -> Room mapping from spec §3 "RoomList". Rooms are
// created on first observation and retained indefinitely; they are removed
// only by an explicit Forget.
type List struct {
	rooms map[id.RoomID]Room
}

// NewList returns an empty room list.
func NewList() List {
	return List{rooms: make(map[id.RoomID]Room)}
}

// Get returns the room with the given id, or a new bare, unjoined Room if
// it is not in the list; the list itself is not changed (Put records a room).
func (l List) Get(roomID id.RoomID) Room {
	if r, ok := l.rooms[roomID]; ok {
		return r
	}
	return New(roomID)
}

// Lookup returns the room and whether it has ever been observed.
func (l List) Lookup(roomID id.RoomID) (Room, bool) {
	r, ok := l.rooms[roomID]
	return r, ok
}

// Put returns a copy of the list with r recorded under its own id.
func (l List) Put(r Room) List {
	rooms := make(map[id.RoomID]Room, len(l.rooms)+1)
	for k, v := range l.rooms {
		rooms[k] = v
	}
	rooms[r.ID] = r
	return List{rooms: rooms}
}

// Forget returns a copy of the list with roomID removed entirely. This is
// the only operation that deletes a room (spec §3).
func (l List) Forget(roomID id.RoomID) List {
	if _, ok := l.rooms[roomID]; !ok {
		return l
	}
	rooms := make(map[id.RoomID]Room, len(l.rooms))
	for k, v := range l.rooms {
		if k == roomID {
			continue
		}
		rooms[k] = v
	}
	return List{rooms: rooms}
}

// All returns every room, in no particular order.
func (l List) All() []Room {
	out := make([]Room, 0, len(l.rooms))
	for _, r := range l.rooms {
		out = append(out, r)
	}
	return out
}

// Len reports the number of rooms ever observed (and not forgotten).
func (l List) Len() int { return len(l.rooms) }
