// Package trigger defines the observable outcomes a reducer transition can
// emit (spec §4.7). Triggers are drained by the effect runtime after each
// dispatch and forwarded to the host's event emitter; they never drive
// further state transitions themselves.
package trigger

import "maunium.net/go/mautrix/id"

// Trigger is implemented by every concrete outcome type below. The Name
// method gives hosts a stable string to switch on without type-asserting.
type Trigger interface {
	Name() string
}

// CreateRoomSuccessful fires once a CreateRoom job's response has been routed.
type CreateRoomSuccessful struct {
	RoomID id.RoomID
}

func (CreateRoomSuccessful) Name() string { return "CreateRoomSuccessful" }

// SendMessageFailed fires when a send (plaintext or encrypted) could not be
// delivered, carrying the taxonomy-free status code and message the host
// can display.
type SendMessageFailed struct {
	RoomID id.RoomID
	Code   string
	Msg    string
}

func (SendMessageFailed) Name() string { return "SendMessageFailed" }

// SendMessageSuccessful fires once a send job's response has been routed.
type SendMessageSuccessful struct {
	RoomID  id.RoomID
	EventID id.EventID
}

func (SendMessageSuccessful) Name() string { return "SendMessageSuccessful" }

// ReceivingRoomTimelineEvent fires for each timeline event folded in by
// LoadSyncResult, letting the host update a live view incrementally.
type ReceivingRoomTimelineEvent struct {
	RoomID  id.RoomID
	EventID id.EventID
}

func (ReceivingRoomTimelineEvent) Name() string { return "ReceivingRoomTimelineEvent" }

// ReceivingAccountData fires for each account-data entry folded in by sync.
type ReceivingAccountData struct {
	RoomID id.RoomID // empty for global account data
	Type   string
}

func (ReceivingAccountData) Name() string { return "ReceivingAccountData" }

// ReceivingPresence fires for each presence entry folded in by sync.
type ReceivingPresence struct {
	UserID id.UserID
}

func (ReceivingPresence) Name() string { return "ReceivingPresence" }

// UnrecognizedResponse fires when ProcessResponse cannot match a response
// to any known job id; the response is otherwise a no-op.
type UnrecognizedResponse struct {
	JobID string
}

func (UnrecognizedResponse) Name() string { return "UnrecognizedResponse" }

// DisplayCodes fires when a SAS verification has derived its short
// authentication string and the host should show it to the user.
type DisplayCodes struct {
	TransactionID string
	Emoji         []string
	Decimal       [3]uint16
}

func (DisplayCodes) Name() string { return "DisplayCodes" }

// VerificationCancelled fires when a SAS transaction ends in cancellation.
type VerificationCancelled struct {
	TransactionID string
	Reason        string
}

func (VerificationCancelled) Name() string { return "VerificationCancelled" }

// VerificationCompleted fires when a SAS transaction ends with trust
// established (or revoked, on MAC mismatch).
type VerificationCompleted struct {
	TransactionID string
	UserID        id.UserID
	DeviceID      id.DeviceID
	Verified      bool
}

func (VerificationCompleted) Name() string { return "VerificationCompleted" }

// JobCancelled fires for each successor job synthetically cancelled by a
// CancelFutureIfFailed queue after an earlier job in the same queue failed.
type JobCancelled struct {
	JobID   string
	QueueID string
}

func (JobCancelled) Name() string { return "JobCancelled" }

// Buffer is an ordered, append-only bag of triggers produced by one
// reducer transition. The runtime reads it through Items and then empties
// it with ClearTriggers.
type Buffer struct {
	items []Trigger
}

// Push appends a trigger to the buffer.
func (b *Buffer) Push(t Trigger) {
	b.items = append(b.items, t)
}

// Drain returns and clears the buffered triggers.
func (b *Buffer) Drain() []Trigger {
	items := b.items
	b.items = nil
	return items
}

// Len reports the number of buffered triggers.
func (b *Buffer) Len() int { return len(b.items) }

// Items returns the buffered triggers without draining them, for callers
// (like the effect runtime) that read a model snapshot's trigger buffer
// after the fact rather than owning it via pointer.
func (b Buffer) Items() []Trigger { return b.items }
