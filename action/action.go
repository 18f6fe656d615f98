// Package action implements the action algebra and pure reducer from spec
// §4.1: a closed set of action variants grouped by concern, and
// `Reduce(state, action) -> (state', effect)`, the engine's single entry
// point for every state transition.
package action

import (
	"maunium.net/go/mautrix/id"

	"github.com/davidwed/libkazv/devicelist"
	"github.com/davidwed/libkazv/job"
	"github.com/davidwed/libkazv/matrixerr"
	"github.com/davidwed/libkazv/sendpipeline"
	"github.com/davidwed/libkazv/value"
)

// Action is implemented by every concrete variant below. Name gives hosts
// and logging a stable string without type-asserting every variant.
type Action interface {
	Name() string
}

// --- Transport ---------------------------------------------------------

// SubmitJob asks the runtime to enqueue a job for dispatch.
type SubmitJob struct{ Job job.Job }

func (SubmitJob) Name() string { return "SubmitJob" }

// ProcessResponse routes a completed job's response back through the
// per-job-id reducer that issued it.
type ProcessResponse struct {
	Job      job.Job
	Response job.Response
}

func (ProcessResponse) Name() string { return "ProcessResponse" }

// ResubmitJob re-enqueues a job verbatim, e.g. after a transient transport
// failure the caller has decided to retry.
type ResubmitJob struct{ Job job.Job }

func (ResubmitJob) Name() string { return "ResubmitJob" }

// --- Lifecycle -----------------------------------------------------------

// Login starts a password login.
type Login struct {
	Server, User, Password, DeviceName string
}

func (Login) Name() string { return "Login" }

// LoadUserInfo requests /account/whoami.
type LoadUserInfo struct{}

func (LoadUserInfo) Name() string { return "LoadUserInfo" }

// Logout invalidates the current access token.
type Logout struct{}

func (Logout) Name() string { return "Logout" }

// Sync issues (or reschedules) a sync round trip.
type Sync struct{}

func (Sync) Name() string { return "Sync" }

// LoadSyncResult folds a successfully-received /sync response into the
// model, per spec §4.2.
type LoadSyncResult struct {
	NextBatch       string
	Joined          []RoomSyncEntry
	Invited         []RoomSyncEntry
	Left            []RoomSyncEntry
	Presence        []PresenceSyncEntry
	AccountData     []AccountDataSyncEntry
	DeviceListsChanged []id.UserID
	DeviceListsLeft    []id.UserID
	DeviceOTKCounts    map[string]int
	ToDevice        []ToDeviceEvent
}

func (LoadSyncResult) Name() string { return "LoadSyncResult" }

// --- Room operations -------------------------------------------------

// CreateRoom issues POST /createRoom with the given creation body.
type CreateRoom struct{ Body value.JSON }

func (CreateRoom) Name() string { return "CreateRoom" }

// InviteToRoom invites a user to a room.
type InviteToRoom struct {
	RoomID id.RoomID
	UserID id.UserID
}

func (InviteToRoom) Name() string { return "InviteToRoom" }

// JoinRoomById joins an already-known room id.
type JoinRoomById struct{ RoomID id.RoomID }

func (JoinRoomById) Name() string { return "JoinRoomById" }

// JoinRoomByAlias resolves and joins a room alias.
type JoinRoomByAlias struct{ Alias id.RoomAlias }

func (JoinRoomByAlias) Name() string { return "JoinRoomByAlias" }

// LeaveRoom leaves a room.
type LeaveRoom struct{ RoomID id.RoomID }

func (LeaveRoom) Name() string { return "LeaveRoom" }

// ForgetRoom forgets a left room, the only operation that removes it from
// the room list (spec §3).
type ForgetRoom struct{ RoomID id.RoomID }

func (ForgetRoom) Name() string { return "ForgetRoom" }

// PaginateTimeline fetches earlier events through a room's gap.
type PaginateTimeline struct {
	RoomID  id.RoomID
	EventID id.EventID // the gap boundary event; From token looked up from Room.TimelineGaps
	Limit   int
}

func (PaginateTimeline) Name() string { return "PaginateTimeline" }

// SendMessage runs the six-step send/encrypt pipeline from spec §4.4.
type SendMessage struct {
	RoomID    id.RoomID
	EventType string
	Content   value.JSON
	TxnID     string
}

func (SendMessage) Name() string { return "SendMessage" }

// SendStateEvent sends a state event.
type SendStateEvent struct {
	RoomID    id.RoomID
	EventType string
	StateKey  string
	Content   value.JSON
}

func (SendStateEvent) Name() string { return "SendStateEvent" }

// GetRoomStates fetches the full room state, used to fully load membership
// before selecting encryption recipients (spec §4.4 step 2).
type GetRoomStates struct{ RoomID id.RoomID }

func (GetRoomStates) Name() string { return "GetRoomStates" }

// GetStateEvent fetches a single state event.
type GetStateEvent struct {
	RoomID    id.RoomID
	EventType string
	StateKey  string
}

func (GetStateEvent) Name() string { return "GetStateEvent" }

// SetTyping sets or clears the local user's typing indicator.
type SetTyping struct {
	RoomID    id.RoomID
	Typing    bool
	TimeoutMs int
}

func (SetTyping) Name() string { return "SetTyping" }

// PostReceipt posts a read receipt for an event.
type PostReceipt struct {
	RoomID  id.RoomID
	EventID id.EventID
}

func (PostReceipt) Name() string { return "PostReceipt" }

// SetReadMarker sets the fully-read marker for a room.
type SetReadMarker struct {
	RoomID  id.RoomID
	EventID id.EventID
}

func (SetReadMarker) Name() string { return "SetReadMarker" }

// --- Content -------------------------------------------------------------

// UploadContent uploads a media blob.
type UploadContent struct{ Body job.Body }

func (UploadContent) Name() string { return "UploadContent" }

// GetContent downloads a media blob by mxc URI.
type GetContent struct{ URI id.ContentURI }

func (GetContent) Name() string { return "GetContent" }

// GetContentThumbnail downloads a thumbnail.
type GetContentThumbnail struct {
	URI           id.ContentURI
	Width, Height int
	Method        string
}

func (GetContentThumbnail) Name() string { return "GetContentThumbnail" }

// --- Encryption ------------------------------------------------------

// UploadIdentityKeys uploads the local device's identity keys.
type UploadIdentityKeys struct{}

func (UploadIdentityKeys) Name() string { return "UploadIdentityKeys" }

// GenerateAndUploadOneTimeKeys tops up one-time keys per the OTK watermark.
type GenerateAndUploadOneTimeKeys struct{ Count uint }

func (GenerateAndUploadOneTimeKeys) Name() string { return "GenerateAndUploadOneTimeKeys" }

// QueryKeys requests the current device keys for a set of users.
type QueryKeys struct {
	UserIDs     []id.UserID
	InitialSync bool
}

func (QueryKeys) Name() string { return "QueryKeys" }

// ClaimKeysAndSendSessionKey claims one-time keys for devices lacking an
// olm session and sends them the current megolm session key.
type ClaimKeysAndSendSessionKey struct {
	RoomID  id.RoomID
	Devices []sendpipeline.DeviceRef
}

func (ClaimKeysAndSendSessionKey) Name() string { return "ClaimKeysAndSendSessionKey" }

// EncryptMegOlmEvent is an internal action requesting megolm encryption of
// an already-queued plaintext event for a room (split out from SendMessage
// so rotation can be interposed as its own step, per spec §4.4 step 5/6).
type EncryptMegOlmEvent struct {
	RoomID    id.RoomID
	EventType string
	Content   value.JSON
	TxnID     string
}

func (EncryptMegOlmEvent) Name() string { return "EncryptMegOlmEvent" }

// EncryptOlmEvent is an internal action requesting olm (1:1) encryption of
// a to-device payload for one recipient device.
type EncryptOlmEvent struct {
	UserID   id.UserID
	DeviceID id.DeviceID
	Content  value.JSON
}

func (EncryptOlmEvent) Name() string { return "EncryptOlmEvent" }

// SetVerificationStrategy changes the active device-trust policy.
type SetVerificationStrategy struct{ Strategy devicelist.Strategy }

func (SetVerificationStrategy) Name() string { return "SetVerificationStrategy" }

// --- Sub-reducers ------------------------------------------------------

// RoomListAction wraps a sub-action, which Reduce applies unchanged through
// the top-level reducer; kept generic so the outer reducer does not need to
// know every inner variant.
type RoomListAction struct{ Sub Action }

func (RoomListAction) Name() string { return "RoomListAction" }

// ErrorAction carries a sub-action representing an externally observed
// failure (e.g. a transport error surfaced outside the normal
// ProcessResponse path).
type ErrorAction struct{ Err *matrixerr.Error }

func (ErrorAction) Name() string { return "ErrorAction" }

// RoomSyncEntry is one room's contribution to a /sync response, pre-decoded
// into the engine's own event vocabulary by the job layer (spec §4.2).
type RoomSyncEntry struct {
	RoomID      id.RoomID
	Timeline    []RawEvent
	State       []RawEvent
	AccountData []RawEvent
	Ephemeral   []RawEvent
	InviteState []RawEvent
	PrevBatch   string
	Limited     bool
}

// RawEvent is a not-yet-parsed event envelope as delivered by the job
// layer; action.Reduce is responsible for turning it into an event.Event
// (kept here, rather than importing package event directly into every
// action field, so this file stays focused on the algebra).
type RawEvent struct {
	JSON value.JSON
}

// PresenceSyncEntry is one presence event from a /sync response.
type PresenceSyncEntry struct {
	UserID  id.UserID
	Content value.JSON
}

// AccountDataSyncEntry is one global account-data entry from a /sync
// response.
type AccountDataSyncEntry struct {
	Type    string
	Content value.JSON
}

// ToDeviceEvent is one undecoded to-device event from a sync response.
type ToDeviceEvent struct {
	Sender id.UserID
	Type   string
	JSON   value.JSON
}
