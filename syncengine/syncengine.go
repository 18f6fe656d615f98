// Package syncengine implements the pure folding logic of spec §4.2's
// LoadSyncResult, plus the OTK-watermark and backoff decisions the
// self-rescheduling sync effect needs. The effect itself (issuing the
// request, scheduling the next one) lives in package action/package effect,
// which call into these pure helpers so the folding logic stays testable
// without a transport.
package syncengine

import (
	"time"

	"maunium.net/go/mautrix/id"

	"github.com/davidwed/libkazv/cryptoengine"
	"github.com/davidwed/libkazv/devicelist"
	"github.com/davidwed/libkazv/event"
	"github.com/davidwed/libkazv/room"
)

// defaultSyncIntervalMs is the fixed delay between a successful sync's
// completion and the next sync request, per spec §4.2.
const defaultSyncIntervalMs = 2000

// NextDelay returns the fixed delay before the next sync (spec §4.2:
// "schedule the next sync after a fixed delay (default 2000ms)"). A failed
// sync is retried after the same constant delay; failed and
// consecutiveFailures do not lengthen it.
func NextDelay(intervalMs int, failed bool, consecutiveFailures int) time.Duration {
	if intervalMs <= 0 {
		intervalMs = defaultSyncIntervalMs
	}
	return time.Duration(intervalMs) * time.Millisecond
}

// NeedsOneTimeKeyTopUp implements spec §4.2's OTK watermark: "if the
// signed-curve25519 count falls below half of the olm max,
// GenerateAndUploadOneTimeKeys is queued."
func NeedsOneTimeKeyTopUp(signedCurve25519Count int, maxKeys uint) (needed uint, ok bool) {
	half := maxKeys / 2
	if uint(signedCurve25519Count) >= half {
		return 0, false
	}
	return maxKeys - uint(signedCurve25519Count), true
}

// FoldJoinedRoom applies one joined-room sync entry to the room list: append
// timeline events, add state events, add account data, and mark Join.
func FoldJoinedRoom(rooms room.List, roomID id.RoomID, timeline, state, accountData []event.Event) room.List {
	r := rooms.Get(roomID).WithMembership(room.Join)
	r = r.AppendTimeline(timeline...)
	for _, e := range state {
		r = r.PutState(e)
		if e.Type.Type == "m.room.encryption" {
			r = r.MarkEncrypted()
		}
	}
	for _, e := range accountData {
		r = r.PutAccountData(e)
	}
	return rooms.Put(r)
}

// FoldInvitedRoom applies one invited-room sync entry: set membership =
// Invite, replace invite-state wholesale with the stripped state events.
func FoldInvitedRoom(rooms room.List, roomID id.RoomID, inviteState []event.Event) room.List {
	r := rooms.Get(roomID).WithMembership(room.Invite).SetInviteState(inviteState)
	return rooms.Put(r)
}

// FoldLeftRoom applies one left-room sync entry: set membership = Leave,
// record final timeline and account data (spec §4.2). The room is never
// removed by this; only ForgetRoom removes a room.
func FoldLeftRoom(rooms room.List, roomID id.RoomID, timeline, accountData []event.Event) room.List {
	r := rooms.Get(roomID).WithMembership(room.Leave)
	r = r.AppendTimeline(timeline...)
	for _, e := range accountData {
		r = r.PutAccountData(e)
	}
	return rooms.Put(r)
}

// FoldDeviceListsChanged marks each named user's device list outdated.
func FoldDeviceListsChanged(tracker devicelist.Tracker, userIDs []id.UserID) devicelist.Tracker {
	for _, u := range userIDs {
		tracker = tracker.MarkOutdated(u)
	}
	return tracker
}

// FoldDeviceListsLeft drops each named user from the tracker entirely, per
// spec §4.2's "device_lists.left ... drops them."
func FoldDeviceListsLeft(tracker devicelist.Tracker, userIDs []id.UserID) devicelist.Tracker {
	for _, u := range userIDs {
		tracker = tracker.Drop(u)
	}
	return tracker
}

// DecryptToDevice attempts to olm-decrypt one to-device payload addressed
// to the local account from senderUserID, trying each of the sender's
// known devices' existing sessions in turn and returning the plaintext and
// session that succeeded. The caller supplies candidateDevices from its own
// devicelist.Tracker, since Crypto tracks sessions by (user, device) but
// does not itself enumerate a user's known devices.
func DecryptToDevice(crypto *cryptoengine.Crypto, senderUserID id.UserID, candidateDevices []id.DeviceID, ciphertext []byte, msgType id.OlmMsgType) ([]byte, *cryptoengine.OlmSession, bool) {
	for _, deviceID := range candidateDevices {
		sess, ok := crypto.OlmSessionFor(senderUserID, deviceID)
		if !ok {
			continue
		}
		plaintext, err := sess.Decrypt(ciphertext, msgType)
		if err == nil {
			return plaintext, sess, true
		}
	}
	return nil, nil, false
}
