// Package sendpipeline implements the six-step send/encrypt algorithm from
// spec §4.4. It holds only the pure decision/encryption steps; the
// multi-round-trip orchestration (GetRoomStates -> QueryKeys ->
// ClaimKeysAndSendSessionKey -> send) is driven by package action's
// reducer, which calls back into these helpers at each step.
package sendpipeline

import (
	"maunium.net/go/mautrix/id"

	"github.com/tidwall/sjson"

	"github.com/davidwed/libkazv/cryptoengine"
	"github.com/davidwed/libkazv/devicelist"
	"github.com/davidwed/libkazv/matrixerr"
	"github.com/davidwed/libkazv/room"
	"github.com/davidwed/libkazv/value"
)

// NeedsMemberLoad implements step 2's precondition: a send into an
// encrypted room whose membership has never been fully loaded must first
// fetch room state and query keys.
func NeedsMemberLoad(r room.Room) bool {
	return r.Encrypted && !r.MembersFullyLoaded
}

// DeviceRef identifies one recipient device.
type DeviceRef struct {
	UserID   id.UserID
	DeviceID id.DeviceID
}

// Recipients implements step 3: the recipient device set for every member
// of a room under the active VerificationStrategy. unknownUsers lists
// users for whom at least one device was neither trusted nor rejected.
func Recipients(strategy devicelist.Strategy, memberIDs []id.UserID, devices devicelist.Tracker) (accepted []DeviceRef, unknownUsers []id.UserID) {
	for _, userID := range memberIDs {
		userDevices := devices.Devices(userID)
		ids, unknown := devicelist.SelectRecipients(strategy, userDevices)
		if unknown {
			unknownUsers = append(unknownUsers, userID)
		}
		for _, d := range ids {
			accepted = append(accepted, DeviceRef{UserID: userID, DeviceID: d})
		}
	}
	return accepted, unknownUsers
}

// DevicesNeedingSession implements step 4's precondition: of the accepted
// recipients, which lack an established 1:1 olm session.
func DevicesNeedingSession(crypto *cryptoengine.Crypto, recipients []DeviceRef) []DeviceRef {
	var missing []DeviceRef
	for _, r := range recipients {
		if !crypto.HasOlmSession(r.UserID, r.DeviceID) {
			missing = append(missing, r)
		}
	}
	return missing
}

// ShouldRotate implements step 5: rotate if the room's device list changed
// since the last rotation, or the current session (if any) has aged out or
// exhausted its message budget.
func ShouldRotate(r room.Room, session *cryptoengine.OutboundMegOlmSession, now value.Timestamp) bool {
	if r.ShouldRotateSessionKey {
		return true
	}
	if session == nil {
		return true
	}
	return session.ShouldRotate(now)
}

// EncryptEvent implements step 6: megolm-encrypt the plaintext event body
// and wrap it into an m.room.encrypted content object carrying device_id
// and session_id, per spec §4.4.
func EncryptEvent(session *cryptoengine.OutboundMegOlmSession, deviceID id.DeviceID, roomID, eventType string, plaintext []byte) (map[string]interface{}, error) {
	if session == nil {
		return nil, matrixerr.New(matrixerr.Crypto, "no outbound megolm session for room")
	}
	wrapped, err := wrapPlaintext(roomID, eventType, plaintext)
	if err != nil {
		return nil, matrixerr.Wrap(err, matrixerr.Crypto, "wrapping megolm plaintext")
	}
	ciphertext := session.Encrypt(wrapped)
	return map[string]interface{}{
		"algorithm":  "m.megolm.v1.aes-sha2",
		"ciphertext": string(ciphertext),
		"device_id":  deviceID,
		"session_id": session.ID(),
	}, nil
}

// wrapPlaintext builds the inner megolm plaintext payload: the event type,
// content, and room id, matching the ratchet-level payload every megolm
// client encrypts (the "room_id" field lets the receiver catch session/room
// cross-talk).
func wrapPlaintext(roomID, eventType string, content []byte) ([]byte, error) {
	buf, err := sjson.SetBytes(nil, "room_id", roomID)
	if err != nil {
		return nil, err
	}
	buf, err = sjson.SetBytes(buf, "type", eventType)
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(buf, "content", content)
}
