package cryptoengine

import (
	"maunium.net/go/mautrix/crypto/olm"
	"maunium.net/go/mautrix/id"

	"github.com/davidwed/libkazv/matrixerr"
	"github.com/davidwed/libkazv/value"
)

// RotationPolicy is the explicit rotation descriptor from spec §3
// "OutboundMegOlmSession": a time limit and a message-count limit.
type RotationPolicy struct {
	TimeLimitMs    int64
	MessageLimit   uint
}

// OutboundMegOlmSession is the per-room sender session from spec §3.
type OutboundMegOlmSession struct {
	inner        *olm.OutboundGroupSession
	RoomID       id.RoomID
	CreatedAt    value.Timestamp
	MessageCount uint
	Policy       RotationPolicy
}

// NewOutboundMegOlmSession creates a fresh outbound group session for a
// room. Megolm session creation does not take caller-supplied randomness
// in the upstream library (it seeds from the system CSPRNG internally),
// consistent with libolm's megolm API.
func NewOutboundMegOlmSession(roomID id.RoomID, policy RotationPolicy, now value.Timestamp) *OutboundMegOlmSession {
	return &OutboundMegOlmSession{
		inner:     olm.NewOutboundGroupSession(),
		RoomID:    roomID,
		CreatedAt: now,
		Policy:    policy,
	}
}

// ID returns the session id.
func (s *OutboundMegOlmSession) ID() id.SessionID { return s.inner.ID() }

// SessionKey returns the initial session key shared with recipients via
// an olm-encrypted m.room_key to-device event (spec §4.4 step 4).
func (s *OutboundMegOlmSession) SessionKey() string { return s.inner.Key() }

// Encrypt encrypts plaintext with the current ratchet and advances the
// message counter, per spec §4.4 step 6.
func (s *OutboundMegOlmSession) Encrypt(plaintext []byte) []byte {
	s.MessageCount++
	return s.inner.Encrypt(plaintext)
}

// Pickle serializes the outbound session's ratchet state.
func (s *OutboundMegOlmSession) Pickle(key []byte) []byte {
	return s.inner.Pickle(key)
}

// UnpickleOutboundMegOlmSession restores an outbound session from pickled
// bytes plus the bookkeeping fields the olm pickle itself does not carry.
func UnpickleOutboundMegOlmSession(pickled, key []byte, roomID id.RoomID, createdAt value.Timestamp, messageCount uint, policy RotationPolicy) (*OutboundMegOlmSession, error) {
	inner, err := olm.OutboundGroupSessionFromPickled(pickled, key)
	if err != nil {
		return nil, err
	}
	return &OutboundMegOlmSession{
		inner:        inner,
		RoomID:       roomID,
		CreatedAt:    createdAt,
		MessageCount: messageCount,
		Policy:       policy,
	}, nil
}

// ShouldRotate implements spec §4.4 step 5(b)/(c): rotate if the session's
// age exceeds the time limit or its message count has reached the limit.
// Step 5(a) (device-list-changed) is tracked on the Room, not here, since
// it is triggered by sync rather than by this session's own state.
func (s *OutboundMegOlmSession) ShouldRotate(now value.Timestamp) bool {
	age := now.Sub(s.CreatedAt)
	if age.Milliseconds() > s.Policy.TimeLimitMs {
		return true
	}
	return s.MessageCount >= s.Policy.MessageLimit
}

// RotateMegOlmSessionRandomSize is a named constant per spec §4.5's
// RandomSize discipline; megolm rotation is simply "create a new session",
// which (see NewOutboundMegOlmSession) needs no caller-supplied randomness
// in the underlying library, so this is always zero.
func RotateMegOlmSessionRandomSize() int { return 0 }

// replayRecord is what the inbound session remembers about the first
// decryption at a given ratchet index, per spec §3/§4.5/§8.
type replayRecord struct {
	EventID  id.EventID
	OriginTS value.Timestamp
}

// InboundMegOlmSession is the per-(room, sender curve25519, session id)
// receiver session from spec §3, including engine-owned replay detection
// that the upstream olm library does not track for us.
type InboundMegOlmSession struct {
	inner        *olm.InboundGroupSession
	RoomID       id.RoomID
	SenderKey    id.SenderKey
	ClaimedEd25519 id.Ed25519PublicKey
	seenIndices  map[uint32]replayRecord
}

// NewInboundMegOlmSession creates an inbound session from a session key
// shared via an m.room_key to-device event.
func NewInboundMegOlmSession(roomID id.RoomID, senderKey id.SenderKey, claimedEd25519 id.Ed25519PublicKey, sessionKey string) (*InboundMegOlmSession, error) {
	inner, err := olm.NewInboundGroupSession([]byte(sessionKey))
	if err != nil {
		return nil, err
	}
	return &InboundMegOlmSession{
		inner:          inner,
		RoomID:         roomID,
		SenderKey:      senderKey,
		ClaimedEd25519: claimedEd25519,
		seenIndices:    make(map[uint32]replayRecord),
	}, nil
}

// ID returns the session id.
func (s *InboundMegOlmSession) ID() id.SessionID { return s.inner.ID() }

// Pickle serializes the inbound session's ratchet state.
func (s *InboundMegOlmSession) Pickle(key []byte) []byte {
	return s.inner.Pickle(key)
}

// UnpickleInboundMegOlmSession restores an inbound session from pickled
// bytes plus the (room, sender, claimed ed25519) bookkeeping fields the
// olm pickle itself does not carry. Replay-detection state is never
// persisted (spec §8 scopes replay detection to a single running process),
// so a restored session starts with an empty seenIndices.
func UnpickleInboundMegOlmSession(pickled, key []byte, roomID id.RoomID, senderKey id.SenderKey, claimedEd25519 id.Ed25519PublicKey) (*InboundMegOlmSession, error) {
	inner, err := olm.InboundGroupSessionFromPickled(pickled, key)
	if err != nil {
		return nil, err
	}
	return &InboundMegOlmSession{
		inner:          inner,
		RoomID:         roomID,
		SenderKey:      senderKey,
		ClaimedEd25519: claimedEd25519,
		seenIndices:    make(map[uint32]replayRecord),
	}, nil
}

// Decrypt decrypts ciphertext and enforces replay detection per spec §4.5/
// §8: decrypting the same (event id, origin ts) at a previously-seen
// ratchet index is idempotent; decrypting a *different* (event id, origin
// ts) at a seen index is a replay and fails.
func (s *InboundMegOlmSession) Decrypt(ciphertext []byte, eventID id.EventID, originTS value.Timestamp) ([]byte, error) {
	plaintext, index, err := s.inner.Decrypt(ciphertext)
	if err != nil {
		return nil, matrixerr.Wrap(err, matrixerr.Crypto, "megolm decrypt failed")
	}
	want := replayRecord{EventID: eventID, OriginTS: originTS}
	if seen, ok := s.seenIndices[index]; ok {
		if seen != want {
			return nil, matrixerr.New(matrixerr.Crypto, "megolm replay detected: ratchet index reused with a different event")
		}
		return plaintext, nil
	}
	s.seenIndices[index] = want
	return plaintext, nil
}
