package cryptoengine

import (
	"maunium.net/go/mautrix/id"
)

// olmSessionKey identifies a 1:1 olm session by counterpart device.
type olmSessionKey struct {
	UserID   id.UserID
	DeviceID id.DeviceID
}

// inboundKey identifies an inbound megolm session, per spec §3: keyed by
// (room, sender curve25519, session id).
type inboundKey struct {
	RoomID    id.RoomID
	SenderKey id.SenderKey
	SessionID id.SessionID
}

// Crypto is the `Option<Crypto>` aggregate from spec §3 "ClientModel": the
// local account plus every session the engine currently holds. The
// ClientModel holds it by pointer, and the Put* helpers write into the
// session maps in place, so every model copy that shares the pointer sees
// the change.
type Crypto struct {
	Account          *Account
	OlmSessions      map[olmSessionKey]*OlmSession
	OutboundSessions map[id.RoomID]*OutboundMegOlmSession
	InboundSessions  map[inboundKey]*InboundMegOlmSession
}

// NewCrypto wraps a freshly created or restored account into an empty
// Crypto aggregate.
func NewCrypto(account *Account) *Crypto {
	return &Crypto{
		Account:          account,
		OlmSessions:      make(map[olmSessionKey]*OlmSession),
		OutboundSessions: make(map[id.RoomID]*OutboundMegOlmSession),
		InboundSessions:  make(map[inboundKey]*InboundMegOlmSession),
	}
}

// HasOlmSession reports whether a 1:1 session with the given device
// already exists, driving the "if any recipient device lacks an olm
// session" check in spec §4.4 step 4.
func (c *Crypto) HasOlmSession(userID id.UserID, deviceID id.DeviceID) bool {
	_, ok := c.OlmSessions[olmSessionKey{userID, deviceID}]
	return ok
}

// PutOlmSession records a 1:1 session for a device.
func (c *Crypto) PutOlmSession(userID id.UserID, deviceID id.DeviceID, sess *OlmSession) {
	c.OlmSessions[olmSessionKey{userID, deviceID}] = sess
}

// OlmSessionFor returns the 1:1 session for a device, if any.
func (c *Crypto) OlmSessionFor(userID id.UserID, deviceID id.DeviceID) (*OlmSession, bool) {
	s, ok := c.OlmSessions[olmSessionKey{userID, deviceID}]
	return s, ok
}

// OutboundFor returns the current outbound megolm session for a room.
func (c *Crypto) OutboundFor(roomID id.RoomID) (*OutboundMegOlmSession, bool) {
	s, ok := c.OutboundSessions[roomID]
	return s, ok
}

// PutOutbound records a room's outbound megolm session, replacing any
// previous one — the only way rotation happens (spec §4.4 step 5).
func (c *Crypto) PutOutbound(sess *OutboundMegOlmSession) {
	c.OutboundSessions[sess.RoomID] = sess
}

// PutInbound records an inbound megolm session.
func (c *Crypto) PutInbound(sess *InboundMegOlmSession, roomID id.RoomID, senderKey id.SenderKey) {
	c.InboundSessions[inboundKey{roomID, senderKey, sess.ID()}] = sess
}

// InboundFor looks up an inbound megolm session by its natural key.
func (c *Crypto) InboundFor(roomID id.RoomID, senderKey id.SenderKey, sessionID id.SessionID) (*InboundMegOlmSession, bool) {
	s, ok := c.InboundSessions[inboundKey{roomID, senderKey, sessionID}]
	return s, ok
}

// OlmSessionRecord pairs a 1:1 session with the (user, device) it belongs
// to, for callers outside this package that need to enumerate sessions
// (e.g. package snapshot) without reaching into the unexported map key type.
type OlmSessionRecord struct {
	UserID   id.UserID
	DeviceID id.DeviceID
	Session  *OlmSession
}

// ExportOlmSessions enumerates every 1:1 session this account holds.
func (c *Crypto) ExportOlmSessions() []OlmSessionRecord {
	out := make([]OlmSessionRecord, 0, len(c.OlmSessions))
	for k, v := range c.OlmSessions {
		out = append(out, OlmSessionRecord{UserID: k.UserID, DeviceID: k.DeviceID, Session: v})
	}
	return out
}

// ExportOutbound enumerates every room's current outbound megolm session.
func (c *Crypto) ExportOutbound() []*OutboundMegOlmSession {
	out := make([]*OutboundMegOlmSession, 0, len(c.OutboundSessions))
	for _, v := range c.OutboundSessions {
		out = append(out, v)
	}
	return out
}

// ExportInbound enumerates every inbound megolm session this account holds.
func (c *Crypto) ExportInbound() []*InboundMegOlmSession {
	out := make([]*InboundMegOlmSession, 0, len(c.InboundSessions))
	for _, v := range c.InboundSessions {
		out = append(out, v)
	}
	return out
}
