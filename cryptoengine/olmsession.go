package cryptoengine

import (
	"maunium.net/go/mautrix/crypto/olm"
	"maunium.net/go/mautrix/id"
)

// OlmSession is a stateful 1:1 ratcheting session, per spec §3
// "OlmSession": opaque pickled state plus the counterparty's curve25519
// identity key.
type OlmSession struct {
	inner       *olm.Session
	counterpart id.Curve25519PublicKey
}

// Counterpart returns the curve25519 identity key of the other party.
func (s *OlmSession) Counterpart() id.Curve25519PublicKey { return s.counterpart }

// ID returns the session's id, derived from its ratchet state.
func (s *OlmSession) ID() id.SessionID { return s.inner.ID() }

// Encrypt encrypts plaintext under the current ratchet state and advances
// the ratchet. Olm message encryption seeds from the system CSPRNG
// internally, same as account/session creation, so this takes no random
// source.
func (s *OlmSession) Encrypt(plaintext []byte) (msgType id.OlmMsgType, ciphertext []byte, err error) {
	msgType, ciphertext = s.inner.Encrypt(plaintext)
	return msgType, ciphertext, nil
}

// Decrypt decrypts a ciphertext of the given olm message type, advancing
// the ratchet on success.
func (s *OlmSession) Decrypt(ciphertext []byte, msgType id.OlmMsgType) ([]byte, error) {
	return s.inner.Decrypt(ciphertext, msgType)
}

// Pickle serializes the session's ratchet state, encrypted under key.
func (s *OlmSession) Pickle(key []byte) []byte {
	return s.inner.Pickle(key)
}

// UnpickleOlmSession restores a session from pickled bytes and the
// counterpart's identity key (which is not itself part of the olm pickle
// in all library versions, so the engine carries it alongside).
func UnpickleOlmSession(pickled, key []byte, counterpart id.Curve25519PublicKey) (*OlmSession, error) {
	inner, err := olm.SessionFromPickled(pickled, key)
	if err != nil {
		return nil, err
	}
	return &OlmSession{inner: inner, counterpart: counterpart}, nil
}

// MatchesInboundSession reports whether a pre-key message was intended for
// this session, used to pick the right existing session instead of always
// creating a new one on receipt of a PREKEY message type.
func (s *OlmSession) MatchesInboundSession(ciphertext []byte) bool {
	return s.inner.MatchesInboundSession(ciphertext)
}
