// Package snapshot implements the persisted-state mirror from spec §6:
// a JSON-serializable shape of client.Model plus Load/Save round-trip
// functions. Storage transport itself (file, SQL, ...) is out of scope —
// this package only defines the serializable shape and the conversions to
// and from client.Model, the way the teacher's database.Storer interface
// is consumed by callers without this engine owning a SQL driver.
package snapshot

import (
	"encoding/json"
	"io"

	"maunium.net/go/mautrix/id"

	"github.com/davidwed/libkazv/client"
	"github.com/davidwed/libkazv/cryptoengine"
	"github.com/davidwed/libkazv/devicelist"
	"github.com/davidwed/libkazv/event"
	"github.com/davidwed/libkazv/matrixerr"
	"github.com/davidwed/libkazv/room"
	"github.com/davidwed/libkazv/value"
	"github.com/davidwed/libkazv/verification"
)

// State is the JSON-serializable mirror of client.Model: every field the
// engine needs to resume a session without a fresh initial sync. job.Queues
// is deliberately not part of this shape — queued-but-undispatched jobs are
// transport-in-flight state, not session state, and are safe to re-derive
// after a restart rather than replay verbatim.
type State struct {
	ServerURL string      `json:"serverUrl"`
	UserID    id.UserID   `json:"userId"`
	DeviceID  id.DeviceID `json:"deviceId"`
	Token     string      `json:"token"`
	SyncToken string      `json:"syncToken"`

	Rooms       []RoomState        `json:"rooms"`
	AccountData []AccountDataEntry `json:"accountData"`
	Presence    []PresenceEntry    `json:"presence"`

	Crypto               *CryptoState                     `json:"crypto,omitempty"`
	DeviceLists          DeviceListState                  `json:"deviceLists"`
	Verification         map[string]verification.Process `json:"verification"`
	VerificationStrategy devicelist.Strategy              `json:"verificationStrategy"`

	// Unknown holds any top-level field this version of the engine does
	// not recognize, so a snapshot written by a newer version round-trips
	// through an older one untouched instead of losing data silently.
	Unknown map[string]json.RawMessage `json:"-"`
}

// RoomState is the serializable mirror of room.Room. The keyed maps
// (State, AccountData, Ephemeral, InviteState) are flattened to slices
// since their keys are derivable from each event itself.
type RoomState struct {
	ID                     id.RoomID            `json:"id"`
	Membership             room.Membership      `json:"membership"`
	Timeline               []event.Event        `json:"timeline"`
	State                  []event.Event         `json:"state"`
	AccountData            []event.Event         `json:"accountData"`
	Ephemeral              []event.Event         `json:"ephemeral"`
	InviteState            []event.Event         `json:"inviteState"`
	Encrypted              bool                  `json:"encrypted"`
	MembersFullyLoaded     bool                  `json:"membersFullyLoaded"`
	ShouldRotateSessionKey bool                  `json:"shouldRotateSessionKey"`
	TimelineGaps           map[id.EventID]string `json:"timelineGaps"`
}

// AccountDataEntry mirrors client.AccountDataEntry.
type AccountDataEntry struct {
	Type    string `json:"type"`
	Content []byte `json:"content"`
}

// PresenceEntry mirrors client.PresenceEntry.
type PresenceEntry struct {
	UserID  id.UserID `json:"userId"`
	Content []byte    `json:"content"`
}

// DeviceListState mirrors devicelist.Tracker's exported shape.
type DeviceListState struct {
	Devices  map[id.UserID]map[id.DeviceID]devicelist.DeviceKeyInfo `json:"devices"`
	Outdated []id.UserID                                            `json:"outdated"`
	Queried  []id.UserID                                            `json:"queried"`
}

// CryptoState mirrors cryptoengine.Crypto. Every session is pickled under
// a caller-supplied key rather than serialized field-by-field, since
// ratchet state is opaque by design (spec §3).
type CryptoState struct {
	AccountPickle []byte                `json:"accountPickle"`
	OlmSessions   []OlmSessionState     `json:"olmSessions"`
	Outbound      []OutboundMegOlmState `json:"outbound"`
	Inbound       []InboundMegOlmState  `json:"inbound"`
}

// OlmSessionState mirrors one cryptoengine.OlmSessionRecord.
type OlmSessionState struct {
	UserID      id.UserID              `json:"userId"`
	DeviceID    id.DeviceID            `json:"deviceId"`
	Counterpart id.Curve25519PublicKey `json:"counterpart"`
	Pickle      []byte                 `json:"pickle"`
}

// OutboundMegOlmState mirrors one cryptoengine.OutboundMegOlmSession.
type OutboundMegOlmState struct {
	RoomID       id.RoomID                  `json:"roomId"`
	CreatedAt    value.Timestamp            `json:"createdAt"`
	MessageCount uint                       `json:"messageCount"`
	Policy       cryptoengine.RotationPolicy `json:"policy"`
	Pickle       []byte                     `json:"pickle"`
}

// InboundMegOlmState mirrors one cryptoengine.InboundMegOlmSession.
type InboundMegOlmState struct {
	RoomID         id.RoomID              `json:"roomId"`
	SenderKey      id.SenderKey           `json:"senderKey"`
	ClaimedEd25519 id.Ed25519PublicKey    `json:"claimedEd25519"`
	Pickle         []byte                 `json:"pickle"`
}

// ToState converts a live Model into its persisted form. pickleKey encrypts
// every olm/megolm session pickle; callers own its storage and lifetime
// (e.g. derived from a user passphrase), the same way the teacher expects
// callers to own their own database credentials.
func ToState(m client.Model, pickleKey []byte) State {
	s := State{
		ServerURL:            m.ServerURL,
		UserID:               m.UserID,
		DeviceID:             m.DeviceID,
		Token:                m.Token,
		SyncToken:            m.SyncToken,
		VerificationStrategy: m.VerificationStrategy,
	}
	for _, r := range m.Rooms.All() {
		s.Rooms = append(s.Rooms, toRoomState(r))
	}
	for _, e := range m.AccountData {
		s.AccountData = append(s.AccountData, AccountDataEntry{Type: e.Type, Content: e.Content})
	}
	for _, e := range m.Presence {
		s.Presence = append(s.Presence, PresenceEntry{UserID: e.UserID, Content: e.Content})
	}

	devices, outdated, queried := m.DeviceLists.Export()
	s.DeviceLists = DeviceListState{Devices: devices, Outdated: outdated, Queried: queried}
	s.Verification = m.Verification.Export()

	if m.Crypto != nil {
		s.Crypto = toCryptoState(m.Crypto, pickleKey)
	}
	return s
}

func toRoomState(r room.Room) RoomState {
	rs := RoomState{
		ID:                     r.ID,
		Membership:             r.Membership,
		Timeline:               r.Timeline.Events(),
		Encrypted:              r.Encrypted,
		MembersFullyLoaded:     r.MembersFullyLoaded,
		ShouldRotateSessionKey: r.ShouldRotateSessionKey,
		TimelineGaps:           r.TimelineGaps,
	}
	for _, e := range r.State {
		rs.State = append(rs.State, e)
	}
	for _, e := range r.AccountData {
		rs.AccountData = append(rs.AccountData, e)
	}
	for _, e := range r.Ephemeral {
		rs.Ephemeral = append(rs.Ephemeral, e)
	}
	for _, e := range r.InviteState {
		rs.InviteState = append(rs.InviteState, e)
	}
	return rs
}

func toCryptoState(c *cryptoengine.Crypto, pickleKey []byte) *CryptoState {
	cs := &CryptoState{AccountPickle: c.Account.Pickle(pickleKey)}
	for _, rec := range c.ExportOlmSessions() {
		cs.OlmSessions = append(cs.OlmSessions, OlmSessionState{
			UserID:      rec.UserID,
			DeviceID:    rec.DeviceID,
			Counterpart: rec.Session.Counterpart(),
			Pickle:      rec.Session.Pickle(pickleKey),
		})
	}
	for _, sess := range c.ExportOutbound() {
		cs.Outbound = append(cs.Outbound, OutboundMegOlmState{
			RoomID:       sess.RoomID,
			CreatedAt:    sess.CreatedAt,
			MessageCount: sess.MessageCount,
			Policy:       sess.Policy,
			Pickle:       sess.Pickle(pickleKey),
		})
	}
	for _, sess := range c.ExportInbound() {
		cs.Inbound = append(cs.Inbound, InboundMegOlmState{
			RoomID:         sess.RoomID,
			SenderKey:      sess.SenderKey,
			ClaimedEd25519: sess.ClaimedEd25519,
			Pickle:         sess.Pickle(pickleKey),
		})
	}
	return cs
}

// FromState rebuilds a Model from a persisted State. pickleKey must be the
// same key ToState was called with.
func FromState(s State, pickleKey []byte) (client.Model, error) {
	m := client.New(s.ServerURL, s.VerificationStrategy)
	m.UserID = s.UserID
	m.DeviceID = s.DeviceID
	m.Token = s.Token
	m.SyncToken = s.SyncToken

	rooms := room.NewList()
	for _, rs := range s.Rooms {
		rooms = rooms.Put(fromRoomState(rs))
	}
	m.Rooms = rooms

	for _, e := range s.AccountData {
		m = m.PutAccountData(client.AccountDataEntry{Type: e.Type, Content: e.Content})
	}
	for _, e := range s.Presence {
		m = m.PutPresence(client.PresenceEntry{UserID: e.UserID, Content: e.Content})
	}

	m.DeviceLists = devicelist.Import(s.DeviceLists.Devices, s.DeviceLists.Outdated, s.DeviceLists.Queried)
	m.Verification = verification.Import(s.Verification)

	if s.Crypto != nil {
		crypto, err := fromCryptoState(*s.Crypto, pickleKey)
		if err != nil {
			return client.Model{}, matrixerr.Wrap(err, matrixerr.Crypto, "restoring crypto snapshot")
		}
		m.Crypto = crypto
	}
	return m, nil
}

func fromRoomState(rs RoomState) room.Room {
	r := room.New(rs.ID).WithMembership(rs.Membership)
	r = r.AppendTimeline(rs.Timeline...)
	for _, e := range rs.State {
		r = r.PutState(e)
	}
	for _, e := range rs.AccountData {
		r = r.PutAccountData(e)
	}
	for _, e := range rs.Ephemeral {
		r = r.PutEphemeral(e)
	}
	r = r.SetInviteState(rs.InviteState)
	if rs.Encrypted {
		r = r.MarkEncrypted()
	}
	r = r.SetMembersFullyLoaded(rs.MembersFullyLoaded)
	r = r.MarkShouldRotateSessionKey(rs.ShouldRotateSessionKey)
	for eventID, token := range rs.TimelineGaps {
		r = r.AddGap(eventID, token)
	}
	return r
}

func fromCryptoState(cs CryptoState, pickleKey []byte) (*cryptoengine.Crypto, error) {
	account, err := cryptoengine.UnpickleAccount(cs.AccountPickle, pickleKey)
	if err != nil {
		return nil, err
	}
	crypto := cryptoengine.NewCrypto(account)
	for _, rec := range cs.OlmSessions {
		sess, err := cryptoengine.UnpickleOlmSession(rec.Pickle, pickleKey, rec.Counterpart)
		if err != nil {
			return nil, err
		}
		crypto.PutOlmSession(rec.UserID, rec.DeviceID, sess)
	}
	for _, rec := range cs.Outbound {
		sess, err := cryptoengine.UnpickleOutboundMegOlmSession(rec.Pickle, pickleKey, rec.RoomID, rec.CreatedAt, rec.MessageCount, rec.Policy)
		if err != nil {
			return nil, err
		}
		crypto.PutOutbound(sess)
	}
	for _, rec := range cs.Inbound {
		sess, err := cryptoengine.UnpickleInboundMegOlmSession(rec.Pickle, pickleKey, rec.RoomID, rec.SenderKey, rec.ClaimedEd25519)
		if err != nil {
			return nil, err
		}
		crypto.PutInbound(sess, rec.RoomID, rec.SenderKey)
	}
	return crypto, nil
}

// knownFields lists State's JSON tags, used to separate known from unknown
// top-level keys when round-tripping through MarshalJSON/UnmarshalJSON.
var knownFields = map[string]bool{
	"serverUrl": true, "userId": true, "deviceId": true, "token": true,
	"syncToken": true, "rooms": true, "accountData": true, "presence": true,
	"crypto": true, "deviceLists": true, "verification": true,
	"verificationStrategy": true,
}

// MarshalJSON folds Unknown's entries in alongside the known fields, so a
// field this version does not recognize survives a load-then-save cycle.
func (s State) MarshalJSON() ([]byte, error) {
	type alias State
	known, err := json.Marshal(alias(s))
	if err != nil {
		return nil, err
	}
	if len(s.Unknown) == 0 {
		return known, nil
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Unknown {
		if !knownFields[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON parses known fields normally and stashes every other
// top-level key into Unknown.
func (s *State) UnmarshalJSON(data []byte) error {
	type alias State
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = State(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	unknown := map[string]json.RawMessage{}
	for k, v := range raw {
		if !knownFields[k] {
			unknown[k] = v
		}
	}
	if len(unknown) > 0 {
		s.Unknown = unknown
	}
	return nil
}

// Save writes a State as JSON to w.
func Save(w io.Writer, s State) error {
	enc := json.NewEncoder(w)
	return enc.Encode(s)
}

// Load reads a State as JSON from r.
func Load(r io.Reader) (State, error) {
	var s State
	dec := json.NewDecoder(r)
	if err := dec.Decode(&s); err != nil {
		return State{}, err
	}
	return s, nil
}
