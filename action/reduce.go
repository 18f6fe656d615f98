package action

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix/id"

	"github.com/davidwed/libkazv/client"
	"github.com/davidwed/libkazv/cryptoengine"
	"github.com/davidwed/libkazv/devicelist"
	"github.com/davidwed/libkazv/event"
	"github.com/davidwed/libkazv/job"
	"github.com/davidwed/libkazv/matrixerr"
	"github.com/davidwed/libkazv/metrics"
	"github.com/davidwed/libkazv/room"
	"github.com/davidwed/libkazv/sendpipeline"
	"github.com/davidwed/libkazv/syncengine"
	"github.com/davidwed/libkazv/trigger"
	"github.com/davidwed/libkazv/value"
	"github.com/davidwed/libkazv/verification"
)

// Reduce is the engine's single pure entry point (spec §4.1): it never
// performs I/O itself, only describing the I/O an Effect should later
// perform.
func Reduce(m client.Model, a Action) (client.Model, Effect) {
	switch act := a.(type) {
	case SubmitJob:
		return reduceSubmitJob(m, act.Job)
	case ResubmitJob:
		return reduceSubmitJob(m, act.Job)
	case ProcessResponse:
		return reduceProcessResponse(m, act)
	case Login:
		if act.Server != "" {
			m.ServerURL = act.Server
		}
		return m, FetchEffect(job.Login(m.ServerURL, act.User, act.Password, act.DeviceName))
	case LoadUserInfo:
		return m, FetchEffect(job.LoadUserInfo(m.Token))
	case Logout:
		return m, FetchEffect(job.Logout(m.Token))
	case Sync:
		return m, FetchEffect(job.Sync(m.Token, m.SyncToken, 30000))
	case LoadSyncResult:
		return reduceLoadSyncResult(m, act)
	case CreateRoom:
		return m, FetchEffect(job.CreateRoom(m.Token, act.Body))
	case InviteToRoom:
		return m, FetchEffect(job.InviteToRoom(m.Token, act.RoomID, act.UserID))
	case JoinRoomById:
		return m, FetchEffect(job.JoinRoomById(m.Token, act.RoomID))
	case JoinRoomByAlias:
		return m, FetchEffect(job.JoinRoomByAlias(m.Token, act.Alias))
	case LeaveRoom:
		return m, FetchEffect(job.LeaveRoom(m.Token, act.RoomID))
	case ForgetRoom:
		m.Rooms = m.Rooms.Forget(act.RoomID)
		return m, FetchEffect(job.ForgetRoom(m.Token, act.RoomID))
	case PaginateTimeline:
		r, ok := m.Rooms.Lookup(act.RoomID)
		if !ok {
			return m, nil
		}
		from, ok := r.TimelineGaps[act.EventID]
		if !ok {
			return m, nil
		}
		return m, FetchEffect(job.PaginateTimeline(m.Token, act.RoomID, from, act.Limit))
	case SendMessage:
		return reduceSendMessage(m, act)
	case SendStateEvent:
		return m, FetchEffect(job.SendStateEvent(m.Token, act.RoomID, act.EventType, act.StateKey, act.Content))
	case GetRoomStates:
		return m, FetchEffect(job.GetRoomStates(m.Token, act.RoomID))
	case GetStateEvent:
		return m, FetchEffect(job.GetStateEvent(m.Token, act.RoomID, act.EventType, act.StateKey))
	case SetTyping:
		return m, FetchEffect(job.SetTyping(m.Token, act.RoomID, m.UserID, act.Typing, act.TimeoutMs))
	case PostReceipt:
		return m, FetchEffect(job.PostReceipt(m.Token, act.RoomID, act.EventID))
	case SetReadMarker:
		return m, FetchEffect(job.SetReadMarker(m.Token, act.RoomID, act.EventID))
	case UploadContent:
		return m, FetchEffect(job.UploadContent(m.Token, act.Body))
	case GetContent:
		return m, FetchEffect(job.GetContent(m.Token, act.URI))
	case GetContentThumbnail:
		return m, FetchEffect(job.GetContentThumbnail(m.Token, act.URI, act.Width, act.Height, act.Method))
	case UploadIdentityKeys:
		return reduceUploadIdentityKeys(m)
	case GenerateAndUploadOneTimeKeys:
		return reduceGenerateOTKs(m, act.Count)
	case QueryKeys:
		return m, FetchEffect(job.QueryKeys(m.Token, act.UserIDs, act.InitialSync))
	case ClaimKeysAndSendSessionKey:
		return reduceClaimKeys(m, act)
	case EncryptMegOlmEvent:
		return reduceEncryptMegOlmEvent(m, act)
	case EncryptOlmEvent:
		return reduceEncryptOlmEvent(m, act)
	case SetVerificationStrategy:
		m.VerificationStrategy = act.Strategy
		return m, nil
	case RoomListAction:
		return Reduce(m, act.Sub)
	case ErrorAction:
		return m.WithError(act.Err), nil
	default:
		return m, nil
	}
}

func reduceSubmitJob(m client.Model, j job.Job) (client.Model, Effect) {
	if j.QueueID == "" {
		return m, FetchEffect(j)
	}
	m.Jobs = m.Jobs.Enqueue(j)
	for _, dispatchable := range m.Jobs.Dispatchable() {
		if dispatchable.ID == j.ID && dispatchable.QueueID == j.QueueID {
			return m, FetchEffect(dispatchable)
		}
	}
	return m, nil
}

// reduceProcessResponse implements spec §4.3's "ProcessResponse dispatches
// on the job id string, synthesizing the typed response object and calling
// the per-job response reducer. An unknown job id emits an
// UnrecognizedResponse trigger and is otherwise a no-op."
func reduceProcessResponse(m client.Model, act ProcessResponse) (client.Model, Effect) {
	j, resp := act.Job, act.Response
	ok := job.Success(resp, predicateFor(j.ID))

	status := metrics.StatusSuccess
	if !ok {
		status = metrics.StatusFailure
	}
	metrics.IncrementJob(j.ID, status)
	if j.ID == "Sync" {
		metrics.IncrementSync(status)
	}

	var cancelled []job.Job
	m.Jobs, cancelled = m.Jobs.Completed(j, ok)
	for _, c := range cancelled {
		m = m.WithTrigger(trigger.JobCancelled{JobID: c.ID, QueueID: c.QueueID})
		metrics.IncrementCancelled(c.QueueID)
	}

	var eff Effect
	switch j.ID {
	case "Login":
		m, eff = onLogin(m, resp, ok)
	case "LoadUserInfo":
		m, eff = onLoadUserInfo(m, resp, ok)
	case "Logout":
		if ok {
			m.Token = ""
		}
	case "Sync":
		m, eff = onSync(m, resp, ok)
	case "CreateRoom":
		m, eff = onCreateRoom(m, resp, ok)
	case "SendMessage":
		m, eff = onSendMessage(m, j, resp, ok)
	case "GetRoomStates":
		m, eff = onGetRoomStates(m, j, resp, ok)
	case "QueryKeys":
		m, eff = onQueryKeys(m, j, resp, ok)
	case "ClaimKeysAndSendSessionKey":
		m, eff = onClaimKeys(m, j, resp, ok)
	case "UploadIdentityKeys", "GenerateAndUploadOneTimeKeys":
		if ok && m.Crypto != nil && m.Crypto.Account != nil {
			m.Crypto.Account.MarkKeysAsPublished()
		}
	case "JoinRoomById", "JoinRoomByAlias", "InviteToRoom", "LeaveRoom", "ForgetRoom",
		"SendStateEvent", "SetTyping", "PostReceipt", "SetReadMarker",
		"UploadContent", "GetContent", "GetContentThumbnail", "PaginateTimeline", "GetStateEvent":
		// Acknowledgment-only per spec §4.3; no model fields beyond the
		// generic queue bookkeeping above depend on these responses.
	default:
		m = m.WithTrigger(trigger.UnrecognizedResponse{JobID: j.ID})
	}

	if j.QueueID != "" {
		if next, found := nextDispatchable(m, j.QueueID); found {
			eff = Combine(eff, FetchEffect(next))
		}
	}
	return m, eff
}

// nextDispatchable returns the job now at the head of queueID, if any,
// so a queued job's completion advances its successor instead of
// stalling the queue forever.
func nextDispatchable(m client.Model, queueID string) (job.Job, bool) {
	for _, candidate := range m.Jobs.Dispatchable() {
		if candidate.QueueID == queueID {
			return candidate, true
		}
	}
	return job.Job{}, false
}

func predicateFor(jobID string) job.BodyPredicate {
	switch jobID {
	case "Login":
		return job.RequireJSONField("access_token")
	case "CreateRoom", "JoinRoomById", "JoinRoomByAlias":
		return job.RequireJSONField("room_id")
	case "SendMessage", "SendStateEvent":
		return job.RequireJSONField("event_id")
	default:
		return job.AlwaysOK
	}
}

func onLogin(m client.Model, resp job.Response, ok bool) (client.Model, Effect) {
	if !ok {
		return m.WithError(matrixerr.New(matrixerr.HTTP, "login failed")), nil
	}
	raw := resp.JSONBody.Raw()
	m.Token = gjson.GetBytes(raw, "access_token").String()
	m.UserID = id.UserID(gjson.GetBytes(raw, "user_id").String())
	m.DeviceID = id.DeviceID(gjson.GetBytes(raw, "device_id").String())
	return m, nil
}

func onLoadUserInfo(m client.Model, resp job.Response, ok bool) (client.Model, Effect) {
	if !ok {
		return m, nil
	}
	raw := resp.JSONBody.Raw()
	if uid := gjson.GetBytes(raw, "user_id").String(); uid != "" {
		m.UserID = id.UserID(uid)
	}
	return m, nil
}

func onCreateRoom(m client.Model, resp job.Response, ok bool) (client.Model, Effect) {
	if !ok {
		return m.WithTrigger(trigger.SendMessageFailed{Code: "create_room_failed"}), nil
	}
	roomID := id.RoomID(gjson.GetBytes(resp.JSONBody.Raw(), "room_id").String())
	m.Rooms = m.Rooms.Put(m.Rooms.Get(roomID).WithMembership(room.Join))
	return m.WithTrigger(trigger.CreateRoomSuccessful{RoomID: roomID}), nil
}

func onSendMessage(m client.Model, j job.Job, resp job.Response, ok bool) (client.Model, Effect) {
	roomID := roomIDFromPath(j.Path)
	if !ok {
		return m.WithTrigger(trigger.SendMessageFailed{RoomID: roomID, Code: "send_failed"}), nil
	}
	eventID := id.EventID(gjson.GetBytes(resp.JSONBody.Raw(), "event_id").String())
	return m.WithTrigger(trigger.SendMessageSuccessful{RoomID: roomID, EventID: eventID}), nil
}

// onGetRoomStates implements spec §4.4 step 2's success path: the room is
// now considered fully loaded and its membership proceeds to
// QueryKeys{initialSync=true}.
func onGetRoomStates(m client.Model, j job.Job, resp job.Response, ok bool) (client.Model, Effect) {
	roomID := roomIDFromPath(j.Path)
	r, known := m.Rooms.Lookup(roomID)
	if !known {
		return m, nil
	}
	if !ok {
		return m.WithTrigger(trigger.SendMessageFailed{RoomID: roomID, Code: "member_load_failed"}), nil
	}
	events := parseStateEvents(resp.JSONBody)
	for _, e := range events {
		r = r.PutState(e)
	}
	r = r.SetMembersFullyLoaded(true)
	m.Rooms = m.Rooms.Put(r)

	memberIDs := memberUserIDs(r)
	return m, FetchEffect(job.QueryKeys(m.Token, memberIDs, true))
}

func onQueryKeys(m client.Model, j job.Job, resp job.Response, ok bool) (client.Model, Effect) {
	if !ok {
		return m.WithTrigger(trigger.SendMessageFailed{Code: "query_keys_failed"}), nil
	}
	devicesByUser := gjson.GetBytes(resp.JSONBody.Raw(), "device_keys").Map()
	for userIDStr, devicesJSON := range devicesByUser {
		userID := id.UserID(userIDStr)
		devicesJSON.ForEach(func(deviceIDKey, deviceJSON gjson.Result) bool {
			info := devicelist.DeviceKeyInfo{
				DeviceID: id.DeviceID(deviceIDKey.String()),
			}
			deviceJSON.Get("keys").ForEach(func(keyID, keyVal gjson.Result) bool {
				if strings.HasPrefix(keyID.String(), "curve25519:") {
					info.Curve25519 = id.Curve25519PublicKey(keyVal.String())
				}
				if strings.HasPrefix(keyID.String(), "ed25519:") {
					info.Ed25519 = id.Ed25519PublicKey(keyVal.String())
				}
				return true
			})
			m.DeviceLists = m.DeviceLists.PutDevice(userID, info)
			return true
		})
		m.DeviceLists = m.DeviceLists.MarkUpToDate(userID)
	}
	return m, nil
}

func onClaimKeys(m client.Model, j job.Job, resp job.Response, ok bool) (client.Model, Effect) {
	if !ok || m.Crypto == nil {
		return m, nil
	}
	roomID := id.RoomID(gjson.GetBytes(j.ExtraData.Raw(), "room_id").String())
	session, hasSession := m.Crypto.OutboundFor(roomID)
	ourCurve, _ := m.Crypto.Account.IdentityKeys()

	messages := make(map[id.UserID]map[id.DeviceID]interface{})
	otks := gjson.GetBytes(resp.JSONBody.Raw(), "one_time_keys").Map()
	for userIDStr, perDevice := range otks {
		userID := id.UserID(userIDStr)
		perDevice.ForEach(func(deviceIDKey, keyBundle gjson.Result) bool {
			deviceID := id.DeviceID(deviceIDKey.String())
			info, known := m.DeviceLists.Devices(userID)[deviceID]
			if !known {
				return true
			}
			var otk id.Curve25519PublicKey
			keyBundle.ForEach(func(_, v gjson.Result) bool {
				otk = id.Curve25519PublicKey(v.Get("key").String())
				return false
			})
			sess, err := m.Crypto.Account.NewOutboundOlmSession(info.Curve25519, otk)
			if err != nil {
				return true
			}
			m.Crypto.PutOlmSession(userID, deviceID, sess)

			if !hasSession {
				return true
			}
			msgType, ciphertext, err := sess.Encrypt(roomKeyPayload(roomID, session))
			if err != nil {
				return true
			}
			if messages[userID] == nil {
				messages[userID] = make(map[id.DeviceID]interface{})
			}
			messages[userID][deviceID] = olmEnvelope(ourCurve, info.Curve25519, msgType, ciphertext)
			return true
		})
	}
	if len(messages) == 0 {
		return m, nil
	}
	return m, FetchEffect(job.SendToDevice(m.Token, "m.room.encrypted", string(roomID)+":"+string(session.ID()), messages))
}

// roomKeyPayload builds the plaintext m.room_key to-device event shared
// with a recipient device once it has an olm session, per spec §4.4 step 4.
func roomKeyPayload(roomID id.RoomID, session *cryptoengine.OutboundMegOlmSession) []byte {
	return mustMarshal(map[string]interface{}{
		"type": "m.room_key",
		"content": map[string]interface{}{
			"algorithm":   "m.megolm.v1.aes-sha2",
			"room_id":     roomID,
			"session_id":  session.ID(),
			"session_key": session.SessionKey(),
		},
	})
}

// olmEnvelope wraps an olm ciphertext in the m.room.encrypted to-device
// content shape, keyed by the recipient's curve25519 identity key.
func olmEnvelope(ourCurve25519, theirCurve25519 id.Curve25519PublicKey, msgType id.OlmMsgType, ciphertext []byte) map[string]interface{} {
	return map[string]interface{}{
		"algorithm":  "m.olm.v1.curve25519-aes-sha2",
		"sender_key": ourCurve25519,
		"ciphertext": map[string]interface{}{
			string(theirCurve25519): map[string]interface{}{
				"type": int(msgType),
				"body": base64.StdEncoding.EncodeToString(ciphertext),
			},
		},
	}
}

func reduceUploadIdentityKeys(m client.Model) (client.Model, Effect) {
	if m.Crypto == nil || m.Crypto.Account == nil {
		return m, nil
	}
	curve, ed := m.Crypto.Account.IdentityKeys()
	body, err := signedIdentityKeysBody(m.Crypto.Account, m.UserID, m.DeviceID, curve, ed)
	if err != nil {
		return m.WithError(matrixerr.Wrap(err, matrixerr.Crypto, "signing device keys")), nil
	}
	return m, FetchEffect(job.UploadIdentityKeys(m.Token, body))
}

func reduceGenerateOTKs(m client.Model, count uint) (client.Model, Effect) {
	if m.Crypto == nil || m.Crypto.Account == nil {
		return m, nil
	}
	if err := m.Crypto.Account.GenOneTimeKeys(count); err != nil {
		return m.WithError(matrixerr.Wrap(err, matrixerr.Crypto, "generating one-time keys")), nil
	}
	body, err := oneTimeKeysBody(m.Crypto.Account.OneTimeKeys(), m.UserID, m.DeviceID, m.Crypto.Account)
	if err != nil {
		return m.WithError(matrixerr.Wrap(err, matrixerr.Crypto, "signing one-time keys")), nil
	}
	return m, FetchEffect(job.GenerateAndUploadOneTimeKeys(m.Token, body))
}

func reduceClaimKeys(m client.Model, act ClaimKeysAndSendSessionKey) (client.Model, Effect) {
	claims := make(map[id.UserID]map[id.DeviceID]string, len(act.Devices))
	for _, d := range act.Devices {
		if claims[d.UserID] == nil {
			claims[d.UserID] = make(map[id.DeviceID]string)
		}
		claims[d.UserID][d.DeviceID] = "signed_curve25519"
	}
	return m, FetchEffect(job.ClaimKeysAndSendSessionKey(m.Token, act.RoomID, claims))
}

func reduceEncryptMegOlmEvent(m client.Model, act EncryptMegOlmEvent) (client.Model, Effect) {
	if m.Crypto == nil {
		return m.WithError(matrixerr.New(matrixerr.Crypto, "no crypto account")), nil
	}
	session, _ := m.Crypto.OutboundFor(act.RoomID)
	wrapped, err := sendpipeline.EncryptEvent(session, m.DeviceID, string(act.RoomID), act.EventType, act.Content.Raw())
	if err != nil {
		return m.WithError(err.(*matrixerr.Error)), nil
	}
	return m, FetchEffect(job.SendMessage(m.Token, act.RoomID, "m.room.encrypted", act.TxnID, value.NewJSON(mustMarshal(wrapped))))
}

func reduceEncryptOlmEvent(m client.Model, act EncryptOlmEvent) (client.Model, Effect) {
	if m.Crypto == nil {
		return m, nil
	}
	sess, ok := m.Crypto.OlmSessionFor(act.UserID, act.DeviceID)
	if !ok {
		return m, nil
	}
	msgType, ciphertext, err := sess.Encrypt(act.Content.Raw())
	if err != nil {
		return m.WithError(matrixerr.Wrap(err, matrixerr.Crypto, "olm encrypt failed")), nil
	}
	ourCurve, _ := m.Crypto.Account.IdentityKeys()
	envelope := olmEnvelope(ourCurve, sess.Counterpart(), msgType, ciphertext)
	messages := map[id.UserID]map[id.DeviceID]interface{}{act.UserID: {act.DeviceID: envelope}}
	return m, FetchEffect(job.SendToDevice(m.Token, "m.room.encrypted", string(act.UserID)+":"+string(act.DeviceID), messages))
}

func reduceSendMessage(m client.Model, act SendMessage) (client.Model, Effect) {
	r, ok := m.Rooms.Lookup(act.RoomID)
	if !ok {
		r = room.New(act.RoomID)
	}
	if !r.Encrypted {
		return m, FetchEffect(job.SendMessage(m.Token, act.RoomID, act.EventType, act.TxnID, act.Content))
	}
	if sendpipeline.NeedsMemberLoad(r) {
		return m, FetchEffect(job.GetRoomStates(m.Token, act.RoomID))
	}

	memberIDs := memberUserIDs(r)
	recipients, _ := sendpipeline.Recipients(m.VerificationStrategy, memberIDs, m.DeviceLists)
	if m.Crypto != nil {
		if missing := sendpipeline.DevicesNeedingSession(m.Crypto, recipients); len(missing) > 0 {
			return m, Combine(
				FetchEffect(job.GetRoomStates(m.Token, act.RoomID)),
				DispatchEffect(ClaimKeysAndSendSessionKey{RoomID: act.RoomID, Devices: missing}),
			)
		}
	}

	now := value.Now()
	var session *cryptoengine.OutboundMegOlmSession
	if m.Crypto != nil {
		session, _ = m.Crypto.OutboundFor(act.RoomID)
	}
	if sendpipeline.ShouldRotate(r, session, now) && m.Crypto != nil {
		policy := cryptoengine.RotationPolicy{TimeLimitMs: 604800000, MessageLimit: 100}
		session = cryptoengine.NewOutboundMegOlmSession(act.RoomID, policy, now)
		m.Crypto.PutOutbound(session)
		r = r.MarkShouldRotateSessionKey(false)
		m.Rooms = m.Rooms.Put(r)
	}

	return m, DispatchEffect(EncryptMegOlmEvent{RoomID: act.RoomID, EventType: act.EventType, Content: act.Content, TxnID: act.TxnID})
}

func memberUserIDs(r room.Room) []id.UserID {
	var out []id.UserID
	for k := range r.State {
		if k.Type == "m.room.member" && k.Key != "" {
			out = append(out, id.UserID(k.Key))
		}
	}
	return out
}

func parseStateEvents(body value.JSON) []event.Event {
	var out []event.Event
	gjson.ParseBytes(body.Raw()).ForEach(func(_, raw gjson.Result) bool {
		e, err := event.FromRaw([]byte(raw.Raw))
		if err == nil {
			out = append(out, e)
		}
		return true
	})
	return out
}

func roomIDFromPath(path string) id.RoomID {
	const prefix = "/rooms/"
	i := strings.Index(path, prefix)
	if i < 0 {
		return ""
	}
	rest := path[i+len(prefix):]
	if j := strings.Index(rest, "/"); j >= 0 {
		rest = rest[:j]
	}
	return id.RoomID(rest)
}

func reduceLoadSyncResult(m client.Model, act LoadSyncResult) (client.Model, Effect) {
	m.SyncToken = act.NextBatch

	for _, entry := range act.Joined {
		timeline := decodeEvents(entry.Timeline)
		state := decodeEvents(entry.State)
		accountData := decodeEvents(entry.AccountData)
		m.Rooms = syncengine.FoldJoinedRoom(m.Rooms, entry.RoomID, timeline, state, accountData)
		for _, e := range timeline {
			m = m.WithTrigger(trigger.ReceivingRoomTimelineEvent{RoomID: entry.RoomID, EventID: e.ID})
		}
	}
	for _, entry := range act.Invited {
		m.Rooms = syncengine.FoldInvitedRoom(m.Rooms, entry.RoomID, decodeEvents(entry.InviteState))
	}
	for _, entry := range act.Left {
		m.Rooms = syncengine.FoldLeftRoom(m.Rooms, entry.RoomID, decodeEvents(entry.Timeline), decodeEvents(entry.AccountData))
	}
	for _, p := range act.Presence {
		m = m.PutPresence(client.PresenceEntry{UserID: p.UserID, Content: p.Content.Raw()})
		m = m.WithTrigger(trigger.ReceivingPresence{UserID: p.UserID})
	}
	for _, a := range act.AccountData {
		m = m.PutAccountData(client.AccountDataEntry{Type: a.Type, Content: a.Content.Raw()})
		m = m.WithTrigger(trigger.ReceivingAccountData{Type: a.Type})
	}

	m.DeviceLists = syncengine.FoldDeviceListsChanged(m.DeviceLists, act.DeviceListsChanged)
	m.DeviceLists = syncengine.FoldDeviceListsLeft(m.DeviceLists, act.DeviceListsLeft)
	for _, roomID := range affectedRooms(act.DeviceListsChanged, m) {
		if r, ok := m.Rooms.Lookup(roomID); ok {
			m.Rooms = m.Rooms.Put(r.MarkShouldRotateSessionKey(true))
		}
	}

	var otkEffect Effect
	if m.Crypto != nil && m.Crypto.Account != nil {
		if n, need := syncengine.NeedsOneTimeKeyTopUp(act.DeviceOTKCounts["signed_curve25519"], m.Crypto.Account.MaxOneTimeKeys()); need {
			otkEffect = DispatchEffect(GenerateAndUploadOneTimeKeys{Count: n})
		}
	}

	var toDeviceEffects []Effect
	for _, td := range act.ToDevice {
		var eff Effect
		m, eff = handleToDevice(m, td)
		toDeviceEffects = append(toDeviceEffects, eff)
	}

	return m, Combine(append([]Effect{otkEffect}, toDeviceEffects...)...)
}

// affectedRooms finds every encrypted room that counts one of the named
// users as a member, so their outbound session gets flagged to rotate on
// its next send (spec §4.4 step 5(a): "the room's device list changed").
func affectedRooms(changed []id.UserID, m client.Model) []id.RoomID {
	if len(changed) == 0 {
		return nil
	}
	changedSet := make(map[id.UserID]struct{}, len(changed))
	for _, u := range changed {
		changedSet[u] = struct{}{}
	}
	var out []id.RoomID
	for _, r := range m.Rooms.All() {
		if !r.Encrypted {
			continue
		}
		for k := range r.State {
			if k.Type != "m.room.member" {
				continue
			}
			if _, ok := changedSet[id.UserID(k.Key)]; ok {
				out = append(out, r.ID)
				break
			}
		}
	}
	return out
}

func decodeEvents(raws []RawEvent) []event.Event {
	out := make([]event.Event, 0, len(raws))
	for _, r := range raws {
		e, err := event.FromRaw(r.JSON.Raw())
		if err == nil {
			out = append(out, e)
		}
	}
	return out
}

// signedIdentityKeysBody builds the device_keys upload body and signs its
// canonical form with the account's ed25519 key, per spec §4.5's signing
// roundtrip requirement.
func signedIdentityKeysBody(account *cryptoengine.Account, userID id.UserID, deviceID id.DeviceID, curve id.Curve25519PublicKey, ed id.Ed25519PublicKey) (value.JSON, error) {
	deviceKeys := map[string]interface{}{
		"user_id":    userID,
		"device_id":  deviceID,
		"algorithms": []string{"m.olm.v1.curve25519-aes-sha2", "m.megolm.v1.aes-sha2"},
		"keys": map[string]interface{}{
			"curve25519:" + string(deviceID): curve,
			"ed25519:" + string(deviceID):    ed,
		},
	}
	canonical, err := value.NewJSON(mustMarshal(deviceKeys)).Canonical()
	if err != nil {
		return value.JSON{}, err
	}
	deviceKeys["signatures"] = map[string]interface{}{
		string(userID): map[string]interface{}{
			"ed25519:" + string(deviceID): base64.StdEncoding.EncodeToString(account.Sign(canonical)),
		},
	}
	return value.NewJSON(mustMarshal(map[string]interface{}{"device_keys": deviceKeys})), nil
}

// oneTimeKeysBody signs each one-time key individually, matching the
// signed_curve25519 key type's name (spec §4.5 signing roundtrip).
func oneTimeKeysBody(keys map[id.KeyID]id.Curve25519PublicKey, userID id.UserID, deviceID id.DeviceID, account *cryptoengine.Account) (value.JSON, error) {
	otk := make(map[string]interface{}, len(keys))
	for keyID, key := range keys {
		unsigned := map[string]interface{}{"key": key}
		canonical, err := value.NewJSON(mustMarshal(unsigned)).Canonical()
		if err != nil {
			return value.JSON{}, err
		}
		unsigned["signatures"] = map[string]interface{}{
			string(userID): map[string]interface{}{
				"ed25519:" + string(deviceID): base64.StdEncoding.EncodeToString(account.Sign(canonical)),
			},
		}
		otk["signed_curve25519:"+string(keyID)] = unsigned
	}
	return value.NewJSON(mustMarshal(map[string]interface{}{"one_time_keys": otk})), nil
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// handleToDevice routes one undecoded to-device event to the olm-decrypt
// path or the SAS verification tracker, per spec §4.2's to-device handling
// and §4.6's verification state machine.
func handleToDevice(m client.Model, td ToDeviceEvent) (client.Model, Effect) {
	metrics.IncrementToDevice(td.Type)
	switch td.Type {
	case "m.room.encrypted":
		return handleEncryptedToDevice(m, td), nil
	case "m.key.verification.request", "m.key.verification.start", "m.key.verification.accept",
		"m.key.verification.key", "m.key.verification.mac", "m.key.verification.cancel":
		return handleVerificationToDevice(m, td)
	default:
		return m, nil
	}
}

// handleEncryptedToDevice decrypts an olm-encrypted to-device event
// addressed to this device and, if it carries a fresh megolm session key,
// records the inbound session (spec §4.4 step 4's counterpart on the
// receiving end).
func handleEncryptedToDevice(m client.Model, td ToDeviceEvent) client.Model {
	if m.Crypto == nil || m.Crypto.Account == nil {
		return m
	}
	raw := td.JSON.Raw()
	if gjson.GetBytes(raw, "algorithm").String() != "m.olm.v1.curve25519-aes-sha2" {
		return m
	}
	ourCurve, _ := m.Crypto.Account.IdentityKeys()
	entry := gjson.GetBytes(raw, "ciphertext").Map()[string(ourCurve)]
	if !entry.Exists() {
		return m
	}
	msgType := id.OlmMsgType(entry.Get("type").Int())
	ciphertext, err := base64.StdEncoding.DecodeString(entry.Get("body").String())
	if err != nil {
		return m
	}
	senderKey := id.Curve25519PublicKey(gjson.GetBytes(raw, "sender_key").String())

	var candidates []id.DeviceID
	for deviceID := range m.DeviceLists.Devices(td.Sender) {
		candidates = append(candidates, deviceID)
	}
	plaintext, _, decrypted := syncengine.DecryptToDevice(m.Crypto, td.Sender, candidates, ciphertext, msgType)
	senderDevice := deviceIDForCurve(m.DeviceLists, td.Sender, senderKey)
	if !decrypted && msgType == 0 {
		sess, err := m.Crypto.Account.NewInboundOlmSession(senderKey, ciphertext)
		if err == nil {
			if pt, derr := sess.Decrypt(ciphertext, msgType); derr == nil {
				plaintext, decrypted = pt, true
				m.Crypto.PutOlmSession(td.Sender, senderDevice, sess)
			}
		}
	}
	if !decrypted || gjson.GetBytes(plaintext, "type").String() != "m.room_key" {
		return m
	}

	roomID := id.RoomID(gjson.GetBytes(plaintext, "content.room_id").String())
	sessionKey := gjson.GetBytes(plaintext, "content.session_key").String()
	ed := m.DeviceLists.Devices(td.Sender)[senderDevice].Ed25519
	inbound, err := cryptoengine.NewInboundMegOlmSession(roomID, id.SenderKey(senderKey), ed, sessionKey)
	if err != nil {
		return m
	}
	m.Crypto.PutInbound(inbound, roomID, id.SenderKey(senderKey))
	return m
}

func deviceIDForCurve(tracker devicelist.Tracker, userID id.UserID, curve id.Curve25519PublicKey) id.DeviceID {
	for deviceID, info := range tracker.Devices(userID) {
		if info.Curve25519 == curve {
			return deviceID
		}
	}
	return ""
}

// handleVerificationToDevice decodes one m.key.verification.* to-device
// event into the tracker's InEvent vocabulary, advances the SAS state
// machine, and issues whatever to-device sends the outcome calls for.
//
// The outgoing accept/key/mac payloads need protocol fields (commitment
// hash, MAC values) that are computed and owned inside package
// verification's Process, which does not currently expose a method to
// render them onto the wire; until it does, these sends carry only the
// envelope fields every m.key.verification.* event shares.
func handleVerificationToDevice(m client.Model, td ToDeviceEvent) (client.Model, Effect) {
	evt, ok := decodeVerificationEvent(td)
	if !ok {
		return m, nil
	}
	tracker, outcome, devices := m.Verification.Process(evt, value.Now(), m.DeviceLists, value.CryptoRandom{})
	m.Verification = tracker
	m.DeviceLists = devices
	for _, t := range outcome.Triggers {
		m = m.WithTrigger(t)
	}

	var eff Effect
	if outcome.SendCancel != nil {
		body := mustMarshal(map[string]interface{}{
			"transaction_id": outcome.SendCancel.TransactionID,
			"code":           outcome.SendCancel.Code,
		})
		messages := map[id.UserID]map[id.DeviceID]interface{}{
			outcome.SendCancel.UserID: {outcome.SendCancel.DeviceID: json.RawMessage(body)},
		}
		eff = Combine(eff, FetchEffect(job.SendToDevice(m.Token, "m.key.verification.cancel", outcome.SendCancel.TransactionID, messages)))
	}
	for _, se := range outcome.SendEvents {
		body := mustMarshal(map[string]interface{}{"transaction_id": se.TransactionID})
		messages := map[id.UserID]map[id.DeviceID]interface{}{
			se.UserID: {se.DeviceID: json.RawMessage(body)},
		}
		eff = Combine(eff, FetchEffect(job.SendToDevice(m.Token, verificationEventType(se.Kind), se.TransactionID, messages)))
	}
	return m, eff
}

func verificationEventType(kind verification.EventKind) string {
	switch kind {
	case verification.EventAccept:
		return "m.key.verification.accept"
	case verification.EventKey:
		return "m.key.verification.key"
	case verification.EventMAC:
		return "m.key.verification.mac"
	default:
		return "m.key.verification.cancel"
	}
}

// decodeVerificationEvent parses a to-device event's JSON into the
// tracker's InEvent shape. Device id is not carried on the wire event
// itself; callers key the tracker by transaction id only, so it is left
// zero here.
func decodeVerificationEvent(td ToDeviceEvent) (verification.InEvent, bool) {
	raw := td.JSON.Raw()
	txnID := gjson.GetBytes(raw, "transaction_id").String()
	if txnID == "" {
		return verification.InEvent{}, false
	}
	evt := verification.InEvent{
		TransactionID: txnID,
		UserID:        td.Sender,
		Timestamp:     value.Now(),
	}
	switch td.Type {
	case "m.key.verification.request", "m.key.verification.start":
		evt.Kind = verification.EventStart
		if td.Type == "m.key.verification.request" {
			evt.Kind = verification.EventRequest
		}
		gjson.GetBytes(raw, "methods").ForEach(func(_, v gjson.Result) bool {
			evt.Methods = append(evt.Methods, v.String())
			return true
		})
	case "m.key.verification.accept":
		evt.Kind = verification.EventAccept
		evt.Commitment = []byte(gjson.GetBytes(raw, "commitment").String())
	case "m.key.verification.key":
		evt.Kind = verification.EventKey
		evt.EphemeralKey = id.Curve25519PublicKey(gjson.GetBytes(raw, "key").String())
	case "m.key.verification.mac":
		evt.Kind = verification.EventMAC
		evt.MAC = []byte(gjson.GetBytes(raw, "mac").String())
	case "m.key.verification.cancel":
		evt.Kind = verification.EventCancel
		evt.CancelCode = gjson.GetBytes(raw, "code").String()
	default:
		return verification.InEvent{}, false
	}
	return evt, true
}
