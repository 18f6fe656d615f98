package job

import (
	"encoding/json"
	"fmt"
	"net/url"

	"maunium.net/go/mautrix/id"

	"github.com/davidwed/libkazv/value"
)

// This file enumerates the Matrix Client-Server r0 endpoints the engine
// issues, each under its stable job id (spec §6 "a stable job id (the
// CamelCase name ... used to route responses"). The wire schema itself —
// every field of every endpoint — is out of scope (spec §1); these
// constructors capture only method + path + query + body shape, which is
// what the reducer and job dispatcher need to route and replay jobs.

const apiPrefix = "/_matrix/client/r0"

// Login builds the Login job.
func Login(server, username, password, deviceName string) Job {
	body := map[string]interface{}{
		"type":                     "m.login.password",
		"user":                     username,
		"password":                 password,
		"initial_device_display_name": deviceName,
	}
	return Job{ID: "Login", Method: POST, Path: apiPrefix + "/login", Body: mustJSONBody(body)}
}

// Logout builds the Logout job.
func Logout(token string) Job {
	return Job{ID: "Logout", Method: POST, Path: apiPrefix + "/logout", AuthToken: token, Body: EmptyBody()}
}

// LoadUserInfo builds the LoadUserInfo (whoami) job.
func LoadUserInfo(token string) Job {
	return Job{ID: "LoadUserInfo", Method: GET, Path: apiPrefix + "/account/whoami", AuthToken: token}
}

// Sync builds the Sync job, capturing `since` at dispatch time per spec
// §4.2's atomicity requirement.
func Sync(token, since string, timeoutMs int) Job {
	q := url.Values{}
	if since != "" {
		q.Set("since", since)
	}
	q.Set("timeout", fmt.Sprintf("%d", timeoutMs))
	q.Set("full_state", "false")
	return Job{ID: "Sync", Method: GET, Path: apiPrefix + "/sync", Query: q, AuthToken: token}
}

// CreateRoom builds the CreateRoom job.
func CreateRoom(token string, body value.JSON) Job {
	return Job{ID: "CreateRoom", Method: POST, Path: apiPrefix + "/createRoom", AuthToken: token, Body: JSONBody(body)}
}

// InviteToRoom builds the InviteToRoom job.
func InviteToRoom(token string, roomID id.RoomID, userID id.UserID) Job {
	body := mustJSONBody(map[string]interface{}{"user_id": userID})
	return Job{ID: "InviteToRoom", Method: POST, Path: apiPrefix + "/rooms/" + roomID.String() + "/invite", AuthToken: token, Body: body}
}

// JoinRoomById builds the JoinRoomById job.
func JoinRoomById(token string, roomID id.RoomID) Job {
	return Job{ID: "JoinRoomById", Method: POST, Path: apiPrefix + "/rooms/" + roomID.String() + "/join", AuthToken: token, Body: EmptyBody()}
}

// JoinRoomByAlias builds the JoinRoomByAlias job.
func JoinRoomByAlias(token string, alias id.RoomAlias) Job {
	return Job{ID: "JoinRoomByAlias", Method: POST, Path: apiPrefix + "/join/" + url.PathEscape(alias.String()), AuthToken: token, Body: EmptyBody()}
}

// LeaveRoom builds the LeaveRoom job.
func LeaveRoom(token string, roomID id.RoomID) Job {
	return Job{ID: "LeaveRoom", Method: POST, Path: apiPrefix + "/rooms/" + roomID.String() + "/leave", AuthToken: token, Body: EmptyBody()}
}

// ForgetRoom builds the ForgetRoom job.
func ForgetRoom(token string, roomID id.RoomID) Job {
	return Job{ID: "ForgetRoom", Method: POST, Path: apiPrefix + "/rooms/" + roomID.String() + "/forget", AuthToken: token, Body: EmptyBody()}
}

// PaginateTimeline builds the PaginateTimeline (messages) job.
func PaginateTimeline(token string, roomID id.RoomID, from string, limit int) Job {
	q := url.Values{}
	q.Set("from", from)
	q.Set("dir", "b")
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	return Job{ID: "PaginateTimeline", Method: GET, Path: apiPrefix + "/rooms/" + roomID.String() + "/messages", Query: q, AuthToken: token}
}

// SendMessage builds the SendMessage job, with a queue id of the room so
// per-room message ordering is preserved (spec §4.3's queue ordering
// contract), keyed by a caller-supplied transaction id.
func SendMessage(token string, roomID id.RoomID, eventType string, txnID string, body value.JSON) Job {
	path := fmt.Sprintf("%s/rooms/%s/send/%s/%s", apiPrefix, roomID.String(), eventType, url.PathEscape(txnID))
	return Job{
		ID: "SendMessage", Method: PUT, Path: path, AuthToken: token, Body: JSONBody(body),
		QueueID: "room:" + roomID.String(), QueuePolicy: AlwaysContinue,
	}
}

// SendStateEvent builds the SendStateEvent job.
func SendStateEvent(token string, roomID id.RoomID, eventType, stateKey string, body value.JSON) Job {
	path := fmt.Sprintf("%s/rooms/%s/state/%s/%s", apiPrefix, roomID.String(), eventType, url.PathEscape(stateKey))
	return Job{ID: "SendStateEvent", Method: PUT, Path: path, AuthToken: token, Body: JSONBody(body)}
}

// GetRoomStates builds the GetRoomStates job.
func GetRoomStates(token string, roomID id.RoomID) Job {
	return Job{ID: "GetRoomStates", Method: GET, Path: apiPrefix + "/rooms/" + roomID.String() + "/state", AuthToken: token}
}

// GetStateEvent builds the GetStateEvent job.
func GetStateEvent(token string, roomID id.RoomID, eventType, stateKey string) Job {
	path := fmt.Sprintf("%s/rooms/%s/state/%s/%s", apiPrefix, roomID.String(), eventType, url.PathEscape(stateKey))
	return Job{ID: "GetStateEvent", Method: GET, Path: path, AuthToken: token}
}

// SetTyping builds the SetTyping job.
func SetTyping(token string, roomID id.RoomID, userID id.UserID, typing bool, timeoutMs int) Job {
	body := mustJSONBody(map[string]interface{}{"typing": typing, "timeout": timeoutMs})
	path := fmt.Sprintf("%s/rooms/%s/typing/%s", apiPrefix, roomID.String(), userID.String())
	return Job{ID: "SetTyping", Method: PUT, Path: path, AuthToken: token, Body: body}
}

// PostReceipt builds the PostReceipt job.
func PostReceipt(token string, roomID id.RoomID, eventID id.EventID) Job {
	path := fmt.Sprintf("%s/rooms/%s/receipt/m.read/%s", apiPrefix, roomID.String(), eventID.String())
	return Job{ID: "PostReceipt", Method: POST, Path: path, AuthToken: token, Body: EmptyBody()}
}

// SetReadMarker builds the SetReadMarker job.
func SetReadMarker(token string, roomID id.RoomID, eventID id.EventID) Job {
	body := mustJSONBody(map[string]interface{}{"m.fully_read": eventID})
	return Job{ID: "SetReadMarker", Method: POST, Path: apiPrefix + "/rooms/" + roomID.String() + "/read_markers", AuthToken: token, Body: body}
}

// UploadContent builds the UploadContent (media) job.
func UploadContent(token string, body Body) Job {
	return Job{ID: "UploadContent", Method: POST, Path: "/_matrix/media/r0/upload", AuthToken: token, Body: body, ReturnType: ReturnJSON}
}

// GetContent builds the GetContent (media download) job.
func GetContent(token string, mxc id.ContentURI) Job {
	path := fmt.Sprintf("/_matrix/media/r0/download/%s/%s", mxc.Homeserver, mxc.FileID)
	return Job{ID: "GetContent", Method: GET, Path: path, AuthToken: token, ReturnType: ReturnBytes}
}

// GetContentThumbnail builds the GetContentThumbnail job.
func GetContentThumbnail(token string, mxc id.ContentURI, width, height int, method string) Job {
	q := url.Values{}
	q.Set("width", fmt.Sprintf("%d", width))
	q.Set("height", fmt.Sprintf("%d", height))
	q.Set("method", method)
	path := fmt.Sprintf("/_matrix/media/r0/thumbnail/%s/%s", mxc.Homeserver, mxc.FileID)
	return Job{ID: "GetContentThumbnail", Method: GET, Path: path, Query: q, AuthToken: token, ReturnType: ReturnBytes}
}

// UploadIdentityKeys builds the UploadIdentityKeys job.
func UploadIdentityKeys(token string, body value.JSON) Job {
	return Job{ID: "UploadIdentityKeys", Method: POST, Path: apiPrefix + "/keys/upload", AuthToken: token, Body: JSONBody(body)}
}

// GenerateAndUploadOneTimeKeys builds the job sharing the same endpoint as
// UploadIdentityKeys but carrying only one-time keys; kept as a distinct
// job id because it is triggered by a different condition (spec §4.2's
// OTK watermark) and routes to a different response handler.
func GenerateAndUploadOneTimeKeys(token string, body value.JSON) Job {
	return Job{ID: "GenerateAndUploadOneTimeKeys", Method: POST, Path: apiPrefix + "/keys/upload", AuthToken: token, Body: JSONBody(body)}
}

// QueryKeys builds the QueryKeys job. initialSync is threaded through
// explicitly per the spec §9(a) open-question decision rather than
// hard-coded.
func QueryKeys(token string, userIDs []id.UserID, initialSync bool) Job {
	devices := make(map[id.UserID][]string, len(userIDs))
	for _, u := range userIDs {
		devices[u] = []string{}
	}
	body := mustJSONBody(map[string]interface{}{"device_keys": devices, "timeout": 10000})
	extra := mustJSONBody(map[string]interface{}{"initial_sync": initialSync})
	j := Job{ID: "QueryKeys", Method: POST, Path: apiPrefix + "/keys/query", AuthToken: token, Body: body}
	j.ExtraData = extra.JSON
	return j
}

// ClaimKeysAndSendSessionKey builds the ClaimKeysAndSendSessionKey job:
// claims one signed one-time key per target device (spec §4.4 step 4). The
// owning room id rides along in ExtraData so the response handler knows
// which outbound megolm session to share once the claim succeeds.
func ClaimKeysAndSendSessionKey(token string, roomID id.RoomID, claims map[id.UserID]map[id.DeviceID]string) Job {
	body := mustJSONBody(map[string]interface{}{"one_time_keys": claims, "timeout": 10000})
	extra := mustJSONBody(map[string]interface{}{"room_id": roomID})
	j := Job{ID: "ClaimKeysAndSendSessionKey", Method: POST, Path: apiPrefix + "/keys/claim", AuthToken: token, Body: body}
	j.ExtraData = extra.JSON
	return j
}

// SendToDevice builds the SendToDevice job: delivers one or more
// already-encrypted to-device payloads, keyed by recipient user and
// device, under a single event type (spec §4.4 step 4's "sends them the
// current megolm session key", and SAS verification's to-device sends).
func SendToDevice(token, eventType, txnID string, messages map[id.UserID]map[id.DeviceID]interface{}) Job {
	body := mustJSONBody(map[string]interface{}{"messages": messages})
	path := fmt.Sprintf("%s/sendToDevice/%s/%s", apiPrefix, eventType, url.PathEscape(txnID))
	return Job{ID: "SendToDevice", Method: PUT, Path: path, AuthToken: token, Body: body}
}

func mustJSONBody(v interface{}) Body {
	raw, err := json.Marshal(v)
	if err != nil {
		return JSONBody(value.NewJSON([]byte("{}")))
	}
	return JSONBody(value.NewJSON(raw))
}
