package job

import (
	"github.com/tidwall/gjson"

	"github.com/davidwed/libkazv/value"
)

// ResponseBodyKind mirrors BodyKind for the response side.
type ResponseBodyKind int

const (
	ResponseEmpty ResponseBodyKind = iota
	ResponseBytes
	ResponseJSON
)

// Response is the record spec §4.3 describes: a numeric status code, a
// body, headers, and the originating job's attached data carried forward.
type Response struct {
	JobID      string
	StatusCode int
	BodyKind   ResponseBodyKind
	JSONBody   value.JSON
	BytesBody  value.Bytes
	Headers    map[string]string
	ExtraData  value.JSON
	Cancelled  bool // synthetic cancellation from a CancelFutureIfFailed queue
}

// BodyPredicate validates endpoint-specific success criteria beyond the
// status code, per spec §4.3 "any endpoint-specific body predicate
// (typically: expected content type or presence of a required field)".
type BodyPredicate func(Response) bool

// RequireJSONField returns a BodyPredicate that checks a required field is
// present in a JSON response body, using gjson for zero-alloc field
// digging rather than a full struct unmarshal.
func RequireJSONField(path string) BodyPredicate {
	return func(r Response) bool {
		if r.BodyKind != ResponseJSON {
			return false
		}
		return gjson.GetBytes(r.JSONBody.Raw(), path).Exists()
	}
}

// AlwaysOK is the default BodyPredicate for endpoints with no extra
// requirement beyond the status code.
func AlwaysOK(Response) bool { return true }

// Success implements spec §4.3: "Success is defined as status < 400 AND
// any endpoint-specific body predicate".
func Success(r Response, predicate BodyPredicate) bool {
	if r.Cancelled {
		return false
	}
	if r.StatusCode >= 400 {
		return false
	}
	if predicate == nil {
		predicate = AlwaysOK
	}
	return predicate(r)
}
