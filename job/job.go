// Package job implements the outbound-request abstraction from spec §4.3:
// a value record for one request, queue ordering/failure policy, and the
// response shape jobs are routed back through.
package job

import (
	"io"
	"net/url"

	"github.com/davidwed/libkazv/value"
)

// Method is an HTTP method name.
type Method string

const (
	GET    Method = "GET"
	POST   Method = "POST"
	PUT    Method = "PUT"
	DELETE Method = "DELETE"
)

// BodyKind distinguishes the shapes a job body can take, per spec §4.3
// "body (one of empty / bytes / json / file stream)".
type BodyKind int

const (
	BodyEmpty BodyKind = iota
	BodyBytes
	BodyJSON
	BodyFileStream
)

// Body is the tagged-union request body.
type Body struct {
	Kind   BodyKind
	Bytes  value.Bytes
	JSON   value.JSON
	Stream io.Reader
}

// EmptyBody constructs a BodyEmpty body.
func EmptyBody() Body { return Body{Kind: BodyEmpty} }

// JSONBody constructs a BodyJSON body.
func JSONBody(j value.JSON) Body { return Body{Kind: BodyJSON, JSON: j} }

// BytesBody constructs a BodyBytes body.
func BytesBody(b []byte) Body { return Body{Kind: BodyBytes, Bytes: b} }

// StreamBody constructs a BodyFileStream body for media uploads.
func StreamBody(r io.Reader) Body { return Body{Kind: BodyFileStream, Stream: r} }

// ReturnType is the expected shape of a successful response body.
type ReturnType int

const (
	ReturnJSON ReturnType = iota
	ReturnBytes
)

// QueuePolicy governs what happens to a queue's remaining jobs after one
// of them fails, per spec §4.3.
type QueuePolicy int

const (
	// AlwaysContinue runs every queued job regardless of earlier failures.
	AlwaysContinue QueuePolicy = iota
	// CancelFutureIfFailed drops and reports-cancelled every still-queued
	// successor once one job in the queue fails.
	CancelFutureIfFailed
)

// Job is the value representation of one outbound request, per spec §4.3.
type Job struct {
	ID          string // stable job id used to route the response; the endpoint name
	Method      Method
	Path        string // appended to the server base URL
	Query       url.Values
	Headers     map[string]string
	Body        Body
	ReturnType  ReturnType
	ExtraData   value.JSON // attached data echoed back via Response.ExtraData
	QueueID     string     // empty means no queue: runs concurrently
	QueuePolicy QueuePolicy
	AuthToken   string
}

// URL renders the job's full request URL given the server base URL.
func (j Job) URL(serverBase string) string {
	u := serverBase + j.Path
	if len(j.Query) > 0 {
		u += "?" + j.Query.Encode()
	}
	return u
}
