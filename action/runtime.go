package action

import (
	"time"

	"github.com/davidwed/libkazv/job"
	"github.com/davidwed/libkazv/trigger"
	"github.com/davidwed/libkazv/value"
)

// Transport is the consumed fetch capability from spec §6: perform one job
// and invoke callback with its response once the transport completes.
type Transport interface {
	Fetch(j job.Job, callback func(job.Response))
}

// Clock is the consumed timer capability from spec §6.
type Clock interface {
	SetTimeout(fn func(), d time.Duration) (cancel func())
}

// Runtime is the capability bundle an Effect is invoked with: transport,
// clock, random source, a way to dispatch further actions, and a way to
// emit triggers to the host (spec §5's suspension points plus §4.7's
// trigger sink). The effect package owns constructing and driving this;
// package action only needs its shape to build effects.
type Runtime struct {
	Transport Transport
	Clock     Clock
	Random    value.Source
	Dispatch  func(Action)
	Emit      func(trigger.Trigger)
}

// Effect is the opaque capability spec §4.1 describes: invoked with a
// Runtime, it eventually dispatches zero or more further actions. The nil
// Effect is valid and means "no further effect."
type Effect func(rt Runtime)

// Combine sequences effects in order; nil members are skipped.
func Combine(effects ...Effect) Effect {
	live := make([]Effect, 0, len(effects))
	for _, e := range effects {
		if e != nil {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		return nil
	}
	return func(rt Runtime) {
		for _, e := range live {
			e(rt)
		}
	}
}

// DispatchEffect returns an Effect that synchronously dispatches a itself,
// used for follow-up actions like GenerateAndUploadOneTimeKeys,
// ClaimKeysAndSendSessionKey and EncryptMegOlmEvent that are produced purely
// from already-known data with no suspension point.
func DispatchEffect(a Action) Effect {
	return func(rt Runtime) {
		if rt.Dispatch != nil {
			rt.Dispatch(a)
		}
	}
}

// EmitEffect returns an Effect that emits a trigger to the host.
func EmitEffect(t trigger.Trigger) Effect {
	return func(rt Runtime) {
		if rt.Emit != nil {
			rt.Emit(t)
		}
	}
}

// FetchEffect returns an Effect that submits j to the transport and, on
// completion, dispatches ProcessResponse — the uniform way every
// job-issuing action variant reaches the transport (spec §4.3/§5).
func FetchEffect(j job.Job) Effect {
	return func(rt Runtime) {
		if rt.Transport == nil {
			return
		}
		rt.Transport.Fetch(j, func(resp job.Response) {
			if rt.Dispatch != nil {
				rt.Dispatch(ProcessResponse{Job: j, Response: resp})
			}
		})
	}
}
