// Package verification implements the per-transaction SAS verification
// state machine from spec §4.6: request/accept/key-exchange/mac/cancel
// handling, the request time-window check, and trust-level transitions.
package verification

import (
	"maunium.net/go/mautrix/id"

	"github.com/davidwed/libkazv/value"
)

// State is one node of the Idle -> Requested -> Started -> Accepted ->
// KeyExchanged -> MacExchanged -> Done|Cancelled machine from spec §4.6.
type State int

const (
	Idle State = iota
	Requested
	Started
	Accepted
	KeyExchanged
	MacExchanged
	Done
	Cancelled
)

// Initiator is Us|Them, per spec §3 "VerificationProcess".
type Initiator int

const (
	Us Initiator = iota
	Them
)

// Method is the verification method in use; currently only sas.v1 per
// spec §3/§4.6.
type Method string

const SASv1 Method = "m.sas.v1"

// SupportedMethods is every method this engine can select, in preference
// order (spec §4.6 "Method selection prefers m.sas.v1").
var SupportedMethods = []Method{SASv1}

// Process is the per-transaction SAS state from spec §3
// "VerificationProcess".
type Process struct {
	TransactionID    string
	Timestamp        value.Timestamp
	Initiator        Initiator
	Method           Method
	SupportedHashes  []string
	SupportedKeyAgreement []string
	SupportedMACs    []string
	OurEphemeralKey  id.Curve25519PublicKey
	TheirCommitment  []byte
	SASBytes         []byte
	State            State
	UserID           id.UserID
	DeviceID         id.DeviceID
}

// selectMethod picks m.sas.v1 if it appears in theirMethods, per spec
// §4.6: "any event naming no supported method produces a cancel".
func selectMethod(theirMethods []string) (Method, bool) {
	for _, m := range theirMethods {
		if Method(m) == SASv1 {
			return SASv1, true
		}
	}
	return "", false
}
