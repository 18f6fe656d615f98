package devicelist

import (
	"fmt"

	"maunium.net/go/mautrix/id"
)

// Strategy is the VerificationStrategy from spec §3/§6: the policy
// selecting which devices are acceptable send recipients without
// interactive confirmation.
type Strategy int

const (
	// TrustAll accepts all non-blocked devices.
	TrustAll Strategy = iota
	// VerifyAll accepts only Verified devices; everything else is unknown.
	VerifyAll
	// TrustIfNeverVerified behaves like VerifyAll for users with at least
	// one Verified device, and like TrustAll otherwise.
	TrustIfNeverVerified
)

func (s Strategy) String() string {
	switch s {
	case TrustAll:
		return "TrustAll"
	case VerifyAll:
		return "VerifyAll"
	case TrustIfNeverVerified:
		return "TrustIfNeverVerified"
	default:
		return "TrustIfNeverVerified"
	}
}

// MarshalYAML renders a Strategy as its spec-level name.
func (s Strategy) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML parses the spec-level name (`TrustAll`, `VerifyAll`,
// `TrustIfNeverVerified`) into a Strategy. An empty value yields
// TrustIfNeverVerified; any other unrecognized name returns an error.
func (s *Strategy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	switch name {
	case "TrustAll":
		*s = TrustAll
	case "VerifyAll":
		*s = VerifyAll
	case "TrustIfNeverVerified", "":
		*s = TrustIfNeverVerified
	default:
		return fmt.Errorf("devicelist: unknown verification strategy %q", name)
	}
	return nil
}

// SelectRecipients implements spec §4.4 step 3 / §8 scenario 5: for a
// user's known devices, returns the devices considered acceptable
// recipients and whether any device was unknown (neither trusted nor
// explicitly rejected, i.e. Unseen under VerifyAll-like policies).
func SelectRecipients(strategy Strategy, devices map[id.DeviceID]DeviceKeyInfo) (accepted []id.DeviceID, unknown bool) {
	effective := strategy
	if strategy == TrustIfNeverVerified {
		if anyVerified(devices) {
			effective = VerifyAll
		} else {
			effective = TrustAll
		}
	}

	for deviceID, info := range devices {
		switch effective {
		case TrustAll:
			if info.Trust != Blocked {
				accepted = append(accepted, deviceID)
			}
		case VerifyAll:
			if info.Trust == Verified {
				accepted = append(accepted, deviceID)
			} else if info.Trust == Unseen {
				unknown = true
			}
		}
	}
	return accepted, unknown
}

func anyVerified(devices map[id.DeviceID]DeviceKeyInfo) bool {
	for _, d := range devices {
		if d.Trust == Verified {
			return true
		}
	}
	return false
}
