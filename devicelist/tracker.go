// Package devicelist implements the per-user device map and trust-level
// tracking from spec §3/§3 "DeviceListTracker": which devices exist, which
// are trusted, and which users need a fresh QueryKeys.
package devicelist

import (
	"maunium.net/go/mautrix/id"
)

// TrustLevel is Unseen|Seen|Verified|Blocked, per spec §3.
type TrustLevel int

const (
	Unseen TrustLevel = iota
	Seen
	Verified
	Blocked
)

// DeviceKeyInfo is the per-(user,device) record from spec §3.
type DeviceKeyInfo struct {
	DeviceID    id.DeviceID
	Curve25519  id.Curve25519PublicKey
	Ed25519     id.Ed25519PublicKey
	OneTimeKeys map[id.KeyID]id.Curve25519PublicKey
	Trust       TrustLevel
}

// Tracker is the device-list tracker: user -> device map, plus the set of
// users whose list is outdated and needs a QueryKeys round trip.
type Tracker struct {
	devices  map[id.UserID]map[id.DeviceID]DeviceKeyInfo
	outdated map[id.UserID]struct{}
	queried  map[id.UserID]struct{} // users we have ever issued an initial QueryKeys for
}

// NewTracker returns an empty tracker.
func NewTracker() Tracker {
	return Tracker{
		devices:  make(map[id.UserID]map[id.DeviceID]DeviceKeyInfo),
		outdated: make(map[id.UserID]struct{}),
		queried:  make(map[id.UserID]struct{}),
	}
}

// Devices returns the known devices for a user, nil if none are known.
func (t Tracker) Devices(userID id.UserID) map[id.DeviceID]DeviceKeyInfo {
	return t.devices[userID]
}

// PutDevice records or replaces a device entry for a user, preserving its
// existing trust level unless the device is new (which starts Unseen).
func (t Tracker) PutDevice(userID id.UserID, info DeviceKeyInfo) Tracker {
	devices := cloneUserDevices(t.devices)
	perUser := cloneDeviceMap(devices[userID])
	if existing, ok := perUser[info.DeviceID]; ok {
		info.Trust = existing.Trust
	}
	perUser[info.DeviceID] = info
	devices[userID] = perUser
	t.devices = devices
	return t
}

// SetTrust returns a copy with the given device's trust level updated.
func (t Tracker) SetTrust(userID id.UserID, deviceID id.DeviceID, trust TrustLevel) Tracker {
	devices := cloneUserDevices(t.devices)
	perUser := cloneDeviceMap(devices[userID])
	info, ok := perUser[deviceID]
	if !ok {
		return t
	}
	info.Trust = trust
	perUser[deviceID] = info
	devices[userID] = perUser
	t.devices = devices
	return t
}

// MarkOutdated records that userID's device list needs refreshing.
func (t Tracker) MarkOutdated(userID id.UserID) Tracker {
	outdated := cloneUserSet(t.outdated)
	outdated[userID] = struct{}{}
	t.outdated = outdated
	return t
}

// MarkUpToDate clears the outdated flag for userID and records that it has
// now been queried at least once (spec §9(a) open question support).
func (t Tracker) MarkUpToDate(userID id.UserID) Tracker {
	outdated := cloneUserSet(t.outdated)
	delete(outdated, userID)
	t.outdated = outdated

	queried := cloneUserSet(t.queried)
	queried[userID] = struct{}{}
	t.queried = queried
	return t
}

// Drop removes a user entirely, as happens when device_lists.left names
// them (spec §4.2).
func (t Tracker) Drop(userID id.UserID) Tracker {
	devices := cloneUserDevices(t.devices)
	delete(devices, userID)
	t.devices = devices

	outdated := cloneUserSet(t.outdated)
	delete(outdated, userID)
	t.outdated = outdated
	return t
}

// Outdated returns the set of users needing a QueryKeys round trip.
func (t Tracker) Outdated() []id.UserID {
	out := make([]id.UserID, 0, len(t.outdated))
	for u := range t.outdated {
		out = append(out, u)
	}
	return out
}

// HasQueried reports whether userID's device list has ever been queried,
// informing the open-question decision on initialSync flag-through
// (SPEC_FULL.md §4a).
func (t Tracker) HasQueried(userID id.UserID) bool {
	_, ok := t.queried[userID]
	return ok
}

// Export exposes the tracker's internal maps for persistence (spec §6's
// snapshot), by value so the caller cannot mutate the tracker through them.
func (t Tracker) Export() (devices map[id.UserID]map[id.DeviceID]DeviceKeyInfo, outdated, queried []id.UserID) {
	return cloneUserDevices(t.devices), setKeys(t.outdated), setKeys(t.queried)
}

// Import rebuilds a Tracker from a prior Export, as a snapshot restore does.
func Import(devices map[id.UserID]map[id.DeviceID]DeviceKeyInfo, outdated, queried []id.UserID) Tracker {
	t := NewTracker()
	t.devices = cloneUserDevices(devices)
	for _, u := range outdated {
		t.outdated[u] = struct{}{}
	}
	for _, u := range queried {
		t.queried[u] = struct{}{}
	}
	return t
}

func setKeys(m map[id.UserID]struct{}) []id.UserID {
	out := make([]id.UserID, 0, len(m))
	for u := range m {
		out = append(out, u)
	}
	return out
}

func cloneUserDevices(m map[id.UserID]map[id.DeviceID]DeviceKeyInfo) map[id.UserID]map[id.DeviceID]DeviceKeyInfo {
	out := make(map[id.UserID]map[id.DeviceID]DeviceKeyInfo, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneDeviceMap(m map[id.DeviceID]DeviceKeyInfo) map[id.DeviceID]DeviceKeyInfo {
	out := make(map[id.DeviceID]DeviceKeyInfo, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneUserSet(m map[id.UserID]struct{}) map[id.UserID]struct{} {
	out := make(map[id.UserID]struct{}, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
