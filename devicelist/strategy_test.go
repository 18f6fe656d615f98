package devicelist

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix/id"
)

func devices() map[id.DeviceID]DeviceKeyInfo {
	return map[id.DeviceID]DeviceKeyInfo{
		"foo":  {DeviceID: "foo", Trust: Unseen},
		"bar":  {DeviceID: "bar", Trust: Seen},
		"baz":  {DeviceID: "baz", Trust: Blocked},
		"doge": {DeviceID: "doge", Trust: Verified},
	}
}

func sortedIDs(ids []id.DeviceID) []string {
	out := make([]string, len(ids))
	for i, d := range ids {
		out[i] = string(d)
	}
	sort.Strings(out)
	return out
}

func TestSelectRecipientsTrustAll(t *testing.T) {
	accepted, unknown := SelectRecipients(TrustAll, devices())
	assert.Equal(t, []string{"bar", "doge", "foo"}, sortedIDs(accepted))
	assert.False(t, unknown)
}

func TestSelectRecipientsVerifyAll(t *testing.T) {
	accepted, unknown := SelectRecipients(VerifyAll, devices())
	assert.Equal(t, []string{"doge"}, sortedIDs(accepted))
	assert.True(t, unknown)
}

func TestSelectRecipientsVerifyAllExcludesSeenWithoutFlaggingUnknown(t *testing.T) {
	// A Seen (but not yet Verified) device is neither accepted nor
	// reported unknown under VerifyAll; only Unseen devices are unknown.
	seenOnly := map[id.DeviceID]DeviceKeyInfo{
		"bar": {DeviceID: "bar", Trust: Seen},
	}
	accepted, unknown := SelectRecipients(VerifyAll, seenOnly)
	assert.Empty(t, accepted)
	assert.False(t, unknown)
}

func TestSelectRecipientsTrustIfNeverVerified(t *testing.T) {
	// This user has a Verified device, so it behaves like VerifyAll.
	accepted, unknown := SelectRecipients(TrustIfNeverVerified, devices())
	assert.Equal(t, []string{"doge"}, sortedIDs(accepted))
	assert.True(t, unknown)

	// A user with no Verified device behaves like TrustAll.
	noVerified := map[id.DeviceID]DeviceKeyInfo{
		"foo": {DeviceID: "foo", Trust: Unseen},
		"baz": {DeviceID: "baz", Trust: Blocked},
	}
	accepted, unknown = SelectRecipients(TrustIfNeverVerified, noVerified)
	assert.Equal(t, []string{"foo"}, sortedIDs(accepted))
	assert.False(t, unknown)
}
