package devicelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestStrategyYAMLRoundTrip(t *testing.T) {
	for _, s := range []Strategy{TrustAll, VerifyAll, TrustIfNeverVerified} {
		raw, err := yaml.Marshal(s)
		require.NoError(t, err)

		var out Strategy
		require.NoError(t, yaml.Unmarshal(raw, &out))
		assert.Equal(t, s, out)
	}
}

func TestStrategyYAMLUnknownNameErrors(t *testing.T) {
	var out Strategy
	err := yaml.Unmarshal([]byte("NotAStrategy\n"), &out)
	assert.Error(t, err)
}
