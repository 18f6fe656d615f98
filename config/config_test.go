package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidwed/libkazv/devicelist"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	d := Default()
	assert.Equal(t, int64(604800000), d.MegOlmTimeLimitMs)
	assert.Equal(t, 100, d.MegOlmMessageLimit)
	assert.Equal(t, 2000, d.SyncIntervalMs)
	assert.Equal(t, devicelist.TrustIfNeverVerified, d.VerificationStrategy)
}

func TestValidateClampsLowTimeLimit(t *testing.T) {
	o := Options{MegOlmTimeLimitMs: 1000}
	v := o.Validate(nil)
	assert.Equal(t, int64(megOlmTimeLimitFloorMs), v.MegOlmTimeLimitMs)
}

func TestValidateFillsZeroFields(t *testing.T) {
	v := Options{}.Validate(nil)
	assert.Equal(t, Default().MegOlmMessageLimit, v.MegOlmMessageLimit)
	assert.Equal(t, Default().SyncIntervalMs, v.SyncIntervalMs)
	assert.Equal(t, Default().DefaultDeviceName, v.DefaultDeviceName)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("megOlmMessageLimit: 50\nverificationStrategy: TrustAll\n"), 0o644))

	opts, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, opts.MegOlmMessageLimit)
	assert.Equal(t, devicelist.TrustAll, opts.VerificationStrategy)
	assert.Equal(t, Default().SyncIntervalMs, opts.SyncIntervalMs)
}
