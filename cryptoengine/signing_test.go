package cryptoengine

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidwed/libkazv/value"
)

func TestCanonicalSigningRoundtrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	j := value.NewJSON([]byte(`{"b":2,"a":1,"nested":{"z":true,"a":false}}`))
	canonical, err := j.Canonical()
	require.NoError(t, err)

	sig := ed25519.Sign(priv, canonical)

	ok, err := VerifyJSON(pub, j, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	// A tampered payload must fail verification.
	tampered := value.NewJSON([]byte(`{"b":3,"a":1,"nested":{"z":true,"a":false}}`))
	ok, err = VerifyJSON(pub, tampered, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanonicalFormIsKeyOrderIndependent(t *testing.T) {
	a := value.NewJSON([]byte(`{"b":2,"a":1}`))
	b := value.NewJSON([]byte(`{"a": 1, "b": 2}`))
	assert.True(t, a.Equal(b))
}
