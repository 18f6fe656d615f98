package cryptoengine

import (
	"crypto/ed25519"

	"github.com/davidwed/libkazv/matrixerr"
	"github.com/davidwed/libkazv/value"
)

// SignJSON canonicalizes j (sorted keys, whitespace-free, per spec §4.5)
// and signs it with the account's ed25519 key, per the "every uploaded key
// bundle is canonicalized ... and signed" requirement.
func (a *Account) SignJSON(j value.JSON) ([]byte, error) {
	canonical, err := j.Canonical()
	if err != nil {
		return nil, matrixerr.Wrap(err, matrixerr.Schema, "failed to canonicalize JSON for signing")
	}
	return a.Sign(canonical), nil
}

// VerifyJSON is the symmetric operation to SignJSON: it verifies that
// signature is a valid ed25519 signature over j's canonical form under the
// given public key, implementing the "verify(pk, sign(sk, j), j) = true"
// roundtrip invariant from spec §8.
func VerifyJSON(pubKey ed25519.PublicKey, j value.JSON, signature []byte) (bool, error) {
	canonical, err := j.Canonical()
	if err != nil {
		return false, matrixerr.Wrap(err, matrixerr.Schema, "failed to canonicalize JSON for verification")
	}
	return ed25519.Verify(pubKey, canonical, signature), nil
}
