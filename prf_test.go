package mtls12

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPHashPrefixStable checks the testable property of spec.md §8: a
// P_HMAC output of length n is a prefix of the same call with any
// n' >= n.
func TestPHashPrefixStable(t *testing.T) {
	secret := []byte("secret")
	seed := []byte("seed")
	short := pHash(secret, seed, 16)
	long := pHash(secret, seed, 64)
	require.True(t, bytes.Equal(long[:16], short))
}

func TestPRFDeterministic(t *testing.T) {
	secret := []byte("a shared secret")
	seed := []byte("a seed")
	out1 := prf(secret, "master secret", seed, 48)
	out2 := prf(secret, "master secret", seed, 48)
	require.Equal(t, out1, out2)
	require.Len(t, out1, 48)
}

func TestPRFLabelChangesOutput(t *testing.T) {
	secret := []byte("a shared secret")
	seed := []byte("a seed")
	a := prf(secret, "master secret", seed, 32)
	b := prf(secret, "key expansion", seed, 32)
	require.NotEqual(t, a, b)
}

func TestMasterSecretAndKeyBlockLengths(t *testing.T) {
	pms := bytes.Repeat([]byte{0x42}, preMasterSecretLength)
	clientRandom := bytes.Repeat([]byte{0x01}, randomLength)
	serverRandom := bytes.Repeat([]byte{0x02}, randomLength)

	ms := masterSecret(pms, clientRandom, serverRandom)
	require.Len(t, ms, masterSecretLength)

	kb := deriveKeyBlock(ms, clientRandom, serverRandom)
	require.Len(t, kb, keyBlockLength)
}

func TestVerifyDataLength(t *testing.T) {
	ms := bytes.Repeat([]byte{0x09}, masterSecretLength)
	var hash [32]byte
	require.Len(t, clientVerifyData(ms, hash), verifyDataLength)
	require.Len(t, serverVerifyData(ms, hash), verifyDataLength)
	require.NotEqual(t, clientVerifyData(ms, hash), serverVerifyData(ms, hash))
}
