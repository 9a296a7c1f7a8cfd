package mtls12

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func testCipherPair(t *testing.T) (*writeCipher, *readCipher) {
	t.Helper()
	key := bytes.Repeat([]byte{0x11}, 16)
	macKey := bytes.Repeat([]byte{0x22}, 20)
	ivSeed := bytes.Repeat([]byte{0x33}, ivSeedLength)

	wc, err := newWriteCipher(key, macKey, ivSeed)
	require.NoError(t, err)
	rc, err := newReadCipher(key, macKey)
	require.NoError(t, err)
	return wc, rc
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	wc, rc := testCipherPair(t)

	plaintext := []byte("the quick brown fox")
	ciphertext, err := wc.encrypt(ContentApplicationData, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	got, err := rc.decrypt(ContentApplicationData, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)

	require.EqualValues(t, 1, wc.seq.n)
	require.EqualValues(t, 1, rc.seq.n)
}

func TestEncryptDecryptMultipleRecordsAdvanceSequence(t *testing.T) {
	wc, rc := testCipherPair(t)

	for i := 0; i < 5; i++ {
		ct, err := wc.encrypt(ContentApplicationData, []byte{byte(i)})
		require.NoError(t, err)
		pt, err := rc.decrypt(ContentApplicationData, ct)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, pt)
	}
	require.EqualValues(t, 5, wc.seq.n)
	require.EqualValues(t, 5, rc.seq.n)
}

func TestDecryptFlippedBitFailsBadRecordMAC(t *testing.T) {
	wc, rc := testCipherPair(t)

	ciphertext, err := wc.encrypt(ContentApplicationData, []byte("hello world"))
	require.NoError(t, err)

	flipped := append([]byte(nil), ciphertext...)
	flipped[len(flipped)-1] ^= 0x01

	_, err = rc.decrypt(ContentApplicationData, flipped)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrBadRecordMAC)
}

func TestDecryptBadPaddingAndBadMACAreIndistinguishable(t *testing.T) {
	wc, rc1 := testCipherPair(t)
	_, rc2 := testCipherPair(t)

	ciphertext, err := wc.encrypt(ContentApplicationData, []byte("hello world"))
	require.NoError(t, err)

	corruptPadding := append([]byte(nil), ciphertext...)
	corruptPadding[len(corruptPadding)-1] ^= 0x01
	_, errPad := rc1.decrypt(ContentApplicationData, corruptPadding)

	// Flipping an IV byte flips only the first plaintext byte on decrypt,
	// leaving the padding intact: a MAC-only failure.
	corruptBody := append([]byte(nil), ciphertext...)
	corruptBody[0] ^= 0x01
	_, errMAC := rc2.decrypt(ContentApplicationData, corruptBody)

	var padErr, macErr *Error
	require.True(t, errors.As(errPad, &padErr))
	require.True(t, errors.As(errMAC, &macErr))
	require.Equal(t, padErr.Kind, macErr.Kind)
	require.Equal(t, KindBadRecordMAC, padErr.Kind)
}

func TestSequenceNumberOverflowIsInternalError(t *testing.T) {
	var seq sequenceNumber
	seq.n = ^uint64(0)

	v, err := seq.next()
	require.NoError(t, err)
	require.Equal(t, ^uint64(0), v)
	require.True(t, seq.exhausted)

	_, err = seq.next()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInternalError)
}

func TestNextIVUniquePerRecord(t *testing.T) {
	wc, _ := testCipherPair(t)
	iv1 := wc.nextIV()
	iv2 := wc.nextIV()
	require.Len(t, iv1, 16)
	require.NotEqual(t, iv1, iv2)
}

func TestConstantTimeEqual(t *testing.T) {
	require.True(t, constantTimeEqual([]byte("abc"), []byte("abc")))
	require.False(t, constantTimeEqual([]byte("abc"), []byte("abd")))
	require.False(t, constantTimeEqual([]byte("abc"), []byte("ab")))
}
