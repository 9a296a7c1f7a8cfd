package mtls12

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranscriptAppendAndDigest(t *testing.T) {
	tr := newTranscript()
	tr.append([]byte("hello"))
	tr.append([]byte("world"))
	require.Equal(t, []byte("helloworld"), tr.bytes())
	require.Equal(t, sha256.Sum256([]byte("helloworld")), tr.digest())
}

func TestTranscriptEmptyDigest(t *testing.T) {
	tr := newTranscript()
	require.Equal(t, sha256.Sum256(nil), tr.digest())
}
