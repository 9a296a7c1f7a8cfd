package mtls12

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindStringCoversAllKinds(t *testing.T) {
	cases := map[Kind]string{
		KindProtocolVersion:   "protocol_version",
		KindUnexpectedMessage: "unexpected_message",
		KindDecodeError:       "decode_error",
		KindBadRecordMAC:      "bad_record_mac",
		KindHandshakeFailure:  "handshake_failure",
		KindBadCertificate:    "bad_certificate",
		KindDecryptError:      "decrypt_error",
		KindInternalError:     "internal_error",
		KindClosed:            "closed",
	}
	for kind, want := range cases {
		require.Equal(t, want, kind.String())
	}
	require.Equal(t, "unknown", Kind(999).String())
}

func TestErrorIsMatchesSentinelByKind(t *testing.T) {
	err := errBadRecordMAC(fmt.Errorf("corrupt padding"))
	require.True(t, errors.Is(err, ErrBadRecordMAC))
	require.False(t, errors.Is(err, ErrDecodeError))
}

func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	err := errHandshakeFailure(cause)
	require.Equal(t, cause, errors.Unwrap(err))
	require.ErrorIs(t, err, cause)
}

func TestErrorMessageIncludesKindAndCause(t *testing.T) {
	err := errDecode(fmt.Errorf("truncated message"))
	require.Contains(t, err.Error(), "decode_error")
	require.Contains(t, err.Error(), "truncated message")
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := &Error{Kind: KindClosed}
	require.Equal(t, "mtls12: closed", err.Error())
}

func TestNewErrorCarriesAlert(t *testing.T) {
	err := errProtocolVersion(fmt.Errorf("bad version"))
	require.Equal(t, AlertProtocolVersion, err.Alert)
	require.Equal(t, KindProtocolVersion, err.Kind)
}
