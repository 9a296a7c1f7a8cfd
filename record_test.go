package mtls12

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordHeaderRoundTrip(t *testing.T) {
	header := encodeRecordHeader(ContentHandshake, 1234)
	require.Len(t, header, recordHeaderSize)

	rr := newRecordReader()
	rr.feed(header)
	rr.feed(make([]byte, 1234))
	ct, payload, err := rr.next()
	require.NoError(t, err)
	require.Equal(t, ContentHandshake, ct)
	require.Len(t, payload, 1234)
}

func TestRecordReaderWaitsForMoreBytes(t *testing.T) {
	rr := newRecordReader()
	rr.feed([]byte{byte(ContentHandshake), 0x03, 0x03})
	ct, payload, err := rr.next()
	require.NoError(t, err)
	require.Nil(t, payload)
	require.Zero(t, ct)
}

func TestRecordReaderSplitAcrossReads(t *testing.T) {
	header := encodeRecordHeader(ContentApplicationData, 4)
	full := append(header, []byte("data")...)

	rr := newRecordReader()
	rr.feed(full[:3])
	_, payload, err := rr.next()
	require.NoError(t, err)
	require.Nil(t, payload)

	rr.feed(full[3:])
	ct, payload, err := rr.next()
	require.NoError(t, err)
	require.Equal(t, ContentApplicationData, ct)
	require.Equal(t, []byte("data"), payload)
}

func TestRecordReaderCoalescedRecords(t *testing.T) {
	h1 := encodeRecordHeader(ContentHandshake, 2)
	h2 := encodeRecordHeader(ContentHandshake, 3)
	rr := newRecordReader()
	rr.feed(append(append(h1, []byte("ab")...), append(h2, []byte("cde")...)...))

	_, p1, err := rr.next()
	require.NoError(t, err)
	require.Equal(t, []byte("ab"), p1)

	_, p2, err := rr.next()
	require.NoError(t, err)
	require.Equal(t, []byte("cde"), p2)
}

func TestRecordReaderRejectsBadContentType(t *testing.T) {
	rr := newRecordReader()
	rr.feed([]byte{0x99, 0x03, 0x03, 0x00, 0x00})
	_, _, err := rr.next()
	require.Error(t, err)
	var tlsErr *Error
	require.True(t, errors.As(err, &tlsErr))
	require.Equal(t, KindUnexpectedMessage, tlsErr.Kind)
}

func TestRecordReaderRejectsBadVersion(t *testing.T) {
	rr := newRecordReader()
	rr.feed([]byte{byte(ContentHandshake), 0x03, 0x02, 0x00, 0x00})
	_, _, err := rr.next()
	require.ErrorIs(t, err, ErrProtocolVersion)
}

func TestFragmentStagerHandshakeReassembly(t *testing.T) {
	fs := &fragmentStager{}
	msg := buildHandshake(HandshakeServerHelloDone, nil)
	require.NoError(t, fs.stage(ContentHandshake, msg[:2]))
	_, ok, err := fs.extract()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, fs.stage(ContentHandshake, msg[2:]))
	got, ok, err := fs.extract()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, msg, got)
}

func TestFragmentStagerTypeMismatch(t *testing.T) {
	fs := &fragmentStager{}
	require.NoError(t, fs.stage(ContentHandshake, []byte{0x00}))
	err := fs.stage(ContentAlert, []byte{0x01, 0x00})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrDecodeError)
}

func TestFragmentStagerChangeCipherSpec(t *testing.T) {
	fs := &fragmentStager{}
	require.NoError(t, fs.stage(ContentChangeCipherSpec, []byte{0x01}))
	msg, ok, err := fs.extract()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0x01}, msg)
}

func TestFragmentStagerChangeCipherSpecRejectsBadValue(t *testing.T) {
	fs := &fragmentStager{}
	require.NoError(t, fs.stage(ContentChangeCipherSpec, []byte{0x02}))
	_, _, err := fs.extract()
	require.Error(t, err)
}

func TestFragmentStagerApplicationDataTakesAll(t *testing.T) {
	fs := &fragmentStager{}
	require.NoError(t, fs.stage(ContentApplicationData, []byte("hello")))
	require.NoError(t, fs.stage(ContentApplicationData, []byte(" world")))
	msg, ok, err := fs.extract()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello world"), msg)
}

func TestFragmentStagerZeroLengthHandshake(t *testing.T) {
	fs := &fragmentStager{}
	msg := buildHandshake(HandshakeServerHelloDone, nil)
	require.Len(t, msg, 4)
	require.NoError(t, fs.stage(ContentHandshake, msg))
	got, ok, err := fs.extract()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, msg, got)
}
