package mtls12

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// recordReader buffers bytes arriving from the transport and detaches
// complete TLS records from the front of the buffer, per spec.md §4.1.
type recordReader struct {
	buf []byte
}

func newRecordReader() *recordReader {
	return &recordReader{buf: make([]byte, 0, 4096)}
}

// feed appends newly-arrived transport bytes to the buffer.
func (r *recordReader) feed(data []byte) {
	r.buf = append(r.buf, data...)
}

// next detaches one complete record if enough bytes are buffered. It
// returns (0, nil, nil) when more bytes are needed. The returned payload
// is a fresh copy safe to retain.
func (r *recordReader) next() (ContentType, []byte, error) {
	if len(r.buf) < recordHeaderSize {
		return 0, nil, nil
	}

	s := cryptobyte.String(r.buf)
	var typ uint8
	var version uint16
	var length uint16
	if !s.ReadUint8(&typ) || !s.ReadUint16(&version) || !s.ReadUint16(&length) {
		return 0, nil, errDecode(fmt.Errorf("short record header"))
	}

	ct := ContentType(typ)
	if !ct.valid() {
		return 0, nil, errUnexpectedMessage(fmt.Errorf("unexpected content type %d", typ))
	}
	if ProtocolVersion(version) != VersionTLS12 {
		return 0, nil, errProtocolVersion(fmt.Errorf("record version %#04x", version))
	}
	if int(length) > maxPlaintextLength+2048 {
		return 0, nil, errDecode(fmt.Errorf("record length %d exceeds limit", length))
	}

	need := recordHeaderSize + int(length)
	if len(r.buf) < need {
		return 0, nil, nil
	}

	payload := make([]byte, length)
	copy(payload, r.buf[recordHeaderSize:need])
	r.buf = r.buf[need:]
	return ct, payload, nil
}

// encodeRecordHeader builds the 5-octet record header for an outbound
// record of the given content type and payload length.
func encodeRecordHeader(ct ContentType, length int) []byte {
	var b cryptobyte.Builder
	b.AddUint8(uint8(ct))
	b.AddUint16(uint16(VersionTLS12))
	b.AddUint16(uint16(length))
	// AddUint8/AddUint16 on a Builder with no fixed-length constraints
	// never errors; Bytes()'s error is only possible from child callbacks.
	out, _ := b.Bytes()
	return out
}

// fragmentStager reassembles protocol messages from a sequence of record
// fragments of a single content type, per spec.md §4.1's "Fragment
// dispatcher". A new content type may not begin staging until the
// previous one has fully drained.
type fragmentStager struct {
	typ   ContentType
	typed bool
	buf   []byte
}

// stage appends a new fragment. It fails with KindDecodeError if the
// staging buffer already holds bytes of a different content type.
func (f *fragmentStager) stage(ct ContentType, fragment []byte) error {
	if len(f.buf) > 0 && f.typed && f.typ != ct {
		return errDecode(fmt.Errorf("fragment type mismatch: staged %d, got %d", f.typ, ct))
	}
	f.typ = ct
	f.typed = true
	f.buf = append(f.buf, fragment...)
	return nil
}

// extract attempts to pull one complete protocol message of the staged
// content type out of the buffer. ok is false when more bytes are needed.
func (f *fragmentStager) extract() (msg []byte, ok bool, err error) {
	if !f.typed {
		return nil, false, nil
	}
	switch f.typ {
	case ContentChangeCipherSpec:
		if len(f.buf) < 1 {
			return nil, false, nil
		}
		if f.buf[0] != 0x01 {
			return nil, false, errDecode(fmt.Errorf("invalid ChangeCipherSpec value %#02x", f.buf[0]))
		}
		msg, f.buf = f.buf[:1], f.buf[1:]
		return msg, true, nil

	case ContentAlert:
		if len(f.buf) < 2 {
			return nil, false, nil
		}
		msg, f.buf = f.buf[:2], f.buf[2:]
		return msg, true, nil

	case ContentHandshake:
		if len(f.buf) < 4 {
			return nil, false, nil
		}
		length := int(f.buf[1])<<16 | int(f.buf[2])<<8 | int(f.buf[3])
		total := 4 + length
		if len(f.buf) < total {
			return nil, false, nil
		}
		msg, f.buf = f.buf[:total], f.buf[total:]
		return msg, true, nil

	case ContentApplicationData:
		if len(f.buf) == 0 {
			return nil, false, nil
		}
		msg, f.buf = f.buf, nil
		return msg, true, nil

	default:
		return nil, false, errDecode(fmt.Errorf("unstaged content type"))
	}
}
