package mtls12

import (
	"crypto/aes"
	cryptocipher "crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// constantTimeEqual reports whether a and b are equal, in time
// independent of where they first differ. Used for the Finished
// verify_data comparison, which is not decrypt-path MAC verification but
// carries the same timing-sensitivity concern.
func constantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// sequenceNumber is a 64-bit per-direction counter. next returns the
// pre-increment value and advances the counter; it errors once every
// value in [0, 2^64) has been issued (spec.md §3/§7: overflow is fatal).
type sequenceNumber struct {
	n         uint64
	exhausted bool
}

func (s *sequenceNumber) next() (uint64, error) {
	if s.exhausted {
		return 0, errInternal(fmt.Errorf("sequence number overflow"))
	}
	v := s.n
	if s.n == ^uint64(0) {
		s.exhausted = true
	} else {
		s.n++
	}
	return v, nil
}

// writeCipher holds the immutable per-connection state needed to seal
// outbound records under TLS_RSA_WITH_AES_128_CBC_SHA: the MAC key, the
// AES-128 block cipher keyed with client_write_key, the write sequence
// number, and a counter used to derive a fresh explicit IV per record.
type writeCipher struct {
	block  cryptocipher.Block
	macKey []byte
	seq    sequenceNumber
	ivHi   uint64
	ivLo   uint64
}

// readCipher holds the symmetric state for opening inbound records.
type readCipher struct {
	block  cryptocipher.Block
	macKey []byte
	seq    sequenceNumber
}

func newWriteCipher(key, macKey, ivSeed []byte) (*writeCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errInternal(err)
	}
	if len(ivSeed) != ivSeedLength {
		return nil, errInternal(fmt.Errorf("iv seed length %d", len(ivSeed)))
	}
	return &writeCipher{
		block:  block,
		macKey: macKey,
		ivHi:   binary.BigEndian.Uint64(ivSeed[0:8]),
		ivLo:   binary.BigEndian.Uint64(ivSeed[8:16]),
	}, nil
}

func newReadCipher(key, macKey []byte) (*readCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errInternal(err)
	}
	return &readCipher{block: block, macKey: macKey}, nil
}

// nextIV derives the explicit IV for the next outbound record: the
// current 16-octet counter (seeded from explicit_iv_seed) run once through
// the write-direction AES block cipher. This is unique per record and
// independent of plaintext, as spec.md §4.2/§9 requires, without needing
// a separate CSPRNG draw per record. See DESIGN.md for the Open Question
// decision.
func (w *writeCipher) nextIV() []byte {
	var in [16]byte
	binary.BigEndian.PutUint64(in[0:8], w.ivHi)
	binary.BigEndian.PutUint64(in[8:16], w.ivLo)

	w.ivLo++
	if w.ivLo == 0 {
		w.ivHi++
	}

	out := make([]byte, 16)
	w.block.Encrypt(out, in[:])
	return out
}

func macInput(seq uint64, ct ContentType, length int, payload []byte) []byte {
	buf := make([]byte, 0, 8+1+2+2+len(payload))
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	buf = append(buf, seqBuf[:]...)
	buf = append(buf, byte(ct))
	vers := VersionTLS12
	buf = append(buf, byte(vers>>8), byte(vers))
	buf = append(buf, byte(length>>8), byte(length))
	buf = append(buf, payload...)
	return buf
}

// encrypt implements spec.md §4.2 Encrypt: MAC-then-pad-then-CBC-encrypt,
// with the IV transmitted in the clear as a prefix.
func (w *writeCipher) encrypt(ct ContentType, plaintext []byte) ([]byte, error) {
	seq, err := w.seq.next()
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha1.New, w.macKey)
	mac.Write(macInput(seq, ct, len(plaintext), plaintext))
	digest := mac.Sum(nil)

	blockSize := w.block.BlockSize()
	padlen := blockSize - ((len(plaintext) + macLength) % blockSize)

	plain := make([]byte, 0, len(plaintext)+macLength+padlen)
	plain = append(plain, plaintext...)
	plain = append(plain, digest...)
	for i := 0; i < padlen; i++ {
		plain = append(plain, byte(padlen-1))
	}

	iv := w.nextIV()
	ciphertext := make([]byte, len(plain))
	cryptocipher.NewCBCEncrypter(w.block, iv).CryptBlocks(ciphertext, plain)

	out := make([]byte, 0, len(iv)+len(ciphertext))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// decrypt implements spec.md §4.2 Decrypt. Padding and MAC failures are
// reported through the same path (errBadRecordMAC) to avoid a padding
// oracle, per spec.md §4.2/§8: once the ciphertext's structural length
// has been validated, every path runs the same HMAC computation, over a
// length-normalized slice, before padding validity and MAC validity are
// combined into a single decision at the end — no path after that length
// check returns before the HMAC has run.
func (r *readCipher) decrypt(ct ContentType, payload []byte) ([]byte, error) {
	seq, err := r.seq.next()
	if err != nil {
		return nil, err
	}

	blockSize := r.block.BlockSize()
	if len(payload) < blockSize || (len(payload)-blockSize)%blockSize != 0 {
		return nil, errBadRecordMAC(fmt.Errorf("malformed ciphertext length"))
	}
	iv, body := payload[:blockSize], payload[blockSize:]
	if len(body) < macLength+1 {
		return nil, errBadRecordMAC(fmt.Errorf("ciphertext too short"))
	}

	dec := make([]byte, len(body))
	cryptocipher.NewCBCDecrypter(r.block, iv).CryptBlocks(dec, body)

	padlen := int(dec[len(dec)-1]) + 1
	goodPadLen := subtle.ConstantTimeLessOrEq(padlen, blockSize) &
		subtle.ConstantTimeLessOrEq(padlen, len(dec)-macLength)

	// normPadlen is padlen when it is in bounds, otherwise 1 (the
	// smallest possible padding). Every subsequent slice is taken at
	// normPadlen, so the MAC is always computed over an in-bounds
	// plaintext length without a data-dependent branch.
	normPadlen := padlen*goodPadLen + (1 - goodPadLen)

	padOK := 1
	for i := 0; i < blockSize; i++ {
		inPad := subtle.ConstantTimeLessOrEq(i+1, normPadlen)
		eq := subtle.ConstantTimeByteEq(dec[len(dec)-1-i], byte(normPadlen-1))
		padOK &= eq | (1 - inPad)
	}

	plaintextLen := len(dec) - normPadlen - macLength
	plaintext := dec[:plaintextLen]
	receivedMAC := dec[plaintextLen : plaintextLen+macLength]

	mac := hmac.New(sha1.New, r.macKey)
	mac.Write(macInput(seq, ct, plaintextLen, plaintext))
	expectedMAC := mac.Sum(nil)
	macOK := subtle.ConstantTimeCompare(expectedMAC, receivedMAC)

	if goodPadLen&padOK&macOK != 1 {
		return nil, errBadRecordMAC(fmt.Errorf("bad record mac"))
	}
	return plaintext, nil
}
