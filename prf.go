package mtls12

import (
	"crypto/hmac"
	"crypto/sha256"
)

// pHash implements P_HMAC(secret, seed) from RFC 5246 §5:
//
//	A(0) = seed
//	A(i) = HMAC_hash(secret, A(i-1))
//	P_hash(secret, seed) = HMAC_hash(secret, A(1) + seed) +
//	                       HMAC_hash(secret, A(2) + seed) + ...
//
// It returns exactly n octets, and the result is a prefix of the same
// call with any n' >= n, since each iteration only appends.
func pHash(secret, seed []byte, n int) []byte {
	out := make([]byte, 0, n+sha256.Size)
	a := seed
	for len(out) < n {
		mac := hmac.New(sha256.New, secret)
		mac.Write(a)
		a = mac.Sum(nil)

		mac = hmac.New(sha256.New, secret)
		mac.Write(a)
		mac.Write(seed)
		out = append(out, mac.Sum(nil)...)
	}
	return out[:n]
}

// prf implements PRF(secret, label, seed, n) = P_HMAC(secret, label || seed)
// truncated to n octets.
func prf(secret []byte, label string, seed []byte, n int) []byte {
	full := make([]byte, 0, len(label)+len(seed))
	full = append(full, label...)
	full = append(full, seed...)
	return pHash(secret, full, n)
}

// masterSecret derives the 48-octet master secret from the pre-master
// secret and both randoms (RFC 5246 §8.1).
func masterSecret(preMasterSecret, clientRandom, serverRandom []byte) []byte {
	seed := make([]byte, 0, len(clientRandom)+len(serverRandom))
	seed = append(seed, clientRandom...)
	seed = append(seed, serverRandom...)
	return prf(preMasterSecret, "master secret", seed, masterSecretLength)
}

// deriveKeyBlock derives the 88-octet key block (four keys, then the
// 16-octet explicit-IV seed) from the master secret and both randoms
// (RFC 5246 §6.3). Order: server_random || client_random.
func deriveKeyBlock(ms, clientRandom, serverRandom []byte) []byte {
	seed := make([]byte, 0, len(clientRandom)+len(serverRandom))
	seed = append(seed, serverRandom...)
	seed = append(seed, clientRandom...)
	return prf(ms, "key expansion", seed, keyBlockLength)
}

// clientVerifyData computes Finished.verify_data for the client's own
// Finished message: PRF(master_secret, "client finished", SHA256(transcript), 12).
func clientVerifyData(ms []byte, transcriptHash [32]byte) []byte {
	return prf(ms, "client finished", transcriptHash[:], verifyDataLength)
}

// serverVerifyData computes the expected verify_data for the server's
// Finished message: PRF(master_secret, "server finished", SHA256(transcript), 12).
func serverVerifyData(ms []byte, transcriptHash [32]byte) []byte {
	return prf(ms, "server finished", transcriptHash[:], verifyDataLength)
}
