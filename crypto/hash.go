package crypto

import (
	"hash"

	"golang.org/x/crypto/blake2b"
)

// newBlake2bHashFunc adapts blake2b.New256 to the func() hash.Hash shape
// hkdf.New expects.
func newBlake2bHashFunc() func() hash.Hash {
	return func() hash.Hash {
		h, err := blake2b.New256(nil)
		if err != nil {
			panic(err)
		}
		return h
	}
}

// Hash computes an unkeyed 32-byte BLAKE2b digest of data. Used as the
// content fingerprint (spec.md §3 "Hash").
func Hash(data []byte) [KeySize]byte {
	return blake2b.Sum256(data)
}

// HashWithKey computes a keyed 32-byte BLAKE2b digest. It backs the
// extended-nonce AES-256-GCM subkey derivation in cipher.go; chunk
// fingerprints use the unkeyed Hash.
func HashWithKey(data []byte, key *Key) [KeySize]byte {
	h, err := blake2b.New256(key.Bytes())
	if err != nil {
		// key is always exactly 32 bytes, which blake2b.New256 accepts
		// as a key of at most 64 bytes; this can only fail on a logic bug.
		panic(err)
	}
	h.Write(data)
	var out [KeySize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HashWriter incrementally hashes a stream, used when chunk bytes arrive
// incrementally from the chunker rather than as one buffer.
type HashWriter struct {
	h interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
}

// NewHashWriter starts an unkeyed incremental hash.
func NewHashWriter() *HashWriter {
	h, _ := blake2b.New256(nil)
	return &HashWriter{h: h}
}

// NewKeyedHashWriter starts a keyed incremental hash.
func NewKeyedHashWriter(key *Key) *HashWriter {
	h, err := blake2b.New256(key.Bytes())
	if err != nil {
		panic(err)
	}
	return &HashWriter{h: h}
}

func (w *HashWriter) Write(p []byte) (int, error) { return w.h.Write(p) }

func (w *HashWriter) Sum() [KeySize]byte {
	var out [KeySize]byte
	copy(out[:], w.h.Sum(nil))
	return out
}
