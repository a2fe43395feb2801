// Package crypto implements the primitive layer of sealedfs: AEAD
// encrypt/decrypt, keyed/unkeyed hashing, a key-derivation function, a
// memory-hard password hash, and zero-on-drop key buffers. See spec.md §4.1.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"io"

	"github.com/sirupsen/logrus"
)

// KeySize is the width of every key, hash, and EID in the system.
const KeySize = 32

// Key is a 32-byte secret held in a buffer that is zeroed when Destroy is
// called (and should be called via defer at every allocation site). Key
// never exposes a byte slice a caller could retain past Destroy without
// copying, beyond the one returned by Bytes — callers must treat that
// slice as borrowed.
type Key struct {
	buf [KeySize]byte
}

// NewKey copies plaintext into a new Key. The caller still owns plaintext.
func NewKey(plaintext []byte) *Key {
	k := &Key{}
	copy(k.buf[:], plaintext)
	return k
}

// RandomKey draws a fresh key from the OS CSPRNG.
func RandomKey() (*Key, error) {
	k := &Key{}
	if _, err := io.ReadFull(rand.Reader, k.buf[:]); err != nil {
		return nil, err
	}
	return k, nil
}

// Bytes returns the borrowed 32-byte slice backing this key.
func (k *Key) Bytes() []byte { return k.buf[:] }

// Equal performs a constant-time comparison.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	return subtle.ConstantTimeCompare(k.buf[:], other.buf[:]) == 1
}

// Destroy zeroes the key buffer. Safe to call more than once.
func (k *Key) Destroy() {
	if k == nil {
		return
	}
	for i := range k.buf {
		k.buf[i] = 0
	}
}

// Clone returns an independent copy of the key.
func (k *Key) Clone() *Key {
	c := &Key{}
	copy(c.buf[:], k.buf[:])
	return c
}

// RandomBuf draws n bytes from the OS CSPRNG. Used for EIDs, salts, nonces.
func RandomBuf(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// deterministicSource is a tiny splitmix64-based PRNG used only by
// RandomBufDeterministic, never for production key material.
type deterministicSource struct{ state uint64 }

func (s *deterministicSource) next() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// RandomBufDeterministic reproduces the original implementation's test hook:
// a seeded, reproducible byte stream for use in tests that need stable
// chunk boundaries or fixtures. Never use this for real key material.
func RandomBufDeterministic(n int, seed uint64) []byte {
	src := &deterministicSource{state: seed}
	out := make([]byte, n)
	for i := 0; i < n; i += 8 {
		v := src.next()
		for j := 0; j < 8 && i+j < n; j++ {
			out[i+j] = byte(v >> (8 * j))
		}
	}
	return out
}

// Logger is the package-wide logrus logger; callers may replace it.
// repo.Init and repo.Open do not assign it.
var Logger = logrus.StandardLogger()
