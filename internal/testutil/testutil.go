// Package testutil collects helpers shared by package test files:
// structural diffs for the record types that round-trip through
// storage.Backend, and deterministic test data generation.
package testutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kenneth/sealedfs/crypto"
)

// Diff returns a human-readable structural difference between want and
// got, empty if they are equal. Used in place of reflect.DeepEqual /
// require.Equal for the content/address/segment record types, whose
// slice-of-struct shape produces unreadable diffs from testify's default
// formatter.
func Diff(want, got any, opts ...cmp.Option) string {
	return cmp.Diff(want, got, opts...)
}

// RequireNoDiff fails t with a structural diff if want and got are not
// equal.
func RequireNoDiff(t *testing.T, want, got any, opts ...cmp.Option) {
	t.Helper()
	if d := Diff(want, got, opts...); d != "" {
		t.Fatalf("mismatch (-want +got):\n%s", d)
	}
}

// DeterministicBytes returns n reproducible pseudo-random bytes seeded by
// seed, for tests that need fixed chunk-boundary or fixture data without
// touching crypto/rand (crypto.RandomBufDeterministic).
func DeterministicBytes(n int, seed uint64) []byte {
	return crypto.RandomBufDeterministic(n, seed)
}
