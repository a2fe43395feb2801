package merkle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/merkle"
)

func naivePairHash(left, right [32]byte) [32]byte {
	buf := append(append([]byte(nil), left[:]...), right[:]...)
	return crypto.Hash(buf)
}

// naiveRecursiveRoot computes the root by direct recursion over pairs,
// an independent code path from Tree's flat-array builder, used to check
// the stated Merkle root invariant.
func naiveRecursiveRoot(level [][32]byte) [32]byte {
	if len(level) == 1 {
		return level[0]
	}
	var next [][32]byte
	for i := 0; i+1 < len(level); i += 2 {
		next = append(next, naivePairHash(level[i], level[i+1]))
	}
	if len(level)%2 == 1 {
		next = append(next, level[len(level)-1])
	}
	return naiveRecursiveRoot(next)
}

func pieceHashes(n int) [][32]byte {
	out := make([][32]byte, n)
	for i := range out {
		out[i] = crypto.Hash([]byte{byte(i), byte(i >> 8)})
	}
	return out
}

func TestBuildRootMatchesNaiveRecursion(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 16, 17} {
		leaves := pieceHashes(n)
		tr, err := merkle.Build(int64(n)*merkle.DefaultPieceSize, merkle.DefaultPieceSize, leaves)
		require.NoError(t, err)
		require.Equal(t, naiveRecursiveRoot(leaves), tr.Root())
	}
}

func TestBuildRejectsMismatchedLeafCount(t *testing.T) {
	_, err := merkle.Build(3*merkle.DefaultPieceSize, merkle.DefaultPieceSize, pieceHashes(2))
	require.Error(t, err)
}

type fakeSource struct {
	content []byte
	piece   int64
}

func (s *fakeSource) ReadPiece(ctx context.Context, idx int, buf []byte) (int, error) {
	start := int64(idx) * s.piece
	end := start + s.piece
	if end > int64(len(s.content)) {
		end = int64(len(s.content))
	}
	if start >= end {
		return 0, nil
	}
	return copy(buf, s.content[start:end]), nil
}

func hashWhole(content []byte, piece int64) [][32]byte {
	n := pieceCountFor(int64(len(content)), piece)
	leaves := make([][32]byte, n)
	for i := 0; i < n; i++ {
		start := int64(i) * piece
		end := start + piece
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		leaves[i] = crypto.Hash(content[start:end])
	}
	return leaves
}

func pieceCountFor(length, piece int64) int {
	if length <= 0 {
		return 0
	}
	return int((length + piece - 1) / piece)
}

func TestMergeMatchesFreshBuildOverFinalContent(t *testing.T) {
	piece := int64(8)
	original := make([]byte, 3*piece)
	for i := range original {
		original[i] = byte(i + 1)
	}
	tr, err := merkle.Build(int64(len(original)), piece, hashWhole(original, piece))
	require.NoError(t, err)

	overlay := []byte{9, 9, 9, 9, 9}
	offset := int64(piece) + 2 // straddles piece boundary mid-second-piece
	final := append([]byte(nil), original...)
	copy(final[offset:], overlay)

	src := &fakeSource{content: final, piece: piece}
	require.NoError(t, tr.Merge(context.Background(), offset, int64(len(overlay)), int64(len(final)), src))

	want, err := merkle.Build(int64(len(final)), piece, hashWhole(final, piece))
	require.NoError(t, err)
	require.Equal(t, want.Root(), tr.Root())
}

func TestTruncateMatchesFreshBuildOverPrefix(t *testing.T) {
	piece := int64(8)
	original := make([]byte, 3*piece+3)
	for i := range original {
		original[i] = byte(i + 5)
	}
	tr, err := merkle.Build(int64(len(original)), piece, hashWhole(original, piece))
	require.NoError(t, err)

	at := 2*piece + 3 // not piece-aligned
	prefix := original[:at]
	src := &fakeSource{content: prefix, piece: piece} // reader presents post-truncation bytes only
	require.NoError(t, tr.Truncate(context.Background(), at, src))
	want, err := merkle.Build(at, piece, hashWhole(prefix, piece))
	require.NoError(t, err)
	require.Equal(t, want.Root(), tr.Root())
}
