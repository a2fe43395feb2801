// Package merkle implements the piece-hash integrity tree over a file's
// content bytes (spec.md §4.11).
package merkle

import (
	"context"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/crypto"
)

// DefaultPieceSize is the fixed piece size spec.md §4.11 names (256KiB,
// a power of two).
const DefaultPieceSize = 256 * 1024

// Tree is a complete binary merkle tree over a content's pieces, stored
// as a flat array with inner nodes first and leaves last (spec.md
// §4.11's node layout).
type Tree struct {
	PieceSize int64
	Len       int64
	Nodes     [][32]byte
	LeafCount int
}

// PieceSource supplies a piece's bytes as they exist in the FINAL,
// post-overlay content, used by Merge/Truncate to re-hash pieces that
// straddle an overlay boundary.
type PieceSource interface {
	ReadPiece(ctx context.Context, pieceIndex int, buf []byte) (int, error)
}

func pieceCount(length, pieceSize int64) int {
	if length <= 0 {
		return 0
	}
	return int((length + pieceSize - 1) / pieceSize)
}

// Build constructs a fresh tree from a full set of leaf hashes (spec.md
// §4.11 "build").
func Build(length, pieceSize int64, leaves [][32]byte) (*Tree, error) {
	if pieceSize <= 0 || pieceSize&(pieceSize-1) != 0 {
		return nil, sealedfs.New(sealedfs.KindInvalidArgument, "merkle.Build")
	}
	want := pieceCount(length, pieceSize)
	if len(leaves) != want {
		return nil, sealedfs.New(sealedfs.KindInvalidArgument, "merkle.Build")
	}
	t := &Tree{PieceSize: pieceSize, Len: length, LeafCount: want}
	t.Nodes = buildNodes(leaves)
	return t, nil
}

// buildNodes computes the flat inner+leaf node array from a leaf hash
// list: total node count is the sum of every level's width (n, then
// ceil(n/2), ... down to 1), which equals 2n-1 only when n is a power of
// two; leaves occupy the tail of the array, inner levels are computed
// bottom-up with an odd child promoted unchanged (spec.md §4.11).
func buildNodes(leaves [][32]byte) [][32]byte {
	n := len(leaves)
	if n == 0 {
		return nil
	}
	total := 0
	for l := n; ; l = (l + 1) / 2 {
		total += l
		if l == 1 {
			break
		}
	}
	nodes := make([][32]byte, total)
	copy(nodes[total-n:], leaves)

	levelLen := n
	levelStart := total - n
	for levelLen > 1 {
		parentLen := (levelLen + 1) / 2
		parentStart := levelStart - parentLen
		for i := 0; i < parentLen; i++ {
			left := levelStart + 2*i
			if 2*i+1 < levelLen {
				right := left + 1
				nodes[parentStart+i] = hashPair(nodes[left], nodes[right])
			} else {
				nodes[parentStart+i] = nodes[left]
			}
		}
		levelLen = parentLen
		levelStart = parentStart
	}
	return nodes
}

func hashPair(left, right [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return crypto.Hash(buf)
}

// Root returns the tree's root hash, the zero value for an empty tree.
func (t *Tree) Root() [32]byte {
	if len(t.Nodes) == 0 {
		return [32]byte{}
	}
	return t.Nodes[0]
}

// Leaves returns the tree's leaf hashes in content order.
func (t *Tree) Leaves() [][32]byte {
	if t.LeafCount == 0 {
		return nil
	}
	return t.Nodes[len(t.Nodes)-t.LeafCount:]
}

// Merge overlays new content covering [offset, offset+length) into the
// tree, growing Len to newLen if the overlay extends past the current
// end, and re-hashes every piece the overlay touches (including the
// head/tail pieces it only partially covers) by reading the FINAL
// post-overlay bytes from src (spec.md §4.11 "merge"). Unlike the spec's
// incremental node-splice description, this rebuilds the whole tree from
// the refreshed leaf set rather than reusing untouched inner nodes —
// simpler, and the stated invariant (root_hash matches the naive
// recomputation) holds regardless of how the leaves were assembled.
func (t *Tree) Merge(ctx context.Context, offset, length, newLen int64, src PieceSource) error {
	if length <= 0 {
		return sealedfs.New(sealedfs.KindInvalidArgument, "merkle.Tree.Merge")
	}
	if newLen < offset+length {
		newLen = offset + length
	}
	leafCount := pieceCount(newLen, t.PieceSize)
	leaves := make([][32]byte, leafCount)
	copy(leaves, t.Leaves())

	first := int(offset / t.PieceSize)
	last := int((offset + length - 1) / t.PieceSize)
	if last >= leafCount {
		last = leafCount - 1
	}
	buf := make([]byte, t.PieceSize)
	for i := first; i <= last; i++ {
		n, err := src.ReadPiece(ctx, i, buf)
		if err != nil {
			return err
		}
		leaves[i] = crypto.Hash(buf[:n])
	}

	built, err := Build(newLen, t.PieceSize, leaves)
	if err != nil {
		return err
	}
	*t = *built
	return nil
}

// Truncate shortens the tree to the intact prefix ending at `at`,
// re-hashing the last piece from src if `at` doesn't land on a piece
// boundary (spec.md §4.11 "truncate").
func (t *Tree) Truncate(ctx context.Context, at int64, src PieceSource) error {
	if at < 0 || at > t.Len {
		return sealedfs.New(sealedfs.KindInvalidArgument, "merkle.Tree.Truncate")
	}
	leafCount := pieceCount(at, t.PieceSize)
	if leafCount == 0 {
		t.Nodes = nil
		t.LeafCount = 0
		t.Len = 0
		return nil
	}
	leaves := append([][32]byte(nil), t.Leaves()[:leafCount]...)
	if at%t.PieceSize != 0 {
		buf := make([]byte, t.PieceSize)
		n, err := src.ReadPiece(ctx, leafCount-1, buf)
		if err != nil {
			return err
		}
		leaves[leafCount-1] = crypto.Hash(buf[:n])
	}
	built, err := Build(at, t.PieceSize, leaves)
	if err != nil {
		return err
	}
	*t = *built
	return nil
}
