package content

import (
	"context"
	"sync"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/armor"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/volume"
)

// chunkMapID is the chunk map's well-known, singleton armor id (one per
// repository, like the WalQueue).
var chunkMapID = eid.FromHash(crypto.Hash([]byte("sealedfs.content.chunkmap")))

// ChunkRef locates a chunk's packed bytes: which segment holds it and at
// which index within that segment.
type ChunkRef struct {
	SegmentID eid.ID
	Index     int
}

// ChunkMap deduplicates chunks by content hash across every segment in
// the repository (spec.md §4.9).
type ChunkMap struct {
	mu      sync.Mutex
	entries map[[32]byte]ChunkRef

	arm armor.Arm
	seq uint64
}

// NewChunkMap returns an empty chunk map for a freshly initialized
// repository.
func NewChunkMap() *ChunkMap {
	return &ChunkMap{entries: make(map[[32]byte]ChunkRef), arm: armor.InitialArm}
}

// Lookup reports the location of a chunk with the given hash, if known.
func (m *ChunkMap) Lookup(hash [32]byte) (ChunkRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.entries[hash]
	return ref, ok
}

// Insert records a new chunk's location. Overwrites any prior entry for
// the same hash (used when a segment shrink relocates a chunk).
func (m *ChunkMap) Insert(hash [32]byte, ref ChunkRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[hash] = ref
}

// Remove drops a chunk's entry entirely, used when its last reference is
// gone and its segment is deleted rather than shrunk.
func (m *ChunkMap) Remove(hash [32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, hash)
}

type chunkMapEntryWire struct {
	Hash      [32]byte
	SegmentID eid.ID
	Index     int
}

// Save armor-saves the whole chunk map as one blob. A production-scale
// repository would shard this across a backend with range queries (the
// sqlite or redis backends, e.g.) rather than one growing blob; this
// module keeps the single-blob design named by spec.md and leaves
// sharding as a backend concern, not a content-package one.
func (m *ChunkMap) Save(ctx context.Context, vol *volume.Volume) error {
	m.mu.Lock()
	wire := make([]chunkMapEntryWire, 0, len(m.entries))
	for h, ref := range m.entries {
		wire = append(wire, chunkMapEntryWire{Hash: h, SegmentID: ref.SegmentID, Index: ref.Index})
	}
	arm, seq := m.arm, m.seq
	m.mu.Unlock()

	plain, err := marshalMsgpack(wire)
	if err != nil {
		return sealedfs.Wrap(sealedfs.KindCorrupted, "content.ChunkMap.Save", err)
	}
	newArm, newSeq, err := armor.SaveItem(ctx, vol, armor.SlotAddress, chunkMapID, arm, seq, plain)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.arm, m.seq = newArm, newSeq
	m.mu.Unlock()
	return nil
}

// LoadChunkMap reads the armored chunk map, or returns an empty one if
// the repository has never saved one.
func LoadChunkMap(ctx context.Context, vol *volume.Volume) (*ChunkMap, error) {
	data, arm, seq, err := armor.LoadItem(ctx, vol, armor.SlotAddress, chunkMapID)
	if err != nil {
		if sealedfs.Is(err, sealedfs.KindNotFound) {
			return NewChunkMap(), nil
		}
		return nil, err
	}
	var wire []chunkMapEntryWire
	if err := unmarshalMsgpack(data, &wire); err != nil {
		return nil, sealedfs.Wrap(sealedfs.KindCorrupted, "content.LoadChunkMap", err)
	}
	m := &ChunkMap{entries: make(map[[32]byte]ChunkRef, len(wire)), arm: arm, seq: seq}
	for _, e := range wire {
		m.entries[e.Hash] = ChunkRef{SegmentID: e.SegmentID, Index: e.Index}
	}
	return m, nil
}
