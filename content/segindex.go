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

// segIndexID is the segment index's well-known, singleton armor id, the
// same pattern chunkMapID and wal.Queue's id use.
var segIndexID = eid.FromHash(crypto.Hash([]byte("sealedfs.content.segindex")))

// SegmentIndex is the reverse of every Content's forward Entry.SegID
// pointers: for a given segment, which Content ids currently hold an
// Entry pointing at it. ShrinkSegment's caller needs this to find every
// other Content whose EntryList must be spliced once a shrink relocates
// a segment's surviving chunks (spec.md §4.9: "update the affected
// Contents' EntryLists").
type SegmentIndex struct {
	mu    sync.Mutex
	bySeg map[eid.ID]map[eid.ID]struct{}

	arm armor.Arm
	seq uint64
}

// NewSegmentIndex returns an empty index for a freshly initialized
// repository.
func NewSegmentIndex() *SegmentIndex {
	return &SegmentIndex{bySeg: make(map[eid.ID]map[eid.ID]struct{}), arm: armor.InitialArm}
}

// AddRef records that contentID's EntryList references segID.
func (s *SegmentIndex) AddRef(segID, contentID eid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.bySeg[segID]
	if !ok {
		set = make(map[eid.ID]struct{})
		s.bySeg[segID] = set
	}
	set[contentID] = struct{}{}
}

// RemoveRef drops contentID's reference to segID, if any.
func (s *SegmentIndex) RemoveRef(segID, contentID eid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.bySeg[segID]
	if !ok {
		return
	}
	delete(set, contentID)
	if len(set) == 0 {
		delete(s.bySeg, segID)
	}
}

// Forget drops every referencer segID has, used once its segment is
// deleted outright (the orphan case in Unlink).
func (s *SegmentIndex) Forget(segID eid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bySeg, segID)
}

// ContentsFor returns every Content id currently referencing segID, other
// than exclude.
func (s *SegmentIndex) ContentsFor(segID, exclude eid.ID) []eid.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.bySeg[segID]
	if !ok {
		return nil
	}
	out := make([]eid.ID, 0, len(set))
	for id := range set {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

// Rekey moves every referencer of oldSeg over to newSeg, used once
// ShrinkSegment has relocated a segment's surviving chunks to a fresh one.
func (s *SegmentIndex) Rekey(oldSeg, newSeg eid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.bySeg[oldSeg]
	delete(s.bySeg, oldSeg)
	if !ok {
		return
	}
	dest, ok := s.bySeg[newSeg]
	if !ok {
		dest = make(map[eid.ID]struct{})
		s.bySeg[newSeg] = dest
	}
	for id := range set {
		dest[id] = struct{}{}
	}
}

type segIndexEntryWire struct {
	SegID      eid.ID
	ContentIDs []eid.ID
}

// Save armor-saves the whole index as one blob, the same single-blob
// shape ChunkMap.Save uses.
func (s *SegmentIndex) Save(ctx context.Context, vol *volume.Volume) error {
	s.mu.Lock()
	wire := make([]segIndexEntryWire, 0, len(s.bySeg))
	for segID, set := range s.bySeg {
		ids := make([]eid.ID, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		wire = append(wire, segIndexEntryWire{SegID: segID, ContentIDs: ids})
	}
	arm, seq := s.arm, s.seq
	s.mu.Unlock()

	plain, err := marshalMsgpack(wire)
	if err != nil {
		return sealedfs.Wrap(sealedfs.KindCorrupted, "content.SegmentIndex.Save", err)
	}
	newArm, newSeq, err := armor.SaveItem(ctx, vol, armor.SlotAddress, segIndexID, arm, seq, plain)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.arm, s.seq = newArm, newSeq
	s.mu.Unlock()
	return nil
}

// LoadSegmentIndex reads the armored segment index, or returns an empty
// one if the repository has never saved one.
func LoadSegmentIndex(ctx context.Context, vol *volume.Volume) (*SegmentIndex, error) {
	data, arm, seq, err := armor.LoadItem(ctx, vol, armor.SlotAddress, segIndexID)
	if err != nil {
		if sealedfs.Is(err, sealedfs.KindNotFound) {
			return NewSegmentIndex(), nil
		}
		return nil, err
	}
	var wire []segIndexEntryWire
	if err := unmarshalMsgpack(data, &wire); err != nil {
		return nil, sealedfs.Wrap(sealedfs.KindCorrupted, "content.LoadSegmentIndex", err)
	}
	idx := &SegmentIndex{bySeg: make(map[eid.ID]map[eid.ID]struct{}, len(wire)), arm: arm, seq: seq}
	for _, e := range wire {
		set := make(map[eid.ID]struct{}, len(e.ContentIDs))
		for _, id := range e.ContentIDs {
			set[id] = struct{}{}
		}
		idx.bySeg[e.SegID] = set
	}
	return idx, nil
}

// IndexContent registers every segment c's EntryList references in index.
// Used both by Link (a Content gaining a reference the ordinary way) and
// by a freshly built Content, whose chunks are already ref-counted by the
// SegmentWriter that produced them without going through Link.
func IndexContent(index *SegmentIndex, c *Content) {
	for _, ent := range c.Ents.Ents {
		index.AddRef(ent.SegID, c.ID)
	}
}
