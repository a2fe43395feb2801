package content

import (
	"context"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/armor"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/volume"
)

// MaxChunksPerSegment is the fixed cap on chunks per segment (spec.md
// §4.9).
const MaxChunksPerSegment = 256

// Segment packs up to MaxChunksPerSegment chunks into one opaque data
// blob (addressed by DataID, a direct volume entity) plus per-chunk
// metadata.
type Segment struct {
	ID     eid.ID
	DataID eid.ID

	Offsets  []int64
	Lens     []int32
	RefCnts  []uint32
	Used     int // count of chunks with RefCnt > 0
	arm      armor.Arm
	seq      uint64
}

// NewSegment allocates a fresh, empty segment with its own data entity id.
func NewSegment(id, dataID eid.ID) *Segment {
	return &Segment{ID: id, DataID: dataID, arm: armor.InitialArm}
}

// Append records a newly-written chunk's offset/length at the next
// index, initializing its refcount to 0 (the caller calls RefChunk
// immediately after to bring it live). Returns the chunk's index, or
// false if the segment is already full.
func (s *Segment) Append(offset int64, length int32) (idx int, ok bool) {
	if len(s.Offsets) >= MaxChunksPerSegment {
		return 0, false
	}
	s.Offsets = append(s.Offsets, offset)
	s.Lens = append(s.Lens, length)
	s.RefCnts = append(s.RefCnts, 0)
	return len(s.Offsets) - 1, true
}

// RefChunk increments chunk idx's refcount, bumping Used on a 0->1
// transition (spec.md §4.9 "ref_chunk").
func (s *Segment) RefChunk(idx int) error {
	if idx < 0 || idx >= len(s.RefCnts) {
		return sealedfs.New(sealedfs.KindInvalidArgument, "content.Segment.RefChunk")
	}
	if s.RefCnts[idx] == 0 {
		s.Used++
	}
	s.RefCnts[idx]++
	return nil
}

// DerefChunk decrements chunk idx's refcount, dropping Used on a 1->0
// transition. The caller is responsible for noticing Used==0 afterward
// and unlinking the now-orphan segment.
func (s *Segment) DerefChunk(idx int) error {
	if idx < 0 || idx >= len(s.RefCnts) {
		return sealedfs.New(sealedfs.KindInvalidArgument, "content.Segment.DerefChunk")
	}
	if s.RefCnts[idx] == 0 {
		return sealedfs.New(sealedfs.KindRefUnderflow, "content.Segment.DerefChunk")
	}
	s.RefCnts[idx]--
	if s.RefCnts[idx] == 0 {
		s.Used--
	}
	return nil
}

// IsOrphan reports whether every chunk in the segment has dropped to a
// zero refcount.
func (s *Segment) IsOrphan() bool { return s.Used == 0 }

// Shrinkable reports whether the segment qualifies for the shrink-on-GC
// path of spec.md §4.9 ("used <= len/4").
func (s *Segment) Shrinkable() bool {
	return len(s.Offsets) > 0 && s.Used*4 <= len(s.Offsets)
}

type segmentWire struct {
	ID      eid.ID
	DataID  eid.ID
	Offsets []int64
	Lens    []int32
	RefCnts []uint32
	Used    int
}

// Save armor-saves the segment's metadata (not its packed chunk bytes,
// which live in the volume content entity DataID).
func (s *Segment) Save(ctx context.Context, vol *volume.Volume) error {
	wire := segmentWire{ID: s.ID, DataID: s.DataID, Offsets: s.Offsets, Lens: s.Lens, RefCnts: s.RefCnts, Used: s.Used}
	plain, err := marshalMsgpack(wire)
	if err != nil {
		return sealedfs.Wrap(sealedfs.KindCorrupted, "content.Segment.Save", err)
	}
	arm, seq, err := armor.SaveItem(ctx, vol, armor.SlotAddress, s.ID, s.arm, s.seq, plain)
	if err != nil {
		return err
	}
	s.arm, s.seq = arm, seq
	return nil
}

// LoadSegment reads a previously-saved segment's metadata.
func LoadSegment(ctx context.Context, vol *volume.Volume, id eid.ID) (*Segment, error) {
	data, arm, seq, err := armor.LoadItem(ctx, vol, armor.SlotAddress, id)
	if err != nil {
		return nil, err
	}
	var wire segmentWire
	if err := unmarshalMsgpack(data, &wire); err != nil {
		return nil, sealedfs.Wrap(sealedfs.KindCorrupted, "content.LoadSegment", err)
	}
	return &Segment{
		ID: wire.ID, DataID: wire.DataID,
		Offsets: wire.Offsets, Lens: wire.Lens, RefCnts: wire.RefCnts, Used: wire.Used,
		arm: arm, seq: seq,
	}, nil
}

// DeleteSegment removes both the segment's metadata arms and its packed
// chunk-data entity, used when a segment becomes fully orphaned.
func DeleteSegment(ctx context.Context, vol *volume.Volume, seg *Segment) error {
	if err := armor.RemoveAllArms(ctx, vol, armor.SlotAddress, seg.ID); err != nil {
		return err
	}
	return vol.RemoveAddressBlocks(ctx, seg.DataID)
}
