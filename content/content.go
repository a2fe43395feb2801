package content

import (
	"context"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/volume"
)

// Content is the immutable byte-sequence representation of one version of
// one file (spec.md §3 "Content"). A new write always produces a new
// Content rather than mutating an existing one.
type Content struct {
	ID   eid.ID
	Hash [32]byte
	Ents EntryList
}

// Link increments the refcount of every chunk a Content's EntryList
// points at, saving each touched segment, and records the new reference
// in index. Called when a Content becomes reachable (spec.md §4.10
// "link").
func Link(ctx context.Context, vol *volume.Volume, index *SegmentIndex, c *Content) error {
	bySeg := make(map[eid.ID][]int)
	for _, ent := range c.Ents.Ents {
		for _, sp := range ent.Spans {
			for idx := sp.Begin; idx < sp.End; idx++ {
				bySeg[ent.SegID] = append(bySeg[ent.SegID], idx)
			}
		}
	}
	for segID, idxs := range bySeg {
		seg, err := LoadSegment(ctx, vol, segID)
		if err != nil {
			return err
		}
		for _, idx := range idxs {
			if err := seg.RefChunk(idx); err != nil {
				return err
			}
		}
		if err := seg.Save(ctx, vol); err != nil {
			return err
		}
	}
	IndexContent(index, c)
	return nil
}

// Unlink decrements the refcount of every chunk a Content's EntryList
// points at (walking entries in reverse, per spec.md §4.10), deletes any
// segment that became fully orphaned, and shrinks any segment that merely
// became shrinkable (spec.md §4.9), splicing the relocation into every
// other Content still referencing it via index. It returns the number of
// segments shrunk, for the caller to feed into a metrics counter.
func Unlink(ctx context.Context, vol *volume.Volume, chunkMap *ChunkMap, index *SegmentIndex, c *Content) (int, error) {
	for _, ent := range c.Ents.Ents {
		index.RemoveRef(ent.SegID, c.ID)
	}

	bySeg := make(map[eid.ID][]int)
	ents := c.Ents.Ents
	for i := len(ents) - 1; i >= 0; i-- {
		ent := ents[i]
		for j := len(ent.Spans) - 1; j >= 0; j-- {
			sp := ent.Spans[j]
			for idx := sp.End - 1; idx >= sp.Begin; idx-- {
				bySeg[ent.SegID] = append(bySeg[ent.SegID], idx)
			}
		}
	}
	shrinks := 0
	for segID, idxs := range bySeg {
		seg, err := LoadSegment(ctx, vol, segID)
		if err != nil {
			return shrinks, err
		}
		for _, idx := range idxs {
			if err := seg.DerefChunk(idx); err != nil {
				return shrinks, err
			}
		}
		switch {
		case seg.IsOrphan():
			if err := DeleteSegment(ctx, vol, seg); err != nil {
				return shrinks, err
			}
			index.Forget(segID)
			var gone [][32]byte
			chunkMap.mu.Lock()
			for h, ref := range chunkMap.entries {
				if ref.SegmentID == segID {
					gone = append(gone, h)
				}
			}
			chunkMap.mu.Unlock()
			for _, h := range gone {
				chunkMap.Remove(h)
			}
			if err := chunkMap.Save(ctx, vol); err != nil {
				return shrinks, err
			}
		case seg.Shrinkable():
			if err := shrinkAndSplice(ctx, vol, chunkMap, index, seg); err != nil {
				return shrinks, err
			}
			shrinks++
		default:
			if err := seg.Save(ctx, vol); err != nil {
				return shrinks, err
			}
		}
	}
	return shrinks, nil
}

// shrinkAndSplice runs ShrinkSegment on seg, then rewrites every other
// Content still referencing it (per index) to point at the relocated
// chunks, saving each one back.
func shrinkAndSplice(ctx context.Context, vol *volume.Volume, chunkMap *ChunkMap, index *SegmentIndex, seg *Segment) error {
	newID, err := eid.New()
	if err != nil {
		return err
	}
	newDataID, err := eid.New()
	if err != nil {
		return err
	}
	newSeg, remap, err := ShrinkSegment(ctx, vol, chunkMap, seg, newID, newDataID)
	if err != nil {
		return err
	}
	if err := chunkMap.Save(ctx, vol); err != nil {
		return err
	}

	others := index.ContentsFor(seg.ID, eid.Zero)
	for _, otherID := range others {
		other, err := LoadContent(ctx, vol, otherID)
		if err != nil {
			if sealedfs.Is(err, sealedfs.KindNotFound) {
				continue
			}
			return err
		}
		if err := other.Ents.RemapSegment(seg.ID, newSeg.ID, remap); err != nil {
			return err
		}
		if err := other.Save(ctx, vol); err != nil {
			return err
		}
	}
	index.Rekey(seg.ID, newSeg.ID)
	return nil
}

// ShrinkSegment compacts a shrinkable segment (used <= len/4): it copies
// only chunks with a live refcount into a fresh segment and data blob,
// rehashing each surviving chunk's plaintext to repoint the chunk map at
// its new location, and deletes the old segment. It returns the new
// segment and the old->new chunk-index mapping for chunks that survived,
// which the caller must splice into every Content's EntryList still
// pointing at the old segment id (content.Unlink's shrinkAndSplice does
// this via SegmentIndex).
func ShrinkSegment(ctx context.Context, vol *volume.Volume, chunkMap *ChunkMap, seg *Segment, newID, newDataID eid.ID) (*Segment, map[int]int, error) {
	if !seg.Shrinkable() {
		return nil, nil, sealedfs.New(sealedfs.KindInvalidArgument, "content.ShrinkSegment")
	}

	old, err := volume.NewReader(ctx, vol, seg.DataID)
	if err != nil {
		return nil, nil, err
	}
	w := volume.NewWriter(vol, newDataID)

	newSeg := NewSegment(newID, newDataID)
	remap := make(map[int]int)
	var cursor int64

	for idx, refcnt := range seg.RefCnts {
		if refcnt == 0 {
			continue
		}
		length := seg.Lens[idx]
		buf := make([]byte, length)
		if _, err := old.ReadAt(buf, seg.Offsets[idx], false); err != nil {
			w.Abandon()
			return nil, nil, err
		}
		if _, err := w.Write(buf); err != nil {
			return nil, nil, err
		}
		newIdx, ok := newSeg.Append(cursor, length)
		if !ok {
			return nil, nil, sealedfs.New(sealedfs.KindCorrupted, "content.ShrinkSegment")
		}
		for i := uint32(0); i < refcnt; i++ {
			if err := newSeg.RefChunk(newIdx); err != nil {
				return nil, nil, err
			}
		}
		cursor += int64(length)
		remap[idx] = newIdx
		chunkMap.Insert(crypto.Hash(buf), ChunkRef{SegmentID: newID, Index: newIdx})
	}

	if _, err := w.Finish(ctx); err != nil {
		return nil, nil, err
	}
	if err := newSeg.Save(ctx, vol); err != nil {
		return nil, nil, err
	}
	if err := DeleteSegment(ctx, vol, seg); err != nil {
		return nil, nil, err
	}
	return newSeg, remap, nil
}
