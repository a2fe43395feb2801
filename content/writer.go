package content

import (
	"context"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/volume"
)

// SegmentWriter drives a Chunker over incoming file bytes, packing each
// emitted chunk into the current segment (deduplicating against chunkMap)
// and building up a Content's EntryList as it goes (spec.md §4.9 "Writer
// state").
type SegmentWriter struct {
	ctx      context.Context
	vol      *volume.Volume
	chunkMap *ChunkMap

	chunker *Chunker
	ents    EntryList

	seg      *Segment
	dataW    *volume.Writer
	segBytes int64

	newID func() (eid.ID, error)
}

// NewSegmentWriter opens a fresh current segment and starts a chunker
// that feeds it. newID allocates a fresh entity id (used for both a
// segment's own id and its data blob id each time a segment rolls over,
// and for the returned Content's id). startOffset is the content-relative
// offset the writer's EntryList begins at, so its output can be spliced
// into an existing EntryList via WriteWith instead of always forming a
// whole Content starting at 0.
func NewSegmentWriter(ctx context.Context, vol *volume.Volume, chunkMap *ChunkMap, newID func() (eid.ID, error), startOffset int64) (*SegmentWriter, error) {
	w := &SegmentWriter{ctx: ctx, vol: vol, chunkMap: chunkMap, newID: newID}
	w.ents.Offset = startOffset
	if err := w.rollSegment(); err != nil {
		return nil, err
	}
	c, err := New(w.onChunk)
	if err != nil {
		return nil, err
	}
	w.chunker = c
	return w, nil
}

func (w *SegmentWriter) rollSegment() error {
	segID, err := w.newID()
	if err != nil {
		return err
	}
	dataID, err := w.newID()
	if err != nil {
		return err
	}
	w.seg = NewSegment(segID, dataID)
	w.dataW = volume.NewWriter(w.vol, dataID)
	w.segBytes = 0
	return nil
}

// Write feeds more file bytes through the chunker.
func (w *SegmentWriter) Write(p []byte) (int, error) {
	return w.chunker.Write(p)
}

// Finish flushes the chunker's final partial chunk, saves the current
// segment and chunk map, and returns the Content built from every chunk
// written so far.
func (w *SegmentWriter) Finish(dataHash [32]byte) (*Content, error) {
	if err := w.chunker.Flush(); err != nil {
		return nil, err
	}
	if _, err := w.dataW.Finish(w.ctx); err != nil {
		return nil, err
	}
	if err := w.seg.Save(w.ctx, w.vol); err != nil {
		return nil, err
	}
	if err := w.chunkMap.Save(w.ctx, w.vol); err != nil {
		return nil, err
	}
	id, err := w.newID()
	if err != nil {
		return nil, err
	}
	return &Content{ID: id, Hash: dataHash, Ents: w.ents}, nil
}

// onChunk implements spec.md §4.9's write(chunk) algorithm: dedup via the
// chunk map, else pack into the current segment (rolling over at 256
// chunks), then append a one-chunk Span to the EntryList being built.
func (w *SegmentWriter) onChunk(chunk []byte) error {
	hash := crypto.Hash(chunk)

	if ref, ok := w.chunkMap.Lookup(hash); ok {
		seg := w.seg
		if ref.SegmentID != w.seg.ID {
			loaded, err := LoadSegment(w.ctx, w.vol, ref.SegmentID)
			if err != nil {
				return err
			}
			seg = loaded
		}
		if err := seg.RefChunk(ref.Index); err != nil {
			return err
		}
		if seg != w.seg {
			if err := seg.Save(w.ctx, w.vol); err != nil {
				return err
			}
		}
		w.ents.Append(ref.SegmentID, Span{
			Begin: ref.Index, End: ref.Index + 1,
			Len: int64(len(chunk)),
		})
		return nil
	}

	idx, ok := w.seg.Append(w.segBytes, int32(len(chunk)))
	if !ok {
		if _, err := w.dataW.Finish(w.ctx); err != nil {
			return err
		}
		if err := w.seg.Save(w.ctx, w.vol); err != nil {
			return err
		}
		if err := w.rollSegment(); err != nil {
			return err
		}
		idx, ok = w.seg.Append(w.segBytes, int32(len(chunk)))
		if !ok {
			return sealedfs.New(sealedfs.KindCorrupted, "content.SegmentWriter.onChunk")
		}
	}
	if _, err := w.dataW.Write(chunk); err != nil {
		return err
	}
	w.segBytes += int64(len(chunk))
	if err := w.seg.RefChunk(idx); err != nil {
		return err
	}
	w.chunkMap.Insert(hash, ChunkRef{SegmentID: w.seg.ID, Index: idx})
	w.ents.Append(w.seg.ID, Span{Begin: idx, End: idx + 1, Len: int64(len(chunk))})
	return nil
}
