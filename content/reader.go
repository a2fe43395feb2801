package content

import (
	"context"
	"io"

	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/volume"
)

// Reader is a random-access reader over one Content's plaintext bytes. It
// resolves a content-relative byte range through the EntryList's spans:
// a Span's chunk run is always physically contiguous in its segment's
// data blob (Append only ever merges immediately-adjacent chunks), so
// one Span covers one contiguous volume read regardless of how many
// chunks it groups.
type Reader struct {
	ctx   context.Context
	vol   *volume.Volume
	cache *BlockCache

	ents   []Entry
	length int64

	segs        map[eid.ID]*Segment
	dataReaders map[eid.ID]*volume.Reader
}

// NewReader builds a Reader over c. cache may be nil, in which case every
// read re-fetches and re-decrypts from the volume.
func NewReader(ctx context.Context, vol *volume.Volume, c *Content, cache *BlockCache) *Reader {
	return &Reader{
		ctx:         ctx,
		vol:         vol,
		cache:       cache,
		ents:        c.Ents.Ents,
		length:      c.Ents.Len,
		segs:        make(map[eid.ID]*Segment),
		dataReaders: make(map[eid.ID]*volume.Reader),
	}
}

// Len returns the content's total plaintext length.
func (r *Reader) Len() int64 { return r.length }

func (r *Reader) loadSegment(id eid.ID) (*Segment, error) {
	if s, ok := r.segs[id]; ok {
		return s, nil
	}
	s, err := LoadSegment(r.ctx, r.vol, id)
	if err != nil {
		return nil, err
	}
	r.segs[id] = s
	return s, nil
}

func (r *Reader) dataReader(dataID eid.ID) (*volume.Reader, error) {
	if dr, ok := r.dataReaders[dataID]; ok {
		return dr, nil
	}
	dr, err := volume.NewReader(r.ctx, r.vol, dataID)
	if err != nil {
		return nil, err
	}
	r.dataReaders[dataID] = dr
	return dr, nil
}

// findSpan locates the Entry/Span covering content offset at.
func (r *Reader) findSpan(at int64) (eid.ID, Span, bool) {
	for _, ent := range r.ents {
		if at < ent.Offset || at >= ent.Offset+ent.Len {
			continue
		}
		for _, sp := range ent.Spans {
			if at >= sp.Offset && at < sp.Offset+sp.Len {
				return ent.SegID, sp, true
			}
		}
	}
	return eid.ID{}, Span{}, false
}

// readRange returns length decrypted bytes starting at physical offset
// off within dataID's data blob, consulting and populating the block
// cache around the volume read.
func (r *Reader) readRange(dataID eid.ID, off, length int64) ([]byte, error) {
	key := CacheKey{DataID: dataID, Offset: off, Len: length}
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			return cached, nil
		}
	}
	dr, err := r.dataReader(dataID)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := dr.ReadAt(buf, off, false); err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Insert(key, buf)
	}
	return buf, nil
}

// ReadAt reads len(p) bytes of plaintext starting at content offset off.
// It never advances a stream cursor; callers that need io.Reader
// semantics track their own position (repo/file.go's file Reader does).
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.length {
		return 0, io.EOF
	}
	total := 0
	for total < len(p) {
		at := off + int64(total)
		if at >= r.length {
			break
		}
		segID, sp, ok := r.findSpan(at)
		if !ok {
			break
		}
		seg, err := r.loadSegment(segID)
		if err != nil {
			return total, err
		}
		physBase := seg.Offsets[sp.Begin] + sp.SegOffset
		withinSpan := at - sp.Offset
		physOff := physBase + withinSpan
		avail := sp.Len - withinSpan
		want := int64(len(p) - total)
		if want > avail {
			want = avail
		}

		buf, err := r.readRange(seg.DataID, physOff, want)
		if err != nil {
			return total, err
		}
		total += copy(p[total:], buf)
	}
	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

// ReadPiece implements merkle.PieceSource over this Content's bytes, for
// merkle.Tree.Build seeding a file's initial piece-hash set.
func (r *Reader) ReadPiece(ctx context.Context, pieceIndex int, buf []byte) (int, error) {
	off := int64(pieceIndex) * int64(len(buf))
	n, err := r.ReadAt(buf, off)
	if err == io.EOF && n > 0 {
		return n, nil
	}
	return n, err
}
