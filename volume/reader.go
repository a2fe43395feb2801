package volume

import (
	"context"
	"io"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage"
)

// Reader is a read-only, seekable stream over one entity's backing bytes.
// It loads the entity's Address once at construction and decrypts frames
// lazily, caching plaintext frames under 512KiB in the volume's shared
// frame LRU (spec.md §4.3).
type Reader struct {
	vol  *Volume
	id   eid.ID
	addr *Address

	plainPerFrame int64
	pos           int64
}

// NewReader loads and decrypts id's address and returns a Reader
// positioned at offset 0.
func NewReader(ctx context.Context, vol *Volume, id eid.ID) (*Reader, error) {
	raw, err := vol.backend.GetAddress(ctx, id)
	if err != nil {
		if sealedfs.Is(err, sealedfs.KindNotFound) {
			return nil, sealedfs.New(sealedfs.KindNoEntity, "volume.NewReader")
		}
		return nil, storage.WrapIO("volume.NewReader", err)
	}
	addr, err := vol.decodeAddress(raw)
	if err != nil {
		return nil, err
	}
	return &Reader{
		vol:           vol,
		id:            id,
		addr:          addr,
		plainPerFrame: int64(DecryptedLen(vol.Cipher())),
	}, nil
}

// Len returns the entity's total plaintext length.
func (r *Reader) Len() int64 { return r.addr.Len }

// Seek implements io.Seeker (whence semantics match io.SeekStart/
// Current/End).
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = r.pos + offset
	case io.SeekEnd:
		newPos = r.addr.Len + offset
	default:
		return 0, sealedfs.New(sealedfs.KindInvalidArgument, "volume.Reader.Seek")
	}
	if newPos < 0 {
		return 0, sealedfs.New(sealedfs.KindInvalidArgument, "volume.Reader.Seek")
	}
	r.pos = newPos
	return r.pos, nil
}

// Read implements io.Reader, copying from the decrypted plaintext frame
// covering the current position.
func (r *Reader) Read(p []byte) (int, error) {
	return r.ReadAt(p, r.pos, true)
}

// ReadAt reads len(p) bytes starting at off without mutating (or, if
// advance is true, while also advancing) the stream cursor.
func (r *Reader) ReadAt(p []byte, off int64, advance bool) (int, error) {
	if off >= r.addr.Len {
		return 0, io.EOF
	}
	ctx := context.Background()
	total := 0
	for total < len(p) {
		at := off + int64(total)
		if at >= r.addr.Len {
			break
		}
		loc, frameStart, ok := r.addr.frameAt(at, r.plainPerFrame)
		if !ok {
			break
		}
		frameIdx := at / r.plainPerFrame
		plain, err := r.loadFrame(ctx, frameIdx, loc)
		if err != nil {
			return total, err
		}
		withinFrame := at - frameStart
		n := copy(p[total:], plain[withinFrame:])
		total += n
	}
	if advance {
		r.pos = off + int64(total)
	}
	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

func (r *Reader) loadFrame(ctx context.Context, frameIdx int64, loc LocSpan) ([]byte, error) {
	key := frameCacheKey{eid: r.id, frame: frameIdx}
	bypass := loc.DataLen >= frameCacheBypass

	if !bypass {
		if cached, ok := r.vol.frameCache.Get(key); ok {
			return cached, nil
		}
	}

	ct := make([]byte, loc.Span.Len())
	if err := r.vol.backend.GetBlocks(ctx, ct, loc.Span); err != nil {
		return nil, storage.WrapIO("volume.Reader.loadFrame", err)
	}
	ct = ct[:loc.DataLen]

	plain, err := crypto.Decrypt(r.vol.Cipher(), ct, nil, r.vol.StorageKey())
	if err != nil {
		return nil, sealedfs.Wrap(sealedfs.KindDecrypt, "volume.Reader.loadFrame", err)
	}
	if r.vol.Compress() {
		plain, err = decompressFrame(plain)
		if err != nil {
			return nil, err
		}
	}

	if !bypass {
		r.vol.frameCache.Insert(key, plain)
	}
	return plain, nil
}

// Close releases any pins this reader held. sealedfs readers hold no
// frame pins today (frames are cached, not pinned, once loaded), but
// Close is kept so callers have a single, stable lifecycle hook.
func (r *Reader) Close() error { return nil }
