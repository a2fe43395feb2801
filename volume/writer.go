package volume

import (
	"context"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage"
)

// Writer is a write-only stream over one entity's backing bytes. Callers
// write plaintext; Writer stages it into full frames, AEAD-encrypts,
// allocates contiguous blocks, and writes them, as described in spec.md
// §4.3. Finish must be called exactly once to seal the address record.
type Writer struct {
	vol *Volume
	id  eid.ID

	plainPerFrame int
	stage         []byte
	spans         []LocSpan
	total         int64
	finished      bool
}

// NewWriter opens a write-only stream for id. A previous address for id,
// if any, is left untouched until Finish succeeds.
func NewWriter(vol *Volume, id eid.ID) *Writer {
	return &Writer{
		vol:           vol,
		id:            id,
		plainPerFrame: DecryptedLen(vol.Cipher()),
	}
}

// Write implements io.Writer. Every full frame's worth of staged
// plaintext is flushed to the backend immediately; the remainder stays
// buffered until the next Write or Finish.
func (w *Writer) Write(p []byte) (int, error) {
	if w.finished {
		return 0, sealedfs.New(sealedfs.KindClosed, "volume.Writer.Write")
	}
	ctx := context.Background()
	total := 0
	for len(p) > 0 {
		room := w.plainPerFrame - len(w.stage)
		n := room
		if n > len(p) {
			n = len(p)
		}
		w.stage = append(w.stage, p[:n]...)
		p = p[n:]
		total += n
		if len(w.stage) == w.plainPerFrame {
			if err := w.flushFrame(ctx); err != nil {
				return total, err
			}
		}
	}
	w.total += int64(total)
	return total, nil
}

// flushFrame encrypts whatever is staged (full or partial) into one
// frame, pads the ciphertext up to a whole number of blocks, allocates
// them, and writes them.
func (w *Writer) flushFrame(ctx context.Context) error {
	if len(w.stage) == 0 {
		return nil
	}
	plain := w.stage
	if w.vol.Compress() {
		plain = compressFrame(plain)
	}
	ct, err := crypto.Encrypt(w.vol.Cipher(), plain, nil, w.vol.StorageKey())
	if err != nil {
		return sealedfs.Wrap(sealedfs.KindEncrypt, "volume.Writer.flushFrame", err)
	}
	encLen := int64(len(ct))

	blocks := (len(ct) + BlkSize - 1) / BlkSize
	padded := make([]byte, blocks*BlkSize)
	copy(padded, ct)
	if pad := padded[len(ct):]; len(pad) > 0 {
		rnd, err := crypto.RandomBuf(len(pad))
		if err != nil {
			return err
		}
		copy(pad, rnd)
	}

	span := w.vol.allocate(uint32(blocks))
	if err := w.vol.backend.PutBlocks(ctx, span, padded); err != nil {
		return storage.WrapIO("volume.Writer.flushFrame", err)
	}

	w.spans = append(w.spans, LocSpan{Span: span, DataLen: encLen})
	w.stage = w.stage[:0]
	return nil
}

// Finish flushes any partial frame, removes the prior address's blocks
// (if id had one), and durably writes the new address.
func (w *Writer) Finish(ctx context.Context) (*Address, error) {
	if w.finished {
		return nil, sealedfs.New(sealedfs.KindNotFinish, "volume.Writer.Finish")
	}
	if err := w.flushFrame(ctx); err != nil {
		return nil, err
	}
	w.finished = true

	if err := w.vol.RemoveAddressBlocks(ctx, w.id); err != nil {
		return nil, err
	}

	addr := &Address{Spans: w.spans, Len: w.total}
	enc, err := w.vol.encodeAddress(addr)
	if err != nil {
		return nil, err
	}
	if err := w.vol.backend.PutAddress(ctx, w.id, enc); err != nil {
		return nil, storage.WrapIO("volume.Writer.Finish", err)
	}
	return addr, nil
}

// Abandon discards a writer without committing an address. Blocks it
// already wrote stay allocated with no address record pointing at them,
// so RemoveAddressBlocks cannot find or reclaim them.
func (w *Writer) Abandon() { w.finished = true }
