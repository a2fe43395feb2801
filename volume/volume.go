// Package volume implements frame-level AEAD encryption and
// length-prefixed addressing on top of a block-addressed storage.Backend,
// plus the super-block key envelope (spec.md §4.3).
package volume

import (
	"context"
	"sync"
	"sync/atomic"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/lru"
	"github.com/kenneth/sealedfs/storage"

	"github.com/sirupsen/logrus"
)

// BlkSize and FrameSize are fixed by spec.md §6.
const (
	BlkSize   = storage.BlkSize
	FrameSize = 16 * BlkSize // 131072

	// frameCacheBudget bounds the reader's decrypted-frame LRU to 4MiB,
	// and entries >= frameCacheBypass skip the cache entirely.
	frameCacheBudget = 4 * 1024 * 1024
	frameCacheBypass = 512 * 1024
)

// DecryptedLen returns how many plaintext bytes fit in one ciphertext
// frame of the given cipher (FRAME_SIZE minus nonce and AEAD tag).
func DecryptedLen(c crypto.Cipher) int {
	overhead := c.NonceSize() + 16 // all AEAD constructions here use a 16-byte tag
	return FrameSize - overhead
}

// Volume owns a backend and the AEAD frame codec layered over it. One
// Volume is shared (by reference) across the whole open repository.
type Volume struct {
	log     *logrus.Entry
	backend storage.Backend

	mu         sync.RWMutex
	cipher     crypto.Cipher
	storageKey *crypto.Key
	compress   bool

	nextBlock uint64 // monotonic bump allocator; never reused within a volume's lifetime

	frameCache *lru.Cache[frameCacheKey, []byte]
	pinnedFrames sync.Map // frameCacheKey -> refcount; nothing stores pins here (Readers hold none)
}

type frameCacheKey struct {
	eid   eid.ID
	frame int64
}

// New wires a Volume over an already-connected backend with the derived
// storage key and chosen cipher (picked by the super-block at open/init
// time).
func New(backend storage.Backend, cipher crypto.Cipher, storageKey *crypto.Key, log *logrus.Logger) *Volume {
	if log == nil {
		log = logrus.StandardLogger()
	}
	v := &Volume{
		log:        log.WithField("component", "volume"),
		backend:    backend,
		cipher:     cipher,
		storageKey: storageKey,
	}
	v.frameCache = lru.New[frameCacheKey, []byte](frameCacheBudget, func(b []byte) int64 { return int64(len(b)) }, v.isFramePinned)
	return v
}

func (v *Volume) isFramePinned(k frameCacheKey) bool {
	_, pinned := v.pinnedFrames.Load(k)
	return pinned
}

// SetCompress toggles the optional zstd sidecar compression stream
// (super-block's Compress flag). Repo.Open/Init calls this once, right
// after constructing the Volume, to match the setting the super-block
// was saved with; frames written and read within one open session must
// agree on this flag.
func (v *Volume) SetCompress(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.compress = on
}

// Compress reports whether frame plaintext is zstd-compressed before
// sealing.
func (v *Volume) Compress() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.compress
}

// Repair re-reads both super-block arms and rewrites whichever has the
// lower sequence number to match the winner, resolving the KindInvalidSuperBlk
// condition spec.md §7 names as retriable after a crash that left the two
// arms disagreeing.
func (v *Volume) Repair(ctx context.Context, password []byte) (*SuperBlock, crypto.Cipher, error) {
	return RepairSuperBlock(ctx, v.backend, password)
}

// Bootstrap seeds the block allocator's watermark, called by repo.Open
// after WAL recovery with the queue's persisted BlkWmark.
func (v *Volume) Bootstrap(blockWatermark uint64) {
	atomic.StoreUint64(&v.nextBlock, blockWatermark)
}

// BlockWatermark returns the allocator's current high-water mark, used by
// the WAL queue to persist blk_wmark.
func (v *Volume) BlockWatermark() uint64 {
	return atomic.LoadUint64(&v.nextBlock)
}

// allocate bumps the block allocator by cnt blocks and returns the span.
func (v *Volume) allocate(cnt uint32) storage.BlockSpan {
	begin := atomic.AddUint64(&v.nextBlock, uint64(cnt)) - uint64(cnt)
	return storage.BlockSpan{Begin: begin, Cnt: cnt}
}

// Cipher returns the volume's active AEAD construction.
func (v *Volume) Cipher() crypto.Cipher {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cipher
}

// StorageKey returns the key that frames, address records and WAL blobs
// are sealed under,
// borrowed — callers must not retain it past the volume's lifetime.
func (v *Volume) StorageKey() *crypto.Key {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.storageKey
}

// Backend exposes the underlying backend for layers (armor, WAL) that
// need direct super-block/WAL-slot access.
func (v *Volume) Backend() storage.Backend { return v.backend }

// Flush durably persists every buffered address/block/WAL write.
func (v *Volume) Flush(ctx context.Context) error {
	return storage.WrapIO("volume.Flush", v.backend.Flush(ctx))
}

// RemoveAddressBlocks deletes the blocks and address record for id,
// dropping any cached frames. Used both by Writer.Finish when overwriting
// a prior version and by WAL recycling/unlink.
func (v *Volume) RemoveAddressBlocks(ctx context.Context, id eid.ID) error {
	raw, err := v.backend.GetAddress(ctx, id)
	if err != nil {
		if sealedfs.Is(err, sealedfs.KindNotFound) {
			return nil
		}
		return storage.WrapIO("volume.RemoveAddressBlocks", err)
	}
	addr, err := v.decodeAddress(raw)
	if err != nil {
		return err
	}
	for i, span := range addr.Spans {
		if err := v.backend.DelBlocks(ctx, span.Span); err != nil {
			return storage.WrapIO("volume.RemoveAddressBlocks", err)
		}
		v.frameCache.Remove(frameCacheKey{eid: id, frame: int64(i)})
	}
	if err := v.backend.DelAddress(ctx, id); err != nil {
		return storage.WrapIO("volume.RemoveAddressBlocks", err)
	}
	return nil
}

func (v *Volume) decodeAddress(raw []byte) (*Address, error) {
	plain, err := crypto.Decrypt(v.Cipher(), raw, nil, v.StorageKey())
	if err != nil {
		return nil, err
	}
	var addr Address
	if err := unmarshalMsgpack(plain, &addr); err != nil {
		return nil, sealedfs.Wrap(sealedfs.KindCorrupted, "volume.decodeAddress", err)
	}
	return &addr, nil
}

func (v *Volume) encodeAddress(addr *Address) ([]byte, error) {
	plain, err := marshalMsgpack(addr)
	if err != nil {
		return nil, err
	}
	return crypto.Encrypt(v.Cipher(), plain, nil, v.StorageKey())
}
