package content

import (
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/lru"
)

// CacheKey names one decrypted byte range read out of a segment's data
// blob: the span-resolution step in Reader.ReadAt always resolves to one
// contiguous physical range per call, so that range is the cache's unit
// rather than a single chunk.
type CacheKey struct {
	DataID eid.ID
	Offset int64
	Len    int64
}

// BlockCache is the second level of spec.md §2's "two-level content
// cache": volume.Volume already caches decrypted AEAD frames keyed by
// (entity, frame index); BlockCache sits above it and caches decrypted
// segment-data byte ranges keyed by the content-level read that produced
// them, so re-reading the same Content (or two Contents that dedup the
// same chunk range) skips both the frame decrypt and the copy/slice work
// Reader.readRange would otherwise repeat.
type BlockCache struct {
	cache *lru.Cache[CacheKey, []byte]
}

// NewBlockCache builds a BlockCache with a byte budget (spec.md §4.12's
// pin-aware LRU, wired to no pinning here: nothing pins a content block
// read past its own call).
func NewBlockCache(budgetBytes int64) *BlockCache {
	return &BlockCache{
		cache: lru.New[CacheKey, []byte](budgetBytes, func(b []byte) int64 { return int64(len(b)) }, nil),
	}
}

func (c *BlockCache) Get(key CacheKey) ([]byte, bool) { return c.cache.Get(key) }
func (c *BlockCache) Insert(key CacheKey, data []byte) { c.cache.Insert(key, data) }
