// Package mem implements storage.Backend entirely in process memory.
// mem:// repositories are volatile: closing the process discards them.
package mem

import (
	"context"
	"sync"

	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage"
)

// Backend is an in-memory storage.Backend. The zero value is not usable;
// construct with New.
type Backend struct {
	mu sync.RWMutex

	connected bool
	destroyed bool

	superBlocks [2][]byte
	wal         map[eid.ID][]byte
	address     map[eid.ID][]byte
	blocks      map[uint64][]byte // block index -> BlkSize bytes
}

// New creates an empty, unconnected in-memory backend.
func New() *Backend {
	return &Backend{
		wal:     make(map[eid.ID][]byte),
		address: make(map[eid.ID][]byte),
		blocks:  make(map[uint64][]byte),
	}
}

func (b *Backend) Exists(ctx context.Context) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.superBlocks[0] != nil || b.superBlocks[1] != nil, nil
}

func (b *Backend) Connect(ctx context.Context, force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected && !force {
		return storage.ErrRepoOpened("mem.Connect")
	}
	b.connected = true
	return nil
}

func (b *Backend) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.superBlocks[0] != nil || b.superBlocks[1] != nil {
		return storage.ErrRepoExists("mem.Init")
	}
	b.connected = true
	return nil
}

func (b *Backend) Open(ctx context.Context, force bool) error {
	return b.Connect(ctx, force)
}

func (b *Backend) GetSuperBlock(ctx context.Context, suffix int) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if suffix < 0 || suffix > 1 || b.superBlocks[suffix] == nil {
		return nil, storage.ErrNotFound("mem.GetSuperBlock")
	}
	out := make([]byte, len(b.superBlocks[suffix]))
	copy(out, b.superBlocks[suffix])
	return out, nil
}

func (b *Backend) PutSuperBlock(ctx context.Context, suffix int, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if suffix < 0 || suffix > 1 {
		return storage.ErrInvalidURI("mem.PutSuperBlock")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.superBlocks[suffix] = cp
	return nil
}

func (b *Backend) GetWal(ctx context.Context, id eid.ID) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.wal[id]
	if !ok {
		return nil, storage.ErrNotFound("mem.GetWal")
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (b *Backend) PutWal(ctx context.Context, id eid.ID, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.wal[id] = cp
	return nil
}

func (b *Backend) DelWal(ctx context.Context, id eid.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.wal, id)
	return nil
}

func (b *Backend) GetAddress(ctx context.Context, id eid.ID) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.address[id]
	if !ok {
		return nil, storage.ErrNotFound("mem.GetAddress")
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (b *Backend) PutAddress(ctx context.Context, id eid.ID, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.address[id] = cp
	return nil
}

func (b *Backend) DelAddress(ctx context.Context, id eid.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.address, id)
	return nil
}

func (b *Backend) GetBlocks(ctx context.Context, dst []byte, span storage.BlockSpan) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if int64(len(dst)) < span.Len() {
		return storage.ErrInvalidURI("mem.GetBlocks")
	}
	for i := uint32(0); i < span.Cnt; i++ {
		blk, ok := b.blocks[span.Begin+uint64(i)]
		off := int64(i) * storage.BlkSize
		if !ok {
			continue // never-written blocks read as zero, like a sparse file
		}
		copy(dst[off:off+storage.BlkSize], blk)
	}
	return nil
}

func (b *Backend) PutBlocks(ctx context.Context, span storage.BlockSpan, src []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int64(len(src)) < span.Len() {
		return storage.ErrInvalidURI("mem.PutBlocks")
	}
	for i := uint32(0); i < span.Cnt; i++ {
		off := int64(i) * storage.BlkSize
		blk := make([]byte, storage.BlkSize)
		copy(blk, src[off:off+storage.BlkSize])
		b.blocks[span.Begin+uint64(i)] = blk
	}
	return nil
}

func (b *Backend) DelBlocks(ctx context.Context, span storage.BlockSpan) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := uint32(0); i < span.Cnt; i++ {
		delete(b.blocks, span.Begin+uint64(i))
	}
	return nil
}

func (b *Backend) Flush(ctx context.Context) error { return nil }

func (b *Backend) Destroy(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.superBlocks = [2][]byte{}
	b.wal = make(map[eid.ID][]byte)
	b.address = make(map[eid.ID][]byte)
	b.blocks = make(map[uint64][]byte)
	b.destroyed = true
	return nil
}

func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

// BlockCount returns the number of block indices currently stored
// (DelBlocks removes them),
// used by tests that assert on storage growth (spec.md §8 scenario S6).
func (b *Backend) BlockCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blocks)
}
