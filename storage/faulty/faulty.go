// Package faulty decorates another storage.Backend with deterministic
// fault injection, used to drive the crash-safety properties in spec.md
// §8 (property 7, scenario S7) without needing to actually kill a process
// mid-commit.
package faulty

import (
	"context"
	"fmt"
	"sync"

	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage"
)

// Point identifies a backend call that can be made to fail.
type Point string

const (
	PointPutBlocks     Point = "put_blocks"
	PointPutAddress    Point = "put_address"
	PointPutWal        Point = "put_wal"
	PointPutSuperBlock Point = "put_super_block"
	PointDelBlocks     Point = "del_blocks"
	PointDelAddress    Point = "del_address"
	PointFlush         Point = "flush"
)

// Backend wraps an inner storage.Backend and fails the Nth call to a
// configured Point with the configured error.
type Backend struct {
	inner storage.Backend

	mu      sync.Mutex
	counts  map[Point]int64
	trigger map[Point]trigger
}

type trigger struct {
	atCall int64
	err    error
}

// New wraps inner with no faults configured; call FailAt to arm one.
func New(inner storage.Backend) *Backend {
	return &Backend{
		inner:   inner,
		counts:  make(map[Point]int64),
		trigger: make(map[Point]trigger),
	}
}

// FailAt arms the backend to fail the n-th (1-indexed) call to point with
// err. Only one trigger per point is supported; re-arming replaces it.
func (b *Backend) FailAt(point Point, n int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("faulty: injected failure at %s call #%d", point, n)
	}
	b.trigger[point] = trigger{atCall: n, err: err}
}

// Reset clears all armed faults and call counters.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = make(map[Point]int64)
	b.trigger = make(map[Point]trigger)
}

// check increments the counter for point and returns the armed error, if
// this call is the one that should fail.
func (b *Backend) check(point Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[point]++
	if t, ok := b.trigger[point]; ok && b.counts[point] == t.atCall {
		return t.err
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context) (bool, error) { return b.inner.Exists(ctx) }
func (b *Backend) Connect(ctx context.Context, force bool) error {
	return b.inner.Connect(ctx, force)
}
func (b *Backend) Init(ctx context.Context) error        { return b.inner.Init(ctx) }
func (b *Backend) Open(ctx context.Context, f bool) error { return b.inner.Open(ctx, f) }

func (b *Backend) GetSuperBlock(ctx context.Context, suffix int) ([]byte, error) {
	return b.inner.GetSuperBlock(ctx, suffix)
}

func (b *Backend) PutSuperBlock(ctx context.Context, suffix int, data []byte) error {
	if err := b.check(PointPutSuperBlock); err != nil {
		return err
	}
	return b.inner.PutSuperBlock(ctx, suffix, data)
}

func (b *Backend) GetWal(ctx context.Context, id eid.ID) ([]byte, error) {
	return b.inner.GetWal(ctx, id)
}

func (b *Backend) PutWal(ctx context.Context, id eid.ID, data []byte) error {
	if err := b.check(PointPutWal); err != nil {
		return err
	}
	return b.inner.PutWal(ctx, id, data)
}

func (b *Backend) DelWal(ctx context.Context, id eid.ID) error { return b.inner.DelWal(ctx, id) }

func (b *Backend) GetAddress(ctx context.Context, id eid.ID) ([]byte, error) {
	return b.inner.GetAddress(ctx, id)
}

func (b *Backend) PutAddress(ctx context.Context, id eid.ID, data []byte) error {
	if err := b.check(PointPutAddress); err != nil {
		return err
	}
	return b.inner.PutAddress(ctx, id, data)
}

func (b *Backend) DelAddress(ctx context.Context, id eid.ID) error {
	if err := b.check(PointDelAddress); err != nil {
		return err
	}
	return b.inner.DelAddress(ctx, id)
}

func (b *Backend) GetBlocks(ctx context.Context, dst []byte, span storage.BlockSpan) error {
	return b.inner.GetBlocks(ctx, dst, span)
}

func (b *Backend) PutBlocks(ctx context.Context, span storage.BlockSpan, src []byte) error {
	if err := b.check(PointPutBlocks); err != nil {
		return err
	}
	return b.inner.PutBlocks(ctx, span, src)
}

func (b *Backend) DelBlocks(ctx context.Context, span storage.BlockSpan) error {
	if err := b.check(PointDelBlocks); err != nil {
		return err
	}
	return b.inner.DelBlocks(ctx, span)
}

func (b *Backend) Flush(ctx context.Context) error {
	if err := b.check(PointFlush); err != nil {
		return err
	}
	return b.inner.Flush(ctx)
}

func (b *Backend) Destroy(ctx context.Context) error { return b.inner.Destroy(ctx) }
func (b *Backend) Close(ctx context.Context) error   { return b.inner.Close(ctx) }

// CallCount returns the number of times point has been invoked so far.
func (b *Backend) CallCount(point Point) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[point]
}
