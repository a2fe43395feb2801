// Package rediskv implements storage.Backend over Redis: every record
// (super-block, WAL, address, block) is one key. github.com/redis/go-redis/v9
// is the client; tests drive it against github.com/alicebob/miniredis/v2
// instead of a real server.
package rediskv

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage"
)

const (
	keyLock   = "sealedfs:lock"
	keyPrefix = "sealedfs:"
)

// Backend is a Redis-backed storage.Backend. The zero value is not
// usable; construct with New or NewWithClient.
type Backend struct {
	client *redis.Client
	locked bool
}

// New creates a backend connecting to a Redis server at addr (host:port).
func New(addr string) *Backend {
	return &Backend{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewWithClient wraps an already-configured client, used by tests to
// point at a miniredis instance.
func NewWithClient(c *redis.Client) *Backend {
	return &Backend{client: c}
}

func superKey(suffix int) string  { return keyPrefix + "sb:" + strconv.Itoa(suffix) }
func walKey(id eid.ID) string     { return keyPrefix + "wal:" + id.String() }
func addressKey(id eid.ID) string { return keyPrefix + "addr:" + id.String() }
func blockKey(idx uint64) string  { return keyPrefix + "blk:" + strconv.FormatUint(idx, 10) }

func (b *Backend) Exists(ctx context.Context) (bool, error) {
	n, err := b.client.Exists(ctx, superKey(0), superKey(1)).Result()
	if err != nil {
		return false, storage.WrapIO("rediskv.Exists", err)
	}
	return n > 0, nil
}

func (b *Backend) Connect(ctx context.Context, force bool) error {
	ok, err := b.client.SetNX(ctx, keyLock, "1", 0).Result()
	if err != nil {
		return storage.WrapIO("rediskv.Connect", err)
	}
	if !ok {
		if !force {
			return storage.ErrRepoOpened("rediskv.Connect")
		}
		if err := b.client.Set(ctx, keyLock, "1", 0).Err(); err != nil {
			return storage.WrapIO("rediskv.Connect", err)
		}
	}
	b.locked = true
	return nil
}

func (b *Backend) Init(ctx context.Context) error {
	exists, err := b.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return storage.ErrRepoExists("rediskv.Init")
	}
	return b.Connect(ctx, false)
}

func (b *Backend) Open(ctx context.Context, force bool) error {
	return b.Connect(ctx, force)
}

func (b *Backend) GetSuperBlock(ctx context.Context, suffix int) ([]byte, error) {
	data, err := b.client.Get(ctx, superKey(suffix)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound("rediskv.GetSuperBlock")
	}
	if err != nil {
		return nil, storage.WrapIO("rediskv.GetSuperBlock", err)
	}
	return data, nil
}

func (b *Backend) PutSuperBlock(ctx context.Context, suffix int, data []byte) error {
	if err := b.client.Set(ctx, superKey(suffix), data, 0).Err(); err != nil {
		return storage.WrapIO("rediskv.PutSuperBlock", err)
	}
	return nil
}

func (b *Backend) GetWal(ctx context.Context, id eid.ID) ([]byte, error) {
	data, err := b.client.Get(ctx, walKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound("rediskv.GetWal")
	}
	if err != nil {
		return nil, storage.WrapIO("rediskv.GetWal", err)
	}
	return data, nil
}

func (b *Backend) PutWal(ctx context.Context, id eid.ID, data []byte) error {
	if err := b.client.Set(ctx, walKey(id), data, 0).Err(); err != nil {
		return storage.WrapIO("rediskv.PutWal", err)
	}
	return nil
}

func (b *Backend) DelWal(ctx context.Context, id eid.ID) error {
	if err := b.client.Del(ctx, walKey(id)).Err(); err != nil {
		return storage.WrapIO("rediskv.DelWal", err)
	}
	return nil
}

func (b *Backend) GetAddress(ctx context.Context, id eid.ID) ([]byte, error) {
	data, err := b.client.Get(ctx, addressKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound("rediskv.GetAddress")
	}
	if err != nil {
		return nil, storage.WrapIO("rediskv.GetAddress", err)
	}
	return data, nil
}

func (b *Backend) PutAddress(ctx context.Context, id eid.ID, data []byte) error {
	if err := b.client.Set(ctx, addressKey(id), data, 0).Err(); err != nil {
		return storage.WrapIO("rediskv.PutAddress", err)
	}
	return nil
}

func (b *Backend) DelAddress(ctx context.Context, id eid.ID) error {
	if err := b.client.Del(ctx, addressKey(id)).Err(); err != nil {
		return storage.WrapIO("rediskv.DelAddress", err)
	}
	return nil
}

func (b *Backend) GetBlocks(ctx context.Context, dst []byte, span storage.BlockSpan) error {
	if int64(len(dst)) < span.Len() {
		return storage.ErrInvalidURI("rediskv.GetBlocks")
	}
	keys := make([]string, span.Cnt)
	for i := uint32(0); i < span.Cnt; i++ {
		keys[i] = blockKey(span.Begin + uint64(i))
	}
	vals, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return storage.WrapIO("rediskv.GetBlocks", err)
	}
	for i, v := range vals {
		off := int64(i) * storage.BlkSize
		if v == nil {
			continue // never-written block reads as zero
		}
		s, ok := v.(string)
		if !ok {
			return storage.WrapIO("rediskv.GetBlocks", errors.New("unexpected redis value type"))
		}
		copy(dst[off:off+storage.BlkSize], s)
	}
	return nil
}

func (b *Backend) PutBlocks(ctx context.Context, span storage.BlockSpan, src []byte) error {
	if int64(len(src)) < span.Len() {
		return storage.ErrInvalidURI("rediskv.PutBlocks")
	}
	pipe := b.client.Pipeline()
	for i := uint32(0); i < span.Cnt; i++ {
		off := int64(i) * storage.BlkSize
		pipe.Set(ctx, blockKey(span.Begin+uint64(i)), src[off:off+storage.BlkSize], 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storage.WrapIO("rediskv.PutBlocks", err)
	}
	return nil
}

func (b *Backend) DelBlocks(ctx context.Context, span storage.BlockSpan) error {
	keys := make([]string, span.Cnt)
	for i := uint32(0); i < span.Cnt; i++ {
		keys[i] = blockKey(span.Begin + uint64(i))
	}
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return storage.WrapIO("rediskv.DelBlocks", err)
	}
	return nil
}

func (b *Backend) Flush(ctx context.Context) error {
	return nil // every command above is already a synchronous round trip
}

func (b *Backend) Destroy(ctx context.Context) error {
	keys, err := b.client.Keys(ctx, keyPrefix+"*").Result()
	if err != nil {
		return storage.WrapIO("rediskv.Destroy", err)
	}
	if len(keys) > 0 {
		if err := b.client.Del(ctx, keys...).Err(); err != nil {
			return storage.WrapIO("rediskv.Destroy", err)
		}
	}
	return b.Close(ctx)
}

func (b *Backend) Close(ctx context.Context) error {
	if b.locked {
		_ = b.client.Del(ctx, keyLock).Err()
		b.locked = false
	}
	return nil
}
