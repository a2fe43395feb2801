package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repo.sqlite")
	b := New(path)
	require.NoError(t, b.Init(context.Background()))
	t.Cleanup(func() { b.Close(context.Background()) })
	return b
}

func TestSuperBlockRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	_, err := b.GetSuperBlock(ctx, 0)
	require.Error(t, err)

	require.NoError(t, b.PutSuperBlock(ctx, 0, []byte("arm-left")))
	require.NoError(t, b.PutSuperBlock(ctx, 1, []byte("arm-right")))
	require.NoError(t, b.PutSuperBlock(ctx, 0, []byte("arm-left-2"))) // overwrite

	got0, err := b.GetSuperBlock(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("arm-left-2"), got0)
}

func TestBlockRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	span := storage.BlockSpan{Begin: 10, Cnt: 2}
	src := make([]byte, span.Len())
	for i := range src {
		src[i] = byte(i)
	}
	require.NoError(t, b.PutBlocks(ctx, span, src))

	dst := make([]byte, span.Len())
	require.NoError(t, b.GetBlocks(ctx, dst, span))
	require.Equal(t, src, dst)

	require.NoError(t, b.DelBlocks(ctx, span))
	dst2 := make([]byte, span.Len())
	require.NoError(t, b.GetBlocks(ctx, dst2, span))
	for _, bb := range dst2 {
		require.Zero(t, bb)
	}
}

func TestWalAndAddressRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	id, err := eid.New()
	require.NoError(t, err)

	require.NoError(t, b.PutWal(ctx, id, []byte("wal-entry")))
	got, err := b.GetWal(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []byte("wal-entry"), got)

	require.NoError(t, b.DelWal(ctx, id))
	_, err = b.GetWal(ctx, id)
	require.Error(t, err)

	require.NoError(t, b.PutAddress(ctx, id, []byte("addr")))
	got, err = b.GetAddress(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []byte("addr"), got)
}

func TestConnectRejectsDoubleOpenWithoutForce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "repo.sqlite")
	b := New(path)
	require.NoError(t, b.Init(ctx))

	other := New(path)
	err := other.Connect(ctx, false)
	require.Error(t, err)

	require.NoError(t, other.Connect(ctx, true))
}

func TestDestroyRemovesFile(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.PutSuperBlock(ctx, 0, []byte("x")))

	require.NoError(t, b.Destroy(ctx))
}
