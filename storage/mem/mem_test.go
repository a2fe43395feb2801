package mem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage"
)

func TestSuperBlockRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.Init(ctx))

	_, err := b.GetSuperBlock(ctx, 0)
	require.Error(t, err)

	require.NoError(t, b.PutSuperBlock(ctx, 0, []byte("arm-left")))
	require.NoError(t, b.PutSuperBlock(ctx, 1, []byte("arm-right")))

	got0, err := b.GetSuperBlock(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("arm-left"), got0)

	got1, err := b.GetSuperBlock(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("arm-right"), got1)
}

func TestBlockRoundTripAndSparseRead(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.Init(ctx))

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
	b := New()
	require.NoError(t, b.Init(ctx))

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
	b := New()
	require.NoError(t, b.Init(ctx))
	require.NoError(t, b.Close(ctx))

	require.NoError(t, b.Connect(ctx, false))
	err := b.Connect(ctx, false)
	require.Error(t, err)
	require.True(t, storage.BlkSize > 0)

	require.NoError(t, b.Connect(ctx, true))
}
