package faulty

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/storage"
	"github.com/kenneth/sealedfs/storage/mem"
)

func TestFailAtTriggersOnNthCall(t *testing.T) {
	ctx := context.Background()
	b := New(mem.New())
	require.NoError(t, b.Init(ctx))
	b.FailAt(PointPutBlocks, 2, nil)

	span := storage.BlockSpan{Begin: 0, Cnt: 1}
	src := make([]byte, span.Len())

	require.NoError(t, b.PutBlocks(ctx, span, src)) // call #1 succeeds
	err := b.PutBlocks(ctx, span, src)               // call #2 fails
	require.Error(t, err)
	require.NoError(t, b.PutBlocks(ctx, span, src)) // call #3 succeeds again
}

func TestResetClearsTriggersAndCounters(t *testing.T) {
	ctx := context.Background()
	b := New(mem.New())
	require.NoError(t, b.Init(ctx))
	b.FailAt(PointPutWal, 1, nil)
	b.Reset()

	require.NoError(t, b.PutWal(ctx, mustEID(t), []byte("x")))
	require.EqualValues(t, 1, b.CallCount(PointPutWal))
}

func mustEID(t *testing.T) (id [32]byte) {
	t.Helper()
	return id
}
