package content_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/content"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage/mem"
	"github.com/kenneth/sealedfs/volume"
)

func newTestVolume(t *testing.T) *volume.Volume {
	t.Helper()
	backend := mem.New()
	ctx := context.Background()
	require.NoError(t, backend.Init(ctx))
	require.NoError(t, backend.Open(ctx, false))

	key, err := crypto.RandomKey()
	require.NoError(t, err)
	return volume.New(backend, crypto.CipherXChaCha20Poly1305, key, nil)
}

func mustEID(t *testing.T) eid.ID {
	t.Helper()
	id, err := eid.New()
	require.NoError(t, err)
	return id
}

func TestSegmentAppendRefDerefLifecycle(t *testing.T) {
	seg := content.NewSegment(mustEID(t), mustEID(t))

	idx, ok := seg.Append(0, 4096)
	require.True(t, ok)
	require.Equal(t, 0, idx)
	require.True(t, seg.IsOrphan())

	require.NoError(t, seg.RefChunk(idx))
	require.False(t, seg.IsOrphan())

	require.NoError(t, seg.DerefChunk(idx))
	require.True(t, seg.IsOrphan())

	require.Error(t, seg.DerefChunk(idx))
}

func TestSegmentRejectsPastCapacity(t *testing.T) {
	seg := content.NewSegment(mustEID(t), mustEID(t))
	for i := 0; i < content.MaxChunksPerSegment; i++ {
		_, ok := seg.Append(int64(i), 1)
		require.True(t, ok)
	}
	_, ok := seg.Append(int64(content.MaxChunksPerSegment), 1)
	require.False(t, ok)
}

func TestSegmentShrinkableThreshold(t *testing.T) {
	seg := content.NewSegment(mustEID(t), mustEID(t))
	for i := 0; i < 8; i++ {
		idx, ok := seg.Append(int64(i), 1)
		require.True(t, ok)
		if i == 0 {
			require.NoError(t, seg.RefChunk(idx))
		}
	}
	require.True(t, seg.Shrinkable())
}

func TestSegmentSaveLoadRoundTrip(t *testing.T) {
	vol := newTestVolume(t)
	ctx := context.Background()

	seg := content.NewSegment(mustEID(t), mustEID(t))
	idx, ok := seg.Append(128, 4096)
	require.True(t, ok)
	require.NoError(t, seg.RefChunk(idx))
	require.NoError(t, seg.Save(ctx, vol))

	loaded, err := content.LoadSegment(ctx, vol, seg.ID)
	require.NoError(t, err)
	require.Equal(t, seg.DataID, loaded.DataID)
	require.Equal(t, seg.Offsets, loaded.Offsets)
	require.Equal(t, seg.Lens, loaded.Lens)
	require.Equal(t, seg.RefCnts, loaded.RefCnts)
	require.Equal(t, seg.Used, loaded.Used)
}

func TestDeleteSegmentRemovesMetadataAndData(t *testing.T) {
	vol := newTestVolume(t)
	ctx := context.Background()

	seg := content.NewSegment(mustEID(t), mustEID(t))
	require.NoError(t, seg.Save(ctx, vol))

	require.NoError(t, content.DeleteSegment(ctx, vol, seg))

	_, err := content.LoadSegment(ctx, vol, seg.ID)
	require.Error(t, err)
}
