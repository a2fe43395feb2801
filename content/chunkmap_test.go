package content_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/content"
)

func TestChunkMapInsertLookupRemove(t *testing.T) {
	m := content.NewChunkMap()
	hash := [32]byte{1, 2, 3}

	_, ok := m.Lookup(hash)
	require.False(t, ok)

	ref := content.ChunkRef{SegmentID: mustEID(t), Index: 5}
	m.Insert(hash, ref)

	got, ok := m.Lookup(hash)
	require.True(t, ok)
	require.Equal(t, ref, got)

	m.Remove(hash)
	_, ok = m.Lookup(hash)
	require.False(t, ok)
}

func TestChunkMapSaveLoadRoundTrip(t *testing.T) {
	vol := newTestVolume(t)
	ctx := context.Background()

	m := content.NewChunkMap()
	hash1 := [32]byte{9, 9, 9}
	hash2 := [32]byte{8, 8, 8}
	ref1 := content.ChunkRef{SegmentID: mustEID(t), Index: 0}
	ref2 := content.ChunkRef{SegmentID: mustEID(t), Index: 3}
	m.Insert(hash1, ref1)
	m.Insert(hash2, ref2)

	require.NoError(t, m.Save(ctx, vol))

	loaded, err := content.LoadChunkMap(ctx, vol)
	require.NoError(t, err)

	got1, ok := loaded.Lookup(hash1)
	require.True(t, ok)
	require.Equal(t, ref1, got1)

	got2, ok := loaded.Lookup(hash2)
	require.True(t, ok)
	require.Equal(t, ref2, got2)
}

func TestLoadChunkMapReturnsEmptyWhenNeverSaved(t *testing.T) {
	vol := newTestVolume(t)
	ctx := context.Background()

	m, err := content.LoadChunkMap(ctx, vol)
	require.NoError(t, err)
	_, ok := m.Lookup([32]byte{1})
	require.False(t, ok)
}
