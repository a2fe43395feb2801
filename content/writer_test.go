package content_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/content"
	"github.com/kenneth/sealedfs/eid"
)

func TestSegmentWriterProducesReadableContent(t *testing.T) {
	vol := newTestVolume(t)
	ctx := context.Background()
	chunkMap := content.NewChunkMap()

	w, err := content.NewSegmentWriter(ctx, vol, chunkMap, func() (eid.ID, error) { return mustEID(t), nil }, 0)
	require.NoError(t, err)

	data := make([]byte, 3*content.MaxChunk)
	for i := range data {
		data[i] = byte(i * 7 % 256)
	}
	_, err = w.Write(data)
	require.NoError(t, err)

	c, err := w.Finish([32]byte{1})
	require.NoError(t, err)
	require.NotEmpty(t, c.Ents.Ents)
	require.EqualValues(t, len(data), c.Ents.Len)
}

func TestSegmentWriterDedupsRepeatedContent(t *testing.T) {
	vol := newTestVolume(t)
	ctx := context.Background()
	chunkMap := content.NewChunkMap()

	idgen := func() (eid.ID, error) { return mustEID(t), nil }
	w, err := content.NewSegmentWriter(ctx, vol, chunkMap, idgen, 0)
	require.NoError(t, err)

	block := make([]byte, content.MinChunk*2)
	for i := range block {
		block[i] = byte(i % 251)
	}
	_, err = w.Write(block)
	require.NoError(t, err)
	_, err = w.Write(block) // identical bytes again: should dedup against the chunk map
	require.NoError(t, err)

	c, err := w.Finish([32]byte{2})
	require.NoError(t, err)
	require.EqualValues(t, 2*len(block), c.Ents.Len)
}

func TestSegmentWriterRollsOverAtChunkCap(t *testing.T) {
	vol := newTestVolume(t)
	ctx := context.Background()
	chunkMap := content.NewChunkMap()

	idgen := func() (eid.ID, error) { return mustEID(t), nil }
	w, err := content.NewSegmentWriter(ctx, vol, chunkMap, idgen, 0)
	require.NoError(t, err)

	data := make([]byte, (content.MaxChunksPerSegment+10)*content.MaxChunk)
	x := uint32(1)
	for i := range data {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		data[i] = byte(x)
	}
	_, err = w.Write(data)
	require.NoError(t, err)

	c, err := w.Finish([32]byte{3})
	require.NoError(t, err)

	segs := make(map[interface{}]bool)
	for _, ent := range c.Ents.Ents {
		segs[ent.SegID] = true
	}
	require.Greater(t, len(segs), 1)
}

func TestLinkAndUnlinkRoundTripRefcounts(t *testing.T) {
	vol := newTestVolume(t)
	ctx := context.Background()
	chunkMap := content.NewChunkMap()
	index := content.NewSegmentIndex()

	idgen := func() (eid.ID, error) { return mustEID(t), nil }
	w, err := content.NewSegmentWriter(ctx, vol, chunkMap, idgen, 0)
	require.NoError(t, err)

	data := make([]byte, content.MinChunk)
	_, err = w.Write(data)
	require.NoError(t, err)
	c, err := w.Finish([32]byte{4})
	require.NoError(t, err)

	// The writer already ref'd each chunk once on first write; Link
	// simulates a second reference (e.g. a hardlink-like alias).
	require.NoError(t, content.Link(ctx, vol, index, c))

	seg, err := content.LoadSegment(ctx, vol, c.Ents.Ents[0].SegID)
	require.NoError(t, err)
	require.EqualValues(t, 2, seg.RefCnts[0])

	_, err = content.Unlink(ctx, vol, chunkMap, index, c)
	require.NoError(t, err)
	seg, err = content.LoadSegment(ctx, vol, c.Ents.Ents[0].SegID)
	require.NoError(t, err)
	require.EqualValues(t, 1, seg.RefCnts[0])
}
