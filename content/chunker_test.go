package content_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/content"
)

func TestChunkerProducesBoundedChunks(t *testing.T) {
	var chunks [][]byte
	c, err := content.New(func(chunk []byte) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)

	data := make([]byte, 10*content.MaxChunk)
	for i := range data {
		data[i] = byte(i * 37 % 256)
	}

	_, err = c.Write(data)
	require.NoError(t, err)
	require.NoError(t, c.Flush())

	var total int
	for _, chunk := range chunks {
		require.LessOrEqual(t, len(chunk), content.MaxChunk)
		total += len(chunk)
	}
	require.Equal(t, len(data), total)
}

func TestChunkerFlushEmitsShortFinalChunk(t *testing.T) {
	var chunks [][]byte
	c, err := content.New(func(chunk []byte) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)

	data := make([]byte, content.MinChunk/2)
	_, err = c.Write(data)
	require.NoError(t, err)
	require.Empty(t, chunks)

	require.NoError(t, c.Flush())
	require.Len(t, chunks, 1)
	require.Equal(t, len(data), len(chunks[0]))
}

func TestChunkerBoundariesDeterministicForRepeatedRuns(t *testing.T) {
	data := make([]byte, 5*content.MaxChunk)
	for i := range data {
		data[i] = byte(i * 13 % 256)
	}

	run := func(c *content.Chunker) []int {
		var lens []int
		c.SetEmit(func(chunk []byte) error {
			lens = append(lens, len(chunk))
			return nil
		})
		_, err := c.Write(data)
		require.NoError(t, err)
		require.NoError(t, c.Flush())
		return lens
	}

	c, err := content.New(nil)
	require.NoError(t, err)

	first := run(c)
	second := run(c)
	require.Equal(t, first, second)
	require.NotEmpty(t, first)
}
