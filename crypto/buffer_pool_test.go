package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferPoolBuffersAreZeroedOnReturn(t *testing.T) {
	p := NewBufferPool(8192, 131072)

	b := p.GetBlock()
	b = append(b, []byte("secret-material")...)
	p.PutBlock(b)

	again := p.GetBlock()
	full := again[:cap(again)]
	for _, bb := range full {
		require.Zero(t, bb)
	}
}

func TestBufferPoolRespectsSizeClasses(t *testing.T) {
	p := NewBufferPool(8192, 131072)

	require.GreaterOrEqual(t, cap(p.GetBlock()), 8192)
	require.GreaterOrEqual(t, cap(p.GetFrame()), 131072)
	require.GreaterOrEqual(t, cap(p.GetSmall()), 32)
}
