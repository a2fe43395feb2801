package volume_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	sealedfs "github.com/kenneth/sealedfs"
)

func TestWalBlobRoundTrip(t *testing.T) {
	vol := newTestVolume(t)
	ctx := context.Background()
	id := mustEID(t)

	require.NoError(t, vol.WriteWalBlob(ctx, id, []byte("wal entry payload")))

	got, err := vol.ReadWalBlob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "wal entry payload", string(got))

	require.NoError(t, vol.DeleteWalBlob(ctx, id))
	_, err = vol.ReadWalBlob(ctx, id)
	require.True(t, sealedfs.Is(err, sealedfs.KindNotFound))
}
