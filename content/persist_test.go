package content_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/content"
	"github.com/kenneth/sealedfs/internal/testutil"
)

func TestContentSaveLoadRoundTrips(t *testing.T) {
	vol := newTestVolume(t)
	ctx := context.Background()

	want := &content.Content{
		ID:   mustEID(t),
		Hash: [32]byte{9, 9, 9},
	}
	want.Ents.Append(mustEID(t), content.Span{Begin: 0, End: 1, Len: 4096})

	require.NoError(t, want.Save(ctx, vol))

	got, err := content.LoadContent(ctx, vol, want.ID)
	require.NoError(t, err)
	testutil.RequireNoDiff(t, want, got)
}

func TestLoadContentAfterDeleteIsNotFound(t *testing.T) {
	vol := newTestVolume(t)
	ctx := context.Background()

	c := &content.Content{ID: mustEID(t)}
	require.NoError(t, c.Save(ctx, vol))
	require.NoError(t, content.DeleteContent(ctx, vol, c.ID))

	_, err := content.LoadContent(ctx, vol, c.ID)
	require.Error(t, err)
}
