package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	sealedfs "github.com/kenneth/sealedfs"
)

func TestCreateDirAndLookup(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	dirID, err := r.CreateDir(ctx, r.RootID(), "photos")
	require.NoError(t, err)

	entry, err := r.Lookup(ctx, r.RootID(), "photos")
	require.NoError(t, err)
	require.Equal(t, dirID, entry.ID)
}

func TestCreateDirRejectsDuplicateName(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.CreateDir(ctx, r.RootID(), "photos")
	require.NoError(t, err)

	_, err = r.CreateDir(ctx, r.RootID(), "photos")
	require.Error(t, err)
	require.True(t, sealedfs.Is(err, sealedfs.KindAlreadyExists))
}

func TestListReturnsEveryChild(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.CreateDir(ctx, r.RootID(), "a")
	require.NoError(t, err)
	_, err = r.CreateDir(ctx, r.RootID(), "b")
	require.NoError(t, err)
	_, err = r.CreateFile(ctx, r.RootID(), "c.txt", 0)
	require.NoError(t, err)

	entries, err := r.List(ctx, r.RootID())
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestGlobMatchesWildcard(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.CreateFile(ctx, r.RootID(), "report-jan.csv", 0)
	require.NoError(t, err)
	_, err = r.CreateFile(ctx, r.RootID(), "report-feb.csv", 0)
	require.NoError(t, err)
	_, err = r.CreateFile(ctx, r.RootID(), "notes.txt", 0)
	require.NoError(t, err)

	matches, err := r.Glob(ctx, r.RootID(), "report-*.csv")
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

func TestRemoveRefusesNonEmptyDirectory(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	dirID, err := r.CreateDir(ctx, r.RootID(), "archive")
	require.NoError(t, err)
	_, err = r.CreateFile(ctx, dirID, "keep.txt", 0)
	require.NoError(t, err)

	err = r.Remove(ctx, r.RootID(), "archive")
	require.Error(t, err)
	require.True(t, sealedfs.Is(err, sealedfs.KindNotEmpty))
}

func TestRemoveDeletesEmptyDirectory(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.CreateDir(ctx, r.RootID(), "scratch")
	require.NoError(t, err)
	require.NoError(t, r.Remove(ctx, r.RootID(), "scratch"))

	_, err = r.Lookup(ctx, r.RootID(), "scratch")
	require.Error(t, err)
	require.True(t, sealedfs.Is(err, sealedfs.KindNotFound))
}

func TestRemoveUnlinksFileContent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	fileID, err := r.CreateFile(ctx, r.RootID(), "note.txt", 0)
	require.NoError(t, err)
	_, err = r.WriteFile(ctx, fileID, []byte("ephemeral"))
	require.NoError(t, err)

	require.NoError(t, r.Remove(ctx, r.RootID(), "note.txt"))

	_, err = r.Lookup(ctx, r.RootID(), "note.txt")
	require.Error(t, err)
}

func TestCreateDirUnderFileParentFails(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	fileID, err := r.CreateFile(ctx, r.RootID(), "leaf.txt", 0)
	require.NoError(t, err)

	_, err = r.CreateDir(ctx, fileID, "sub")
	require.Error(t, err)
	require.True(t, sealedfs.Is(err, sealedfs.KindNotDir))
}
