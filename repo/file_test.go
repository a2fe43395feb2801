package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	sealedfs "github.com/kenneth/sealedfs"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	fileID, err := r.CreateFile(ctx, r.RootID(), "doc.bin", 4)
	require.NoError(t, err)

	want := []byte{0x01, 0x02, 0x03, 0x04}
	v, err := r.WriteFile(ctx, fileID, want)
	require.NoError(t, err)
	require.EqualValues(t, 1, v.Num)
	require.EqualValues(t, len(want), v.Len)

	rd, err := r.OpenForRead(ctx, fileID)
	require.NoError(t, err)
	require.Equal(t, int64(len(want)), rd.Len())

	got := make([]byte, len(want))
	n, err := rd.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, want, got[:n])
}

func TestSecondWriteCreatesNewVersion(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	fileID, err := r.CreateFile(ctx, r.RootID(), "doc.bin", 4)
	require.NoError(t, err)

	_, err = r.WriteFile(ctx, fileID, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	_, err = r.WriteFile(ctx, fileID, []byte{0x04, 0x05, 0x06, 0x07, 0x08})
	require.NoError(t, err)

	history, err := r.History(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.EqualValues(t, 2, history[1].Num)

	rd, err := r.OpenForRead(ctx, fileID)
	require.NoError(t, err)
	got := make([]byte, rd.Len())
	n, err := rd.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{0x04, 0x05, 0x06, 0x07, 0x08}, got[:n])
}

func TestWritesBeyondVersionLimitEvictOldest(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	fileID, err := r.CreateFile(ctx, r.RootID(), "ring.bin", 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := r.WriteFile(ctx, fileID, []byte{byte(i)})
		require.NoError(t, err)
	}

	history, err := r.History(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.EqualValues(t, 2, history[0].Num)
	require.EqualValues(t, 3, history[1].Num)
}

func TestSetLenShrinksToExactPrefix(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	fileID, err := r.CreateFile(ctx, r.RootID(), "trim.bin", 4)
	require.NoError(t, err)
	_, err = r.WriteFile(ctx, fileID, []byte{0x01, 0x02, 0x03, 0x04, 0x05})
	require.NoError(t, err)

	_, err = r.SetLen(ctx, fileID, 3)
	require.NoError(t, err)

	rd, err := r.OpenForRead(ctx, fileID)
	require.NoError(t, err)
	got := make([]byte, rd.Len())
	n, err := rd.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, got[:n])
}

func TestSetLenGrowsWithZeroFill(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	fileID, err := r.CreateFile(ctx, r.RootID(), "grow.bin", 4)
	require.NoError(t, err)
	_, err = r.WriteFile(ctx, fileID, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	_, err = r.SetLen(ctx, fileID, 5)
	require.NoError(t, err)

	rd, err := r.OpenForRead(ctx, fileID)
	require.NoError(t, err)
	got := make([]byte, rd.Len())
	n, err := rd.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x00, 0x00}, got[:n])
}

func TestOpenForReadOnEmptyFileIsZeroLength(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	fileID, err := r.CreateFile(ctx, r.RootID(), "empty.bin", 4)
	require.NoError(t, err)

	rd, err := r.OpenForRead(ctx, fileID)
	require.NoError(t, err)
	require.Zero(t, rd.Len())
}

func TestWriteFileRejectsDirectoryTarget(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	dirID, err := r.CreateDir(ctx, r.RootID(), "adir")
	require.NoError(t, err)

	_, err = r.WriteFile(ctx, dirID, []byte("x"))
	require.Error(t, err)
	require.True(t, sealedfs.Is(err, sealedfs.KindNotFile))
}
