package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/config"
	"github.com/kenneth/sealedfs/repo"
)

func newTestRepo(t *testing.T) *repo.Repo {
	t.Helper()
	ctx := context.Background()
	opts := config.Default()
	opts.URI = "mem://"
	r, err := repo.Init(ctx, opts, []byte("correct horse battery staple"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(ctx) })
	return r
}

func TestInitRejectsExistingRepository(t *testing.T) {
	ctx := context.Background()
	opts := config.Default()
	opts.URI = "file://" + t.TempDir()

	r, err := repo.Init(ctx, opts, []byte("pw"), nil)
	require.NoError(t, err)
	require.NoError(t, r.Close(ctx))

	_, err = repo.Init(ctx, opts, []byte("pw"), nil)
	require.Error(t, err)
}

func TestOpenRoundTripsAcrossClose(t *testing.T) {
	ctx := context.Background()
	opts := config.Default()
	opts.URI = "file://" + t.TempDir()
	password := []byte("hunter2")

	r, err := repo.Init(ctx, opts, password, nil)
	require.NoError(t, err)
	root := r.RootID()
	fileID, err := r.CreateFile(ctx, root, "greeting.txt", 4)
	require.NoError(t, err)
	_, err = r.WriteFile(ctx, fileID, []byte("hello"))
	require.NoError(t, err)
	require.NoError(t, r.Close(ctx))

	r2, err := repo.Open(ctx, opts, password, false, nil)
	require.NoError(t, err)
	defer r2.Close(ctx)

	entry, err := r2.Lookup(ctx, r2.RootID(), "greeting.txt")
	require.NoError(t, err)

	rd, err := r2.OpenForRead(ctx, entry.ID)
	require.NoError(t, err)
	buf := make([]byte, rd.Len())
	n, err := rd.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestOpenWrongPasswordFails(t *testing.T) {
	ctx := context.Background()
	opts := config.Default()
	opts.URI = "file://" + t.TempDir()

	r, err := repo.Init(ctx, opts, []byte("right"), nil)
	require.NoError(t, err)
	require.NoError(t, r.Close(ctx))

	_, err = repo.Open(ctx, opts, []byte("wrong"), false, nil)
	require.Error(t, err)
}

func TestInfoReportsActiveSettings(t *testing.T) {
	r := newTestRepo(t)
	info := r.Info()
	require.Equal(t, "mem://", info.URI)
	require.False(t, info.Compress)
}

func TestResetPasswordAllowsReopenUnderNewPassword(t *testing.T) {
	ctx := context.Background()
	opts := config.Default()
	opts.URI = "file://" + t.TempDir()
	oldPw, newPw := []byte("old-pw"), []byte("new-pw")

	r, err := repo.Init(ctx, opts, oldPw, nil)
	require.NoError(t, err)
	root := r.RootID()
	_, err = r.CreateDir(ctx, root, "docs")
	require.NoError(t, err)

	require.NoError(t, r.ResetPassword(ctx, oldPw, newPw, opts.Cost()))
	require.NoError(t, r.Close(ctx))

	_, err = repo.Open(ctx, opts, oldPw, false, nil)
	require.Error(t, err)

	r2, err := repo.Open(ctx, opts, newPw, false, nil)
	require.NoError(t, err)
	defer r2.Close(ctx)

	_, err = r2.Lookup(ctx, r2.RootID(), "docs")
	require.NoError(t, err)
}
