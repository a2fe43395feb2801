package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/config"
	"github.com/kenneth/sealedfs/storage/faulty"
)

// TestCrashMidCommitLeavesOldVersionIntact drives spec.md §8 scenario S7:
// a write whose commit never durably reaches the WAL must leave the
// repository in exactly its pre-write state after recovery, never a mix
// of old and new content.
func TestCrashMidCommitLeavesOldVersionIntact(t *testing.T) {
	ctx := context.Background()
	opts := config.Default()
	opts.URI = "faulty://?inner=file://" + t.TempDir()
	password := []byte("crash-test-pw")

	r, err := Init(ctx, opts, password, nil)
	require.NoError(t, err)
	fileID, err := r.CreateFile(ctx, r.RootID(), "ledger.bin", 4)
	require.NoError(t, err)
	_, err = r.WriteFile(ctx, fileID, []byte("v1"))
	require.NoError(t, err)
	require.NoError(t, r.Close(ctx))

	r2, err := Open(ctx, opts, password, false, nil)
	require.NoError(t, err)
	fb, ok := r2.backend.(*faulty.Backend)
	require.True(t, ok, "faulty:// dial must produce a *faulty.Backend")
	fb.FailAt(faulty.PointPutWal, fb.CallCount(faulty.PointPutWal)+1, nil)

	_, err = r2.WriteFile(ctx, fileID, []byte("v2-corrupt"))
	require.Error(t, err, "injected fault must surface as a failed write")

	// No clean Close here: the injected fault stands in for a crash before
	// the WAL record for the second write ever reached durable storage, so
	// nothing is left behind for recovery to redo or roll back.
	r3, err := Open(ctx, opts, password, true, nil)
	require.NoError(t, err)
	defer r3.Close(ctx)

	history, err := r3.History(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, history, 1, "the failed write must not have appended a version")

	rd, err := r3.OpenForRead(ctx, fileID)
	require.NoError(t, err)
	got := make([]byte, rd.Len())
	n, err := rd.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, "v1", string(got[:n]), "recovered content must be exactly the last committed version")
}
