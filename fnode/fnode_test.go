package fnode_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/cow"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/fnode"
	"github.com/kenneth/sealedfs/storage/mem"
	"github.com/kenneth/sealedfs/trans"
	"github.com/kenneth/sealedfs/volume"
	"github.com/kenneth/sealedfs/wal"
)

func mustEID(t *testing.T) eid.ID {
	t.Helper()
	id, err := eid.New()
	require.NoError(t, err)
	return id
}

func TestNewFileRejectsZeroVersionLimit(t *testing.T) {
	_, err := fnode.NewFile(0)
	require.Error(t, err)
}

func TestAddVersionEvictsOldestPastLimit(t *testing.T) {
	f, err := fnode.NewFile(2)
	require.NoError(t, err)

	c1, c2, c3 := mustEID(t), mustEID(t), mustEID(t)

	_, evicted, err := f.AddVersion(c1, 10, 1, [32]byte{})
	require.NoError(t, err)
	require.False(t, evicted)

	_, evicted, err = f.AddVersion(c2, 20, 2, [32]byte{})
	require.NoError(t, err)
	require.False(t, evicted)

	oldContent, evicted, err := f.AddVersion(c3, 30, 3, [32]byte{})
	require.NoError(t, err)
	require.True(t, evicted)
	require.Equal(t, c1, oldContent)

	require.Len(t, f.History(), 2)
	cur, ok := f.CurrentVersion()
	require.True(t, ok)
	require.Equal(t, c3, cur.ContentID)
	require.EqualValues(t, 3, cur.Num)
}

func TestAddVersionRejectsDirectory(t *testing.T) {
	d := fnode.NewDir()
	_, _, err := d.AddVersion(mustEID(t), 1, 1, [32]byte{})
	require.Error(t, err)
}

func TestDirectoryChildLifecycle(t *testing.T) {
	d := fnode.NewDir()
	child := fnode.DirEntry{ID: mustEID(t), Kind: fnode.KindFile, Name: "a.txt"}

	require.NoError(t, d.AddChild(child))
	require.Error(t, d.AddChild(child)) // duplicate name

	got, ok := d.FindChild("a.txt")
	require.True(t, ok)
	require.Equal(t, child, got)

	require.NoError(t, d.RemoveChild("a.txt"))
	require.True(t, d.IsEmpty())
	require.Error(t, d.RemoveChild("a.txt"))
}

func TestFindChildrenGlobMatchesWildcard(t *testing.T) {
	d := fnode.NewDir()
	require.NoError(t, d.AddChild(fnode.DirEntry{ID: mustEID(t), Kind: fnode.KindFile, Name: "report-jan.csv"}))
	require.NoError(t, d.AddChild(fnode.DirEntry{ID: mustEID(t), Kind: fnode.KindFile, Name: "report-feb.csv"}))
	require.NoError(t, d.AddChild(fnode.DirEntry{ID: mustEID(t), Kind: fnode.KindFile, Name: "notes.txt"}))

	matches := d.FindChildrenGlob("report-*.csv")
	require.Len(t, matches, 2)
}

func TestAddChildRejectsFile(t *testing.T) {
	f, err := fnode.NewFile(1)
	require.NoError(t, err)
	err = f.AddChild(fnode.DirEntry{Name: "x"})
	require.Error(t, err)
}

func newTestVolume(t *testing.T) *volume.Volume {
	t.Helper()
	backend := mem.New()
	ctx := context.Background()
	require.NoError(t, backend.Init(ctx))
	require.NoError(t, backend.Open(ctx, false))
	key, err := crypto.RandomKey()
	require.NoError(t, err)
	return volume.New(backend, crypto.CipherXChaCha20Poly1305, key, nil)
}

// TestFnodeWorksAsCowPayload exercises Fnode through the generic cow.Cow
// wrapper, confirming a directory's child-add survives a make_mut/commit
// round trip and that the committed copy is independently loadable.
func TestFnodeWorksAsCowPayload(t *testing.T) {
	vol := newTestVolume(t)
	mgr := trans.NewManager(vol, wal.NewQueue())
	ctx := context.Background()

	id := mustEID(t)
	slotID := mustEID(t)
	entity := cow.New[fnode.Fnode](vol, mgr, id, slotID, *fnode.NewDir(), 0)

	ctx2, h, err := mgr.Begin(ctx)
	require.NoError(t, err)
	dir, err := entity.MakeMut(ctx2, h)
	require.NoError(t, err)
	require.NoError(t, dir.AddChild(fnode.DirEntry{ID: mustEID(t), Kind: fnode.KindFile, Name: "hello"}))
	require.NoError(t, mgr.Commit(ctx2, h))

	loaded, err := cow.Load[fnode.Fnode](ctx, vol, mgr, id)
	require.NoError(t, err)
	_, ok := loaded.Deref().FindChild("hello")
	require.True(t, ok)
}
