package trans_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/armor"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage/mem"
	"github.com/kenneth/sealedfs/trans"
	"github.com/kenneth/sealedfs/volume"
	"github.com/kenneth/sealedfs/wal"
)

type fakeCohort struct {
	id          eid.ID
	entType     wal.EntType
	refCount    int
	committed   bool
	finalized   bool
	aborted     bool
	completed   bool
	commitErr   error
	finalizeErr error
	abortErr    error
	completeErr error
}

func (f *fakeCohort) EntityID() eid.ID     { return f.id }
func (f *fakeCohort) EntType() wal.EntType { return f.entType }
func (f *fakeCohort) StrongRefCount() int  { return f.refCount }
func (f *fakeCohort) Commit(context.Context) (armor.Arm, error) {
	f.committed = true
	return armor.InitialArm, f.commitErr
}
func (f *fakeCohort) Finalize(context.Context) error {
	f.finalized = true
	return f.finalizeErr
}
func (f *fakeCohort) Abort(context.Context) error {
	f.aborted = true
	return f.abortErr
}
func (f *fakeCohort) CompleteCommit(context.Context) error {
	f.completed = true
	return f.completeErr
}

func newTestManager(t *testing.T) *trans.Manager {
	t.Helper()
	backend := mem.New()
	ctx := context.Background()
	require.NoError(t, backend.Init(ctx))
	require.NoError(t, backend.Open(ctx, false))
	key, err := crypto.RandomKey()
	require.NoError(t, err)
	vol := volume.New(backend, crypto.CipherXChaCha20Poly1305, key, nil)
	queue := wal.NewQueue()
	return trans.NewManager(vol, queue)
}

func mustEID(t *testing.T) eid.ID {
	t.Helper()
	id, err := eid.New()
	require.NoError(t, err)
	return id
}

func TestBeginRejectsNestedBegin(t *testing.T) {
	m := newTestManager(t)
	ctx, h, err := m.Begin(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)

	_, _, err = m.Begin(ctx)
	require.Error(t, err)
}

func TestCommitAppliesCohortsInOrder(t *testing.T) {
	m := newTestManager(t)
	ctx, h, err := m.Begin(context.Background())
	require.NoError(t, err)

	f1 := &fakeCohort{id: mustEID(t), entType: wal.EntDirect}
	f2 := &fakeCohort{id: mustEID(t), entType: wal.EntCow}
	require.NoError(t, m.AddToTrans(h, wal.ActionNew, f1))
	require.NoError(t, m.AddToTrans(h, wal.ActionNew, f2))

	require.NoError(t, m.Commit(ctx, h))
	require.True(t, f1.committed)
	require.True(t, f1.finalized)
	require.True(t, f1.completed)
	require.True(t, f2.committed)
	require.True(t, f2.finalized)
	require.True(t, f2.completed)
}

func TestAddToTransRejectsCrossTxnOwnership(t *testing.T) {
	m := newTestManager(t)
	ctx1, h1, err := m.Begin(context.Background())
	require.NoError(t, err)
	_, h2, err := m.Begin(context.Background())
	require.NoError(t, err)

	shared := &fakeCohort{id: mustEID(t), entType: wal.EntDirect}
	require.NoError(t, m.AddToTrans(h1, wal.ActionNew, shared))
	err = m.AddToTrans(h2, wal.ActionUpdate, shared)
	require.Error(t, err)

	require.NoError(t, m.Commit(ctx1, h1))
}

func TestCommitRejectsDeleteWithLiveReferences(t *testing.T) {
	m := newTestManager(t)
	ctx, h, err := m.Begin(context.Background())
	require.NoError(t, err)

	f := &fakeCohort{id: mustEID(t), entType: wal.EntCow, refCount: 2}
	require.NoError(t, m.AddToTrans(h, wal.ActionDelete, f))

	err = m.Commit(ctx, h)
	require.Error(t, err)
}

func TestAbortRollsBackCohorts(t *testing.T) {
	m := newTestManager(t)
	ctx, h, err := m.Begin(context.Background())
	require.NoError(t, err)

	f := &fakeCohort{id: mustEID(t), entType: wal.EntDirect}
	require.NoError(t, m.AddToTrans(h, wal.ActionNew, f))

	require.NoError(t, m.Abort(ctx, h))
	require.True(t, f.aborted)
	require.False(t, f.committed)
}
