package trans

import (
	"context"
	"sync"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/armor"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/volume"
	"github.com/kenneth/sealedfs/wal"
)

type cohortEntry struct {
	action wal.Action
	cohort Cohort
}

type txState struct {
	txid                  uint64
	blockWatermarkAtBegin uint64
	order                 []eid.ID // cohort commit order, first-touched first
	cohorts               map[eid.ID]*cohortEntry
}

// Manager is the process-wide transaction manager singleton.
type Manager struct {
	mu     sync.Mutex
	vol    *volume.Volume
	queue  *wal.Queue
	active map[uint64]*txState
	owners map[eid.ID]uint64
}

// NewManager wires a transaction manager over an already-recovered WAL
// queue and volume.
func NewManager(vol *volume.Volume, queue *wal.Queue) *Manager {
	return &Manager{
		vol:    vol,
		queue:  queue,
		active: make(map[uint64]*txState),
		owners: make(map[eid.ID]uint64),
	}
}

// Begin allocates a new transaction and returns a handle plus a context
// carrying it. Fails with KindInTrans if ctx already carries a live
// handle (spec.md §4.6: nested begins are rejected, not stacked).
func (m *Manager) Begin(ctx context.Context) (context.Context, *TxHandle, error) {
	if _, ok := HandleFromContext(ctx); ok {
		return ctx, nil, sealedfs.New(sealedfs.KindInTrans, "trans.Manager.Begin")
	}

	m.mu.Lock()
	txid := m.queue.NextTxid()
	m.queue.BeginTxn(txid)
	m.active[txid] = &txState{
		txid:                  txid,
		blockWatermarkAtBegin: m.vol.BlockWatermark(),
		cohorts:               make(map[eid.ID]*cohortEntry),
	}
	m.mu.Unlock()

	h := &TxHandle{txid: txid}
	return WithHandle(ctx, h), h, nil
}

// AddToTrans registers entity's pending action under h's transaction.
// Fails with KindInTrans if entity is already owned by a different live
// transaction. An Update never overrides a prior New or Delete on the
// same entity; New and Delete are idempotent once recorded.
func (m *Manager) AddToTrans(h *TxHandle, action wal.Action, entity Cohort) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := entity.EntityID()
	if owner, ok := m.owners[id]; ok && owner != h.txid {
		return sealedfs.New(sealedfs.KindInTrans, "trans.Manager.AddToTrans")
	}
	m.owners[id] = h.txid

	st, ok := m.active[h.txid]
	if !ok {
		return sealedfs.New(sealedfs.KindNoTrans, "trans.Manager.AddToTrans")
	}

	existing, ok := st.cohorts[id]
	if !ok {
		st.cohorts[id] = &cohortEntry{action: action, cohort: entity}
		st.order = append(st.order, id)
		return nil
	}
	if action == wal.ActionUpdate && (existing.action == wal.ActionNew || existing.action == wal.ActionDelete) {
		return nil // prior New/Delete wins
	}
	existing.action = action
	existing.cohort = entity
	return nil
}

// Commit applies every cohort's pending change in registration order,
// then commits the WAL and allocator, per spec.md §4.6.
func (m *Manager) Commit(ctx context.Context, h *TxHandle) error {
	m.mu.Lock()
	st, ok := m.active[h.txid]
	m.mu.Unlock()
	if !ok {
		return sealedfs.New(sealedfs.KindNoTrans, "trans.Manager.Commit")
	}

	for _, id := range st.order {
		ce := st.cohorts[id]
		if ce.action == wal.ActionDelete && ce.cohort.StrongRefCount() > 1 {
			return sealedfs.New(sealedfs.KindInUse, "trans.Manager.Commit")
		}
	}

	w := &wal.Wal{Txid: h.txid}
	for _, id := range st.order {
		ce := st.cohorts[id]
		arm, err := ce.cohort.Commit(ctx)
		if err != nil {
			return err
		}
		w.AddEntry(wal.Entry{ID: id, Action: ce.action, EntType: ce.cohort.EntType(), Arm: arm})
	}

	if _, _, err := wal.Save(ctx, m.vol, w, armor.InitialArm, 0); err != nil {
		return err
	}

	recycle, shouldRecycle := m.queue.CommitTxn(h.txid)
	m.queue.BumpBlockWatermark(m.vol.BlockWatermark())
	if err := m.queue.Save(ctx, m.vol); err != nil {
		return err
	}

	// Past this point T is durably committed (spec.md §4.5 step 3 /
	// §5's external-observer atomicity guarantee): every cohort's
	// Finalize only ever redoes work recovery can also redo, so a
	// failure from here on is no longer an atomicity risk. It is
	// surfaced as KindUncompleted so the caller knows not to abort.
	var finalizeErr error
	for _, id := range st.order {
		if err := st.cohorts[id].cohort.Finalize(ctx); err != nil && finalizeErr == nil {
			finalizeErr = err
		}
	}
	if finalizeErr == nil {
		for _, id := range st.order {
			if err := st.cohorts[id].cohort.CompleteCommit(ctx); err != nil && finalizeErr == nil {
				finalizeErr = err
			}
		}
	}
	if finalizeErr == nil && shouldRecycle {
		if err := wal.RemoveAll(ctx, m.vol, recycle); err != nil {
			finalizeErr = err
		}
	}

	m.release(h.txid, st)
	if finalizeErr != nil {
		return sealedfs.Wrap(sealedfs.KindUncompleted, "trans.Manager.Commit", finalizeErr)
	}
	return nil
}

// Abort rolls back every cohort's pending change and records the abort
// through the WAL queue.
func (m *Manager) Abort(ctx context.Context, h *TxHandle) error {
	m.mu.Lock()
	st, ok := m.active[h.txid]
	m.mu.Unlock()
	if !ok {
		return sealedfs.New(sealedfs.KindNoTrans, "trans.Manager.Abort")
	}

	w := &wal.Wal{Txid: h.txid}
	for _, id := range st.order {
		ce := st.cohorts[id]
		w.AddEntry(wal.Entry{ID: id, Action: ce.action, EntType: ce.cohort.EntType()})
	}
	m.queue.BeginAbort(h.txid, w)

	for _, id := range st.order {
		if err := st.cohorts[id].cohort.Abort(ctx); err != nil {
			return err
		}
	}

	m.queue.FinishAbort(h.txid)
	if err := m.queue.Save(ctx, m.vol); err != nil {
		return err
	}
	if err := wal.RemoveAll(ctx, m.vol, h.txid); err != nil {
		return err
	}

	m.release(h.txid, st)
	return nil
}

func (m *Manager) release(txid uint64, st *txState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range st.order {
		if m.owners[id] == txid {
			delete(m.owners, id)
		}
	}
	delete(m.active, txid)
}
