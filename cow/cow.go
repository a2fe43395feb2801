// Package cow implements the generic copy-on-write entity of spec.md
// §4.7: a dual-slot wrapper that keeps both its currently-committed slot
// and an in-flight, uncommitted slot until the owning transaction
// resolves.
package cow

import (
	"context"
	"sync"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/armor"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/lru"
	"github.com/kenneth/sealedfs/trans"
	"github.com/kenneth/sealedfs/volume"
	"github.com/kenneth/sealedfs/wal"
)

// Cloneable is implemented by every type usable as a Cow payload: it must
// be able to produce a copy of itself under a fresh backing EID (the
// source's "clone_new"), since the copy-on-write update path materializes
// the new version under a different slot id than the one it is replacing.
type Cloneable[T any] interface {
	CloneNew(newID eid.ID) T
}

// Slot is one of a Cow entity's two physical backing locations.
type Slot[T any] struct {
	ID    eid.ID
	Txid  uint64
	Inner *T
}

// Cow is the dual-slot copy-on-write wrapper. The zero value is not
// usable; construct with New or Load.
type Cow[T Cloneable[T]] struct {
	mu sync.Mutex

	id    eid.ID
	swtch armor.Arm // which of left/right is the live, committed slot
	left  *Slot[T]
	right *Slot[T]

	vol *volume.Volume
	mgr *trans.Manager

	wrapperArm armor.Arm
	wrapperSeq uint64

	txid          uint64 // 0 if not currently owned by a transaction
	pendingAction wal.Action
	pendingSlot   *Slot[T] // the Update path's new, not-yet-committed slot
	newEntity     bool     // true if this Cow was itself created within the current tx

	refs lru.RefCount
}

// New constructs a brand-new Cow entity, to be registered with the
// transaction manager as a New cohort before commit.
func New[T Cloneable[T]](vol *volume.Volume, mgr *trans.Manager, id eid.ID, slotID eid.ID, inner T, txid uint64) *Cow[T] {
	slot := &Slot[T]{ID: slotID, Txid: txid, Inner: &inner}
	return &Cow[T]{
		id:            id,
		swtch:         armor.Left,
		left:          slot,
		vol:           vol,
		mgr:           mgr,
		txid:          txid,
		pendingAction: wal.ActionNew,
		newEntity:     true,
		wrapperArm:    armor.InitialArm,
	}
}

// Deref returns the live slot's payload (the source's `deref()`).
func (c *Cow[T]) Deref() *T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveSlot().Inner
}

// ID returns the Cow wrapper's own entity id.
func (c *Cow[T]) ID() eid.ID { return c.id }

func (c *Cow[T]) liveSlot() *Slot[T] {
	if c.swtch == armor.Left {
		return c.left
	}
	return c.right
}

func (c *Cow[T]) otherSlot() *Slot[T] {
	if c.swtch == armor.Left {
		return c.right
	}
	return c.left
}

// IncRef/DecRef track strong references so a Delete cohort can be
// refused while the entity is still reachable elsewhere (spec.md §4.6
// "strong reference count <= 1").
func (c *Cow[T]) IncRef() error { return c.refs.Inc() }
func (c *Cow[T]) DecRef() error { return c.refs.Dec() }
func (c *Cow[T]) RefCount() int { return int(c.refs.Value()) }

// MakeMut registers an Update with the transaction manager and returns a
// mutable pointer to the payload the caller should modify in place. If
// the entity was itself created within the current transaction, the
// live slot is mutable directly (no cloning needed: nothing durable has
// been written yet). Otherwise the other slot is materialized by cloning
// the live payload under a fresh EID, and callers mutate that clone.
func (c *Cow[T]) MakeMut(ctx context.Context, h *trans.TxHandle) (*T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.mgr.AddToTrans(h, wal.ActionUpdate, c); err != nil {
		return nil, err
	}
	c.txid = h.Txid()

	if c.newEntity {
		return c.liveSlot().Inner, nil
	}
	if c.pendingSlot != nil {
		return c.pendingSlot.Inner, nil
	}

	newID, err := eid.NewInTransaction(h.Txid())
	if err != nil {
		return nil, err
	}
	cloned := c.liveSlot().Inner.CloneNew(newID)
	c.pendingSlot = &Slot[T]{ID: newID, Txid: h.Txid(), Inner: &cloned}
	c.pendingAction = wal.ActionUpdate
	return c.pendingSlot.Inner, nil
}

// MakeDel registers a Delete with the transaction manager.
func (c *Cow[T]) MakeDel(ctx context.Context, h *trans.TxHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.mgr.AddToTrans(h, wal.ActionDelete, c); err != nil {
		return err
	}
	c.txid = h.Txid()
	c.pendingAction = wal.ActionDelete
	return nil
}

// MakeMutNaive returns a mutable pointer to the live slot without going
// through the transaction manager, for opening-time fix-ups only. It
// refuses to run while the entity is owned by a live transaction.
func (c *Cow[T]) MakeMutNaive() (*T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txid != 0 {
		return nil, sealedfs.New(sealedfs.KindInTrans, "cow.Cow.MakeMutNaive")
	}
	return c.liveSlot().Inner, nil
}

// EntityID and EntType implement trans.Cohort.
func (c *Cow[T]) EntityID() eid.ID     { return c.id }
func (c *Cow[T]) EntType() wal.EntType { return wal.EntCow }

// StrongRefCount implements trans.Cohort.
func (c *Cow[T]) StrongRefCount() int { return c.RefCount() }
