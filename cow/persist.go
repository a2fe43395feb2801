package cow

import (
	"context"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/armor"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/trans"
	"github.com/kenneth/sealedfs/volume"
	"github.com/kenneth/sealedfs/wal"
)

type slotMeta struct {
	ID      eid.ID
	Txid    uint64
	Present bool
}

type wrapperWire struct {
	Switch armor.Arm
	Left   slotMeta
	Right  slotMeta
}

func slotMetaOf[T any](s *Slot[T]) slotMeta {
	if s == nil {
		return slotMeta{}
	}
	return slotMeta{ID: s.ID, Txid: s.Txid, Present: true}
}

// saveInner armor-saves a slot's payload under its own id (spec.md §4.7:
// "save the inner T under the slot's EID"). It is always the slot's
// first save, so it always writes armor.InitialArm -> Left.
func (c *Cow[T]) saveInner(ctx context.Context, s *Slot[T]) error {
	plain, err := marshalMsgpack(s.Inner)
	if err != nil {
		return sealedfs.Wrap(sealedfs.KindCorrupted, "cow.Cow.saveInner", err)
	}
	_, _, err = armor.SaveItem(ctx, c.vol, armor.SlotAddress, s.ID, armor.InitialArm, 0, plain)
	return err
}

func (c *Cow[T]) deleteInner(ctx context.Context, s *Slot[T]) error {
	if s == nil {
		return nil
	}
	return armor.RemoveAllArms(ctx, c.vol, armor.SlotAddress, s.ID)
}

func (c *Cow[T]) saveWrapper(ctx context.Context) error {
	wire := wrapperWire{Switch: c.swtch, Left: slotMetaOf(c.left), Right: slotMetaOf(c.right)}
	plain, err := marshalMsgpack(wire)
	if err != nil {
		return sealedfs.Wrap(sealedfs.KindCorrupted, "cow.Cow.saveWrapper", err)
	}
	arm, seq, err := armor.SaveItem(ctx, c.vol, armor.SlotAddress, c.id, c.wrapperArm, c.wrapperSeq, plain)
	if err != nil {
		return err
	}
	c.wrapperArm, c.wrapperSeq = arm, seq
	return nil
}

// Commit implements trans.Cohort, dispatching on the pending action
// recorded by MakeMut/MakeDel (spec.md §4.5 step 1 / §4.7 "Commit").
// New writes its inner+wrapper immediately: nothing live is at risk
// since there is no prior version to protect, and an orphaned New is
// reclaimed by the WAL's own abort path if the transaction never
// lands. Update writes only its new slot's inner payload, leaving the
// wrapper pointed at the old slot until Finalize runs. Delete writes
// nothing here; the entity stays fully live until Finalize.
func (c *Cow[T]) Commit(ctx context.Context) (armor.Arm, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.pendingAction {
	case wal.ActionNew:
		if err := c.saveInner(ctx, c.liveSlot()); err != nil {
			return c.wrapperArm, err
		}
		return c.wrapperArm, c.saveWrapper(ctx)

	case wal.ActionUpdate:
		if err := c.saveInner(ctx, c.pendingSlot); err != nil {
			return c.wrapperArm, err
		}
		return c.wrapperArm, nil

	case wal.ActionDelete:
		return c.wrapperArm, nil
	}
	return c.wrapperArm, nil
}

// Finalize implements trans.Cohort: makes an Update's new slot live and
// drops the old one, or removes a deleted entity outright (spec.md
// §4.5 step 4). It only runs once the WAL record and WalQueue naming
// this cohort are durable, so nothing here needs to be reversible.
func (c *Cow[T]) Finalize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.pendingAction {
	case wal.ActionUpdate:
		newSlot := c.pendingSlot
		oldLive := c.liveSlot()
		if c.swtch == armor.Left {
			c.right = newSlot
			c.swtch = armor.Right
		} else {
			c.left = newSlot
			c.swtch = armor.Left
		}
		if err := c.deleteInner(ctx, oldLive); err != nil {
			return err
		}
		return c.saveWrapper(ctx)

	case wal.ActionDelete:
		if err := c.deleteInner(ctx, c.otherSlot()); err != nil {
			return err
		}
		if err := c.deleteInner(ctx, c.liveSlot()); err != nil {
			return err
		}
		return armor.RemoveAllArms(ctx, c.vol, armor.SlotAddress, c.id)
	}
	return nil
}

// Abort implements trans.Cohort: discards whatever MakeMut/MakeDel
// staged. An Update's Commit may already have durably written the new
// slot's inner payload, so Abort reclaims it; nothing else is ever
// written before Finalize runs (spec.md §4.5 abort order: New is a
// no-op here, reclaimed instead by the WAL's own abort path; Delete
// never wrote anything to undo).
func (c *Cow[T]) Abort(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingAction == wal.ActionUpdate && c.pendingSlot != nil {
		_ = c.deleteInner(ctx, c.pendingSlot)
	}
	c.pendingSlot = nil
	c.pendingAction = 0
	c.txid = 0
	return nil
}

// CompleteCommit implements trans.Cohort: once the WAL and allocator
// have also committed, the stale slot (if any) is fully released.
func (c *Cow[T]) CompleteCommit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingSlot = nil
	c.pendingAction = 0
	c.newEntity = false
	c.txid = 0
	return nil
}

// Load reads a Cow wrapper and both its slots' payloads back from the
// volume.
func Load[T Cloneable[T]](ctx context.Context, vol *volume.Volume, mgr *trans.Manager, id eid.ID) (*Cow[T], error) {
	data, arm, seq, err := armor.LoadItem(ctx, vol, armor.SlotAddress, id)
	if err != nil {
		return nil, err
	}
	var wire wrapperWire
	if err := unmarshalMsgpack(data, &wire); err != nil {
		return nil, sealedfs.Wrap(sealedfs.KindCorrupted, "cow.Load", err)
	}

	c := &Cow[T]{id: id, vol: vol, mgr: mgr, swtch: wire.Switch, wrapperArm: arm, wrapperSeq: seq}
	if wire.Left.Present {
		slot, err := loadSlot[T](ctx, vol, wire.Left)
		if err != nil {
			return nil, err
		}
		c.left = slot
	}
	if wire.Right.Present {
		slot, err := loadSlot[T](ctx, vol, wire.Right)
		if err != nil {
			return nil, err
		}
		c.right = slot
	}
	return c, nil
}

func loadSlot[T Cloneable[T]](ctx context.Context, vol *volume.Volume, m slotMeta) (*Slot[T], error) {
	data, _, _, err := armor.LoadItem(ctx, vol, armor.SlotAddress, m.ID)
	if err != nil {
		return nil, err
	}
	var inner T
	if err := unmarshalMsgpack(data, &inner); err != nil {
		return nil, sealedfs.Wrap(sealedfs.KindCorrupted, "cow.loadSlot", err)
	}
	return &Slot[T]{ID: m.ID, Txid: m.Txid, Inner: &inner}, nil
}
