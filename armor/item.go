package armor

import (
	"context"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/volume"
)

// blobStore is the subset of *volume.Volume the armor layer needs; it is
// satisfied by *volume.Volume and lets tests substitute a narrower double
// if ever needed.
type blobStore interface {
	WriteAddressBlob(ctx context.Context, id eid.ID, data []byte) error
	ReadAddressBlob(ctx context.Context, id eid.ID) ([]byte, error)
	DeleteAddressBlob(ctx context.Context, id eid.ID) error
	WriteWalBlob(ctx context.Context, id eid.ID, data []byte) error
	ReadWalBlob(ctx context.Context, id eid.ID) ([]byte, error)
	DeleteWalBlob(ctx context.Context, id eid.ID) error
}

var _ blobStore = (*volume.Volume)(nil)

// Slot names which of the backend's two storage slots (spec.md §4.2) an
// armored item lands in. Cow wrappers, Content/Segment/ChunkMap records
// all armor-save into the general-purpose address slot; Wal records and
// the WalQueue singleton armor-save into the wal slot, which the backend
// guarantees is durable on return rather than buffered until Flush
// (spec.md §4.2, §4.5) — the stronger guarantee recovery depends on.
type Slot int

const (
	SlotAddress Slot = iota
	SlotWal
)

func (s Slot) write(ctx context.Context, vol blobStore, id eid.ID, data []byte) error {
	if s == SlotWal {
		return vol.WriteWalBlob(ctx, id, data)
	}
	return vol.WriteAddressBlob(ctx, id, data)
}

func (s Slot) read(ctx context.Context, vol blobStore, id eid.ID) ([]byte, error) {
	if s == SlotWal {
		return vol.ReadWalBlob(ctx, id)
	}
	return vol.ReadAddressBlob(ctx, id)
}

func (s Slot) delete(ctx context.Context, vol blobStore, id eid.ID) error {
	if s == SlotWal {
		return vol.DeleteWalBlob(ctx, id)
	}
	return vol.DeleteAddressBlob(ctx, id)
}

// SaveItem increments seq and writes data to the arm opposite
// currentArm, returning the new arm/seq on success. The previous arm is
// left untouched until this call returns, so a crash mid-write can never
// make an entity unrecoverable (spec.md §4.4).
func SaveItem(ctx context.Context, vol blobStore, slot Slot, id eid.ID, currentArm Arm, currentSeq uint64, data []byte) (Arm, uint64, error) {
	newArm := currentArm.Other()
	newSeq := currentSeq + 1

	plain, err := marshalMsgpack(envelope{Seq: newSeq, Data: data})
	if err != nil {
		return currentArm, currentSeq, sealedfs.Wrap(sealedfs.KindCorrupted, "armor.SaveItem", err)
	}
	if err := slot.write(ctx, vol, DeriveKey(id, newArm), plain); err != nil {
		return currentArm, currentSeq, err
	}
	return newArm, newSeq, nil
}

// LoadItem reads both arms of id and returns the higher-sequence one. If
// only one arm decrypts, it wins unconditionally. If both are missing,
// LoadItem returns a sealedfs.KindNotFound error. Two readable arms with
// equal seq is corruption (spec.md §4.4 invariant).
func LoadItem(ctx context.Context, vol blobStore, slot Slot, id eid.ID) (data []byte, arm Arm, seq uint64, err error) {
	leftRaw, leftErr := slot.read(ctx, vol, DeriveKey(id, Left))
	rightRaw, rightErr := slot.read(ctx, vol, DeriveKey(id, Right))

	var leftEnv, rightEnv envelope
	leftOK := leftErr == nil
	rightOK := rightErr == nil
	if leftOK {
		if err := unmarshalMsgpack(leftRaw, &leftEnv); err != nil {
			leftOK = false
		}
	}
	if rightOK {
		if err := unmarshalMsgpack(rightRaw, &rightEnv); err != nil {
			rightOK = false
		}
	}

	switch {
	case leftOK && rightOK:
		if leftEnv.Seq == rightEnv.Seq {
			return nil, 0, 0, sealedfs.New(sealedfs.KindCorrupted, "armor.LoadItem")
		}
		if leftEnv.Seq > rightEnv.Seq {
			return leftEnv.Data, Left, leftEnv.Seq, nil
		}
		return rightEnv.Data, Right, rightEnv.Seq, nil
	case leftOK:
		return leftEnv.Data, Left, leftEnv.Seq, nil
	case rightOK:
		return rightEnv.Data, Right, rightEnv.Seq, nil
	default:
		return nil, 0, 0, sealedfs.New(sealedfs.KindNotFound, "armor.LoadItem")
	}
}

// RemoveOtherArm deletes the arm opposite liveArm, the steady-state GC
// optimization named in spec.md §4.4. Keeping two arms is always legal;
// this is never required for correctness.
func RemoveOtherArm(ctx context.Context, vol blobStore, slot Slot, id eid.ID, liveArm Arm) error {
	return slot.delete(ctx, vol, DeriveKey(id, liveArm.Other()))
}

// RemoveAllArms deletes both arms of id, used when an entity is actually
// deleted (not merely updated).
func RemoveAllArms(ctx context.Context, vol blobStore, slot Slot, id eid.ID) error {
	if err := slot.delete(ctx, vol, DeriveKey(id, Left)); err != nil {
		return err
	}
	return slot.delete(ctx, vol, DeriveKey(id, Right))
}
