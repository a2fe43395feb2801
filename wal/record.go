package wal

import (
	"context"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/armor"
	"github.com/kenneth/sealedfs/eid"
)

type blobStore interface {
	WriteAddressBlob(ctx context.Context, id eid.ID, data []byte) error
	ReadAddressBlob(ctx context.Context, id eid.ID) ([]byte, error)
	DeleteAddressBlob(ctx context.Context, id eid.ID) error
	WriteWalBlob(ctx context.Context, id eid.ID, data []byte) error
	ReadWalBlob(ctx context.Context, id eid.ID) ([]byte, error)
	DeleteWalBlob(ctx context.Context, id eid.ID) error
}

// Save armor-saves w under its txid-derived id. A fresh Wal is saved with
// currentArm=armor.InitialArm, currentSeq=0.
func Save(ctx context.Context, vol blobStore, w *Wal, currentArm armor.Arm, currentSeq uint64) (armor.Arm, uint64, error) {
	plain, err := marshalMsgpack(w)
	if err != nil {
		return currentArm, currentSeq, sealedfs.Wrap(sealedfs.KindCorrupted, "wal.Save", err)
	}
	return armor.SaveItem(ctx, vol, armor.SlotWal, ID(w.Txid), currentArm, currentSeq, plain)
}

// Load reads the armored Wal record for txid.
func Load(ctx context.Context, vol blobStore, txid uint64) (*Wal, armor.Arm, uint64, error) {
	data, arm, seq, err := armor.LoadItem(ctx, vol, armor.SlotWal, ID(txid))
	if err != nil {
		return nil, 0, 0, err
	}
	var w Wal
	if err := unmarshalMsgpack(data, &w); err != nil {
		return nil, 0, 0, sealedfs.Wrap(sealedfs.KindCorrupted, "wal.Load", err)
	}
	return &w, arm, seq, nil
}

// RemoveAll drops both arms of txid's Wal record, called once a
// transaction's recycling or abort path has fully processed it.
func RemoveAll(ctx context.Context, vol blobStore, txid uint64) error {
	return armor.RemoveAllArms(ctx, vol, armor.SlotWal, ID(txid))
}
