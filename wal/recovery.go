package wal

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/armor"
	"github.com/kenneth/sealedfs/eid"
)

// EntityRemover is what Recover needs beyond blobStore: the ability to
// drop a direct (non-armored) content entity's blocks and address, used
// to clean up an orphaned New during abort.
type EntityRemover interface {
	blobStore
	RemoveAddressBlocks(ctx context.Context, id eid.ID) error
}

// Recover runs the crash-recovery procedure of spec.md §4.5 on open:
// redo every `aborting` transaction's cleanup ("hot redo"), then treat
// every remaining `doing` transaction as a crash mid-commit and run the
// same cleanup against its Wal if one was saved ("cold redo") — if none
// was saved, that transaction never reached the point of mutating
// anything and its txid is simply dropped. The repaired queue (with
// doing/aborting now empty) is saved before returning.
func Recover(ctx context.Context, vol EntityRemover) (*Queue, error) {
	q, err := LoadQueue(ctx, vol)
	if err != nil {
		return nil, err
	}

	wmark := q.TxidWmark
	bump := func(txid uint64) {
		if txid > wmark {
			wmark = txid
		}
	}
	for txid := range q.Doing {
		bump(txid)
	}
	for txid := range q.Aborting {
		bump(txid)
	}
	for _, txid := range q.Done {
		bump(txid)
	}
	q.TxidWmark = wmark

	// Each aborting transaction's cleanup only ever touches the entities
	// its own Wal names, so hot-redo fans out one goroutine per txid
	// (spec.md's recovery procedure has no ordering requirement across
	// distinct transactions' cleanup).
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for txid, w := range q.Aborting {
		txid, w := txid, w
		g.Go(func() error {
			if w != nil {
				if err := cleanEntries(gctx, vol, w.Entries); err != nil {
					return err
				}
			}
			if err := RemoveAll(gctx, vol, txid); err != nil {
				return err
			}
			mu.Lock()
			delete(q.Aborting, txid)
			delete(q.Doing, txid)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	doing := make([]uint64, 0, len(q.Doing))
	for txid := range q.Doing {
		doing = append(doing, txid)
	}
	g, gctx = errgroup.WithContext(ctx)
	for _, txid := range doing {
		txid := txid
		g.Go(func() error {
			w, _, _, err := Load(gctx, vol, txid)
			if err != nil {
				if sealedfs.Is(err, sealedfs.KindNotFound) {
					mu.Lock()
					delete(q.Doing, txid)
					mu.Unlock()
					return nil
				}
				return err
			}
			if err := cleanEntries(gctx, vol, w.Entries); err != nil {
				return err
			}
			if err := RemoveAll(gctx, vol, txid); err != nil {
				return err
			}
			mu.Lock()
			delete(q.Doing, txid)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := q.Save(ctx, vol); err != nil {
		return nil, err
	}
	return q, nil
}

// cleanEntries applies the abort-path cleanup of spec.md §4.5 step 2 to
// every entry of a transaction's Wal.
func cleanEntries(ctx context.Context, vol EntityRemover, entries []Entry) error {
	for _, e := range entries {
		switch e.Action {
		case ActionNew:
			switch e.EntType {
			case EntCow:
				if err := armor.RemoveAllArms(ctx, vol, armor.SlotAddress, e.ID); err != nil {
					return err
				}
			case EntDirect:
				if err := vol.RemoveAddressBlocks(ctx, e.ID); err != nil {
					return err
				}
			}
		case ActionUpdate:
			if e.EntType == EntCow {
				// e.Arm is the wrapper's arm as of Commit, before
				// Finalize ever toggles it; its opposite arm is
				// never the live one at this point, so deleting it
				// is always a harmless best-effort GC, matching
				// armor.RemoveOtherArm's "never required for
				// correctness" guarantee.
				if err := vol.DeleteAddressBlob(ctx, armor.DeriveKey(e.ID, e.Arm.Other())); err != nil {
					return err
				}
			}
		case ActionDelete:
			// No-op: Commit never wrote anything for a Delete cohort;
			// the original entity is still fully live until Finalize.
		}
	}
	return nil
}
