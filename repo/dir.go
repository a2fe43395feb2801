package repo

import (
	"context"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/cow"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/fnode"
	"github.com/kenneth/sealedfs/trans"
	"github.com/kenneth/sealedfs/wal"
)

// CreateDir creates a new, empty subdirectory named name under parentID.
func (r *Repo) CreateDir(ctx context.Context, parentID eid.ID, name string) (eid.ID, error) {
	return withTxn(ctx, r, func(ctx context.Context, h *trans.TxHandle) (eid.ID, error) {
		parent, err := r.loadEntity(ctx, parentID)
		if err != nil {
			return eid.Zero, err
		}
		pnode, err := parent.MakeMut(ctx, h)
		if err != nil {
			return eid.Zero, err
		}
		if !pnode.IsDir() {
			return eid.Zero, sealedfs.New(sealedfs.KindNotDir, "repo.Repo.CreateDir")
		}

		childID, err := eid.NewInTransaction(h.Txid())
		if err != nil {
			return eid.Zero, err
		}
		slotID, err := eid.NewInTransaction(h.Txid())
		if err != nil {
			return eid.Zero, err
		}

		child := cow.New[fnode.Fnode](r.vol, r.mgr, childID, slotID, *fnode.NewDir(), h.Txid())
		if err := r.mgr.AddToTrans(h, wal.ActionNew, child); err != nil {
			return eid.Zero, err
		}
		if err := pnode.AddChild(fnode.DirEntry{ID: childID, Kind: fnode.KindDir, Name: name}); err != nil {
			return eid.Zero, err
		}

		r.mu.Lock()
		r.fnodes.Insert(childID, child)
		r.mu.Unlock()
		return childID, nil
	})
}

// Lookup resolves name under parentID to its child entry.
func (r *Repo) Lookup(ctx context.Context, parentID eid.ID, name string) (fnode.DirEntry, error) {
	parent, err := r.loadEntity(ctx, parentID)
	if err != nil {
		return fnode.DirEntry{}, err
	}
	pnode := parent.Deref()
	if !pnode.IsDir() {
		return fnode.DirEntry{}, sealedfs.New(sealedfs.KindNotDir, "repo.Repo.Lookup")
	}
	entry, ok := pnode.FindChild(name)
	if !ok {
		return fnode.DirEntry{}, sealedfs.New(sealedfs.KindNotFound, "repo.Repo.Lookup")
	}
	return entry, nil
}

// List returns every child of parentID, in directory order.
func (r *Repo) List(ctx context.Context, parentID eid.ID) ([]fnode.DirEntry, error) {
	parent, err := r.loadEntity(ctx, parentID)
	if err != nil {
		return nil, err
	}
	pnode := parent.Deref()
	if !pnode.IsDir() {
		return nil, sealedfs.New(sealedfs.KindNotDir, "repo.Repo.List")
	}
	out := make([]fnode.DirEntry, len(pnode.Children))
	copy(out, pnode.Children)
	return out, nil
}

// Glob returns every child of parentID whose name matches a shell glob
// pattern (`*`, `?`, `[...]`).
func (r *Repo) Glob(ctx context.Context, parentID eid.ID, pattern string) ([]fnode.DirEntry, error) {
	parent, err := r.loadEntity(ctx, parentID)
	if err != nil {
		return nil, err
	}
	pnode := parent.Deref()
	if !pnode.IsDir() {
		return nil, sealedfs.New(sealedfs.KindNotDir, "repo.Repo.Glob")
	}
	return pnode.FindChildrenGlob(pattern), nil
}

// Remove deletes the named child of parentID. A non-empty directory is
// refused (KindNotEmpty); removing a file first unlinks the content of
// every version it retains.
func (r *Repo) Remove(ctx context.Context, parentID eid.ID, name string) error {
	_, err := withTxn(ctx, r, func(ctx context.Context, h *trans.TxHandle) (struct{}, error) {
		parent, err := r.loadEntity(ctx, parentID)
		if err != nil {
			return struct{}{}, err
		}
		pnode, err := parent.MakeMut(ctx, h)
		if err != nil {
			return struct{}{}, err
		}
		entry, ok := pnode.FindChild(name)
		if !ok {
			return struct{}{}, sealedfs.New(sealedfs.KindNotFound, "repo.Repo.Remove")
		}

		child, err := r.loadEntity(ctx, entry.ID)
		if err != nil {
			return struct{}{}, err
		}
		cnode := child.Deref()
		if cnode.IsDir() && !cnode.IsEmpty() {
			return struct{}{}, sealedfs.New(sealedfs.KindNotEmpty, "repo.Repo.Remove")
		}

		if cnode.IsFile() {
			if err := r.unlinkAllVersions(ctx, cnode); err != nil {
				return struct{}{}, err
			}
		}
		if err := child.MakeDel(ctx, h); err != nil {
			return struct{}{}, err
		}
		if err := pnode.RemoveChild(name); err != nil {
			return struct{}{}, err
		}

		r.forgetEntity(entry.ID)
		return struct{}{}, nil
	})
	return err
}
