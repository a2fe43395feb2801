package repo

import (
	"context"
	"time"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/content"
	"github.com/kenneth/sealedfs/cow"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/fnode"
	"github.com/kenneth/sealedfs/merkle"
	"github.com/kenneth/sealedfs/trans"
	"github.com/kenneth/sealedfs/wal"
)

// CreateFile creates a new, empty file named name under parentID.
// versionLimit of 0 falls back to opts.DefaultVersionLimit.
func (r *Repo) CreateFile(ctx context.Context, parentID eid.ID, name string, versionLimit uint8) (eid.ID, error) {
	if versionLimit == 0 {
		versionLimit = r.opts.DefaultVersionLimit
	}
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
			return eid.Zero, sealedfs.New(sealedfs.KindNotDir, "repo.Repo.CreateFile")
		}

		childID, err := eid.NewInTransaction(h.Txid())
		if err != nil {
			return eid.Zero, err
		}
		slotID, err := eid.NewInTransaction(h.Txid())
		if err != nil {
			return eid.Zero, err
		}
		inner, err := fnode.NewFile(versionLimit)
		if err != nil {
			return eid.Zero, err
		}

		child := cow.New[fnode.Fnode](r.vol, r.mgr, childID, slotID, *inner, h.Txid())
		if err := r.mgr.AddToTrans(h, wal.ActionNew, child); err != nil {
			return eid.Zero, err
		}
		if err := pnode.AddChild(fnode.DirEntry{ID: childID, Kind: fnode.KindFile, Name: name}); err != nil {
			return eid.Zero, err
		}

		r.mu.Lock()
		r.fnodes.Insert(childID, child)
		r.mu.Unlock()
		return childID, nil
	})
}

// OpenForRead returns a random-access reader over fileID's current
// version. A file with no versions yet reads as zero-length.
func (r *Repo) OpenForRead(ctx context.Context, fileID eid.ID) (*content.Reader, error) {
	file, err := r.loadEntity(ctx, fileID)
	if err != nil {
		return nil, err
	}
	fn := file.Deref()
	if !fn.IsFile() {
		return nil, sealedfs.New(sealedfs.KindNotFile, "repo.Repo.OpenForRead")
	}

	cur, ok := fn.CurrentVersion()
	if !ok {
		return content.NewReader(ctx, r.vol, &content.Content{}, r.blockCache), nil
	}
	c, err := content.LoadContent(ctx, r.vol, cur.ContentID)
	if err != nil {
		return nil, err
	}
	return content.NewReader(ctx, r.vol, c, r.blockCache), nil
}

// History returns every retained version of fileID, oldest first.
func (r *Repo) History(ctx context.Context, fileID eid.ID) ([]fnode.Version, error) {
	file, err := r.loadEntity(ctx, fileID)
	if err != nil {
		return nil, err
	}
	fn := file.Deref()
	if !fn.IsFile() {
		return nil, sealedfs.New(sealedfs.KindNotFile, "repo.Repo.History")
	}
	return fn.History(), nil
}

// WriteFile replaces fileID's entire content with data, chunking and
// deduplicating it through the content layer and appending a new version
// to the file's history (evicting and unlinking the oldest version once
// VersionLimit is exceeded, spec.md testable property 9).
func (r *Repo) WriteFile(ctx context.Context, fileID eid.ID, data []byte) (fnode.Version, error) {
	return r.writeContent(ctx, fileID, data)
}

// SetLen resizes fileID's current content to exactly newLen bytes: a
// shrink keeps the first newLen bytes, a grow zero-fills the extension
// (spec.md §8 scenario S4). Rather than re-chunking the whole file
// through a fresh SegmentWriter, it splices: a grow reuses every span of
// the current content unchanged and appends a freshly chunked zero-fill
// fragment via EntryList.WriteWith; a shrink keeps every span entirely
// below newLen via EntryList.TruncateExact and, only when the cut falls
// inside a span, rewrites that span's live prefix through a fragment
// instead of the whole file. Append merges adjacent chunks of one segment
// into a single span, so that prefix can cover several chunks. The reused spans gain a
// second reference (the superseded version still holds the first) via
// content.Link.
func (r *Repo) SetLen(ctx context.Context, fileID eid.ID, newLen int64) (fnode.Version, error) {
	if newLen < 0 {
		return fnode.Version{}, sealedfs.New(sealedfs.KindInvalidArgument, "repo.Repo.SetLen")
	}

	file, err := r.loadEntity(ctx, fileID)
	if err != nil {
		return fnode.Version{}, err
	}
	fn := file.Deref()
	if !fn.IsFile() {
		return fnode.Version{}, sealedfs.New(sealedfs.KindNotFile, "repo.Repo.SetLen")
	}
	cur, hasVersion := fn.CurrentVersion()

	oldContent := &content.Content{}
	if hasVersion {
		oldContent, err = content.LoadContent(ctx, r.vol, cur.ContentID)
		if err != nil {
			return fnode.Version{}, err
		}
	}
	oldLen := oldContent.Ents.Len
	if newLen == oldLen {
		return cur, nil
	}

	newID, err := eid.New()
	if err != nil {
		return fnode.Version{}, err
	}

	newEnts := oldContent.Ents
	var reused content.EntryList

	if newLen > oldLen {
		reused = newEnts
		frag, err := r.buildFragment(ctx, oldLen, make([]byte, newLen-oldLen))
		if err != nil {
			return fnode.Version{}, err
		}
		newEnts.WriteWith(frag.Ents)
	} else {
		newEnts.TruncateExact(newLen)
		reused = newEnts
		if start := newEnts.Len; start < newLen {
			prefix := make([]byte, newLen-start)
			oldReader := content.NewReader(ctx, r.vol, oldContent, r.blockCache)
			if _, err := oldReader.ReadAt(prefix, start); err != nil {
				return fnode.Version{}, err
			}
			frag, err := r.buildFragment(ctx, start, prefix)
			if err != nil {
				return fnode.Version{}, err
			}
			newEnts.WriteWith(frag.Ents)
		}
	}
	// The discarded tail (and, for a mid-span cut, the straddling span
	// itself) is not unlinked here: it still belongs to the version being
	// superseded until that version is itself evicted.

	if err := content.Link(ctx, r.vol, r.segIndex, &content.Content{ID: newID, Ents: reused}); err != nil {
		return fnode.Version{}, err
	}

	newContent := &content.Content{ID: newID, Ents: newEnts}
	content.IndexContent(r.segIndex, newContent)

	full := make([]byte, newLen)
	if newLen > 0 {
		previewReader := content.NewReader(ctx, r.vol, newContent, r.blockCache)
		if _, err := previewReader.ReadAt(full, 0); err != nil {
			return fnode.Version{}, err
		}
	}
	newContent.Hash = crypto.Hash(full)
	tree, err := r.buildMerkleTree(full)
	if err != nil {
		return fnode.Version{}, err
	}

	if err := r.segIndex.Save(ctx, r.vol); err != nil {
		return fnode.Version{}, err
	}
	if err := newContent.Save(ctx, r.vol); err != nil {
		return fnode.Version{}, err
	}

	return withTxn(ctx, r, func(ctx context.Context, h *trans.TxHandle) (fnode.Version, error) {
		file, err := r.loadEntity(ctx, fileID)
		if err != nil {
			return fnode.Version{}, err
		}
		fn, err := file.MakeMut(ctx, h)
		if err != nil {
			return fnode.Version{}, err
		}
		if !fn.IsFile() {
			return fnode.Version{}, sealedfs.New(sealedfs.KindNotFile, "repo.Repo.SetLen")
		}

		evicted, didEvict, err := fn.AddVersion(newContent.ID, newLen, time.Now().Unix(), tree.Root())
		if err != nil {
			return fnode.Version{}, err
		}
		if didEvict {
			if err := r.unlinkContent(ctx, evicted); err != nil {
				return fnode.Version{}, err
			}
		}

		cur, _ := fn.CurrentVersion()
		return cur, nil
	})
}

// buildFragment chunks data through a fresh SegmentWriter whose EntryList
// starts at startOffset, so the result can be spliced into an existing
// EntryList via WriteWith instead of rebuilding a whole content from
// scratch (used by SetLen's grow/shrink paths).
func (r *Repo) buildFragment(ctx context.Context, startOffset int64, data []byte) (*content.Content, error) {
	sw, err := content.NewSegmentWriter(ctx, r.vol, r.chunkMap, eid.New, startOffset)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if _, err := sw.Write(data); err != nil {
			return nil, err
		}
	}
	return sw.Finish(crypto.Hash(data))
}

// writeContent is the build-whole-content-then-append-version path used
// by WriteFile, which always replaces a file's bytes outright; SetLen
// instead splices onto the existing content (see buildFragment).
func (r *Repo) writeContent(ctx context.Context, fileID eid.ID, data []byte) (fnode.Version, error) {
	newContent, tree, err := r.buildContent(ctx, data)
	if err != nil {
		return fnode.Version{}, err
	}
	// newContent's chunks are already ref-counted once each by the
	// SegmentWriter that built it (every chunk it writes or dedups
	// against is RefChunk'd as it goes); no separate content.Link call
	// is needed for a brand-new content the way it would be for an
	// existing content gaining a second, independent reference. It still
	// needs registering in the segment index so a later shrink of one of
	// its segments knows to splice this Content too.
	content.IndexContent(r.segIndex, newContent)
	if err := r.segIndex.Save(ctx, r.vol); err != nil {
		return fnode.Version{}, err
	}
	if err := newContent.Save(ctx, r.vol); err != nil {
		return fnode.Version{}, err
	}

	return withTxn(ctx, r, func(ctx context.Context, h *trans.TxHandle) (fnode.Version, error) {
		file, err := r.loadEntity(ctx, fileID)
		if err != nil {
			return fnode.Version{}, err
		}
		fn, err := file.MakeMut(ctx, h)
		if err != nil {
			return fnode.Version{}, err
		}
		if !fn.IsFile() {
			return fnode.Version{}, sealedfs.New(sealedfs.KindNotFile, "repo.Repo.writeContent")
		}

		evicted, didEvict, err := fn.AddVersion(newContent.ID, int64(len(data)), time.Now().Unix(), tree.Root())
		if err != nil {
			return fnode.Version{}, err
		}
		if didEvict {
			if err := r.unlinkContent(ctx, evicted); err != nil {
				return fnode.Version{}, err
			}
		}

		cur, _ := fn.CurrentVersion()
		return cur, nil
	})
}

// buildContent chunks data through a fresh SegmentWriter and builds the
// Merkle tree over its final bytes. It performs no durable metadata
// writes of its own beyond the segments/chunk-map a SegmentWriter always
// saves on Finish; the caller still owes newContent.Save.
func (r *Repo) buildContent(ctx context.Context, data []byte) (*content.Content, *merkle.Tree, error) {
	sw, err := content.NewSegmentWriter(ctx, r.vol, r.chunkMap, eid.New, 0)
	if err != nil {
		return nil, nil, err
	}
	hw := crypto.NewHashWriter()
	if len(data) > 0 {
		if _, err := sw.Write(data); err != nil {
			return nil, nil, err
		}
		if _, err := hw.Write(data); err != nil {
			return nil, nil, err
		}
	}
	newContent, err := sw.Finish(hw.Sum())
	if err != nil {
		return nil, nil, err
	}

	tree, err := r.buildMerkleTree(data)
	if err != nil {
		return nil, nil, err
	}
	return newContent, tree, nil
}

func (r *Repo) buildMerkleTree(data []byte) (*merkle.Tree, error) {
	const pieceSize = merkle.DefaultPieceSize
	n := len(data)
	count := (n + pieceSize - 1) / pieceSize
	leaves := make([][32]byte, count)
	for i := 0; i < count; i++ {
		start := i * pieceSize
		end := start + pieceSize
		if end > n {
			end = n
		}
		leaves[i] = crypto.Hash(data[start:end])
	}
	return merkle.Build(int64(n), pieceSize, leaves)
}

// unlinkContent decrements the refcounts an evicted or replaced version's
// content held, deleting any segment that becomes fully orphaned,
// compacting any segment that merely became shrinkable (splicing the
// relocation into every other Content still referencing it), then
// removes the Content record itself.
func (r *Repo) unlinkContent(ctx context.Context, contentID eid.ID) error {
	c, err := content.LoadContent(ctx, r.vol, contentID)
	if err != nil {
		if sealedfs.Is(err, sealedfs.KindNotFound) {
			return nil
		}
		return err
	}
	shrinks, err := content.Unlink(ctx, r.vol, r.chunkMap, r.segIndex, c)
	if err != nil {
		return err
	}
	if err := r.segIndex.Save(ctx, r.vol); err != nil {
		return err
	}
	for i := 0; i < shrinks; i++ {
		r.metrics.RecordSegmentShrink()
	}
	return content.DeleteContent(ctx, r.vol, contentID)
}

// unlinkAllVersions unlinks and deletes the content of every retained
// version of a file being removed entirely (repo.Remove).
func (r *Repo) unlinkAllVersions(ctx context.Context, fn *fnode.Fnode) error {
	for _, v := range fn.History() {
		if err := r.unlinkContent(ctx, v.ContentID); err != nil {
			return err
		}
	}
	return nil
}
