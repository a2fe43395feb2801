// Package repo is sealedfs's entry point: it owns one open repository's
// volume, transaction manager, WAL queue, chunk map, and fnode tree, and
// exposes id-addressed directory/file operations (create, open-for-read,
// write, set_len, history) over that tree. Path resolution,
// language bindings, and a CLI are out of scope: callers address entities
// by eid.ID / parent-id+name pairs, never slash-separated paths.
package repo

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/config"
	"github.com/kenneth/sealedfs/content"
	"github.com/kenneth/sealedfs/cow"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/fnode"
	"github.com/kenneth/sealedfs/lru"
	"github.com/kenneth/sealedfs/metrics"
	"github.com/kenneth/sealedfs/storage"
	"github.com/kenneth/sealedfs/trans"
	"github.com/kenneth/sealedfs/volume"
	"github.com/kenneth/sealedfs/wal"
)

const saltSize = 16

// Repo is one open repository: the volume, its transaction manager and
// WAL queue, the content-dedup machinery, and a cache of live fnode Cow
// wrappers rooted at RootID().
type Repo struct {
	log     *logrus.Entry
	metrics *metrics.Metrics

	backend storage.Backend
	vol     *volume.Volume
	queue   *wal.Queue
	mgr     *trans.Manager

	chunkMap   *content.ChunkMap
	segIndex   *content.SegmentIndex
	blockCache *content.BlockCache

	opts     config.Options
	volumeID [16]byte
	version  uint32
	rootID   eid.ID

	mu     sync.Mutex
	fnodes *lru.Cache[eid.ID, *cow.Cow[fnode.Fnode]]
}

// Info summarizes a repository's identity and active settings, the
// backing data for Repo.Info().
type Info struct {
	VolumeID [16]byte
	Version  uint32
	Cipher   crypto.Cipher
	URI      string
	Compress bool
}

func fnodeWeight(c *cow.Cow[fnode.Fnode]) int64 {
	n := c.Deref()
	return int64(128 + 64*len(n.Children) + 48*len(n.Versions))
}

func newRepo(entry *logrus.Entry, backend storage.Backend, vol *volume.Volume, queue *wal.Queue, mgr *trans.Manager, chunkMap *content.ChunkMap, segIndex *content.SegmentIndex, opts config.Options, sb *volume.SuperBlock) *Repo {
	// Each open repository gets its own Prometheus registry rather than
	// sharing the global default: an embedder commonly opens more than
	// one repository (or re-opens one across tests) in a single process,
	// and promauto panics on a second registration of the same metric
	// name against a shared registerer.
	return &Repo{
		log:        entry,
		metrics:    metrics.NewWithRegistry(prometheus.NewRegistry()),
		backend:    backend,
		vol:        vol,
		queue:      queue,
		mgr:        mgr,
		chunkMap:   chunkMap,
		segIndex:   segIndex,
		blockCache: content.NewBlockCache(opts.SegmentCacheBudgetBytes),
		opts:       opts,
		volumeID:   sb.VolumeID,
		version:    sb.Version,
		rootID:     eid.ID(sb.RootID),
		fnodes:     lru.New[eid.ID, *cow.Cow[fnode.Fnode]](opts.FnodeCacheBudgetBytes, fnodeWeight, nil),
	}
}

// Init creates a brand-new repository at opts.URI and returns it already
// open. It fails with KindRepoExists if a repository already lives there.
func Init(ctx context.Context, opts config.Options, password []byte, log *logrus.Logger) (*Repo, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithField("component", "repo")

	backend, err := dial(opts.URI)
	if err != nil {
		return nil, err
	}
	exists, err := backend.Exists(ctx)
	if err != nil {
		return nil, storage.WrapIO("repo.Init", err)
	}
	if exists {
		return nil, sealedfs.New(sealedfs.KindRepoExists, "repo.Init")
	}
	if err := backend.Init(ctx); err != nil {
		return nil, err
	}
	if err := backend.Connect(ctx, false); err != nil {
		return nil, err
	}

	cipher := opts.Cipher
	if cipher == 0 {
		cipher = crypto.DefaultCipher(false)
	}
	cost := opts.Cost()

	storageKey, err := crypto.RandomKey()
	if err != nil {
		return nil, err
	}

	volIDBuf, err := crypto.RandomBuf(16)
	if err != nil {
		return nil, err
	}
	var volID [16]byte
	copy(volID[:], volIDBuf)

	saltBuf, err := crypto.RandomBuf(saltSize)
	if err != nil {
		return nil, err
	}
	var salt [saltSize]byte
	copy(salt[:], saltBuf)

	sb := &volume.SuperBlock{
		VolumeID: volID,
		Version:  1,
		Key:      append([]byte(nil), storageKey.Bytes()...),
		URI:      opts.URI,
		Compress: opts.Compress,
	}
	if err := volume.SaveSuperBlock(ctx, backend, password, cost, cipher, salt, sb, time.Now().Unix()); err != nil {
		return nil, err
	}

	vol := volume.New(backend, cipher, storageKey, log)
	vol.SetCompress(opts.Compress)

	queue := wal.NewQueue()
	mgr := trans.NewManager(vol, queue)

	rootCow, err := createRootDir(ctx, vol, mgr)
	if err != nil {
		return nil, err
	}
	sb.RootID = [32]byte(rootCow.ID())
	if err := volume.SaveSuperBlock(ctx, backend, password, cost, cipher, salt, sb, time.Now().Unix()); err != nil {
		return nil, err
	}

	chunkMap := content.NewChunkMap()
	if err := chunkMap.Save(ctx, vol); err != nil {
		return nil, err
	}
	segIndex := content.NewSegmentIndex()
	if err := segIndex.Save(ctx, vol); err != nil {
		return nil, err
	}
	if err := queue.Save(ctx, vol); err != nil {
		return nil, err
	}
	if err := vol.Flush(ctx); err != nil {
		return nil, err
	}

	r := newRepo(entry, backend, vol, queue, mgr, chunkMap, segIndex, opts, sb)
	r.fnodes.Insert(r.rootID, rootCow)
	entry.WithField("uri", opts.URI).Info("repository initialized")
	return r, nil
}

func createRootDir(ctx context.Context, vol *volume.Volume, mgr *trans.Manager) (*cow.Cow[fnode.Fnode], error) {
	ctx, h, err := mgr.Begin(ctx)
	if err != nil {
		return nil, err
	}
	rootID, err := eid.NewInTransaction(h.Txid())
	if err != nil {
		return nil, err
	}
	slotID, err := eid.NewInTransaction(h.Txid())
	if err != nil {
		return nil, err
	}
	root := cow.New[fnode.Fnode](vol, mgr, rootID, slotID, *fnode.NewDir(), h.Txid())
	if err := mgr.AddToTrans(h, wal.ActionNew, root); err != nil {
		return nil, err
	}
	if err := mgr.Commit(ctx, h); err != nil {
		return nil, err
	}
	return root, nil
}

// Open connects to an existing repository, running WAL recovery before
// returning. force breaks a stale single-writer lock left by a crashed
// process (spec.md §4.2).
func Open(ctx context.Context, opts config.Options, password []byte, force bool, log *logrus.Logger) (*Repo, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithField("component", "repo")

	backend, err := dial(opts.URI)
	if err != nil {
		return nil, err
	}
	if err := backend.Connect(ctx, force); err != nil {
		return nil, err
	}

	sb, cipher, err := volume.LoadSuperBlock(ctx, backend, password)
	if err != nil {
		if !sealedfs.Is(err, sealedfs.KindInvalidSuperBlk) {
			return nil, err
		}
		entry.Warn("super-block arms disagree, repairing")
		sb, cipher, err = volume.RepairSuperBlock(ctx, backend, password)
		if err != nil {
			return nil, err
		}
	}

	storageKey := crypto.NewKey(sb.Key)
	vol := volume.New(backend, cipher, storageKey, log)
	vol.SetCompress(sb.Compress)

	preRecovery, err := wal.LoadQueue(ctx, vol)
	if err != nil {
		return nil, err
	}
	hotRedos, coldRedos := len(preRecovery.Aborting), len(preRecovery.Doing)

	recoveryStart := time.Now()
	queue, err := wal.Recover(ctx, vol)
	if err != nil {
		return nil, err
	}
	vol.Bootstrap(queue.BlkWmark)
	mgr := trans.NewManager(vol, queue)

	chunkMap, err := content.LoadChunkMap(ctx, vol)
	if err != nil {
		return nil, err
	}
	segIndex, err := content.LoadSegmentIndex(ctx, vol)
	if err != nil {
		return nil, err
	}

	r := newRepo(entry, backend, vol, queue, mgr, chunkMap, segIndex, opts, sb)
	r.metrics.RecordRecovery(hotRedos, coldRedos, time.Since(recoveryStart).Seconds())

	rootCow, err := cow.Load[fnode.Fnode](ctx, vol, mgr, r.rootID)
	if err != nil {
		return nil, err
	}
	r.fnodes.Insert(r.rootID, rootCow)

	entry.WithField("uri", opts.URI).Info("repository opened")
	return r, nil
}

// Close flushes every buffered write and releases the backend's
// single-writer lock.
func (r *Repo) Close(ctx context.Context) error {
	if err := r.vol.Flush(ctx); err != nil {
		return err
	}
	return r.backend.Close(ctx)
}

// RootID returns the repository's root directory entity id.
func (r *Repo) RootID() eid.ID { return r.rootID }

// Metrics exposes the repository's Prometheus metrics. They are
// registered on a private per-repository registry, so Metrics().Handler(),
// which serves the process-wide default registry, does not expose them.
func (r *Repo) Metrics() *metrics.Metrics { return r.metrics }

// Info reports the repository's identity and active settings.
func (r *Repo) Info() Info {
	return Info{
		VolumeID: r.volumeID,
		Version:  r.version,
		Cipher:   r.vol.Cipher(),
		URI:      r.opts.URI,
		Compress: r.vol.Compress(),
	}
}

// ResetPassword re-seals both super-block arms under newPassword with a
// freshly drawn salt, leaving the storage key (and therefore every
// already-written entity) untouched. newCost's zero value falls back to
// crypto.DefaultCost.
func (r *Repo) ResetPassword(ctx context.Context, oldPassword, newPassword []byte, newCost crypto.Cost) error {
	sb, cipher, err := volume.LoadSuperBlock(ctx, r.backend, oldPassword)
	if err != nil {
		return err
	}
	if newCost == (crypto.Cost{}) {
		newCost = crypto.DefaultCost
	}
	saltBuf, err := crypto.RandomBuf(saltSize)
	if err != nil {
		return err
	}
	var salt [saltSize]byte
	copy(salt[:], saltBuf)
	return volume.SaveSuperBlock(ctx, r.backend, newPassword, newCost, cipher, salt, sb, time.Now().Unix())
}

// withTxn runs fn inside a begin/commit transaction, aborting on error.
func withTxn[T any](ctx context.Context, r *Repo, fn func(ctx context.Context, h *trans.TxHandle) (T, error)) (T, error) {
	var zero T
	ctx, h, err := r.mgr.Begin(ctx)
	if err != nil {
		return zero, err
	}
	start := time.Now()
	result, err := fn(ctx, h)
	if err != nil {
		if abortErr := r.mgr.Abort(ctx, h); abortErr != nil {
			return zero, abortErr
		}
		r.metrics.RecordAbort("fnode", time.Since(start).Seconds())
		return zero, err
	}
	if err := r.mgr.Commit(ctx, h); err != nil {
		if sealedfs.Is(err, sealedfs.KindUncompleted) {
			// The WAL record and WalQueue update already landed
			// durably before this failure, so the transaction is
			// committed from an external observer's perspective;
			// aborting now would discard a real commit. The next
			// open's recovery finishes what Finalize didn't.
			return zero, err
		}
		if abortErr := r.mgr.Abort(ctx, h); abortErr != nil {
			return zero, abortErr
		}
		r.metrics.RecordAbort("fnode", time.Since(start).Seconds())
		return zero, err
	}
	r.metrics.RecordCommit("fnode", time.Since(start).Seconds())
	return result, nil
}

// loadEntity fetches a directory/file's Cow wrapper, consulting the
// in-memory fnode cache first.
func (r *Repo) loadEntity(ctx context.Context, id eid.ID) (*cow.Cow[fnode.Fnode], error) {
	r.mu.Lock()
	if c, ok := r.fnodes.Get(id); ok {
		r.mu.Unlock()
		r.metrics.RecordCacheHit("fnode")
		return c, nil
	}
	r.mu.Unlock()
	r.metrics.RecordCacheMiss("fnode")

	c, err := cow.Load[fnode.Fnode](ctx, r.vol, r.mgr, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.fnodes.Insert(id, c)
	r.mu.Unlock()
	return c, nil
}

func (r *Repo) forgetEntity(id eid.ID) {
	r.mu.Lock()
	r.fnodes.Remove(id)
	r.mu.Unlock()
}
