// Package file implements storage.Backend on top of a plain OS directory:
// super-blocks and WAL records live as small files written atomically,
// the block-addressed region lives in one data file, and a
// process lock file (github.com/gofrs/flock) enforces the single-writer
// rule spec.md §4.2 requires of every backend.
package file

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage"
)

const (
	lockFileName   = ".sealedfs.lock"
	dataFileName   = "blocks.dat"
	superBlockFmt  = "super.%d"
	walDirName     = "wal"
	addressDirName = "address"
	dirPerm        = 0o755
	filePerm       = 0o644
)

// Backend is a directory-backed storage.Backend. The zero value is not
// usable; construct with New.
type Backend struct {
	root string
	log  *logrus.Entry

	flk    *flock.Flock
	locked bool

	dataFile *os.File

	// watcher observes the lock file directory so StaleLockRemoved can
	// tell a caller the held lock disappeared out from under it (the
	// holder crashed and something else already broke the lock), without
	// polling os.Stat. It does not itself break the lock; force does.
	watcher     *fsnotify.Watcher
	lockRemoved chan struct{}
}

// New creates a backend rooted at dir. dir need not exist yet; Init
// creates it.
func New(dir string) *Backend {
	return &Backend{root: dir, log: logrus.StandardLogger().WithField("component", "storage/file")}
}

func (b *Backend) lockPath() string    { return filepath.Join(b.root, lockFileName) }
func (b *Backend) dataPath() string    { return filepath.Join(b.root, dataFileName) }
func (b *Backend) walDir() string      { return filepath.Join(b.root, walDirName) }
func (b *Backend) addressDir() string  { return filepath.Join(b.root, addressDirName) }
func (b *Backend) superPath(s int) string {
	return filepath.Join(b.root, fmtSuperBlock(s))
}

func fmtSuperBlock(s int) string { return fmt.Sprintf(superBlockFmt, s) }

func (b *Backend) Exists(ctx context.Context) (bool, error) {
	_, err0 := os.Stat(b.superPath(0))
	_, err1 := os.Stat(b.superPath(1))
	return err0 == nil || err1 == nil, nil
}

func (b *Backend) Connect(ctx context.Context, force bool) error {
	if err := os.MkdirAll(b.root, dirPerm); err != nil {
		return storage.WrapIO("file.Connect", err)
	}
	flk := flock.New(b.lockPath())
	ok, err := flk.TryLock()
	if err != nil {
		return storage.WrapIO("file.Connect", err)
	}
	if !ok {
		if !force {
			return storage.ErrRepoOpened("file.Connect")
		}
		// force: remove the lock file and retry once. The retry locks a
		// fresh lock file, so it succeeds even if the old holder is still
		// alive; that holder can notice through StaleLockRemoved.
		b.log.WithField("path", b.lockPath()).Warn("breaking lock held by another process")
		_ = os.Remove(b.lockPath())
		flk = flock.New(b.lockPath())
		ok, err = flk.TryLock()
		if err != nil {
			return storage.WrapIO("file.Connect", err)
		}
		if !ok {
			return storage.ErrRepoOpened("file.Connect")
		}
	}
	b.flk = flk
	b.locked = true

	df, err := os.OpenFile(b.dataPath(), os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		_ = flk.Unlock()
		return storage.WrapIO("file.Connect", err)
	}
	b.dataFile = df

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := watcher.Add(b.root); werr == nil {
			b.watcher = watcher
			b.lockRemoved = make(chan struct{})
			go b.watchLock(watcher)
		} else {
			_ = watcher.Close()
		}
	}
	return nil
}

// watchLock closes b.lockRemoved the moment the lock file is deleted out
// from under this process, so StaleLockRemoved can report it without
// polling.
func (b *Backend) watchLock(watcher *fsnotify.Watcher) {
	lockPath := b.lockPath()
	for event := range watcher.Events {
		if event.Name == lockPath && event.Op&fsnotify.Remove != 0 {
			close(b.lockRemoved)
			return
		}
	}
}

// StaleLockRemoved reports whether this backend's lock file was deleted
// by something other than Close/Destroy since Connect succeeded — a sign
// another process force-broke what it believed was a stale lock while
// this one was, in fact, still alive.
func (b *Backend) StaleLockRemoved() bool {
	if b.lockRemoved == nil {
		return false
	}
	select {
	case <-b.lockRemoved:
		return true
	default:
		return false
	}
}

func (b *Backend) Init(ctx context.Context) error {
	exists, err := b.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return storage.ErrRepoExists("file.Init")
	}
	if err := os.MkdirAll(b.walDir(), dirPerm); err != nil {
		return storage.WrapIO("file.Init", err)
	}
	if err := os.MkdirAll(b.addressDir(), dirPerm); err != nil {
		return storage.WrapIO("file.Init", err)
	}
	return b.Connect(ctx, false)
}

func (b *Backend) Open(ctx context.Context, force bool) error {
	return b.Connect(ctx, force)
}

func (b *Backend) GetSuperBlock(ctx context.Context, suffix int) ([]byte, error) {
	data, err := os.ReadFile(b.superPath(suffix))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound("file.GetSuperBlock")
	}
	if err != nil {
		return nil, storage.WrapIO("file.GetSuperBlock", err)
	}
	return data, nil
}

func (b *Backend) PutSuperBlock(ctx context.Context, suffix int, data []byte) error {
	if err := atomic.WriteFile(b.superPath(suffix), newReader(data)); err != nil {
		return storage.WrapIO("file.PutSuperBlock", err)
	}
	return nil
}

func (b *Backend) walPath(id eid.ID) string {
	return filepath.Join(b.walDir(), id.String())
}

func (b *Backend) GetWal(ctx context.Context, id eid.ID) ([]byte, error) {
	data, err := os.ReadFile(b.walPath(id))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound("file.GetWal")
	}
	if err != nil {
		return nil, storage.WrapIO("file.GetWal", err)
	}
	return data, nil
}

func (b *Backend) PutWal(ctx context.Context, id eid.ID, data []byte) error {
	if err := atomic.WriteFile(b.walPath(id), newReader(data)); err != nil {
		return storage.WrapIO("file.PutWal", err)
	}
	return nil
}

func (b *Backend) DelWal(ctx context.Context, id eid.ID) error {
	if err := os.Remove(b.walPath(id)); err != nil && !os.IsNotExist(err) {
		return storage.WrapIO("file.DelWal", err)
	}
	return nil
}

func (b *Backend) addressPath(id eid.ID) string {
	return filepath.Join(b.addressDir(), id.String())
}

func (b *Backend) GetAddress(ctx context.Context, id eid.ID) ([]byte, error) {
	data, err := os.ReadFile(b.addressPath(id))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound("file.GetAddress")
	}
	if err != nil {
		return nil, storage.WrapIO("file.GetAddress", err)
	}
	return data, nil
}

func (b *Backend) PutAddress(ctx context.Context, id eid.ID, data []byte) error {
	if err := atomic.WriteFile(b.addressPath(id), newReader(data)); err != nil {
		return storage.WrapIO("file.PutAddress", err)
	}
	return nil
}

func (b *Backend) DelAddress(ctx context.Context, id eid.ID) error {
	if err := os.Remove(b.addressPath(id)); err != nil && !os.IsNotExist(err) {
		return storage.WrapIO("file.DelAddress", err)
	}
	return nil
}

func (b *Backend) GetBlocks(ctx context.Context, dst []byte, span storage.BlockSpan) error {
	if int64(len(dst)) < span.Len() {
		return storage.ErrInvalidURI("file.GetBlocks")
	}
	off := int64(span.Begin) * storage.BlkSize
	n, err := b.dataFile.ReadAt(dst[:span.Len()], off)
	if err != nil && err != io.EOF {
		return storage.WrapIO("file.GetBlocks", err)
	}
	for i := n; i < len(dst[:span.Len()]); i++ {
		dst[i] = 0 // reads past EOF are sparse zero blocks, like mem's map lookup miss
	}
	return nil
}

func (b *Backend) PutBlocks(ctx context.Context, span storage.BlockSpan, src []byte) error {
	if int64(len(src)) < span.Len() {
		return storage.ErrInvalidURI("file.PutBlocks")
	}
	off := int64(span.Begin) * storage.BlkSize
	if _, err := b.dataFile.WriteAt(src[:span.Len()], off); err != nil {
		return storage.WrapIO("file.PutBlocks", err)
	}
	return nil
}

func (b *Backend) DelBlocks(ctx context.Context, span storage.BlockSpan) error {
	zero := make([]byte, span.Len())
	off := int64(span.Begin) * storage.BlkSize
	if _, err := b.dataFile.WriteAt(zero, off); err != nil {
		return storage.WrapIO("file.DelBlocks", err)
	}
	return nil
}

func (b *Backend) Flush(ctx context.Context) error {
	if b.dataFile == nil {
		return nil
	}
	if err := b.dataFile.Sync(); err != nil {
		return storage.WrapIO("file.Flush", err)
	}
	return nil
}

func (b *Backend) Destroy(ctx context.Context) error {
	_ = b.Close(ctx)
	if err := os.RemoveAll(b.root); err != nil {
		return storage.WrapIO("file.Destroy", err)
	}
	return nil
}

func (b *Backend) Close(ctx context.Context) error {
	if b.watcher != nil {
		_ = b.watcher.Close()
		b.watcher = nil
	}
	if b.dataFile != nil {
		_ = b.dataFile.Close()
		b.dataFile = nil
	}
	if b.locked && b.flk != nil {
		_ = b.flk.Unlock()
		b.locked = false
	}
	return nil
}

func newReader(data []byte) io.Reader { return bytes.NewReader(data) }
