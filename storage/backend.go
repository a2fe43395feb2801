// Package storage defines the pluggable backend contract (spec.md §4.2):
// an opaque key→bytes map plus a block-indexed region, a super-block slot
// pair, and a WAL slot. Concrete backends (mem, file, sqlite, rediskv,
// remote, faulty) implement Backend.
package storage

import (
	"context"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/eid"
)

// BlkSize is the fixed block size of the volume's block-addressed region.
const BlkSize = 8192

// BlockSpan addresses Cnt contiguous BlkSize-sized blocks starting at
// Begin.
type BlockSpan struct {
	Begin uint64
	Cnt   uint32
}

// Len returns the byte length spanned.
func (s BlockSpan) Len() int64 { return int64(s.Cnt) * BlkSize }

// Backend is the storage contract every concrete backend implements.
// Persistence requirements (spec.md §4.2):
//   - PutSuperBlock/PutWal/DelWal/Flush's prior writes MUST be durable
//     before the call returns successfully.
//   - Address and block writes/deletes MAY be buffered until Flush.
type Backend interface {
	// Exists reports whether a repository already lives at this backend's
	// location, without acquiring the single-writer lock.
	Exists(ctx context.Context) (bool, error)

	// Connect acquires the single-writer lock against an existing,
	// already-initialized repository. force breaks a stale lock left
	// behind by a crashed process, logging a warning when it does.
	Connect(ctx context.Context, force bool) error

	// Init acquires the lock and prepares backend-local structures (e.g.
	// creating tables/directories) for a brand-new, empty repository.
	Init(ctx context.Context) error

	// Open is Connect for the common case where the caller doesn't
	// distinguish "repo must already exist"; most callers use Connect
	// directly but Open is kept for symmetry with the spec's naming.
	Open(ctx context.Context, force bool) error

	GetSuperBlock(ctx context.Context, suffix int) ([]byte, error)
	PutSuperBlock(ctx context.Context, suffix int, data []byte) error

	GetWal(ctx context.Context, id eid.ID) ([]byte, error)
	PutWal(ctx context.Context, id eid.ID, data []byte) error
	DelWal(ctx context.Context, id eid.ID) error

	GetAddress(ctx context.Context, id eid.ID) ([]byte, error)
	PutAddress(ctx context.Context, id eid.ID, data []byte) error
	DelAddress(ctx context.Context, id eid.ID) error

	GetBlocks(ctx context.Context, dst []byte, span BlockSpan) error
	PutBlocks(ctx context.Context, span BlockSpan, src []byte) error
	DelBlocks(ctx context.Context, span BlockSpan) error

	// Flush guarantees every address/block/WAL write issued before this
	// call is durable once Flush returns successfully.
	Flush(ctx context.Context) error

	// Destroy irrecoverably deletes the repository. Only called while
	// the caller already holds the process lock (i.e. after Connect).
	Destroy(ctx context.Context) error

	// Close releases the single-writer lock and any local resources.
	// It does not destroy data.
	Close(ctx context.Context) error
}

// notFound/already helpers keep every backend's error mapping consistent.
func ErrNotFound(op string) error      { return sealedfs.New(sealedfs.KindNotFound, op) }
func ErrRepoOpened(op string) error    { return sealedfs.New(sealedfs.KindRepoOpened, op) }
func ErrRepoExists(op string) error    { return sealedfs.New(sealedfs.KindRepoExists, op) }
func ErrInvalidURI(op string) error    { return sealedfs.New(sealedfs.KindInvalidUri, op) }
func WrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return sealedfs.Wrap(sealedfs.KindIO, op, err)
}
