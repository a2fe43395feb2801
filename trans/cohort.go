package trans

import (
	"context"

	"github.com/kenneth/sealedfs/armor"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/wal"
)

// Cohort is implemented by every persistable entity kind that can join a
// transaction: CoW wrappers (package cow) and direct, volume-addressed
// content entities. Each concrete type supplies its own Commit/Abort, the
// Go-idiomatic rendition of spec.md §9's "tagged variant, each routing to
// a concrete commit/abort path" (in place of the source's dynamic dispatch
// through a `Transable` trait object: here the dispatch is an ordinary
// interface method call, resolved per concrete type, not a boxed trait
// object with runtime vtable indirection added purely for polymorphism).
type Cohort interface {
	EntityID() eid.ID
	EntType() wal.EntType

	// StrongRefCount reports the entity's live strong-reference count,
	// checked against <= 1 before a Delete cohort is allowed to commit.
	StrongRefCount() int

	// Commit durably writes action's new data (already known not to
	// violate the refcount invariant) without touching whatever is
	// currently live: a New cohort's inner+wrapper, an Update's new
	// slot, spec.md §4.5 step 1's "serialize pending change". Nothing
	// it does here is destructive, so a failure anywhere in the same
	// transaction can still be undone by Abort. It returns the
	// wrapper's arm as of this call, recorded on the WAL entry.
	Commit(ctx context.Context) (armor.Arm, error)

	// Finalize makes a Commit live: toggles to the new slot and drops
	// the stale one on Update, removes the entity on Delete (spec.md
	// §4.5 step 4). It only ever runs after the WAL record and
	// WalQueue update naming this cohort have both landed durably, so
	// a crash here no longer risks torn state — the transaction is
	// already committed from an external observer's perspective.
	Finalize(ctx context.Context) error

	// Abort undoes a Commit that will never be finalized: drops the
	// pending slot an Update wrote, is a no-op on New (the WAL's own
	// abort path reclaims the orphaned wrapper+inner) and on Delete
	// (nothing was written yet).
	Abort(ctx context.Context) error

	// CompleteCommit releases whatever the other (now-stale) slot was,
	// once Finalize, the WAL, and the allocator have also committed.
	CompleteCommit(ctx context.Context) error
}
