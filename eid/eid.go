// Package eid implements the 32-byte entity identifier named in spec.md
// §3: stable for the entity's lifetime, with a transaction-debugging hint
// stamped into its first byte when allocated inside a transaction.
package eid

import (
	"encoding/hex"

	"github.com/kenneth/sealedfs/crypto"
)

// Size is the fixed width of an EID.
const Size = crypto.KeySize

// ID is a 32-byte entity identifier.
type ID [Size]byte

// Zero is the reserved "no entity" value.
var Zero ID

// New draws a fresh random EID with no transaction hint, used outside any
// transaction (e.g. at repository init for the super-block's volume id).
func New() (ID, error) {
	var id ID
	b, err := crypto.RandomBuf(Size)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// NewInTransaction draws a fresh random EID and overwrites its first byte
// with the low byte of txid, per spec.md §3: "a weak but useful debugging
// hint", never relied on for correctness.
func NewInTransaction(txid uint64) (ID, error) {
	id, err := New()
	if err != nil {
		return id, err
	}
	id[0] = byte(txid)
	return id, nil
}

// FromHash derives a deterministic EID from a hash, used by the armor
// layer to compute the Left/Right storage keys for an entity: the base id
// hashed together with an arm tag.
func FromHash(h [32]byte) ID {
	return ID(h)
}

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id is the reserved zero value.
func (id ID) IsZero() bool { return id == Zero }

// Less gives IDs a total order so they can be used as map/slice sort keys
// deterministically in tests.
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}
