// Package armor implements the A/B atomic entity writer of spec.md §4.4:
// every persistable entity with id E is stored under two derived keys
// E_L and E_R, so a crash mid-write never loses the previously committed
// copy.
package armor

import (
	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
)

// Arm names which of an entity's two derived storage slots holds a given
// write.
type Arm byte

const (
	Left Arm = iota
	Right
)

// InitialArm is the conventional "nothing written yet" starting point
// passed to the first SaveItem call for a brand-new entity: it toggles to
// Left on that first save.
const InitialArm = Right

// Other returns the arm not currently live.
func (a Arm) Other() Arm {
	if a == Left {
		return Right
	}
	return Left
}

func (a Arm) String() string {
	if a == Left {
		return "left"
	}
	return "right"
}

// DeriveKey computes E_L or E_R for entity id per spec.md §4.4:
// hash(E || 'Left') / hash(E || 'Right').
func DeriveKey(id eid.ID, arm Arm) eid.ID {
	tag := "Left"
	if arm == Right {
		tag = "Right"
	}
	buf := make([]byte, 0, eid.Size+len(tag))
	buf = append(buf, id[:]...)
	buf = append(buf, tag...)
	return eid.FromHash(crypto.Hash(buf))
}

// envelope is the msgpack body sealed under each arm: the sequence
// number plus the caller's serialized entity bytes.
type envelope struct {
	Seq  uint64
	Data []byte
}
