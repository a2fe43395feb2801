package crypto

import (
	"golang.org/x/crypto/argon2"

	sealedfs "github.com/kenneth/sealedfs"
)

// OpsCost is the time-cost axis of the password hash (spec.md §4.1).
type OpsCost byte

const (
	OpsInteractive OpsCost = 4
	OpsModerate    OpsCost = 6
	OpsSensitive   OpsCost = 8
)

// MemCost is the memory-cost axis, in MiB buckets.
type MemCost byte

const (
	Mem64MB   MemCost = 0
	Mem256MB  MemCost = 1
	Mem1024MB MemCost = 2
)

func (m MemCost) mib() uint32 {
	switch m {
	case Mem256MB:
		return 256
	case Mem1024MB:
		return 1024
	default:
		return 64
	}
}

// Cost packs ops and mem into the single byte persisted in the super-block
// layout: low nibble ops, high nibble mem ("ops | (mem<<4)").
type Cost struct {
	Ops OpsCost
	Mem MemCost
}

// Pack returns the on-disk byte representation.
func (c Cost) Pack() byte {
	return byte(c.Ops) | (byte(c.Mem) << 4)
}

// UnpackCost parses the on-disk cost byte, rejecting values spec.md
// disallows (ops must be one of the three named levels; mem must be one
// of the three named buckets).
func UnpackCost(b byte) (Cost, error) {
	ops := OpsCost(b & 0x0F)
	mem := MemCost((b >> 4) & 0x0F)
	switch ops {
	case OpsInteractive, OpsModerate, OpsSensitive:
	default:
		return Cost{}, sealedfs.New(sealedfs.KindInvalidCost, "crypto.UnpackCost")
	}
	switch mem {
	case Mem64MB, Mem256MB, Mem1024MB:
	default:
		return Cost{}, sealedfs.New(sealedfs.KindInvalidCost, "crypto.UnpackCost")
	}
	return Cost{Ops: ops, Mem: mem}, nil
}

// DefaultCost is used by Repo.Init when the caller doesn't specify one.
var DefaultCost = Cost{Ops: OpsModerate, Mem: Mem256MB}

// HashPwd runs the memory-hard password hash (Argon2id) and returns a
// 32-byte key suitable for encrypting the super-block's key envelope.
func HashPwd(password, salt []byte, cost Cost) *Key {
	out := argon2.IDKey(password, salt, uint32(cost.Ops), cost.Mem.mib()*1024, 1, KeySize)
	return NewKey(out)
}
