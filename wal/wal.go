// Package wal implements the write-ahead log queue and crash recovery
// described in spec.md §4.5: a singleton WalQueue tracking in-flight and
// recently-committed transactions, and a per-transaction Wal record of
// every entity it touched.
package wal

import (
	"bytes"
	"encoding/binary"

	"github.com/ugorji/go/codec"

	"github.com/kenneth/sealedfs/armor"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
)

var mpHandle codec.MsgpackHandle

func init() {
	mpHandle.RawToString = true
}

func marshalMsgpack(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &mpHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalMsgpack(data []byte, v any) error {
	dec := codec.NewDecoderBytes(data, &mpHandle)
	return dec.Decode(v)
}

// Action names what a WAL entry did to its entity.
type Action byte

const (
	ActionNew Action = iota
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionNew:
		return "new"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// EntType distinguishes copy-on-write entities (dual-arm, see package cow)
// from direct, single-copy content entities (volume-addressed file bytes:
// segments, fnode payloads).
type EntType byte

const (
	EntCow EntType = iota
	EntDirect
)

// Entry records one entity touched by a transaction.
type Entry struct {
	ID      eid.ID
	Action  Action
	EntType EntType
	Arm     armor.Arm
}

// Wal is the per-transaction intent log: every entity the transaction
// touched, in commit order.
type Wal struct {
	Txid    uint64
	Entries []Entry
}

// AddEntry appends an entry unless it would duplicate New/Delete
// idempotently, per spec.md §4.6 trans semantics (an Update never
// overrides a prior New/Delete on the same entity).
func (w *Wal) AddEntry(e Entry) {
	for i, existing := range w.Entries {
		if existing.ID == e.ID {
			if e.Action == ActionUpdate && (existing.Action == ActionNew || existing.Action == ActionDelete) {
				return // prior New/Delete wins
			}
			w.Entries[i] = e
			return
		}
	}
	w.Entries = append(w.Entries, e)
}

// ID derives the deterministic, txid-keyed EID a Wal record is armored
// under, so recovery can locate a transaction's Wal without a side index.
func ID(txid uint64) eid.ID {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], txid)
	return eid.FromHash(crypto.Hash(buf[:]))
}
