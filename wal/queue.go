package wal

import (
	"context"
	"sync"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/armor"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
)

// queueID is the WalQueue's own fixed, well-known armor id: there is only
// ever one queue per repository, so it needs no random allocation.
var queueID = eid.FromHash(crypto.Hash([]byte("sealedfs.wal.queue")))

// maxDone bounds the `done` deque to the last two committed transactions
// (spec.md §4.5); once exceeded, the oldest entry is recycled.
const maxDone = 2

// Queue is the process-wide WAL queue singleton.
type Queue struct {
	mu sync.Mutex

	TxidWmark uint64
	BlkWmark  uint64
	Done      []uint64
	Doing     map[uint64]struct{}
	Aborting  map[uint64]*Wal

	arm armor.Arm
	seq uint64
}

// queueWire is Queue's on-disk shape: the mutex and armor bookkeeping
// fields never get serialized.
type queueWire struct {
	TxidWmark uint64
	BlkWmark  uint64
	Done      []uint64
	Doing     []uint64
	Aborting  map[uint64]*Wal
}

// NewQueue returns an empty queue for a freshly initialized repository.
func NewQueue() *Queue {
	return &Queue{
		Doing:    make(map[uint64]struct{}),
		Aborting: make(map[uint64]*Wal),
		arm:      armor.InitialArm,
	}
}

// NextTxid allocates the next transaction id, wrapping past zero (zero is
// reserved as "no transaction").
func (q *Queue) NextTxid() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.TxidWmark++
	if q.TxidWmark == 0 {
		q.TxidWmark = 1
	}
	return q.TxidWmark
}

// BumpBlockWatermark raises BlkWmark to at least watermark.
func (q *Queue) BumpBlockWatermark(watermark uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if watermark > q.BlkWmark {
		q.BlkWmark = watermark
	}
}

// BeginTxn records txid as in progress.
func (q *Queue) BeginTxn(txid uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Doing[txid] = struct{}{}
}

// CommitTxn moves txid from doing to the tail of done, returning a
// recycle candidate (and true) if done now exceeds maxDone.
func (q *Queue) CommitTxn(txid uint64) (recycle uint64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.Doing, txid)
	q.Done = append(q.Done, txid)
	if len(q.Done) > maxDone {
		recycle = q.Done[0]
		q.Done = q.Done[1:]
		ok = true
	}
	return recycle, ok
}

// BeginAbort moves txid from doing into aborting, recording its Wal so a
// crash during the abort itself can be resumed.
func (q *Queue) BeginAbort(txid uint64, w *Wal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.Doing, txid)
	q.Aborting[txid] = w
}

// FinishAbort clears txid from both doing and aborting once its rollback
// has fully applied.
func (q *Queue) FinishAbort(txid uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.Doing, txid)
	delete(q.Aborting, txid)
}

// Save armor-saves the queue, updating its in-memory arm/seq bookkeeping.
func (q *Queue) Save(ctx context.Context, vol blobStore) error {
	q.mu.Lock()
	wire := queueWire{
		TxidWmark: q.TxidWmark,
		BlkWmark:  q.BlkWmark,
		Done:      append([]uint64(nil), q.Done...),
		Doing:     keysOf(q.Doing),
		Aborting:  q.Aborting,
	}
	arm, seq := q.arm, q.seq
	q.mu.Unlock()

	plain, err := marshalMsgpack(wire)
	if err != nil {
		return sealedfs.Wrap(sealedfs.KindCorrupted, "wal.Queue.Save", err)
	}
	newArm, newSeq, err := armor.SaveItem(ctx, vol, armor.SlotWal, queueID, arm, seq, plain)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.arm, q.seq = newArm, newSeq
	q.mu.Unlock()
	return nil
}

// LoadQueue reads the armored queue, or returns a fresh one if the
// repository has never saved one.
func LoadQueue(ctx context.Context, vol blobStore) (*Queue, error) {
	data, arm, seq, err := armor.LoadItem(ctx, vol, armor.SlotWal, queueID)
	if err != nil {
		if sealedfs.Is(err, sealedfs.KindNotFound) {
			return NewQueue(), nil
		}
		return nil, err
	}
	var wire queueWire
	if err := unmarshalMsgpack(data, &wire); err != nil {
		return nil, sealedfs.Wrap(sealedfs.KindCorrupted, "wal.LoadQueue", err)
	}
	q := &Queue{
		TxidWmark: wire.TxidWmark,
		BlkWmark:  wire.BlkWmark,
		Done:      wire.Done,
		Doing:     setOf(wire.Doing),
		Aborting:  wire.Aborting,
		arm:       arm,
		seq:       seq,
	}
	if q.Aborting == nil {
		q.Aborting = make(map[uint64]*Wal)
	}
	return q, nil
}

func keysOf(m map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func setOf(s []uint64) map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(s))
	for _, v := range s {
		out[v] = struct{}{}
	}
	return out
}
