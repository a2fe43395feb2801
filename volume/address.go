package volume

import (
	"github.com/kenneth/sealedfs/storage"
)

// LocSpan maps one encrypted frame onto its backend block span, recording
// the frame's ciphertext length so the reader knows how much of the last,
// padded block actually belongs to the frame (spec.md §3 "Address").
type LocSpan struct {
	Span    storage.BlockSpan
	DataLen int64
}

// Address is the per-entity map from logical bytes to backend blocks: one
// LocSpan per frame that was written, plus the entity's total plaintext
// length.
type Address struct {
	Spans []LocSpan
	Len   int64
}

// frameAt returns the LocSpan and its plaintext byte offset covering
// plaintext offset `at`, or ok=false if at is beyond the address.
func (a *Address) frameAt(at int64, plainPerFrame int64) (LocSpan, int64, bool) {
	idx := at / plainPerFrame
	if idx < 0 || int(idx) >= len(a.Spans) {
		return LocSpan{}, 0, false
	}
	return a.Spans[idx], idx * plainPerFrame, true
}
