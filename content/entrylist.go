package content

import (
	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/eid"
)

// Span is a contiguous run of chunks from one segment that contributes one
// run of bytes to a Content (spec.md §3 "Span").
type Span struct {
	Begin     int   // first chunk index, inclusive
	End       int   // chunk index, exclusive
	SegOffset int64 // byte offset inside the Begin chunk where this span starts
	Len       int64 // span length in bytes
	Offset    int64 // position of this span within the enclosing content
}

// Entry groups every span of a Content that refers to the same segment.
type Entry struct {
	SegID  eid.ID
	Offset int64
	Len    int64
	Spans  []Span
}

// EntryList is a Content's ordered span representation.
type EntryList struct {
	Offset int64
	Len    int64
	Ents   []Entry
}

// EndOffset is the content-relative offset just past the list's last byte.
func (el EntryList) EndOffset() int64 { return el.Offset + el.Len }

// Append adds one freshly-written chunk's span to the list, merging it into
// the last Entry when it extends the same segment's previous span
// (spec.md §4.10: "new Span extends the previous one when
// prev.end == new.begin && new.seg_offset == 0").
func (el *EntryList) Append(segID eid.ID, span Span) {
	span.Offset = el.EndOffset()
	if n := len(el.Ents); n > 0 {
		last := &el.Ents[n-1]
		if last.SegID == segID {
			if ls := len(last.Spans); ls > 0 {
				prev := &last.Spans[ls-1]
				if prev.End == span.Begin && span.SegOffset == 0 {
					prev.End = span.End
					prev.Len += span.Len
					last.Len += span.Len
					el.Len += span.Len
					return
				}
			}
			last.Spans = append(last.Spans, span)
			last.Len += span.Len
			el.Len += span.Len
			return
		}
	}
	el.Ents = append(el.Ents, Entry{SegID: segID, Offset: span.Offset, Len: span.Len, Spans: []Span{span}})
	el.Len += span.Len
}

// clone returns a deep-enough copy for split/join bookkeeping (entries and
// their span slices are copied; nothing else in this package mutates a
// Span in place after it is appended).
func (el EntryList) clone() EntryList {
	out := EntryList{Offset: el.Offset, Len: el.Len}
	if el.Ents != nil {
		out.Ents = make([]Entry, len(el.Ents))
		for i, e := range el.Ents {
			ce := e
			ce.Spans = append([]Span(nil), e.Spans...)
			out.Ents[i] = ce
		}
	}
	return out
}

func entriesLen(ents []Entry) int64 {
	var n int64
	for _, e := range ents {
		n += e.Len
	}
	return n
}

// alignBoundary locates the span boundary nearest `at`: the nearest span
// end at-or-after `at` (roundUp) or the nearest span start at-or-before
// `at` (!roundUp). Spans are the finest-grained unit this package splits
// at; see DESIGN.md for why full intra-span, per-chunk alignment (which
// spec.md's "align_up"/"align_down" describe) is simplified to this
// span-granularity alignment.
func (el EntryList) alignBoundary(at int64, roundUp bool) int64 {
	if at <= el.Offset {
		return el.Offset
	}
	if at >= el.EndOffset() {
		return el.EndOffset()
	}
	for _, ent := range el.Ents {
		for _, sp := range ent.Spans {
			start, end := sp.Offset, sp.Offset+sp.Len
			if at == start || at == end {
				return at
			}
			if at > start && at < end {
				if roundUp {
					return end
				}
				return start
			}
		}
	}
	return at
}

// partitionAt splits ents into everything ending at-or-before cut and
// everything starting at-or-after cut, cutting a straddling entry's spans
// in two when cut isn't already an entry boundary.
func partitionAt(ents []Entry, cut int64) (left, right []Entry) {
	for _, ent := range ents {
		entEnd := ent.Offset + ent.Len
		switch {
		case entEnd <= cut:
			left = append(left, ent)
		case ent.Offset >= cut:
			right = append(right, ent)
		default:
			var leftSpans, rightSpans []Span
			for _, sp := range ent.Spans {
				if sp.Offset+sp.Len <= cut {
					leftSpans = append(leftSpans, sp)
				} else {
					rightSpans = append(rightSpans, sp)
				}
			}
			if len(leftSpans) > 0 {
				e := ent
				e.Spans = leftSpans
				e.Len = 0
				for _, sp := range leftSpans {
					e.Len += sp.Len
				}
				left = append(left, e)
			}
			if len(rightSpans) > 0 {
				e := ent
				e.Offset = rightSpans[0].Offset
				e.Spans = rightSpans
				e.Len = 0
				for _, sp := range rightSpans {
					e.Len += sp.Len
				}
				right = append(right, e)
			}
		}
	}
	return left, right
}

// SplitOff aligns `at` up to the nearest span boundary, truncates the
// receiver to the left part, and returns the removed right part
// (spec.md §4.10 "split_off"; mirrors Vec::split_off's keep-left,
// return-right shape).
func (el *EntryList) SplitOff(at int64) EntryList {
	cut := el.alignBoundary(at, true)
	left, right := partitionAt(el.Ents, cut)
	el.Ents = left
	el.Len = entriesLen(left)
	return EntryList{Offset: el.EndOffset(), Len: entriesLen(right), Ents: right}
}

// SplitTo aligns `at` down to the nearest span boundary, truncates the
// receiver to the right part, and returns the removed left part
// (spec.md §4.10 "split_to").
func (el *EntryList) SplitTo(at int64) EntryList {
	cut := el.alignBoundary(at, false)
	left, right := partitionAt(el.Ents, cut)
	head := EntryList{Offset: el.Offset, Len: entriesLen(left), Ents: left}
	el.Offset = cut
	el.Ents = right
	el.Len = entriesLen(right)
	return head
}

// TruncateExact cuts el to exactly newLen bytes. SplitOff alone only
// aligns up to a span boundary, which overshoots when the cut falls
// inside a span, since this package only cuts at span boundaries and a
// Span built by Append covers one or more whole chunks. TruncateExact additionally drops that straddling span
// from el when the cut isn't already boundary-aligned, folding it into
// the returned EntryList along with everything past it; the caller is
// expected to splice in a freshly chunked replacement for the bytes
// still live within the dropped span (via WriteWith) rather than
// rebuilding the whole content, and to decide separately whether the
// discarded spans are still reachable elsewhere before unlinking them.
func (el *EntryList) TruncateExact(newLen int64) (discarded EntryList) {
	aligned := el.alignBoundary(newLen, true)
	discarded = el.SplitOff(aligned)
	if aligned == newLen {
		return discarded
	}
	straddle := el.SplitOff(el.alignBoundary(newLen, false))
	straddle.join(discarded)
	return straddle
}

// join appends other's entries after the receiver's, merging the boundary
// entry the same way Append merges a single span.
func (el *EntryList) join(other EntryList) {
	for _, ent := range other.Ents {
		for _, sp := range ent.Spans {
			el.Append(ent.SegID, sp)
		}
	}
}

// RemapSegment rewrites every Entry pointing at oldSeg to point at newSeg
// instead, translating each Span's chunk-index range through remap
// (oldIdx -> newIdx), used to splice a ShrinkSegment compaction's
// relocation into a Content that isn't the one being unlinked (spec.md
// §4.9: "update the affected Contents' EntryLists by splicing"). Every
// chunk a live Span references has a nonzero refcount, and ShrinkSegment
// keeps only refcnt>0 chunks in their original relative order, so a
// Span's whole index range always lands on a same-width, contiguous run
// of new indices — only Begin/End and the owning segment id change, the
// byte-range bookkeeping (Offset, SegOffset, Len) is untouched.
func (el *EntryList) RemapSegment(oldSeg, newSeg eid.ID, remap map[int]int) error {
	for i := range el.Ents {
		ent := &el.Ents[i]
		if ent.SegID != oldSeg {
			continue
		}
		for j := range ent.Spans {
			sp := ent.Spans[j]
			width := sp.End - sp.Begin
			newBegin, ok := remap[sp.Begin]
			if !ok {
				return sealedfs.New(sealedfs.KindCorrupted, "content.EntryList.RemapSegment")
			}
			ent.Spans[j].Begin = newBegin
			ent.Spans[j].End = newBegin + width
		}
		ent.SegID = newSeg
	}
	return nil
}

// WriteWith overlays other's byte range onto the receiver, used to apply a
// partial rewrite over existing content (spec.md §4.10 "write_with"). It
// returns the pieces of the ORIGINAL content displaced by the overlay —
// head is the portion at and after other.Offset that existed before the
// overlay, tail is the portion after other's end that survives past it —
// so the caller can unlink the chunks head/tail no longer reference once
// they've confirmed which of their chunks are still reachable elsewhere.
func (el *EntryList) WriteWith(other EntryList) (head, tail EntryList) {
	at := other.Offset
	end := other.Offset + other.Len

	if end < el.EndOffset() {
		tail = el.clone()
	}
	if at < el.EndOffset() {
		head = el.SplitOff(at)
	}
	el.join(other)
	if tail.Ents != nil && end < tail.EndOffset() {
		tail.SplitTo(end)
		el.join(tail)
	}
	return head, tail
}
