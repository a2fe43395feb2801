package content_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/content"
)

func TestEntryListAppendMergesContiguousSpans(t *testing.T) {
	var el content.EntryList
	segID := mustEID(t)

	el.Append(segID, content.Span{Begin: 0, End: 1, Len: 100})
	el.Append(segID, content.Span{Begin: 1, End: 2, Len: 50})

	require.Len(t, el.Ents, 1)
	require.Len(t, el.Ents[0].Spans, 1)
	require.Equal(t, 2, el.Ents[0].Spans[0].End)
	require.EqualValues(t, 150, el.Len)
}

func TestEntryListAppendStartsNewEntryOnDifferentSegment(t *testing.T) {
	var el content.EntryList
	seg1, seg2 := mustEID(t), mustEID(t)

	el.Append(seg1, content.Span{Begin: 0, End: 1, Len: 10})
	el.Append(seg2, content.Span{Begin: 0, End: 1, Len: 20})

	require.Len(t, el.Ents, 2)
	require.EqualValues(t, 30, el.Len)
}

func TestEntryListAppendDoesNotMergeNonContiguousSpans(t *testing.T) {
	var el content.EntryList
	segID := mustEID(t)

	el.Append(segID, content.Span{Begin: 0, End: 1, Len: 10})
	el.Append(segID, content.Span{Begin: 5, End: 6, SegOffset: 0, Len: 10})

	require.Len(t, el.Ents, 1)
	require.Len(t, el.Ents[0].Spans, 2)
}

func TestEntryListSplitOffAtSpanBoundary(t *testing.T) {
	var el content.EntryList
	segID := mustEID(t)
	el.Append(segID, content.Span{Begin: 0, End: 1, Len: 100})
	el.Append(segID, content.Span{Begin: 1, End: 2, Len: 100})

	tail := el.SplitOff(100)
	require.EqualValues(t, 100, el.Len)
	require.EqualValues(t, 100, tail.Len)
	require.EqualValues(t, 100, tail.Offset)
}

func TestEntryListSplitToAtSpanBoundary(t *testing.T) {
	var el content.EntryList
	segID := mustEID(t)
	el.Append(segID, content.Span{Begin: 0, End: 1, Len: 100})
	el.Append(segID, content.Span{Begin: 1, End: 2, Len: 100})

	head := el.SplitTo(100)
	require.EqualValues(t, 100, head.Len)
	require.EqualValues(t, 100, el.Len)
	require.EqualValues(t, 100, el.Offset)
}

func TestEntryListTruncateExactAtSpanBoundary(t *testing.T) {
	var el content.EntryList
	segID := mustEID(t)
	el.Append(segID, content.Span{Begin: 0, End: 1, Len: 100})
	el.Append(segID, content.Span{Begin: 1, End: 2, Len: 100})

	discarded := el.TruncateExact(100)
	require.EqualValues(t, 100, el.Len)
	require.EqualValues(t, 100, discarded.Len)
	require.EqualValues(t, 100, discarded.Offset)
}

func TestEntryListTruncateExactMidSpanDropsStraddlingSpan(t *testing.T) {
	var el content.EntryList
	seg1, seg2 := mustEID(t), mustEID(t)
	el.Append(seg1, content.Span{Begin: 0, End: 1, Len: 100})
	el.Append(seg2, content.Span{Begin: 0, End: 1, Len: 100})

	discarded := el.TruncateExact(150)

	// The cut falls inside the second span, which can't be kept partially:
	// el is trimmed back to the last whole span boundary below the cut,
	// and the straddling span is folded into the discarded remainder.
	require.EqualValues(t, 100, el.Len)
	require.Len(t, el.Ents, 1)
	require.EqualValues(t, 100, discarded.Len)
	require.EqualValues(t, 100, discarded.Offset)
}

func TestEntryListWriteWithMiddleOverlayKeepsPrefixAndSuffix(t *testing.T) {
	var base content.EntryList
	segID := mustEID(t)
	base.Append(segID, content.Span{Begin: 0, End: 1, Len: 100})
	base.Append(segID, content.Span{Begin: 1, End: 2, Len: 100})
	base.Append(segID, content.Span{Begin: 2, End: 3, Len: 100})

	var overlay content.EntryList
	overlay.Offset = 100
	overlaySeg := mustEID(t)
	overlay.Append(overlaySeg, content.Span{Begin: 0, End: 1, Len: 100})

	head, tail := base.WriteWith(overlay)

	require.EqualValues(t, 300, base.Len)
	require.NotEmpty(t, head.Ents)
	require.NotEmpty(t, tail.Ents)
}
