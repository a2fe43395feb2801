package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/metrics"
)

// counterValue finds a counter's value among gathered metric families by
// name and label match, failing the test if it isn't present.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m.GetLabel(), labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) != len(want) {
		return false
	}
	for _, lp := range got {
		if want[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestRecordCommitIncrementsByCohort(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RecordCommit("cow", 0.01)
	m.RecordCommit("cow", 0.02)
	m.RecordCommit("direct", 0.01)

	require.Equal(t, 2.0, counterValue(t, reg, "sealedfs_tx_commits_total", map[string]string{"cohort": "cow"}))
	require.Equal(t, 1.0, counterValue(t, reg, "sealedfs_tx_commits_total", map[string]string{"cohort": "direct"}))
}

func TestRecordChunkTracksDedupCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RecordChunk(false)
	m.RecordChunk(true)
	m.RecordChunk(true)

	require.Equal(t, 3.0, counterValue(t, reg, "sealedfs_chunks_seen_total", nil))
	require.Equal(t, 2.0, counterValue(t, reg, "sealedfs_chunks_deduped_total", nil))
}

func TestRecordCacheHitMissEviction(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RecordCacheHit("frame")
	m.RecordCacheMiss("frame")
	m.RecordCacheEviction("frame")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}

func TestRecordRecoveryObservesCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RecordRecovery(2, 1, 0.5)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}

func TestRecordArmSwapByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RecordArmSwap("cow")
	m.RecordSegmentShrink()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}
