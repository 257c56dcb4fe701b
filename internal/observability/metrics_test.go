package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Snapshot(t *testing.T) {
	m := NewMetrics()

	m.IncrReconciliation("applied")
	m.IncrReconciliation("applied")
	m.IncrReconciliation("rejected")
	m.IncrConflictRetry("confirm_payment")
	m.IncrUpload("failed")
	m.AddLateMarked(3)
	m.AddAggregateHeals(2)
	m.IncrCacheHit("loan")
	m.IncrCacheHit("loan")
	m.IncrCacheHit("loan")
	m.IncrCacheMiss("loan")
	m.RecordDuration("create_loan", 15*time.Millisecond)

	snap := m.Snapshot()

	assert.Equal(t, float64(2), snap.ReconciliationsApplied)
	assert.Equal(t, float64(1), snap.ReconciliationsRejected)
	assert.Equal(t, float64(1), snap.ConflictRetries)
	assert.Equal(t, float64(1), snap.UploadsFailed)
	assert.Equal(t, float64(3), snap.LateMarked)
	assert.Equal(t, float64(2), snap.AggregateHeals)
	assert.InDelta(t, 0.75, snap.CacheHitRate, 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.operationDuration))
}

func TestNewMetrics_Independent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.AddLateMarked(1)

	assert.Equal(t, float64(1), testutil.ToFloat64(a.lateMarked))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.lateMarked))
}
