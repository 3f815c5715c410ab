package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.ObserveStage("graph", 20*time.Millisecond)
	r.AddFlags("structuring", 3)
	r.AddFlags("structuring", 2)
	r.AddSuppressed(4)
	r.AddCycleCapHits(1)
	r.SetAccounts(120)
	r.SetRingStability(0.8, 0.3)
	r.RunFinished("ok")

	assert.Equal(t, 5.0, testutil.ToFloat64(r.Flags.WithLabelValues("structuring")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.Suppressed))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CycleCapHits))
	assert.Equal(t, 120.0, testutil.ToFloat64(r.AccountsAnalyzed))
	assert.Equal(t, 0.8, testutil.ToFloat64(r.RingStabilityARI))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Runs.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.StageDuration))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveStage("graph", time.Second)
		r.AddFlags("structuring", 1)
		r.AddSuppressed(1)
		r.AddCycleCapHits(1)
		r.SetAccounts(1)
		r.SetRingStability(1, 0)
		r.RunFinished("ok")
	})
}
