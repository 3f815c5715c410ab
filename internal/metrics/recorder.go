package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the engine's Prometheus collectors. A nil *Recorder is a
// valid no-op, so callers never need to guard metric calls.
type Recorder struct {
	StageDuration    *prometheus.HistogramVec
	Flags            *prometheus.CounterVec
	Suppressed       prometheus.Counter
	CycleCapHits     prometheus.Counter
	AccountsAnalyzed prometheus.Gauge
	RingStabilityARI prometheus.Gauge
	RingStabilityVI  prometheus.Gauge
	Runs             *prometheus.CounterVec
}

// NewRecorder creates and registers every collector on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mule",
				Name:      "analysis_duration_seconds",
				Help:      "Wall time of each analysis stage",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"stage"},
		),
		Flags: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mule",
				Name:      "flags_total",
				Help:      "Detector flags surviving the whitelist, by pattern kind",
			},
			[]string{"kind"},
		),
		Suppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "mule",
			Name:      "suppressed_accounts_total",
			Help:      "Accounts whose flags were suppressed by a whitelist profile",
		}),
		CycleCapHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "mule",
			Name:      "cycle_cap_hits_total",
			Help:      "Start accounts whose cycle exploration hit the path cap",
		}),
		AccountsAnalyzed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "mule",
			Name:      "accounts_analyzed",
			Help:      "Accounts in the most recent analysis run",
		}),
		RingStabilityARI: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "mule",
			Name:      "ring_stability_ari",
			Help:      "Adjusted Rand Index between the fraud ring partitions of consecutive feed runs",
		}),
		RingStabilityVI: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "mule",
			Name:      "ring_stability_vi",
			Help:      "Variation of Information between the fraud ring partitions of consecutive feed runs",
		}),
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mule",
				Name:      "analysis_runs_total",
				Help:      "Analysis runs by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveStage records how long one stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// AddFlags counts surviving flags of one kind.
func (r *Recorder) AddFlags(kind string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.Flags.WithLabelValues(kind).Add(float64(n))
}

// AddSuppressed counts whitelisted accounts.
func (r *Recorder) AddSuppressed(n int) {
	if r == nil || n == 0 {
		return
	}
	r.Suppressed.Add(float64(n))
}

// AddCycleCapHits counts truncated cycle explorations.
func (r *Recorder) AddCycleCapHits(n int) {
	if r == nil || n == 0 {
		return
	}
	r.CycleCapHits.Add(float64(n))
}

// SetAccounts sets the account count of the latest run.
func (r *Recorder) SetAccounts(n int) {
	if r == nil {
		return
	}
	r.AccountsAnalyzed.Set(float64(n))
}

// SetRingStability publishes the ring partition comparison of two runs.
func (r *Recorder) SetRingStability(ari, vi float64) {
	if r == nil {
		return
	}
	r.RingStabilityARI.Set(ari)
	r.RingStabilityVI.Set(vi)
}

// RunFinished counts a run as "ok", "invalid", "cancelled" or "failed".
func (r *Recorder) RunFinished(outcome string) {
	if r == nil {
		return
	}
	r.Runs.WithLabelValues(outcome).Inc()
}
