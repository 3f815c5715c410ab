package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rawblock/mule-forensics/internal/graph"
	"github.com/rawblock/mule-forensics/internal/heuristics"
	"github.com/rawblock/mule-forensics/internal/metrics"
	"github.com/rawblock/mule-forensics/pkg/models"
)

// Analysis Engine
//
// One run processes one immutable batch:
//
//   build graph -> [structuring | cycles | shells | temporal] -> barrier
//     -> whitelist -> scoring -> rings -> report
//
// Detectors share the read-only graph and write only to their own result
// slot, so the fan-out needs no locking. A failing detector never cancels
// its siblings; every failure is joined into the returned error. The context
// is checked between stages and a cancelled run reports nothing.

// Stage names reported to progress callbacks and stage metrics.
const (
	StageGraph     = "graph"
	StageDetection = "detection"
	StageWhitelist = "whitelist"
	StageScoring   = "scoring"
	StageRings     = "rings"
	StageReport    = "report"
)

// Detector names.
const (
	DetectorStructuring     = "structuring"
	DetectorCircularRouting = "circular_routing"
	DetectorLayeredShell    = "layered_shell"
	DetectorTemporal        = "temporal"
)

// ProgressFunc receives a stage name and overall progress in [0, 1].
type ProgressFunc func(stage string, progress float64)

// Option configures an Engine.
type Option func(*Engine)

// WithProgress registers a progress callback. It may be called from
// detector goroutines but never concurrently.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) { e.progress = fn }
}

// WithRecorder records stage timings and outcome counters.
func WithRecorder(r *metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithProfiles replaces the built-in whitelist profiles.
func WithProfiles(profiles ...heuristics.Profile) Option {
	return func(e *Engine) { e.profiles = profiles }
}

type detectorResult struct {
	flags    []models.Flag
	cycles   []heuristics.Cycle
	coverage heuristics.CycleCoverage
}

type detector struct {
	name string
	run  func(g *graph.Graph) detectorResult
}

// Engine runs analyses with a fixed configuration. It keeps no state between
// runs and is safe for concurrent use.
type Engine struct {
	cfg       heuristics.Config
	logger    *zap.Logger
	progress  ProgressFunc
	recorder  *metrics.Recorder
	profiles  []heuristics.Profile
	detectors []detector
	now       func() time.Time
}

// New validates cfg and returns an engine.
func New(cfg heuristics.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:      cfg,
		logger:   logger.Named("engine"),
		profiles: heuristics.BuiltinProfiles(cfg.Whitelist),
		now:      time.Now,
	}
	e.detectors = []detector{
		{DetectorStructuring, func(g *graph.Graph) detectorResult {
			return detectorResult{flags: heuristics.DetectStructuring(g, cfg.Structuring)}
		}},
		{DetectorCircularRouting, func(g *graph.Graph) detectorResult {
			flags, cycles, coverage := heuristics.DetectCircularRouting(g, cfg.Cycles)
			return detectorResult{flags: flags, cycles: cycles, coverage: coverage}
		}},
		{DetectorLayeredShell, func(g *graph.Graph) detectorResult {
			return detectorResult{flags: heuristics.DetectLayeredShells(g, cfg.Shells)}
		}},
		{DetectorTemporal, func(g *graph.Graph) detectorResult {
			return detectorResult{flags: heuristics.DetectTemporalAnomalies(g, cfg.Temporal)}
		}},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() heuristics.Config { return e.cfg }

// With returns a copy of e with opts applied. The copy shares e's
// configuration and detectors; per-request progress callbacks use this.
func (e *Engine) With(opts ...Option) *Engine {
	c := *e
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// Analyze runs one full analysis over txs.
func (e *Engine) Analyze(ctx context.Context, txs []models.Transaction) (*models.Report, error) {
	batchID := uuid.NewString()
	started := e.now()
	log := e.logger.With(zap.String("batch_id", batchID), zap.Int("transactions", len(txs)))

	report, err := e.analyze(ctx, batchID, started, txs, log)
	switch {
	case err == nil:
		e.recorder.RunFinished("ok")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.recorder.RunFinished("cancelled")
		log.Info("Analysis cancelled", zap.Error(err))
	case isInvalidRecord(err):
		e.recorder.RunFinished("invalid")
		log.Warn("Batch rejected", zap.Error(err))
	default:
		e.recorder.RunFinished("failed")
		log.Error("Analysis failed", zap.Error(err))
	}
	return report, err
}

func (e *Engine) analyze(ctx context.Context, batchID string, started time.Time, txs []models.Transaction, log *zap.Logger) (*models.Report, error) {
	e.emit(StageGraph, 0.05)
	stageStart := time.Now()
	g, err := graph.Build(txs)
	if err != nil {
		return nil, err
	}
	e.recorder.ObserveStage(StageGraph, time.Since(stageStart))
	e.emit(StageGraph, 0.1)
	log.Debug("Graph built", zap.Int("accounts", g.NodeCount()), zap.Int("pairs", len(g.Edges())))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageStart = time.Now()
	results, err := e.detect(ctx, g, batchID)
	if err != nil {
		return nil, err
	}
	e.recorder.ObserveStage(StageDetection, time.Since(stageStart))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		flags    []models.Flag
		cycles   []heuristics.Cycle
		coverage heuristics.CycleCoverage
	)
	for _, r := range results {
		flags = append(flags, r.flags...)
		cycles = append(cycles, r.cycles...)
		coverage.CapHits = append(coverage.CapHits, r.coverage.CapHits...)
	}

	stageStart = time.Now()
	kept, suppressed, err := e.whitelist(g, flags, batchID)
	if err != nil {
		return nil, err
	}
	e.recorder.ObserveStage(StageWhitelist, time.Since(stageStart))
	e.recorder.AddSuppressed(len(suppressed))
	e.emit(StageWhitelist, 0.5)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageStart = time.Now()
	asm := newAssembler(e.cfg, g)
	accounts := asm.accounts(kept, suppressed)
	e.recorder.ObserveStage(StageScoring, time.Since(stageStart))
	e.emit(StageScoring, 0.6)

	stageStart = time.Now()
	rings := heuristics.BuildRings(ringCycles(cycles, suppressed), scoresOf(accounts))
	e.recorder.ObserveStage(StageRings, time.Since(stageStart))
	e.emit(StageRings, 0.7)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageStart = time.Now()
	report := asm.report(batchID, started, accounts, rings, coverage, e.now())
	e.recorder.ObserveStage(StageReport, time.Since(stageStart))

	for _, kind := range models.AllPatternKinds {
		n := 0
		for _, f := range kept {
			if f.Kind == kind {
				n++
			}
		}
		e.recorder.AddFlags(string(kind), n)
	}
	e.recorder.AddCycleCapHits(len(coverage.CapHits))
	e.recorder.SetAccounts(g.NodeCount())
	e.emit(StageReport, 1.0)

	log.Info("Analysis complete",
		zap.Int("accounts", report.Summary.TotalAccountsAnalyzed),
		zap.Int("suspicious", report.Summary.SuspiciousAccountsFlagged),
		zap.Int("rings", report.Summary.FraudRingsDetected),
		zap.Int("suppressed", len(suppressed)),
		zap.Bool("partial_coverage", report.Coverage.Partial),
		zap.Float64("seconds", report.Summary.ProcessingTimeSeconds),
	)
	return report, nil
}

// detect fans the detectors out over the shared graph and waits for all of
// them. Panics become DetectorErrors; none of them stops the others.
func (e *Engine) detect(ctx context.Context, g *graph.Graph, batchID string) ([]detectorResult, error) {
	results := make([]detectorResult, len(e.detectors))
	failures := make([]error, len(e.detectors))

	var mu sync.Mutex
	done := 0
	step := func() {
		mu.Lock()
		defer mu.Unlock()
		done++
		e.emit(StageDetection, 0.1+0.3*float64(done)/float64(len(e.detectors)))
	}

	var eg errgroup.Group
	eg.SetLimit(e.cfg.Workers)
	for i, d := range e.detectors {
		eg.Go(func() error {
			defer step()
			if ctx.Err() != nil {
				return nil
			}
			defer func() {
				if r := recover(); r != nil {
					failures[i] = recovered(d.name, batchID, r)
				}
			}()

			start := time.Now()
			results[i] = d.run(g)
			e.logger.Debug("Detector finished",
				zap.String("batch_id", batchID),
				zap.String("detector", d.name),
				zap.Int("flags", len(results[i].flags)),
				zap.Duration("took", time.Since(start)),
			)
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := errors.Join(failures...); err != nil {
		return nil, err
	}
	return results, nil
}

// whitelist applies the profiles. A panicking profile fails the run like a
// detector would.
func (e *Engine) whitelist(g *graph.Graph, flags []models.Flag, batchID string) (kept []models.Flag, suppressed map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			kept, suppressed = nil, nil
			err = recovered(StageWhitelist, batchID, r)
		}
	}()
	kept, suppressed = heuristics.ApplyWhitelist(g, flags, e.profiles)
	return kept, suppressed, nil
}

func (e *Engine) emit(stage string, progress float64) {
	if e.progress != nil {
		e.progress(stage, progress)
	}
}

func isInvalidRecord(err error) bool {
	var ire *graph.InvalidRecordError
	return errors.As(err, &ire)
}

// ringCycles drops cycles that pass through a whitelisted account; their
// circular routing flags are gone and so is the ring evidence.
func ringCycles(cycles []heuristics.Cycle, suppressed map[string]string) []heuristics.Cycle {
	if len(suppressed) == 0 {
		return cycles
	}
	out := cycles[:0:0]
	for _, c := range cycles {
		clean := true
		for _, m := range c.Members {
			if _, ok := suppressed[m]; ok {
				clean = false
				break
			}
		}
		if clean {
			out = append(out, c)
		}
	}
	return out
}

func scoresOf(accounts []models.AccountReport) map[string]int {
	scores := make(map[string]int, len(accounts))
	for _, a := range accounts {
		scores[a.AccountID] = a.SuspicionScore
	}
	return scores
}
