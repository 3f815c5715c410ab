package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rawblock/mule-forensics/internal/graph"
	"github.com/rawblock/mule-forensics/internal/heuristics"
	"github.com/rawblock/mule-forensics/pkg/models"
)

// assembler turns graph aggregates and surviving flags into the report.
// Every node of the graph gets exactly one account entry.
type assembler struct {
	cfg heuristics.Config
	g   *graph.Graph
}

func newAssembler(cfg heuristics.Config, g *graph.Graph) *assembler {
	return &assembler{cfg: cfg, g: g}
}

// accounts scores and classifies every account, highest score first.
func (a *assembler) accounts(flags []models.Flag, suppressed map[string]string) []models.AccountReport {
	byAccount := heuristics.GroupFlags(flags)
	out := make([]models.AccountReport, 0, a.g.NodeCount())

	for i := 0; i < a.g.NodeCount(); i++ {
		id := a.g.ID(i)
		stats := a.g.Stats(i)
		own := byAccount[id]

		score := heuristics.ScoreAccount(own, a.cfg.Scoring)
		level := heuristics.RiskLevel(score, a.cfg.Scoring.Bands)
		role := heuristics.RoleFor(stats, a.cfg.Roles)

		out = append(out, models.AccountReport{
			AccountID:        id,
			SuspicionScore:   score,
			RiskLevel:        level,
			Role:             role,
			Classification:   heuristics.Classify(level, role),
			Patterns:         a.patterns(own),
			SuppressedBy:     suppressed[id],
			InDegree:         stats.InDegree,
			OutDegree:        stats.OutDegree,
			TransactionCount: stats.TransactionCount,
		})
	}

	sort.SliceStable(out, func(x, y int) bool {
		if out[x].SuspicionScore != out[y].SuspicionScore {
			return out[x].SuspicionScore > out[y].SuspicionScore
		}
		return out[x].AccountID < out[y].AccountID
	})
	return out
}

// patterns lists every flag as a hit, heaviest kind first.
func (a *assembler) patterns(flags []models.Flag) []models.PatternHit {
	if len(flags) == 0 {
		return []models.PatternHit{}
	}
	hits := make([]models.PatternHit, 0, len(flags))
	for _, kind := range heuristics.ContributingKinds(flags, a.cfg.Scoring) {
		for _, f := range flags {
			if f.Kind == kind {
				hits = append(hits, models.PatternHit{Kind: f.Kind, Evidence: f.Evidence})
			}
		}
	}
	return hits
}

func (a *assembler) report(batchID string, started time.Time, accounts []models.AccountReport, rings []models.FraudRing, coverage heuristics.CycleCoverage, finished time.Time) *models.Report {
	suspicious, total := 0, 0
	for _, acc := range accounts {
		if acc.SuspicionScore > 0 {
			suspicious++
			total += acc.SuspicionScore
		}
	}
	avg := 0.0
	if suspicious > 0 {
		avg = math.Round(float64(total)/float64(suspicious)*100) / 100
	}

	cov := models.Coverage{Partial: coverage.Partial()}
	if cov.Partial {
		cov.CycleCapHits = append([]string(nil), coverage.CapHits...)
		sort.Strings(cov.CycleCapHits)
		cov.Notes = append(cov.Notes, fmt.Sprintf(
			"cycle exploration stopped at %d paths for %d start accounts; circular routing recall may be reduced",
			a.cfg.Cycles.MaxPathsPerNode, len(cov.CycleCapHits)))
	}
	if rings == nil {
		rings = []models.FraudRing{}
	}

	return &models.Report{
		BatchID:     batchID,
		GeneratedAt: finished.UTC(),
		Accounts:    accounts,
		FraudRings:  rings,
		Summary: models.Summary{
			TotalAccountsAnalyzed:     a.g.NodeCount(),
			TotalTransactions:         a.g.TransactionCount(),
			SuspiciousAccountsFlagged: suspicious,
			FraudRingsDetected:        len(rings),
			AvgRiskScore:              avg,
			ProcessingTimeSeconds:     math.Round(finished.Sub(started).Seconds()*1000) / 1000,
		},
		Coverage: cov,
	}
}
