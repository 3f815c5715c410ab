package heuristics

import (
	"sort"

	"github.com/rawblock/mule-forensics/pkg/models"
)

// Risk Scoring Matrix
//
// Fuses the surviving flags of one account into a 0-100 suspicion score.
//
// Risk composition:
//   Base score starts at 0 (clean)
//   Each pattern kind present adds its weight once, however many windows,
//   cycles or chains produced it
//   The sum is clamped at the ceiling
//
// Default weights:
//   structuring       +40
//   circular routing  +35
//   layered shell     +30
//   nocturnal         +25
//   velocity          +20
//
// The score is a pure function of the flag set: recomputing it from the same
// flags always yields the same value.

// Weight returns the configured contribution of kind.
func (c ScoringConfig) Weight(kind models.PatternKind) int {
	switch kind {
	case models.PatternStructuring:
		return c.StructuringWeight
	case models.PatternCircularRouting:
		return c.CircularRoutingWeight
	case models.PatternLayeredShell:
		return c.LayeredShellWeight
	case models.PatternNocturnalAnomaly:
		return c.NocturnalAnomalyWeight
	case models.PatternVelocityAnomaly:
		return c.VelocityAnomalyWeight
	default:
		return 0
	}
}

// ScoreAccount sums each distinct kind's weight once and clamps to [0, Ceiling].
func ScoreAccount(flags []models.Flag, cfg ScoringConfig) int {
	score := 0
	for _, kind := range ContributingKinds(flags, cfg) {
		score += cfg.Weight(kind)
	}
	if score > cfg.Ceiling {
		score = cfg.Ceiling
	}
	if score < 0 {
		score = 0
	}
	return score
}

// ContributingKinds returns the distinct kinds in flags ordered by weight
// (highest first), then by kind name.
func ContributingKinds(flags []models.Flag, cfg ScoringConfig) []models.PatternKind {
	seen := make(map[models.PatternKind]bool)
	var kinds []models.PatternKind
	for _, f := range flags {
		if seen[f.Kind] {
			continue
		}
		seen[f.Kind] = true
		kinds = append(kinds, f.Kind)
	}
	sort.Slice(kinds, func(a, b int) bool {
		wa, wb := cfg.Weight(kinds[a]), cfg.Weight(kinds[b])
		if wa != wb {
			return wa > wb
		}
		return kinds[a] < kinds[b]
	})
	return kinds
}

// RiskLevel maps a score to the label of the highest band it reaches.
func RiskLevel(score int, bands []RiskBand) string {
	label := ""
	bestMin := -1
	for _, b := range bands {
		if score >= b.MinScore && b.MinScore > bestMin {
			label = b.Label
			bestMin = b.MinScore
		}
	}
	return label
}

// GroupFlags indexes flags by account, keeping detector order.
func GroupFlags(flags []models.Flag) map[string][]models.Flag {
	grouped := make(map[string][]models.Flag)
	for _, f := range flags {
		grouped[f.AccountID] = append(grouped[f.AccountID], f)
	}
	return grouped
}
