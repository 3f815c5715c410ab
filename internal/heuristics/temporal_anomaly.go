package heuristics

import (
	"math"
	"sort"

	"github.com/rawblock/mule-forensics/internal/graph"
	"github.com/rawblock/mule-forensics/pkg/models"
)

// Temporal Anomaly Detection
//
// Two independent checks per account:
//
//   - Nocturnal ratio: share of the account's transactions whose own
//     timestamp hour falls inside the night window (23:00-05:00 by default,
//     both ends inclusive). Mules operated by scripts or by handlers in
//     other time zones skew heavily toward night hours.
//   - Velocity: transactions per hour over the account's active span,
//     compared with the population median, plus a count of back-to-back
//     gaps shorter than RapidGap (inhuman cadence).
//
// Accounts below the minimum transaction counts are never evaluated; a
// ratio over two transactions says nothing.

// Velocity flag reasons.
const (
	VelocityReasonRate      = "rate_above_population"
	VelocityReasonRapidGaps = "repeated_rapid_gaps"
)

// DetectTemporalAnomalies runs the nocturnal and velocity sub-checks.
func DetectTemporalAnomalies(g *graph.Graph, cfg TemporalConfig) []models.Flag {
	n := g.NodeCount()
	incident := make([][]models.Transaction, n)
	for i := 0; i < n; i++ {
		incident[i] = g.Incident(i)
	}

	var flags []models.Flag
	eachNode(g, func(i int) {
		if f, ok := nocturnalFlag(g.ID(i), incident[i], cfg); ok {
			flags = append(flags, f)
		}
	})

	rates := make([]float64, n)
	var population []float64
	for i := 0; i < n; i++ {
		if len(incident[i]) < cfg.VelocityMinTransactions {
			continue
		}
		rates[i] = txPerHour(incident[i], cfg)
		population = append(population, rates[i])
	}
	median := medianOf(population)

	eachNode(g, func(i int) {
		txs := incident[i]
		if len(txs) < cfg.VelocityMinTransactions {
			return
		}
		rapid := rapidGaps(txs, cfg)

		ev := models.Evidence{
			TxPerHour:         round2(rates[i]),
			PopulationMedian:  round2(median),
			RapidGaps:         rapid,
			TotalTransactions: len(txs),
		}
		switch {
		case median > 0 && rates[i] > cfg.VelocityMultiplier*median && rates[i] >= cfg.VelocityFloorPerHour:
			ev.Reason = VelocityReasonRate
		case rapid >= cfg.RapidGapRepeats:
			ev.Reason = VelocityReasonRapidGaps
		default:
			return
		}
		flags = append(flags, models.Flag{
			AccountID: g.ID(i),
			Kind:      models.PatternVelocityAnomaly,
			Evidence:  ev,
		})
	})
	return flags
}

func nocturnalFlag(id string, txs []models.Transaction, cfg TemporalConfig) (models.Flag, bool) {
	if len(txs) < cfg.NocturnalMinTransactions {
		return models.Flag{}, false
	}
	night := 0
	for _, tx := range txs {
		if isNightHour(tx.Timestamp.Hour(), cfg.NightStartHour, cfg.NightEndHour) {
			night++
		}
	}
	ratio := float64(night) / float64(len(txs))
	if ratio <= cfg.NocturnalRatio {
		return models.Flag{}, false
	}
	return models.Flag{
		AccountID: id,
		Kind:      models.PatternNocturnalAnomaly,
		Evidence: models.Evidence{
			NightTransactions: night,
			TotalTransactions: len(txs),
			Ratio:             round2(ratio),
		},
	}, true
}

// isNightHour reports whether hour lies in [start, end], wrapping midnight when start > end.
func isNightHour(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}

func txPerHour(txs []models.Transaction, cfg TemporalConfig) float64 {
	span := txs[len(txs)-1].Timestamp.Sub(txs[0].Timestamp)
	if span < cfg.VelocityMinSpan {
		span = cfg.VelocityMinSpan
	}
	return float64(len(txs)) / span.Hours()
}

func rapidGaps(txs []models.Transaction, cfg TemporalConfig) int {
	count := 0
	for i := 1; i < len(txs); i++ {
		if txs[i].Timestamp.Sub(txs[i-1].Timestamp) < cfg.RapidGap {
			count++
		}
	}
	return count
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
