package heuristics

import (
	"math"
	"time"

	"github.com/rawblock/mule-forensics/internal/graph"
	"github.com/rawblock/mule-forensics/pkg/models"
)

// Whitelist Filter
//
// Legitimate high-volume actors trip the same structural detectors as mules:
// a busy shop fans in from hundreds of customers, an employer fans out to the
// same staff every month. Profiles recognise those shapes and suppress every
// flag of a matching account for the current run.
//
// The filter runs strictly after detection and only ever removes flags, so
// detectors stay pure and a suppressed account can never score higher.

// Built-in profile names.
const (
	ProfileMerchant = "merchant"
	ProfilePayroll  = "payroll"
)

// Profile is a named predicate over an account's aggregates.
type Profile struct {
	Name  string
	Match func(g *graph.Graph, node int) bool
}

// BuiltinProfiles returns the merchant and payroll profiles for cfg.
func BuiltinProfiles(cfg WhitelistConfig) []Profile {
	if !cfg.Enabled {
		return nil
	}
	return []Profile{
		{Name: ProfileMerchant, Match: func(g *graph.Graph, node int) bool { return isMerchant(g, node, cfg) }},
		{Name: ProfilePayroll, Match: func(g *graph.Graph, node int) bool { return isPayroll(g, node, cfg) }},
	}
}

// ApplyWhitelist drops every flag of accounts matching a profile. It returns
// the surviving flags and the matching profile per suppressed account.
func ApplyWhitelist(g *graph.Graph, flags []models.Flag, profiles []Profile) ([]models.Flag, map[string]string) {
	suppressed := make(map[string]string)
	if len(profiles) == 0 {
		return flags, suppressed
	}

	verdict := make(map[string]string)
	evaluated := make(map[string]bool)
	for _, f := range flags {
		if evaluated[f.AccountID] {
			continue
		}
		evaluated[f.AccountID] = true
		node, ok := g.Index(f.AccountID)
		if !ok {
			continue
		}
		forNode(g, node, func(node int) {
			for _, p := range profiles {
				if p.Match(g, node) {
					verdict[f.AccountID] = p.Name
					return
				}
			}
		})
	}

	kept := make([]models.Flag, 0, len(flags))
	for _, f := range flags {
		if name, ok := verdict[f.AccountID]; ok {
			suppressed[f.AccountID] = name
			continue
		}
		kept = append(kept, f)
	}
	return kept, suppressed
}

// isMerchant: broad commerce with many counterparties and no dominant one.
func isMerchant(g *graph.Graph, node int, cfg WhitelistConfig) bool {
	s := g.Stats(node)
	if s.Counterparties < cfg.MerchantMinCounterparties || s.TransactionCount < cfg.MerchantMinTransactions {
		return false
	}
	// A burst inside one structuring window is fan-out, not trade
	if s.LastSeen.Sub(s.FirstSeen) < cfg.MerchantMinActiveSpan {
		return false
	}

	id := g.ID(node)
	perCounterparty := make(map[string]int)
	for _, tx := range g.Incident(node) {
		perCounterparty[counterpartyOf(tx, id)]++
	}
	top := 0
	for _, c := range perCounterparty {
		if c > top {
			top = c
		}
	}
	return float64(top)/float64(s.TransactionCount) <= cfg.MerchantMaxConcentration
}

// isPayroll: a few fixed counterparties, each paid (or paying) on a regular
// schedule with a consistent amount. Every pair must run the same way: a
// pure payer or a pure payee. Money that comes in and goes out again is a
// relay.
func isPayroll(g *graph.Graph, node int, cfg WhitelistConfig) bool {
	s := g.Stats(node)
	if s.Counterparties == 0 || s.Counterparties > cfg.PayrollMaxCounterparties {
		return false
	}

	id := g.ID(node)
	type series struct {
		times   []time.Time
		amounts []float64
	}
	pairs := make(map[string]*series)
	incident := g.Incident(node)
	payer := incident[0].SenderID == id
	for _, tx := range incident {
		cp := counterpartyOf(tx, id)
		if cp == id || (tx.SenderID == id) != payer {
			return false
		}
		ps, ok := pairs[cp]
		if !ok {
			ps = &series{}
			pairs[cp] = ps
		}
		ps.times = append(ps.times, tx.Timestamp)
		ps.amounts = append(ps.amounts, tx.Amount.InexactFloat64())
	}

	for _, ps := range pairs {
		if len(ps.times) < cfg.PayrollMinOccurrences {
			return false
		}
		gaps := make([]float64, 0, len(ps.times)-1)
		for i := 1; i < len(ps.times); i++ {
			gaps = append(gaps, ps.times[i].Sub(ps.times[i-1]).Seconds())
		}
		gapCV, ok := coefficientOfVariation(gaps)
		if !ok || gapCV > cfg.PayrollMaxIntervalCV {
			return false
		}
		amountCV, ok := coefficientOfVariation(ps.amounts)
		if !ok || amountCV > cfg.PayrollMaxAmountCV {
			return false
		}
	}
	return true
}

func counterpartyOf(tx models.Transaction, self string) string {
	if tx.SenderID == self {
		return tx.ReceiverID
	}
	return tx.SenderID
}

// coefficientOfVariation returns stddev/mean; undefined for a non-positive mean.
func coefficientOfVariation(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean <= 0 {
		return 0, false
	}
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq/float64(len(values))) / mean, true
}
