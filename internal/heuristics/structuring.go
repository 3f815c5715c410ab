package heuristics

import (
	"time"

	"github.com/rawblock/mule-forensics/internal/graph"
	"github.com/rawblock/mule-forensics/pkg/models"
)

// Structuring (Smurfing) Detection
//
// A hub splits or gathers funds across many counterparties inside a short
// burst to stay under per-transaction reporting thresholds:
//
//   fan-out:  HUB -> {P1, P2, ... Pn}   within 72h
//   fan-in:   {P1, P2, ... Pn} -> HUB   within 72h
//
// The window is anchored on every event, not on a fixed grid: each
// transaction timestamp starts a candidate window that closes Window later
// (inclusive). A two-pointer sweep keeps a counterparty multiset so the cost
// per direction is O(n) after sorting.
//
// An account is flagged once, with the single best window across both
// directions as evidence.

type structuringWindow struct {
	direction string
	partners  int
	start     time.Time
	end       time.Time
}

// DetectStructuring flags hubs whose distinct counterparties inside any
// window strictly exceed the partner threshold.
func DetectStructuring(g *graph.Graph, cfg StructuringConfig) []models.Flag {
	var flags []models.Flag

	eachNode(g, func(i int) {
		best, ok := bestStructuringWindow(g, i, cfg)
		if !ok {
			return
		}
		start, end := best.start, best.end
		flags = append(flags, models.Flag{
			AccountID: g.ID(i),
			Kind:      models.PatternStructuring,
			Evidence: models.Evidence{
				Direction:    best.direction,
				PartnerCount: best.partners,
				WindowStart:  &start,
				WindowEnd:    &end,
			},
		})
	})
	return flags
}

func bestStructuringWindow(g *graph.Graph, i int, cfg StructuringConfig) (structuringWindow, bool) {
	id := g.ID(i)
	var best structuringWindow
	found := false

	consider := func(w structuringWindow, ok bool) {
		if !ok {
			return
		}
		if !found || w.partners > best.partners ||
			(w.partners == best.partners && w.start.Before(best.start)) {
			best = w
			found = true
		}
	}

	// Fan-out first so it wins ties on identical windows.
	if len(g.Successors(i)) > cfg.PartnerThreshold {
		consider(sweepWindow(g.Sent(i), models.DirectionFanOut, cfg, func(tx models.Transaction) string {
			return tx.ReceiverID
		}, id))
	}
	if len(g.Predecessors(i)) > cfg.PartnerThreshold {
		consider(sweepWindow(g.Received(i), models.DirectionFanIn, cfg, func(tx models.Transaction) string {
			return tx.SenderID
		}, id))
	}
	return best, found
}

// sweepWindow returns the qualifying window with the most distinct partners
// (earliest start on ties) over txs, which must be timestamp sorted.
func sweepWindow(txs []models.Transaction, direction string, cfg StructuringConfig, partnerOf func(models.Transaction) string, self string) (structuringWindow, bool) {
	counts := make(map[string]int)
	var best structuringWindow
	found := false

	right := 0
	for left := 0; left < len(txs); left++ {
		start := txs[left].Timestamp
		closes := start.Add(cfg.Window)

		for right < len(txs) && !txs[right].Timestamp.After(closes) {
			if p := partnerOf(txs[right]); p != self {
				counts[p]++
			}
			right++
		}

		if distinct := len(counts); distinct > cfg.PartnerThreshold && (!found || distinct > best.partners) {
			best = structuringWindow{
				direction: direction,
				partners:  distinct,
				start:     start,
				end:       txs[right-1].Timestamp,
			}
			found = true
		}

		if p := partnerOf(txs[left]); p != self {
			counts[p]--
			if counts[p] == 0 {
				delete(counts, p)
			}
		}
	}
	return best, found
}
