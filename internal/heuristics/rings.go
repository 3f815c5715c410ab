package heuristics

import (
	"fmt"
	"math"
	"sort"

	"github.com/rawblock/mule-forensics/pkg/models"
)

// Fraud Ring Assembly (Union-Find)
//
// Cycles that share an account are operated together: merging every cycle's
// members into one disjoint set yields the rings.
//
//   A -> B -> C -> A   and   C -> D -> E -> C   =>   ring {A, B, C, D, E}
//
// Weighted Union-Find with path compression keeps Find and Union at
// amortised near-constant cost.
//
// Ring ids are assigned after sorting: larger rings first, then by the
// lexicographically smallest member, so ids are stable across runs of the
// same batch.

// RingPatternCycle is the pattern type of cycle-derived rings.
const RingPatternCycle = "cycle"

// RingBuilder merges cycle members into disjoint rings.
type RingBuilder struct {
	parent map[string]string
	rank   map[string]int
	order  []string // First-seen member order
	seen   map[string]bool
	cycled []Cycle
}

// NewRingBuilder creates an empty builder.
func NewRingBuilder() *RingBuilder {
	return &RingBuilder{
		parent: make(map[string]string),
		rank:   make(map[string]int),
		seen:   make(map[string]bool),
	}
}

// Find returns the root representative of the set containing id.
func (rb *RingBuilder) Find(id string) string {
	if _, exists := rb.parent[id]; !exists {
		rb.parent[id] = id
		rb.rank[id] = 0
	}
	if rb.parent[id] != id {
		rb.parent[id] = rb.Find(rb.parent[id])
	}
	return rb.parent[id]
}

// Union merges the sets containing a and b. Returns true if a merge occurred.
func (rb *RingBuilder) Union(a, b string) bool {
	ra, rbRoot := rb.Find(a), rb.Find(b)
	if ra == rbRoot {
		return false
	}
	switch {
	case rb.rank[ra] < rb.rank[rbRoot]:
		rb.parent[ra] = rbRoot
	case rb.rank[ra] > rb.rank[rbRoot]:
		rb.parent[rbRoot] = ra
	default:
		rb.parent[rbRoot] = ra
		rb.rank[ra]++
	}
	return true
}

// AddCycle merges every member of c into one set.
func (rb *RingBuilder) AddCycle(c Cycle) {
	if len(c.Members) == 0 {
		return
	}
	for _, m := range c.Members {
		if !rb.seen[m] {
			rb.seen[m] = true
			rb.order = append(rb.order, m)
		}
		rb.Union(c.Members[0], m)
	}
	rb.cycled = append(rb.cycled, c)
}

// Rings returns the assembled rings. scores supplies each member's suspicion
// score; a ring's risk score is the mean over its members, one decimal.
func (rb *RingBuilder) Rings(scores map[string]int) []models.FraudRing {
	members := make(map[string][]string)
	for _, id := range rb.order {
		root := rb.Find(id)
		members[root] = append(members[root], id)
	}
	cycleCount := make(map[string]int)
	for _, c := range rb.cycled {
		cycleCount[rb.Find(c.Members[0])]++
	}

	rings := make([]models.FraudRing, 0, len(members))
	for root, ids := range members {
		sort.Strings(ids)
		total := 0
		for _, id := range ids {
			total += scores[id]
		}
		mean := float64(total) / float64(len(ids))
		rings = append(rings, models.FraudRing{
			Members:     ids,
			PatternType: RingPatternCycle,
			CycleCount:  cycleCount[root],
			RiskScore:   math.Round(mean*10) / 10,
		})
	}

	sort.Slice(rings, func(a, b int) bool {
		if len(rings[a].Members) != len(rings[b].Members) {
			return len(rings[a].Members) > len(rings[b].Members)
		}
		return rings[a].Members[0] < rings[b].Members[0]
	})
	for i := range rings {
		rings[i].RingID = fmt.Sprintf("RING_%03d", i+1)
	}
	return rings
}

// BuildRings is a convenience wrapper over RingBuilder.
func BuildRings(cycles []Cycle, scores map[string]int) []models.FraudRing {
	rb := NewRingBuilder()
	for _, c := range cycles {
		rb.AddCycle(c)
	}
	return rb.Rings(scores)
}
