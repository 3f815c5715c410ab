package heuristics

import (
	"github.com/rawblock/mule-forensics/internal/graph"
	"github.com/rawblock/mule-forensics/pkg/models"
)

// Circular Routing (Carousel) Detection
//
// Funds leave an account and return to it through a closed loop of
// intermediaries, obscuring their origin:
//
//   A -> B -> C -> A            (3 hops)
//   A -> B -> C -> D -> E -> A  (5 hops)
//
// Enumeration is a bounded DFS over the pair adjacency. Each simple cycle is
// reported exactly once, from its lowest-index member, by only walking nodes
// with a larger index than the start. Paths are pruned once they could no
// longer close within MaxLength hops.
//
// This is the costliest detector on dense graphs. MaxPathsPerNode caps the
// path extensions explored from one start node; hitting it is recorded as
// partial coverage rather than an error.

// Cycle is one detected loop in traversal order, starting at its lowest-index member.
type Cycle struct {
	Members []string
}

// CycleCoverage records start accounts whose exploration hit the path cap.
type CycleCoverage struct {
	CapHits []string
}

// Partial reports whether any exploration was truncated.
func (c CycleCoverage) Partial() bool { return len(c.CapHits) > 0 }

// DetectCircularRouting enumerates simple cycles of MinLength..MaxLength hops
// and flags every member of every cycle.
func DetectCircularRouting(g *graph.Graph, cfg CycleConfig) ([]models.Flag, []Cycle, CycleCoverage) {
	var (
		flags    []models.Flag
		cycles   []Cycle
		coverage CycleCoverage
	)

	n := g.NodeCount()
	onPath := make([]bool, n)
	path := make([]int, 0, cfg.MaxLength)

	eachNode(g, func(start int) {
		if len(g.Successors(start)) == 0 || len(g.Predecessors(start)) == 0 {
			return
		}

		explored := 0
		capped := false

		var walk func(u int)
		walk = func(u int) {
			for _, v := range g.Successors(u) {
				if capped {
					return
				}
				if v == start {
					if len(path) >= cfg.MinLength {
						cycles = append(cycles, newCycle(g, path))
					}
					continue
				}
				if v < start || onPath[v] || len(path)+1 > cfg.MaxLength {
					continue
				}

				explored++
				if explored > cfg.MaxPathsPerNode {
					capped = true
					return
				}

				onPath[v] = true
				path = append(path, v)
				walk(v)
				path = path[:len(path)-1]
				onPath[v] = false
			}
		}

		onPath[start] = true
		path = append(path[:0], start)
		walk(start)
		onPath[start] = false

		if capped {
			coverage.CapHits = append(coverage.CapHits, g.ID(start))
		}
	})

	for _, c := range cycles {
		for _, member := range c.Members {
			flags = append(flags, models.Flag{
				AccountID: member,
				Kind:      models.PatternCircularRouting,
				Evidence: models.Evidence{
					Cycle:    append([]string(nil), c.Members...),
					HopCount: len(c.Members),
				},
			})
		}
	}
	return flags, cycles, coverage
}

func newCycle(g *graph.Graph, path []int) Cycle {
	members := make([]string, len(path))
	for i, idx := range path {
		members[i] = g.ID(idx)
	}
	return Cycle{Members: members}
}
