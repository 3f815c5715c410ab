package heuristics

import (
	"strings"

	"github.com/rawblock/mule-forensics/internal/graph"
	"github.com/rawblock/mule-forensics/pkg/models"
)

// Layered Shell Network Detection
//
// Shell accounts exist only to forward funds one step further down a chain:
//
//   SRC -> S1 -> S2 -> ... -> DST
//
// Each intermediary receives once and forwards once or twice, so its total
// transaction count sits in a tiny band (default 2..3). That pass-through
// signature, chained over at least two hops, is the layering step of the
// classic placement/layering/integration model.
//
// Unlike cycle detection the path does not need to close. A chain ends at
// the first successor outside the pass-through band, or at a pass-through
// node with no further forwarding edge. Nodes are never revisited.
//
// Every intermediary is flagged once, with the longest chain it sits on.

type shellChain struct {
	nodes []int
}

// DetectLayeredShells flags every intermediate node of a qualifying pass-through chain.
func DetectLayeredShells(g *graph.Graph, cfg ShellConfig) []models.Flag {
	n := g.NodeCount()
	isPassThrough := make([]bool, n)
	for i := 0; i < n; i++ {
		c := g.Stats(i).TransactionCount
		isPassThrough[i] = c >= cfg.MinPassThroughTx && c <= cfg.MaxPassThroughTx
	}

	best := make(map[int]shellChain)
	record := func(chain []int) {
		hops := len(chain) - 1
		intermediates := chain[1 : len(chain)-1]
		if hops < cfg.MinChainHops || len(intermediates) < cfg.MinIntermediaries {
			return
		}
		c := shellChain{nodes: append([]int(nil), chain...)}
		for _, mid := range intermediates {
			if cur, ok := best[mid]; !ok || longerChain(g, c, cur) {
				best[mid] = c
			}
		}
	}

	onPath := make([]bool, n)
	hasForward := func(v int) bool {
		for _, w := range g.Successors(v) {
			if !onPath[w] {
				return true
			}
		}
		return false
	}

	var extend func(path []int)
	extend = func(path []int) {
		u := path[len(path)-1]
		for _, v := range g.Successors(u) {
			if onPath[v] {
				continue
			}
			chain := append(path, v)
			hops := len(chain) - 1

			onPath[v] = true
			if isPassThrough[v] && hops < cfg.MaxChainHops && hasForward(v) {
				extend(chain)
			} else {
				record(chain)
			}
			onPath[v] = false
		}
	}

	eachNode(g, func(start int) {
		if len(g.Successors(start)) == 0 {
			return
		}
		path := make([]int, 1, cfg.MaxChainHops+1)
		path[0] = start
		onPath[start] = true
		extend(path)
		onPath[start] = false
	})

	flags := make([]models.Flag, 0, len(best))
	for mid := 0; mid < n; mid++ {
		c, ok := best[mid]
		if !ok {
			continue
		}
		ids := make([]string, len(c.nodes))
		counts := make([]int, len(c.nodes))
		for i, idx := range c.nodes {
			ids[i] = g.ID(idx)
			counts[i] = g.Stats(idx).TransactionCount
		}
		flags = append(flags, models.Flag{
			AccountID: g.ID(mid),
			Kind:      models.PatternLayeredShell,
			Evidence: models.Evidence{
				Chain:         ids,
				ChainTxCounts: counts,
			},
		})
	}
	return flags
}

// longerChain orders chains by node count, then by joined account ids.
func longerChain(g *graph.Graph, a, b shellChain) bool {
	if len(a.nodes) != len(b.nodes) {
		return len(a.nodes) > len(b.nodes)
	}
	return joinIDs(g, a.nodes) < joinIDs(g, b.nodes)
}

func joinIDs(g *graph.Graph, nodes []int) string {
	ids := make([]string, len(nodes))
	for i, idx := range nodes {
		ids[i] = g.ID(idx)
	}
	return strings.Join(ids, "\x00")
}
