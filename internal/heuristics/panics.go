package heuristics

import (
	"fmt"

	"github.com/rawblock/mule-forensics/internal/graph"
)

// AccountPanic carries a panic raised while a detector or profile was
// working on one account. The engine unwraps it into a DetectorError.
type AccountPanic struct {
	AccountID string
	Value     any
}

func (p AccountPanic) String() string {
	return fmt.Sprintf("account %s: %v", p.AccountID, p.Value)
}

// eachNode calls fn for every node in index order.
func eachNode(g *graph.Graph, fn func(i int)) {
	for i := 0; i < g.NodeCount(); i++ {
		forNode(g, i, fn)
	}
}

// forNode runs fn for node i and re-raises any panic as an AccountPanic
// naming the node. The innermost attribution wins.
func forNode(g *graph.Graph, i int, fn func(i int)) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, ok := r.(AccountPanic); ok {
			panic(r)
		}
		panic(AccountPanic{AccountID: g.ID(i), Value: r})
	}()
	fn(i)
}
