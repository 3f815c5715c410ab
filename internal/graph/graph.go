package graph

import (
	"sort"
	"sync"
	"time"

	"github.com/rawblock/mule-forensics/pkg/models"
	"github.com/shopspring/decimal"
)

// Transaction Graph
//
// Accounts are nodes addressed by dense integer indices; transactions are
// directed edges. Parallel transactions between the same ordered pair are
// kept individually on a single pair Edge, sorted by timestamp, because the
// window and count based detectors need per-event timestamps.
//
// The graph is immutable after Build and safe for concurrent readers.

// Edge carries every transaction from one account to another.
type Edge struct {
	From         int
	To           int
	Transactions []models.Transaction
}

// Stats are the lazily derived per-account aggregates.
type Stats struct {
	InDegree         int // Distinct senders
	OutDegree        int // Distinct receivers
	InCount          int
	OutCount         int
	TransactionCount int // Incident transactions, self-transfers counted once
	Counterparties   int // Distinct accounts on either side
	TotalIn          decimal.Decimal
	TotalOut         decimal.Decimal
	FirstSeen        time.Time
	LastSeen         time.Time
}

// Graph is the directed transaction multigraph of one batch.
type Graph struct {
	ids   []string
	index map[string]int

	succ  [][]int
	pred  [][]int
	edges []Edge
	pairs map[[2]int]int // (from,to) -> edge index

	sent     [][]models.Transaction // Outgoing per node, by time
	received [][]models.Transaction // Incoming per node, by time
	txCount  int

	statsOnce []sync.Once
	stats     []Stats
}

// NodeCount returns the number of accounts.
func (g *Graph) NodeCount() int { return len(g.ids) }

// TransactionCount returns the number of transactions in the batch.
func (g *Graph) TransactionCount() int { return g.txCount }

// ID returns the account identifier of node i.
func (g *Graph) ID(i int) string { return g.ids[i] }

// IDs returns all account identifiers in index order.
func (g *Graph) IDs() []string { return append([]string(nil), g.ids...) }

// Index resolves an account identifier to its node index.
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Successors returns the sorted distinct receivers of node i. Self-transfers are excluded.
func (g *Graph) Successors(i int) []int { return g.succ[i] }

// Predecessors returns the sorted distinct senders of node i. Self-transfers are excluded.
func (g *Graph) Predecessors(i int) []int { return g.pred[i] }

// Edges returns all pair edges.
func (g *Graph) Edges() []Edge { return g.edges }

// Edge returns the pair edge from -> to.
func (g *Graph) Edge(from, to int) (Edge, bool) {
	idx, ok := g.pairs[[2]int{from, to}]
	if !ok {
		return Edge{}, false
	}
	return g.edges[idx], true
}

// HasEdge reports whether at least one transaction goes from -> to.
func (g *Graph) HasEdge(from, to int) bool {
	_, ok := g.pairs[[2]int{from, to}]
	return ok
}

// Sent returns node i's outgoing transactions sorted by timestamp.
func (g *Graph) Sent(i int) []models.Transaction { return g.sent[i] }

// Received returns node i's incoming transactions sorted by timestamp.
func (g *Graph) Received(i int) []models.Transaction { return g.received[i] }

// Incident returns every transaction touching node i sorted by timestamp,
// with self-transfers appearing once.
func (g *Graph) Incident(i int) []models.Transaction {
	out := make([]models.Transaction, 0, len(g.sent[i])+len(g.received[i]))
	out = append(out, g.sent[i]...)
	id := g.ids[i]
	for _, tx := range g.received[i] {
		if tx.SenderID == id {
			continue
		}
		out = append(out, tx)
	}
	sortByTime(out)
	return out
}

// Stats returns the aggregates of node i, computing them on first use.
func (g *Graph) Stats(i int) Stats {
	g.statsOnce[i].Do(func() {
		g.stats[i] = g.computeStats(i)
	})
	return g.stats[i]
}

func (g *Graph) computeStats(i int) Stats {
	id := g.ids[i]
	s := Stats{
		InDegree:  len(g.pred[i]),
		OutDegree: len(g.succ[i]),
		InCount:   len(g.received[i]),
		OutCount:  len(g.sent[i]),
		TotalIn:   decimal.Zero,
		TotalOut:  decimal.Zero,
	}

	seen := make(map[string]struct{})
	observe := func(tx models.Transaction) {
		if s.FirstSeen.IsZero() || tx.Timestamp.Before(s.FirstSeen) {
			s.FirstSeen = tx.Timestamp
		}
		if tx.Timestamp.After(s.LastSeen) {
			s.LastSeen = tx.Timestamp
		}
	}

	for _, tx := range g.sent[i] {
		s.TotalOut = s.TotalOut.Add(tx.Amount)
		s.TransactionCount++
		if tx.ReceiverID != id {
			seen[tx.ReceiverID] = struct{}{}
		}
		observe(tx)
	}
	for _, tx := range g.received[i] {
		s.TotalIn = s.TotalIn.Add(tx.Amount)
		if tx.SenderID == id {
			continue // already counted as sent
		}
		s.TransactionCount++
		seen[tx.SenderID] = struct{}{}
		observe(tx)
	}
	s.Counterparties = len(seen)
	return s
}

func sortByTime(txs []models.Transaction) {
	sort.SliceStable(txs, func(a, b int) bool {
		if txs[a].Timestamp.Equal(txs[b].Timestamp) {
			return txs[a].ID < txs[b].ID
		}
		return txs[a].Timestamp.Before(txs[b].Timestamp)
	})
}
