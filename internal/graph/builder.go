package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rawblock/mule-forensics/pkg/models"
)

// InvalidRecordError reports a transaction that violates the record
// invariants. The whole batch is rejected; no partial graph is produced.
type InvalidRecordError struct {
	Index         int
	TransactionID string
	Field         string
	Reason        string
}

func (e *InvalidRecordError) Error() string {
	if e.TransactionID != "" {
		return fmt.Sprintf("invalid record %d (%s): %s %s", e.Index, e.TransactionID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid record %d: %s %s", e.Index, e.Field, e.Reason)
}

// Validate checks a single transaction against the record invariants.
func Validate(idx int, tx models.Transaction) error {
	fail := func(field, reason string) error {
		return &InvalidRecordError{Index: idx, TransactionID: tx.ID, Field: field, Reason: reason}
	}
	switch {
	case strings.TrimSpace(tx.SenderID) == "":
		return fail("sender_id", "is empty")
	case strings.TrimSpace(tx.ReceiverID) == "":
		return fail("receiver_id", "is empty")
	case !tx.Amount.IsPositive():
		return fail("amount", "must be positive, got "+tx.Amount.String())
	case tx.Timestamp.IsZero():
		return fail("timestamp", "is missing")
	}
	return nil
}

// Build constructs the transaction graph for one batch. Build holds no state
// between calls and may run concurrently for independent batches.
func Build(txs []models.Transaction) (*Graph, error) {
	for i, tx := range txs {
		if err := Validate(i, tx); err != nil {
			return nil, err
		}
	}

	g := &Graph{
		index:   make(map[string]int),
		pairs:   make(map[[2]int]int),
		txCount: len(txs),
	}

	node := func(id string) int {
		if i, ok := g.index[id]; ok {
			return i
		}
		i := len(g.ids)
		g.index[id] = i
		g.ids = append(g.ids, id)
		g.sent = append(g.sent, nil)
		g.received = append(g.received, nil)
		return i
	}

	for _, tx := range txs {
		from := node(tx.SenderID)
		to := node(tx.ReceiverID)

		g.sent[from] = append(g.sent[from], tx)
		g.received[to] = append(g.received[to], tx)

		if from == to {
			continue
		}
		key := [2]int{from, to}
		idx, ok := g.pairs[key]
		if !ok {
			idx = len(g.edges)
			g.pairs[key] = idx
			g.edges = append(g.edges, Edge{From: from, To: to})
		}
		g.edges[idx].Transactions = append(g.edges[idx].Transactions, tx)
	}

	n := len(g.ids)
	g.succ = make([][]int, n)
	g.pred = make([][]int, n)
	for i := range g.edges {
		e := &g.edges[i]
		sortByTime(e.Transactions)
		g.succ[e.From] = append(g.succ[e.From], e.To)
		g.pred[e.To] = append(g.pred[e.To], e.From)
	}
	for i := 0; i < n; i++ {
		sort.Ints(g.succ[i])
		sort.Ints(g.pred[i])
		sortByTime(g.sent[i])
		sortByTime(g.received[i])
	}

	g.statsOnce = make([]sync.Once, n)
	g.stats = make([]Stats, n)
	return g, nil
}
