package heuristics

import (
	"fmt"
	"testing"
	"time"

	"github.com/rawblock/mule-forensics/internal/graph"
	"github.com/rawblock/mule-forensics/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// t0 is a weekday noon in UTC, well outside the night window.
var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

var txSeq int

func transfer(from, to string, amount int64, at time.Time) models.Transaction {
	txSeq++
	return models.Transaction{
		ID:         fmt.Sprintf("TX%05d", txSeq),
		SenderID:   from,
		ReceiverID: to,
		Amount:     decimal.NewFromInt(amount),
		Timestamp:  at,
	}
}

func mustGraph(t *testing.T, txs []models.Transaction) *graph.Graph {
	t.Helper()
	g, err := graph.Build(txs)
	require.NoError(t, err)
	return g
}

func flagsOf(flags []models.Flag, account string, kind models.PatternKind) []models.Flag {
	var out []models.Flag
	for _, f := range flags {
		if f.AccountID == account && f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func flaggedAccounts(flags []models.Flag) map[string]bool {
	out := make(map[string]bool)
	for _, f := range flags {
		out[f.AccountID] = true
	}
	return out
}

func timeStep(i int) time.Duration { return time.Duration(i) * 10 * time.Minute }
