package metrics

import (
	"math"
	"sort"

	"github.com/rawblock/mule-forensics/pkg/models"
)

// Ring Stability
//
// Successive live-feed runs re-analyse an overlapping window of
// transactions, so the fraud ring partition should drift slowly. Comparing
// consecutive partitions exposes sudden ring collapse or explosion (a
// threshold change, a data gap, an injected burst) long before anyone reads
// the reports.
//
// Two standard partition distances are used:
//
//   ARI = (Index - Expected) / (Max - Expected)
//     1 = identical, 0 = as similar as chance, negative = worse than chance
//
//   VI(C, C') = H(C|C') + H(C'|C)
//     0 = identical, grows with disagreement (bits)
//
// Accounts outside every ring count as singleton clusters, and the compared
// population is the union of both runs' ring members.

// contingency is the joint label count table of two partitions.
type contingency struct {
	n    int
	cell [][]int
	rows []int
	cols []int
}

func newContingency(a, b []int) (contingency, bool) {
	n := len(a)
	if n != len(b) || n < 2 {
		return contingency{}, false
	}
	rowIdx := labelIndex(a)
	colIdx := labelIndex(b)

	c := contingency{
		n:    n,
		cell: make([][]int, len(rowIdx)),
		rows: make([]int, len(rowIdx)),
		cols: make([]int, len(colIdx)),
	}
	for i := range c.cell {
		c.cell[i] = make([]int, len(colIdx))
	}
	for k := 0; k < n; k++ {
		i, j := rowIdx[a[k]], colIdx[b[k]]
		c.cell[i][j]++
		c.rows[i]++
		c.cols[j]++
	}
	return c, true
}

// AdjustedRandIndex compares two labelings of the same items.
func AdjustedRandIndex(a, b []int) float64 {
	c, ok := newContingency(a, b)
	if !ok {
		return 0
	}

	var sumCells, sumRows, sumCols float64
	for i := range c.cell {
		for _, v := range c.cell[i] {
			sumCells += pairs(v)
		}
	}
	for _, v := range c.rows {
		sumRows += pairs(v)
	}
	for _, v := range c.cols {
		sumCols += pairs(v)
	}

	total := pairs(c.n)
	expected := sumRows * sumCols / total
	maximum := (sumRows + sumCols) / 2
	if math.Abs(maximum-expected) < 1e-12 {
		return 1 // Both partitions are all singletons or one block.
	}
	return (sumCells - expected) / (maximum - expected)
}

// VariationOfInformation returns the VI distance in bits.
func VariationOfInformation(a, b []int) float64 {
	c, ok := newContingency(a, b)
	if !ok {
		return 0
	}

	n := float64(c.n)
	vi := 0.0
	for i := range c.cell {
		for j, v := range c.cell[i] {
			if v == 0 {
				continue
			}
			p := float64(v) / n
			vi -= p * math.Log2(float64(v)/float64(c.cols[j]))
			vi -= p * math.Log2(float64(v)/float64(c.rows[i]))
		}
	}
	return vi
}

// RingLabels assigns one integer label per entry of accounts: ring members
// share their ring's label, everyone else gets a fresh singleton label.
func RingLabels(rings []models.FraudRing, accounts []string) []int {
	ringOf := make(map[string]int)
	for i, r := range rings {
		for _, m := range r.Members {
			ringOf[m] = i
		}
	}
	labels := make([]int, len(accounts))
	next := len(rings)
	for k, id := range accounts {
		if l, ok := ringOf[id]; ok {
			labels[k] = l
			continue
		}
		labels[k] = next
		next++
	}
	return labels
}

// CompareRings computes ARI and VI between two runs' ring partitions over
// the union of their members.
func CompareRings(prev, curr []models.FraudRing) (ari, vi float64) {
	seen := make(map[string]bool)
	var accounts []string
	for _, set := range [][]models.FraudRing{prev, curr} {
		for _, r := range set {
			for _, m := range r.Members {
				if !seen[m] {
					seen[m] = true
					accounts = append(accounts, m)
				}
			}
		}
	}
	if len(accounts) == 0 {
		return 1, 0
	}
	sort.Strings(accounts)

	a := RingLabels(prev, accounts)
	b := RingLabels(curr, accounts)
	return AdjustedRandIndex(a, b), VariationOfInformation(a, b)
}

func pairs(n int) float64 {
	if n < 2 {
		return 0
	}
	return float64(n) * float64(n-1) / 2
}

func labelIndex(labels []int) map[int]int {
	idx := make(map[int]int)
	for _, l := range labels {
		if _, ok := idx[l]; !ok {
			idx[l] = len(idx)
		}
	}
	return idx
}
