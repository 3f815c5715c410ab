package metrics

import (
	"testing"

	"github.com/rawblock/mule-forensics/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestAdjustedRandIndex(t *testing.T) {
	tests := []struct {
		name    string
		a, b    []int
		atLeast float64
		atMost  float64
	}{
		{"identical", []int{0, 0, 1, 1, 2, 2}, []int{0, 0, 1, 1, 2, 2}, 0.99, 1.01},
		{"relabelled", []int{0, 0, 1, 1, 2, 2}, []int{5, 5, 3, 3, 9, 9}, 0.99, 1.01},
		{"dissimilar", []int{0, 0, 0, 1, 1, 1}, []int{0, 1, 0, 1, 0, 1}, -1, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ari := AdjustedRandIndex(tt.a, tt.b)
			assert.GreaterOrEqual(t, ari, tt.atLeast)
			assert.LessOrEqual(t, ari, tt.atMost)
		})
	}
}

func TestAdjustedRandIndex_MismatchedLengths(t *testing.T) {
	assert.Equal(t, 0.0, AdjustedRandIndex([]int{0, 1}, []int{0}))
	assert.Equal(t, 0.0, AdjustedRandIndex([]int{0}, []int{0}))
}

func TestVariationOfInformation(t *testing.T) {
	assert.InDelta(t, 0.0, VariationOfInformation([]int{0, 0, 1, 1}, []int{1, 1, 0, 0}), 1e-9)
	assert.Greater(t, VariationOfInformation([]int{0, 0, 0, 1, 1, 1}, []int{0, 1, 0, 1, 0, 1}), 0.1)
}

func TestRingLabels(t *testing.T) {
	rings := []models.FraudRing{{Members: []string{"A", "B"}}, {Members: []string{"D"}}}
	labels := RingLabels(rings, []string{"A", "B", "C", "D", "E"})

	assert.Equal(t, labels[0], labels[1])
	assert.NotEqual(t, labels[0], labels[2])
	assert.NotEqual(t, labels[2], labels[4], "non-members are singletons")
	assert.Equal(t, 1, labels[3])
}

func TestCompareRings(t *testing.T) {
	prev := []models.FraudRing{{Members: []string{"A", "B", "C"}}, {Members: []string{"X", "Y", "Z"}}}

	t.Run("stable", func(t *testing.T) {
		ari, vi := CompareRings(prev, prev)
		assert.InDelta(t, 1.0, ari, 1e-9)
		assert.InDelta(t, 0.0, vi, 1e-9)
	})
	t.Run("collapsed", func(t *testing.T) {
		merged := []models.FraudRing{{Members: []string{"A", "B", "C", "X", "Y", "Z"}}}
		ari, vi := CompareRings(prev, merged)
		assert.Less(t, ari, 1.0)
		assert.Greater(t, vi, 0.0)
	})
	t.Run("empty", func(t *testing.T) {
		ari, vi := CompareRings(nil, nil)
		assert.Equal(t, 1.0, ari)
		assert.Equal(t, 0.0, vi)
	})
}
