package heuristics

import (
	"testing"

	"github.com/rawblock/mule-forensics/internal/graph"
	"github.com/stretchr/testify/assert"
)

func TestRoleFor(t *testing.T) {
	cfg := DefaultConfig().Roles

	tests := []struct {
		name  string
		stats graph.Stats
		want  string
	}{
		{"single edge", graph.Stats{InDegree: 0, OutDegree: 1, Counterparties: 1}, RoleIsolated},
		{"hub both ways", graph.Stats{InDegree: 12, OutDegree: 12, Counterparties: 24}, RoleAggregator},
		{"hub both ways, few counterparties", graph.Stats{InDegree: 10, OutDegree: 10, Counterparties: 10}, RoleIntermediary},
		{"collector", graph.Stats{InDegree: 15, OutDegree: 1, Counterparties: 16}, RoleCollector},
		{"distributor", graph.Stats{InDegree: 0, OutDegree: 15, Counterparties: 15}, RoleDistributor},
		{"pass-through", graph.Stats{InDegree: 2, OutDegree: 3, Counterparties: 5}, RoleIntermediary},
		{"sink", graph.Stats{InDegree: 3, OutDegree: 0, Counterparties: 3}, RoleEndpoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RoleFor(tt.stats, cfg))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "High Risk Collector (Fan-in)", Classify("High", RoleCollector))
	assert.Equal(t, "Low Risk Endpoint", Classify("Low", RoleEndpoint))
}

func TestRoleFor_OneSidedToleranceIsConfigurable(t *testing.T) {
	stats := graph.Stats{InDegree: 15, OutDegree: 3, Counterparties: 18}

	cfg := DefaultConfig().Roles
	assert.Equal(t, RoleIntermediary, RoleFor(stats, cfg))

	cfg.OneSidedMaxOpposite = 3
	assert.Equal(t, RoleCollector, RoleFor(stats, cfg))
}

func TestAlertLevelForScore(t *testing.T) {
	bands := DefaultConfig().Scoring.Bands
	assert.Equal(t, "critical", AlertLevelForScore(75, bands))
	assert.Equal(t, "high", AlertLevelForScore(74, bands))
	assert.Equal(t, "medium", AlertLevelForScore(25, bands))
	assert.Equal(t, "low", AlertLevelForScore(0, bands))

	custom := []RiskBand{{Label: "Severe", MinScore: 60}, {Label: "Normal", MinScore: 0}}
	assert.Equal(t, "severe", AlertLevelForScore(75, custom))
	assert.Equal(t, "normal", AlertLevelForScore(59, custom))
}

func TestSeverityRanks(t *testing.T) {
	assert.Equal(t, map[string]int{"low": 1, "medium": 2, "high": 3, "critical": 4},
		SeverityRanks(DefaultConfig().Scoring.Bands))
}
