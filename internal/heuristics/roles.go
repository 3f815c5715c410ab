package heuristics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rawblock/mule-forensics/internal/graph"
)

// Structural roles.
const (
	RoleIsolated     = "Isolated Node"
	RoleAggregator   = "Aggregator"
	RoleCollector    = "Collector (Fan-in)"
	RoleDistributor  = "Distributor (Fan-out)"
	RoleIntermediary = "Intermediary Layer"
	RoleEndpoint     = "Endpoint"
)

// RoleFor maps an account's degree profile to its structural role.
// Rules are evaluated in order; the first match wins.
func RoleFor(s graph.Stats, cfg RoleConfig) string {
	in, out := s.InDegree, s.OutDegree
	switch {
	case in+out <= cfg.IsolatedMaxDegree:
		return RoleIsolated
	case in >= cfg.HubDegree && out >= cfg.HubDegree && s.Counterparties >= cfg.AggregatorMinCounterparties:
		return RoleAggregator
	case in > cfg.HubDegree && out <= cfg.OneSidedMaxOpposite:
		return RoleCollector
	case out > cfg.HubDegree && in <= cfg.OneSidedMaxOpposite:
		return RoleDistributor
	case in >= 1 && out >= 1:
		return RoleIntermediary
	default:
		return RoleEndpoint
	}
}

// Classify combines the risk band and the structural role into one label.
func Classify(level, role string) string {
	return fmt.Sprintf("%s Risk %s", level, role)
}

// AlertLevelForScore maps a suspicion score onto alert severity: the
// lowercased label of the band the score falls in.
func AlertLevelForScore(score int, bands []RiskBand) string {
	return strings.ToLower(RiskLevel(score, bands))
}

// SeverityRanks orders the lowercased band labels from the lowest band (1)
// upward, for comparing alert severities.
func SeverityRanks(bands []RiskBand) map[string]int {
	sorted := append([]RiskBand(nil), bands...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinScore < sorted[j].MinScore })
	ranks := make(map[string]int, len(sorted))
	for i, b := range sorted {
		ranks[strings.ToLower(b.Label)] = i + 1
	}
	return ranks
}
