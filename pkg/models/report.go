package models

import "time"

// PatternHit is one contributing pattern on an account report.
type PatternHit struct {
	Kind     PatternKind `json:"kind"`
	Evidence Evidence    `json:"evidence"`
}

// AccountReport is the per-account entry of the engine's output contract.
type AccountReport struct {
	AccountID        string       `json:"accountId"`
	SuspicionScore   int          `json:"suspicionScore"` // 0-100
	RiskLevel        string       `json:"riskLevel"`
	Role             string       `json:"role"`
	Classification   string       `json:"classification"`
	Patterns         []PatternHit `json:"patterns"`
	SuppressedBy     string       `json:"suppressedBy,omitempty"` // Whitelist profile name
	InDegree         int          `json:"inDegree"`
	OutDegree        int          `json:"outDegree"`
	TransactionCount int          `json:"transactionCount"`
}

// FraudRing groups accounts whose cycles overlap.
type FraudRing struct {
	RingID      string   `json:"ringId"`
	Members     []string `json:"members"`
	PatternType string   `json:"patternType"`
	CycleCount  int      `json:"cycleCount"`
	RiskScore   float64  `json:"riskScore"`
}

// Summary aggregates run-level counters.
type Summary struct {
	TotalAccountsAnalyzed     int     `json:"totalAccountsAnalyzed"`
	TotalTransactions         int     `json:"totalTransactions"`
	SuspiciousAccountsFlagged int     `json:"suspiciousAccountsFlagged"`
	FraudRingsDetected        int     `json:"fraudRingsDetected"`
	AvgRiskScore              float64 `json:"avgRiskScore"`
	ProcessingTimeSeconds     float64 `json:"processingTimeSeconds"`
}

// Coverage signals that some detector bounded its exploration. A partial
// run is still a complete report; recall may be reduced.
type Coverage struct {
	Partial      bool     `json:"partial"`
	CycleCapHits []string `json:"cycleCapHits,omitempty"`
	Notes        []string `json:"notes,omitempty"`
}

// Report is the full result of one analysis run.
type Report struct {
	BatchID     string          `json:"batchId"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Accounts    []AccountReport `json:"accounts"`
	FraudRings  []FraudRing     `json:"fraudRings"`
	Summary     Summary         `json:"summary"`
	Coverage    Coverage        `json:"coverage"`
}

// Account returns the entry for id, if present.
func (r *Report) Account(id string) (AccountReport, bool) {
	for _, a := range r.Accounts {
		if a.AccountID == id {
			return a, true
		}
	}
	return AccountReport{}, false
}
