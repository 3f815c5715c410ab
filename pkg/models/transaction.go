package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single validated transfer between two accounts.
type Transaction struct {
	ID         string          `json:"transactionId"`
	SenderID   string          `json:"senderId"`
	ReceiverID string          `json:"receiverId"`
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  time.Time       `json:"timestamp"`
	Memo       string          `json:"memo,omitempty"` // Optional memo or category
}

// PatternKind names the detector that produced a flag.
type PatternKind string

const (
	PatternStructuring      PatternKind = "structuring"
	PatternCircularRouting  PatternKind = "circular_routing"
	PatternLayeredShell     PatternKind = "layered_shell"
	PatternNocturnalAnomaly PatternKind = "nocturnal_anomaly"
	PatternVelocityAnomaly  PatternKind = "velocity_anomaly"
)

// AllPatternKinds lists every kind in scoring order.
var AllPatternKinds = []PatternKind{
	PatternStructuring,
	PatternCircularRouting,
	PatternLayeredShell,
	PatternNocturnalAnomaly,
	PatternVelocityAnomaly,
}

// Structuring window directions.
const (
	DirectionFanOut = "fan_out"
	DirectionFanIn  = "fan_in"
)

// Evidence holds the minimal data that justifies a flag. Only the fields
// belonging to the flag's kind are populated.
type Evidence struct {
	// Structuring
	Direction    string     `json:"direction,omitempty"`
	PartnerCount int        `json:"partnerCount,omitempty"`
	WindowStart  *time.Time `json:"windowStart,omitempty"`
	WindowEnd    *time.Time `json:"windowEnd,omitempty"`

	// Circular routing
	Cycle    []string `json:"cycle,omitempty"`
	HopCount int      `json:"hopCount,omitempty"`

	// Layered shell
	Chain         []string `json:"chain,omitempty"`
	ChainTxCounts []int    `json:"chainTxCounts,omitempty"`

	// Nocturnal
	NightTransactions int     `json:"nightTransactions,omitempty"`
	TotalTransactions int     `json:"totalTransactions,omitempty"`
	Ratio             float64 `json:"ratio,omitempty"`

	// Velocity
	TxPerHour        float64 `json:"txPerHour,omitempty"`
	PopulationMedian float64 `json:"populationMedian,omitempty"`
	RapidGaps        int     `json:"rapidGaps,omitempty"`
	Reason           string  `json:"reason,omitempty"`
}

// Flag is a single detector finding against an account.
type Flag struct {
	AccountID string      `json:"accountId"`
	Kind      PatternKind `json:"kind"`
	Evidence  Evidence    `json:"evidence"`
}
