package heuristics

import (
	"fmt"
	"time"
)

// ConfigurationError reports a missing, non-numeric or degenerate threshold.
// A run never starts with an invalid configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// Config carries every tunable of one analysis run.
type Config struct {
	Workers     int               `mapstructure:"workers"`
	Structuring StructuringConfig `mapstructure:"structuring"`
	Cycles      CycleConfig       `mapstructure:"cycles"`
	Shells      ShellConfig       `mapstructure:"shells"`
	Temporal    TemporalConfig    `mapstructure:"temporal"`
	Whitelist   WhitelistConfig   `mapstructure:"whitelist"`
	Scoring     ScoringConfig     `mapstructure:"scoring"`
	Roles       RoleConfig        `mapstructure:"roles"`
}

// StructuringConfig controls the sliding-window fan-out/fan-in detector.
type StructuringConfig struct {
	Window           time.Duration `mapstructure:"window"`            // Default 72h
	PartnerThreshold int           `mapstructure:"partner_threshold"` // Flag when distinct partners > threshold
}

// CycleConfig controls bounded cycle enumeration.
type CycleConfig struct {
	MinLength       int `mapstructure:"min_length"`         // Hops, default 3
	MaxLength       int `mapstructure:"max_length"`         // Hops, default 5
	MaxPathsPerNode int `mapstructure:"max_paths_per_node"` // Exploration cap per start node
}

// ShellConfig controls pass-through chain detection.
type ShellConfig struct {
	MinPassThroughTx  int `mapstructure:"min_pass_through_tx"` // Default 2
	MaxPassThroughTx  int `mapstructure:"max_pass_through_tx"` // Default 3
	MinChainHops      int `mapstructure:"min_chain_hops"`      // Default 2 (A -> B -> C)
	MaxChainHops      int `mapstructure:"max_chain_hops"`      // Default 8
	MinIntermediaries int `mapstructure:"min_intermediaries"`  // Default 1
}

// TemporalConfig controls the nocturnal and velocity sub-checks.
type TemporalConfig struct {
	NightStartHour           int     `mapstructure:"night_start_hour"` // Inclusive, default 23
	NightEndHour             int     `mapstructure:"night_end_hour"`   // Inclusive, default 5
	NocturnalRatio           float64 `mapstructure:"nocturnal_ratio"`  // Flag when ratio > value
	NocturnalMinTransactions int     `mapstructure:"nocturnal_min_transactions"`

	VelocityMinTransactions int           `mapstructure:"velocity_min_transactions"`
	VelocityMultiplier      float64       `mapstructure:"velocity_multiplier"`     // x population median rate
	VelocityFloorPerHour    float64       `mapstructure:"velocity_floor_per_hour"` // Absolute minimum rate
	VelocityMinSpan         time.Duration `mapstructure:"velocity_min_span"`
	RapidGap                time.Duration `mapstructure:"rapid_gap"`
	RapidGapRepeats         int           `mapstructure:"rapid_gap_repeats"`
}

// WhitelistConfig holds the built-in profile thresholds.
type WhitelistConfig struct {
	Enabled bool `mapstructure:"enabled"`

	MerchantMinCounterparties int           `mapstructure:"merchant_min_counterparties"`
	MerchantMinTransactions   int           `mapstructure:"merchant_min_transactions"`
	MerchantMaxConcentration  float64       `mapstructure:"merchant_max_concentration"`
	MerchantMinActiveSpan     time.Duration `mapstructure:"merchant_min_active_span"` // Must exceed the structuring window

	PayrollMaxCounterparties int     `mapstructure:"payroll_max_counterparties"`
	PayrollMinOccurrences    int     `mapstructure:"payroll_min_occurrences"`
	PayrollMaxIntervalCV     float64 `mapstructure:"payroll_max_interval_cv"`
	PayrollMaxAmountCV       float64 `mapstructure:"payroll_max_amount_cv"`
}

// ScoringConfig holds per-pattern weights and the clamp ceiling.
type ScoringConfig struct {
	StructuringWeight      int        `mapstructure:"structuring_weight"`
	CircularRoutingWeight  int        `mapstructure:"circular_routing_weight"`
	LayeredShellWeight     int        `mapstructure:"layered_shell_weight"`
	NocturnalAnomalyWeight int        `mapstructure:"nocturnal_anomaly_weight"`
	VelocityAnomalyWeight  int        `mapstructure:"velocity_anomaly_weight"`
	Ceiling                int        `mapstructure:"ceiling"`
	Bands                  []RiskBand `mapstructure:"bands"`
}

// RiskBand labels every score at or above MinScore (up to the next band).
type RiskBand struct {
	Label    string `mapstructure:"label"`
	MinScore int    `mapstructure:"min_score"`
}

// RoleConfig holds the structural role thresholds.
type RoleConfig struct {
	HubDegree                   int `mapstructure:"hub_degree"`
	AggregatorMinCounterparties int `mapstructure:"aggregator_min_counterparties"`
	IsolatedMaxDegree           int `mapstructure:"isolated_max_degree"`
	OneSidedMaxOpposite         int `mapstructure:"one_sided_max_opposite"` // Collector/distributor: max degree on the quiet side
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Workers: 4,
		Structuring: StructuringConfig{
			Window:           72 * time.Hour,
			PartnerThreshold: 10,
		},
		Cycles: CycleConfig{
			MinLength:       3,
			MaxLength:       5,
			MaxPathsPerNode: 20000,
		},
		Shells: ShellConfig{
			MinPassThroughTx:  2,
			MaxPassThroughTx:  3,
			MinChainHops:      2,
			MaxChainHops:      8,
			MinIntermediaries: 1,
		},
		Temporal: TemporalConfig{
			NightStartHour:           23,
			NightEndHour:             5,
			NocturnalRatio:           0.40,
			NocturnalMinTransactions: 5,
			VelocityMinTransactions:  5,
			VelocityMultiplier:       5.0,
			VelocityFloorPerHour:     2.0,
			VelocityMinSpan:          time.Hour,
			RapidGap:                 time.Minute,
			RapidGapRepeats:          5,
		},
		Whitelist: WhitelistConfig{
			Enabled:                   true,
			MerchantMinCounterparties: 25,
			MerchantMinTransactions:   25,
			MerchantMaxConcentration:  0.20,
			MerchantMinActiveSpan:     14 * 24 * time.Hour,
			PayrollMaxCounterparties:  5,
			PayrollMinOccurrences:     3,
			PayrollMaxIntervalCV:      0.15,
			PayrollMaxAmountCV:        0.05,
		},
		Scoring: ScoringConfig{
			StructuringWeight:      40,
			CircularRoutingWeight:  35,
			LayeredShellWeight:     30,
			NocturnalAnomalyWeight: 25,
			VelocityAnomalyWeight:  20,
			Ceiling:                100,
			Bands: []RiskBand{
				{Label: "Critical", MinScore: 75},
				{Label: "High", MinScore: 50},
				{Label: "Medium", MinScore: 25},
				{Label: "Low", MinScore: 0},
			},
		},
		Roles: RoleConfig{
			HubDegree:                   10,
			AggregatorMinCounterparties: 20,
			IsolatedMaxDegree:           1,
			OneSidedMaxOpposite:         1,
		},
	}
}

// Validate rejects missing or degenerate thresholds.
func (c Config) Validate() error {
	fail := func(field, reason string) error {
		return &ConfigurationError{Field: field, Reason: reason}
	}

	if c.Workers <= 0 {
		return fail("workers", "must be positive")
	}

	if c.Structuring.Window <= 0 {
		return fail("structuring.window", "must be a positive duration")
	}
	if c.Structuring.PartnerThreshold <= 0 {
		return fail("structuring.partner_threshold", "must be positive")
	}

	if c.Cycles.MinLength < 3 {
		return fail("cycles.min_length", "must be at least 3 hops")
	}
	if c.Cycles.MaxLength < c.Cycles.MinLength {
		return fail("cycles.max_length", "must not be below cycles.min_length")
	}
	if c.Cycles.MaxPathsPerNode <= 0 {
		return fail("cycles.max_paths_per_node", "must be positive")
	}

	if c.Shells.MinPassThroughTx < 2 {
		return fail("shells.min_pass_through_tx", "must be at least 2")
	}
	if c.Shells.MaxPassThroughTx < c.Shells.MinPassThroughTx {
		return fail("shells.max_pass_through_tx", "must not be below shells.min_pass_through_tx")
	}
	if c.Shells.MinChainHops < 2 {
		return fail("shells.min_chain_hops", "must be at least 2")
	}
	if c.Shells.MaxChainHops < c.Shells.MinChainHops {
		return fail("shells.max_chain_hops", "must not be below shells.min_chain_hops")
	}
	if c.Shells.MinIntermediaries <= 0 {
		return fail("shells.min_intermediaries", "must be positive")
	}

	t := c.Temporal
	if t.NightStartHour < 0 || t.NightStartHour > 23 {
		return fail("temporal.night_start_hour", "must be within 0..23")
	}
	if t.NightEndHour < 0 || t.NightEndHour > 23 {
		return fail("temporal.night_end_hour", "must be within 0..23")
	}
	if t.NocturnalRatio <= 0 || t.NocturnalRatio > 1 {
		return fail("temporal.nocturnal_ratio", "must be within (0, 1]")
	}
	if t.NocturnalMinTransactions <= 0 {
		return fail("temporal.nocturnal_min_transactions", "must be positive")
	}
	if t.VelocityMinTransactions < 2 {
		return fail("temporal.velocity_min_transactions", "must be at least 2")
	}
	if t.VelocityMultiplier <= 0 {
		return fail("temporal.velocity_multiplier", "must be positive")
	}
	if t.VelocityFloorPerHour < 0 {
		return fail("temporal.velocity_floor_per_hour", "must not be negative")
	}
	if t.VelocityMinSpan <= 0 {
		return fail("temporal.velocity_min_span", "must be a positive duration")
	}
	if t.RapidGap <= 0 {
		return fail("temporal.rapid_gap", "must be a positive duration")
	}
	if t.RapidGapRepeats <= 0 {
		return fail("temporal.rapid_gap_repeats", "must be positive")
	}

	w := c.Whitelist
	if w.Enabled {
		if w.MerchantMinCounterparties <= 0 || w.MerchantMinTransactions <= 0 {
			return fail("whitelist.merchant", "counterparty and transaction minimums must be positive")
		}
		if w.MerchantMaxConcentration <= 0 || w.MerchantMaxConcentration > 1 {
			return fail("whitelist.merchant_max_concentration", "must be within (0, 1]")
		}
		if w.MerchantMinActiveSpan <= c.Structuring.Window {
			return fail("whitelist.merchant_min_active_span", "must exceed structuring.window")
		}
		if w.PayrollMaxCounterparties <= 0 || w.PayrollMinOccurrences < 3 {
			return fail("whitelist.payroll", "needs positive max counterparties and at least 3 occurrences")
		}
		if w.PayrollMaxIntervalCV < 0 || w.PayrollMaxAmountCV < 0 {
			return fail("whitelist.payroll", "coefficients of variation must not be negative")
		}
	}

	s := c.Scoring
	for _, w := range []struct {
		field  string
		weight int
	}{
		{"scoring.structuring_weight", s.StructuringWeight},
		{"scoring.circular_routing_weight", s.CircularRoutingWeight},
		{"scoring.layered_shell_weight", s.LayeredShellWeight},
		{"scoring.nocturnal_anomaly_weight", s.NocturnalAnomalyWeight},
		{"scoring.velocity_anomaly_weight", s.VelocityAnomalyWeight},
	} {
		if w.weight < 0 {
			return fail(w.field, "must not be negative")
		}
	}
	if s.Ceiling <= 0 || s.Ceiling > 100 {
		return fail("scoring.ceiling", "must be within 1..100")
	}
	if len(s.Bands) == 0 {
		return fail("scoring.bands", "must define at least one band")
	}
	hasFloor := false
	for _, b := range s.Bands {
		if b.Label == "" {
			return fail("scoring.bands", "band label is empty")
		}
		if b.MinScore == 0 {
			hasFloor = true
		}
	}
	if !hasFloor {
		return fail("scoring.bands", "needs a band starting at 0")
	}

	if c.Roles.HubDegree <= 0 {
		return fail("roles.hub_degree", "must be positive")
	}
	if c.Roles.AggregatorMinCounterparties <= 0 {
		return fail("roles.aggregator_min_counterparties", "must be positive")
	}
	if c.Roles.IsolatedMaxDegree < 0 {
		return fail("roles.isolated_max_degree", "must not be negative")
	}
	if c.Roles.OneSidedMaxOpposite < 0 || c.Roles.OneSidedMaxOpposite >= c.Roles.HubDegree {
		return fail("roles.one_sided_max_opposite", "must be within 0..roles.hub_degree-1")
	}
	return nil
}
