package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rawblock/mule-forensics/internal/heuristics"
)

// ConfigurationError reports a missing or degenerate setting.
type ConfigurationError = heuristics.ConfigurationError

// EnvPrefix prefixes every environment override, e.g.
// MULE_DETECTION_STRUCTURING_WINDOW=48h or MULE_SERVER_AUTH_TOKEN.
const EnvPrefix = "MULE"

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Database  DatabaseConfig    `mapstructure:"database"`
	Feed      FeedConfig        `mapstructure:"feed"`
	Alerts    AlertsConfig      `mapstructure:"alerts"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	Detection heuristics.Config `mapstructure:"detection"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AuthToken       string        `mapstructure:"auth_token"` // Empty disables auth (dev mode)
	RateLimit       float64       `mapstructure:"rate_limit"` // Analyze requests per second per IP
	RateBurst       int           `mapstructure:"rate_burst"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"` // Empty disables the transaction source
	MaxConns int32  `mapstructure:"max_conns"`
}

type FeedConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Retention       time.Duration `mapstructure:"retention"`
	MaxTransactions int           `mapstructure:"max_transactions"`
	BatchLimit      int           `mapstructure:"batch_limit"` // Rows per source query
}

type AlertsConfig struct {
	MinScore    int           `mapstructure:"min_score"`
	Webhooks    []string      `mapstructure:"webhooks"`
	MinSeverity string        `mapstructure:"min_severity"` // Webhook filter
	MaxHistory  int           `mapstructure:"max_history"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
}

// Loader layers defaults, an optional YAML file, MULE_* environment
// variables and bound command-line flags, in increasing precedence.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a loader with every default registered.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{v: v}
}

// BindFlag lets a command-line flag override key.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: flag not defined", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads path (when non-empty), applies overrides and validates.
func (l *Loader) Load(path string) (Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, &ConfigurationError{Field: "config", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load is NewLoader().Load(path).
func Load(path string) (Config, error) {
	return NewLoader().Load(path)
}

// Default returns the configuration produced with no file, env or flags.
func Default() Config {
	cfg, err := NewLoader().Load("")
	if err != nil {
		panic(err) // defaults must always validate
	}
	return cfg
}

// Validate checks every detection threshold, then the service settings.
func (c Config) Validate() error {
	if err := c.Detection.Validate(); err != nil {
		return err
	}

	fail := func(field, reason string) error {
		return &ConfigurationError{Field: field, Reason: reason}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fail("server.port", "must be within 1..65535")
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		return fail("server.rate_limit", "rate and burst must be positive")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fail("server.max_upload_bytes", "must be positive")
	}

	if c.Feed.Enabled {
		if c.Database.URL == "" {
			return fail("database.url", "is required when the feed is enabled")
		}
		if c.Feed.PollInterval <= 0 {
			return fail("feed.poll_interval", "must be a positive duration")
		}
		if c.Feed.Retention <= 0 {
			return fail("feed.retention", "must be a positive duration")
		}
		if c.Feed.MaxTransactions <= 0 || c.Feed.BatchLimit <= 0 {
			return fail("feed.max_transactions", "transaction and batch limits must be positive")
		}
	}

	if c.Alerts.MinScore < 0 || c.Alerts.MinScore > c.Detection.Scoring.Ceiling {
		return fail("alerts.min_score", "must be within 0..scoring ceiling")
	}
	if _, ok := heuristics.SeverityRanks(c.Detection.Scoring.Bands)[strings.ToLower(c.Alerts.MinSeverity)]; !ok {
		return fail("alerts.min_severity", fmt.Sprintf("unknown severity %q, want a scoring band label", c.Alerts.MinSeverity))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fail("logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fail("logging.format", "must be json or console")
	}
	return nil
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5339)
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.rate_limit", 2.0)
	v.SetDefault("server.rate_burst", 5)
	v.SetDefault("server.max_upload_bytes", 64<<20)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 8)

	v.SetDefault("feed.enabled", false)
	v.SetDefault("feed.poll_interval", 30*time.Second)
	v.SetDefault("feed.retention", 7*24*time.Hour)
	v.SetDefault("feed.max_transactions", 200000)
	v.SetDefault("feed.batch_limit", 10000)

	v.SetDefault("alerts.min_score", 75)
	v.SetDefault("alerts.webhooks", []string{})
	v.SetDefault("alerts.min_severity", "high")
	v.SetDefault("alerts.max_history", 500)
	v.SetDefault("alerts.timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	d := heuristics.DefaultConfig()
	v.SetDefault("detection.workers", d.Workers)

	v.SetDefault("detection.structuring.window", d.Structuring.Window)
	v.SetDefault("detection.structuring.partner_threshold", d.Structuring.PartnerThreshold)

	v.SetDefault("detection.cycles.min_length", d.Cycles.MinLength)
	v.SetDefault("detection.cycles.max_length", d.Cycles.MaxLength)
	v.SetDefault("detection.cycles.max_paths_per_node", d.Cycles.MaxPathsPerNode)

	v.SetDefault("detection.shells.min_pass_through_tx", d.Shells.MinPassThroughTx)
	v.SetDefault("detection.shells.max_pass_through_tx", d.Shells.MaxPassThroughTx)
	v.SetDefault("detection.shells.min_chain_hops", d.Shells.MinChainHops)
	v.SetDefault("detection.shells.max_chain_hops", d.Shells.MaxChainHops)
	v.SetDefault("detection.shells.min_intermediaries", d.Shells.MinIntermediaries)

	t := d.Temporal
	v.SetDefault("detection.temporal.night_start_hour", t.NightStartHour)
	v.SetDefault("detection.temporal.night_end_hour", t.NightEndHour)
	v.SetDefault("detection.temporal.nocturnal_ratio", t.NocturnalRatio)
	v.SetDefault("detection.temporal.nocturnal_min_transactions", t.NocturnalMinTransactions)
	v.SetDefault("detection.temporal.velocity_min_transactions", t.VelocityMinTransactions)
	v.SetDefault("detection.temporal.velocity_multiplier", t.VelocityMultiplier)
	v.SetDefault("detection.temporal.velocity_floor_per_hour", t.VelocityFloorPerHour)
	v.SetDefault("detection.temporal.velocity_min_span", t.VelocityMinSpan)
	v.SetDefault("detection.temporal.rapid_gap", t.RapidGap)
	v.SetDefault("detection.temporal.rapid_gap_repeats", t.RapidGapRepeats)

	w := d.Whitelist
	v.SetDefault("detection.whitelist.enabled", w.Enabled)
	v.SetDefault("detection.whitelist.merchant_min_counterparties", w.MerchantMinCounterparties)
	v.SetDefault("detection.whitelist.merchant_min_transactions", w.MerchantMinTransactions)
	v.SetDefault("detection.whitelist.merchant_max_concentration", w.MerchantMaxConcentration)
	v.SetDefault("detection.whitelist.merchant_min_active_span", w.MerchantMinActiveSpan)
	v.SetDefault("detection.whitelist.payroll_max_counterparties", w.PayrollMaxCounterparties)
	v.SetDefault("detection.whitelist.payroll_min_occurrences", w.PayrollMinOccurrences)
	v.SetDefault("detection.whitelist.payroll_max_interval_cv", w.PayrollMaxIntervalCV)
	v.SetDefault("detection.whitelist.payroll_max_amount_cv", w.PayrollMaxAmountCV)

	s := d.Scoring
	v.SetDefault("detection.scoring.structuring_weight", s.StructuringWeight)
	v.SetDefault("detection.scoring.circular_routing_weight", s.CircularRoutingWeight)
	v.SetDefault("detection.scoring.layered_shell_weight", s.LayeredShellWeight)
	v.SetDefault("detection.scoring.nocturnal_anomaly_weight", s.NocturnalAnomalyWeight)
	v.SetDefault("detection.scoring.velocity_anomaly_weight", s.VelocityAnomalyWeight)
	v.SetDefault("detection.scoring.ceiling", s.Ceiling)
	bands := make([]map[string]any, 0, len(s.Bands))
	for _, b := range s.Bands {
		bands = append(bands, map[string]any{"label": b.Label, "min_score": b.MinScore})
	}
	v.SetDefault("detection.scoring.bands", bands)

	v.SetDefault("detection.roles.hub_degree", d.Roles.HubDegree)
	v.SetDefault("detection.roles.aggregator_min_counterparties", d.Roles.AggregatorMinCounterparties)
	v.SetDefault("detection.roles.isolated_max_degree", d.Roles.IsolatedMaxDegree)
	v.SetDefault("detection.roles.one_sided_max_opposite", d.Roles.OneSidedMaxOpposite)
}
