package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/mule-forensics/internal/heuristics"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, heuristics.DefaultConfig(), cfg.Detection)
	assert.Equal(t, 5339, cfg.Server.Port)
	assert.Equal(t, 75, cfg.Alerts.MinScore)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Feed.Enabled)
}

func TestLoad_YAMLOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8088
detection:
  structuring:
    window: 48h
    partner_threshold: 15
  temporal:
    night_start_hour: 22
  scoring:
    bands:
      - label: Severe
        min_score: 60
      - label: Routine
        min_score: 0
alerts:
  min_severity: severe
logging:
  format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 48*time.Hour, cfg.Detection.Structuring.Window)
	assert.Equal(t, 15, cfg.Detection.Structuring.PartnerThreshold)
	assert.Equal(t, 22, cfg.Detection.Temporal.NightStartHour)
	assert.Equal(t, 5, cfg.Detection.Temporal.NightEndHour, "untouched keys keep defaults")
	assert.Equal(t, []heuristics.RiskBand{{Label: "Severe", MinScore: 60}, {Label: "Routine", MinScore: 0}}, cfg.Detection.Scoring.Bands)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "severe", cfg.Alerts.MinSeverity)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("MULE_DETECTION_STRUCTURING_WINDOW", "24h")
	t.Setenv("MULE_DETECTION_CYCLES_MAX_PATHS_PER_NODE", "500")
	t.Setenv("MULE_SERVER_AUTH_TOKEN", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.Detection.Structuring.Window)
	assert.Equal(t, 500, cfg.Detection.Cycles.MaxPathsPerNode)
	assert.Equal(t, "s3cret", cfg.Server.AuthToken)
}

func TestLoad_FlagOverrides(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("threshold", 10, "")
	require.NoError(t, fs.Parse([]string{"--threshold=20"}))

	l := NewLoader()
	require.NoError(t, l.BindFlag("detection.structuring.partner_threshold", fs.Lookup("threshold")))
	cfg, err := l.Load("")
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Detection.Structuring.PartnerThreshold)

	assert.Error(t, l.BindFlag("detection.workers", fs.Lookup("missing")))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"zero window", "detection:\n  structuring:\n    window: 0s\n", "structuring.window"},
		{"cycle bounds inverted", "detection:\n  cycles:\n    min_length: 5\n    max_length: 4\n", "cycles.max_length"},
		{"two hop cycles", "detection:\n  cycles:\n    min_length: 2\n", "cycles.min_length"},
		{"ratio above one", "detection:\n  temporal:\n    nocturnal_ratio: 1.5\n", "temporal.nocturnal_ratio"},
		{"hour out of range", "detection:\n  temporal:\n    night_end_hour: 24\n", "temporal.night_end_hour"},
		{"zero ceiling", "detection:\n  scoring:\n    ceiling: 0\n", "scoring.ceiling"},
		{"ceiling above 100", "detection:\n  scoring:\n    ceiling: 150\n", "scoring.ceiling"},
		{"two negative weights", "detection:\n  scoring:\n    structuring_weight: -1\n    velocity_anomaly_weight: -1\n", "scoring.structuring_weight"},
		{"merchant span inside window", "detection:\n  whitelist:\n    merchant_min_active_span: 24h\n", "whitelist.merchant_min_active_span"},
		{"severity not a band", "alerts:\n  min_severity: urgent\n", "alerts.min_severity"},
		{"empty bands", "detection:\n  scoring:\n    bands: []\n", "scoring.bands"},
		{"feed without database", "feed:\n  enabled: true\n", "database.url"},
		{"bad log level", "logging:\n  level: chatty\n", "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			require.True(t, IsConfigurationError(err), err.Error())
			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	assert.NotPanics(t, func() { Default() })
}
