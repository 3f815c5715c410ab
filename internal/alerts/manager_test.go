package alerts

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rawblock/mule-forensics/internal/config"
	"github.com/rawblock/mule-forensics/internal/heuristics"
	"github.com/rawblock/mule-forensics/pkg/models"
)

func sampleReport(score int) *models.Report {
	return &models.Report{
		BatchID: "batch-1",
		Accounts: []models.AccountReport{
			{
				AccountID:      "MULE",
				SuspicionScore: score,
				RiskLevel:      "Critical",
				Role:           "Intermediary Layer",
				Classification: "Critical Risk Intermediary Layer",
				Patterns: []models.PatternHit{
					{Kind: models.PatternStructuring},
					{Kind: models.PatternCircularRouting},
					{Kind: models.PatternCircularRouting},
				},
			},
			{AccountID: "QUIET", SuspicionScore: 25, RiskLevel: "Medium"},
		},
		FraudRings: []models.FraudRing{
			{RingID: "RING_001", Members: []string{"A", "B", "C"}, CycleCount: 1, RiskScore: 80},
		},
	}
}

func testConfig() config.AlertsConfig {
	return config.AlertsConfig{MinScore: 75, MinSeverity: "high", MaxHistory: 10}
}

func TestProcess_EmitsAboveMinScore(t *testing.T) {
	var broadcast []Alert
	m := NewManager(testConfig(), nil, func(a Alert) { broadcast = append(broadcast, a) }, zaptest.NewLogger(t))

	emitted := m.Process(sampleReport(75))
	require.Len(t, emitted, 2)

	acc := emitted[0]
	assert.Equal(t, TypeMuleAccount, acc.AlertType)
	assert.Equal(t, "MULE", acc.AccountID)
	assert.Equal(t, "critical", acc.Severity)
	assert.Equal(t, []models.PatternKind{models.PatternStructuring, models.PatternCircularRouting}, acc.Patterns)
	assert.NotEmpty(t, acc.ID)
	assert.Equal(t, "batch-1", acc.BatchID)

	ring := emitted[1]
	assert.Equal(t, TypeFraudRing, ring.AlertType)
	assert.Equal(t, "RING_001", ring.RingID)
	assert.Equal(t, []string{"A", "B", "C"}, ring.Members)

	assert.Len(t, broadcast, 2)
}

func TestProcess_DeduplicatesUntilScoreRises(t *testing.T) {
	m := NewManager(testConfig(), nil, nil, nil)

	require.Len(t, m.Process(sampleReport(75)), 2)
	assert.Empty(t, m.Process(sampleReport(75)), "same scores do not re-alert")

	again := m.Process(sampleReport(100))
	require.Len(t, again, 1)
	assert.Equal(t, 100.0, again[0].Score)
}

func TestProcess_SeverityFollowsScoringBands(t *testing.T) {
	bands := []heuristics.RiskBand{
		{Label: "Severe", MinScore: 90},
		{Label: "Elevated", MinScore: 70},
		{Label: "Routine", MinScore: 0},
	}
	cfg := config.AlertsConfig{MinScore: 75, MinSeverity: "severe", MaxHistory: 10}
	m := NewManager(cfg, bands, nil, nil)

	emitted := m.Process(sampleReport(95))
	require.Len(t, emitted, 2)
	assert.Equal(t, "severe", emitted[0].Severity)
	assert.Equal(t, "elevated", emitted[1].Severity, "ring at 80")

	assert.Len(t, m.BySeverity("Severe"), 1)
	assert.Len(t, m.BySeverity("elevated"), 2)
	assert.Len(t, m.BySeverity("routine"), 2)
}

func TestProcess_NilReport(t *testing.T) {
	assert.Nil(t, NewManager(testConfig(), nil, nil, nil).Process(nil))
}

func TestWebhookDelivery(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Alert
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		var a Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		mu.Lock()
		received = append(received, a)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := NewManager(testConfig(), nil, nil, zaptest.NewLogger(t))
	m.RegisterWebhook("ops", srv.URL, "critical", map[string]string{"X-Token": "secret"})

	m.Emit(Alert{Severity: "high", AlertType: TypeMuleAccount, Title: "filtered"})
	m.Emit(Alert{Severity: "critical", AlertType: TypeMuleAccount, Title: "delivered"})
	m.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "delivered", received[0].Title)
}

func TestWebhooksFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Webhooks = []string{"http://127.0.0.1:1/hook"}
	m := NewManager(cfg, nil, nil, nil)

	m.mu.RLock()
	require.Len(t, m.webhooks, 1)
	assert.Equal(t, "high", m.webhooks[0].MinSeverity)
	m.mu.RUnlock()

	m.RemoveWebhook("webhook-1")
	m.mu.RLock()
	assert.Empty(t, m.webhooks)
	m.mu.RUnlock()
}

func TestRecentAndHistoryBound(t *testing.T) {
	m := NewManager(config.AlertsConfig{MinScore: 75, MinSeverity: "high", MaxHistory: 3}, nil, nil, nil)
	for _, sev := range []string{"low", "medium", "high", "critical", "low"} {
		m.Emit(Alert{Severity: sev, Title: sev})
	}

	recent := m.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "low", recent[0].Title, "newest first")
	assert.Equal(t, "high", recent[2].Title)

	assert.Len(t, m.BySeverity("high"), 2)
	assert.Len(t, m.Recent(1), 1)
}
