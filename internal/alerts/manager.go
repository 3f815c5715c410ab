package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rawblock/mule-forensics/internal/config"
	"github.com/rawblock/mule-forensics/internal/heuristics"
	"github.com/rawblock/mule-forensics/pkg/models"
)

// Real-Time Alert Manager
//
// Turns feed reports into operator alerts:
//   - mule_account: an account reached the alert score
//   - fraud_ring:   a ring's mean score reached the alert score
//
// An account (or ring member set) alerts again only when its score rises
// above the score it last alerted at, so a stable mule does not page every
// poll. Alerts go to the broadcast callback (WebSocket) and to every
// webhook whose minimum severity they meet.

// Alert types.
const (
	TypeMuleAccount = "mule_account"
	TypeFraudRing   = "fraud_ring"
)

type Alert struct {
	ID             string               `json:"id"`
	Timestamp      time.Time            `json:"timestamp"`
	Severity       string               `json:"severity"` // Lowercased risk band label
	AlertType      string               `json:"alertType"`
	Title          string               `json:"title"`
	Description    string               `json:"description"`
	BatchID        string               `json:"batchId"`
	AccountID      string               `json:"accountId,omitempty"`
	RingID         string               `json:"ringId,omitempty"`
	Members        []string             `json:"members,omitempty"`
	Score          float64              `json:"score"`
	Classification string               `json:"classification,omitempty"`
	Patterns       []models.PatternKind `json:"patterns,omitempty"`
}

// WebhookEndpoint is an external HTTP receiver of alerts.
type WebhookEndpoint struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Enabled     bool              `json:"enabled"`
	Headers     map[string]string `json:"headers,omitempty"`
	MinSeverity string            `json:"minSeverity"` // Only send alerts >= this severity
}

// Manager deduplicates and dispatches alerts.
type Manager struct {
	mu           sync.RWMutex
	minScore     int
	webhooks     []WebhookEndpoint
	recentAlerts []Alert
	maxHistory   int
	alerted      map[string]float64 // account id or ring key -> last alerted score
	httpClient   *http.Client
	bands        []heuristics.RiskBand
	ranks        map[string]int
	broadcast    func(Alert)
	logger       *zap.Logger
	inflight     sync.WaitGroup
}

// NewManager creates a manager from config. Severities are the lowercased
// labels of bands; nil bands means the default scoring bands. broadcast may
// be nil.
func NewManager(cfg config.AlertsConfig, bands []heuristics.RiskBand, broadcast func(Alert), logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(bands) == 0 {
		bands = heuristics.DefaultConfig().Scoring.Bands
	}
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	m := &Manager{
		minScore:     cfg.MinScore,
		recentAlerts: make([]Alert, 0),
		maxHistory:   maxHistory,
		alerted:      make(map[string]float64),
		bands:        bands,
		ranks:        heuristics.SeverityRanks(bands),
		httpClient:   &http.Client{Timeout: timeout},
		broadcast:    broadcast,
		logger:       logger.Named("alerts"),
	}
	for i, url := range cfg.Webhooks {
		m.RegisterWebhook(fmt.Sprintf("webhook-%d", i+1), url, cfg.MinSeverity, nil)
	}
	return m
}

// RegisterWebhook adds a new webhook endpoint.
func (m *Manager) RegisterWebhook(name, url, minSeverity string, headers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.webhooks = append(m.webhooks, WebhookEndpoint{
		Name:        name,
		URL:         url,
		Enabled:     true,
		Headers:     headers,
		MinSeverity: minSeverity,
	})
	m.logger.Info("Registered webhook", zap.String("name", name), zap.String("url", url), zap.String("min_severity", minSeverity))
}

// RemoveWebhook removes a webhook by name.
func (m *Manager) RemoveWebhook(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, wh := range m.webhooks {
		if wh.Name == name {
			m.webhooks = append(m.webhooks[:i], m.webhooks[i+1:]...)
			return
		}
	}
}

// Process emits alerts for every account and ring of report that crossed
// the alert score since it last alerted. It returns the emitted alerts.
func (m *Manager) Process(report *models.Report) []Alert {
	if report == nil {
		return nil
	}
	var emitted []Alert

	for _, acc := range report.Accounts {
		if acc.SuspicionScore < m.minScore {
			continue
		}
		if !m.claim(acc.AccountID, float64(acc.SuspicionScore)) {
			continue
		}
		kinds := make([]models.PatternKind, 0, len(acc.Patterns))
		for _, p := range acc.Patterns {
			if len(kinds) == 0 || kinds[len(kinds)-1] != p.Kind {
				kinds = append(kinds, p.Kind)
			}
		}
		emitted = append(emitted, m.Emit(Alert{
			Severity:       heuristics.AlertLevelForScore(acc.SuspicionScore, m.bands),
			AlertType:      TypeMuleAccount,
			Title:          fmt.Sprintf("%s: %s", acc.Classification, acc.AccountID),
			Description:    describeAccount(acc, kinds),
			BatchID:        report.BatchID,
			AccountID:      acc.AccountID,
			Score:          float64(acc.SuspicionScore),
			Classification: acc.Classification,
			Patterns:       kinds,
		}))
	}

	for _, ring := range report.FraudRings {
		if ring.RiskScore < float64(m.minScore) {
			continue
		}
		if !m.claim("ring:"+strings.Join(ring.Members, ","), ring.RiskScore) {
			continue
		}
		emitted = append(emitted, m.Emit(Alert{
			Severity:    heuristics.AlertLevelForScore(int(ring.RiskScore), m.bands),
			AlertType:   TypeFraudRing,
			Title:       fmt.Sprintf("Fraud ring %s (%d accounts)", ring.RingID, len(ring.Members)),
			Description: fmt.Sprintf("%d overlapping cycles through %s", ring.CycleCount, strings.Join(ring.Members, ", ")),
			BatchID:     report.BatchID,
			RingID:      ring.RingID,
			Members:     append([]string(nil), ring.Members...),
			Score:       ring.RiskScore,
		}))
	}
	return emitted
}

// claim records score for key and reports whether it is new or higher.
func (m *Manager) claim(key string, score float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.alerted[key]; ok && score <= prev {
		return false
	}
	m.alerted[key] = score
	return true
}

// Emit records and dispatches an alert.
func (m *Manager) Emit(alert Alert) Alert {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	m.mu.Lock()
	m.recentAlerts = append(m.recentAlerts, alert)
	if len(m.recentAlerts) > m.maxHistory {
		m.recentAlerts = m.recentAlerts[len(m.recentAlerts)-m.maxHistory:]
	}
	webhooks := make([]WebhookEndpoint, len(m.webhooks))
	copy(webhooks, m.webhooks)
	m.mu.Unlock()

	if m.broadcast != nil {
		m.broadcast(alert)
	}

	for _, wh := range webhooks {
		if !wh.Enabled || !m.meetsSeverity(alert.Severity, wh.MinSeverity) {
			continue
		}
		m.inflight.Add(1)
		go func(wh WebhookEndpoint) {
			defer m.inflight.Done()
			m.sendWebhook(wh, alert)
		}(wh)
	}

	m.logger.Info("Alert",
		zap.String("severity", alert.Severity),
		zap.String("type", alert.AlertType),
		zap.String("title", alert.Title),
		zap.String("batch_id", alert.BatchID))
	return alert
}

// Recent returns the most recent alerts, newest first.
func (m *Manager) Recent(limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.recentAlerts) {
		limit = len(m.recentAlerts)
	}
	start := len(m.recentAlerts) - limit
	result := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		result[i] = m.recentAlerts[start+limit-1-i]
	}
	return result
}

// BySeverity returns alerts at or above minSeverity, oldest first.
func (m *Manager) BySeverity(minSeverity string) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []Alert
	for _, alert := range m.recentAlerts {
		if m.meetsSeverity(alert.Severity, minSeverity) {
			filtered = append(filtered, alert)
		}
	}
	return filtered
}

// Wait blocks until in-flight webhook deliveries finish.
func (m *Manager) Wait() { m.inflight.Wait() }

func (m *Manager) sendWebhook(wh WebhookEndpoint, alert Alert) {
	log := m.logger.With(zap.String("webhook", wh.Name), zap.String("alert_id", alert.ID))

	payload, err := json.Marshal(alert)
	if err != nil {
		log.Error("Failed to marshal alert", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, wh.URL, bytes.NewReader(payload))
	if err != nil {
		log.Error("Failed to create webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for key, val := range wh.Headers {
		req.Header.Set(key, val)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Warn("Webhook delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Warn("Webhook rejected alert", zap.Int("status", resp.StatusCode))
	}
}

// meetsSeverity ranks severities by band order. Unknown labels rank lowest.
func (m *Manager) meetsSeverity(severity, minimum string) bool {
	return m.ranks[strings.ToLower(severity)] >= m.ranks[strings.ToLower(minimum)]
}

func describeAccount(acc models.AccountReport, kinds []models.PatternKind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = strings.ReplaceAll(string(k), "_", " ")
	}
	desc := fmt.Sprintf("Score %d (%s). Patterns: %s.", acc.SuspicionScore, acc.RiskLevel, strings.Join(names, ", "))
	if acc.Role != "" {
		desc += " Role: " + acc.Role + "."
	}
	return desc
}
