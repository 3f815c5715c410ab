package api

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/mule-forensics/internal/graph"
	"github.com/rawblock/mule-forensics/pkg/models"
)

// AccountProfile is the degree and temporal profile of one account in the
// latest run.
type AccountProfile struct {
	InCount        int             `json:"inCount"`
	OutCount       int             `json:"outCount"`
	Counterparties int             `json:"counterparties"`
	TotalIn        decimal.Decimal `json:"totalIn"`
	TotalOut       decimal.Decimal `json:"totalOut"`
	FirstSeen      time.Time       `json:"firstSeen"`
	LastSeen       time.Time       `json:"lastSeen"`
	HourlyActivity [24]int         `json:"hourlyActivity"` // Transactions per hour of day
}

// AccountView is the response of GET /api/v1/accounts/:id.
type AccountView struct {
	BatchID string               `json:"batchId"`
	Account models.AccountReport `json:"account"`
	Profile *AccountProfile      `json:"profile,omitempty"`
	Rings   []string             `json:"rings"`
}

// ReportStore keeps the latest report in memory. Nothing is persisted.
type ReportStore struct {
	mu       sync.RWMutex
	latest   *models.Report
	profiles map[string]*AccountProfile
}

func NewReportStore() *ReportStore {
	return &ReportStore{profiles: make(map[string]*AccountProfile)}
}

// Publish replaces the latest report. txs is the batch the report was
// computed from; profiles are derived from it when present.
func (s *ReportStore) Publish(report *models.Report, txs []models.Transaction) {
	profiles := buildProfiles(txs)
	s.mu.Lock()
	s.latest = report
	s.profiles = profiles
	s.mu.Unlock()
}

// Latest returns the most recent report, or nil.
func (s *ReportStore) Latest() *models.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Account looks id up in the latest report.
func (s *ReportStore) Account(id string) (AccountView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return AccountView{}, false
	}
	acc, ok := s.latest.Account(id)
	if !ok {
		return AccountView{}, false
	}
	view := AccountView{
		BatchID: s.latest.BatchID,
		Account: acc,
		Profile: s.profiles[id],
		Rings:   []string{},
	}
	for _, ring := range s.latest.FraudRings {
		for _, m := range ring.Members {
			if m == id {
				view.Rings = append(view.Rings, ring.RingID)
				break
			}
		}
	}
	return view, true
}

func buildProfiles(txs []models.Transaction) map[string]*AccountProfile {
	profiles := make(map[string]*AccountProfile)
	if len(txs) == 0 {
		return profiles
	}
	g, err := graph.Build(txs)
	if err != nil {
		return profiles
	}
	for i := 0; i < g.NodeCount(); i++ {
		st := g.Stats(i)
		p := &AccountProfile{
			InCount:        st.InCount,
			OutCount:       st.OutCount,
			Counterparties: st.Counterparties,
			TotalIn:        st.TotalIn,
			TotalOut:       st.TotalOut,
			FirstSeen:      st.FirstSeen,
			LastSeen:       st.LastSeen,
		}
		for _, tx := range g.Incident(i) {
			p.HourlyActivity[tx.Timestamp.Hour()]++
		}
		profiles[g.ID(i)] = p
	}
	return profiles
}
