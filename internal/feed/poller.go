package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rawblock/mule-forensics/internal/config"
	"github.com/rawblock/mule-forensics/internal/db"
	"github.com/rawblock/mule-forensics/internal/metrics"
	"github.com/rawblock/mule-forensics/pkg/models"
)

// Source yields transactions after a keyset cursor, oldest first.
type Source interface {
	LoadSince(ctx context.Context, cursor db.Cursor, limit int) ([]models.Transaction, error)
}

// Analyzer runs one full analysis.
type Analyzer interface {
	Analyze(ctx context.Context, txs []models.Transaction) (*models.Report, error)
}

// ReportHandler receives every report the poller produces together with
// the snapshot it was computed from.
type ReportHandler func(report *models.Report, txs []models.Transaction)

// Poller keeps a rolling snapshot of recent transactions and re-analyses
// the whole snapshot whenever new transactions arrive. There is no
// incremental scoring: each report stands alone.
type Poller struct {
	source   Source
	engine   Analyzer
	cfg      config.FeedConfig
	logger   *zap.Logger
	recorder *metrics.Recorder
	handlers []ReportHandler

	mu        sync.Mutex
	cursor    db.Cursor
	snapshot  []models.Transaction
	prevRings []models.FraudRing
	hasPrev   bool
}

// NewPoller wires a source to an analyzer.
func NewPoller(source Source, engine Analyzer, cfg config.FeedConfig, logger *zap.Logger, recorder *metrics.Recorder, handlers ...ReportHandler) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		source:   source,
		engine:   engine,
		cfg:      cfg,
		logger:   logger.Named("feed"),
		recorder: recorder,
		handlers: handlers,
	}
}

// Run polls until ctx is cancelled. Poll errors are logged and retried on
// the next tick.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Starting transaction feed poller",
		zap.Duration("interval", p.cfg.PollInterval),
		zap.Duration("retention", p.cfg.Retention),
		zap.Int("max_transactions", p.cfg.MaxTransactions))

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("Feed poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping transaction feed poller")
			return
		case <-ticker.C:
		}
	}
}

// Poll drains new transactions, trims the snapshot and re-analyses it.
// It returns nil without error when nothing new arrived.
func (p *Poller) Poll(ctx context.Context) (*models.Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fresh, err := p.drain(ctx)
	if err != nil {
		return nil, err
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	p.snapshot = append(p.snapshot, fresh...)
	p.trim()

	batch := make([]models.Transaction, len(p.snapshot))
	copy(batch, p.snapshot)

	report, err := p.engine.Analyze(ctx, batch)
	if err != nil {
		return nil, err
	}

	if p.hasPrev {
		ari, vi := metrics.CompareRings(p.prevRings, report.FraudRings)
		p.recorder.SetRingStability(ari, vi)
		p.logger.Debug("Ring stability", zap.Float64("ari", ari), zap.Float64("vi", vi))
	}
	p.prevRings = report.FraudRings
	p.hasPrev = true

	p.logger.Info("Feed batch analysed",
		zap.String("batch_id", report.BatchID),
		zap.Int("new_transactions", len(fresh)),
		zap.Int("snapshot", len(batch)),
		zap.Int("suspicious", report.Summary.SuspiciousAccountsFlagged))

	for _, h := range p.handlers {
		h(report, batch)
	}
	return report, nil
}

// drain pages through the source until it runs dry or MaxTransactions
// rows were read in this poll.
func (p *Poller) drain(ctx context.Context) ([]models.Transaction, error) {
	var fresh []models.Transaction
	for len(fresh) < p.cfg.MaxTransactions {
		limit := p.cfg.BatchLimit
		if remaining := p.cfg.MaxTransactions - len(fresh); remaining < limit {
			limit = remaining
		}
		page, err := p.source.LoadSince(ctx, p.cursor, limit)
		if err != nil {
			return nil, err
		}
		advanced := false
		for _, tx := range page {
			if !p.cursor.After(tx) {
				continue // Source ignored the cursor; never analyse a row twice.
			}
			fresh = append(fresh, tx)
			p.cursor = db.Cursor{At: tx.Timestamp, ID: tx.ID}
			advanced = true
		}
		if len(page) < limit || !advanced {
			break
		}
	}
	return fresh, nil
}

// trim drops transactions older than Retention before the newest one, then
// the oldest ones beyond MaxTransactions.
func (p *Poller) trim() {
	if len(p.snapshot) == 0 {
		return
	}
	newest := p.snapshot[len(p.snapshot)-1].Timestamp
	cutoff := newest.Add(-p.cfg.Retention)

	start := 0
	for start < len(p.snapshot) && p.snapshot[start].Timestamp.Before(cutoff) {
		start++
	}
	if over := len(p.snapshot) - start - p.cfg.MaxTransactions; over > 0 {
		start += over
	}
	if start > 0 {
		p.snapshot = append([]models.Transaction(nil), p.snapshot[start:]...)
	}
}

// SnapshotSize returns the number of transactions currently retained.
func (p *Poller) SnapshotSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snapshot)
}
