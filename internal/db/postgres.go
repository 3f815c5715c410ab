package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rawblock/mule-forensics/pkg/models"
)

// schemaSQL is compiled into the binary so schema init works from the
// runtime image, which does not ship internal/db.
//
//go:embed schema.sql
var schemaSQL string

// Cursor is the keyset position of the last transaction read.
type Cursor struct {
	At time.Time
	ID string
}

// After reports whether tx sorts strictly after the cursor.
func (c Cursor) After(tx models.Transaction) bool {
	if tx.Timestamp.Equal(c.At) {
		return tx.ID > c.ID
	}
	return tx.Timestamp.After(c.At)
}

// PostgresStore is a read-only transaction source backed by pgx.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect opens and pings a connection pool.
func Connect(ctx context.Context, connStr string, maxConns int32, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	logger = logger.Named("db")
	logger.Info("Connected to PostgreSQL transaction source",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns))
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the source table when it does not exist yet.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	s.logger.Info("Transaction source schema ready")
	return nil
}

// Ping checks database reachability for the health endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const loadSinceSQL = `
	SELECT transaction_id, sender_id, receiver_id, amount::text, occurred_at, COALESCE(memo, '')
	FROM transactions
	WHERE (occurred_at, transaction_id) > ($1, $2)
	ORDER BY occurred_at, transaction_id
	LIMIT $3
`

// LoadSince returns up to limit transactions after cursor, in keyset order.
func (s *PostgresStore) LoadSince(ctx context.Context, cursor Cursor, limit int) ([]models.Transaction, error) {
	rows, err := s.pool.Query(ctx, loadSinceSQL, cursor.At, cursor.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]models.Transaction, 0, limit)
	for rows.Next() {
		tx, err := decodeRow(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read transactions: %w", err)
	}
	return txs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// decodeRow reads one source row. Amounts travel as text so NUMERIC keeps
// its exact precision in decimal.Decimal.
func decodeRow(row rowScanner) (models.Transaction, error) {
	var (
		tx     models.Transaction
		amount string
	)
	if err := row.Scan(&tx.ID, &tx.SenderID, &tx.ReceiverID, &amount, &tx.Timestamp, &tx.Memo); err != nil {
		return models.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("transaction %s: amount %q: %w", tx.ID, amount, err)
	}
	tx.Amount = d
	tx.Timestamp = tx.Timestamp.UTC()
	return tx, nil
}
