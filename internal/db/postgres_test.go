package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/mule-forensics/pkg/models"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *time.Time:
			*p = r.values[i].(time.Time)
		}
	}
	return nil
}

func TestDecodeRow(t *testing.T) {
	at := time.Date(2025, 3, 10, 23, 15, 0, 0, time.FixedZone("CET", 3600))
	tx, err := decodeRow(fakeRow{values: []any{"T1", "A", "B", "1250.0500", at, "rent"}})
	require.NoError(t, err)

	assert.Equal(t, "T1", tx.ID)
	assert.Equal(t, "1250.05", tx.Amount.String())
	assert.Equal(t, time.UTC, tx.Timestamp.Location())
	assert.True(t, tx.Timestamp.Equal(at))
	assert.Equal(t, "rent", tx.Memo)
}

func TestDecodeRow_Errors(t *testing.T) {
	_, err := decodeRow(fakeRow{err: errors.New("conn reset")})
	assert.ErrorContains(t, err, "conn reset")

	_, err = decodeRow(fakeRow{values: []any{"T1", "A", "B", "NaN-ish", time.Now(), ""}})
	assert.ErrorContains(t, err, "T1")
}

func TestCursorAfter(t *testing.T) {
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	c := Cursor{At: at, ID: "T5"}

	assert.True(t, c.After(models.Transaction{ID: "T6", Timestamp: at}))
	assert.False(t, c.After(models.Transaction{ID: "T5", Timestamp: at}))
	assert.False(t, c.After(models.Transaction{ID: "T9", Timestamp: at.Add(-time.Second)}))
	assert.True(t, c.After(models.Transaction{ID: "T1", Timestamp: at.Add(time.Second)}))
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect(context.Background(), "postgres://user@localhost:notaport/db", 0, nil)
	assert.Error(t, err)
}

func TestSchemaEmbedded(t *testing.T) {
	assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS transactions")
}
