package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/mule-forensics/pkg/models"
)

// Canonical upload columns. Names match case-insensitively; memo is optional.
const (
	ColTransactionID = "transaction_id"
	ColSenderID      = "sender_id"
	ColReceiverID    = "receiver_id"
	ColAmount        = "amount"
	ColTimestamp     = "timestamp"
	ColMemo          = "memo"
)

var requiredColumns = []string{ColTransactionID, ColSenderID, ColReceiverID, ColAmount, ColTimestamp}

// Accepted timestamp layouts, tried in order. Values without a zone are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// RowError reports one unparseable CSV row. Line is 1-based and counts the
// header.
type RowError struct {
	Line   int    `json:"line"`
	Column string `json:"column,omitempty"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Column, e.Reason)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// ErrMissingColumns is returned when the header lacks a canonical column.
var ErrMissingColumns = errors.New("csv header is missing required columns")

// DecodeCSV reads transactions from r. Rows that fail to parse are collected
// as RowErrors; err is reserved for unreadable input or a bad header.
func DecodeCSV(r io.Reader) (txs []models.Transaction, rowErrs []RowError, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("%w: empty input", ErrMissingColumns)
		}
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	memoCol, hasMemo := cols[ColMemo]

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				rowErrs = append(rowErrs, RowError{Line: perr.Line, Reason: perr.Err.Error()})
				continue
			}
			return nil, nil, fmt.Errorf("read csv: %w", err)
		}
		if isBlank(record) {
			continue
		}
		line, _ := reader.FieldPos(0)

		field := func(name string) string {
			i := cols[name]
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		tx := models.Transaction{
			ID:         field(ColTransactionID),
			SenderID:   field(ColSenderID),
			ReceiverID: field(ColReceiverID),
		}
		if hasMemo && memoCol < len(record) {
			tx.Memo = strings.TrimSpace(record[memoCol])
		}

		amount, err := decimal.NewFromString(field(ColAmount))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Column: ColAmount, Reason: "not a number"})
			continue
		}
		tx.Amount = amount

		ts, err := ParseTimestamp(field(ColTimestamp))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Column: ColTimestamp, Reason: err.Error()})
			continue
		}
		tx.Timestamp = ts

		txs = append(txs, tx)
	}
	return txs, rowErrs, nil
}

// ParseTimestamp accepts RFC 3339 and the common "YYYY-MM-DD HH:MM:SS" forms.
// An explicit offset is kept so hour-of-day checks see the local wall clock.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
