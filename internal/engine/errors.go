package engine

import (
	"fmt"

	"github.com/rawblock/mule-forensics/internal/heuristics"
)

// DetectorError is an unexpected detector failure. Exploration caps are not
// errors; they surface as partial coverage on the report.
type DetectorError struct {
	Detector  string
	BatchID   string
	AccountID string // Set when the failure can be pinned to one account
	Err       error
}

func (e *DetectorError) Error() string {
	if e.AccountID != "" {
		return fmt.Sprintf("detector %s failed on account %s (batch %s): %v", e.Detector, e.AccountID, e.BatchID, e.Err)
	}
	return fmt.Sprintf("detector %s failed (batch %s): %v", e.Detector, e.BatchID, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

func recovered(detector, batchID string, r any) *DetectorError {
	de := &DetectorError{Detector: detector, BatchID: batchID}
	if ap, ok := r.(heuristics.AccountPanic); ok {
		de.AccountID = ap.AccountID
		r = ap.Value
	}
	if err, ok := r.(error); ok {
		de.Err = err
	} else {
		de.Err = fmt.Errorf("panic: %v", r)
	}
	return de
}
