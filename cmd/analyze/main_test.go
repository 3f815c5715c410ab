package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/mule-forensics/pkg/models"
)

const sample = `transaction_id,sender_id,receiver_id,amount,timestamp
T1,A,B,5000,2025-03-10 12:00:00
T2,B,C,4900,2025-03-10 13:00:00
T3,C,A,4800,2025-03-10 14:00:00
T4,D,E,20,2025-03-10 15:00:00
`

func TestRun_StdinToStdout(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--suspicious-only", "--log-level", "error", "-"}, strings.NewReader(sample), &out))

	var report models.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, 5, report.Summary.TotalAccountsAnalyzed)
	require.Len(t, report.FraudRings, 1)
	assert.Len(t, report.Accounts, 3, "D and E score zero")
}

func TestRun_FileToFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "tx.csv")
	dst := filepath.Join(dir, "report.json")
	require.NoError(t, os.WriteFile(in, []byte(sample), 0o600))

	var out bytes.Buffer
	require.NoError(t, run([]string{"--compact", "-o", dst, "--log-level", "error", in}, nil, &out))
	assert.Zero(t, out.Len())

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	var report models.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Len(t, report.Accounts, 5)
}

func TestRun_Errors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(nil, nil, &out), "missing input")

	err := run([]string{"--log-level", "error", "-"}, strings.NewReader("transaction_id,sender_id,receiver_id,amount,timestamp\nT1,A,B,x,2025-03-10\n"), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 rows failed to parse")

	err = run([]string{"--workers", "0", "--log-level", "error", "-"}, strings.NewReader(sample), &out)
	require.Error(t, err, "zero workers is not a valid configuration")
}
