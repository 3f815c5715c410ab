package heuristics

import (
	"fmt"
	"testing"
	"time"

	"github.com/rawblock/mule-forensics/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fanOut(hub string, partners int, start time.Time, step time.Duration, prefix string) []models.Transaction {
	txs := make([]models.Transaction, 0, partners)
	for i := 0; i < partners; i++ {
		txs = append(txs, transfer(hub, fmt.Sprintf("%s%02d", prefix, i), 900, start.Add(time.Duration(i)*step)))
	}
	return txs
}

func TestStructuring_ElevenPartnersInTenHours(t *testing.T) {
	g := mustGraph(t, fanOut("HUB", 11, t0, time.Hour, "P"))

	flags := DetectStructuring(g, DefaultConfig().Structuring)
	require.Len(t, flags, 1)

	f := flags[0]
	assert.Equal(t, "HUB", f.AccountID)
	assert.Equal(t, models.PatternStructuring, f.Kind)
	assert.Equal(t, models.DirectionFanOut, f.Evidence.Direction)
	assert.Equal(t, 11, f.Evidence.PartnerCount)
	require.NotNil(t, f.Evidence.WindowStart)
	require.NotNil(t, f.Evidence.WindowEnd)
	assert.True(t, f.Evidence.WindowStart.Equal(t0))
	assert.True(t, f.Evidence.WindowEnd.Equal(t0.Add(10*time.Hour)))
}

func TestStructuring_TenPartnersIsNotEnough(t *testing.T) {
	g := mustGraph(t, fanOut("HUB", 10, t0, time.Hour, "P"))
	assert.Empty(t, DetectStructuring(g, DefaultConfig().Structuring))
}

func TestStructuring_PartnersSpreadBeyondWindow(t *testing.T) {
	// 11 partners 8h apart span 80h; any 72h window holds at most 10.
	g := mustGraph(t, fanOut("HUB", 11, t0, 8*time.Hour, "P"))
	assert.Empty(t, DetectStructuring(g, DefaultConfig().Structuring))
}

func TestStructuring_WindowEndIsInclusive(t *testing.T) {
	// Exactly 72h between first and last event.
	step := 72 * time.Hour / 10
	g := mustGraph(t, fanOut("HUB", 11, t0, step, "P"))

	flags := DetectStructuring(g, DefaultConfig().Structuring)
	require.Len(t, flags, 1)
	assert.Equal(t, 11, flags[0].Evidence.PartnerCount)
}

func TestStructuring_FanIn(t *testing.T) {
	var txs []models.Transaction
	for i := 0; i < 12; i++ {
		txs = append(txs, transfer(fmt.Sprintf("S%02d", i), "COLLECTOR", 450, t0.Add(time.Duration(i)*25*time.Minute)))
	}
	g := mustGraph(t, txs)

	flags := DetectStructuring(g, DefaultConfig().Structuring)
	require.Len(t, flags, 1)
	assert.Equal(t, "COLLECTOR", flags[0].AccountID)
	assert.Equal(t, models.DirectionFanIn, flags[0].Evidence.Direction)
	assert.Equal(t, 12, flags[0].Evidence.PartnerCount)
}

func TestStructuring_RepeatedPartnersCountOnce(t *testing.T) {
	var txs []models.Transaction
	for i := 0; i < 30; i++ {
		txs = append(txs, transfer("HUB", fmt.Sprintf("P%02d", i%5), 100, t0.Add(time.Duration(i)*time.Minute)))
	}
	g := mustGraph(t, txs)
	assert.Empty(t, DetectStructuring(g, DefaultConfig().Structuring))
}

func TestStructuring_BestWindowWins(t *testing.T) {
	txs := fanOut("HUB", 11, t0, time.Hour, "A")
	later := t0.Add(100 * time.Hour)
	txs = append(txs, fanOut("HUB", 13, later, time.Hour, "B")...)
	g := mustGraph(t, txs)

	flags := DetectStructuring(g, DefaultConfig().Structuring)
	require.Len(t, flags, 1, "one flag per account regardless of window count")
	assert.Equal(t, 13, flags[0].Evidence.PartnerCount)
	assert.True(t, flags[0].Evidence.WindowStart.Equal(later))
}

func TestStructuring_IgnoresSelfTransfers(t *testing.T) {
	txs := fanOut("HUB", 10, t0, time.Minute, "P")
	txs = append(txs, transfer("HUB", "HUB", 10, t0.Add(30*time.Minute)))
	g := mustGraph(t, txs)
	assert.Empty(t, DetectStructuring(g, DefaultConfig().Structuring))
}
