package heuristics

import (
	"testing"

	"github.com/rawblock/mule-forensics/pkg/models"
	"github.com/stretchr/testify/assert"
)

func kindFlags(kinds ...models.PatternKind) []models.Flag {
	flags := make([]models.Flag, 0, len(kinds))
	for _, k := range kinds {
		flags = append(flags, models.Flag{AccountID: "ACC", Kind: k})
	}
	return flags
}

func TestScoreAccount(t *testing.T) {
	cfg := DefaultConfig().Scoring

	tests := []struct {
		name  string
		flags []models.Flag
		want  int
	}{
		{"clean", nil, 0},
		{"structuring only", kindFlags(models.PatternStructuring), 40},
		{"repeated kind counts once", kindFlags(models.PatternCircularRouting, models.PatternCircularRouting, models.PatternCircularRouting), 35},
		{"cycle and shell", kindFlags(models.PatternCircularRouting, models.PatternLayeredShell), 65},
		{"temporal pair", kindFlags(models.PatternNocturnalAnomaly, models.PatternVelocityAnomaly), 45},
		{"everything clamps", kindFlags(models.AllPatternKinds...), 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScoreAccount(tt.flags, cfg))
		})
	}
}

func TestScoreAccount_IsPureAndOrderInsensitive(t *testing.T) {
	cfg := DefaultConfig().Scoring
	a := kindFlags(models.PatternVelocityAnomaly, models.PatternStructuring, models.PatternLayeredShell)
	b := kindFlags(models.PatternLayeredShell, models.PatternStructuring, models.PatternVelocityAnomaly)

	first := ScoreAccount(a, cfg)
	assert.Equal(t, first, ScoreAccount(a, cfg))
	assert.Equal(t, first, ScoreAccount(b, cfg))
	assert.Equal(t, 90, first)
}

func TestContributingKinds_WeightOrder(t *testing.T) {
	cfg := DefaultConfig().Scoring
	flags := kindFlags(models.PatternVelocityAnomaly, models.PatternStructuring, models.PatternNocturnalAnomaly, models.PatternStructuring)

	assert.Equal(t, []models.PatternKind{
		models.PatternStructuring,
		models.PatternNocturnalAnomaly,
		models.PatternVelocityAnomaly,
	}, ContributingKinds(flags, cfg))
}

func TestRiskLevel(t *testing.T) {
	bands := DefaultConfig().Scoring.Bands
	for score, want := range map[int]string{
		0:   "Low",
		24:  "Low",
		25:  "Medium",
		49:  "Medium",
		50:  "High",
		74:  "High",
		75:  "Critical",
		100: "Critical",
	} {
		assert.Equal(t, want, RiskLevel(score, bands), "score %d", score)
	}
}

func TestGroupFlags(t *testing.T) {
	flags := []models.Flag{
		{AccountID: "A", Kind: models.PatternStructuring},
		{AccountID: "B", Kind: models.PatternLayeredShell},
		{AccountID: "A", Kind: models.PatternVelocityAnomaly},
	}
	grouped := GroupFlags(flags)
	assert.Len(t, grouped, 2)
	assert.Equal(t, models.PatternVelocityAnomaly, grouped["A"][1].Kind)
}
