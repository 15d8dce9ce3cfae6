package bot

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/web3guy0/hedgebot/internal/state"
	"github.com/web3guy0/hedgebot/internal/venue"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func savedPosition(size string) *state.Position {
	return &state.Position{
		Symbol:     "BTCUSDT",
		LongVenue:  venue.Lighter,
		ShortVenue: venue.Aster,
		SizeBase:   d(size),
	}
}

func TestClassifyRecoveryTruthTable(t *testing.T) {
	tick := d("0.0001")
	tests := []struct {
		name      string
		longSize  string
		shortSize string
		want      RecoveryOutcome
	}{
		{"both legs live, opposite signs", "0.002", "-0.002", RecoverResume},
		{"both flat", "0", "0", RecoverClearGhost},
		{"dust only", "0.00005", "-0.00005", RecoverClearGhost},
		{"long leg only", "0.002", "0", RecoverClearPartial},
		{"short leg only", "0", "-0.002", RecoverClearPartial},
		{"both long", "0.002", "0.002", RecoverClearConflict},
		{"both short", "-0.002", "-0.002", RecoverClearConflict},
		{"signs inverted", "-0.002", "0.002", RecoverClearConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, _ := ClassifyRecovery(savedPosition("0.002"), d(tt.longSize), d(tt.shortSize), tick)
			assert.Equal(t, tt.want, outcome)
		})
	}
}

func TestReconcileAdoptsLiveSizeOnDrift(t *testing.T) {
	tick := d("0.0001")

	// drift above both tolerances: 0.002 saved vs 0.004 live
	outcome, size := ClassifyRecovery(savedPosition("0.002"), d("0.004"), d("-0.004"), tick)
	assert.Equal(t, RecoverResume, outcome)
	assert.True(t, d("0.004").Equal(size), "got %s", size)
}

func TestReconcileKeepsSavedSizeWithinTolerance(t *testing.T) {
	tick := d("0.0001")

	// relative drift 0.05% is under the 0.1% gate
	outcome, size := ClassifyRecovery(savedPosition("2.000"), d("2.001"), d("-2.001"), tick)
	assert.Equal(t, RecoverResume, outcome)
	assert.True(t, d("2.000").Equal(size), "got %s", size)

	// relative drift is large but the absolute drift is under 0.001
	outcome, size = ClassifyRecovery(savedPosition("0.0020"), d("0.0024"), d("-0.0024"), tick)
	assert.Equal(t, RecoverResume, outcome)
	assert.True(t, d("0.0020").Equal(size), "got %s", size)
}

func TestReconcileUsesObservedAverage(t *testing.T) {
	tick := d("0.0001")

	// legs drifted apart; the adopted size is avg(|long|, |short|)
	_, size := ClassifyRecovery(savedPosition("0.002"), d("0.010"), d("-0.008"), tick)
	assert.True(t, d("0.009").Equal(size), "got %s", size)
}

func TestRecoveryOutcomeString(t *testing.T) {
	assert.Equal(t, "resume", RecoverResume.String())
	assert.Equal(t, "ghost", RecoverClearGhost.String())
	assert.Equal(t, "partial", RecoverClearPartial.String())
	assert.Equal(t, "conflict", RecoverClearConflict.String())
}
