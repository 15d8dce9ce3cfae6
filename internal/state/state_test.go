package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/hedgebot/internal/config"
)

func tempManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(filepath.Join(t.TempDir(), "bot_state.json"))
}

func samplePosition() *Position {
	opened := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	return &Position{
		Symbol:         "BTCUSDT",
		LongVenue:      "Lighter",
		ShortVenue:     "Aster",
		Leverage:       3,
		OpenedAt:       opened,
		TargetCloseAt:  opened.Add(8 * time.Hour),
		SizeBase:       decimal.RequireFromString("0.002"),
		AvgMid:         decimal.RequireFromString("50000"),
		ExpectedNetAPR: 30.0,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := tempManager(t)
	cfg := config.Default()
	require.NoError(t, m.Mutate(func(f *File) {
		f.State = Holding
		f.CurrentCycle = 7
		f.CurrentPosition = samplePosition()
		f.Config = &cfg
		pnl := 1.23
		f.CompletedCycles = append(f.CompletedCycles, CycleRecord{
			Symbol:         "ETHUSDT",
			OpenedAt:       time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
			ClosedAt:       time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC),
			ExpectedNetAPR: 12.5,
			Status:         StatusSuccess,
			PnLAtClose:     &pnl,
		})
		f.CumulativeStats.TotalCycles = 8
	}))

	m2 := NewManager(m.path)
	require.True(t, m2.Load())

	got := m2.Get()
	assert.Equal(t, Holding, got.State)
	assert.Equal(t, 7, got.CurrentCycle)
	require.NotNil(t, got.CurrentPosition)
	assert.Equal(t, "BTCUSDT", got.CurrentPosition.Symbol)
	assert.True(t, decimal.RequireFromString("0.002").Equal(got.CurrentPosition.SizeBase))
	assert.True(t, samplePosition().OpenedAt.Equal(got.CurrentPosition.OpenedAt))
	require.Len(t, got.CompletedCycles, 1)
	assert.Equal(t, StatusSuccess, got.CompletedCycles[0].Status)
	require.NotNil(t, got.CompletedCycles[0].PnLAtClose)
	assert.Equal(t, 1.23, *got.CompletedCycles[0].PnLAtClose)
	assert.Equal(t, 8, got.CumulativeStats.TotalCycles)
	require.NotNil(t, got.Config)
	assert.Equal(t, 3, got.Config.Leverage)
}

func TestLoadMissingFileStartsFresh(t *testing.T) {
	m := tempManager(t)
	assert.False(t, m.Load())
	assert.Equal(t, Idle, m.State())
	assert.NotNil(t, m.Get().CompletedCycles)
}

func TestLoadCorruptFileStartsFresh(t *testing.T) {
	m := tempManager(t)
	require.NoError(t, os.WriteFile(m.path, []byte("{truncated"), 0644))
	assert.False(t, m.Load())
	assert.Equal(t, Idle, m.State())
}

func TestLoadEmptyFileStartsFresh(t *testing.T) {
	m := tempManager(t)
	require.NoError(t, os.WriteFile(m.path, nil, 0644))
	assert.False(t, m.Load())
}

func TestLoadTolerantOfMissingKeys(t *testing.T) {
	m := tempManager(t)
	require.NoError(t, os.WriteFile(m.path, []byte(`{"state":"WAITING"}`), 0644))
	require.True(t, m.Load())
	assert.Equal(t, Waiting, m.State())
	assert.Equal(t, "1.0", m.Get().Version)
	assert.NotNil(t, m.Get().CompletedCycles)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	m := tempManager(t)
	require.NoError(t, m.Save())

	_, err := os.Stat(m.path)
	require.NoError(t, err)
	_, err = os.Stat(m.path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

	// on-disk content is valid JSON
	data, err := os.ReadFile(m.path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestSaveOverwritesAtomically(t *testing.T) {
	m := tempManager(t)
	require.NoError(t, m.Save())
	require.NoError(t, m.Mutate(func(f *File) { f.CurrentCycle = 42 }))

	m2 := NewManager(m.path)
	require.True(t, m2.Load())
	assert.Equal(t, 42, m2.Get().CurrentCycle)
}

func TestTimesSerializeAsUTC(t *testing.T) {
	m := tempManager(t)
	require.NoError(t, m.Mutate(func(f *File) {
		f.CurrentPosition = samplePosition()
	}))

	data, err := os.ReadFile(m.path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2026-08-25T12:00:00Z")
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{Idle, Analyzing, true},
		{Analyzing, Opening, true},
		{Analyzing, Waiting, true},
		{Opening, Holding, true},
		{Opening, Waiting, true},
		{Holding, Closing, true},
		{Closing, Waiting, true},
		{Waiting, Idle, true},
		{Error, Idle, true},
		{Idle, Holding, false},
		{Holding, Opening, false},
		{Waiting, Closing, false},
		// SHUTDOWN reachable from anywhere
		{Idle, Shutdown, true},
		{Holding, Shutdown, true},
		{Error, Shutdown, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestRecordError(t *testing.T) {
	m := tempManager(t)
	m.RecordError(assert.AnError)

	m2 := NewManager(m.path)
	require.True(t, m2.Load())
	assert.Equal(t, assert.AnError.Error(), m2.Get().CumulativeStats.LastError)
	require.NotNil(t, m2.Get().CumulativeStats.LastErrorAt)
}
