package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VestLab/dropmgr/internal/lib/ledger"
)

func TestDistributionInfoRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := LoadDistributionInfo()
	require.True(t, errors.Is(err, os.ErrNotExist))

	unlock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	info := &DistributionInfo{
		AssetID:             4150,
		AirdropAmount:       10_000,
		StakingDurationSecs: 86400,
		Owner:               testAddr(0xff).String(),
		Treasury:            testAddr(0xfe).String(),
		Ledger: &ledger.Snapshot{
			Participants: map[string]ledger.ParticipantState{
				testAddr(1).String(): {Eligible: true, Claimed: true, WantsStake: true, Staked: true, UnlockTime: &unlock},
				testAddr(2).String(): {Eligible: true},
			},
			Totals: ledger.Totals{ParticipantsStaked: 1, AmountStaked: 5000},
		},
	}
	require.NoError(t, SaveDistributionInfo(info))

	loaded, err := LoadDistributionInfo()
	require.NoError(t, err)
	assert.Equal(t, info.AssetID, loaded.AssetID)
	assert.Equal(t, info.AirdropAmount, loaded.AirdropAmount)
	assert.Equal(t, info.Owner, loaded.Owner)
	require.NotNil(t, loaded.Ledger)
	assert.Equal(t, info.Ledger.Totals, loaded.Ledger.Totals)
	state := loaded.Ledger.Participants[testAddr(1).String()]
	assert.True(t, state.Staked)
	require.NotNil(t, state.UnlockTime)
	assert.True(t, state.UnlockTime.Equal(unlock))
}

func TestSaveReplacesAtomically(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	first := &DistributionInfo{AssetID: 1, AirdropAmount: 2, StakingDurationSecs: 3, Owner: testAddr(1).String(), Treasury: testAddr(2).String()}
	require.NoError(t, SaveDistributionInfo(first))

	second := &DistributionInfo{AssetID: 9, AirdropAmount: 8, StakingDurationSecs: 7, Owner: testAddr(1).String(), Treasury: testAddr(2).String()}
	require.NoError(t, SaveDistributionInfo(second))

	loaded, err := LoadDistributionInfo()
	require.NoError(t, err)
	assert.EqualValues(t, 9, loaded.AssetID)

	// no stray temp files left behind next to the config
	cfgName, err := ConfigFilename()
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Dir(cfgName))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
