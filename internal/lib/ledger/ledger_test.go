package ledger

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAssetID       = 4150
	testAirdropAmount = 10_000
	testStakeDuration = 86400 * time.Second
)

func addr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

var (
	ownerAddr = addr(0xAA)
	userA     = addr(1)
	userB     = addr(2)
	userC     = addr(3)
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type xferCall struct {
	assetID uint64
	to      types.Address
	amount  uint64
}

type fakeTransfer struct {
	calls    []xferCall
	failWith error
	callback func() // invoked mid-transfer, before success/failure is decided
}

func (f *fakeTransfer) Transfer(_ context.Context, assetID uint64, to types.Address, amount uint64) error {
	if f.callback != nil {
		f.callback()
	}
	if f.failWith != nil {
		return f.failWith
	}
	f.calls = append(f.calls, xferCall{assetID: assetID, to: to, amount: amount})
	return nil
}

func (f *fakeTransfer) totalPaidTo(to types.Address) uint64 {
	var total uint64
	for _, call := range f.calls {
		if call.to == to {
			total += call.amount
		}
	}
	return total
}

type staticOwner struct {
	owner types.Address
}

func (s staticOwner) IsOwner(caller types.Address) bool {
	return caller != types.ZeroAddress && caller == s.owner
}

type testEnv struct {
	ledger *Ledger
	xfer   *fakeTransfer
	clock  *fakeClock
	sink   *MemorySink
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		xfer:  &fakeTransfer{},
		clock: &fakeClock{now: time.Unix(1000, 0)},
		sink:  &MemorySink{},
	}
	cfg := Config{
		AssetID:         testAssetID,
		AirdropAmount:   testAirdropAmount,
		StakingDuration: testStakeDuration,
		Owner:           ownerAddr,
	}
	allOpts := append([]Option{WithClock(env.clock), WithEventSink(env.sink)}, opts...)
	l, err := New(cfg, slog.Default(), env.xfer, staticOwner{owner: ownerAddr}, allOpts...)
	require.NoError(t, err)
	env.ledger = l
	return env
}

func (e *testEnv) grantEligibility(t *testing.T, addrs ...types.Address) {
	t.Helper()
	require.NoError(t, e.ledger.SetEligible(ownerAddr, addrs))
}

func TestConfigValidation(t *testing.T) {
	good := Config{AssetID: 1, AirdropAmount: 10, StakingDuration: time.Hour, Owner: ownerAddr}

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero asset id", func(c *Config) { c.AssetID = 0 }},
		{"zero amount", func(c *Config) { c.AirdropAmount = 0 }},
		{"odd amount", func(c *Config) { c.AirdropAmount = 7 }},
		{"zero duration", func(c *Config) { c.StakingDuration = 0 }},
		{"zero owner", func(c *Config) { c.Owner = types.ZeroAddress }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := good
			tc.mutate(&cfg)
			_, err := New(cfg, slog.Default(), &fakeTransfer{}, staticOwner{owner: ownerAddr})
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	_, err := New(good, slog.Default(), &fakeTransfer{}, staticOwner{owner: ownerAddr})
	assert.NoError(t, err)
}

func TestSetEligibleOwnerOnly(t *testing.T) {
	env := newTestEnv(t)

	err := env.ledger.SetEligible(userA, []types.Address{userB})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, env.ledger.IsEligible(userB))
}

func TestSetEligibleRejectsWholeBatchOnZeroAddress(t *testing.T) {
	env := newTestEnv(t)

	err := env.ledger.SetEligible(ownerAddr, []types.Address{userA, types.ZeroAddress, userB})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	// nothing applied, not even the addresses ahead of the bad one
	assert.False(t, env.ledger.IsEligible(userA))
	assert.False(t, env.ledger.IsEligible(userB))
}

func TestSetEligibleIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.grantEligibility(t, userA, userB)
	env.grantEligibility(t, userA) // re-add is a no-op, not an error

	assert.True(t, env.ledger.IsEligible(userA))
	assert.True(t, env.ledger.IsEligible(userB))
	assert.EqualValues(t, 2, env.ledger.Counts().Eligible)
}

func TestClaimRequiresEligibility(t *testing.T) {
	env := newTestEnv(t)

	err := env.ledger.Claim(context.Background(), userA, false)
	assert.ErrorIs(t, err, ErrNotEligible)
	assert.Empty(t, env.xfer.calls)
}

func TestClaimPaysHalfOnce(t *testing.T) {
	env := newTestEnv(t)
	env.grantEligibility(t, userA)

	require.NoError(t, env.ledger.Claim(context.Background(), userA, true))
	assert.True(t, env.ledger.HasClaimed(userA))
	require.Len(t, env.xfer.calls, 1)
	assert.EqualValues(t, testAirdropAmount/2, env.xfer.calls[0].amount)
	assert.EqualValues(t, testAssetID, env.xfer.calls[0].assetID)
	assert.Equal(t, userA, env.xfer.calls[0].to)

	err := env.ledger.Claim(context.Background(), userA, true)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Len(t, env.xfer.calls, 1)

	events := env.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventClaimed, events[0].Type)
	assert.True(t, events[0].WantsStake)
}

func TestClaimRecordsNonStakerCohort(t *testing.T) {
	env := newTestEnv(t)
	env.grantEligibility(t, userA, userB)

	require.NoError(t, env.ledger.Claim(context.Background(), userA, false))
	require.NoError(t, env.ledger.Claim(context.Background(), userB, true))

	assert.Equal(t, []types.Address{userA}, env.ledger.NonStakerCohort())
	assert.Empty(t, env.ledger.StakerCohort())
}

func TestClaimTransferFailureLeavesNoState(t *testing.T) {
	env := newTestEnv(t)
	env.grantEligibility(t, userA)

	env.xfer.failWith = errors.New("overspend")
	err := env.ledger.Claim(context.Background(), userA, true)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.False(t, env.ledger.HasClaimed(userA))
	assert.Empty(t, env.sink.Events())

	// precondition corrected - the claim goes through
	env.xfer.failWith = nil
	assert.NoError(t, env.ledger.Claim(context.Background(), userA, true))
	assert.True(t, env.ledger.HasClaimed(userA))
}

func TestStakePreconditions(t *testing.T) {
	env := newTestEnv(t)
	env.grantEligibility(t, userA, userB)

	// never claimed
	assert.ErrorIs(t, env.ledger.Stake(userC), ErrNotClaimed)

	// claimed without the staking preference
	require.NoError(t, env.ledger.Claim(context.Background(), userA, false))
	assert.ErrorIs(t, env.ledger.Stake(userA), ErrDoesNotWantToStake)

	// double stake
	require.NoError(t, env.ledger.Claim(context.Background(), userB, true))
	require.NoError(t, env.ledger.Stake(userB))
	assert.ErrorIs(t, env.ledger.Stake(userB), ErrAlreadyStaked)
}

func TestStakeBookkeeping(t *testing.T) {
	env := newTestEnv(t)
	env.grantEligibility(t, userA)
	require.NoError(t, env.ledger.Claim(context.Background(), userA, true))

	paidCallsBefore := len(env.xfer.calls)
	require.NoError(t, env.ledger.Stake(userA))

	// staking is bookkeeping only - no asset movement
	assert.Len(t, env.xfer.calls, paidCallsBefore)

	unlock, ok := env.ledger.StakingUnlockTime(userA)
	require.True(t, ok)
	assert.Equal(t, env.clock.now.Add(testStakeDuration), unlock)

	totals := env.ledger.Totals()
	assert.EqualValues(t, 1, totals.ParticipantsStaked)
	assert.EqualValues(t, testAirdropAmount/2, totals.AmountStaked)
	assert.Equal(t, []types.Address{userA}, env.ledger.StakerCohort())

	events := env.sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventStaked, events[1].Type)
	assert.Equal(t, unlock, events[1].UnlockTime)
}

func TestUnstakeTimeGate(t *testing.T) {
	env := newTestEnv(t)
	env.grantEligibility(t, userA)
	require.NoError(t, env.ledger.Claim(context.Background(), userA, true))
	require.NoError(t, env.ledger.Stake(userA))

	unlock, _ := env.ledger.StakingUnlockTime(userA)

	// one second early - rejected
	env.clock.now = unlock.Add(-time.Second)
	assert.ErrorIs(t, env.ledger.Unstake(context.Background(), userA), ErrCannotUnstakeYet)
	assert.False(t, env.ledger.HasUnstaked(userA))

	// at exactly the unlock time - allowed
	env.clock.now = unlock
	require.NoError(t, env.ledger.Unstake(context.Background(), userA))
	assert.True(t, env.ledger.HasUnstaked(userA))
}

func TestUnstakeTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.grantEligibility(t, userA)

	assert.ErrorIs(t, env.ledger.Unstake(context.Background(), userA), ErrNotStaked)

	require.NoError(t, env.ledger.Claim(context.Background(), userA, true))
	require.NoError(t, env.ledger.Stake(userA))
	env.clock.now = env.clock.now.Add(testStakeDuration)
	require.NoError(t, env.ledger.Unstake(context.Background(), userA))

	assert.ErrorIs(t, env.ledger.Unstake(context.Background(), userA), ErrAlreadyUnstaked)
	// staking is permanently foreclosed once paid out
	assert.ErrorIs(t, env.ledger.Stake(userA), ErrAlreadyUnstaked)
}

func TestUnstakeTransferFailureLeavesNoState(t *testing.T) {
	env := newTestEnv(t)
	env.grantEligibility(t, userA)
	require.NoError(t, env.ledger.Claim(context.Background(), userA, true))
	require.NoError(t, env.ledger.Stake(userA))
	env.clock.now = env.clock.now.Add(testStakeDuration)

	env.xfer.failWith = errors.New("asset frozen")
	err := env.ledger.Unstake(context.Background(), userA)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.False(t, env.ledger.HasUnstaked(userA))

	env.xfer.failWith = nil
	require.NoError(t, env.ledger.Unstake(context.Background(), userA))
	assert.EqualValues(t, testAirdropAmount, env.xfer.totalPaidTo(userA))
}

func TestClaimAndStakeCombined(t *testing.T) {
	env := newTestEnv(t)
	env.grantEligibility(t, userA)

	require.NoError(t, env.ledger.ClaimAndStake(context.Background(), userA))
	assert.True(t, env.ledger.HasClaimed(userA))
	assert.True(t, env.ledger.HasStaked(userA))
	assert.EqualValues(t, testAirdropAmount/2, env.xfer.totalPaidTo(userA))

	assert.ErrorIs(t, env.ledger.ClaimAndStake(context.Background(), userA), ErrAlreadyClaimed)
}

// TestDistributionScenario walks the full participant lifecycle with the
// reference fixture numbers: 10,000 allocation, claim at t=1000, 24h lock.
func TestDistributionScenario(t *testing.T) {
	env := newTestEnv(t)
	env.clock.now = time.Unix(1000, 0)
	env.grantEligibility(t, userA)

	require.NoError(t, env.ledger.Claim(context.Background(), userA, true))
	assert.EqualValues(t, 5_000, env.xfer.totalPaidTo(userA))

	require.NoError(t, env.ledger.Stake(userA))
	unlock, _ := env.ledger.StakingUnlockTime(userA)
	assert.Equal(t, time.Unix(1000+86400, 0), unlock)
	assert.EqualValues(t, 5_000, env.ledger.Totals().AmountStaked)

	env.clock.now = time.Unix(1000+86399, 0)
	assert.ErrorIs(t, env.ledger.Unstake(context.Background(), userA), ErrCannotUnstakeYet)

	env.clock.now = time.Unix(1000+86401, 0)
	require.NoError(t, env.ledger.Unstake(context.Background(), userA))

	// lifetime receipt is exactly the configured allocation - never more
	assert.EqualValues(t, 10_000, env.xfer.totalPaidTo(userA))
}

func TestReentrantCallRejected(t *testing.T) {
	env := newTestEnv(t)
	env.grantEligibility(t, userA, userB)

	var reentrantErr error
	env.xfer.callback = func() {
		reentrantErr = env.ledger.Claim(context.Background(), userB, false)
	}

	require.NoError(t, env.ledger.Claim(context.Background(), userA, false))
	assert.ErrorIs(t, reentrantErr, ErrOperationInProgress)
	// the inner call must not have touched userB's record
	env.xfer.callback = nil
	assert.False(t, env.ledger.HasClaimed(userB))
	require.NoError(t, env.ledger.Claim(context.Background(), userB, false))
}

func TestWithdrawGuards(t *testing.T) {
	env := newTestEnv(t)

	assert.ErrorIs(t, env.ledger.Withdraw(context.Background(), userA, testAssetID, 100), ErrUnauthorized)
	assert.ErrorIs(t, env.ledger.Withdraw(context.Background(), ownerAddr, 0, 100), ErrInvalidArgument)
	assert.ErrorIs(t, env.ledger.Withdraw(context.Background(), ownerAddr, testAssetID, 0), ErrInvalidArgument)

	// no participants at all - nothing reserved, withdrawal is fine
	require.NoError(t, env.ledger.Withdraw(context.Background(), ownerAddr, testAssetID, 100))
	require.Len(t, env.xfer.calls, 1)
	assert.Equal(t, ownerAddr, env.xfer.calls[0].to)

	events := env.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventWithdrawn, events[0].Type)
	assert.EqualValues(t, 100, events[0].Amount)
}

func TestWithdrawReservesLiabilities(t *testing.T) {
	env := newTestEnv(t)
	env.grantEligibility(t, userA)

	// eligible but unclaimed - full allocation still owed
	assert.EqualValues(t, testAirdropAmount, env.ledger.OutstandingLiability())
	err := env.ledger.Withdraw(context.Background(), ownerAddr, testAssetID, 100)
	assert.ErrorIs(t, err, ErrInsufficientReserve)

	// stake-preferring claimant - the withheld half is owed until unstaked
	require.NoError(t, env.ledger.Claim(context.Background(), userA, true))
	assert.EqualValues(t, testAirdropAmount/2, env.ledger.OutstandingLiability())

	require.NoError(t, env.ledger.Stake(userA))
	env.clock.now = env.clock.now.Add(testStakeDuration)
	require.NoError(t, env.ledger.Unstake(context.Background(), userA))
	assert.Zero(t, env.ledger.OutstandingLiability())
	assert.NoError(t, env.ledger.Withdraw(context.Background(), ownerAddr, testAssetID, 100))
}

func TestWithdrawUnreservedOverride(t *testing.T) {
	env := newTestEnv(t, WithUnreservedWithdraw())
	env.grantEligibility(t, userA)

	require.Positive(t, env.ledger.OutstandingLiability())
	assert.NoError(t, env.ledger.Withdraw(context.Background(), ownerAddr, testAssetID, 100))
}

func TestSnapshotRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.grantEligibility(t, userA, userB, userC)
	require.NoError(t, env.ledger.Claim(context.Background(), userA, true))
	require.NoError(t, env.ledger.Stake(userA))
	require.NoError(t, env.ledger.Claim(context.Background(), userB, false))

	snap := env.ledger.Snapshot()

	restored := newTestEnv(t)
	require.NoError(t, restored.ledger.Restore(snap))

	assert.True(t, restored.ledger.HasStaked(userA))
	assert.True(t, restored.ledger.HasClaimed(userB))
	assert.True(t, restored.ledger.IsEligible(userC))
	assert.False(t, restored.ledger.HasClaimed(userC))
	assert.Equal(t, env.ledger.Totals(), restored.ledger.Totals())

	unlockOrig, _ := env.ledger.StakingUnlockTime(userA)
	unlockRestored, ok := restored.ledger.StakingUnlockTime(userA)
	require.True(t, ok)
	assert.True(t, unlockOrig.Equal(unlockRestored))

	// restored ledger keeps enforcing the state machine
	assert.ErrorIs(t, restored.ledger.Claim(context.Background(), userA, true), ErrAlreadyClaimed)
	assert.ErrorIs(t, restored.ledger.Stake(userB), ErrDoesNotWantToStake)
}

func TestRestoreRejectsInconsistentSnapshot(t *testing.T) {
	unlock := time.Unix(5000, 0)
	tests := []struct {
		name  string
		state ParticipantState
	}{
		{"claimed without eligibility", ParticipantState{Claimed: true}},
		{"staked without claiming", ParticipantState{Eligible: true, WantsStake: true, Staked: true, UnlockTime: &unlock}},
		{"staked without preference", ParticipantState{Eligible: true, Claimed: true, Staked: true, UnlockTime: &unlock}},
		{"unstaked without staking", ParticipantState{Eligible: true, Claimed: true, Unstaked: true}},
		{"staked with no unlock time", ParticipantState{Eligible: true, Claimed: true, WantsStake: true, Staked: true}},
		{"unlock time without staking", ParticipantState{Eligible: true, Claimed: true, UnlockTime: &unlock}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			snap := Snapshot{Participants: map[string]ParticipantState{userA.String(): tc.state}}
			if tc.state.Staked {
				snap.Totals = Totals{ParticipantsStaked: 1, AmountStaked: testAirdropAmount / 2}
			}
			require.ErrorIs(t, env.ledger.Restore(snap), ErrInvalidArgument)
		})
	}

	t.Run("totals disagree with records", func(t *testing.T) {
		env := newTestEnv(t)
		env.grantEligibility(t, userA)
		require.NoError(t, env.ledger.Claim(context.Background(), userA, true))
		require.NoError(t, env.ledger.Stake(userA))
		snap := env.ledger.Snapshot()
		snap.Totals.AmountStaked++
		require.ErrorIs(t, env.ledger.Restore(snap), ErrInvalidArgument)
	})
}
