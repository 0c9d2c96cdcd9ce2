// Package ledger is the accounting core of the distribution: per-participant
// eligibility, claim and time-locked staking state, with exactly-once payout
// semantics.  All value movement, authorization and time are delegated to
// injected collaborators so the state machine itself stays deterministic and
// directly testable.
//
// Claim policy is fixed at the half-claim-with-deferred-staking-choice
// variant: a claim always pays out half the allocation immediately and
// records whether the participant wants to stake the withheld half.  Staking
// locks the withheld half for the configured duration; unstaking after the
// unlock time releases it.  Lifetime payout per participant therefore never
// exceeds the configured allocation.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
)

// AssetTransfer moves amount of the given asset from the distribution
// treasury to the recipient.  Any non-nil error aborts the calling ledger
// operation with no state change.
type AssetTransfer interface {
	Transfer(ctx context.Context, assetID uint64, to types.Address, amount uint64) error
}

// AccessControl answers whether a caller may use the owner-restricted entry
// points (SetEligible, Withdraw).
type AccessControl interface {
	IsOwner(caller types.Address) bool
}

// Clock is the single authoritative time source.  Each operation reads it at
// most once so an unlock comparison can't drift mid-operation.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Config is immutable after construction.
type Config struct {
	// AssetID of the distributed token
	AssetID uint64
	// AirdropAmount is the fixed per-participant allocation, in base units.
	// Must be positive and even (half pays at claim, half at unstake).
	AirdropAmount uint64
	// StakingDuration is the fixed lock interval applied at stake time
	StakingDuration time.Duration
	// Owner is the principal authorized for SetEligible/Withdraw and the
	// destination of withdrawals
	Owner types.Address
}

func (c Config) validate() error {
	if c.AssetID == 0 {
		return fmt.Errorf("%w: asset id not set", ErrInvalidArgument)
	}
	if c.AirdropAmount == 0 || c.AirdropAmount%2 != 0 {
		return fmt.Errorf("%w: airdrop amount must be positive and even, got %d", ErrInvalidArgument, c.AirdropAmount)
	}
	if c.StakingDuration <= 0 {
		return fmt.Errorf("%w: staking duration must be positive", ErrInvalidArgument)
	}
	if c.Owner == types.ZeroAddress {
		return fmt.Errorf("%w: owner address not set", ErrInvalidArgument)
	}
	return nil
}

// participantRecord only ever moves forward: eligible -> claimed ->
// (optionally) staked -> unstaked.  No flag is ever reset once set (beyond
// rollback of an aborted transfer, which is invisible to callers).
type participantRecord struct {
	Eligible   bool
	Claimed    bool
	WantsStake bool
	Staked     bool
	Unstaked   bool
	UnlockTime time.Time // zero until staked, then never altered
}

// Totals are the monotonic process-wide staking aggregates.  AmountStaked is
// cumulative, not a live balance - it is never decremented.
type Totals struct {
	ParticipantsStaked uint64 `json:"participantsStaked"`
	AmountStaked       uint64 `json:"amountStaked"`
}

type Counts struct {
	Eligible uint64 `json:"eligible"`
	Claimed  uint64 `json:"claimed"`
	Staked   uint64 `json:"staked"`
	Unstaked uint64 `json:"unstaked"`
}

type Ledger struct {
	logger *slog.Logger
	cfg    Config
	xfer   AssetTransfer
	auth   AccessControl
	clock  Clock
	sink   EventSink

	// component-wide non-reentrancy gate for mutating operations.  A
	// transfer collaborator calling back into the ledger (or a second
	// concurrent mutator) is rejected with ErrOperationInProgress rather
	// than observing or corrupting in-flight state.
	inFlight atomic.Bool

	unreservedWithdraw bool

	mu           sync.RWMutex
	participants map[types.Address]*participantRecord
	totals       Totals
}

type Option func(*Ledger)

func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithEventSink(s EventSink) Option {
	return func(l *Ledger) { l.sink = s }
}

// WithUnreservedWithdraw disables the reserved-liability check on Withdraw.
// The source system had no such protection at all - requiring an explicit
// opt-in here keeps the unsafe behavior from being replicated silently.
func WithUnreservedWithdraw() Option {
	return func(l *Ledger) { l.unreservedWithdraw = true }
}

func New(cfg Config, logger *slog.Logger, xfer AssetTransfer, auth AccessControl, opts ...Option) (*Ledger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := &Ledger{
		logger:       logger,
		cfg:          cfg,
		xfer:         xfer,
		auth:         auth,
		clock:        SystemClock{},
		participants: map[types.Address]*participantRecord{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.sink == nil {
		l.sink = LogSink{Logger: logger}
	}
	return l, nil
}

func (l *Ledger) Config() Config {
	return l.cfg
}

// halfAmount is what moves at claim time and again at unstake time.
func (l *Ledger) halfAmount() uint64 {
	return l.cfg.AirdropAmount / 2
}

func (l *Ledger) beginOp() error {
	if !l.inFlight.CompareAndSwap(false, true) {
		return ErrOperationInProgress
	}
	return nil
}

func (l *Ledger) endOp() {
	l.inFlight.Store(false)
}

// SetEligible grants eligibility to every address in the batch.  Owner only.
// A single zero address anywhere in the input rejects the whole call and
// leaves every address unchanged.  Re-adding already-eligible addresses is a
// no-op, not an error.
func (l *Ledger) SetEligible(caller types.Address, addrs []types.Address) error {
	if err := l.beginOp(); err != nil {
		return err
	}
	defer l.endOp()

	if !l.auth.IsOwner(caller) {
		return ErrUnauthorized
	}
	for i, addr := range addrs {
		if addr == types.ZeroAddress {
			return fmt.Errorf("%w: zero address at index %d", ErrInvalidArgument, i)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var added int
	for _, addr := range addrs {
		rec, found := l.participants[addr]
		if !found {
			rec = &participantRecord{}
			l.participants[addr] = rec
		}
		if !rec.Eligible {
			rec.Eligible = true
			added++
		}
	}
	l.syncMetricsLocked()
	l.logger.Info("eligibility granted", "batch", len(addrs), "new", added)
	return nil
}

// Claim pays out half the allocation to an eligible participant and records
// the staking preference for the withheld half.
func (l *Ledger) Claim(ctx context.Context, participant types.Address, wantsStake bool) error {
	if err := l.beginOp(); err != nil {
		return err
	}
	defer l.endOp()
	return l.claim(ctx, participant, wantsStake)
}

// claim assumes the gate is already held.
func (l *Ledger) claim(ctx context.Context, participant types.Address, wantsStake bool) error {
	if participant == types.ZeroAddress {
		return fmt.Errorf("%w: zero participant address", ErrInvalidArgument)
	}

	l.mu.Lock()
	rec, found := l.participants[participant]
	if !found || !rec.Eligible {
		l.mu.Unlock()
		return ErrNotEligible
	}
	if rec.Claimed {
		l.mu.Unlock()
		return ErrAlreadyClaimed
	}
	// commit before the external transfer call (checks-effects-interactions)
	rec.Claimed = true
	rec.WantsStake = wantsStake
	l.mu.Unlock()

	amount := l.halfAmount()
	if err := l.xfer.Transfer(ctx, l.cfg.AssetID, participant, amount); err != nil {
		l.mu.Lock()
		rec.Claimed = false
		rec.WantsStake = false
		l.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	l.mu.Lock()
	l.syncMetricsLocked()
	l.mu.Unlock()
	promPaidTotal.Add(float64(amount))

	l.sink.Emit(Event{
		Type:        EventClaimed,
		Participant: participant,
		AssetID:     l.cfg.AssetID,
		Amount:      amount,
		WantsStake:  wantsStake,
		At:          l.clock.Now(),
	})
	return nil
}

// Stake locks the withheld half for the configured duration.  Pure
// bookkeeping - the tokens to lock never left the treasury at claim time.
func (l *Ledger) Stake(participant types.Address) error {
	if err := l.beginOp(); err != nil {
		return err
	}
	defer l.endOp()
	return l.stake(participant)
}

func (l *Ledger) stake(participant types.Address) error {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, found := l.participants[participant]
	if !found || !rec.Claimed {
		return ErrNotClaimed
	}
	if !rec.WantsStake {
		return ErrDoesNotWantToStake
	}
	// unstaked wins over staked - once paid out, staking is foreclosed forever
	if rec.Unstaked {
		return ErrAlreadyUnstaked
	}
	if rec.Staked {
		return ErrAlreadyStaked
	}

	rec.Staked = true
	rec.UnlockTime = now.Add(l.cfg.StakingDuration)
	l.totals.ParticipantsStaked++
	l.totals.AmountStaked += l.halfAmount()
	l.syncMetricsLocked()

	l.sink.Emit(Event{
		Type:        EventStaked,
		Participant: participant,
		AssetID:     l.cfg.AssetID,
		Amount:      l.halfAmount(),
		UnlockTime:  rec.UnlockTime,
		At:          now,
	})
	return nil
}

// ClaimAndStake performs Claim(wantsStake=true) and Stake as one guarded
// operation - the combined single-call form.
func (l *Ledger) ClaimAndStake(ctx context.Context, participant types.Address) error {
	if err := l.beginOp(); err != nil {
		return err
	}
	defer l.endOp()

	if err := l.claim(ctx, participant, true); err != nil {
		return err
	}
	return l.stake(participant)
}

// Unstake releases the withheld half once the unlock time has been reached
// (equal counts as reached).  Terminal - it can never succeed twice.
func (l *Ledger) Unstake(ctx context.Context, participant types.Address) error {
	if err := l.beginOp(); err != nil {
		return err
	}
	defer l.endOp()

	now := l.clock.Now()

	l.mu.Lock()
	rec, found := l.participants[participant]
	if !found || !rec.Staked {
		l.mu.Unlock()
		return ErrNotStaked
	}
	if now.Before(rec.UnlockTime) {
		l.mu.Unlock()
		return ErrCannotUnstakeYet
	}
	if rec.Unstaked {
		l.mu.Unlock()
		return ErrAlreadyUnstaked
	}
	rec.Unstaked = true
	l.mu.Unlock()

	amount := l.halfAmount()
	if err := l.xfer.Transfer(ctx, l.cfg.AssetID, participant, amount); err != nil {
		l.mu.Lock()
		rec.Unstaked = false
		l.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	l.mu.Lock()
	l.syncMetricsLocked()
	l.mu.Unlock()
	promPaidTotal.Add(float64(amount))

	l.sink.Emit(Event{
		Type:        EventUnstaked,
		Participant: participant,
		AssetID:     l.cfg.AssetID,
		Amount:      amount,
		At:          now,
	})
	return nil
}

// Withdraw is the owner-only escape hatch, transferring amount of assetID to
// the owner.  It touches no participant state.  Unless the ledger was built
// with WithUnreservedWithdraw, it refuses while participant liabilities are
// still outstanding.
func (l *Ledger) Withdraw(ctx context.Context, caller types.Address, assetID uint64, amount uint64) error {
	if err := l.beginOp(); err != nil {
		return err
	}
	defer l.endOp()

	if !l.auth.IsOwner(caller) {
		return ErrUnauthorized
	}
	if assetID == 0 {
		return fmt.Errorf("%w: zero asset id", ErrInvalidArgument)
	}
	if amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrInvalidArgument)
	}

	liability := l.OutstandingLiability()
	if liability > 0 {
		if !l.unreservedWithdraw {
			return fmt.Errorf("%w: %d still owed to participants", ErrInsufficientReserve, liability)
		}
		l.logger.Warn("withdrawing with outstanding participant liabilities", "liability", liability, "amount", amount)
	}

	if err := l.xfer.Transfer(ctx, assetID, l.cfg.Owner, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	l.sink.Emit(Event{
		Type:    EventWithdrawn,
		AssetID: assetID,
		Amount:  amount,
		At:      l.clock.Now(),
	})
	return nil
}

// OutstandingLiability is the worst-case amount still owed to participants:
// the full allocation for anyone eligible but unclaimed, plus the withheld
// half for stake-preferring claimants who haven't been paid out yet.
func (l *Ledger) OutstandingLiability() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var owed uint64
	for _, rec := range l.participants {
		switch {
		case rec.Eligible && !rec.Claimed:
			owed += l.cfg.AirdropAmount
		case rec.Claimed && rec.WantsStake && !rec.Unstaked:
			owed += l.halfAmount()
		}
	}
	return owed
}

// syncMetricsLocked refreshes the prometheus gauges from current state.
// Callers must hold l.mu.
func (l *Ledger) syncMetricsLocked() {
	var c Counts
	for _, rec := range l.participants {
		if rec.Eligible {
			c.Eligible++
		}
		if rec.Claimed {
			c.Claimed++
		}
		if rec.Staked {
			c.Staked++
		}
		if rec.Unstaked {
			c.Unstaked++
		}
	}
	promEligible.Set(float64(c.Eligible))
	promClaimed.Set(float64(c.Claimed))
	promStaked.Set(float64(c.Staked))
	promUnstaked.Set(float64(c.Unstaked))
	promStakedTotal.Set(float64(l.totals.AmountStaked))
}
