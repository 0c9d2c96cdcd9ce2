package ledger

import (
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/types"
)

// Snapshot is the full exportable ledger state, json-friendly (addresses as
// their standard string encoding) so it can sit inside the saved config file.
type Snapshot struct {
	Participants map[string]ParticipantState `json:"participants,omitempty"`
	Totals       Totals                      `json:"totals"`
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := Snapshot{
		Participants: make(map[string]ParticipantState, len(l.participants)),
		Totals:       l.totals,
	}
	for addr, rec := range l.participants {
		snap.Participants[addr.String()] = exportRecord(rec)
	}
	return snap
}

// Restore replaces the ledger state with the snapshot's.  Meant for loading
// persisted state at startup, before the ledger is serving operations.  The
// snapshot comes from a file anyone can edit, so records that violate the
// state machine's forward-only progression are rejected wholesale.
func (l *Ledger) Restore(snap Snapshot) error {
	if err := l.beginOp(); err != nil {
		return err
	}
	defer l.endOp()

	participants := make(map[types.Address]*participantRecord, len(snap.Participants))
	var stakedCount uint64
	for addrStr, state := range snap.Participants {
		addr, err := types.DecodeAddress(addrStr)
		if err != nil {
			return fmt.Errorf("%w: bad address %q in snapshot: %v", ErrInvalidArgument, addrStr, err)
		}
		if err := validateState(state); err != nil {
			return fmt.Errorf("bad record for %s in snapshot: %w", addrStr, err)
		}
		if state.Staked {
			stakedCount++
		}
		rec := &participantRecord{
			Eligible:   state.Eligible,
			Claimed:    state.Claimed,
			WantsStake: state.WantsStake,
			Staked:     state.Staked,
			Unstaked:   state.Unstaked,
		}
		if state.UnlockTime != nil {
			rec.UnlockTime = *state.UnlockTime
		}
		participants[addr] = rec
	}
	// totals are fully derivable - every staker locked exactly the withheld half
	expected := Totals{ParticipantsStaked: stakedCount, AmountStaked: stakedCount * l.halfAmount()}
	if snap.Totals != expected {
		return fmt.Errorf("%w: snapshot totals %+v disagree with records (expected %+v)", ErrInvalidArgument, snap.Totals, expected)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.participants = participants
	l.totals = snap.Totals
	l.syncMetricsLocked()
	return nil
}

// validateState checks a single snapshot record against the forward-only
// lifecycle: eligible -> claimed -> staked -> unstaked, unlock time present
// exactly when staked.
func validateState(state ParticipantState) error {
	switch {
	case state.Claimed && !state.Eligible:
		return fmt.Errorf("%w: claimed without eligibility", ErrInvalidArgument)
	case state.Staked && !state.Claimed:
		return fmt.Errorf("%w: staked without claiming", ErrInvalidArgument)
	case state.Staked && !state.WantsStake:
		return fmt.Errorf("%w: staked without the staking preference", ErrInvalidArgument)
	case state.Unstaked && !state.Staked:
		return fmt.Errorf("%w: unstaked without staking", ErrInvalidArgument)
	case state.Staked && (state.UnlockTime == nil || state.UnlockTime.IsZero()):
		return fmt.Errorf("%w: staked with no unlock time", ErrInvalidArgument)
	case !state.Staked && state.UnlockTime != nil:
		return fmt.Errorf("%w: unlock time set without staking", ErrInvalidArgument)
	}
	return nil
}
