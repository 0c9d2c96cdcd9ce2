package ledger

import (
	"slices"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
)

func (l *Ledger) IsEligible(addr types.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, found := l.participants[addr]
	return found && rec.Eligible
}

func (l *Ledger) HasClaimed(addr types.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, found := l.participants[addr]
	return found && rec.Claimed
}

func (l *Ledger) HasStaked(addr types.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, found := l.participants[addr]
	return found && rec.Staked
}

func (l *Ledger) HasUnstaked(addr types.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, found := l.participants[addr]
	return found && rec.Unstaked
}

// StakingUnlockTime returns the unlock time for addr, false if addr never staked.
func (l *Ledger) StakingUnlockTime(addr types.Address) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, found := l.participants[addr]
	if !found || !rec.Staked {
		return time.Time{}, false
	}
	return rec.UnlockTime, true
}

func (l *Ledger) Totals() Totals {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totals
}

func (l *Ledger) Counts() Counts {
	l.mu.RLock()
	defer l.mu.RUnlock()
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
	return c
}

// StakerCohort lists every participant that staked, sorted for stable output.
func (l *Ledger) StakerCohort() []types.Address {
	return l.cohort(func(rec *participantRecord) bool { return rec.Staked })
}

// NonStakerCohort lists claimants that declined staking - the reporting-only
// grouping captured at claim time.
func (l *Ledger) NonStakerCohort() []types.Address {
	return l.cohort(func(rec *participantRecord) bool { return rec.Claimed && !rec.WantsStake })
}

func (l *Ledger) cohort(match func(*participantRecord) bool) []types.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var addrs []types.Address
	for addr, rec := range l.participants {
		if match(rec) {
			addrs = append(addrs, addr)
		}
	}
	slices.SortFunc(addrs, func(a, b types.Address) int {
		return slices.Compare(a[:], b[:])
	})
	return addrs
}

// ParticipantState is the externally visible snapshot of one record.
type ParticipantState struct {
	Eligible   bool       `json:"eligible"`
	Claimed    bool       `json:"claimed"`
	WantsStake bool       `json:"wantsStake"`
	Staked     bool       `json:"staked"`
	Unstaked   bool       `json:"unstaked"`
	UnlockTime *time.Time `json:"unlockTime,omitempty"`
}

// Participant returns the state for addr, false if the address was never seen.
func (l *Ledger) Participant(addr types.Address) (ParticipantState, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, found := l.participants[addr]
	if !found {
		return ParticipantState{}, false
	}
	return exportRecord(rec), true
}

func exportRecord(rec *participantRecord) ParticipantState {
	state := ParticipantState{
		Eligible:   rec.Eligible,
		Claimed:    rec.Claimed,
		WantsStake: rec.WantsStake,
		Staked:     rec.Staked,
		Unstaked:   rec.Unstaked,
	}
	if rec.Staked {
		unlock := rec.UnlockTime
		state.UnlockTime = &unlock
	}
	return state
}
