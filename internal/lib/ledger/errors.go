package ledger

import (
	"errors"
)

// Every rejected call surfaces one of these typed errors (possibly wrapped
// with call context).  None of them leave partial state behind - operations
// validate, then commit.
var (
	ErrNotEligible         = errors.New("participant is not eligible")
	ErrAlreadyClaimed      = errors.New("participant has already claimed")
	ErrAlreadyStaked       = errors.New("participant has already staked")
	ErrAlreadyUnstaked     = errors.New("participant has already unstaked")
	ErrNotClaimed          = errors.New("participant has not claimed")
	ErrNotStaked           = errors.New("participant has not staked")
	ErrDoesNotWantToStake  = errors.New("participant claimed without the staking preference")
	ErrCannotUnstakeYet    = errors.New("can not unstake yet - unlock time not reached")
	ErrUnauthorized        = errors.New("caller is not the owner")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrTransferFailed      = errors.New("asset transfer failed")
	ErrOperationInProgress = errors.New("another ledger operation is in progress")
	ErrInsufficientReserve = errors.New("withdrawal would cut into reserved participant liabilities")
)
