package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/urfave/cli/v3"

	"github.com/VestLab/dropmgr/internal/lib/misc"
)

func accountFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "account",
		Usage:    "Participant account address",
		Required: true,
		Aliases:  []string{"a"},
	}
}

func GetClaimCmdOpts() *cli.Command {
	return &cli.Command{
		Name:   "claim",
		Usage:  "Claim the immediate half of a participant's allocation",
		Before: checkConfigured,
		Flags: []cli.Flag{
			accountFlag(),
			&cli.BoolFlag{
				Name:  "stake",
				Usage: "Record that the participant wants to stake the withheld half (lock it later with 'stake')",
				Value: false,
			},
		},
		Action: ClaimTokens,
	}
}

func GetClaimStakeCmdOpts() *cli.Command {
	return &cli.Command{
		Name:   "claimstake",
		Usage:  "Claim the immediate half and lock the withheld half in one step",
		Before: checkConfigured,
		Flags:  []cli.Flag{accountFlag()},
		Action: ClaimAndStakeTokens,
	}
}

func GetStakeCmdOpts() *cli.Command {
	return &cli.Command{
		Name:   "stake",
		Usage:  "Lock the withheld half for the configured staking duration",
		Before: checkConfigured,
		Flags:  []cli.Flag{accountFlag()},
		Action: StakeTokens,
	}
}

func GetUnstakeCmdOpts() *cli.Command {
	return &cli.Command{
		Name:   "unstake",
		Usage:  "Release the withheld half once the staking lock has expired",
		Before: checkConfigured,
		Flags:  []cli.Flag{accountFlag()},
		Action: UnstakeTokens,
	}
}

func GetStatusCmdOpts() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Display a participant's distribution state",
		Before: checkConfigured,
		Flags:  []cli.Flag{accountFlag()},
		Action: ParticipantStatus,
	}
}

func ClaimTokens(ctx context.Context, cmd *cli.Command) error {
	participant, err := participantAddress(cmd)
	if err != nil {
		return err
	}
	wantsStake := cmd.Bool("stake")
	if err = App.ledger.Claim(ctx, participant, wantsStake); err != nil {
		return err
	}
	misc.Infof(App.logger, "claimed for %s (wants stake:%v)", participant, wantsStake)
	return App.saveState()
}

func ClaimAndStakeTokens(ctx context.Context, cmd *cli.Command) error {
	participant, err := participantAddress(cmd)
	if err != nil {
		return err
	}
	if err = App.ledger.ClaimAndStake(ctx, participant); err != nil {
		return err
	}
	unlock, _ := App.ledger.StakingUnlockTime(participant)
	misc.Infof(App.logger, "claimed and staked for %s - locked until %s", participant, unlock.UTC().Format("2006-01-02 15:04:05"))
	return App.saveState()
}

func StakeTokens(ctx context.Context, cmd *cli.Command) error {
	participant, err := participantAddress(cmd)
	if err != nil {
		return err
	}
	if err = App.ledger.Stake(participant); err != nil {
		return err
	}
	unlock, _ := App.ledger.StakingUnlockTime(participant)
	misc.Infof(App.logger, "staked for %s - locked until %s", participant, unlock.UTC().Format("2006-01-02 15:04:05"))
	return App.saveState()
}

func UnstakeTokens(ctx context.Context, cmd *cli.Command) error {
	participant, err := participantAddress(cmd)
	if err != nil {
		return err
	}
	if err = App.ledger.Unstake(ctx, participant); err != nil {
		return err
	}
	misc.Infof(App.logger, "unstaked for %s", participant)
	return App.saveState()
}

func ParticipantStatus(ctx context.Context, cmd *cli.Command) error {
	participant, err := participantAddress(cmd)
	if err != nil {
		return err
	}
	state, found := App.ledger.Participant(participant)
	if !found {
		return fmt.Errorf("account:%s is not part of this distribution", participant)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintf(tw, "Participant\t%s\n", participant)
	fmt.Fprintf(tw, "Eligible\t%v\n", state.Eligible)
	fmt.Fprintf(tw, "Claimed\t%v\n", state.Claimed)
	fmt.Fprintf(tw, "Wants stake\t%v\n", state.WantsStake)
	fmt.Fprintf(tw, "Staked\t%v\n", state.Staked)
	fmt.Fprintf(tw, "Unstaked\t%v\n", state.Unstaked)
	if state.UnlockTime != nil {
		fmt.Fprintf(tw, "Unlock time\t%s\n", state.UnlockTime.UTC().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func participantAddress(cmd *cli.Command) (types.Address, error) {
	addr, err := types.DecodeAddress(cmd.String("account"))
	if err != nil {
		return types.Address{}, fmt.Errorf("invalid address specified: %w", err)
	}
	return addr, nil
}
