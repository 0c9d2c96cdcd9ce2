package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/mailgun/holster/v4/syncutil"
	"github.com/urfave/cli/v3"

	"github.com/VestLab/dropmgr/internal/lib/algo"
	"github.com/VestLab/dropmgr/internal/lib/ledger"
	"github.com/VestLab/dropmgr/internal/lib/misc"
)

func GetEligibilityCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "eligibility",
		Aliases: []string{"el"},
		Usage:   "Manage the participant eligibility set (owner only)",
		Before:  checkConfigured,
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Grant eligibility to every address in a file (one address per line)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Usage:    "File containing the addresses to add, one per line",
						Required: true,
						Aliases:  []string{"f"},
					},
				},
				Action: AddEligibility,
			},
			{
				Name:   "list",
				Usage:  "List all eligible participants and their claim/stake state",
				Action: ListEligibility,
			},
			{
				Name:   "verify",
				Usage:  "Verify each eligible participant is opted in to the distributed asset",
				Action: VerifyEligibility,
			},
		},
	}
}

func AddEligibility(ctx context.Context, cmd *cli.Command) error {
	addrs, err := readAddressFile(cmd.String("file"))
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return fmt.Errorf("no addresses found in file:%s", cmd.String("file"))
	}
	if err = App.ledger.SetEligible(App.owner, addrs); err != nil {
		return err
	}
	misc.Infof(App.logger, "granted eligibility to %d addresses", len(addrs))
	return App.saveState()
}

// readAddressFile parses a line-delimited address list.  Blank lines and
// #-comments are skipped - anything else must be a valid address or the whole
// file is rejected (matching the ledger's all-or-nothing batch semantics).
func readAddressFile(path string) ([]types.Address, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var addrs []types.Address
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, err := types.DecodeAddress(line)
		if err != nil {
			return nil, fmt.Errorf("invalid address at %s:%d: %w", path, lineNum, err)
		}
		addrs = append(addrs, addr)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return addrs, nil
}

func ListEligibility(ctx context.Context, cmd *cli.Command) error {
	snap := App.ledger.Snapshot()

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "Participant\tClaimed\tWants Stake\tStaked\tUnstaked\tUnlock Time")
	for _, addrStr := range sortedKeys(snap.Participants) {
		state := snap.Participants[addrStr]
		if !state.Eligible {
			continue
		}
		unlock := ""
		if state.UnlockTime != nil {
			unlock = state.UnlockTime.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%v\t%v\t%v\t%v\t%s\n", addrStr, state.Claimed, state.WantsStake, state.Staked, state.Unstaked, unlock)
	}
	return nil
}

// VerifyEligibility checks - in parallel - that every eligible participant is
// opted in to the distributed asset, so claim transfers won't bounce.
func VerifyEligibility(ctx context.Context, cmd *cli.Command) error {
	// treasury pays the fees on every payout txn - flag it early if it's nearly dry
	if acct, err := algo.GetBareAccount(ctx, App.algoClient, App.treasury.String()); err == nil {
		if acct.Amount-acct.MinBalance < 1e5 {
			misc.Warnf(App.logger, "treasury:%s has almost no spendable algo for transaction fees", App.treasury.String())
		}
	}

	snap := App.ledger.Snapshot()
	var (
		fanOut      = syncutil.NewFanOut(20)
		notOptedCh  = make(chan string, 2)
		numEligible int
	)
	for addrStr, state := range snap.Participants {
		if !state.Eligible {
			continue
		}
		numEligible++
		fanOut.Run(func(val any) error {
			account := val.(string)
			_, found, err := algo.GetAssetHolding(ctx, App.algoClient, account, App.info.AssetID)
			if err != nil {
				return err
			}
			if !found {
				notOptedCh <- account
			}
			return nil
		}, addrStr)
	}
	var errs []error
	go func() {
		errs = fanOut.Wait()
		close(notOptedCh)
	}()
	var notOpted []string
	for account := range notOptedCh {
		notOpted = append(notOpted, account)
	}
	if len(errs) > 0 {
		return errs[0]
	}
	for _, account := range notOpted {
		misc.Warnf(App.logger, "participant:%s is NOT opted in to asset %d - claims will fail", account, App.info.AssetID)
	}
	misc.Infof(App.logger, "verified %d eligible participants, %d missing asset opt-in", numEligible, len(notOpted))
	return nil
}

func GetWithdrawCmdOpts() *cli.Command {
	return &cli.Command{
		Name:   "withdraw",
		Usage:  "Withdraw tokens from the treasury to the owner account (owner only)",
		Before: checkConfigured,
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "asset",
				Usage: "Asset id to withdraw (defaults to the distributed asset)",
			},
			&cli.UintFlag{
				Name:     "amount",
				Usage:    "Amount to withdraw, in base units",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Withdraw even if it cuts into tokens still owed to participants",
				Value: false,
			},
		},
		Action: WithdrawTokens,
	}
}

func WithdrawTokens(ctx context.Context, cmd *cli.Command) error {
	assetID := cmd.Uint("asset")
	if assetID == 0 {
		assetID = App.info.AssetID
	}
	amount := cmd.Uint("amount")

	if cmd.Bool("force") {
		// rebuild the ledger with the reserve guard disabled for just this run
		if err := App.initLedger(ledger.WithUnreservedWithdraw()); err != nil {
			return err
		}
	}

	balance, err := App.xfer.TreasuryBalance(ctx, assetID)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("treasury only holds %d of asset %d, cannot withdraw %d", balance, assetID, amount)
	}

	if err := App.ledger.Withdraw(ctx, App.owner, assetID, amount); err != nil {
		return err
	}
	misc.Infof(App.logger, "withdrew %d of asset %d to owner %s", amount, assetID, App.owner.String())
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
