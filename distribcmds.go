package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/manifoldco/promptui"
	"github.com/urfave/cli/v3"

	"github.com/VestLab/dropmgr/internal/lib/algo"
)

func GetDistribCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "distribution",
		Aliases: []string{"dist"},
		Usage:   "Configure the token distribution",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Initialize the distribution - creating or resetting configuration - should only be done ONCE, EVER !",
				Action: InitDistribution,
			},
			{
				Name:   "info",
				Usage:  "Display the distribution configuration and current totals",
				Before: checkConfigured,
				Action: DistributionState,
			},
		},
	}
}

func InitDistribution(ctx context.Context, cmd *cli.Command) error {
	_, err := LoadDistributionInfo()
	if err == nil {
		result, _ := yesNo("A distribution configuration already exists, do you REALLY want to replace it and discard all ledger state")
		if result != "y" {
			return nil
		}
		return DefineDistribution()
	}
	if errors.Is(err, os.ErrNotExist) {
		result, _ := yesNo("Distribution not configured.  Create brand new distribution")
		if result != "y" {
			return nil
		}
		return DefineDistribution()
	}
	return cli.Exit(err, 1)
}

func DistributionState(ctx context.Context, cmd *cli.Command) error {
	info := App.info
	counts := App.ledger.Counts()
	totals := App.ledger.Totals()

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintf(tw, "Asset ID\t%d\n", info.AssetID)
	fmt.Fprintf(tw, "Per-participant allocation\t%d\n", info.AirdropAmount)
	fmt.Fprintf(tw, "Staking duration\t%v\n", time.Duration(info.StakingDurationSecs)*time.Second)
	fmt.Fprintf(tw, "Owner\t%s\n", info.Owner)
	fmt.Fprintf(tw, "Treasury\t%s\n", info.Treasury)
	fmt.Fprintf(tw, "Eligible\t%d\n", counts.Eligible)
	fmt.Fprintf(tw, "Claimed\t%d\n", counts.Claimed)
	fmt.Fprintf(tw, "Staked\t%d\n", counts.Staked)
	fmt.Fprintf(tw, "Unstaked\t%d\n", counts.Unstaked)
	fmt.Fprintf(tw, "Total staked\t%d\n", totals.AmountStaked)
	fmt.Fprintf(tw, "Outstanding liability\t%d\n", App.ledger.OutstandingLiability())
	return nil
}

func DefineDistribution() error {
	info := &DistributionInfo{}

	owner, err := getAlgoAccount("Enter account address for the 'owner' of the distribution", "")
	if err != nil {
		return err
	}
	info.Owner = owner

	treasury, err := getAlgoAccount("Enter account address for the 'treasury' holding the distribution supply", owner)
	if err != nil {
		return err
	}
	if !App.signer.HasAccount(treasury) {
		App.logger.Warn("the mnemonics for the treasury account aren't currently loaded - transfers will fail until they are", "treasury", treasury)
	}
	info.Treasury = treasury

	assetID, err := getInt("Enter the asset id of the ASA being distributed", 0, 1, 1<<62)
	if err != nil {
		return err
	}
	info.AssetID = uint64(assetID)

	amount, err := getEvenAmount("Enter the per-participant allocation in base units (half pays at claim, half at unstake)", 10_000)
	if err != nil {
		return err
	}
	info.AirdropAmount = amount

	durationDays, err := getInt("Enter the staking lock duration (in days)", 30, 1, 3650)
	if err != nil {
		return err
	}
	info.StakingDurationSecs = uint64(durationDays) * 86400

	// sanity check the asset actually exists on the chosen network, and grab decimals for display
	asset, err := App.algoClient.GetAssetByID(info.AssetID).Do(context.Background())
	if err != nil {
		return fmt.Errorf("error fetching asset %d from network: %w", info.AssetID, err)
	}
	fmt.Printf("Distributing %s of asset %d (%s) per participant\n",
		algo.FormattedAssetAmount(info.AirdropAmount, uint64(asset.Params.Decimals)), info.AssetID, asset.Params.UnitName)

	if err = SaveDistributionInfo(info); err != nil {
		return err
	}
	App.info = info
	return App.initLedger()
}

func getInt(prompt string, defVal int, minVal int, maxVal int) (int, error) {
	validate := func(input string) error {
		value, err := strconv.Atoi(input)
		if err != nil {
			return err
		}
		if value < minVal || value > maxVal {
			return fmt.Errorf("value must be between %d and %d", minVal, maxVal)
		}
		return nil
	}
	result, err := (&promptui.Prompt{
		Label:    prompt,
		Default:  strconv.Itoa(defVal),
		Validate: validate,
	}).Run()
	if err != nil {
		return 0, err
	}
	value, _ := strconv.Atoi(result)
	return value, nil
}

func getEvenAmount(prompt string, defVal uint64) (uint64, error) {
	validate := func(input string) error {
		value, err := strconv.ParseUint(input, 10, 64)
		if err != nil {
			return err
		}
		if value == 0 || value%2 != 0 {
			return errors.New("amount must be positive and even")
		}
		return nil
	}
	result, err := (&promptui.Prompt{
		Label:    prompt,
		Default:  strconv.FormatUint(defVal, 10),
		Validate: validate,
	}).Run()
	if err != nil {
		return 0, err
	}
	value, _ := strconv.ParseUint(result, 10, 64)
	return value, nil
}

func getAlgoAccount(prompt string, defVal string) (string, error) {
	return (&promptui.Prompt{
		Label:   prompt,
		Default: defVal,
		Validate: func(s string) error {
			_, err := types.DecodeAddress(s)
			return err
		},
	}).Run()
}

func yesNo(prompt string) (string, error) {
	return (&promptui.Prompt{
		Label:     prompt,
		IsConfirm: true,
	}).Run()
}
