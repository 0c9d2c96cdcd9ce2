package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"runtime/debug"
	"slices"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/VestLab/dropmgr/internal/lib/algo"
	"github.com/VestLab/dropmgr/internal/lib/ledger"
	"github.com/VestLab/dropmgr/internal/lib/misc"
)

var logLevel = new(slog.LevelVar) // Info by default

func initApp() *DropApp {
	log.SetFlags(0)
	var logger *slog.Logger
	if term.IsTerminal(int(os.Stdout.Fd())) {
		// Are we running on something where output is a tty - so we're being run as CLI vs as a daemon
		logger = slog.New(misc.NewMinimalHandler(os.Stdout,
			misc.MinimalHandlerOptions{SlogOpts: slog.HandlerOptions{Level: logLevel, AddSource: true}}))
	} else {
		// not on console - output as json, but change json key names to be more compatibl w/ what google logging
		// expects
		opts := &slog.HandlerOptions{
			AddSource: true,
			Level:     logLevel,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.MessageKey {
					a.Key = "message"
				} else if a.Key == slog.LevelKey && len(groups) == 0 {
					a.Key = "severity"
				}
				return a
			},
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)
	if os.Getenv("DEBUG") == "1" {
		logLevel.Set(slog.LevelDebug)
	}

	misc.LoadEnvSettings(logger)

	// We initialize our wrapper instance first, so we can call its methods in the 'Before' lambda func
	// in initialization of cli App instance.
	// signer will be set in the initClients method.
	appConfig := &DropApp{logger: logger}

	appConfig.cliCmd = &cli.Command{
		Name:    "dropmgr",
		Usage:   "Configuration tool and background daemon for fixed-allocation token distributions",
		Version: getVersionInfo(),
		Before: func(ctx context.Context, cmd *cli.Command) error {
			// This is further bootstrap of the 'app' but within context of 'cli' helper as it will
			// have access to flags and options (network to use for eg) already set.
			return appConfig.initClients(ctx, cmd)
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "envfile",
				Usage:   "env file to load",
				Sources: cli.EnvVars("DROP_ENVFILE"),
				Aliases: []string{"e"},
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Algorand network to use",
				Value:   "mainnet",
				Aliases: []string{"n"},
				Sources: cli.EnvVars("ALGO_NETWORK"),
			},
		},
		Commands: []*cli.Command{
			GetDaemonCmdOpts(),
			GetDistribCmdOpts(),
			GetEligibilityCmdOpts(),
			GetWithdrawCmdOpts(),
			GetClaimCmdOpts(),
			GetClaimStakeCmdOpts(),
			GetStakeCmdOpts(),
			GetUnstakeCmdOpts(),
			GetStatusCmdOpts(),
		},
	}
	return appConfig
}

type DropApp struct {
	cliCmd     *cli.Command
	logger     *slog.Logger
	signer     algo.MultipleWalletSigner
	algoClient *algod.Client

	info     *DistributionInfo
	owner    types.Address
	treasury types.Address
	xfer     *algo.XferClient
	ledger   *ledger.Ledger
	events   *ledger.MemorySink
}

// initClients initializes the algod client (to correct network - which it also
// validates), the local keystore, and - if a distribution is already
// configured - the ledger itself with persisted state restored.
func (ac *DropApp) initClients(ctx context.Context, cmd *cli.Command) error {
	network := cmd.String("network")

	if envfile := cmd.String("envfile"); envfile != "" {
		err := loadNamedEnvFile(ctx, envfile)
		if err != nil {
			return err
		}
	}
	// quick validity check on possible network names...
	switch network {
	case "sandbox", "betanet", "testnet", "mainnet":
	default:
		return fmt.Errorf("unknown network:%s", network)
	}

	// Now load .env.{network} overrides -ie: .env.sandbox containing generated mnemonics
	// by bootstrap testing script
	misc.LoadEnvForNetwork(ac.logger, network)

	cfg := algo.GetNetworkConfig(network)
	algoClient, err := algo.GetAlgoClient(ac.logger, cfg)
	if err != nil {
		return err
	}
	ac.algoClient = algoClient

	// This will load and initialize mnemonics from the environment - and handles all 'local' signing for the app
	ac.signer = algo.NewLocalKeyStore(ac.logger)

	info, err := LoadDistributionInfo()
	if errors.Is(err, os.ErrNotExist) {
		// not configured yet - only the 'distribution init' command is usable
		return nil
	}
	if err != nil {
		return err
	}
	ac.info = info
	return ac.initLedger()
}

// initLedger (re)builds the ledger from ac.info, restoring any persisted
// snapshot.  Extra options let the withdraw command opt in to unreserved mode.
func (ac *DropApp) initLedger(opts ...ledger.Option) error {
	owner, err := types.DecodeAddress(ac.info.Owner)
	if err != nil {
		return fmt.Errorf("invalid owner address in configuration: %w", err)
	}
	treasury, err := types.DecodeAddress(ac.info.Treasury)
	if err != nil {
		return fmt.Errorf("invalid treasury address in configuration: %w", err)
	}
	ac.owner = owner
	ac.treasury = treasury
	ac.xfer = algo.NewXferClient(ac.logger, ac.algoClient, ac.signer, treasury)

	// events go to the log and to an in-memory list the daemon serves back out
	ac.events = &ledger.MemorySink{}
	opts = append(opts, ledger.WithEventSink(ledger.MultiSink{ledger.LogSink{Logger: ac.logger}, ac.events}))

	l, err := ledger.New(ledger.Config{
		AssetID:         ac.info.AssetID,
		AirdropAmount:   ac.info.AirdropAmount,
		StakingDuration: time.Duration(ac.info.StakingDurationSecs) * time.Second,
		Owner:           owner,
	}, ac.logger, ac.xfer, singleOwner{owner: owner}, opts...)
	if err != nil {
		return err
	}
	if ac.info.Ledger != nil {
		if err := l.Restore(*ac.info.Ledger); err != nil {
			return fmt.Errorf("error restoring ledger state: %w", err)
		}
	}
	ac.ledger = l
	return nil
}

// saveState writes the current ledger snapshot back into the persisted
// distribution file.  Called after every state-changing CLI command.
func (ac *DropApp) saveState() error {
	snap := ac.ledger.Snapshot()
	ac.info.Ledger = &snap
	return SaveDistributionInfo(ac.info)
}

// singleOwner is the production AccessControl - exactly one authorized
// principal, fixed at configuration time.
type singleOwner struct {
	owner types.Address
}

func (s singleOwner) IsOwner(caller types.Address) bool {
	return caller == s.owner
}

func checkConfigured(ctx context.Context, command *cli.Command) error {
	if App.ledger == nil {
		return errors.New("distribution not configured - run 'distribution init' first")
	}
	return nil
}

func loadNamedEnvFile(ctx context.Context, envFile string) error {
	misc.Infof(App.logger, "loading env file:%s", envFile)
	return godotenv.Load(envFile)
}

// Version is replaced at build time during docker builds w/ 'release' version
// If not defined, we just return the git rev.
var Version string

func getVersionInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "The version information could not be determined"
	}
	var vcsRev = "(unknown)"
	if fnd := slices.IndexFunc(info.Settings, func(v debug.BuildSetting) bool { return v.Key == "vcs.revision" }); fnd != -1 {
		vcsRev = info.Settings[fnd].Value[0:7]
	}
	if Version != "" {
		return fmt.Sprintf("%s [%s]", Version, vcsRev)
	}
	return vcsRev
}
