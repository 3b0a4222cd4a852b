// Package oracle implements the `run` sub-command.
package oracle

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	cmdCommon "github.com/jefdiesel/appchain-ens/cmd/common"
	"github.com/jefdiesel/appchain-ens/config"
	"github.com/jefdiesel/appchain-ens/log"
	"github.com/jefdiesel/appchain-ens/metrics"
	"github.com/jefdiesel/appchain-ens/oracle/indexer"
	"github.com/jefdiesel/appchain-ens/oracle/names"
	"github.com/jefdiesel/appchain-ens/oracle/reconciler"
	"github.com/jefdiesel/appchain-ens/oracle/registry"
	"github.com/jefdiesel/appchain-ens/oracle/util"
)

const moduleName = "oracle"

var (
	// Path to the configuration file.
	configFile string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Reconcile the on-chain name registry against the indexer",
		Run:   runOracle,
	}
)

func runOracle(cmd *cobra.Command, args []string) {
	// Initialize config.
	cfg, err := config.InitConfig(configFile)
	if err != nil {
		log.NewDefaultLogger("init").Error("config init failed",
			"error", err,
		)
		os.Exit(1)
	}

	// Initialize common environment.
	if err = cmdCommon.Init(cfg); err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}
	logger := cmdCommon.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec, err := initReconciler(ctx, cfg.Oracle, logger)
	if err != nil {
		logger.Error("oracle failed to start", "err", err)
		os.Exit(1)
	}

	g, gCtx := errgroup.WithContext(ctx)
	if cfg.Metrics != nil {
		promServer, err := metrics.NewPullService(cfg.Metrics.PullEndpoint, logger)
		if err != nil {
			logger.Error("failed to initialize metrics", "err", err)
			os.Exit(1)
		}
		g.Go(func() error {
			return promServer.Run(gCtx)
		})
	}
	g.Go(func() error {
		rec.Start(gCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("shutting down", "err", err)
		os.Exit(1)
	}
}

// initReconciler wires the truth source, the registry client and the
// reconciler from validated configuration.
func initReconciler(ctx context.Context, cfg *config.OracleConfig, logger *log.Logger) (*reconciler.Reconciler, error) {
	trackedNames, err := names.Load(cfg.NamesFile)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded tracked names", "num_names", len(trackedNames), "file", cfg.NamesFile)

	oracleMetrics := metrics.NewDefaultOracleMetrics(moduleName)
	retrier := util.NewRetrier(logger, &oracleMetrics)

	source, err := indexer.NewClient(
		cfg.IndexerURL,
		&http.Client{Timeout: cfg.RequestTimeout()},
		cfg.RequestTimeout(),
		logger,
	)
	if err != nil {
		return nil, err
	}

	reg, err := registry.NewClient(ctx, cfg, retrier, logger, &oracleMetrics)
	if err != nil {
		return nil, err
	}
	logger.Info("registry client ready",
		"registry", cfg.RegistryAddress,
		"updater", reg.Sender(),
	)

	return reconciler.New(
		trackedNames,
		source,
		reg,
		cfg.Interval(),
		cfg.EffectiveBatchSize(),
		config.DefaultGroupDelay,
		logger,
		&oracleMetrics,
	)
}

// Register registers the process sub-command.
func Register(parentCmd *cobra.Command) {
	runCmd.Flags().StringVar(&configFile, "config", "./config/local.yml", "path to the config.yml file")
	parentCmd.AddCommand(runCmd)
}
