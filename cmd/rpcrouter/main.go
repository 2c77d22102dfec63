package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
	"github.com/xlayer/rpcrouter/common"
	"github.com/xlayer/rpcrouter/server"
	"github.com/xlayer/rpcrouter/util"
)

const defaultConfigPath = "./rpcrouter.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := loadDotEnv(".env"); err != nil {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	fs := afero.NewOsFs()
	start := func(ctx context.Context, cmd *cli.Command) error {
		return run(ctx, fs, cmd)
	}

	app := &cli.Command{
		Name:      "rpcrouter",
		Usage:     "JSON-RPC front for a node that forwards pre-cutover history to a legacy rpc",
		ArgsUsage: "[config file]",
		Flags:     startFlags(),
		Action:    start,
		Commands: []*cli.Command{
			{
				Name:      "start",
				Usage:     "Start the router",
				ArgsUsage: "[config file]",
				Flags:     startFlags(),
				Action:    start,
			},
			{
				Name:      "validate",
				Usage:     "Validate a configuration file and print a summary",
				ArgsUsage: "[config file]",
				Flags:     startFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return validate(fs, cmd)
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Error().Msgf("failed to run rpcrouter: %v", err)
		util.OsExit(util.ExitCodeStartFailed)
	}
}

func startFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Config file to use (by default: " + defaultConfigPath + ")",
		},
		&cli.StringFlag{
			Name:  "legacy-rpc-url",
			Usage: "Legacy rpc endpoint that serves blocks below the cutoff",
		},
		&cli.DurationFlag{
			Name:  "legacy-rpc-timeout",
			Usage: "Timeout for each forwarded legacy call",
		},
		&cli.StringFlag{
			Name:  "legacy-cutoff-block",
			Usage: "First block served by the local node (decimal or 0x-prefixed hex)",
		},
		&cli.BoolFlag{
			Name:  "inner-tx",
			Usage: "Enable the internal-transaction tracing stage",
		},
	}
}

func run(ctx context.Context, fs afero.Fs, cmd *cli.Command) error {
	cfg, err := loadConfig(fs, cmd)
	if err != nil {
		log.Error().Msgf("failed to load configuration: %v", err)
		util.OsExit(util.ExitCodeStartFailed)
		return nil
	}

	appCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv, err := server.Init(appCtx, log.Logger, cfg)
	if err != nil {
		code := util.ExitCodeStartFailed
		if common.HasErrorCode(err, common.ErrCodeInvalidConfig) {
			code = util.ExitCodeInvalidConfig
		}
		log.Error().Msgf("failed to start rpcrouter: %v", err)
		util.OsExit(code)
		return nil
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case recvSig := <-sig:
		log.Warn().Msgf("caught signal: %v", recvSig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		util.OsExit(util.ExitCodeShutdownFailed)
	}
	return nil
}

// loadConfig reads the file named by --config or the first positional
// argument, then applies command-line overrides on top of it.
func loadConfig(fs afero.Fs, cmd *cli.Command) (*common.Config, error) {
	configPath := defaultConfigPath
	if p := cmd.String("config"); p != "" {
		configPath = p
	} else if p := cmd.Args().First(); p != "" {
		configPath = p
	}

	var cfg *common.Config
	if _, err := fs.Stat(configPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) || cmd.IsSet("config") || cmd.Args().Present() {
			return nil, fmt.Errorf("config file '%s' does not exist", configPath)
		}
		log.Info().Msgf("no config file at %s, using defaults", configPath)
		cfg = common.DefaultConfig()
	} else {
		log.Info().Msgf("loading configuration from %s", configPath)
		cfg, err = common.LoadConfig(fs, configPath)
		if err != nil {
			return nil, err
		}
	}

	if err := applyFlags(cfg, cmd); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *common.Config, cmd *cli.Command) error {
	if cfg.Legacy == nil {
		cfg.Legacy = &common.LegacyConfig{}
	}
	if cmd.IsSet("legacy-rpc-url") {
		cfg.Legacy.Endpoint = cmd.String("legacy-rpc-url")
	}
	if cmd.IsSet("legacy-rpc-timeout") {
		cfg.Legacy.Timeout = common.Duration(cmd.Duration("legacy-rpc-timeout"))
	}
	if cmd.IsSet("legacy-cutoff-block") {
		v := cmd.String("legacy-cutoff-block")
		n, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid --legacy-cutoff-block '%s': %w", v, err)
		}
		cfg.Legacy.CutoffBlock = n
	}
	if cmd.IsSet("inner-tx") {
		if cfg.InnerTx == nil {
			cfg.InnerTx = &common.InnerTxConfig{}
		}
		cfg.InnerTx.Enabled = cmd.Bool("inner-tx")
	}
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}
