package main

import (
	"net"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
	"github.com/xlayer/rpcrouter/common"
	"github.com/xlayer/rpcrouter/evm"
	"github.com/xlayer/rpcrouter/util"
)

func validate(fs afero.Fs, cmd *cli.Command) error {
	cfg, err := loadConfig(fs, cmd)
	if err != nil {
		log.Error().Msgf("failed to load configuration: %v", err)
		util.OsExit(util.ExitCodeStartFailed)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Msgf("failed to validate configuration: %v", err)
		util.OsExit(util.ExitCodeInvalidConfig)
		return nil
	}

	printConfigStats(log.Logger, calculateConfigStats(cfg))
	return nil
}

type ConfigStats struct {
	ListenAddr     string
	MaxBodySize    string
	Websocket      bool
	LocalEndpoint  string
	LegacyEnabled  bool
	LegacyEndpoint string
	CutoffBlock    string
	LegacyTimeout  string
	RoutedMethods  int
	CacheDriver    string
	InnerTx        bool
	Tracing        bool
}

func calculateConfigStats(cfg *common.Config) ConfigStats {
	stats := ConfigStats{
		LocalEndpoint: util.RedactEndpoint(cfg.Local.Endpoint),
		CacheDriver:   "none",
	}
	if cfg.Server != nil {
		stats.ListenAddr = net.JoinHostPort(cfg.Server.HttpHost, strconv.Itoa(cfg.Server.HttpPort))
		stats.MaxBodySize = humanize.IBytes(uint64(cfg.Server.MaxBodySize))
		stats.Websocket = cfg.Server.Websocket != nil && cfg.Server.Websocket.Enabled
	}

	// Validate has already accepted the legacy section.
	routerCfg, _ := common.NewRouterConfig(cfg.Legacy)
	stats.LegacyEnabled = routerCfg.Enabled
	stats.LegacyEndpoint = util.RedactEndpoint(routerCfg.LegacyEndpoint)
	stats.CutoffBlock = humanize.Comma(int64(routerCfg.CutoffBlock))
	stats.LegacyTimeout = routerCfg.Timeout.String()

	var overrides map[string]uint32
	if cfg.Legacy != nil {
		overrides = cfg.Legacy.Methods
		if cfg.Legacy.Cache != nil {
			stats.CacheDriver = cfg.Legacy.Cache.Driver
		}
	}
	stats.RoutedMethods = evm.NewMethodParamTable(overrides).Len()
	stats.InnerTx = cfg.InnerTx != nil && cfg.InnerTx.Enabled
	stats.Tracing = cfg.Tracing != nil && cfg.Tracing.Enabled
	return stats
}

func printConfigStats(logger zerolog.Logger, stats ConfigStats) {
	logger.Info().
		Str("listen", stats.ListenAddr).
		Str("maxBodySize", stats.MaxBodySize).
		Bool("websocket", stats.Websocket).
		Str("localEndpoint", stats.LocalEndpoint).
		Msg("validated server configuration")

	if !stats.LegacyEnabled {
		logger.Info().Msg("validated legacy routing: disabled, every call goes to the local node")
	} else {
		logger.Info().
			Str("legacyEndpoint", stats.LegacyEndpoint).
			Str("cutoffBlock", stats.CutoffBlock).
			Str("timeout", stats.LegacyTimeout).
			Int("routedMethods", stats.RoutedMethods).
			Str("cache", stats.CacheDriver).
			Msg("validated legacy routing")
	}

	logger.Info().
		Bool("innerTx", stats.InnerTx).
		Bool("tracing", stats.Tracing).
		Msg("configuration is valid")
}
