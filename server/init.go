package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/xlayer/rpcrouter/common"
	"github.com/xlayer/rpcrouter/data"
	"github.com/xlayer/rpcrouter/evm"
	"github.com/xlayer/rpcrouter/innertx"
	"github.com/xlayer/rpcrouter/pipeline"
	"github.com/xlayer/rpcrouter/router"
	"github.com/xlayer/rpcrouter/telemetry"
	"github.com/xlayer/rpcrouter/upstream"
	"github.com/xlayer/rpcrouter/util"
)

// Init validates cfg, composes the request pipeline and starts the
// transports. Everything stops when ctx is canceled.
func Init(ctx context.Context, logger zerolog.Logger, cfg *common.Config) (*HttpServer, error) {
	//
	// 1) Validate configuration
	//
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		logger.Warn().Msgf("invalid log level '%s', defaulting to 'debug'", cfg.LogLevel)
		level = zerolog.DebugLevel
	}
	logger = logger.Level(level)

	if cfg.Metrics != nil && cfg.Metrics.HistogramBuckets != "" {
		if err := telemetry.SetHistogramBuckets(cfg.Metrics.HistogramBuckets); err != nil {
			return nil, common.NewErrInvalidConfig(fmt.Sprintf("invalid metrics.histogramBuckets '%s': %v", cfg.Metrics.HistogramBuckets, err))
		}
	}

	if err := common.InitializeTracing(ctx, &logger, cfg.Tracing); err != nil {
		logger.Warn().Err(err).Msg("failed to initialize tracing, continuing without it")
	}

	//
	// 2) Compose the pipeline
	//
	svc, err := BuildPipeline(ctx, &logger, cfg)
	if err != nil {
		return nil, err
	}

	//
	// 3) Expose transports
	//
	if cfg.Server == nil {
		cfg.Server = common.DefaultConfig().Server
	}
	logger.Info().Object("server", cfg.Server).Msg("initializing transports")
	httpServer := NewHttpServer(ctx, &logger, cfg.Server, svc)
	go func() {
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("failed to start http server")
			util.OsExit(util.ExitCodeHttpServerFailed)
		}
	}()

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		startMetricsServer(ctx, &logger, cfg.Metrics)
	}

	return httpServer, nil
}

// BuildPipeline wires the stages in their fixed order: the tracing stage
// outermost, then the legacy router, then the local node.
func BuildPipeline(ctx context.Context, logger *zerolog.Logger, cfg *common.Config) (pipeline.Service, error) {
	routerCfg, err := common.NewRouterConfig(cfg.Legacy)
	if err != nil {
		return nil, err
	}

	local, err := upstream.NewLocalDispatcher(logger, cfg.Local)
	if err != nil {
		return nil, err
	}

	var (
		methods   map[string]uint32
		forwarder router.Forwarder
	)
	if cfg.Legacy != nil {
		methods = cfg.Legacy.Methods
	}
	table := evm.NewMethodParamTable(methods)

	if routerCfg.Enabled {
		var cache data.Connector
		if cfg.Legacy.Cache != nil {
			cache, err = data.NewConnector(ctx, logger, cfg.Legacy.Cache)
			if err != nil {
				return nil, err
			}
		}
		f, err := upstream.NewLegacyForwarder(logger, routerCfg, cfg.Legacy, cache)
		if err != nil {
			return nil, err
		}
		forwarder = f
		logger.Info().Object("router", routerCfg).Int("methods", table.Len()).Msg("legacy routing enabled")
	} else {
		logger.Info().Msg("legacy routing disabled, every call is served by the local node")
	}

	innerTxEnabled := cfg.InnerTx != nil && cfg.InnerTx.Enabled
	return pipeline.Compose(
		local,
		innertx.Layer(logger, innerTxEnabled),
		router.NewLayer(logger, routerCfg, table, forwarder),
	), nil
}

func startMetricsServer(ctx context.Context, logger *zerolog.Logger, cfg *common.MetricsConfig) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	logger.Info().Str("addr", addr).Msg("starting metrics server")
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("error starting metrics server")
			util.OsExit(util.ExitCodeHttpServerFailed)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server forced to shutdown")
		} else {
			logger.Info().Msg("metrics server stopped")
		}
	}()
}
