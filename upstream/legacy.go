package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/rs/zerolog"
	"github.com/xlayer/rpcrouter/clients"
	"github.com/xlayer/rpcrouter/common"
	"github.com/xlayer/rpcrouter/data"
	"github.com/xlayer/rpcrouter/telemetry"
	"github.com/xlayer/rpcrouter/util"
)

// LegacyForwarder serves calls from the legacy backend. Every call is a
// single attempt bounded by the configured timeout.
type LegacyForwarder struct {
	cfg      *common.RouterConfig
	client   clients.HttpJsonRpcClient
	executor failsafe.Executor[*common.JsonRpcResponse]
	endpoint string
	cache    data.Connector
	cacheTTL time.Duration
	logger   *zerolog.Logger
}

func NewLegacyForwarder(
	logger *zerolog.Logger,
	cfg *common.RouterConfig,
	legacyCfg *common.LegacyConfig,
	cache data.Connector,
) (*LegacyForwarder, error) {
	if cfg == nil || cfg.LegacyEndpoint == "" {
		return nil, common.NewErrInvalidConfig("legacy forwarder requires an endpoint")
	}
	if legacyCfg == nil {
		legacyCfg = &common.LegacyConfig{}
	}

	lg := logger.With().Str("component", "legacyForwarder").Logger()
	client, err := clients.NewGenericHttpJsonRpcClient(&lg, cfg.LegacyEndpoint, &clients.ClientOptions{
		Name:            "legacy",
		Headers:         legacyCfg.Headers,
		EnableGzip:      legacyCfg.EnableGzip,
		MaxResponseSize: int64(legacyCfg.MaxResponseSize),
	})
	if err != nil {
		return nil, common.NewErrInvalidConfig(err.Error())
	}

	timeoutPolicy, err := createTimeoutPolicy("legacyForwarder", cfg.Timeout)
	if err != nil {
		return nil, err
	}

	f := &LegacyForwarder{
		cfg:      cfg,
		client:   client,
		executor: failsafe.NewExecutor[*common.JsonRpcResponse](timeoutPolicy),
		endpoint: util.RedactEndpoint(cfg.LegacyEndpoint),
		cache:    cache,
		logger:   &lg,
	}
	if legacyCfg.Cache != nil {
		f.cacheTTL = legacyCfg.Cache.TTL.Duration()
	}
	return f, nil
}

// Forward sends req verbatim to the legacy backend. A reply, including an
// error the backend itself reports, is returned as is. Failures to get a
// usable reply are returned as ErrLegacy* errors.
func (f *LegacyForwarder) Forward(ctx context.Context, req *common.JsonRpcRequest) (*common.JsonRpcResponse, error) {
	cacheKey := f.cacheKey(req)
	if resp := f.fromCache(ctx, req, cacheKey); resp != nil {
		return resp, nil
	}

	telemetry.CounterHandle(telemetry.MetricLegacyRequestTotal, req.Method).Inc()
	start := time.Now()

	resp, err := f.executor.
		WithContext(ctx).
		GetWithExecution(func(exec failsafe.Execution[*common.JsonRpcResponse]) (*common.JsonRpcResponse, error) {
			return f.client.SendRequest(exec.Context(), req)
		})

	if err != nil {
		err = TranslateFailsafeError(ctx, err, f.cfg.Timeout, f.endpoint)
		telemetry.ObserverHandle(telemetry.MetricLegacyRequestDuration, req.Method, "error").Observe(time.Since(start).Seconds())
		telemetry.CounterHandle(telemetry.MetricLegacyErrorTotal, req.Method, common.ErrorSummary(err)).Inc()
		return nil, err
	}
	if resp == nil {
		return nil, common.NewErrLegacyMalformedResponse(errors.New("empty response"), nil)
	}

	outcome := "success"
	if resp.IsError() {
		outcome = "rpc_error"
	}
	telemetry.ObserverHandle(telemetry.MetricLegacyRequestDuration, req.Method, outcome).Observe(time.Since(start).Seconds())

	f.toCache(ctx, cacheKey, resp)
	return resp, nil
}

// cacheKey identifies a call by method and params. The id is not part of it.
func (f *LegacyForwarder) cacheKey(req *common.JsonRpcRequest) string {
	if f.cache == nil {
		return ""
	}
	var buf bytes.Buffer
	buf.WriteString(req.Method)
	buf.WriteByte(':')
	if len(req.Params) > 0 {
		if err := json.Compact(&buf, req.Params); err != nil {
			return ""
		}
	}
	return buf.String()
}

func (f *LegacyForwarder) fromCache(ctx context.Context, req *common.JsonRpcRequest, key string) *common.JsonRpcResponse {
	if f.cache == nil || key == "" {
		return nil
	}
	result, err := f.cache.Get(ctx, key)
	if err != nil {
		if common.HasErrorCode(err, common.ErrCodeRecordNotFound) {
			telemetry.CounterHandle(telemetry.MetricCacheGetTotal, f.cache.Id(), "miss").Inc()
		} else {
			telemetry.CounterHandle(telemetry.MetricCacheGetTotal, f.cache.Id(), "error").Inc()
			f.logger.Warn().Err(err).Str("method", req.Method).Msg("failed to read legacy response from cache")
		}
		return nil
	}
	telemetry.CounterHandle(telemetry.MetricCacheGetTotal, f.cache.Id(), "hit").Inc()
	return common.NewJsonRpcResponse(req.ID, result)
}

func (f *LegacyForwarder) toCache(ctx context.Context, key string, resp *common.JsonRpcResponse) {
	if f.cache == nil || key == "" || resp.IsError() {
		return
	}
	if resp.IsResultEmptyish() {
		return
	}
	if err := f.cache.Set(ctx, key, resp.Result, f.cacheTTL); err != nil {
		telemetry.CounterHandle(telemetry.MetricCacheSetTotal, f.cache.Id(), "error").Inc()
		f.logger.Warn().Err(err).Str("key", util.Truncate(key, 128)).Msg("failed to store legacy response in cache")
		return
	}
	telemetry.CounterHandle(telemetry.MetricCacheSetTotal, f.cache.Id(), "success").Inc()
}
