package upstream

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/xlayer/rpcrouter/clients"
	"github.com/xlayer/rpcrouter/common"
	"github.com/xlayer/rpcrouter/pipeline"
	"github.com/xlayer/rpcrouter/telemetry"
	"github.com/xlayer/rpcrouter/util"
)

// LocalDispatcher is the innermost pipeline stage. It relays everything it
// receives to the node's own JSON-RPC endpoint.
type LocalDispatcher struct {
	endpoint string
	timeout  time.Duration
	client   clients.HttpJsonRpcClient
	logger   *zerolog.Logger
}

var _ pipeline.Service = (*LocalDispatcher)(nil)

func NewLocalDispatcher(logger *zerolog.Logger, cfg *common.LocalConfig) (*LocalDispatcher, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, common.NewErrInvalidConfig("local.endpoint is required")
	}
	lg := logger.With().Str("component", "localDispatcher").Logger()
	client, err := clients.NewGenericHttpJsonRpcClient(&lg, cfg.Endpoint, &clients.ClientOptions{
		Name:    "local",
		Headers: cfg.Headers,
	})
	if err != nil {
		return nil, common.NewErrInvalidConfig(err.Error())
	}
	return &LocalDispatcher{
		endpoint: util.RedactEndpoint(cfg.Endpoint),
		timeout:  cfg.Timeout.WithDefault(common.DefaultLocalTimeout),
		client:   client,
		logger:   &lg,
	}, nil
}

func (d *LocalDispatcher) Call(ctx context.Context, req *common.JsonRpcRequest) *common.JsonRpcResponse {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	telemetry.CounterHandle(telemetry.MetricLocalRequestTotal, "call").Inc()
	resp, err := d.client.SendRequest(ctx, req)
	telemetry.ObserverHandle(telemetry.MetricLocalRequestDuration, "call").Observe(time.Since(start).Seconds())
	if err != nil {
		return d.failed(req, "call", err)
	}
	return resp
}

// Batch relays reqs as one batch so that the node sees them together. The
// result has one response per non-notification request.
func (d *LocalDispatcher) Batch(ctx context.Context, reqs []*common.JsonRpcRequest) []*common.JsonRpcResponse {
	if len(reqs) == 0 {
		return []*common.JsonRpcResponse{}
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	telemetry.CounterHandle(telemetry.MetricLocalRequestTotal, "batch").Inc()
	resps, err := d.client.SendBatch(ctx, reqs)
	telemetry.ObserverHandle(telemetry.MetricLocalRequestDuration, "batch").Observe(time.Since(start).Seconds())
	if err != nil {
		out := make([]*common.JsonRpcResponse, 0, pipeline.CountCalls(reqs))
		for _, req := range reqs {
			if req.IsNotification() {
				continue
			}
			out = append(out, d.failed(req, "batch", err))
		}
		return out
	}
	return pipeline.FillMissing(reqs, resps)
}

func (d *LocalDispatcher) Notification(ctx context.Context, req *common.JsonRpcRequest) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	telemetry.CounterHandle(telemetry.MetricLocalRequestTotal, "notification").Inc()
	if err := d.client.SendNotification(ctx, req); err != nil {
		telemetry.CounterHandle(telemetry.MetricLocalErrorTotal, "notification", common.ErrorSummary(err)).Inc()
		d.logger.Warn().Err(err).Str("method", req.Method).Msg("failed to relay notification to local node")
	}
}

func (d *LocalDispatcher) failed(req *common.JsonRpcRequest, shape string, err error) *common.JsonRpcResponse {
	telemetry.CounterHandle(telemetry.MetricLocalErrorTotal, shape, common.ErrorSummary(err)).Inc()
	d.logger.Warn().Err(err).Str("method", req.Method).Msg("local node failed to serve request")
	return common.NewJsonRpcErrorResponseFromError(req.ID, common.NewErrLocalDispatch(d.endpoint, err))
}
