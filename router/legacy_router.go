package router

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/xlayer/rpcrouter/common"
	"github.com/xlayer/rpcrouter/evm"
	"github.com/xlayer/rpcrouter/pipeline"
	"github.com/xlayer/rpcrouter/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Forwarder serves a single call from the legacy backend.
type Forwarder interface {
	Forward(ctx context.Context, req *common.JsonRpcRequest) (*common.JsonRpcResponse, error)
}

// LegacyRouter is the pipeline stage that sends calls about blocks older than
// the cutoff to the legacy backend and everything else to the next stage.
type LegacyRouter struct {
	next      pipeline.Service
	cfg       *common.RouterConfig
	table     *evm.MethodParamTable
	forwarder Forwarder
	logger    *zerolog.Logger
}

var _ pipeline.Service = (*LegacyRouter)(nil)

// NewLayer returns the router stage as a pipeline layer. forwarder may be nil
// only when routing is disabled.
func NewLayer(logger *zerolog.Logger, cfg *common.RouterConfig, table *evm.MethodParamTable, forwarder Forwarder) pipeline.Layer {
	lg := logger.With().Str("component", "legacyRouter").Logger()
	return pipeline.LayerFunc(func(next pipeline.Service) pipeline.Service {
		return &LegacyRouter{
			next:      next,
			cfg:       cfg,
			table:     table,
			forwarder: forwarder,
			logger:    &lg,
		}
	})
}

// Route resolves the block a request refers to and the backend that serves it.
func (r *LegacyRouter) Route(req *common.JsonRpcRequest) (RouteDecision, evm.BlockRef) {
	if !r.cfg.Enabled {
		return RouteLocal, evm.Unresolvable
	}
	ref := r.table.Resolve(req.Method, req.Params)
	decision := Decide(r.cfg, ref)
	if decision == RouteLegacy && r.forwarder == nil {
		return RouteLocal, ref
	}
	return decision, ref
}

func (r *LegacyRouter) Call(ctx context.Context, req *common.JsonRpcRequest) *common.JsonRpcResponse {
	decision, ref := r.Route(req)
	r.observe(req, decision, ref)
	common.AnnotateSpan(ctx,
		attribute.String("rpc.route", decision.String()),
		attribute.String("rpc.block_ref", ref.String()),
	)

	if decision == RouteLocal {
		return r.next.Call(ctx, req)
	}
	return r.forward(ctx, req, ref)
}

// Notification is always served locally: there is no way to return a legacy
// reply for it.
func (r *LegacyRouter) Notification(ctx context.Context, req *common.JsonRpcRequest) {
	r.next.Notification(ctx, req)
}

// Batch decides every request on its own. Local requests (and notifications)
// go to the next stage as one batch while legacy ones are forwarded
// concurrently. The merged result follows request order.
func (r *LegacyRouter) Batch(ctx context.Context, reqs []*common.JsonRpcRequest) []*common.JsonRpcResponse {
	slots := pipeline.ResponseSlots(reqs)
	responses := make([]*common.JsonRpcResponse, pipeline.CountCalls(reqs))

	localReqs := make([]*common.JsonRpcRequest, 0, len(reqs))
	localSlots := make([]int, 0, len(reqs))
	type legacyCall struct {
		req  *common.JsonRpcRequest
		ref  evm.BlockRef
		slot int
	}
	var legacyCalls []legacyCall

	for i, req := range reqs {
		if req.IsNotification() {
			localReqs = append(localReqs, req)
			continue
		}
		decision, ref := r.Route(req)
		r.observe(req, decision, ref)
		if decision == RouteLegacy {
			legacyCalls = append(legacyCalls, legacyCall{req: req, ref: ref, slot: slots[i]})
			continue
		}
		localReqs = append(localReqs, req)
		localSlots = append(localSlots, slots[i])
	}

	common.AnnotateSpan(ctx,
		attribute.Int("rpc.batch.size", len(reqs)),
		attribute.Int("rpc.batch.legacy", len(legacyCalls)),
	)

	if len(legacyCalls) == 0 {
		return r.next.Batch(ctx, reqs)
	}

	var g errgroup.Group
	if len(localReqs) > 0 {
		g.Go(func() error {
			localResponses := r.next.Batch(ctx, localReqs)
			if len(localResponses) != len(localSlots) {
				r.logger.Warn().
					Int("expected", len(localSlots)).
					Int("received", len(localResponses)).
					Msg("next stage returned an unexpected number of batch responses")
			}
			for k, resp := range localResponses {
				if k >= len(localSlots) {
					break
				}
				responses[localSlots[k]] = resp
			}
			return nil
		})
	}
	for _, lc := range legacyCalls {
		g.Go(func() error {
			responses[lc.slot] = r.forward(ctx, lc.req, lc.ref)
			return nil
		})
	}
	_ = g.Wait()

	return pipeline.FillMissing(reqs, responses)
}

func (r *LegacyRouter) forward(ctx context.Context, req *common.JsonRpcRequest, ref evm.BlockRef) *common.JsonRpcResponse {
	if r.logger.GetLevel() <= zerolog.DebugLevel {
		r.logger.Debug().
			Str("method", req.Method).
			Str("block", ref.String()).
			Uint64("cutoffBlock", r.cfg.CutoffBlock).
			Msg("forwarding call to legacy backend")
	}

	resp, err := r.forwarder.Forward(ctx, req)
	if err != nil {
		r.logger.Warn().Err(err).Object("request", req).Msg("legacy backend failed to serve call")
		return common.NewJsonRpcErrorResponseFromError(req.ID, err)
	}
	if resp == nil {
		return common.NewJsonRpcErrorResponse(req.ID, common.JsonRpcErrorInternalException, "legacy backend returned no response", nil)
	}
	return resp
}

func (r *LegacyRouter) observe(req *common.JsonRpcRequest, decision RouteDecision, ref evm.BlockRef) {
	method := "other"
	if _, ok := r.table.ParamIndex(req.Method); ok {
		method = req.Method
	}
	telemetry.CounterHandle(telemetry.MetricRouteDecisionTotal, method, decision.String(), ref.Kind.String()).Inc()
}
