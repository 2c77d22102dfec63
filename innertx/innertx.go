// Package innertx holds the optional stage that traces calls on their way to
// the node's internal-transaction recording.
package innertx

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xlayer/rpcrouter/common"
	"github.com/xlayer/rpcrouter/pipeline"
	"github.com/xlayer/rpcrouter/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxMethodLabelLen = 64

type stage struct {
	pipeline.Passthrough
	logger *zerolog.Logger
}

// Layer returns the tracing stage. When disabled, wrapping is the identity
// and the composed pipeline does not contain the stage at all.
func Layer(logger *zerolog.Logger, enabled bool) pipeline.Layer {
	lg := logger.With().Str("component", "innertx").Logger()
	return pipeline.LayerFunc(func(next pipeline.Service) pipeline.Service {
		if !enabled {
			return next
		}
		return &stage{Passthrough: pipeline.Passthrough{Next: next}, logger: &lg}
	})
}

func (s *stage) Call(ctx context.Context, req *common.JsonRpcRequest) *common.JsonRpcResponse {
	ctx, span := common.StartSpan(ctx, "InnerTx.Call",
		trace.WithAttributes(
			attribute.String("request.method", req.Method),
			attribute.String("request.id", string(req.ID)),
		),
	)
	defer span.End()

	telemetry.CounterHandle(telemetry.MetricInnerTxCallTotal, methodLabel(req.Method), "call").Inc()
	s.logger.Trace().Object("request", req).Msg("tracing call")

	resp := s.Next.Call(ctx, req)
	if resp != nil && resp.Error != nil {
		span.SetAttributes(attribute.Int("response.error_code", resp.Error.Code))
	}
	return resp
}

func (s *stage) Batch(ctx context.Context, reqs []*common.JsonRpcRequest) []*common.JsonRpcResponse {
	ctx, span := common.StartSpan(ctx, "InnerTx.Batch",
		trace.WithAttributes(attribute.Int("batch.size", len(reqs))),
	)
	defer span.End()

	for _, req := range reqs {
		shape := "batch"
		if req.IsNotification() {
			shape = "notification"
		}
		telemetry.CounterHandle(telemetry.MetricInnerTxCallTotal, methodLabel(req.Method), shape).Inc()
	}
	s.logger.Trace().Int("size", len(reqs)).Msg("tracing batch")

	return s.Next.Batch(ctx, reqs)
}

func (s *stage) Notification(ctx context.Context, req *common.JsonRpcRequest) {
	ctx, span := common.StartSpan(ctx, "InnerTx.Notification",
		trace.WithAttributes(attribute.String("request.method", req.Method)),
	)
	defer span.End()

	telemetry.CounterHandle(telemetry.MetricInnerTxCallTotal, methodLabel(req.Method), "notification").Inc()
	s.logger.Trace().Object("request", req).Msg("tracing notification")

	s.Next.Notification(ctx, req)
}

// methodLabel keeps metric cardinality bounded when callers send arbitrary method names.
func methodLabel(method string) string {
	if len(method) > maxMethodLabelLen || !strings.Contains(method, "_") {
		return "other"
	}
	return method
}
