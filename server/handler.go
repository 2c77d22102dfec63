package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/xlayer/rpcrouter/common"
	"github.com/xlayer/rpcrouter/pipeline"
	"github.com/xlayer/rpcrouter/telemetry"
	"github.com/xlayer/rpcrouter/util"
)

// JsonRpcHandler turns a raw inbound body into the raw body to send back,
// shared by every transport.
type JsonRpcHandler struct {
	svc    pipeline.Service
	logger *zerolog.Logger
}

func NewJsonRpcHandler(logger *zerolog.Logger, svc pipeline.Service) *JsonRpcHandler {
	lg := logger.With().Str("component", "jsonRpcHandler").Logger()
	return &JsonRpcHandler{svc: svc, logger: &lg}
}

// Handle serves body and returns the HTTP status and the reply. A nil reply
// means there is nothing to send (notifications only).
func (h *JsonRpcHandler) Handle(ctx context.Context, transport string, body []byte) (status int, reply []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.MetricUnexpectedPanicTotal.WithLabelValues(
				"rpc-handler",
				transport,
				util.Truncate(fmt.Sprintf("%v", rec), 128),
			).Inc()
			h.logger.Error().
				Str("transport", transport).
				Str("panic", fmt.Sprintf("%v", rec)).
				Str("stack", string(debug.Stack())).
				Msg("unexpected panic while serving request")
			status, reply = http.StatusInternalServerError, h.encode(common.NewJsonRpcErrorResponse(
				common.NullID,
				common.JsonRpcErrorInternalException,
				"unexpected server panic",
				nil,
			))
		}
	}()

	payload, err := common.ParseJsonRpcPayload(body)
	if err != nil {
		telemetry.CounterHandle(telemetry.MetricServerRequestTotal, transport, "invalid").Inc()
		h.logger.Debug().Err(err).Str("transport", transport).Msg("rejected unparseable payload")
		return statusOf(err), h.encode(common.NewJsonRpcErrorResponseFromError(common.NullID, err))
	}

	shape := "single"
	if payload.IsBatch {
		shape = "batch"
	}
	telemetry.CounterHandle(telemetry.MetricServerRequestTotal, transport, shape).Inc()

	responses := pipeline.Dispatch(ctx, h.svc, payload)
	if len(responses) == 0 {
		return http.StatusOK, nil
	}
	if !payload.IsBatch {
		return http.StatusOK, h.encode(responses[0])
	}
	return http.StatusOK, h.encode(responses)
}

func (h *JsonRpcHandler) encode(v interface{}) []byte {
	out, err := common.SonicCfg.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode response")
		out, _ = common.SonicCfg.Marshal(common.NewJsonRpcErrorResponse(
			common.NullID,
			common.JsonRpcErrorInternalException,
			"failed to encode response",
			nil,
		))
	}
	return out
}

func statusOf(err error) int {
	var sc common.ErrorWithStatusCode
	if errors.As(err, &sc) {
		return sc.ErrorStatusCode()
	}
	return http.StatusInternalServerError
}
