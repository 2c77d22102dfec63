package pipeline

import (
	"context"

	"github.com/xlayer/rpcrouter/common"
)

// Service is the capability set every stage of the call pipeline exposes.
// Implementations must be safe for concurrent use.
type Service interface {
	// Call serves one request that expects a response.
	Call(ctx context.Context, req *common.JsonRpcRequest) *common.JsonRpcResponse

	// Batch serves requests received together. It returns exactly one
	// response per non-notification request, in request order.
	Batch(ctx context.Context, reqs []*common.JsonRpcRequest) []*common.JsonRpcResponse

	// Notification serves a request that has no id and gets no response.
	Notification(ctx context.Context, req *common.JsonRpcRequest)
}

// Layer builds a stage around the next service in the pipeline.
type Layer interface {
	Wrap(next Service) Service
}

type LayerFunc func(next Service) Service

func (f LayerFunc) Wrap(next Service) Service {
	return f(next)
}

// Compose wraps tail with layers so that layers[0] is the outermost stage,
// the first one to see every call. The result is fixed once built.
func Compose(tail Service, layers ...Layer) Service {
	svc := tail
	for i := len(layers) - 1; i >= 0; i-- {
		if layers[i] == nil {
			continue
		}
		svc = layers[i].Wrap(svc)
	}
	return svc
}

// Passthrough delegates every capability to Next. Stages embed it and only
// override what they intercept.
type Passthrough struct {
	Next Service
}

func (p Passthrough) Call(ctx context.Context, req *common.JsonRpcRequest) *common.JsonRpcResponse {
	return p.Next.Call(ctx, req)
}

func (p Passthrough) Batch(ctx context.Context, reqs []*common.JsonRpcRequest) []*common.JsonRpcResponse {
	return p.Next.Batch(ctx, reqs)
}

func (p Passthrough) Notification(ctx context.Context, req *common.JsonRpcRequest) {
	p.Next.Notification(ctx, req)
}

// Dispatch sends a parsed payload through svc and returns the responses in
// input order, ready to be written back to the client. A single notification
// yields no responses.
func Dispatch(ctx context.Context, svc Service, payload *common.JsonRpcPayload) []*common.JsonRpcResponse {
	if !payload.IsBatch {
		if len(payload.Requests) != 1 {
			return nil
		}
		req := payload.Requests[0]
		if req.IsNotification() {
			svc.Notification(ctx, req)
			return nil
		}
		return []*common.JsonRpcResponse{svc.Call(ctx, req)}
	}
	var responses []*common.JsonRpcResponse
	if len(payload.Requests) > 0 {
		responses = svc.Batch(ctx, payload.Requests)
	}
	return payload.Assemble(responses)
}
