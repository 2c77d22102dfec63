package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/timeout"
	"github.com/xlayer/rpcrouter/common"
)

// createTimeoutPolicy bounds a single legacy attempt. There is no retry or
// hedge policy: a legacy call is sent exactly once.
func createTimeoutPolicy(component string, d time.Duration) (failsafe.Policy[*common.JsonRpcResponse], error) {
	if d <= 0 {
		return nil, common.NewErrInvalidConfig(component + ": timeout must be positive")
	}
	return timeout.Builder[*common.JsonRpcResponse](d).Build(), nil
}

// TranslateFailsafeError maps the outcome of a failed legacy execution to one
// of the ErrLegacy* kinds. ctx is the caller context, used to tell a caller
// that went away apart from the legacy backend being slow.
func TranslateFailsafeError(ctx context.Context, execErr error, timeoutDuration time.Duration, endpoint string) error {
	if callerErr := ctx.Err(); callerErr != nil {
		if errors.Is(callerErr, context.DeadlineExceeded) {
			return common.NewErrLegacyTimeout(timeoutDuration, execErr)
		}
		return common.NewErrLegacyRequestCanceled(execErr)
	}

	switch {
	case errors.Is(execErr, timeout.ErrExceeded),
		common.HasErrorCode(execErr, common.ErrCodeEndpointRequestTimeout),
		// With the caller still waiting only the timeout policy cancels an attempt.
		common.HasErrorCode(execErr, common.ErrCodeEndpointRequestCanceled):
		return common.NewErrLegacyTimeout(timeoutDuration, execErr)
	case common.HasErrorCode(execErr, common.ErrCodeEndpointMalformedResponse):
		var details map[string]interface{}
		var se common.StandardError
		if errors.As(execErr, &se) {
			details = se.Base().Details
		}
		return common.NewErrLegacyMalformedResponse(execErr, details)
	default:
		return common.NewErrLegacyTransportFailure(endpoint, execErr)
	}
}
