package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type ErrorCode string

type StandardError interface {
	error
	HasCode(codes ...ErrorCode) bool
	CodeChain() string
	GetCause() error
	Base() *BaseError
}

//
// Base Types
//

type BaseError struct {
	Code    ErrorCode              `json:"code,omitempty"`
	Message string                 `json:"message,omitempty"`
	Cause   error                  `json:"cause,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *BaseError) Unwrap() error {
	return e.Cause
}

func (e *BaseError) Error() string {
	var detailsStr string
	if len(e.Details) > 0 {
		s, err := SonicCfg.Marshal(e.Details)
		if err == nil {
			detailsStr = fmt.Sprintf(" (%s)", s)
		}
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s%s", e.Code, e.Message, detailsStr)
	}
	return fmt.Sprintf("%s: %s%s -> %s", e.Code, e.Message, detailsStr, e.Cause.Error())
}

func (e *BaseError) CodeChain() string {
	if e.Cause != nil {
		var se StandardError
		if errors.As(e.Cause, &se) {
			return fmt.Sprintf("%s <- %s", e.Code, se.CodeChain())
		}
	}

	return string(e.Code)
}

func (e *BaseError) HasCode(codes ...ErrorCode) bool {
	for _, code := range codes {
		if e.Code == code {
			return true
		}
	}

	if e.Cause != nil {
		var se StandardError
		if errors.As(e.Cause, &se) {
			return se.HasCode(codes...)
		}
	}

	return false
}

func (e *BaseError) GetCause() error {
	return e.Cause
}

func (e *BaseError) Base() *BaseError {
	return e
}

func (e BaseError) MarshalJSON() ([]byte, error) {
	type Alias BaseError
	cause := e.Cause
	var causeVal interface{}
	if cause != nil {
		var se StandardError
		if errors.As(cause, &se) {
			causeVal = se
		} else {
			causeVal = cause.Error()
		}
	}
	return SonicCfg.Marshal(&struct {
		Alias
		Cause interface{} `json:"cause,omitempty"`
	}{
		Alias: (Alias)(e),
		Cause: causeVal,
	})
}

type ErrorWithStatusCode interface {
	ErrorStatusCode() int
}

// ErrorWithJsonRpcCode is implemented by errors that are surfaced to callers
// as a JSON-RPC error object.
type ErrorWithJsonRpcCode interface {
	JsonRpcErrorCode() int
}

// HasErrorCode reports whether err (or any error in its cause chain) carries one of the codes.
func HasErrorCode(err error, codes ...ErrorCode) bool {
	if err == nil {
		return false
	}
	var se StandardError
	if errors.As(err, &se) {
		return se.HasCode(codes...)
	}
	return false
}

func ErrorSummary(err error) string {
	if err == nil {
		return ""
	}
	var se StandardError
	if errors.As(err, &se) {
		return se.CodeChain()
	}
	s := err.Error()
	if idx := strings.IndexByte(s, ':'); idx > 0 && idx < 64 {
		return s[:idx]
	}
	if len(s) > 64 {
		return s[:64]
	}
	return s
}

//
// JSON-RPC error codes
//

const (
	JsonRpcErrorParseException    = -32700
	JsonRpcErrorInvalidRequest    = -32600
	JsonRpcErrorMethodNotFound    = -32601
	JsonRpcErrorInvalidParams     = -32602
	JsonRpcErrorInternalException = -32603

	// Errors produced while serving a call from the legacy backend.
	// Each failure kind has its own code so that callers can tell them apart.
	JsonRpcErrorLegacyTimeout           = -32091
	JsonRpcErrorLegacyTransportFailure  = -32092
	JsonRpcErrorLegacyMalformedResponse = -32093
	JsonRpcErrorLegacyRequestCanceled   = -32094
)

//
// Configuration
//

const ErrCodeInvalidConfig ErrorCode = "ErrInvalidConfig"

type ErrInvalidConfig struct{ BaseError }

var NewErrInvalidConfig = func(message string) error {
	return &ErrInvalidConfig{
		BaseError{
			Code:    ErrCodeInvalidConfig,
			Message: message,
		},
	}
}

//
// Request handling
//

const ErrCodeInvalidRequest ErrorCode = "ErrInvalidRequest"

type ErrInvalidRequest struct{ BaseError }

var NewErrInvalidRequest = func(cause error) error {
	return &ErrInvalidRequest{
		BaseError{
			Code:    ErrCodeInvalidRequest,
			Message: "invalid request body or headers",
			Cause:   cause,
		},
	}
}

func (e *ErrInvalidRequest) ErrorStatusCode() int { return http.StatusBadRequest }
func (e *ErrInvalidRequest) JsonRpcErrorCode() int {
	var pe *ErrJsonParse
	if errors.As(e.Cause, &pe) {
		return JsonRpcErrorParseException
	}
	return JsonRpcErrorInvalidRequest
}

const ErrCodeJsonParse ErrorCode = "ErrJsonParse"

type ErrJsonParse struct{ BaseError }

var NewErrJsonParse = func(cause error) error {
	return &ErrJsonParse{
		BaseError{
			Code:    ErrCodeJsonParse,
			Message: "could not parse json payload",
			Cause:   cause,
		},
	}
}

func (e *ErrJsonParse) JsonRpcErrorCode() int { return JsonRpcErrorParseException }

const ErrCodeRequestTimeout ErrorCode = "ErrRequestTimeout"

type ErrRequestTimeout struct{ BaseError }

var NewErrRequestTimeout = func(timeout time.Duration) error {
	return &ErrRequestTimeout{
		BaseError{
			Code:    ErrCodeRequestTimeout,
			Message: "request timeout before any upstream could respond",
			Details: map[string]interface{}{
				"timeoutSeconds": timeout.Seconds(),
			},
		},
	}
}

func (e *ErrRequestTimeout) ErrorStatusCode() int  { return http.StatusGatewayTimeout }
func (e *ErrRequestTimeout) JsonRpcErrorCode() int { return JsonRpcErrorInternalException }

//
// Endpoints (any JSON-RPC backend reached over HTTP)
//

const (
	ErrCodeEndpointTransportFailure  ErrorCode = "ErrEndpointTransportFailure"
	ErrCodeEndpointRequestTimeout    ErrorCode = "ErrEndpointRequestTimeout"
	ErrCodeEndpointRequestCanceled   ErrorCode = "ErrEndpointRequestCanceled"
	ErrCodeEndpointMalformedResponse ErrorCode = "ErrEndpointMalformedResponse"
)

type ErrEndpointTransportFailure struct{ BaseError }

var NewErrEndpointTransportFailure = func(endpoint string, cause error, details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["endpoint"] = endpoint
	return &ErrEndpointTransportFailure{
		BaseError{
			Code:    ErrCodeEndpointTransportFailure,
			Message: "failure when sending request to endpoint",
			Cause:   cause,
			Details: details,
		},
	}
}

type ErrEndpointRequestTimeout struct{ BaseError }

var NewErrEndpointRequestTimeout = func(dur time.Duration, cause error) error {
	return &ErrEndpointRequestTimeout{
		BaseError{
			Code:    ErrCodeEndpointRequestTimeout,
			Message: "remote endpoint request timeout",
			Cause:   cause,
			Details: map[string]interface{}{
				"durationMs": dur.Milliseconds(),
			},
		},
	}
}

type ErrEndpointRequestCanceled struct{ BaseError }

var NewErrEndpointRequestCanceled = func(cause error) error {
	return &ErrEndpointRequestCanceled{
		BaseError{
			Code:    ErrCodeEndpointRequestCanceled,
			Message: "remote endpoint request canceled",
			Cause:   cause,
		},
	}
}

type ErrEndpointMalformedResponse struct{ BaseError }

var NewErrEndpointMalformedResponse = func(cause error, details map[string]interface{}) error {
	return &ErrEndpointMalformedResponse{
		BaseError{
			Code:    ErrCodeEndpointMalformedResponse,
			Message: "remote endpoint returned a malformed json-rpc response",
			Cause:   cause,
			Details: details,
		},
	}
}

//
// Legacy backend
//

const (
	ErrCodeLegacyTimeout           ErrorCode = "ErrLegacyTimeout"
	ErrCodeLegacyTransportFailure  ErrorCode = "ErrLegacyTransportFailure"
	ErrCodeLegacyMalformedResponse ErrorCode = "ErrLegacyMalformedResponse"
	ErrCodeLegacyRequestCanceled   ErrorCode = "ErrLegacyRequestCanceled"
)

type ErrLegacyTimeout struct{ BaseError }

var NewErrLegacyTimeout = func(timeout time.Duration, cause error) error {
	return &ErrLegacyTimeout{
		BaseError{
			Code:    ErrCodeLegacyTimeout,
			Message: "legacy rpc did not respond in time",
			Cause:   cause,
			Details: map[string]interface{}{
				"timeoutMs": timeout.Milliseconds(),
			},
		},
	}
}

func (e *ErrLegacyTimeout) ErrorStatusCode() int  { return http.StatusGatewayTimeout }
func (e *ErrLegacyTimeout) JsonRpcErrorCode() int { return JsonRpcErrorLegacyTimeout }

type ErrLegacyTransportFailure struct{ BaseError }

var NewErrLegacyTransportFailure = func(endpoint string, cause error) error {
	return &ErrLegacyTransportFailure{
		BaseError{
			Code:    ErrCodeLegacyTransportFailure,
			Message: "failure when sending request to legacy rpc",
			Cause:   cause,
			Details: map[string]interface{}{
				"endpoint": endpoint,
			},
		},
	}
}

func (e *ErrLegacyTransportFailure) ErrorStatusCode() int  { return http.StatusBadGateway }
func (e *ErrLegacyTransportFailure) JsonRpcErrorCode() int { return JsonRpcErrorLegacyTransportFailure }

type ErrLegacyMalformedResponse struct{ BaseError }

var NewErrLegacyMalformedResponse = func(cause error, details map[string]interface{}) error {
	return &ErrLegacyMalformedResponse{
		BaseError{
			Code:    ErrCodeLegacyMalformedResponse,
			Message: "legacy rpc returned a malformed json-rpc response",
			Cause:   cause,
			Details: details,
		},
	}
}

func (e *ErrLegacyMalformedResponse) ErrorStatusCode() int { return http.StatusBadGateway }
func (e *ErrLegacyMalformedResponse) JsonRpcErrorCode() int {
	return JsonRpcErrorLegacyMalformedResponse
}

type ErrLegacyRequestCanceled struct{ BaseError }

var NewErrLegacyRequestCanceled = func(cause error) error {
	return &ErrLegacyRequestCanceled{
		BaseError{
			Code:    ErrCodeLegacyRequestCanceled,
			Message: "request to legacy rpc was canceled by the caller",
			Cause:   cause,
		},
	}
}

func (e *ErrLegacyRequestCanceled) JsonRpcErrorCode() int { return JsonRpcErrorLegacyRequestCanceled }

//
// Local node
//

const ErrCodeLocalDispatch ErrorCode = "ErrLocalDispatch"

type ErrLocalDispatch struct{ BaseError }

var NewErrLocalDispatch = func(endpoint string, cause error) error {
	return &ErrLocalDispatch{
		BaseError{
			Code:    ErrCodeLocalDispatch,
			Message: "failed to dispatch request to local node",
			Cause:   cause,
			Details: map[string]interface{}{
				"endpoint": endpoint,
			},
		},
	}
}

func (e *ErrLocalDispatch) JsonRpcErrorCode() int { return JsonRpcErrorInternalException }

//
// Cache
//

const ErrCodeRecordNotFound ErrorCode = "ErrRecordNotFound"

type ErrRecordNotFound struct{ BaseError }

var NewErrRecordNotFound = func(key string, driver string) error {
	return &ErrRecordNotFound{
		BaseError{
			Code:    ErrCodeRecordNotFound,
			Message: "record not found",
			Details: map[string]interface{}{
				"key":    key,
				"driver": driver,
			},
		},
	}
}

// JsonRpcErrorCodeOf returns the JSON-RPC code an error should be surfaced with.
func JsonRpcErrorCodeOf(err error) int {
	var jc ErrorWithJsonRpcCode
	if errors.As(err, &jc) {
		return jc.JsonRpcErrorCode()
	}
	return JsonRpcErrorInternalException
}
