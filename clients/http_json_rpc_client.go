package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/xlayer/rpcrouter/common"
	"github.com/xlayer/rpcrouter/util"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxResponseSize = 128 * 1024 * 1024

type HttpJsonRpcClient interface {
	SendRequest(ctx context.Context, req *common.JsonRpcRequest) (*common.JsonRpcResponse, error)
	SendBatch(ctx context.Context, reqs []*common.JsonRpcRequest) ([]*common.JsonRpcResponse, error)
	SendNotification(ctx context.Context, req *common.JsonRpcRequest) error
}

type ClientOptions struct {
	// Name identifies the backend in logs and spans, e.g. "legacy" or "local".
	Name            string
	Headers         map[string]string
	EnableGzip      bool
	MaxResponseSize int64
}

// GenericHttpJsonRpcClient sends JSON-RPC payloads as HTTP POST requests. It
// does no retries and relies on ctx for deadlines and cancellation.
type GenericHttpJsonRpcClient struct {
	Url *url.URL

	name            string
	headers         map[string]string
	enableGzip      bool
	maxResponseSize int64

	logger          *zerolog.Logger
	httpClient      *http.Client
	isLogLevelTrace bool
}

var _ HttpJsonRpcClient = (*GenericHttpJsonRpcClient)(nil)

func NewGenericHttpJsonRpcClient(logger *zerolog.Logger, endpoint string, opts *ClientOptions) (*GenericHttpJsonRpcClient, error) {
	parsedUrl, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsedUrl.Scheme != "http" && parsedUrl.Scheme != "https" {
		return nil, fmt.Errorf("unsupported endpoint scheme '%s'", parsedUrl.Scheme)
	}
	if opts == nil {
		opts = &ClientOptions{}
	}

	lg := logger.With().Str("component", "httpClient").Str("backend", opts.Name).Logger()
	client := &GenericHttpJsonRpcClient{
		Url:             parsedUrl,
		name:            opts.Name,
		headers:         opts.Headers,
		enableGzip:      opts.EnableGzip,
		maxResponseSize: opts.MaxResponseSize,
		logger:          &lg,
		isLogLevelTrace: lg.GetLevel() == zerolog.TraceLevel,
	}
	if client.maxResponseSize <= 0 {
		client.maxResponseSize = defaultMaxResponseSize
	}

	if util.IsTest() {
		client.httpClient = &http.Client{}
	} else {
		client.httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        1024,
				MaxIdleConnsPerHost: 256,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return client, nil
}

func (c *GenericHttpJsonRpcClient) SendRequest(ctx context.Context, req *common.JsonRpcRequest) (*common.JsonRpcResponse, error) {
	ctx, span := common.StartSpan(ctx, "HttpJsonRpcClient.SendRequest",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("backend", c.name),
			attribute.String("request.method", req.Method),
		),
	)
	defer span.End()

	requestBody, err := common.SonicCfg.Marshal(req)
	if err != nil {
		common.SetTraceSpanError(span, err)
		return nil, err
	}

	resp, body, err := c.post(ctx, requestBody)
	if err != nil {
		common.SetTraceSpanError(span, err)
		return nil, err
	}

	jrr, err := common.ParseJsonRpcResponse(body)
	if err != nil {
		err = c.badBody(resp, body, err)
		common.SetTraceSpanError(span, err)
		return nil, err
	}
	if !common.IDsEqual(jrr.ID, req.ID) {
		err = common.NewErrEndpointMalformedResponse(
			errors.New("response id does not match request id"),
			map[string]interface{}{
				"requestId":  string(req.ID),
				"responseId": string(jrr.ID),
			},
		)
		common.SetTraceSpanError(span, err)
		return nil, err
	}

	if c.isLogLevelTrace {
		c.logger.Trace().Int("statusCode", resp.StatusCode).Object("response", jrr).Msg("received json rpc response")
	}
	return jrr, nil
}

// SendBatch sends reqs as one JSON-RPC batch. The result has one entry per
// non-notification request, in order. Entries the backend did not answer are nil.
func (c *GenericHttpJsonRpcClient) SendBatch(ctx context.Context, reqs []*common.JsonRpcRequest) ([]*common.JsonRpcResponse, error) {
	ctx, span := common.StartSpan(ctx, "HttpJsonRpcClient.SendBatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("backend", c.name),
			attribute.Int("batch.size", len(reqs)),
		),
	)
	defer span.End()

	requestBody, err := common.SonicCfg.Marshal(reqs)
	if err != nil {
		common.SetTraceSpanError(span, err)
		return nil, err
	}

	resp, body, err := c.post(ctx, requestBody)
	if err != nil {
		common.SetTraceSpanError(span, err)
		return nil, err
	}

	calls := make([]*common.JsonRpcRequest, 0, len(reqs))
	for _, req := range reqs {
		if !req.IsNotification() {
			calls = append(calls, req)
		}
	}
	if len(calls) == 0 {
		return []*common.JsonRpcResponse{}, nil
	}

	switch firstNonSpace(body) {
	case '[':
		jrrs, err := common.ParseJsonRpcBatchResponse(body)
		if err != nil {
			err = c.badBody(resp, body, err)
			common.SetTraceSpanError(span, err)
			return nil, err
		}
		return matchBatchResponses(c.logger, calls, jrrs), nil

	case '{':
		// A single object answers the whole batch, usually an error such as a rate limit.
		jrr, err := common.ParseJsonRpcResponse(body)
		if err != nil {
			err = c.badBody(resp, body, err)
			common.SetTraceSpanError(span, err)
			return nil, err
		}
		if !jrr.IsError() {
			err = common.NewErrEndpointMalformedResponse(errors.New("single result returned for a batch request"), nil)
			common.SetTraceSpanError(span, err)
			return nil, err
		}
		out := make([]*common.JsonRpcResponse, len(calls))
		for i, req := range calls {
			out[i] = jrr.WithID(req.ID)
		}
		return out, nil

	default:
		err = c.badBody(resp, body, errors.New("batch response is neither an array nor an object"))
		common.SetTraceSpanError(span, err)
		return nil, err
	}
}

// SendNotification posts req and discards whatever the backend answers.
func (c *GenericHttpJsonRpcClient) SendNotification(ctx context.Context, req *common.JsonRpcRequest) error {
	requestBody, err := common.SonicCfg.Marshal(req)
	if err != nil {
		return err
	}
	_, _, err = c.post(ctx, requestBody)
	return err
}

func (c *GenericHttpJsonRpcClient) post(ctx context.Context, requestBody []byte) (*http.Response, []byte, error) {
	httpReq, release, err := c.prepareRequest(ctx, requestBody)
	defer release()
	if err != nil {
		return nil, nil, &common.BaseError{
			Code:    "ErrHttp",
			Message: fmt.Sprintf("%v", err),
			Details: map[string]interface{}{
				"url": util.RedactEndpoint(c.Url.String()),
			},
		}
	}
	if c.isLogLevelTrace {
		c.logger.Trace().Str("host", c.Url.Host).RawJSON("request", requestBody).Msg("sending json rpc POST request")
	}

	reqStartTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cause := context.Cause(ctx)
		if cause == nil {
			cause = ctx.Err()
		}
		c.logger.Debug().Err(err).AnErr("contextError", cause).Msg("transport failure while sending request")
		if cause != nil {
			err = cause
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, common.NewErrEndpointRequestTimeout(time.Since(reqStartTime), err)
		} else if errors.Is(err, context.Canceled) {
			return nil, nil, common.NewErrEndpointRequestCanceled(err)
		}
		return nil, nil, common.NewErrEndpointTransportFailure(util.RedactEndpoint(c.Url.String()), err, nil)
	}

	body, err := c.readResponseBody(resp)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, nil, common.NewErrEndpointRequestTimeout(time.Since(reqStartTime), ctxErr)
			}
			return nil, nil, common.NewErrEndpointRequestCanceled(ctxErr)
		}
		return nil, nil, err
	}
	return resp, body, nil
}

// prepareRequest builds the POST request. The returned release func hands
// the pooled compression buffer back once the request has been sent.
func (c *GenericHttpJsonRpcClient) prepareRequest(ctx context.Context, body []byte) (*http.Request, func(), error) {
	var bodyReader io.Reader = bytes.NewReader(body)
	release := func() {}

	if c.enableGzip {
		buf := util.BorrowBuf()
		if err := util.GzipTo(buf, body); err != nil {
			util.ReturnBuf(buf)
			return nil, release, err
		}
		bodyReader = bytes.NewReader(buf.Bytes())
		release = func() { util.ReturnBuf(buf) }
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Url.String(), bodyReader)
	if err != nil {
		release()
		return nil, func() {}, err
	}

	httpReq.Header.Set("Accept-Encoding", "gzip")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", fmt.Sprintf("rpcrouter/%s (%s)", common.Version, common.CommitSha))
	if c.enableGzip {
		httpReq.Header.Set("Content-Encoding", "gzip")
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	common.InjectHTTPRequestTraceContext(ctx, httpReq)

	return httpReq, release, nil
}

func (c *GenericHttpJsonRpcClient) readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzReader, err := util.GzipReader(resp.Body)
		if err != nil {
			return nil, common.NewErrEndpointTransportFailure(
				util.RedactEndpoint(c.Url.String()),
				fmt.Errorf("cannot create gzip reader: %w", err),
				util.ExtractUsefulHeaders(resp),
			)
		}
		defer gzReader.Close()
		reader = gzReader
	}

	body, err := io.ReadAll(io.LimitReader(reader, c.maxResponseSize+1))
	if err != nil {
		return nil, common.NewErrEndpointTransportFailure(
			util.RedactEndpoint(c.Url.String()),
			fmt.Errorf("cannot read response body: %w", err),
			util.ExtractUsefulHeaders(resp),
		)
	}
	if int64(len(body)) > c.maxResponseSize {
		return nil, common.NewErrEndpointMalformedResponse(
			fmt.Errorf("response body exceeds %d bytes", c.maxResponseSize),
			util.ExtractUsefulHeaders(resp),
		)
	}
	return body, nil
}

// badBody classifies a body that is not a JSON-RPC response. A non-2xx
// status means the backend (or something in front of it) failed to serve
// the call at all, otherwise the backend answered with garbage.
func (c *GenericHttpJsonRpcClient) badBody(resp *http.Response, body []byte, cause error) error {
	details := util.ExtractUsefulHeaders(resp)
	details["statusCode"] = resp.StatusCode
	details["body"] = util.Truncate(string(body), 256)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return common.NewErrEndpointTransportFailure(
			util.RedactEndpoint(c.Url.String()),
			fmt.Errorf("unexpected http status %d: %w", resp.StatusCode, cause),
			details,
		)
	}
	return common.NewErrEndpointMalformedResponse(cause, details)
}

func matchBatchResponses(logger *zerolog.Logger, calls []*common.JsonRpcRequest, jrrs []*common.JsonRpcResponse) []*common.JsonRpcResponse {
	out := make([]*common.JsonRpcResponse, len(calls))
	used := make([]bool, len(jrrs))
	for i, req := range calls {
		for j, jrr := range jrrs {
			if used[j] || !common.IDsEqual(jrr.ID, req.ID) {
				continue
			}
			out[i] = jrr
			used[j] = true
			break
		}
	}
	for j, jrr := range jrrs {
		if !used[j] {
			logger.Warn().RawJSON("id", jrr.ID).Msg("unexpected batch response received with unknown id")
		}
	}
	return out
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}
