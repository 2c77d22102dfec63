package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/h2non/gock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xlayer/rpcrouter/common"
	"github.com/xlayer/rpcrouter/data"
	"github.com/xlayer/rpcrouter/telemetry"
	"github.com/xlayer/rpcrouter/util"
)

func init() {
	util.ConfigureTestLogger()
}

const legacyEndpoint = "http://legacy.localhost:8545/"

func newTestForwarder(t *testing.T, endpoint string, timeout time.Duration, cache data.Connector, legacyCfg *common.LegacyConfig) *LegacyForwarder {
	t.Helper()
	cfg := &common.RouterConfig{
		Enabled:        true,
		LegacyEndpoint: endpoint,
		CutoffBlock:    100,
		Timeout:        timeout,
	}
	f, err := NewLegacyForwarder(&log.Logger, cfg, legacyCfg, cache)
	require.NoError(t, err)
	return f
}

func request(t *testing.T, body string) *common.JsonRpcRequest {
	t.Helper()
	payload, err := common.ParseJsonRpcPayload([]byte(body))
	require.NoError(t, err)
	require.Len(t, payload.Requests, 1)
	return payload.Requests[0]
}

func TestNewLegacyForwarder_RequiresEndpoint(t *testing.T) {
	_, err := NewLegacyForwarder(&log.Logger, &common.RouterConfig{Enabled: true}, nil, nil)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidConfig))

	_, err = NewLegacyForwarder(&log.Logger, &common.RouterConfig{Enabled: true, LegacyEndpoint: "ws://legacy.localhost"}, nil, nil)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidConfig))
}

func TestLegacyForwarder_Replies(t *testing.T) {
	t.Run("ResultIsReturnedVerbatim", func(t *testing.T) {
		util.ResetGock()
		defer util.ResetGock()

		gock.New("http://legacy.localhost:8545").
			Post("/").
			BodyString(`"method":"eth_getBalance"`).
			Reply(200).
			BodyString(`{"jsonrpc":"2.0","id":7,"result":"0x1bc16d674ec80000"}`)

		before := testutil.ToFloat64(telemetry.MetricLegacyRequestTotal.WithLabelValues("eth_getBalance"))

		f := newTestForwarder(t, legacyEndpoint, time.Second, nil, nil)
		resp, err := f.Forward(context.Background(), request(t, `{"jsonrpc":"2.0","id":7,"method":"eth_getBalance","params":["0x00000000219ab540356cBB839Cbe05303d7705Fa","0x5"]}`))

		require.NoError(t, err)
		assert.Equal(t, "7", string(resp.ID))
		assert.Equal(t, `"0x1bc16d674ec80000"`, string(resp.Result))
		assert.True(t, gock.IsDone())
		assert.Equal(t, before+1, testutil.ToFloat64(telemetry.MetricLegacyRequestTotal.WithLabelValues("eth_getBalance")))
	})

	t.Run("BackendErrorIsPassedThrough", func(t *testing.T) {
		util.ResetGock()
		defer util.ResetGock()

		gock.New("http://legacy.localhost:8545").
			Post("/").
			Reply(200).
			BodyString(`{"jsonrpc":"2.0","id":"abc","error":{"code":-32000,"message":"header not found"}}`)

		f := newTestForwarder(t, legacyEndpoint, time.Second, nil, nil)
		resp, err := f.Forward(context.Background(), request(t, `{"jsonrpc":"2.0","id":"abc","method":"eth_getBlockByNumber","params":["0x5",false]}`))

		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32000, resp.Error.Code)
		assert.Equal(t, "header not found", resp.Error.Message)
		assert.Equal(t, `"abc"`, string(resp.ID))
	})

	t.Run("GarbageBodyIsMalformed", func(t *testing.T) {
		util.ResetGock()
		defer util.ResetGock()

		gock.New("http://legacy.localhost:8545").
			Post("/").
			Reply(200).
			BodyString(`this is not json`)

		f := newTestForwarder(t, legacyEndpoint, time.Second, nil, nil)
		_, err := f.Forward(context.Background(), request(t, `{"jsonrpc":"2.0","id":1,"method":"eth_getCode","params":["0x00000000219ab540356cBB839Cbe05303d7705Fa","0x5"]}`))

		require.Error(t, err)
		assert.True(t, common.HasErrorCode(err, common.ErrCodeLegacyMalformedResponse))
		assert.Equal(t, common.JsonRpcErrorLegacyMalformedResponse, common.JsonRpcErrorCodeOf(err))
	})

	t.Run("MismatchedIdIsMalformed", func(t *testing.T) {
		util.ResetGock()
		defer util.ResetGock()

		gock.New("http://legacy.localhost:8545").
			Post("/").
			Reply(200).
			BodyString(`{"jsonrpc":"2.0","id":2,"result":"0x0"}`)

		f := newTestForwarder(t, legacyEndpoint, time.Second, nil, nil)
		_, err := f.Forward(context.Background(), request(t, `{"jsonrpc":"2.0","id":1,"method":"eth_getTransactionCount","params":["0x00000000219ab540356cBB839Cbe05303d7705Fa","0x5"]}`))

		assert.True(t, common.HasErrorCode(err, common.ErrCodeLegacyMalformedResponse))
	})

	t.Run("GatewayErrorIsTransportFailure", func(t *testing.T) {
		util.ResetGock()
		defer util.ResetGock()

		gock.New("http://legacy.localhost:8545").
			Post("/").
			Reply(502).
			BodyString(`<html>bad gateway</html>`)

		f := newTestForwarder(t, legacyEndpoint, time.Second, nil, nil)
		_, err := f.Forward(context.Background(), request(t, `{"jsonrpc":"2.0","id":1,"method":"eth_call","params":[{"to":"0x00000000219ab540356cBB839Cbe05303d7705Fa"},"0x5"]}`))

		assert.True(t, common.HasErrorCode(err, common.ErrCodeLegacyTransportFailure))
		assert.Equal(t, common.JsonRpcErrorLegacyTransportFailure, common.JsonRpcErrorCodeOf(err))
	})
}

func TestLegacyForwarder_TransportFailures(t *testing.T) {
	util.ResetGock()
	defer util.ResetGock()

	t.Run("ConnectionRefused", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		endpoint := srv.URL + "/"
		srv.Close()

		f := newTestForwarder(t, endpoint, time.Second, nil, nil)
		_, err := f.Forward(context.Background(), request(t, `{"jsonrpc":"2.0","id":1,"method":"eth_getBalance","params":["0x00000000219ab540356cBB839Cbe05303d7705Fa","0x5"]}`))

		require.Error(t, err)
		assert.True(t, common.HasErrorCode(err, common.ErrCodeLegacyTransportFailure))
		assert.NotContains(t, err.Error(), "ErrLegacyTimeout")
	})

	t.Run("TimeoutBoundsTheCall", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}))
		defer srv.Close()

		timeout := 200 * time.Millisecond
		f := newTestForwarder(t, srv.URL+"/", timeout, nil, nil)

		start := time.Now()
		_, err := f.Forward(context.Background(), request(t, `{"jsonrpc":"2.0","id":1,"method":"eth_getBalance","params":["0x00000000219ab540356cBB839Cbe05303d7705Fa","0x5"]}`))
		elapsed := time.Since(start)

		require.Error(t, err)
		assert.True(t, common.HasErrorCode(err, common.ErrCodeLegacyTimeout))
		assert.Equal(t, common.JsonRpcErrorLegacyTimeout, common.JsonRpcErrorCodeOf(err))
		assert.Less(t, elapsed, timeout+time.Second)
	})

	t.Run("CallerCancellation", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}))
		defer srv.Close()

		f := newTestForwarder(t, srv.URL+"/", 5*time.Second, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(100*time.Millisecond, cancel)

		start := time.Now()
		_, err := f.Forward(ctx, request(t, `{"jsonrpc":"2.0","id":1,"method":"eth_getBalance","params":["0x00000000219ab540356cBB839Cbe05303d7705Fa","0x5"]}`))

		require.Error(t, err)
		assert.True(t, common.HasErrorCode(err, common.ErrCodeLegacyRequestCanceled))
		assert.Equal(t, common.JsonRpcErrorLegacyRequestCanceled, common.JsonRpcErrorCodeOf(err))
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("CallerDeadlineCountsAsTimeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}))
		defer srv.Close()

		f := newTestForwarder(t, srv.URL+"/", 5*time.Second, nil, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := f.Forward(ctx, request(t, `{"jsonrpc":"2.0","id":1,"method":"eth_getBalance","params":["0x00000000219ab540356cBB839Cbe05303d7705Fa","0x5"]}`))
		assert.True(t, common.HasErrorCode(err, common.ErrCodeLegacyTimeout))
	})
}

func TestLegacyForwarder_Cache(t *testing.T) {
	ttlCfg := &common.LegacyConfig{Cache: &common.CacheConfig{Driver: common.CacheDriverMemory, TTL: common.Duration(time.Minute)}}

	t.Run("MemoryHitServesNewId", func(t *testing.T) {
		util.ResetGock()
		defer util.ResetGock()

		gock.New("http://legacy.localhost:8545").
			Post("/").
			Times(1).
			Reply(200).
			BodyString(`{"jsonrpc":"2.0","id":1,"result":"0x6080"}`)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mem, err := data.NewMemoryConnector(ctx, &log.Logger, nil)
		require.NoError(t, err)

		f := newTestForwarder(t, legacyEndpoint, time.Second, mem, ttlCfg)

		first, err := f.Forward(ctx, request(t, `{"jsonrpc":"2.0","id":1,"method":"eth_getCode","params":["0x00000000219ab540356cBB839Cbe05303d7705Fa", "0x5"]}`))
		require.NoError(t, err)
		assert.Equal(t, `"0x6080"`, string(first.Result))
		mem.Wait()

		second, err := f.Forward(ctx, request(t, `{"jsonrpc":"2.0","id":"second","method":"eth_getCode","params":["0x00000000219ab540356cBB839Cbe05303d7705Fa","0x5"]}`))
		require.NoError(t, err)
		assert.Equal(t, `"second"`, string(second.ID))
		assert.Equal(t, `"0x6080"`, string(second.Result))
		assert.True(t, gock.IsDone())
	})

	t.Run("NullAndErrorsAreNotCached", func(t *testing.T) {
		util.ResetGock()
		defer util.ResetGock()

		gock.New("http://legacy.localhost:8545").
			Post("/").
			Reply(200).
			BodyString(`{"jsonrpc":"2.0","id":1,"result":null}`)
		gock.New("http://legacy.localhost:8545").
			Post("/").
			Reply(200).
			BodyString(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"missing trie node"}}`)
		gock.New("http://legacy.localhost:8545").
			Post("/").
			Reply(200).
			BodyString(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mem, err := data.NewMemoryConnector(ctx, &log.Logger, nil)
		require.NoError(t, err)

		f := newTestForwarder(t, legacyEndpoint, time.Second, mem, ttlCfg)
		body := `{"jsonrpc":"2.0","id":1,"method":"eth_getTransactionByHash","params":["0x0a"]}`

		resp, err := f.Forward(ctx, request(t, body))
		require.NoError(t, err)
		assert.Equal(t, "null", string(resp.Result))
		mem.Wait()

		resp, err = f.Forward(ctx, request(t, body))
		require.NoError(t, err)
		assert.True(t, resp.IsError())
		mem.Wait()

		resp, err = f.Forward(ctx, request(t, body))
		require.NoError(t, err)
		assert.Equal(t, `"0x1"`, string(resp.Result))
		assert.True(t, gock.IsDone())
	})

	t.Run("EmptyishResultsAreNotCached", func(t *testing.T) {
		util.ResetGock()
		defer util.ResetGock()

		gock.New("http://legacy.localhost:8545").
			Post("/").
			Reply(200).
			BodyString(`{"jsonrpc":"2.0","id":1,"result":"0x"}`)
		gock.New("http://legacy.localhost:8545").
			Post("/").
			Reply(200).
			BodyString(`{"jsonrpc":"2.0","id":1,"result":[]}`)
		gock.New("http://legacy.localhost:8545").
			Post("/").
			Reply(200).
			BodyString(`{"jsonrpc":"2.0","id":1,"result":"0x6080"}`)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mem, err := data.NewMemoryConnector(ctx, &log.Logger, nil)
		require.NoError(t, err)

		f := newTestForwarder(t, legacyEndpoint, time.Second, mem, ttlCfg)
		body := `{"jsonrpc":"2.0","id":1,"method":"eth_getCode","params":["0x00000000219ab540356cBB839Cbe05303d7705Fa","0x5"]}`

		resp, err := f.Forward(ctx, request(t, body))
		require.NoError(t, err)
		assert.Equal(t, `"0x"`, string(resp.Result))
		mem.Wait()

		resp, err = f.Forward(ctx, request(t, body))
		require.NoError(t, err)
		assert.Equal(t, `[]`, string(resp.Result))
		mem.Wait()

		resp, err = f.Forward(ctx, request(t, body))
		require.NoError(t, err)
		assert.Equal(t, `"0x6080"`, string(resp.Result))
		assert.True(t, gock.IsDone())
	})

	t.Run("RedisHit", func(t *testing.T) {
		util.ResetGock()
		defer util.ResetGock()

		gock.New("http://legacy.localhost:8545").
			Post("/").
			Times(1).
			Reply(200).
			BodyString(`{"jsonrpc":"2.0","id":1,"result":"0x2a"}`)

		mr := miniredis.RunT(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		rc, err := data.NewRedisConnector(ctx, &log.Logger, &common.RedisConnectorConfig{Addr: mr.Addr(), KeyPrefix: "legacy"})
		require.NoError(t, err)

		f := newTestForwarder(t, legacyEndpoint, time.Second, rc, ttlCfg)
		body := `{"jsonrpc":"2.0","id":1,"method":"eth_getStorageAt","params":["0x00000000219ab540356cBB839Cbe05303d7705Fa","0x0","0x5"]}`

		_, err = f.Forward(ctx, request(t, body))
		require.NoError(t, err)
		assert.Len(t, mr.Keys(), 1)

		resp, err := f.Forward(ctx, request(t, body))
		require.NoError(t, err)
		assert.Equal(t, `"0x2a"`, string(resp.Result))
		assert.True(t, gock.IsDone())
	})

	t.Run("UnreachableCacheIsIgnored", func(t *testing.T) {
		util.ResetGock()
		defer util.ResetGock()

		gock.New("http://legacy.localhost:8545").
			Post("/").
			Times(2).
			Reply(200).
			BodyString(`{"jsonrpc":"2.0","id":1,"result":"0x2a"}`)

		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		rc, err := data.NewRedisConnector(ctx, &log.Logger, &common.RedisConnectorConfig{Addr: addr, GetTimeout: common.Duration(100 * time.Millisecond)})
		require.NoError(t, err)

		f := newTestForwarder(t, legacyEndpoint, time.Second, rc, ttlCfg)
		body := `{"jsonrpc":"2.0","id":1,"method":"eth_getBalance","params":["0x00000000219ab540356cBB839Cbe05303d7705Fa","0x5"]}`

		for i := 0; i < 2; i++ {
			resp, err := f.Forward(ctx, request(t, body))
			require.NoError(t, err)
			assert.Equal(t, `"0x2a"`, string(resp.Result))
		}
		assert.True(t, gock.IsDone())
	})
}
