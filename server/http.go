package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xlayer/rpcrouter/common"
	"github.com/xlayer/rpcrouter/pipeline"
	"github.com/xlayer/rpcrouter/util"
	"github.com/xlayer/rpcrouter/websocket"
)

const gzipMinResponseSize = 1024

type HttpServer struct {
	config     *common.ServerConfig
	server     *http.Server
	handler    *JsonRpcHandler
	ws         *websocket.Server
	maxTimeout time.Duration
	maxBody    int64
	logger     *zerolog.Logger
}

func NewHttpServer(ctx context.Context, logger *zerolog.Logger, cfg *common.ServerConfig, svc pipeline.Service) *HttpServer {
	lg := logger.With().Str("component", "httpServer").Logger()

	srv := &HttpServer{
		config:     cfg,
		handler:    NewJsonRpcHandler(&lg, svc),
		maxTimeout: cfg.MaxTimeout.WithDefault(common.DefaultServerMaxTimeout),
		maxBody:    int64(cfg.MaxBodySize),
		logger:     &lg,
	}
	if srv.maxBody <= 0 {
		srv.maxBody = common.DefaultMaxRequestBodyBytes
	}
	if cfg.Websocket != nil && cfg.Websocket.Enabled {
		srv.ws = websocket.NewServer(ctx, &lg, websocket.NewConfig(cfg.Websocket), srv.handleWebsocketMessage)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthcheck", srv.handleHealthCheck)
	mux.HandleFunc("/", srv.handleRequest)

	srv.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.HttpHost, fmt.Sprintf("%d", cfg.HttpPort)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout.Duration(),
		WriteTimeout:      cfg.WriteTimeout.Duration(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			lg.Error().Err(err).Msg("http server forced to shutdown")
		} else {
			lg.Info().Msg("http server stopped")
		}
	}()

	return srv
}

// Handler exposes the routing mux, mainly for tests.
func (s *HttpServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HttpServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *HttpServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	if s.ws != nil && websocket.IsWebSocketUpgrade(r) {
		_ = s.ws.Upgrade(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
	case http.MethodOptions:
		w.Header().Set("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		s.writeReply(w, r, http.StatusMethodNotAllowed, s.handler.encode(common.NewJsonRpcErrorResponse(
			common.NullID,
			common.JsonRpcErrorInvalidRequest,
			"only POST is supported",
			nil,
		)))
		return
	}

	ctx, span := common.StartHTTPServerSpan(r.Context(), r)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.maxTimeout)
	defer cancel()

	body, err := s.readBody(w, r)
	if err != nil {
		status := http.StatusBadRequest
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			status = http.StatusRequestEntityTooLarge
		}
		s.logger.Debug().Err(err).Msg("failed to read request body")
		s.writeReply(w, r, status, s.handler.encode(common.NewJsonRpcErrorResponseFromError(
			common.NullID,
			common.NewErrInvalidRequest(err),
		)))
		return
	}

	status, reply := s.handler.Handle(ctx, "http", body)
	s.writeReply(w, r, status, reply)
}

func (s *HttpServer) handleWebsocketMessage(ctx context.Context, message []byte) []byte {
	ctx, cancel := context.WithTimeout(ctx, s.maxTimeout)
	defer cancel()
	_, reply := s.handler.Handle(ctx, "websocket", message)
	return reply
}

func (s *HttpServer) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	var reader io.Reader = http.MaxBytesReader(w, r.Body, s.maxBody)
	if r.Header.Get("Content-Encoding") == "gzip" {
		gzReader, err := util.GzipReader(reader)
		if err != nil {
			return nil, fmt.Errorf("cannot create gzip reader: %w", err)
		}
		defer gzReader.Close()
		// The decompressed size is capped as well.
		reader = io.LimitReader(gzReader, s.maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > s.maxBody {
		return nil, &http.MaxBytesError{Limit: s.maxBody}
	}
	return body, nil
}

func (s *HttpServer) writeReply(w http.ResponseWriter, r *http.Request, status int, reply []byte) {
	if len(reply) == 0 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	if len(reply) >= gzipMinResponseSize && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		buf := util.BorrowBuf()
		defer util.ReturnBuf(buf)
		if err := util.GzipTo(buf, reply); err == nil {
			w.Header().Set("Content-Encoding", "gzip")
			reply = buf.Bytes()
		}
	}

	w.WriteHeader(status)
	if _, err := w.Write(reply); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write response")
	}
}

func (s *HttpServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting http server")
	return s.server.ListenAndServe()
}

// Serve accepts connections on an existing listener.
func (s *HttpServer) Serve(l net.Listener) error {
	s.logger.Info().Str("addr", l.Addr().String()).Msg("starting http server")
	return s.server.Serve(l)
}

func (s *HttpServer) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down http server")
	if s.ws != nil {
		s.ws.Shutdown()
	}
	return s.server.Shutdown(ctx)
}
