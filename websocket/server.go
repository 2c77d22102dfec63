package websocket

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server upgrades HTTP requests and serves JSON-RPC over the resulting connections.
type Server struct {
	appCtx   context.Context
	config   *Config
	upgrader websocket.Upgrader
	manager  *ConnectionManager
	handle   HandleFunc
	logger   *zerolog.Logger
}

func NewServer(appCtx context.Context, logger *zerolog.Logger, config *Config, handle HandleFunc) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	lg := logger.With().Str("component", "wsServer").Logger()

	return &Server{
		appCtx: appCtx,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		manager: NewConnectionManager(&lg),
		handle:  handle,
		logger:  &lg,
	}
}

// IsWebSocketUpgrade checks if the HTTP request is a WebSocket upgrade request
func IsWebSocketUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// Upgrade takes over the HTTP connection. The connection is served in the
// background and outlives the request; it is bound to the server's context.
func (s *Server) Upgrade(w http.ResponseWriter, r *http.Request) error {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("failed to upgrade connection")
		return err
	}

	wsConn := NewConnection(s.appCtx, conn, s.manager, s.handle, s.logger, s.config)
	s.manager.AddConnection(wsConn)

	s.logger.Debug().
		Str("connId", wsConn.ID()).
		Str("remoteAddr", r.RemoteAddr).
		Msg("websocket connection established")

	go wsConn.Start()
	return nil
}

func (s *Server) ConnectionCount() int {
	return s.manager.ConnectionCount()
}

// Shutdown closes all open connections.
func (s *Server) Shutdown() {
	s.manager.Shutdown()
}
