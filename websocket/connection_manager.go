package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/xlayer/rpcrouter/telemetry"
)

// ConnectionManager tracks open connections so they can be closed on shutdown.
type ConnectionManager struct {
	connections sync.Map // *Connection → bool
	connCount   atomic.Int32
	logger      *zerolog.Logger
}

func NewConnectionManager(logger *zerolog.Logger) *ConnectionManager {
	lg := logger.With().Str("component", "wsConnectionManager").Logger()
	return &ConnectionManager{logger: &lg}
}

// AddConnection registers a new connection
func (cm *ConnectionManager) AddConnection(conn *Connection) {
	cm.connections.Store(conn, true)
	cm.connCount.Add(1)
	telemetry.MetricWebsocketConnectionsActive.Inc()

	cm.logger.Debug().
		Str("connId", conn.ID()).
		Int("totalConnections", int(cm.connCount.Load())).
		Msg("connection added")
}

// RemoveConnection unregisters a connection
func (cm *ConnectionManager) RemoveConnection(conn *Connection) {
	if _, loaded := cm.connections.LoadAndDelete(conn); !loaded {
		return
	}
	cm.connCount.Add(-1)
	telemetry.MetricWebsocketConnectionsActive.Dec()

	cm.logger.Debug().
		Str("connId", conn.ID()).
		Int("totalConnections", int(cm.connCount.Load())).
		Msg("connection removed")
}

// ConnectionCount returns the current number of active connections
func (cm *ConnectionManager) ConnectionCount() int {
	return int(cm.connCount.Load())
}

// Shutdown closes every connection and waits (bounded) for them to finish.
func (cm *ConnectionManager) Shutdown() {
	cm.logger.Info().Int("connections", cm.ConnectionCount()).Msg("shutting down websocket connections")

	var wg sync.WaitGroup
	cm.connections.Range(func(key, value interface{}) bool {
		conn := key.(*Connection)
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.Close()
		}()
		return true
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cm.logger.Info().Msg("all websocket connections closed")
	case <-time.After(5 * time.Second):
		cm.logger.Warn().Msg("timeout waiting for websocket connections to close")
	}
}
