package websocket

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Connection represents a single WebSocket client connection. Messages are
// served concurrently; a single writer goroutine owns all writes.
type Connection struct {
	id      string
	conn    *websocket.Conn
	manager *ConnectionManager
	config  *Config
	handle  HandleFunc

	ctx      context.Context
	cancel   context.CancelFunc
	inflight chan struct{}
	handlers sync.WaitGroup

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *zerolog.Logger
}

// NewConnection creates a new WebSocket connection
func NewConnection(
	ctx context.Context,
	conn *websocket.Conn,
	manager *ConnectionManager,
	handle HandleFunc,
	logger *zerolog.Logger,
	config *Config,
) *Connection {
	id := generateConnectionId()

	lg := logger.With().
		Str("component", "wsConnection").
		Str("connId", id).
		Logger()

	ctx, cancel := context.WithCancel(ctx)
	return &Connection{
		id:       id,
		conn:     conn,
		manager:  manager,
		config:   config,
		handle:   handle,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(chan struct{}, config.MaxInflight),
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
		logger:   &lg,
	}
}

// ID returns the connection ID
func (c *Connection) ID() string {
	return c.id
}

// Start serves the connection until the client goes away. It blocks.
func (c *Connection) Start() {
	defer c.manager.RemoveConnection(c)

	go c.writer()
	c.reader()

	// In-flight calls of a closed connection have nobody to answer to.
	c.cancel()
	close(c.done)
	c.handlers.Wait()
}

func (c *Connection) reader() {
	c.conn.SetReadLimit(c.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read error")
			} else {
				c.logger.Debug().Err(err).Msg("websocket connection closed")
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		select {
		case c.inflight <- struct{}{}:
		case <-c.ctx.Done():
			return
		}
		c.handlers.Add(1)
		go func(msg []byte) {
			defer func() {
				<-c.inflight
				c.handlers.Done()
			}()
			if reply := c.handle(c.ctx, msg); reply != nil {
				c.enqueue(reply)
			}
		}(message)
	}
}

func (c *Connection) writer() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug().Err(err).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("failed to write ping")
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *Connection) enqueue(message []byte) {
	select {
	case c.send <- message:
	case <-c.done:
	}
}

// Close asks the client to go away and drops the socket. Start returns once
// every in-flight call has observed the cancellation.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.logger.Debug().Msg("closing websocket connection")
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second),
		)
		c.cancel()
		c.conn.Close()
	})
}

func generateConnectionId() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
