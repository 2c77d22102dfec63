package websocket

import (
	"time"

	"github.com/xlayer/rpcrouter/common"
)

// Config holds WebSocket-specific configuration
type Config struct {
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	MaxInflight     int
}

// DefaultConfig returns default WebSocket configuration
func DefaultConfig() *Config {
	return &Config{
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageSize:  common.DefaultMaxRequestBodyBytes,
		MaxInflight:     256,
	}
}

// NewConfig fills the zero fields of cfg with defaults. The pong timeout is
// always twice the ping interval.
func NewConfig(cfg *common.WebsocketConfig) *Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	if cfg.PingInterval > 0 {
		c.PingInterval = cfg.PingInterval.Duration()
		c.PongTimeout = 2 * c.PingInterval
	}
	if cfg.ReadBufferSize > 0 {
		c.ReadBufferSize = cfg.ReadBufferSize
	}
	if cfg.WriteBufferSize > 0 {
		c.WriteBufferSize = cfg.WriteBufferSize
	}
	if cfg.MaxMessageSize > 0 {
		c.MaxMessageSize = int64(cfg.MaxMessageSize)
	}
	if cfg.MaxInflight > 0 {
		c.MaxInflight = cfg.MaxInflight
	}
	return c
}
