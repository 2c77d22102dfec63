package common

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/xlayer/rpcrouter/util"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLegacyTimeout       = 30 * time.Second
	DefaultLocalTimeout        = 30 * time.Second
	DefaultServerMaxTimeout    = 60 * time.Second
	DefaultMaxResponseBytes    = 128 * 1024 * 1024
	DefaultMaxRequestBodyBytes = 16 * 1024 * 1024
)

// Config represents the configuration of the application.
type Config struct {
	LogLevel string         `yaml:"logLevel"`
	Server   *ServerConfig  `yaml:"server"`
	Local    *LocalConfig   `yaml:"local"`
	Legacy   *LegacyConfig  `yaml:"legacy"`
	InnerTx  *InnerTxConfig `yaml:"innerTx"`
	Metrics  *MetricsConfig `yaml:"metrics"`
	Tracing  *TracingConfig `yaml:"tracing"`
}

type ServerConfig struct {
	HttpHost     string           `yaml:"httpHost"`
	HttpPort     int              `yaml:"httpPort"`
	MaxTimeout   Duration         `yaml:"maxTimeout"`
	MaxBodySize  ByteSize         `yaml:"maxBodySize"`
	Websocket    *WebsocketConfig `yaml:"websocket"`
	ReadTimeout  Duration         `yaml:"readTimeout"`
	WriteTimeout Duration         `yaml:"writeTimeout"`
}

type WebsocketConfig struct {
	Enabled         bool     `yaml:"enabled"`
	ReadBufferSize  int      `yaml:"readBufferSize"`
	WriteBufferSize int      `yaml:"writeBufferSize"`
	MaxMessageSize  ByteSize `yaml:"maxMessageSize"`
	PingInterval    Duration `yaml:"pingInterval"`
	MaxInflight     int      `yaml:"maxInflight"`
}

// LocalConfig points at the node's own JSON-RPC endpoint that serves all
// post-cutover state.
type LocalConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Timeout  Duration          `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

type LegacyConfig struct {
	// Enabled defaults to whether an endpoint is configured.
	Enabled          *bool             `yaml:"enabled"`
	Endpoint         string            `yaml:"endpoint"`
	CutoffBlock      uint64            `yaml:"cutoffBlock"`
	Timeout          Duration          `yaml:"timeout"`
	Headers          map[string]string `yaml:"headers"`
	EnableGzip       bool              `yaml:"enableGzip"`
	MaxResponseSize  ByteSize          `yaml:"maxResponseSize"`
	Methods          map[string]uint32 `yaml:"methods"`
	Cache            *CacheConfig      `yaml:"cache"`
}

type CacheConfig struct {
	Driver string                 `yaml:"driver"`
	TTL    Duration               `yaml:"ttl"`
	Memory *MemoryConnectorConfig `yaml:"memory"`
	Redis  *RedisConnectorConfig  `yaml:"redis"`
}

const (
	CacheDriverMemory = "memory"
	CacheDriverRedis  = "redis"
)

type MemoryConnectorConfig struct {
	MaxCost     ByteSize `yaml:"maxCost"`
	NumCounters int64    `yaml:"numCounters"`
}

type RedisConnectorConfig struct {
	Addr         string   `yaml:"addr"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	ConnPoolSize int      `yaml:"connPoolSize"`
	KeyPrefix    string   `yaml:"keyPrefix"`
	GetTimeout   Duration `yaml:"getTimeout"`
	SetTimeout   Duration `yaml:"setTimeout"`
}

// InnerTxConfig toggles the internal-transaction tracing stage. It should be
// enabled only where the node exposes the debug namespace.
type InnerTxConfig struct {
	Enabled bool `yaml:"enabled"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// Comma separated upper bounds in seconds for the duration histograms.
	HistogramBuckets string `yaml:"histogramBuckets"`
}

type TracingProtocol string

const (
	TracingProtocolHttp TracingProtocol = "http"
	TracingProtocolGrpc TracingProtocol = "grpc"
)

type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	Protocol    TracingProtocol   `yaml:"protocol"`
	ServiceName string            `yaml:"serviceName"`
	SampleRate  float64           `yaml:"sampleRate"`
	Headers     map[string]string `yaml:"headers"`
	Insecure    bool              `yaml:"insecure"`
}

// RouterConfig is the immutable view of legacy routing settings shared by
// every call. Build it with NewRouterConfig.
type RouterConfig struct {
	Enabled        bool
	LegacyEndpoint string
	CutoffBlock    uint64
	Timeout        time.Duration
}

// NewRouterConfig validates legacy settings. Routing enabled without an
// endpoint is a configuration error.
func NewRouterConfig(cfg *LegacyConfig) (*RouterConfig, error) {
	if cfg == nil {
		return &RouterConfig{Timeout: DefaultLegacyTimeout}, nil
	}

	enabled := cfg.Endpoint != ""
	if cfg.Enabled != nil {
		enabled = *cfg.Enabled
	}
	if enabled {
		if cfg.Endpoint == "" {
			return nil, NewErrInvalidConfig("legacy.endpoint is required when legacy routing is enabled")
		}
		u, err := url.Parse(cfg.Endpoint)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, NewErrInvalidConfig(fmt.Sprintf("legacy.endpoint must be an http(s) url, got '%s'", util.RedactEndpoint(cfg.Endpoint)))
		}
	}

	return &RouterConfig{
		Enabled:        enabled,
		LegacyEndpoint: cfg.Endpoint,
		CutoffBlock:    cfg.CutoffBlock,
		Timeout:        cfg.Timeout.WithDefault(DefaultLegacyTimeout),
	}, nil
}

func (c *RouterConfig) MarshalZerologObject(e *zerolog.Event) {
	e.Bool("enabled", c.Enabled).
		Str("legacyEndpoint", util.RedactEndpoint(c.LegacyEndpoint)).
		Uint64("cutoffBlock", c.CutoffBlock).
		Dur("timeout", c.Timeout)
}

// LoadConfig loads the configuration from the specified file.
func LoadConfig(fs afero.Fs, filename string) (*Config, error) {
	data, err := afero.ReadFile(fs, filename)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	err = yaml.Unmarshal(expandedData, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultConfig returns the configuration used when the file leaves a section out.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "INFO",
		Server: &ServerConfig{
			HttpHost:    "0.0.0.0",
			HttpPort:    8545,
			MaxTimeout:  Duration(DefaultServerMaxTimeout),
			MaxBodySize: DefaultMaxRequestBodyBytes,
			Websocket: &WebsocketConfig{
				Enabled:         true,
				ReadBufferSize:  4096,
				WriteBufferSize: 4096,
				MaxMessageSize:  DefaultMaxRequestBodyBytes,
				PingInterval:    Duration(30 * time.Second),
				MaxInflight:     256,
			},
		},
		Local: &LocalConfig{
			Endpoint: "http://127.0.0.1:18545",
			Timeout:  Duration(DefaultLocalTimeout),
		},
		Legacy:  &LegacyConfig{},
		InnerTx: &InnerTxConfig{},
		Metrics: &MetricsConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    4001,
		},
		Tracing: &TracingConfig{},
	}
}

func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type rawConfig Config
	raw := rawConfig(*DefaultConfig())
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*c = Config(raw)
	return nil
}

func (c *LegacyConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawLegacyConfig LegacyConfig
	raw := rawLegacyConfig{
		Timeout:         Duration(DefaultLegacyTimeout),
		MaxResponseSize: DefaultMaxResponseBytes,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*c = LegacyConfig(raw)
	return nil
}

func (c *CacheConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawCacheConfig CacheConfig
	raw := rawCacheConfig{
		Driver: CacheDriverMemory,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Driver == CacheDriverMemory && raw.Memory == nil {
		raw.Memory = &MemoryConnectorConfig{}
	}
	*c = CacheConfig(raw)
	return nil
}

func (c *TracingConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawTracingConfig TracingConfig
	raw := rawTracingConfig{
		Protocol:    TracingProtocolHttp,
		ServiceName: "rpcrouter",
		SampleRate:  1.0,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*c = TracingConfig(raw)
	return nil
}

// Validate checks the whole configuration for errors that must stop startup.
func (c *Config) Validate() error {
	if c.Local == nil || c.Local.Endpoint == "" {
		return NewErrInvalidConfig("local.endpoint is required")
	}
	if u, err := url.Parse(c.Local.Endpoint); err != nil || u.Host == "" {
		return NewErrInvalidConfig(fmt.Sprintf("local.endpoint is not a valid url: '%s'", c.Local.Endpoint))
	}
	if c.Server != nil && (c.Server.HttpPort < 0 || c.Server.HttpPort > 65535) {
		return NewErrInvalidConfig(fmt.Sprintf("server.httpPort out of range: %d", c.Server.HttpPort))
	}
	if _, err := NewRouterConfig(c.Legacy); err != nil {
		return err
	}
	if c.Legacy != nil && c.Legacy.Cache != nil {
		switch c.Legacy.Cache.Driver {
		case CacheDriverMemory:
		case CacheDriverRedis:
			if c.Legacy.Cache.Redis == nil || c.Legacy.Cache.Redis.Addr == "" {
				return NewErrInvalidConfig("legacy.cache.redis.addr is required for redis cache driver")
			}
		default:
			return NewErrInvalidConfig(fmt.Sprintf("unsupported legacy.cache.driver '%s'", c.Legacy.Cache.Driver))
		}
	}
	if c.Tracing != nil && c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return NewErrInvalidConfig("tracing.endpoint is required when tracing is enabled")
		}
		if c.Tracing.Protocol != TracingProtocolHttp && c.Tracing.Protocol != TracingProtocolGrpc {
			return NewErrInvalidConfig(fmt.Sprintf("unsupported tracing.protocol '%s'", c.Tracing.Protocol))
		}
	}
	return nil
}

func (c *ServerConfig) MarshalZerologObject(e *zerolog.Event) {
	e.Str("host", c.HttpHost).
		Int("port", c.HttpPort).
		Dur("maxTimeout", c.MaxTimeout.Duration()).
		Str("maxBodySize", c.MaxBodySize.String())
}

// ByteSize accepts human readable sizes ("64MB", "512KiB") or plain byte counts.
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var intValue int64
	if err := value.Decode(&intValue); err == nil {
		if intValue < 0 {
			return fmt.Errorf("size must not be negative: %d", intValue)
		}
		*b = ByteSize(intValue)
		return nil
	}
	var stringValue string
	if err := value.Decode(&stringValue); err != nil {
		return fmt.Errorf("cannot unmarshal size value")
	}
	n, err := humanize.ParseBytes(stringValue)
	if err != nil {
		return fmt.Errorf("invalid size '%s': %v", stringValue, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}
