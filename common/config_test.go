package common

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xlayer/rpcrouter/util"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, fs afero.Fs, content string) string {
	t.Helper()
	f, err := afero.TempFile(fs, "", "rpcrouter.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestLoadConfig_FailToReadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := LoadConfig(fs, "nonexistent.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYaml(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := LoadConfig(fs, writeConfig(t, fs, "invalid yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Defaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg, err := LoadConfig(fs, writeConfig(t, fs, "logLevel: DEBUG\n"))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 8545, cfg.Server.HttpPort)
	assert.Equal(t, DefaultServerMaxTimeout, cfg.Server.MaxTimeout.Duration())
	assert.True(t, cfg.Server.Websocket.Enabled)
	assert.Equal(t, "http://127.0.0.1:18545", cfg.Local.Endpoint)
	assert.Equal(t, 4001, cfg.Metrics.Port)
	assert.NoError(t, cfg.Validate())

	routerCfg, err := NewRouterConfig(cfg.Legacy)
	require.NoError(t, err)
	assert.False(t, routerCfg.Enabled)
}

func TestLoadConfig_FullExample(t *testing.T) {
	t.Setenv("LEGACY_RPC_URL", "http://legacy.localhost:8545")

	fs := afero.NewMemMapFs()
	cfg, err := LoadConfig(fs, writeConfig(t, fs, `
logLevel: info
server:
  httpPort: 9545
  maxTimeout: 10s
  maxBodySize: 1MiB
local:
  endpoint: http://127.0.0.1:18545
  timeout: 5000
legacy:
  endpoint: ${LEGACY_RPC_URL}
  cutoffBlock: 42000000
  timeout: 750ms
  methods:
    eth_customHistorical: 1
  cache:
    driver: memory
    ttl: 1h
    memory:
      maxCost: 64MB
innerTx:
  enabled: true
tracing:
  enabled: true
  endpoint: localhost:4318
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9545, cfg.Server.HttpPort)
	assert.Equal(t, 10*time.Second, cfg.Server.MaxTimeout.Duration())
	assert.Equal(t, ByteSize(1024*1024), cfg.Server.MaxBodySize)
	assert.Equal(t, 5*time.Second, cfg.Local.Timeout.Duration())
	assert.Equal(t, "http://legacy.localhost:8545", cfg.Legacy.Endpoint)
	assert.Equal(t, uint64(42000000), cfg.Legacy.CutoffBlock)
	assert.Equal(t, uint32(1), cfg.Legacy.Methods["eth_customHistorical"])
	assert.Equal(t, ByteSize(DefaultMaxResponseBytes), cfg.Legacy.MaxResponseSize)
	assert.Equal(t, CacheDriverMemory, cfg.Legacy.Cache.Driver)
	assert.Equal(t, time.Hour, cfg.Legacy.Cache.TTL.Duration())
	assert.Equal(t, ByteSize(64*1000*1000), cfg.Legacy.Cache.Memory.MaxCost)
	assert.True(t, cfg.InnerTx.Enabled)
	assert.Equal(t, TracingProtocolHttp, cfg.Tracing.Protocol)
	assert.Equal(t, "rpcrouter", cfg.Tracing.ServiceName)

	routerCfg, err := NewRouterConfig(cfg.Legacy)
	require.NoError(t, err)
	assert.True(t, routerCfg.Enabled)
	assert.Equal(t, 750*time.Millisecond, routerCfg.Timeout)
}

func TestLoadConfig_MissingEnvExpandsToEmpty(t *testing.T) {
	os.Unsetenv("RPCROUTER_TEST_UNSET")
	fs := afero.NewMemMapFs()
	cfg, err := LoadConfig(fs, writeConfig(t, fs, "legacy:\n  endpoint: ${RPCROUTER_TEST_UNSET}\n"))
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Legacy.Endpoint)
}

func TestNewRouterConfig(t *testing.T) {
	t.Run("Nil", func(t *testing.T) {
		cfg, err := NewRouterConfig(nil)
		require.NoError(t, err)
		assert.False(t, cfg.Enabled)
		assert.Equal(t, DefaultLegacyTimeout, cfg.Timeout)
	})

	t.Run("EnabledWithoutEndpoint", func(t *testing.T) {
		_, err := NewRouterConfig(&LegacyConfig{Enabled: util.BoolPtr(true)})
		assert.True(t, HasErrorCode(err, ErrCodeInvalidConfig))
	})

	t.Run("NonHttpEndpoint", func(t *testing.T) {
		_, err := NewRouterConfig(&LegacyConfig{Endpoint: "ws://legacy.localhost:8546"})
		assert.True(t, HasErrorCode(err, ErrCodeInvalidConfig))
	})

	t.Run("ExplicitlyDisabledKeepsEndpoint", func(t *testing.T) {
		cfg, err := NewRouterConfig(&LegacyConfig{Enabled: util.BoolPtr(false), Endpoint: "http://legacy.localhost"})
		require.NoError(t, err)
		assert.False(t, cfg.Enabled)
	})

	t.Run("ZeroTimeoutFallsBackToDefault", func(t *testing.T) {
		cfg, err := NewRouterConfig(&LegacyConfig{Endpoint: "https://legacy.localhost", CutoffBlock: 7})
		require.NoError(t, err)
		assert.True(t, cfg.Enabled)
		assert.Equal(t, uint64(7), cfg.CutoffBlock)
		assert.Equal(t, DefaultLegacyTimeout, cfg.Timeout)
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Run("RedisRequiresAddr", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Legacy = &LegacyConfig{Endpoint: "http://legacy.localhost", Cache: &CacheConfig{Driver: CacheDriverRedis}}
		assert.True(t, HasErrorCode(cfg.Validate(), ErrCodeInvalidConfig))
	})

	t.Run("UnknownCacheDriver", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Legacy = &LegacyConfig{Endpoint: "http://legacy.localhost", Cache: &CacheConfig{Driver: "dynamodb"}}
		assert.True(t, HasErrorCode(cfg.Validate(), ErrCodeInvalidConfig))
	})

	t.Run("TracingRequiresEndpoint", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Tracing = &TracingConfig{Enabled: true, Protocol: TracingProtocolGrpc}
		assert.True(t, HasErrorCode(cfg.Validate(), ErrCodeInvalidConfig))
	})

	t.Run("LocalEndpointRequired", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Local.Endpoint = ""
		assert.True(t, HasErrorCode(cfg.Validate(), ErrCodeInvalidConfig))
	})
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	var v struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 250ms\nb: 1500\n"), &v))
	assert.Equal(t, 250*time.Millisecond, v.A.Duration())
	assert.Equal(t, 1500*time.Millisecond, v.B.Duration())

	assert.Error(t, yaml.Unmarshal([]byte("a: soon\n"), &v))
	assert.Error(t, yaml.Unmarshal([]byte("a: -5\n"), &v))
	assert.Equal(t, 3*time.Second, Duration(0).WithDefault(3*time.Second))
}

func TestByteSize_UnmarshalYAML(t *testing.T) {
	var v struct {
		A ByteSize `yaml:"a"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 2KiB\n"), &v))
	assert.Equal(t, ByteSize(2048), v.A)
	assert.Equal(t, "2.0 KiB", v.A.String())

	require.NoError(t, yaml.Unmarshal([]byte("a: 512\n"), &v))
	assert.Equal(t, ByteSize(512), v.A)

	assert.Error(t, yaml.Unmarshal([]byte("a: lots\n"), &v))
}
