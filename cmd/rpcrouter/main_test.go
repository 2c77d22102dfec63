package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
	"github.com/xlayer/rpcrouter/common"
	"github.com/xlayer/rpcrouter/util"
)

var mainMutex sync.Mutex

// Test default command with real config file, using config flag arg
func TestMain_Default_FlagConfigFile(t *testing.T) {
	mainMutex.Lock()
	defer mainMutex.Unlock()

	configPath, baseUrl := writeWorkingConfig(t)

	os.Args = []string{"rpcrouter-test", "--config", configPath}
	go main()

	waitForHealthcheck(t, baseUrl)
}

// Test default command with real config file, using positional config arg
func TestMain_Default_PositionalConfigFile(t *testing.T) {
	mainMutex.Lock()
	defer mainMutex.Unlock()

	configPath, baseUrl := writeWorkingConfig(t)

	os.Args = []string{"rpcrouter-test", configPath}
	go main()

	waitForHealthcheck(t, baseUrl)
}

// Test start command with real config file, using config flag arg
func TestMain_Start_FlagConfigFile(t *testing.T) {
	mainMutex.Lock()
	defer mainMutex.Unlock()

	configPath, baseUrl := writeWorkingConfig(t)

	os.Args = []string{"rpcrouter-test", "start", "--config", configPath}
	go main()

	waitForHealthcheck(t, baseUrl)
}

func TestMain_Start_MissingConfigFile(t *testing.T) {
	mainMutex.Lock()
	defer mainMutex.Unlock()

	logBuf, exitChan := captureExit()

	os.Args = []string{"rpcrouter-test", "--config", "some-random-non-existent.yaml"}
	go main()

	expectExit(t, exitChan, logBuf, util.ExitCodeStartFailed, "failed to load configuration")
}

func TestMain_Start_InvalidYaml(t *testing.T) {
	mainMutex.Lock()
	defer mainMutex.Unlock()

	fs := afero.NewOsFs()
	f, err := afero.TempFile(fs, "", "rpcrouter.yaml")
	require.NoError(t, err)
	defer fs.Remove(f.Name())
	_, err = f.WriteString("invalid yaml")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	logBuf, exitChan := captureExit()

	os.Args = []string{"rpcrouter-test", "--config", f.Name()}
	go main()

	expectExit(t, exitChan, logBuf, util.ExitCodeStartFailed, "failed to load configuration")
}

func TestMain_Start_InvalidLegacyEndpoint(t *testing.T) {
	mainMutex.Lock()
	defer mainMutex.Unlock()

	configPath, _ := writeWorkingConfig(t)
	logBuf, exitChan := captureExit()

	os.Args = []string{"rpcrouter-test", "--config", configPath, "--legacy-rpc-url", "ftp://legacy.localhost"}
	go main()

	expectExit(t, exitChan, logBuf, util.ExitCodeInvalidConfig, "legacy.endpoint must be an http(s) url")
}

func TestMain_Validate_RealConfigFile(t *testing.T) {
	mainMutex.Lock()
	defer mainMutex.Unlock()

	configPath, _ := writeWorkingConfig(t)

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logBuf := &syncBuffer{}
	log.Logger = zerolog.New(logBuf)

	os.Args = []string{"rpcrouter-test", "validate", "--config", configPath, "--legacy-rpc-url", "http://legacy.localhost:8545"}
	main()

	logs := logBuf.String()
	assert.Contains(t, logs, "configuration is valid")
	assert.Contains(t, logs, "validated legacy routing")
	assert.Contains(t, logs, `"cutoffBlock":"1,000,000"`)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/rpcrouter.yaml", []byte(`
legacy:
  endpoint: http://file.localhost:8545
  cutoffBlock: 100
  timeout: 30s
`), 0o644))

	cfg := runLoadConfig(t, fs,
		"--config", "/etc/rpcrouter.yaml",
		"--legacy-rpc-url", "http://flag.localhost:8545",
		"--legacy-rpc-timeout", "2s",
		"--legacy-cutoff-block", "0x10",
		"--inner-tx",
	)

	assert.Equal(t, "http://flag.localhost:8545", cfg.Legacy.Endpoint)
	assert.Equal(t, 2*time.Second, cfg.Legacy.Timeout.Duration())
	assert.Equal(t, uint64(16), cfg.Legacy.CutoffBlock)
	assert.True(t, cfg.InnerTx.Enabled)
}

func TestLoadConfig_FileValuesKeptWithoutFlags(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/rpcrouter.yaml", []byte(`
legacy:
  endpoint: http://file.localhost:8545
  cutoffBlock: 100
innerTx:
  enabled: true
`), 0o644))

	cfg := runLoadConfig(t, fs, "/etc/rpcrouter.yaml")

	assert.Equal(t, "http://file.localhost:8545", cfg.Legacy.Endpoint)
	assert.Equal(t, uint64(100), cfg.Legacy.CutoffBlock)
	assert.Equal(t, common.DefaultLegacyTimeout, cfg.Legacy.Timeout.Duration())
	assert.True(t, cfg.InnerTx.Enabled)
}

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	cfg := runLoadConfig(t, afero.NewMemMapFs(), "--legacy-cutoff-block", "5000")

	assert.Equal(t, 8545, cfg.Server.HttpPort)
	assert.Equal(t, uint64(5000), cfg.Legacy.CutoffBlock)
	assert.Equal(t, "", cfg.Legacy.Endpoint)
}

func TestLoadConfig_InvalidCutoffBlock(t *testing.T) {
	var loadErr error
	cmd := &cli.Command{
		Name:  "rpcrouter-test",
		Flags: startFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, loadErr = loadConfig(afero.NewMemMapFs(), cmd)
			return nil
		},
	}
	require.NoError(t, cmd.Run(context.Background(), []string{"rpcrouter-test", "--legacy-cutoff-block", "latest"}))
	require.Error(t, loadErr)
	assert.Contains(t, loadErr.Error(), "--legacy-cutoff-block")
}

/* -------------------------------------------------------------------------- */
/*                                   Helpers                                  */
/* -------------------------------------------------------------------------- */

func runLoadConfig(t *testing.T, fs afero.Fs, args ...string) *common.Config {
	t.Helper()

	var cfg *common.Config
	cmd := &cli.Command{
		Name:  "rpcrouter-test",
		Flags: startFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var err error
			cfg, err = loadConfig(fs, cmd)
			return err
		},
	}
	require.NoError(t, cmd.Run(context.Background(), append([]string{"rpcrouter-test"}, args...)))
	require.NotNil(t, cfg)
	return cfg
}

// writeWorkingConfig writes a config listening on a random local port and
// returns its path together with the server's base url.
func writeWorkingConfig(t *testing.T) (string, string) {
	t.Helper()

	fs := afero.NewOsFs()
	f, err := afero.TempFile(fs, "", "rpcrouter.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Remove(f.Name()) })

	port := rand.Intn(1000) + 22000
	_, err = f.WriteString(getWorkingConfig(port))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	return f.Name(), fmt.Sprintf("http://127.0.0.1:%d", port)
}

func waitForHealthcheck(t *testing.T, baseUrl string) {
	t.Helper()

	client := &http.Client{Timeout: 500 * time.Millisecond}
	require.Eventually(t, func() bool {
		resp, err := client.Get(baseUrl + "/healthcheck")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && string(body) == "OK"
	}, 3*time.Second, 50*time.Millisecond, "expected server to be running on %s", baseUrl)
}

func captureExit() (*syncBuffer, chan int) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logBuf := &syncBuffer{}
	log.Logger = zerolog.New(logBuf)

	exitChan := make(chan int, 1)
	util.OsExit = func(code int) {
		exitChan <- code
	}
	return logBuf, exitChan
}

func expectExit(t *testing.T, exitChan chan int, logBuf *syncBuffer, expectedCode int, expectedMsg string) {
	t.Helper()

	select {
	case code := <-exitChan:
		assert.Equal(t, expectedCode, code)
		assert.Contains(t, logBuf.String(), expectedMsg)
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for program exit")
	}
}

type syncBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

// Working config file content
func getWorkingConfig(port int) string {
	return fmt.Sprintf(`
logLevel: DEBUG

server:
  httpHost: 127.0.0.1
  httpPort: %d

local:
  endpoint: http://127.0.0.1:18545

legacy:
  cutoffBlock: 1000000

metrics:
  enabled: false
`, port)
}
