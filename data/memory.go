package data

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"
	"github.com/xlayer/rpcrouter/common"
)

const (
	MemoryDriverName = "memory"

	defaultMemoryMaxCost     = 256 * 1024 * 1024
	defaultMemoryNumCounters = 1_000_000
)

var _ Connector = (*MemoryConnector)(nil)

// MemoryConnector keeps values in a ristretto cache bounded by total value size.
type MemoryConnector struct {
	logger *zerolog.Logger
	cache  *ristretto.Cache[string, []byte]
}

func NewMemoryConnector(
	ctx context.Context,
	logger *zerolog.Logger,
	cfg *common.MemoryConnectorConfig,
) (*MemoryConnector, error) {
	lg := logger.With().Str("connector", MemoryDriverName).Logger()

	maxCost := int64(defaultMemoryMaxCost)
	numCounters := int64(defaultMemoryNumCounters)
	if cfg != nil {
		if cfg.MaxCost > 0 {
			maxCost = int64(cfg.MaxCost)
		}
		if cfg.NumCounters > 0 {
			numCounters = cfg.NumCounters
		}
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	lg.Debug().Int64("maxCost", maxCost).Int64("numCounters", numCounters).Msg("created memory connector")

	go func() {
		<-ctx.Done()
		cache.Close()
	}()

	return &MemoryConnector{
		logger: &lg,
		cache:  cache,
	}, nil
}

func (m *MemoryConnector) Id() string {
	return MemoryDriverName
}

func (m *MemoryConnector) Get(ctx context.Context, key string) ([]byte, error) {
	value, found := m.cache.Get(key)
	if !found {
		return nil, common.NewErrRecordNotFound(key, MemoryDriverName)
	}
	return value, nil
}

// Set admits value with its size as cost. Admission is asynchronous; the
// value may be dropped under memory pressure.
func (m *MemoryConnector) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl > 0 {
		m.cache.SetWithTTL(key, value, int64(len(value)), ttl)
	} else {
		m.cache.Set(key, value, int64(len(value)))
	}
	return nil
}

// Wait blocks until buffered writes are applied.
func (m *MemoryConnector) Wait() {
	m.cache.Wait()
}
