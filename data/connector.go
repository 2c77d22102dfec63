package data

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/xlayer/rpcrouter/common"
)

// Connector is a key/value store for cached responses. Get returns
// common.ErrRecordNotFound on a miss.
type Connector interface {
	Id() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func NewConnector(
	ctx context.Context,
	logger *zerolog.Logger,
	cfg *common.CacheConfig,
) (Connector, error) {
	switch cfg.Driver {
	case common.CacheDriverMemory:
		return NewMemoryConnector(ctx, logger, cfg.Memory)
	case common.CacheDriverRedis:
		return NewRedisConnector(ctx, logger, cfg.Redis)
	}

	return nil, common.NewErrInvalidConfig(fmt.Sprintf("unsupported cache driver '%s'", cfg.Driver))
}
