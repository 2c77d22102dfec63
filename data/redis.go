package data

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/xlayer/rpcrouter/common"
)

const (
	RedisDriverName = "redis"

	defaultRedisInitTimeout = 5 * time.Second
	defaultRedisGetTimeout  = 1 * time.Second
	defaultRedisSetTimeout  = 2 * time.Second
	redisReconnectInterval  = 30 * time.Second
)

var _ Connector = (*RedisConnector)(nil)

type RedisConnector struct {
	logger     *zerolog.Logger
	client     atomic.Pointer[redis.Client]
	keyPrefix  string
	getTimeout time.Duration
	setTimeout time.Duration
}

// NewRedisConnector connects right away and, if redis is unreachable, keeps
// retrying in the background. Until connected every call fails.
func NewRedisConnector(
	ctx context.Context,
	logger *zerolog.Logger,
	cfg *common.RedisConnectorConfig,
) (*RedisConnector, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, common.NewErrInvalidConfig("redis connector requires an address")
	}
	lg := logger.With().Str("connector", RedisDriverName).Logger()

	connector := &RedisConnector{
		logger:     &lg,
		keyPrefix:  cfg.KeyPrefix,
		getTimeout: cfg.GetTimeout.WithDefault(defaultRedisGetTimeout),
		setTimeout: cfg.SetTimeout.WithDefault(defaultRedisSetTimeout),
	}

	if err := connector.connect(ctx, cfg); err != nil {
		lg.Warn().Err(err).Msg("failed to connect to Redis, will keep retrying in background")
		go connector.reconnectLoop(ctx, cfg)
	}

	return connector, nil
}

func (r *RedisConnector) reconnectLoop(ctx context.Context, cfg *common.RedisConnectorConfig) {
	ticker := time.NewTicker(redisReconnectInterval)
	defer ticker.Stop()
	for attempt := 2; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := r.connect(ctx, cfg)
			if err == nil {
				return
			}
			r.logger.Warn().Err(err).Msgf("failed to connect to Redis (attempt %d)", attempt)
		}
	}
}

func (r *RedisConnector) connect(ctx context.Context, cfg *common.RedisConnectorConfig) error {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.ConnPoolSize,
		DialTimeout:  defaultRedisInitTimeout,
		ReadTimeout:  r.getTimeout,
		WriteTimeout: r.setTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, defaultRedisInitTimeout)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.client.Store(client)
	r.logger.Info().Str("addr", cfg.Addr).Msg("connected to Redis")
	return nil
}

func (r *RedisConnector) Id() string {
	return RedisDriverName
}

func (r *RedisConnector) key(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + ":" + key
}

func (r *RedisConnector) Get(ctx context.Context, key string) ([]byte, error) {
	client := r.client.Load()
	if client == nil {
		return nil, errors.New("redis client not initialized yet")
	}

	ctx, cancel := context.WithTimeout(ctx, r.getTimeout)
	defer cancel()

	value, err := client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, common.NewErrRecordNotFound(key, RedisDriverName)
	} else if err != nil {
		return nil, err
	}
	return value, nil
}

func (r *RedisConnector) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	client := r.client.Load()
	if client == nil {
		return errors.New("redis client not initialized yet")
	}

	ctx, cancel := context.WithTimeout(ctx, r.setTimeout)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	return client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisConnector) Close() error {
	if client := r.client.Load(); client != nil {
		return client.Close()
	}
	return nil
}
