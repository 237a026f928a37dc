package cooldown

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewStore builds the backend named by storeType ("memory" or "redis"). The returned closer
// releases the backend's connections.
func NewStore(ctx context.Context, storeType string, redisConfig RedisConfig) (Store, io.Closer, error) {
	switch storeType {
	case "", "memory":
		slog.Info("using in-memory cooldown store")
		return NewMemoryStore(10 * time.Minute), io.NopCloser(nil), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     redisConfig.Addr,
			Password: redisConfig.Password,
			DB:       redisConfig.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", redisConfig.Addr, err)
		}
		slog.Info("using redis cooldown store", "addr", redisConfig.Addr)
		return NewRedisStore(client), client, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cooldown store: %s", storeType)
	}
}
