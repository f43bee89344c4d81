package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New connects to Redis. When required is false an unreachable server is
// reported through the returned error but the client is still usable, so
// callers can degrade instead of exiting.
func New(ctx context.Context, addr string, required bool) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		if required {
			_ = client.Close()
			return nil, fmt.Errorf("platform/cache: ping: %w", err)
		}
		return client, fmt.Errorf("platform/cache: ping: %w", err)
	}
	return client, nil
}
