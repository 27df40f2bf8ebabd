package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Options struct {
	Addr     string // host:port or redis:// URL
	Password string
	DB       int
}

// Connect builds a client and pings it. A redis:// URL carries its own credentials
// and database; Password and DB apply only to host:port addresses.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	var rdb *redis.Client
	if strings.HasPrefix(opts.Addr, "redis://") || strings.HasPrefix(opts.Addr, "rediss://") {
		parsed, err := redis.ParseURL(opts.Addr)
		if err != nil {
			return nil, fmt.Errorf("cache: parse redis url: %w", err)
		}
		rdb = redis.NewClient(parsed)
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	return rdb, nil
}
