package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/membership-system/pkg/config"
)

// ConnectRedis открывает клиент Redis и ждёт ответа на PING не дольше DialTimeout.
// В Redis живут аренда планировщика и счётчики rate limit.
func ConnectRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*max(cfg.DialTimeout, time.Second))
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(fmt.Errorf("redis %s: %w", opts.Addr, err), rdb.Close())
	}
	return rdb, nil
}
