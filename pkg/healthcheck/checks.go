// Package healthcheck собирает проверку готовности (/readyz) из проверок зависимостей.
package healthcheck

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Check — проверка одной зависимости.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Database пингует пул соединений GORM.
func Database(db *gorm.DB) Check {
	return Check{Name: "database", Probe: func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}}
}

// Redis выполняет PING.
func Redis(rdb redis.UniversalClient) Check {
	return Check{Name: "redis", Probe: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
}

// All запускает проверки параллельно и собирает все ошибки, а не только первую,
// чтобы в логе /readyz были видны все недоступные зависимости.
func All(checks ...Check) func(context.Context) error {
	return func(ctx context.Context) error {
		errs := make([]error, len(checks))
		var g errgroup.Group
		for i, c := range checks {
			g.Go(func() error {
				if err := c.Probe(ctx); err != nil {
					errs[i] = fmt.Errorf("%s: %w", c.Name, err)
				}
				return nil
			})
		}
		_ = g.Wait()
		return errors.Join(errs...)
	}
}
