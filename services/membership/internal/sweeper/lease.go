package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LeaseKey — ключ Redis, под которым экземпляр сервиса держит право на запуск.
const LeaseKey = "membership:sweeper:lease"

// Locker выдаёт эксклюзивное право на запуск проверки между экземплярами сервиса.
type Locker interface {
	// Acquire возвращает токен владельца; ok == false, если право уже занято.
	Acquire(ctx context.Context) (token string, ok bool, err error)
	// Release освобождает право, только если оно всё ещё принадлежит token.
	Release(ctx context.Context, token string) error
}

// RedisLease — аренда на SET NX с TTL. TTL ограничивает время блокировки,
// если экземпляр упал, не успев освободить ключ.
type RedisLease struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisLease создаёт аренду на ключе LeaseKey.
func NewRedisLease(rdb *redis.Client, ttl time.Duration) *RedisLease {
	return &RedisLease{rdb: rdb, key: LeaseKey, ttl: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context) (string, bool, error) {
	token := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("ошибка захвата аренды: %w", err)
	}
	return token, ok, nil
}

// releaseScript удаляет ключ, только если значение совпадает с токеном владельца.
// Иначе истёкшая аренда одного экземпляра сняла бы аренду другого.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

func (l *RedisLease) Release(ctx context.Context, token string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("ошибка освобождения аренды: %w", err)
	}
	return nil
}
