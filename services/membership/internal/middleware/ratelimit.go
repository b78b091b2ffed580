package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"example.com/membership-system/pkg/logger"
)

// RateLimitConfig — настройки RateLimiter.
type RateLimitConfig struct {
	Redis  *redis.Client
	Limit  int           // запросов с одного IP за окно, по умолчанию 100
	Window time.Duration // по умолчанию минута
	Prefix string        // у каждой группы маршрутов свои счётчики
}

// RateLimiter ограничивает частоту запросов с одного IP по фиксированным окнам.
// Счётчик окна — ключ prefix:ip:<начало окна>, он сам истекает после окна.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRateLimiter создаёт RateLimiter с подставленными значениями по умолчанию.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{rdb: cfg.Redis, limit: cfg.Limit, window: cfg.Window, prefix: cfg.Prefix, now: time.Now}
	if rl.limit <= 0 {
		rl.limit = 100
	}
	if rl.window <= 0 {
		rl.window = time.Minute
	}
	if rl.prefix == "" {
		rl.prefix = "rate"
	}
	return rl
}

// hit учитывает запрос и возвращает номер запроса в текущем окне и время до его конца.
func (rl *RateLimiter) hit(ctx context.Context, ip string) (int64, time.Duration, error) {
	now := rl.now()
	start := now.Truncate(rl.window)
	key := rl.prefix + ":" + ip + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	_, err := rl.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, rl.window)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return incr.Val(), start.Add(rl.window).Sub(now), nil
}

// Handle возвращает gin middleware. Недоступность Redis не блокирует запросы.
func (rl *RateLimiter) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		count, resetIn, err := rl.hit(c.Request.Context(), ip)
		if err != nil {
			logger.Ctx(c.Request.Context()).Warn().Err(err).Msg("Rate limit не проверен, запрос пропущен")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(max(int64(rl.limit)-count, 0), 10))

		if count > int64(rl.limit) {
			retry := int(resetIn.Round(time.Second).Seconds())
			logger.Ctx(c.Request.Context()).Warn().
				Str("client_ip", ip).
				Int64("count", count).
				Msg("Rate limit превышен")
			c.Header("Retry-After", strconv.Itoa(max(retry, 1)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Слишком много запросов, повторите позже",
			})
			return
		}
		c.Next()
	}
}
