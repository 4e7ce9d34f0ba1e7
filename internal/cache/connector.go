package cache

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"

	"moff.io/moff-estate/internal/config"
	"moff.io/moff-estate/pkg/errors"
	"moff.io/moff-estate/pkg/log"
)

var (
	Redis       *redis.Client
	RateLimiter *redis_rate.Limiter
)

func Init(cred *config.DBCredential) {
	db, _ := strconv.ParseInt(cred.Database, 10, 64)
	Redis = redis.NewClient(&redis.Options{
		Addr:     cred.GetRedisAddress(),
		Password: cred.Password,
		DB:       int(db),
	})
	if _, err := Redis.Ping(context.TODO()).Result(); err != nil {
		log.Fatalf("ping to redis:%v", err)
	}
	RateLimiter = redis_rate.NewLimiter(Redis)
	log.Info("Connected to redis...")
}

func Close() {
	if Redis != nil {
		Redis.Close()
		Redis = nil
		RateLimiter = nil
	}
}

// AllowConnect reports whether key may start another wallet connect this
// minute. Without redis every attempt is allowed.
func AllowConnect(ctx context.Context, key string, perMinute int) (bool, error) {
	if RateLimiter == nil || perMinute <= 0 {
		return true, nil
	}
	res, err := RateLimiter.Allow(ctx, "wallet_connect:"+key, redis_rate.PerMinute(perMinute))
	if err != nil {
		return false, errors.WrapAndReportContext(ctx, err, "check connect rate limit")
	}
	return res.Allowed > 0, nil
}
