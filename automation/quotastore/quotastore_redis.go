package quotastore

import (
	"context"

	"github.com/redis/go-redis/v9"
)

var redisQuotaPrefix string = "quota/"

// check-and-increment in one atomic round-trip. KEYS[1] = counter key,
// ARGV[1] = limit (-1 unlimited), ARGV[2] = TTL seconds (0 = no expiry).
var checkIncrScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if limit >= 0 and current >= limit then
	return 0
end
redis.call('INCR', KEYS[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 and redis.call('TTL', KEYS[1]) < 0 then
	redis.call('EXPIRE', KEYS[1], ttl)
end
return 1
`)

type RedisQuotaStore struct {
	Client *redis.Client
}

func NewRedisQuotaStore(redisURL string) (*RedisQuotaStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisQuotaStore{Client: rdb}, nil
}

func (s *RedisQuotaStore) CheckAndIncrement(ctx context.Context, userID, usageKey, period string, limit int) (bool, error) {
	key := redisQuotaPrefix + periodBucket(userID, usageKey, period)
	ttl := int(periodTTL(period).Seconds())
	res, err := checkIncrScript.Run(ctx, s.Client, []string{key}, limit, ttl).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisQuotaStore) GetUsage(ctx context.Context, userID, usageKey, period string) (int, error) {
	key := redisQuotaPrefix + periodBucket(userID, usageKey, period)
	c, err := s.Client.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return c, nil
}

func (s *RedisQuotaStore) Reset(ctx context.Context, userID, usageKey, period string) error {
	key := redisQuotaPrefix + periodBucket(userID, usageKey, period)
	return s.Client.Del(ctx, key).Err()
}
