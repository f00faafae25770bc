package config

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ConnectRedis dials addr and returns the client plus a lock client built
// on it. A blank addr means Redis is not configured and returns nils.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, *redislock.Client, error) {
	if addr == "" {
		return nil, nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "",
		DB:       0, // use default DB
		PoolSize: 20,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return rdb, redislock.New(rdb), nil
}

// ConnectRedisWithRetry retries ConnectRedis with capped exponential backoff.
// attempts of 0 retries until ctx ends.
func ConnectRedisWithRetry(ctx context.Context, addr string, attempts int) (*redis.Client, *redislock.Client, error) {
	var attempt int
	for {
		attempt++
		rdb, locker, err := ConnectRedis(ctx, addr)
		if err == nil {
			if rdb != nil {
				logg.WithFields(logrus.Fields{"attempt": attempt, "addr": addr}).Info("connected to redis")
			}
			return rdb, locker, nil
		}
		if attempts > 0 && attempt >= attempts {
			return nil, nil, err
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logg.WithFields(logrus.Fields{
			"attempt": attempt,
			"addr":    addr,
			"retry":   sleep.String(),
		}).WithError(err).Warn("failed to connect redis")

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}
