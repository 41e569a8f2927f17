package cache

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

func Connect(addr string) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}

	log.Println("Redis connected (order-service)")
	return rdb
}

const tokenKey = "paypal:access_token"

// TokenCache keeps the gateway access token for slightly less than its
// advertised lifetime so every settlement call does not pay for a token
// exchange.
type TokenCache struct {
	rdb *redis.Client
}

func NewTokenCache(rdb *redis.Client) *TokenCache {
	return &TokenCache{rdb: rdb}
}

func (t *TokenCache) Get(ctx context.Context) (string, bool) {
	val, err := t.rdb.Get(ctx, tokenKey).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (t *TokenCache) Set(ctx context.Context, token string, ttl time.Duration) {
	if err := t.rdb.Set(ctx, tokenKey, token, ttl).Err(); err != nil {
		log.Printf("cache: could not store access token: %v", err)
	}
}
