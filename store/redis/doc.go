// Package redis implements store.Store on Redis using go-redis/v9.
//
// Each job is a Hash holding its version, state and a msgpack-encoded
// body. Sorted Sets index jobs by creation time, per-supplier eligibility,
// retry deadline and lease expiry, and a Hash keeps per-supplier state
// counts. Every write runs as a Lua script so the version check and the
// index updates are atomic.
//
// The caller owns the Redis client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
