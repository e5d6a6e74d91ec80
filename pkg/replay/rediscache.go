package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the optional shared L2 in front of FileCache, letting
// multiple CI runners share a warm fingerprint cache. Grounded on the
// teacher's pkg/kernel/limiter_redis.go (redis.NewClient with
// Addr/Password/DB, context-scoped calls on *redis.Client). Purely
// additive: a miss here always falls through to the real invocation path,
// same as a FileCache miss would.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(addr, password string, db int, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *RedisCache) key(fingerprint string) string {
	return fmt.Sprintf("%sartifact:%s", c.prefix, fingerprint)
}

func (c *RedisCache) Lookup(fingerprint string) (*Artifact, bool, error) {
	raw, err := c.client.Get(context.Background(), c.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("replay: redis lookup: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, false, nil
	}
	return &a, true, nil
}

func (c *RedisCache) Store(fingerprint string, artifact Artifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("replay: marshal artifact for redis: %w", err)
	}
	if err := c.client.Set(context.Background(), c.key(fingerprint), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("replay: redis store: %w", err)
	}
	return nil
}

// LayeredCache checks l2 (e.g. Redis) first, falls through to l1 (the
// authoritative FileCache) on miss, and backfills l2 on an l1 hit so later
// runs on any runner see the warm entry. l1 remains authoritative per
// spec §4.9/§4.4's "the filesystem cache remains authoritative": a write
// always lands on l1 first.
type LayeredCache struct {
	l1 ArtifactCache
	l2 ArtifactCache
}

func NewLayeredCache(l1, l2 ArtifactCache) *LayeredCache {
	return &LayeredCache{l1: l1, l2: l2}
}

func (c *LayeredCache) Lookup(fingerprint string) (*Artifact, bool, error) {
	if a, ok, err := c.l2.Lookup(fingerprint); err == nil && ok {
		return a, true, nil
	}
	a, ok, err := c.l1.Lookup(fingerprint)
	if err != nil || !ok {
		return a, ok, err
	}
	_ = c.l2.Store(fingerprint, *a) // backfill is best-effort
	return a, true, nil
}

func (c *LayeredCache) Store(fingerprint string, artifact Artifact) error {
	if err := c.l1.Store(fingerprint, artifact); err != nil {
		return err
	}
	_ = c.l2.Store(fingerprint, artifact) // l2 is additive; its failure doesn't fail the run
	return nil
}
