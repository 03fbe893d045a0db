package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sequence hands out increasing numbers per key. floor reports the highest
// number already used, for keys the sequence has not seen yet.
type Sequence interface {
	Next(ctx context.Context, key string, floor func(context.Context) (int64, error)) (int64, error)
}

// RedisSequence is a Sequence backed by INCR.
type RedisSequence struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSequence 创建Redis序列
func NewRedisSequence(rdb *redis.Client) *RedisSequence {
	return &RedisSequence{rdb: rdb, ttl: 400 * 24 * time.Hour}
}

func (s *RedisSequence) Next(ctx context.Context, key string, floor func(context.Context) (int64, error)) (int64, error) {
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		n, err := floor(ctx)
		if err != nil {
			return 0, err
		}
		// SETNX keeps a value another instance seeded first
		if err := s.rdb.SetNX(ctx, key, n, s.ttl).Err(); err != nil {
			return 0, err
		}
	}
	return s.rdb.Incr(ctx, key).Result()
}

// DocNumGenerator assigns <PREFIX>-<YYYY>-<NNNN> numbers with a per-year sequence.
type DocNumGenerator struct {
	prefix string
	seq    Sequence
	claims ClaimStore
	loc    *time.Location
}

// NewDocNumGenerator 创建单号生成器；seq 为 nil 时按数据库计数
func NewDocNumGenerator(prefix string, seq Sequence, claims ClaimStore, loc *time.Location) *DocNumGenerator {
	if loc == nil {
		loc = time.UTC
	}
	return &DocNumGenerator{prefix: prefix, seq: seq, claims: claims, loc: loc}
}

// Next returns the document number for a claim created at now.
func (g *DocNumGenerator) Next(ctx context.Context, now time.Time) (string, error) {
	year := now.In(g.loc).Year()
	floor := func(ctx context.Context) (int64, error) {
		return g.claims.CountCreatedIn(ctx, year)
	}

	var n int64
	var err error
	if g.seq != nil {
		n, err = g.seq.Next(ctx, fmt.Sprintf("claim:docnum:%s:%d", g.prefix, year), floor)
	}
	if g.seq == nil || err != nil {
		if n, err = floor(ctx); err != nil {
			return "", fmt.Errorf("count claims: %w", err)
		}
		n++
	}
	return fmt.Sprintf("%s-%d-%04d", g.prefix, year, n), nil
}
