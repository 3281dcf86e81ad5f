// Package redisstore keeps TileInfo records in a Redis sorted set.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/quadtile-crawler/internal/core/observability"
	"github.com/mohammed-shakir/quadtile-crawler/internal/quadtree"
	"github.com/mohammed-shakir/quadtile-crawler/internal/tilestore"
	"github.com/mohammed-shakir/quadtile-crawler/internal/tilestore/keys"
)

const driver = "redis"

type Option func(*Store)

func WithPoolSize(n int) Option {
	return func(s *Store) { s.ro.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(s *Store) { s.ro.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(s *Store) { s.ro.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) { s.ro.WriteTimeout = d }
}

// WithPageSize sets how many members one ZRANGEBYSCORE page fetches.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithSeedMarkerTTL sets how long a seeded code set is remembered.
func WithSeedMarkerTTL(d time.Duration) Option {
	return func(s *Store) { s.seedTTL = d }
}

type Store struct {
	ro       *redis.Options
	rdb      *redis.Client
	ns       string
	key      string
	pageSize int
	seedTTL  time.Duration
}

var _ tilestore.Store = (*Store)(nil)

func New(ctx context.Context, addr, namespace string, opts ...Option) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	s := &Store{
		ro: &redis.Options{
			Addr:         addr,
			PoolSize:     16,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
			MaintNotificationsConfig: &maintnotifications.Config{
				Mode: maintnotifications.ModeDisabled,
			},
		},
		ns:       keys.Namespace(namespace),
		key:      keys.TileInfo(namespace),
		pageSize: 1000,
		seedTTL:  24 * time.Hour,
	}
	for _, f := range opts {
		f(s)
	}

	s.rdb = redis.NewClient(s.ro)
	if err := s.Ping(ctx); err != nil {
		_ = s.rdb.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.rdb.Ping(ctx).Err()
	observability.ObserveStoreOp(driver, "ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// FindStaleTiles pages through the namespace's sorted set and filters members
// by prefix on the client, so each call scans the stale members of every
// region sharing the namespace. Pages advance on a score cursor rather than an
// offset from the start; members that a concurrent ZADD GT lifts out of the
// range before the cursor do not shift later pages. Ties are resumed by
// offset within the run at the cursor score.
func (s *Store) FindStaleTiles(ctx context.Context, prefixes quadtree.PrefixSet, olderThan time.Time, limit int) ([]string, error) {
	start := time.Now()
	if len(prefixes) == 0 || limit <= 0 {
		observability.ObserveStoreOp(driver, "find_stale", nil, time.Since(start).Seconds())
		return nil, nil
	}

	// exclusive upper bound: strictly older than the threshold
	maxScore := "(" + strconv.FormatInt(olderThan.UnixMilli(), 10)
	minScore := "-inf"
	var (
		out     []string
		cursor  float64
		started bool
		skip    int64
	)
	for len(out) < limit {
		page, err := s.rdb.ZRangeByScoreWithScores(ctx, s.key, &redis.ZRangeBy{
			Min:    minScore,
			Max:    maxScore,
			Offset: skip,
			Count:  int64(s.pageSize),
		}).Result()
		if err != nil {
			observability.ObserveStoreOp(driver, "find_stale", err, time.Since(start).Seconds())
			return nil, fmt.Errorf("redis ZRANGEBYSCORE %s: %w", s.key, err)
		}
		for _, z := range page {
			code, _ := z.Member.(string)
			if prefixes.Match(code) {
				out = append(out, code)
				if len(out) == limit {
					break
				}
			}
		}
		if len(page) < s.pageSize {
			break
		}

		last := page[len(page)-1].Score
		run := int64(0)
		for i := len(page) - 1; i >= 0 && page[i].Score == last; i-- {
			run++
		}
		if started && last == cursor {
			skip += run
		} else {
			cursor, skip, started = last, run, true
		}
		minScore = strconv.FormatFloat(cursor, 'f', -1, 64)
	}
	observability.ObserveStoreOp(driver, "find_stale", nil, time.Since(start).Seconds())
	return out, nil
}

// BulkUpsert adds missing codes with ZADD NX. A code set already seeded
// within the marker TTL is skipped only while sampled members are still in
// the sorted set, so a lost or flushed key is reseeded.
func (s *Store) BulkUpsert(ctx context.Context, codes []string, ts time.Time) (int, error) {
	start := time.Now()
	if len(codes) == 0 {
		observability.ObserveStoreOp(driver, "bulk_upsert", nil, time.Since(start).Seconds())
		return 0, nil
	}

	marker := keys.SeedMarker(s.ns, keys.Fingerprint(codes))
	n, err := s.rdb.Exists(ctx, marker).Result()
	if err != nil {
		observability.ObserveStoreOp(driver, "bulk_upsert", err, time.Since(start).Seconds())
		return 0, fmt.Errorf("redis EXISTS %s: %w", marker, err)
	}
	if n > 0 {
		intact, err := s.seededIntact(ctx, codes)
		if err != nil {
			observability.ObserveStoreOp(driver, "bulk_upsert", err, time.Since(start).Seconds())
			return 0, err
		}
		if intact {
			observability.ObserveStoreOp(driver, "bulk_upsert", nil, time.Since(start).Seconds())
			return 0, nil
		}
	}

	score := float64(ts.UnixMilli())
	members := make([]redis.Z, 0, len(codes))
	for _, c := range codes {
		members = append(members, redis.Z{Score: score, Member: c})
	}

	var added *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		added = p.ZAddNX(ctx, s.key, members...)
		p.Set(ctx, marker, "1", s.seedTTL)
		return nil
	})
	observability.ObserveStoreOp(driver, "bulk_upsert", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("redis ZADD NX %d codes: %w", len(codes), err)
	}
	return int(added.Val()), nil
}

// seededIntact reports whether the first, middle and last codes all still
// have a score. Redis drops a sorted set as a whole on eviction or flush.
func (s *Store) seededIntact(ctx context.Context, codes []string) (bool, error) {
	sample := []string{codes[0], codes[len(codes)/2], codes[len(codes)-1]}
	cmds := make([]*redis.FloatCmd, 0, len(sample))
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, c := range sample {
			cmds = append(cmds, p.ZScore(ctx, s.key, c))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("redis ZSCORE %s: %w", s.key, err)
	}
	for _, cmd := range cmds {
		if errors.Is(cmd.Err(), redis.Nil) {
			return false, nil
		}
		if cmd.Err() != nil {
			return false, fmt.Errorf("redis ZSCORE %s: %w", s.key, cmd.Err())
		}
	}
	return true, nil
}

func (s *Store) SetRefreshTimestamp(ctx context.Context, code string, ts time.Time) error {
	start := time.Now()
	err := s.rdb.ZAddGT(ctx, s.key, redis.Z{Score: float64(ts.UnixMilli()), Member: code}).Err()
	observability.ObserveStoreOp(driver, "set_refresh", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ZADD GT %q: %w", code, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, code string) (tilestore.TileInfo, error) {
	start := time.Now()
	score, err := s.rdb.ZScore(ctx, s.key, code).Result()
	if errors.Is(err, redis.Nil) {
		observability.ObserveStoreOp(driver, "get", nil, time.Since(start).Seconds())
		return tilestore.TileInfo{}, fmt.Errorf("%q: %w", code, tilestore.ErrNotFound)
	}
	observability.ObserveStoreOp(driver, "get", err, time.Since(start).Seconds())
	if err != nil {
		return tilestore.TileInfo{}, fmt.Errorf("redis ZSCORE %q: %w", code, err)
	}
	return tilestore.TileInfo{
		TileIndex:            code,
		LastRefreshTimestamp: time.UnixMilli(int64(score)).UTC(),
	}, nil
}

func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
