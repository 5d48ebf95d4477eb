// Package redisstore keeps the latest snapshot of each script instance in
// Redis.
//
// Layout under the prefix:
//
//	snap:<key>  hash with graph_hash, data, seq
//	index       sorted set of keys scored by seq (save order)
//	expiry      sorted set of keys with a TTL, scored by expiry time
//	seq         counter
//
// Snapshot keys live under snap: so no instance id can collide with the
// bookkeeping keys. Expired keys are pruned from the index lazily by List.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/store"
)

// Store implements store.SnapshotStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ store.SnapshotStore = (*Store)(nil)

type Option func(*Store)

// WithTTL sets the expiration for snapshots. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis store connected to address.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "flowscript:",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(key string) string {
	return s.prefix + "snap:" + key
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

func (s *Store) expiryKey() string {
	return s.prefix + "expiry"
}

func (s *Store) seqKey() string {
	return s.prefix + "seq"
}

// Save writes the snapshot hash and its index entry in one transaction.
func (s *Store) Save(ctx context.Context, snap store.Snapshot) (int64, error) {
	if snap.Key == "" {
		return 0, errors.New("save snapshot: empty key")
	}
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("save snapshot: next seq: %w", err)
	}

	k := s.key(snap.Key)
	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k,
			"graph_hash", graph.FormatHash(snap.GraphHash),
			"data", snap.Data,
			"seq", seq,
		)
		pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: float64(seq), Member: snap.Key})
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
			expires := float64(s.now().Add(s.ttl).Unix())
			pipe.ZAdd(ctx, s.expiryKey(), backend.Z{Score: expires, Member: snap.Key})
		} else {
			pipe.ZRem(ctx, s.expiryKey(), snap.Key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save to redis: %w", err)
	}
	return seq, nil
}

// Load retrieves the latest snapshot for key.
func (s *Store) Load(ctx context.Context, key string) (store.Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to get from redis: %w", err)
	}
	if len(fields) == 0 {
		return store.Snapshot{}, fmt.Errorf("load %s: %w", key, store.ErrNotFound)
	}

	hash, err := graph.ParseHash(fields["graph_hash"])
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("load %s: %w", key, err)
	}
	seq, err := strconv.ParseInt(fields["seq"], 10, 64)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("load %s: seq: %w", key, err)
	}
	return store.Snapshot{
		Key:       key,
		GraphHash: hash,
		Data:      []byte(fields["data"]),
		Seq:       seq,
	}, nil
}

// Delete removes the snapshot and its index entries.
func (s *Store) Delete(ctx context.Context, key string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(key))
	pipe.ZRem(ctx, s.indexKey(), key)
	pipe.ZRem(ctx, s.expiryKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List prunes expired entries from the index and returns the rest in save
// order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := strconv.FormatInt(s.now().Unix(), 10)
	expired, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &backend.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read expired snapshots: %w", err)
	}
	if len(expired) > 0 {
		members := make([]any, len(expired))
		for i, k := range expired {
			members[i] = k
		}
		pipe := s.client.TxPipeline()
		pipe.ZRem(ctx, s.indexKey(), members...)
		pipe.ZRem(ctx, s.expiryKey(), members...)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to prune expired snapshots: %w", err)
		}
	}

	keys, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return keys, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
