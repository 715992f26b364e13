package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound indicates the requested record does not exist or expired
	ErrNotFound = errors.New("job record not found")

	// ErrInvalidRecord indicates the stored record is corrupted
	ErrInvalidRecord = errors.New("invalid job record")
)

// DefaultTTL is how long records are kept after their last update.
const DefaultTTL = 7 * 24 * time.Hour

// Store persists job records in Redis.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStore creates a store with the given record TTL (DefaultTTL when <= 0).
func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Save writes rec and adds it to its run index. Both keys get the store TTL.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("job record cannot be nil")
	}
	if rec.RunID == "" || rec.JobID == "" {
		return fmt.Errorf("job record needs run and job id")
	}

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		StoreErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("marshal job record: %w", err)
	}

	index := indexKey(rec.RunID)
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, rec.Key().String(), data, s.ttl)
	pipe.SAdd(ctx, index, rec.JobID)
	pipe.Expire(ctx, index, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		StoreErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("redis save: %w", err)
	}

	StoreWrites.Inc()
	return nil
}

// Get retrieves one record. Returns ErrNotFound if it doesn't exist.
func (s *Store) Get(ctx context.Context, key Key) (*Record, error) {
	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return &rec, nil
}

// List returns the records of a run ordered by start time. Job ids whose
// record has expired are skipped.
func (s *Store) List(ctx context.Context, runID string) ([]*Record, error) {
	jobIDs, err := s.redis.SMembers(ctx, indexKey(runID)).Result()
	if err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("redis smembers: %w", err)
	}

	records := make([]*Record, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		rec, err := s.Get(ctx, Key{RunID: runID, JobID: jobID})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].JobID < records[j].JobID
		}
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records, nil
}

// Delete removes all records of a run.
func (s *Store) Delete(ctx context.Context, runID string) error {
	index := indexKey(runID)
	jobIDs, err := s.redis.SMembers(ctx, index).Result()
	if err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis smembers: %w", err)
	}

	keys := make([]string, 0, len(jobIDs)+1)
	for _, jobID := range jobIDs {
		keys = append(keys, Key{RunID: runID, JobID: jobID}.String())
	}
	keys = append(keys, index)

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
