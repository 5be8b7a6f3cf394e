package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pavi/internal/cache"
	"github.com/kiranshivaraju/pavi/pkg/models"
	"github.com/redis/go-redis/v9"
)

// maxWatchRetries bounds optimistic transaction retries in UpdateJob.
const maxWatchRetries = 10

// RedisStore keeps one JSON document per job and lets Redis expire it at ExpiresAt.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new RedisStore from a Redis URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) PutJob(ctx context.Context, job *models.JobRecord) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	key := cache.JobKey(job.ID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.ExpireAt(ctx, key, job.ExpiresAt)
		return nil
	})
	if err != nil {
		return unavailable("put job", err)
	}
	return nil
}

func (s *RedisStore) GetJob(ctx context.Context, id uuid.UUID) (*models.JobRecord, error) {
	job, err := s.read(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *RedisStore) UpdateJob(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) (*models.JobRecord, error) {
	params := newUpdateParams(opts)
	key := cache.JobKey(id)

	var updated *models.JobRecord
	txf := func(tx *redis.Tx) error {
		job, err := s.read(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := params.apply(job); err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}
		updated = job
		return nil
	}

	for range maxWatchRetries {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPreconditionFailed) ||
			errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, unavailable("update job", err)
	}
	return nil, unavailable("update job", fmt.Errorf("contention on %s", key))
}

// PurgeExpired is a no-op: Redis evicts keys at their EXPIREAT deadline.
func (s *RedisStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) read(ctx context.Context, c redis.Cmdable, id uuid.UUID) (*models.JobRecord, error) {
	data, err := c.Get(ctx, cache.JobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get job", err)
	}
	var job models.JobRecord
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	if job.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return &job, nil
}

var _ Store = (*RedisStore)(nil)
