package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "memjob:"
	redisJobTTL    = 24 * time.Hour
)

type redisStore struct {
	client *redis.Client
}

// NewRedisStore returns a Store backed by Redis so job status survives a
// process restart and can be polled from any instance. Jobs expire after 24
// hours.
//
// Updates are read-modify-write under the assumption that exactly one worker
// mutates a given job; poller reads are unaffected.
func NewRedisStore(client *redis.Client) (Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &redisStore{client: client}, nil
}

func (s *redisStore) Put(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return s.client.Set(ctx, redisKeyPrefix+job.ID, raw, redisJobTTL).Err()
}

func (s *redisStore) Get(ctx context.Context, id string) (*Job, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *redisStore) Update(ctx context.Context, id string, mutate func(*Job)) (*Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	mutate(job)
	if err := s.Put(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}
