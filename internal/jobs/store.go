package jobs

import (
	"context"
	"sync"
)

// Store holds job records. The in-memory implementation is the default; a
// durable implementation (redis_store.go) can be swapped in for
// multi-instance deployments without changing callers.
type Store interface {
	Put(ctx context.Context, job *Job) error
	// Get returns nil for unknown ids.
	Get(ctx context.Context, id string) (*Job, error)
	// Update atomically applies mutate to the stored job and returns the
	// result. Returns nil for unknown ids.
	Update(ctx context.Context, id string, mutate func(*Job)) (*Job, error)
}

type memoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore returns a process-local Store. Records do not survive a
// restart.
func NewMemoryStore() Store {
	return &memoryStore{jobs: make(map[string]*Job)}
}

func (s *memoryStore) Put(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *job
	s.jobs[job.ID] = &stored
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	out := *job
	return &out, nil
}

func (s *memoryStore) Update(_ context.Context, id string, mutate func(*Job)) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	mutate(job)
	out := *job
	return &out, nil
}
