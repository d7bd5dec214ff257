// Package jobs runs the processing lifecycle: queued jobs are picked up by
// a worker pool, executed under a wall-clock budget, and driven through
// the queued -> processing -> completed/failed state machine. Failed jobs
// may re-enter the queue until their retry budget runs out.
package jobs

import (
	"context"
	"sync"

	"pptx-processor/internal/types"
)

// JobStore persists job state. The SQLite store satisfies this; the
// in-memory implementation below serves single-process setups and tests.
type JobStore interface {
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	UpdateJob(ctx context.Context, job *types.Job) error
}

// MemoryStore is a map-backed JobStore.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*types.Job
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*types.Job)}
}

// CreateJob stores a copy of the job.
func (s *MemoryStore) CreateJob(ctx context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return types.NewAppError(types.ErrInvalidInput, "job already exists", nil)
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

// GetJob returns a copy of the job.
func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, types.NewAppError(types.ErrNotFound, "job not found", nil)
	}
	copied := *job
	return &copied, nil
}

// UpdateJob rewrites the job. Progress only moves forward, matching the
// durable store's behavior.
func (s *MemoryStore) UpdateJob(ctx context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.jobs[job.ID]
	if !ok {
		return types.NewAppError(types.ErrNotFound, "job not found", nil)
	}
	copied := *job
	if copied.Progress < existing.Progress {
		copied.Progress = existing.Progress
	}
	s.jobs[job.ID] = &copied
	return nil
}
