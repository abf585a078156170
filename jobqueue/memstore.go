package jobqueue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memJob struct {
	job       Job
	state     string
	seq       int
	claimedAt time.Time
}

// Memstore is a simple in-memory implementation of the queue Store
// interface, for tests and single-node development.
type Memstore struct {
	lk     sync.Mutex
	jobs   map[string]*memJob // by job ID
	byKey  map[string]*memJob // by dedup key
	nextSq int
}

func NewMemstore() *Memstore {
	return &Memstore{
		jobs:  make(map[string]*memJob),
		byKey: make(map[string]*memJob),
	}
}

func (s *Memstore) Enqueue(ctx context.Context, job *Job) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	if existing, ok := s.byKey[job.DedupKey]; ok {
		if existing.state == StateFailed {
			existing.state = StateEnqueued
			existing.job.Attempt = 0
			existing.job.EligibleAt = job.EligibleAt
			return nil
		}
		return ErrDuplicateJob
	}

	j := &memJob{job: *job, state: StateEnqueued, seq: s.nextSq}
	j.job.EnqueuedAt = time.Now()
	s.nextSq++
	s.jobs[job.ID] = j
	s.byKey[job.DedupKey] = j
	return nil
}

func (s *Memstore) ClaimNext(ctx context.Context, now time.Time) (*Job, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	var candidates []*memJob
	for _, j := range s.jobs {
		if j.state == StateEnqueued && !j.job.EligibleAt.After(now) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].seq < candidates[b].seq })

	j := candidates[0]
	j.state = StateProcessing
	j.claimedAt = time.Now()
	out := j.job
	return &out, nil
}

func (s *Memstore) RecoverStale(ctx context.Context, olderThan time.Time) (int, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.state == StateProcessing && !j.claimedAt.After(olderThan) {
			j.state = StateEnqueued
			n++
		}
	}
	return n, nil
}

func (s *Memstore) SetState(ctx context.Context, jobID, state, errMsg string) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	j.state = state
	return nil
}

func (s *Memstore) Requeue(ctx context.Context, jobID string, eligibleAt time.Time) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	j.state = StateEnqueued
	j.job.Attempt++
	j.job.EligibleAt = eligibleAt
	return nil
}

func (s *Memstore) GetState(ctx context.Context, jobID string) (string, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return "", ErrJobNotFound
	}
	return j.state, nil
}
