package quotastore

import (
	"context"
	"sync"
)

// MemQuotaStore is a mutex-guarded in-memory implementation, for tests and
// single-node development.
type MemQuotaStore struct {
	lk     sync.Mutex
	counts map[string]int
}

func NewMemQuotaStore() *MemQuotaStore {
	return &MemQuotaStore{
		counts: make(map[string]int),
	}
}

func (s *MemQuotaStore) CheckAndIncrement(ctx context.Context, userID, usageKey, period string, limit int) (bool, error) {
	key := periodBucket(userID, usageKey, period)
	s.lk.Lock()
	defer s.lk.Unlock()

	if limit >= 0 && s.counts[key] >= limit {
		return false, nil
	}
	s.counts[key]++
	return true, nil
}

func (s *MemQuotaStore) GetUsage(ctx context.Context, userID, usageKey, period string) (int, error) {
	key := periodBucket(userID, usageKey, period)
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.counts[key], nil
}

func (s *MemQuotaStore) Reset(ctx context.Context, userID, usageKey, period string) error {
	key := periodBucket(userID, usageKey, period)
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.counts, key)
	return nil
}
