package quota

import (
	"context"
	"sync"
	"time"
)

type usageRecord struct {
	count     int64
	firstSeen time.Time
	lastSeen  time.Time
}

// MemoryStore keeps counters in process memory. It is the fallback used when
// Redis is not configured and the workhorse for tests.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]*usageRecord
	limit     int64
	retention time.Duration
	now       func() time.Time
}

func NewMemoryStore(limit int, retentionDays int) *MemoryStore {
	if limit <= 0 {
		limit = 10
	}
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &MemoryStore{
		records:   make(map[string]*usageRecord),
		limit:     int64(limit),
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) CheckAndConsume(_ context.Context, identity string) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)

	key := identity + "|" + dayKey(now)
	record, ok := s.records[key]
	if !ok {
		record = &usageRecord{firstSeen: now}
		s.records[key] = record
	}
	record.count++
	record.lastSeen = now

	allowed := record.count <= s.limit
	if !allowed {
		record.count--
	}

	return Decision{
		Allowed: allowed,
		Usage: Usage{
			Identity:  identity,
			Count:     record.count,
			Limit:     s.limit,
			Remaining: remaining(record.count, s.limit),
			ResetsAt:  nextMidnight(now),
		},
	}, nil
}

func (s *MemoryStore) Usage(_ context.Context, identity string) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)

	var count int64
	if record, ok := s.records[identity+"|"+dayKey(now)]; ok {
		count = record.count
	}
	return Usage{
		Identity:  identity,
		Count:     count,
		Limit:     s.limit,
		Remaining: remaining(count, s.limit),
		ResetsAt:  nextMidnight(now),
	}, nil
}

func (s *MemoryStore) Reset(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, identity+"|"+dayKey(s.now()))
	return nil
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	for key, record := range s.records {
		if now.Sub(record.firstSeen) > s.retention {
			delete(s.records, key)
		}
	}
}
