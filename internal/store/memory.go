package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stakeledger/tracker/internal/analytics"
	"github.com/stakeledger/tracker/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	challenges map[string]*model.Challenge
	records    map[string]*model.Summary
	now        func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges: make(map[string]*model.Challenge),
		records:    make(map[string]*model.Summary),
		now:        time.Now,
	}
}

func (s *MemoryStore) CreateChallenge(_ context.Context, c *model.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.challenges[c.ID]; ok {
		return fmt.Errorf("%w: challenge %s", ErrAlreadyExists, c.ID)
	}

	// Store a copy to avoid external mutation.
	copy := c.Clone()
	s.challenges[c.ID] = &copy
	return nil
}

func (s *MemoryStore) GetChallenge(_ context.Context, id string) (*model.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.challenges[id]
	if !ok {
		return nil, fmt.Errorf("%w: challenge %s", ErrNotFound, id)
	}
	copy := c.Clone()
	return &copy, nil
}

func (s *MemoryStore) AppendStep(_ context.Context, id string, step model.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[id]
	if !ok {
		return fmt.Errorf("%w: challenge %s", ErrNotFound, id)
	}
	if step.StepNumber != len(c.Steps)+1 {
		return fmt.Errorf("%w: got %d, expected %d", ErrStepOutOfOrder, step.StepNumber, len(c.Steps)+1)
	}
	c.Steps = append(c.Steps, step)
	c.TotalProfit = sumProfits(c.Steps)
	c.UpdatedAt = step.Timestamp
	return nil
}

func (s *MemoryStore) SetFinalResult(_ context.Context, id string, result model.FinalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[id]
	if !ok {
		return fmt.Errorf("%w: challenge %s", ErrNotFound, id)
	}
	c.FinalResult = result
	c.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) ListByDate(_ context.Context, date string) ([]model.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.Challenge{}
	for _, c := range s.challenges {
		if c.Date == date {
			result = append(result, c.Clone())
		}
	}
	sortChallenges(result)
	return result, nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]model.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Challenge, 0, len(s.challenges))
	for _, c := range s.challenges {
		result = append(result, c.Clone())
	}
	sortChallenges(result)
	return result, nil
}

func (s *MemoryStore) GetDailyStats(ctx context.Context, date string) (*model.DailyStats, error) {
	challenges, err := s.ListByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	stats := analytics.DailyStats(date, challenges)
	return &stats, nil
}

func (s *MemoryStore) AddRecord(_ context.Context, r *model.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.ID]; ok {
		return fmt.Errorf("%w: record %s", ErrAlreadyExists, r.ID)
	}
	copy := *r
	s.records[r.ID] = &copy
	return nil
}

func (s *MemoryStore) UpdateRecord(_ context.Context, id string, patch model.SummaryPatch) (*model.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: record %s", ErrNotFound, id)
	}
	patch.Apply(r)
	r.UpdatedAt = s.now().UTC()
	copy := *r
	return &copy, nil
}

func (s *MemoryStore) DeleteRecord(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("%w: record %s", ErrNotFound, id)
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) ListRecords(_ context.Context) ([]model.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Summary, 0, len(s.records))
	for _, r := range s.records {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) ClearRecords(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*model.Summary)
	return nil
}

// sortChallenges orders newest first; ids break ties so listings are stable.
func sortChallenges(cs []model.Challenge) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.After(cs[j].CreatedAt)
		}
		return cs[i].ID > cs[j].ID
	})
}
