package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stakeledger/tracker/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache. Writes
// go to the primary store and invalidate the affected keys; reads check Redis
// first then fall back to the primary. Journal records are not cached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateChallenge(ctx context.Context, c *model.Challenge) error {
	if err := s.primary.CreateChallenge(ctx, c); err != nil {
		return err
	}
	s.rdb.Del(ctx, dateKey(c.Date), dailyKey(c.Date))
	s.setJSON(ctx, challengeKey(c.ID), c)
	return nil
}

func (s *CachedStore) AppendStep(ctx context.Context, id string, step model.Step) error {
	if err := s.primary.AppendStep(ctx, id, step); err != nil {
		return err
	}
	s.invalidateChallenge(ctx, id)
	return nil
}

func (s *CachedStore) SetFinalResult(ctx context.Context, id string, result model.FinalResult) error {
	if err := s.primary.SetFinalResult(ctx, id, result); err != nil {
		return err
	}
	s.invalidateChallenge(ctx, id)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	var c model.Challenge
	if s.getJSON(ctx, challengeKey(id), &c) {
		return &c, nil
	}

	// Cache miss: read from primary.
	got, err := s.primary.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	s.setJSON(ctx, challengeKey(id), got)
	return got, nil
}

func (s *CachedStore) ListByDate(ctx context.Context, date string) ([]model.Challenge, error) {
	var challenges []model.Challenge
	if s.getJSON(ctx, dateKey(date), &challenges) {
		return challenges, nil
	}

	challenges, err := s.primary.ListByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	s.setJSON(ctx, dateKey(date), challenges)
	return challenges, nil
}

func (s *CachedStore) GetDailyStats(ctx context.Context, date string) (*model.DailyStats, error) {
	var stats model.DailyStats
	if s.getJSON(ctx, dailyKey(date), &stats) {
		return &stats, nil
	}

	got, err := s.primary.GetDailyStats(ctx, date)
	if err != nil {
		return nil, err
	}
	s.setJSON(ctx, dailyKey(date), got)
	return got, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAll(ctx context.Context) ([]model.Challenge, error) {
	return s.primary.ListAll(ctx)
}

func (s *CachedStore) AddRecord(ctx context.Context, r *model.Summary) error {
	return s.primary.AddRecord(ctx, r)
}

func (s *CachedStore) UpdateRecord(ctx context.Context, id string, patch model.SummaryPatch) (*model.Summary, error) {
	return s.primary.UpdateRecord(ctx, id, patch)
}

func (s *CachedStore) DeleteRecord(ctx context.Context, id string) error {
	return s.primary.DeleteRecord(ctx, id)
}

func (s *CachedStore) ListRecords(ctx context.Context) ([]model.Summary, error) {
	return s.primary.ListRecords(ctx)
}

func (s *CachedStore) ClearRecords(ctx context.Context) error {
	return s.primary.ClearRecords(ctx)
}

// --- Cache helpers ---

// invalidateChallenge drops the challenge and the listings of its day. The
// day comes from the primary since the cached copy may have expired.
func (s *CachedStore) invalidateChallenge(ctx context.Context, id string) {
	keys := []string{challengeKey(id)}
	if c, err := s.primary.GetChallenge(ctx, id); err == nil {
		keys = append(keys, dateKey(c.Date), dailyKey(c.Date))
	}
	s.rdb.Del(ctx, keys...)
}

func (s *CachedStore) getJSON(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) setJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func challengeKey(id string) string { return fmt.Sprintf("challenge:%s", id) }
func dateKey(date string) string    { return fmt.Sprintf("challenges:date:%s", date) }
func dailyKey(date string) string   { return fmt.Sprintf("daily:%s", date) }
