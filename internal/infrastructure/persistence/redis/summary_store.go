package redis

import (
	"context"
	"time"

	"github.com/classvest/achievement-engine/internal/application/query"
)

// SummaryTTL keeps the last weekly report slightly longer than a week.
const SummaryTTL = 8 * 24 * time.Hour

// SummaryStore keeps the latest weekly report for the API.
type SummaryStore struct {
	cache *Cache
}

// NewSummaryStore creates a new SummaryStore.
func NewSummaryStore(c *Cache) *SummaryStore {
	return &SummaryStore{cache: c}
}

// StoreWeeklySummary saves the report under the latest key.
func (s *SummaryStore) StoreWeeklySummary(ctx context.Context, summary *query.WeeklySummaryDTO) error {
	return s.cache.Set(ctx, s.cache.keys.WeeklySummary(), summary, SummaryTTL)
}

// LatestWeeklySummary returns the stored report or ErrCacheMiss.
func (s *SummaryStore) LatestWeeklySummary(ctx context.Context) (*query.WeeklySummaryDTO, error) {
	var out query.WeeklySummaryDTO
	if err := s.cache.Get(ctx, s.cache.keys.WeeklySummary(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}
