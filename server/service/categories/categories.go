// Package categories caches the upstream time-entry categories.
package categories

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/laneboard/laneboard/server/cache"
	"github.com/laneboard/laneboard/server/upstream"
)

const (
	cacheName = "time_entry_categories"
	cacheKey  = "all_categories"

	// DefaultTTL is long because categories rarely change.
	DefaultTTL = 24 * time.Hour
)

// Service is the cache service for time-entry categories.
type Service struct {
	cache  *cache.Store[[]upstream.Record]
	client *upstream.Client
	logger *slog.Logger
}

// NewService creates the categories cache service.
func NewService(client *upstream.Client, cfg cache.Config, logger *slog.Logger) *Service {
	cfg.DefaultTTL = DefaultTTL
	return &Service{
		cache:  cache.NewStore[[]upstream.Record](cfg, cacheName, logger),
		client: client,
		logger: logger.With("service", cacheName),
	}
}

func (s *Service) fetchCategories(ctx context.Context) ([]upstream.Record, error) {
	return upstream.DoValue(ctx, s.logger, "fetch categories", s.client.ListCategories)
}

// GetCategories returns every time-entry category, from cache when valid.
func (s *Service) GetCategories(ctx context.Context, forceRefresh bool) ([]upstream.Record, error) {
	records, _, err := s.cache.Get(ctx, cacheKey, s.fetchCategories, cache.GetOptions{ForceRefresh: forceRefresh})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetCategoryByID returns one category, matching either of the id field
// names the upstream is known to use, or nil when unknown.
func (s *Service) GetCategoryByID(ctx context.Context, categoryID string, forceRefresh bool) (upstream.Record, error) {
	all, err := s.GetCategories(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}
	for _, category := range all {
		if category.ID("id") == categoryID || category.ID("categoryId") == categoryID {
			return category, nil
		}
	}
	return nil, nil
}

// GetCategoryByName returns one category by case-insensitive name, or nil
// when unknown.
func (s *Service) GetCategoryByName(ctx context.Context, name string, forceRefresh bool) (upstream.Record, error) {
	all, err := s.GetCategories(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}
	for _, category := range all {
		if strings.EqualFold(category.String("name"), name) || strings.EqualFold(category.String("categoryName"), name) {
			return category, nil
		}
	}
	return nil, nil
}

// WarmCache pre-populates the cache, skipping the fetch when valid data
// is already on disk.
func (s *Service) WarmCache(ctx context.Context) error {
	all, err := s.GetCategories(ctx, false)
	if err != nil {
		return err
	}
	s.logger.Info("categories cache warm", "count", len(all))
	return nil
}

// Refresh forces a fetch, used by the periodic refresh runner.
func (s *Service) Refresh(ctx context.Context) error {
	_, err := s.GetCategories(ctx, true)
	return err
}

// Invalidate clears the categories cache.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.InvalidateAll(ctx)
}

// Stats reports cache introspection.
func (s *Service) Stats(ctx context.Context) cache.Stats {
	return s.cache.Stats(ctx)
}

// Close stops background refreshes.
func (s *Service) Close() {
	s.cache.Close()
}
