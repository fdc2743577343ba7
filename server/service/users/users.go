// Package users caches the upstream user directory.
package users

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/laneboard/laneboard/server/cache"
	"github.com/laneboard/laneboard/server/upstream"
)

const (
	cacheName = "users"
	cacheKey  = "all_users"

	// DefaultTTL: users change less frequently than tasks but more often
	// than projects.
	DefaultTTL = 2 * time.Hour
)

// Service is the cache service for upstream users.
type Service struct {
	cache  *cache.Store[[]upstream.Record]
	client *upstream.Client
	logger *slog.Logger
}

// NewService creates the users cache service.
func NewService(client *upstream.Client, cfg cache.Config, logger *slog.Logger) *Service {
	cfg.DefaultTTL = DefaultTTL
	return &Service{
		cache:  cache.NewStore[[]upstream.Record](cfg, cacheName, logger),
		client: client,
		logger: logger.With("service", cacheName),
	}
}

func (s *Service) fetchUsers(ctx context.Context) ([]upstream.Record, error) {
	return upstream.DoValue(ctx, s.logger, "fetch users", s.client.ListUsers)
}

// GetAllUsers returns every upstream user, from cache when valid.
func (s *Service) GetAllUsers(ctx context.Context, forceRefresh bool) ([]upstream.Record, error) {
	records, _, err := s.cache.Get(ctx, cacheKey, s.fetchUsers, cache.GetOptions{ForceRefresh: forceRefresh})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetUserByID returns the user with the given id, or nil when unknown.
func (s *Service) GetUserByID(ctx context.Context, userID string, forceRefresh bool) (upstream.Record, error) {
	all, err := s.GetAllUsers(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}
	for _, user := range all {
		if user.ID("userId") == userID {
			return user, nil
		}
	}
	return nil, nil
}

// GetUserByEmail returns the user with the given email, case-insensitive,
// or nil when unknown.
func (s *Service) GetUserByEmail(ctx context.Context, email string, forceRefresh bool) (upstream.Record, error) {
	all, err := s.GetAllUsers(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}
	for _, user := range all {
		if strings.EqualFold(user.String("emailId"), email) {
			return user, nil
		}
	}
	return nil, nil
}

// WarmCache pre-populates the cache, skipping the fetch when valid data
// is already on disk.
func (s *Service) WarmCache(ctx context.Context) error {
	users, err := s.GetAllUsers(ctx, false)
	if err != nil {
		return err
	}
	s.logger.Info("users cache warm", "count", len(users))
	return nil
}

// Refresh forces a fetch, used by the periodic refresh runner.
func (s *Service) Refresh(ctx context.Context) error {
	_, err := s.GetAllUsers(ctx, true)
	return err
}

// Invalidate clears the users cache.
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
