// Package projects caches the upstream project list and answers
// membership-filtered queries over it.
package projects

import (
	"context"
	"log/slog"
	"time"

	"github.com/laneboard/laneboard/server/cache"
	"github.com/laneboard/laneboard/server/upstream"
)

const (
	cacheName = "projects"
	cacheKey  = "all_projects"

	// DefaultTTL is long because the project roster changes rarely.
	DefaultTTL = 24 * time.Hour
)

// Service is the cache service for upstream projects.
type Service struct {
	cache  *cache.Store[[]upstream.Record]
	client *upstream.Client
	logger *slog.Logger
}

// NewService creates the projects cache service. cfg supplies the cache
// directory and behavior flags; the TTL is fixed per domain.
func NewService(client *upstream.Client, cfg cache.Config, logger *slog.Logger) *Service {
	cfg.DefaultTTL = DefaultTTL
	return &Service{
		cache:  cache.NewStore[[]upstream.Record](cfg, cacheName, logger),
		client: client,
		logger: logger.With("service", cacheName),
	}
}

func (s *Service) fetchProjects(ctx context.Context) ([]upstream.Record, error) {
	return upstream.DoValue(ctx, s.logger, "fetch projects", s.client.ListProjects)
}

// GetAllProjects returns every upstream project, from cache when valid.
func (s *Service) GetAllProjects(ctx context.Context, forceRefresh bool) ([]upstream.Record, error) {
	records, _, err := s.cache.Get(ctx, cacheKey, s.fetchProjects, cache.GetOptions{ForceRefresh: forceRefresh})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetUserProjects returns the projects where the user appears in the
// team-member roster. The upstream API has no server-side membership
// filter, so the nested members structure is scanned here.
func (s *Service) GetUserProjects(ctx context.Context, userID int64, forceRefresh bool) ([]upstream.Record, error) {
	all, err := s.GetAllProjects(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}

	var member []upstream.Record
	for _, project := range all {
		if IsMember(project, userID) {
			member = append(member, project)
		}
	}
	s.logger.Debug("filtered user projects", "user_id", userID, "member_of", len(member), "total", len(all))
	return member, nil
}

// IsMember reports whether the user appears in the project's
// teamMembers.members roster.
func IsMember(project upstream.Record, userID int64) bool {
	team := project.Sub("teamMembers")
	if team == nil {
		return false
	}
	for _, member := range team.List("members") {
		if id, ok := member.Int("userId"); ok && id == userID {
			return true
		}
	}
	return false
}

// GetProjectByID returns a single project. The cached list is consulted
// first; a project missing from it (for example, newly created upstream)
// is fetched directly.
func (s *Service) GetProjectByID(ctx context.Context, projectID string, forceRefresh bool) (upstream.Record, error) {
	all, err := s.GetAllProjects(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}
	for _, project := range all {
		if project.ID("projectId") == projectID {
			return project, nil
		}
	}

	s.logger.Debug("project not in cached list, fetching directly", "project_id", projectID)
	return upstream.DoValue(ctx, s.logger, "fetch project", func(ctx context.Context) (upstream.Record, error) {
		return s.client.GetProject(ctx, projectID)
	})
}

// WarmCache pre-populates the cache, skipping the upstream fetch when
// valid data is already on disk.
func (s *Service) WarmCache(ctx context.Context) error {
	projects, err := s.GetAllProjects(ctx, false)
	if err != nil {
		return err
	}
	s.logger.Info("projects cache warm", "count", len(projects))
	return nil
}

// Refresh forces a fetch, used by the periodic refresh runner.
func (s *Service) Refresh(ctx context.Context) error {
	_, err := s.GetAllProjects(ctx, true)
	return err
}

// Invalidate clears the projects cache.
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
