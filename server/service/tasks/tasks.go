// Package tasks caches every task in the user's projects, indexed by task
// id and by project id.
//
// Tasks are fetched per project rather than per assignee: time-entry
// creation must offer every task in the user's projects, not just the
// tasks assigned to the user.
package tasks

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/laneboard/laneboard/server/cache"
	"github.com/laneboard/laneboard/server/internal/errors"
	"github.com/laneboard/laneboard/server/service/projects"
	"github.com/laneboard/laneboard/server/upstream"
)

const (
	cacheName = "tasks"
	cacheKey  = "all_tasks"

	// DefaultTTL balances task churn against upstream load.
	DefaultTTL = time.Hour
)

// Data is the cached task snapshot. The indexes are rebuilt wholesale on
// every successful fetch, never patched incrementally, so they cannot
// drift from the task list.
type Data struct {
	Tasks     []upstream.Record            `json:"tasks"`
	Count     int                          `json:"count"`
	ByID      map[string]upstream.Record   `json:"tasks_by_id"`
	ByProject map[string][]upstream.Record `json:"tasks_by_project"`
}

// BuildData constructs the snapshot and its indexes from a flat task
// list.
func BuildData(all []upstream.Record) *Data {
	data := &Data{
		Tasks:     all,
		Count:     len(all),
		ByID:      make(map[string]upstream.Record),
		ByProject: make(map[string][]upstream.Record),
	}
	for _, task := range all {
		if id := task.ID("taskId"); id != "" {
			data.ByID[id] = task
		}
		if project := task.Sub("project"); project != nil {
			if projectID := project.ID("projectId"); projectID != "" {
				data.ByProject[projectID] = append(data.ByProject[projectID], task)
			}
		}
	}
	return data
}

// Service is the cache service for tasks across the user's projects.
type Service struct {
	cache    *cache.Store[*Data]
	client   *upstream.Client
	projects *projects.Service
	userID   string
	logger   *slog.Logger
}

// NewService creates the tasks cache service. userID is the configured
// user whose project memberships scope the fetch.
func NewService(client *upstream.Client, projectSvc *projects.Service, userID string, cfg cache.Config, logger *slog.Logger) *Service {
	cfg.DefaultTTL = DefaultTTL
	return &Service{
		cache:    cache.NewStore[*Data](cfg, cacheName, logger),
		client:   client,
		projects: projectSvc,
		userID:   userID,
		logger:   logger.With("service", cacheName),
	}
}

// fetchData pulls every task from every project the configured user
// belongs to. A project whose task fetch fails is skipped with a warning
// rather than failing the whole snapshot.
func (s *Service) fetchData(ctx context.Context) (*Data, error) {
	if s.userID == "" {
		return nil, errors.Configuration("upstream user id is not configured")
	}
	userID, err := strconv.ParseInt(s.userID, 10, 64)
	if err != nil {
		return nil, errors.Configuration("upstream user id is not numeric: " + s.userID)
	}

	userProjects, err := s.projects.GetUserProjects(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	s.logger.Info("fetching tasks", "user_id", s.userID, "projects", len(userProjects))

	var all []upstream.Record
	for _, project := range userProjects {
		projectID := project.ID("projectId")
		if projectID == "" {
			continue
		}
		projectTasks, err := upstream.DoValue(ctx, s.logger, "fetch project tasks", func(ctx context.Context) ([]upstream.Record, error) {
			return s.client.TasksByProject(ctx, projectID)
		})
		if err != nil {
			if errors.IsConfiguration(err) {
				return nil, err
			}
			s.logger.Warn("failed to fetch tasks for project, skipping", "project_id", projectID, "error", err)
			continue
		}
		all = append(all, projectTasks...)
	}

	s.logger.Info("fetched tasks", "count", len(all), "projects", len(userProjects))
	return BuildData(all), nil
}

func (s *Service) getData(ctx context.Context, forceRefresh bool) (*Data, error) {
	data, ok, err := s.cache.Get(ctx, cacheKey, s.fetchData, cache.GetOptions{ForceRefresh: forceRefresh})
	if err != nil {
		return nil, err
	}
	if !ok || data == nil {
		return &Data{ByID: map[string]upstream.Record{}, ByProject: map[string][]upstream.Record{}}, nil
	}
	return data, nil
}

// GetAllTasks returns every task in the user's projects.
func (s *Service) GetAllTasks(ctx context.Context, forceRefresh bool) ([]upstream.Record, error) {
	data, err := s.getData(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}
	return data.Tasks, nil
}

// GetTasksByProject returns the tasks of one project from the cached
// index.
func (s *Service) GetTasksByProject(ctx context.Context, projectID string, forceRefresh bool) ([]upstream.Record, error) {
	data, err := s.getData(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}
	return data.ByProject[projectID], nil
}

// GetTaskByID returns one task from the cached index, or nil when
// unknown.
func (s *Service) GetTaskByID(ctx context.Context, taskID string, forceRefresh bool) (upstream.Record, error) {
	data, err := s.getData(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}
	return data.ByID[taskID], nil
}

// WarmCache pre-populates the cache, skipping the fetch when valid data
// is already on disk.
func (s *Service) WarmCache(ctx context.Context) error {
	data, err := s.getData(ctx, false)
	if err != nil {
		return err
	}
	s.logger.Info("tasks cache warm", "count", data.Count)
	return nil
}

// Refresh forces a fetch, used by the periodic refresh runner.
func (s *Service) Refresh(ctx context.Context) error {
	_, err := s.getData(ctx, true)
	return err
}

// Invalidate clears the tasks cache.
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
