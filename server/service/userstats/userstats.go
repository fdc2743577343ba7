// Package userstats caches a derived per-user aggregate: task counts by
// state, overdue and at-risk counts, and hours logged this week. The
// aggregate combines three upstream calls, hence the short TTL.
package userstats

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/laneboard/laneboard/server/cache"
	apperrors "github.com/laneboard/laneboard/server/internal/errors"
	"github.com/laneboard/laneboard/server/service/projects"
	"github.com/laneboard/laneboard/server/upstream"
)

const (
	cacheName = "user_statistics"

	// DefaultTTL is short: the aggregate is expensive to compute but
	// must track recent task and time-entry activity.
	DefaultTTL = 5 * time.Minute

	dateLayout = "2006-01-02"

	// bucketDisplayLimit caps how many tasks each bucket carries for
	// display.
	bucketDisplayLimit = 5
)

// UserSummary identifies the user the statistics belong to.
type UserSummary struct {
	UserID   string `json:"userId"`
	FullName string `json:"fullName"`
	EmailID  string `json:"emailId"`
}

// Summary is the numeric aggregate.
type Summary struct {
	TotalTasks          int     `json:"total_tasks"`
	ActiveTasks         int     `json:"active_tasks"`
	CompletedTasks      int     `json:"completed_tasks"`
	OverdueTasks        int     `json:"overdue_tasks"`
	AtRiskTasks         int     `json:"at_risk_tasks"`
	DueThisWeek         int     `json:"due_this_week"`
	HoursLoggedThisWeek float64 `json:"hours_logged_this_week"`
	ProjectsCount       int     `json:"projects_count"`
}

// TaskBuckets carries a display sample of tasks per state.
type TaskBuckets struct {
	Active      []upstream.Record `json:"active"`
	AtRisk      []upstream.Record `json:"at_risk"`
	DueThisWeek []upstream.Record `json:"due_this_week"`
	Overdue     []upstream.Record `json:"overdue"`
}

// Statistics is the cached aggregate.
type Statistics struct {
	User        UserSummary `json:"user"`
	Statistics  Summary     `json:"statistics"`
	Tasks       TaskBuckets `json:"tasks"`
	CacheStatus string      `json:"cache_status,omitempty"`
	LastUpdated string      `json:"last_updated,omitempty"`
}

// Service is the cache service for user statistics.
type Service struct {
	cache    *cache.Store[*Statistics]
	client   *upstream.Client
	projects *projects.Service
	userID   string
	logger   *slog.Logger
}

// NewService creates the user-statistics cache service.
func NewService(client *upstream.Client, projectSvc *projects.Service, userID string, cfg cache.Config, logger *slog.Logger) *Service {
	cfg.DefaultTTL = DefaultTTL
	return &Service{
		cache:    cache.NewStore[*Statistics](cfg, cacheName, logger),
		client:   client,
		projects: projectSvc,
		userID:   userID,
		logger:   logger.With("service", cacheName),
	}
}

func (s *Service) cacheKey() string {
	return "user_" + s.userID + "_stats"
}

// fetchStatistics builds the aggregate from the upstream user record, the
// user's assigned tasks, and this week's time entries.
func (s *Service) fetchStatistics(ctx context.Context) (*Statistics, error) {
	if s.userID == "" {
		return nil, apperrors.Configuration("upstream user id is not configured")
	}
	s.logger.Info("fetching user statistics", "user_id", s.userID)

	user, err := upstream.DoValue(ctx, s.logger, "fetch user", func(ctx context.Context) (upstream.Record, error) {
		return s.client.GetUser(ctx, s.userID)
	})
	if err != nil {
		return nil, err
	}

	// Only tasks assigned to the user; the full per-project sweep
	// belongs to the tasks cache.
	assigned, err := upstream.DoValue(ctx, s.logger, "fetch assigned tasks", func(ctx context.Context) ([]upstream.Record, error) {
		return s.client.SearchTasks(ctx, upstream.TaskQuery{AssigneeID: s.userID, PageSize: 500})
	})
	if err != nil {
		return nil, err
	}

	today := time.Now().UTC()
	stats := bucketTasks(assigned, today)

	weekStart := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
	entries, err := upstream.DoValue(ctx, s.logger, "fetch week time entries", func(ctx context.Context) ([]upstream.Record, error) {
		return s.client.SearchTimeEntries(ctx, upstream.TimeEntryQuery{
			UserID:   s.userID,
			DateFrom: weekStart.Format(dateLayout),
			DateTo:   today.Format(dateLayout),
		})
	})
	if err != nil {
		s.logger.Warn("could not fetch week time entries for statistics", "error", err)
	} else {
		stats.Statistics.HoursLoggedThisWeek = hoursLogged(entries)
	}

	// Prefer the projects cache for the membership count; the
	// task-derived count stays as fallback.
	if userID, convErr := strconv.ParseInt(s.userID, 10, 64); convErr == nil {
		if userProjects, projErr := s.projects.GetUserProjects(ctx, userID, false); projErr == nil {
			stats.Statistics.ProjectsCount = len(userProjects)
		} else {
			s.logger.Warn("could not get projects from cache for statistics", "error", projErr)
		}
	}

	firstName := user.String("firstName")
	lastName := user.String("lastName")
	fullName := strings.TrimSpace(firstName + " " + lastName)
	if fullName == "" {
		fullName = "Unknown User"
	}
	email := user.String("email")
	if email == "" {
		email = user.String("emailId")
	}
	stats.User = UserSummary{
		UserID:   user.ID("userId"),
		FullName: fullName,
		EmailID:  email,
	}
	return stats, nil
}

// bucketTasks categorizes assigned tasks by completion state, risk flag
// and due date relative to today.
func bucketTasks(tasks []upstream.Record, today time.Time) *Statistics {
	stats := &Statistics{}
	day := today.Truncate(24 * time.Hour)
	weekEnd := day.AddDate(0, 0, 7)
	projectIDs := make(map[string]struct{})

	var active, completed, overdue, atRisk, dueThisWeek []upstream.Record
	for _, task := range tasks {
		if project := task.Sub("project"); project != nil {
			if id := project.ID("projectId"); id != "" {
				projectIDs[id] = struct{}{}
			}
		}

		label := ""
		if status := task.Sub("status"); status != nil {
			label = strings.ToLower(status.String("label"))
		}
		if label == "completed" || label == "done" || label == "closed" {
			completed = append(completed, task)
			continue
		}
		active = append(active, task)

		if task.Bool("atRisk") {
			atRisk = append(atRisk, task)
		}
		if dueRaw := task.String("dueDate"); dueRaw != "" {
			if due, err := time.Parse(dateLayout, dueRaw); err == nil {
				switch {
				case due.Before(day):
					overdue = append(overdue, task)
				case !due.After(weekEnd):
					dueThisWeek = append(dueThisWeek, task)
				}
			}
		}
	}

	stats.Statistics = Summary{
		TotalTasks:     len(tasks),
		ActiveTasks:    len(active),
		CompletedTasks: len(completed),
		OverdueTasks:   len(overdue),
		AtRiskTasks:    len(atRisk),
		DueThisWeek:    len(dueThisWeek),
		ProjectsCount:  len(projectIDs),
	}
	stats.Tasks = TaskBuckets{
		Active:      limit(active),
		AtRisk:      limit(atRisk),
		DueThisWeek: limit(dueThisWeek),
		Overdue:     limit(overdue),
	}
	return stats
}

func limit(tasks []upstream.Record) []upstream.Record {
	if len(tasks) > bucketDisplayLimit {
		return tasks[:bucketDisplayLimit]
	}
	return tasks
}

// hoursLogged sums entry durations, tolerating both duration field names
// the upstream is known to use.
func hoursLogged(entries []upstream.Record) float64 {
	var totalMinutes int64
	for _, entry := range entries {
		if minutes, ok := entry.Int("minutes"); ok && minutes > 0 {
			totalMinutes += minutes
		} else if minutes, ok := entry.Int("durationInMinutes"); ok {
			totalMinutes += minutes
		}
	}
	// One decimal, matching the display contract.
	return float64(totalMinutes*10/60) / 10
}

// GetStatistics returns the cached aggregate, annotated with cache
// metadata.
func (s *Service) GetStatistics(ctx context.Context, forceRefresh bool) (*Statistics, error) {
	stats, ok, err := s.cache.Get(ctx, s.cacheKey(), s.fetchStatistics, cache.GetOptions{ForceRefresh: forceRefresh})
	if err != nil {
		return nil, err
	}
	if !ok || stats == nil {
		return nil, apperrors.Unavailable("statistics unavailable", nil)
	}

	annotated := *stats
	annotated.CacheStatus = "fresh"
	if forceRefresh {
		annotated.CacheStatus = "refreshed"
	}
	annotated.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	return &annotated, nil
}

// WarmCache pre-populates the cache, skipping the fetch when valid data
// is already on disk.
func (s *Service) WarmCache(ctx context.Context) error {
	_, err := s.GetStatistics(ctx, false)
	return err
}

// Refresh forces a fetch, used by the periodic refresh runner.
func (s *Service) Refresh(ctx context.Context) error {
	_, err := s.GetStatistics(ctx, true)
	return err
}

// Invalidate clears the statistics cache.
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
