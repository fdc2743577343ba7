// Package server wires the cache services, the upstream client and the
// REST API together and owns their lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/laneboard/laneboard/internal/profile"
	"github.com/laneboard/laneboard/plugin/llm"
	"github.com/laneboard/laneboard/server/cache"
	"github.com/laneboard/laneboard/server/middleware"
	apiv1 "github.com/laneboard/laneboard/server/router/api/v1"
	"github.com/laneboard/laneboard/server/runner/refresh"
	"github.com/laneboard/laneboard/server/service/categories"
	"github.com/laneboard/laneboard/server/service/projects"
	"github.com/laneboard/laneboard/server/service/summary"
	"github.com/laneboard/laneboard/server/service/tasks"
	"github.com/laneboard/laneboard/server/service/timeentries"
	"github.com/laneboard/laneboard/server/service/users"
	"github.com/laneboard/laneboard/server/service/userstats"
	"github.com/laneboard/laneboard/server/upstream"
)

// Refresh intervals per cache. Short-lived caches refresh often so
// readers rarely pay the fetch latency.
const (
	projectsRefreshInterval   = 30 * time.Minute
	usersRefreshInterval      = time.Hour
	tasksRefreshInterval      = 5 * time.Minute
	categoriesRefreshInterval = 24 * time.Hour
	statsRefreshInterval      = 5 * time.Minute
	entriesRefreshInterval    = 15 * time.Minute
)

// Server is the composition root.
type Server struct {
	Profile *profile.Profile

	echoServer *echo.Echo
	logger     *slog.Logger
	refresher  *refresh.Manager

	projects    *projects.Service
	tasks       *tasks.Service
	users       *users.Service
	timeEntries *timeentries.Service
	categories  *categories.Service
	statistics  *userstats.Service
}

// NewServer builds every component from the profile. No globals: the
// dependency graph is explicit here.
func NewServer(ctx context.Context, prof *profile.Profile, logger *slog.Logger) (*Server, error) {
	client := upstream.NewClient(upstream.Options{
		BaseURL: prof.UpstreamBaseURL,
		APIKey:  prof.UpstreamAPIKey,
		Logger:  logger,
	})

	cacheCfg := cache.Config{
		Dir:               prof.CacheDir,
		DefaultTTL:        prof.CacheDefaultTTL,
		StaleFallback:     prof.CacheStaleFallback,
		BackgroundRefresh: prof.CacheBackgroundRefresh,
	}

	projectSvc := projects.NewService(client, cacheCfg, logger)
	taskSvc := tasks.NewService(client, projectSvc, prof.UpstreamUserID, cacheCfg, logger)
	userSvc := users.NewService(client, cacheCfg, logger)
	timeEntrySvc := timeentries.NewService(client, prof.UpstreamUserID, cacheCfg, logger)
	categorySvc := categories.NewService(client, cacheCfg, logger)
	statsSvc := userstats.NewService(client, projectSvc, prof.UpstreamUserID, cacheCfg, logger)

	var chatter summary.Chatter
	if prof.IsLLMEnabled() {
		provider, err := llm.NewProvider(llm.Config{
			Provider:  prof.LLMProvider,
			BaseURL:   prof.LLMBaseURL,
			APIKey:    prof.LLMAPIKey,
			ChatModel: prof.LLMModel,
		}, logger)
		if err != nil {
			return nil, err
		}
		chatter = provider
	} else {
		logger.Info("no LLM provider configured, summarization disabled")
	}
	summarySvc := summary.NewService(chatter, client, projectSvc, prof.UpstreamUserID, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.NewRateLimiter(0, 0).Middleware())

	api := apiv1.NewAPIV1Service(logger, prof, projectSvc, taskSvc, userSvc, timeEntrySvc, categorySvc, statsSvc, summarySvc)
	api.RegisterRoutes(e)

	refresher := refresh.NewManager(logger)
	refresher.Add("projects", projectsRefreshInterval, projectSvc.Refresh)
	refresher.Add("users", usersRefreshInterval, userSvc.Refresh)
	refresher.Add("tasks", tasksRefreshInterval, taskSvc.Refresh)
	refresher.Add("categories", categoriesRefreshInterval, categorySvc.Refresh)
	refresher.Add("user_statistics", statsRefreshInterval, statsSvc.Refresh)
	refresher.Add("time_entries", entriesRefreshInterval, timeEntrySvc.Refresh)

	return &Server{
		Profile:     prof,
		echoServer:  e,
		logger:      logger,
		refresher:   refresher,
		projects:    projectSvc,
		tasks:       taskSvc,
		users:       userSvc,
		timeEntries: timeEntrySvc,
		categories:  categorySvc,
		statistics:  statsSvc,
	}, nil
}

// Echo exposes the router, used by tests.
func (s *Server) Echo() *echo.Echo {
	return s.echoServer
}

// warmers are the caches warmed concurrently at startup.
func (s *Server) warmers() map[string]cache.Warmer {
	return map[string]cache.Warmer{
		"projects":        s.projects,
		"users":           s.users,
		"tasks":           s.tasks,
		"categories":      s.categories,
		"user_statistics": s.statistics,
		"time_entries":    s.timeEntries,
	}
}

// WarmCaches pre-populates every cache concurrently. Warm failures are
// logged but never abort startup; the caches fill lazily instead.
func (s *Server) WarmCaches(ctx context.Context) {
	if !s.Profile.IsUpstreamConfigured() {
		s.logger.Warn("upstream is not configured, skipping cache warmup")
		return
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for name, warmer := range s.warmers() {
		name, warmer := name, warmer
		g.Go(func() error {
			if err := warmer.WarmCache(gctx); err != nil {
				s.logger.Warn("cache warmup failed", "cache", name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	s.logger.Info("cache warmup finished", "elapsed", time.Since(start))
}

// Start warms the caches, starts the refresh runners, and serves HTTP
// until the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.WarmCaches(ctx)
	if s.Profile.IsUpstreamConfigured() {
		s.refresher.Start(ctx)
	} else {
		s.logger.Warn("upstream is not configured, refresh runners not started")
	}

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	s.logger.Info("server listening", "address", address, "version", s.Profile.Version)
	if err := s.echoServer.Start(address); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains HTTP, stops the runners, and closes every cache,
// joining their background refresh goroutines.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.echoServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shut down http server", "error", err)
	}

	s.refresher.Stop()

	s.projects.Close()
	s.tasks.Close()
	s.users.Close()
	s.timeEntries.Close()
	s.categories.Close()
	s.statistics.Close()

	s.logger.Info("server shut down")
}
