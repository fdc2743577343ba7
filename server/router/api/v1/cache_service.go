package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/laneboard/laneboard/server/cache"
	apperrors "github.com/laneboard/laneboard/server/internal/errors"
)

type cacheControl struct {
	stats      func(context.Context) cache.Stats
	refresh    func(context.Context) error
	invalidate func(context.Context) error
}

// cacheControls maps the cache name to its maintenance operations.
func (s *APIV1Service) cacheControls() map[string]cacheControl {
	return map[string]cacheControl{
		"projects":        {s.Projects.Stats, s.Projects.Refresh, s.Projects.Invalidate},
		"tasks":           {s.Tasks.Stats, s.Tasks.Refresh, s.Tasks.Invalidate},
		"users":           {s.Users.Stats, s.Users.Refresh, s.Users.Invalidate},
		"time_entries":    {s.TimeEntries.Stats, s.TimeEntries.Refresh, s.TimeEntries.Invalidate},
		"categories":      {s.Categories.Stats, s.Categories.Refresh, s.Categories.Invalidate},
		"user_statistics": {s.Statistics.Stats, s.Statistics.Refresh, s.Statistics.Invalidate},
	}
}

// CacheStats reports introspection for every cache.
func (s *APIV1Service) CacheStats(c echo.Context) error {
	ctx := c.Request().Context()
	stats := make(map[string]cache.Stats)
	for name, controls := range s.cacheControls() {
		stats[name] = controls.stats(ctx)
	}
	return c.JSON(http.StatusOK, map[string]any{"caches": stats})
}

// RefreshCaches force-refreshes every cache, or one selected with
// ?cache=. Refreshes run concurrently; the first failure is reported but
// the rest still complete.
func (s *APIV1Service) RefreshCaches(c echo.Context) error {
	ctx := c.Request().Context()
	controls := s.cacheControls()

	if name := c.QueryParam("cache"); name != "" {
		control, ok := controls[name]
		if !ok {
			return errorResponse(c, apperrors.InvalidArgument("unknown cache "+name))
		}
		if err := control.refresh(ctx); err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"refreshed": name})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, control := range controls {
		refresh := control.refresh
		g.Go(func() error { return refresh(gctx) })
	}
	if err := g.Wait(); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"refreshed": "all"})
}

// InvalidateCaches clears every cache, or one selected with ?cache=.
func (s *APIV1Service) InvalidateCaches(c echo.Context) error {
	ctx := c.Request().Context()
	controls := s.cacheControls()

	if name := c.QueryParam("cache"); name != "" {
		control, ok := controls[name]
		if !ok {
			return errorResponse(c, apperrors.InvalidArgument("unknown cache "+name))
		}
		if err := control.invalidate(ctx); err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"invalidated": name})
	}

	for name, control := range controls {
		if err := control.invalidate(ctx); err != nil {
			return errorResponse(c, apperrors.Unavailable("failed to invalidate "+name, err))
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"invalidated": "all"})
}
