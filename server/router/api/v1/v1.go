// Package v1 exposes the cached project-management data over REST.
package v1

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/laneboard/laneboard/internal/profile"
	apperrors "github.com/laneboard/laneboard/server/internal/errors"
	"github.com/laneboard/laneboard/internal/observability"
	"github.com/laneboard/laneboard/server/service/categories"
	"github.com/laneboard/laneboard/server/service/projects"
	"github.com/laneboard/laneboard/server/service/summary"
	"github.com/laneboard/laneboard/server/service/tasks"
	"github.com/laneboard/laneboard/server/service/timeentries"
	"github.com/laneboard/laneboard/server/service/users"
	"github.com/laneboard/laneboard/server/service/userstats"
)

// APIV1Service holds the handlers of the v1 REST API. Every dependency
// arrives through the constructor.
type APIV1Service struct {
	Profile     *profile.Profile
	Projects    *projects.Service
	Tasks       *tasks.Service
	Users       *users.Service
	TimeEntries *timeentries.Service
	Categories  *categories.Service
	Statistics  *userstats.Service
	Summary     *summary.Service

	logger *slog.Logger
}

// NewAPIV1Service creates the v1 API service.
func NewAPIV1Service(
	logger *slog.Logger,
	prof *profile.Profile,
	projectSvc *projects.Service,
	taskSvc *tasks.Service,
	userSvc *users.Service,
	timeEntrySvc *timeentries.Service,
	categorySvc *categories.Service,
	statsSvc *userstats.Service,
	summarySvc *summary.Service,
) *APIV1Service {
	return &APIV1Service{
		Profile:     prof,
		Projects:    projectSvc,
		Tasks:       taskSvc,
		Users:       userSvc,
		TimeEntries: timeEntrySvc,
		Categories:  categorySvc,
		Statistics:  statsSvc,
		Summary:     summarySvc,
		logger:      logger.With("component", "api"),
	}
}

// RegisterRoutes mounts the v1 routes on the echo instance.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", s.Health)

	g := e.Group("/api/v1", s.requestIDMiddleware)

	g.GET("/projects", s.ListProjects)
	g.GET("/projects/:projectId", s.GetProject)
	g.GET("/projects/:projectId/tasks", s.ListProjectTasks)
	g.GET("/projects/:projectId/summarize", s.SummarizeProject)
	g.GET("/projects/:projectId/summarize/stream", s.SummarizeProjectStream)

	g.GET("/tasks", s.ListTasks)
	g.GET("/tasks/:taskId", s.GetTask)

	g.GET("/users", s.ListUsers)
	g.GET("/users/:userId", s.GetUser)
	g.GET("/users/me/statistics", s.GetUserStatistics)

	g.GET("/time-entries", s.ListTimeEntries)
	g.POST("/time-entries", s.CreateTimeEntry)
	g.PUT("/time-entries/:entryId", s.UpdateTimeEntry)
	g.DELETE("/time-entries/:entryId", s.DeleteTimeEntry)
	g.GET("/time-entry-categories", s.ListCategories)

	g.GET("/cache/stats", s.CacheStats)
	g.POST("/cache/refresh", s.RefreshCaches)
	g.POST("/cache/invalidate", s.InvalidateCaches)
}

// requestIDMiddleware tags every request and response with a short
// request id and attaches a request-scoped logger to the context.
func (s *APIV1Service) requestIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Request().Header.Get(echo.HeaderXRequestID)
		if requestID == "" {
			requestID = shortuuid.New()
		}
		c.Response().Header().Set(echo.HeaderXRequestID, requestID)

		req := c.Request()
		ctx := observability.WithLogger(req.Context(),
			s.logger.With(observability.LogFieldRequestID, requestID))
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

// Health reports liveness.
func (s *APIV1Service) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.Profile.Version,
	})
}

// forceRefresh reads the refresh query flag.
func forceRefresh(c echo.Context) bool {
	refresh, _ := strconv.ParseBool(c.QueryParam("refresh"))
	return refresh
}

// errorResponse maps the upstream error taxonomy to HTTP statuses.
// Misconfiguration is the caller's problem to surface loudly, transient
// upstream failures map to gateway statuses.
func errorResponse(c echo.Context, err error) error {
	observability.FromContext(c.Request().Context()).Warn("request failed",
		"method", c.Request().Method, "path", c.Path(), "error", err)

	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeConfiguration, apperrors.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case apperrors.ErrCodeInvalidArgument:
		status = http.StatusBadRequest
	case apperrors.ErrCodeRateLimited:
		status = http.StatusTooManyRequests
		if retryAfter, ok := apperrors.RetryAfterOf(err); ok {
			c.Response().Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		}
	case apperrors.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	case apperrors.ErrCodeUpstreamUnavailable:
		status = http.StatusBadGateway
	}
	return c.JSON(status, map[string]any{
		"error": err.Error(),
		"code":  string(apperrors.CodeOf(err)),
	})
}
