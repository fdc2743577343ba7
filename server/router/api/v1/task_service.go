package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListTasks returns every task in the configured user's projects,
// optionally filtered to one project with ?projectId=.
func (s *APIV1Service) ListTasks(c echo.Context) error {
	ctx := c.Request().Context()

	if projectID := c.QueryParam("projectId"); projectID != "" {
		records, err := s.Tasks.GetTasksByProject(ctx, projectID, forceRefresh(c))
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"tasks": records, "count": len(records)})
	}

	records, err := s.Tasks.GetAllTasks(ctx, forceRefresh(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": records, "count": len(records)})
}

// GetTask returns one task from the cached index.
func (s *APIV1Service) GetTask(c echo.Context) error {
	record, err := s.Tasks.GetTaskByID(c.Request().Context(), c.Param("taskId"), forceRefresh(c))
	if err != nil {
		return errorResponse(c, err)
	}
	if record == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "task not found"})
	}
	return c.JSON(http.StatusOK, record)
}
