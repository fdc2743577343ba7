package v1

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	apperrors "github.com/laneboard/laneboard/server/internal/errors"
)

// ListProjects returns all projects, or only the configured user's
// projects with ?mine=true.
func (s *APIV1Service) ListProjects(c echo.Context) error {
	ctx := c.Request().Context()

	if mine, _ := strconv.ParseBool(c.QueryParam("mine")); mine {
		userID, err := strconv.ParseInt(s.Profile.UpstreamUserID, 10, 64)
		if err != nil {
			return errorResponse(c, apperrors.Configuration("upstream user id is not configured"))
		}
		records, err := s.Projects.GetUserProjects(ctx, userID, forceRefresh(c))
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"projects": records, "count": len(records)})
	}

	records, err := s.Projects.GetAllProjects(ctx, forceRefresh(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"projects": records, "count": len(records)})
}

// GetProject returns one project.
func (s *APIV1Service) GetProject(c echo.Context) error {
	record, err := s.Projects.GetProjectByID(c.Request().Context(), c.Param("projectId"), forceRefresh(c))
	if err != nil {
		return errorResponse(c, err)
	}
	if record == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "project not found"})
	}
	return c.JSON(http.StatusOK, record)
}

// ListProjectTasks returns the tasks of one project from the tasks cache.
func (s *APIV1Service) ListProjectTasks(c echo.Context) error {
	records, err := s.Tasks.GetTasksByProject(c.Request().Context(), c.Param("projectId"), forceRefresh(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": records, "count": len(records)})
}

// SummarizeProject returns an LLM summary of the project's outstanding
// tasks.
func (s *APIV1Service) SummarizeProject(c echo.Context) error {
	result, err := s.Summary.Summarize(c.Request().Context(), c.Param("projectId"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// SummarizeProjectStream streams the summary over server-sent events. The
// first event carries project metadata, subsequent events carry text
// chunks.
func (s *APIV1Service) SummarizeProjectStream(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := c.Param("projectId")

	meta, err := s.Summary.Metadata(ctx, projectID)
	if err != nil {
		return errorResponse(c, err)
	}
	contentChan, errChan, err := s.Summary.SummarizeStream(ctx, projectID)
	if err != nil {
		return errorResponse(c, err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.WriteHeader(http.StatusOK)

	if err := writeEvent(resp, "metadata", meta); err != nil {
		return err
	}
	for chunk := range contentChan {
		if err := writeEvent(resp, "chunk", map[string]string{"text": chunk}); err != nil {
			return err
		}
	}
	if streamErr := <-errChan; streamErr != nil {
		return writeEvent(resp, "error", map[string]string{"error": streamErr.Error()})
	}
	return writeEvent(resp, "done", map[string]bool{"done": true})
}

func writeEvent(resp *echo.Response, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := resp.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n")); err != nil {
		return err
	}
	resp.Flush()
	return nil
}
