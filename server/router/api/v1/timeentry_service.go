package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/laneboard/laneboard/server/internal/errors"
	"github.com/laneboard/laneboard/server/upstream"
)

// timeEntryRequest is the mutation payload. RangeFrom/RangeTo scope the
// cache invalidation; when absent, the week containing Date is used.
type timeEntryRequest struct {
	TaskID      string `json:"taskId"`
	Minutes     int    `json:"minutes"`
	Date        string `json:"date"`
	Description string `json:"description"`
	CategoryID  string `json:"categoryId"`
	ProjectID   string `json:"projectId"`
	RangeFrom   string `json:"rangeFrom"`
	RangeTo     string `json:"rangeTo"`
}

func (r timeEntryRequest) input() upstream.TimeEntryInput {
	return upstream.TimeEntryInput{
		TaskID:      r.TaskID,
		Minutes:     r.Minutes,
		Date:        r.Date,
		Description: r.Description,
		CategoryID:  r.CategoryID,
	}
}

// ListTimeEntries returns the configured user's entries for a date range.
// from and to are required, projectId is optional.
func (s *APIV1Service) ListTimeEntries(c echo.Context) error {
	dateFrom := c.QueryParam("from")
	dateTo := c.QueryParam("to")
	if dateFrom == "" || dateTo == "" {
		return errorResponse(c, apperrors.InvalidArgument("from and to query parameters are required"))
	}

	records, err := s.TimeEntries.GetEntries(c.Request().Context(), dateFrom, dateTo, c.QueryParam("projectId"), forceRefresh(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"timeEntries": records, "count": len(records)})
}

// CreateTimeEntry creates an entry and invalidates the affected period.
func (s *APIV1Service) CreateTimeEntry(c echo.Context) error {
	var req timeEntryRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, apperrors.InvalidArgument("undecodable request body"))
	}
	if req.TaskID == "" || req.Minutes <= 0 || req.Date == "" {
		return errorResponse(c, apperrors.InvalidArgument("taskId, minutes and date are required"))
	}

	record, err := s.TimeEntries.CreateEntry(c.Request().Context(), req.input(), req.ProjectID, req.RangeFrom, req.RangeTo)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, record)
}

// UpdateTimeEntry updates an entry and invalidates the affected period.
func (s *APIV1Service) UpdateTimeEntry(c echo.Context) error {
	var req timeEntryRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, apperrors.InvalidArgument("undecodable request body"))
	}

	record, err := s.TimeEntries.UpdateEntry(c.Request().Context(), c.Param("entryId"), req.input(), req.ProjectID, req.RangeFrom, req.RangeTo)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

// DeleteTimeEntry deletes an entry and invalidates the affected period.
// The entry date arrives as ?date= for the week-fallback invalidation.
func (s *APIV1Service) DeleteTimeEntry(c echo.Context) error {
	err := s.TimeEntries.DeleteEntry(c.Request().Context(), c.Param("entryId"),
		c.QueryParam("date"), c.QueryParam("projectId"),
		c.QueryParam("rangeFrom"), c.QueryParam("rangeTo"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListCategories returns the time-entry categories.
func (s *APIV1Service) ListCategories(c echo.Context) error {
	records, err := s.Categories.GetCategories(c.Request().Context(), forceRefresh(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"categories": records, "count": len(records)})
}
