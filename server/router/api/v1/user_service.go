package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ListUsers returns the user directory, optionally filtered by ?email=.
func (s *APIV1Service) ListUsers(c echo.Context) error {
	ctx := c.Request().Context()

	if email := c.QueryParam("email"); email != "" {
		record, err := s.Users.GetUserByEmail(ctx, email, forceRefresh(c))
		if err != nil {
			return errorResponse(c, err)
		}
		if record == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "user not found"})
		}
		return c.JSON(http.StatusOK, record)
	}

	records, err := s.Users.GetAllUsers(ctx, forceRefresh(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"users": records, "count": len(records)})
}

// GetUser returns one user. The literal id "me" resolves to the
// configured upstream user.
func (s *APIV1Service) GetUser(c echo.Context) error {
	userID := c.Param("userId")
	if strings.EqualFold(userID, "me") {
		userID = s.Profile.UpstreamUserID
	}
	record, err := s.Users.GetUserByID(c.Request().Context(), userID, forceRefresh(c))
	if err != nil {
		return errorResponse(c, err)
	}
	if record == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "user not found"})
	}
	return c.JSON(http.StatusOK, record)
}

// GetUserStatistics returns the cached statistics aggregate for the
// configured user.
func (s *APIV1Service) GetUserStatistics(c echo.Context) error {
	stats, err := s.Statistics.GetStatistics(c.Request().Context(), forceRefresh(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
