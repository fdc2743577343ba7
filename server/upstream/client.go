package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	apperrors "github.com/laneboard/laneboard/server/internal/errors"
)

const (
	defaultTimeout = 30 * time.Second
	defaultPageSize = 100
	// maxPages is a safety ceiling against a pagination loop that never
	// terminates.
	maxPages = 20
	// interPageDelay spaces out paginated requests to stay under the
	// upstream rate limit.
	interPageDelay = 500 * time.Millisecond
	// defaultRetryAfter applies when a 429 response carries no usable
	// Retry-After header.
	defaultRetryAfter = 60 * time.Second
)

// Options configures the upstream client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client talks to the upstream project-management API. All calls honor the
// context, carry an explicit timeout, and classify failures through the
// server/internal/errors taxonomy.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates an upstream client. The request limiter keeps the
// aggregate request rate under the upstream quota regardless of how many
// cache services share the client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		logger:  logger.With("component", "upstream"),
	}
}

// TaskQuery filters a task search.
type TaskQuery struct {
	ProjectID  string
	Status     string
	AssigneeID string
	PageSize   int
}

// TimeEntryQuery filters a time-entry search.
type TimeEntryQuery struct {
	UserID    string
	ProjectID string
	DateFrom  string // YYYY-MM-DD, inclusive
	DateTo    string // YYYY-MM-DD, inclusive
	PageSize  int
}

// TimeEntryInput is the payload for creating or updating a time entry.
type TimeEntryInput struct {
	TaskID      string
	UserID      string
	Minutes     int
	Date        string // YYYY-MM-DD
	Description string
	CategoryID  string
}

func (in TimeEntryInput) payload() map[string]any {
	payload := map[string]any{
		"taskId":      in.TaskID,
		"userId":      in.UserID,
		"minutes":     in.Minutes,
		"date":        in.Date,
		"description": in.Description,
	}
	if in.CategoryID != "" {
		payload["categoryId"] = in.CategoryID
	}
	return payload
}

// statusFilterValues maps common status strings to the numeric values the
// upstream search API expects.
var statusFilterValues = map[string]string{
	"todo":        "1",
	"to_do":       "1",
	"not_done":    "1",
	"in_progress": "2",
	"completed":   "3",
	"done":        "3",
}

// ListProjects pages through all projects.
func (c *Client) ListProjects(ctx context.Context) ([]Record, error) {
	return c.listAll(ctx, "/projects", nil, "projects")
}

// GetProject fetches a single project by id.
func (c *Client) GetProject(ctx context.Context, projectID string) (Record, error) {
	return c.getOne(ctx, "/projects/"+url.PathEscape(projectID))
}

// ListUsers pages through all users.
func (c *Client) ListUsers(ctx context.Context) ([]Record, error) {
	query := url.Values{}
	query.Set("pageSize", "200")
	return c.listAll(ctx, "/users", query, "users")
}

// GetUser fetches a single user by id.
func (c *Client) GetUser(ctx context.Context, userID string) (Record, error) {
	return c.getOne(ctx, "/users/"+url.PathEscape(userID))
}

// TasksByProject fetches all tasks of one project, regardless of assignee.
func (c *Client) TasksByProject(ctx context.Context, projectID string) ([]Record, error) {
	return c.SearchTasks(ctx, TaskQuery{ProjectID: projectID})
}

// SearchTasks fetches tasks matching the query.
func (c *Client) SearchTasks(ctx context.Context, q TaskQuery) ([]Record, error) {
	query := url.Values{}
	if q.PageSize > 0 {
		query.Set("pageSize", strconv.Itoa(q.PageSize))
	}

	var filters []string
	if q.ProjectID != "" {
		filters = append(filters, "project.eq="+q.ProjectID)
	}
	if q.Status != "" {
		value := q.Status
		if mapped, ok := statusFilterValues[strings.ToLower(q.Status)]; ok {
			value = mapped
		}
		filters = append(filters, "status.eq="+value)
	}
	if q.AssigneeID != "" {
		filters = append(filters, "assignees.cn="+q.AssigneeID)
	}
	if len(filters) > 0 {
		query.Set("filters", strings.Join(filters, ","))
	}
	return c.listAll(ctx, "/tasks", query, "tasks")
}

// SearchTimeEntries fetches time entries matching the query. The upstream
// API has no unfiltered "all entries" endpoint; callers always scope by
// date range and user.
func (c *Client) SearchTimeEntries(ctx context.Context, q TimeEntryQuery) ([]Record, error) {
	query := url.Values{}
	if q.PageSize > 0 {
		query.Set("pageSize", strconv.Itoa(q.PageSize))
	}

	var filters []string
	if q.UserID != "" {
		filters = append(filters, "user.eq="+q.UserID)
	}
	if q.ProjectID != "" {
		filters = append(filters, "project.eq="+q.ProjectID)
	}
	if q.DateFrom != "" {
		filters = append(filters, "date.ge="+q.DateFrom)
	}
	if q.DateTo != "" {
		filters = append(filters, "date.le="+q.DateTo)
	}
	if len(filters) > 0 {
		query.Set("filters", strings.Join(filters, ","))
	}
	return c.listAll(ctx, "/time-entries/search", query, "timeEntries")
}

// CreateTimeEntry creates a time entry.
func (c *Client) CreateTimeEntry(ctx context.Context, in TimeEntryInput) (Record, error) {
	if in.UserID == "" {
		return nil, apperrors.InvalidArgument("user id is required for creating time entries")
	}
	raw, err := c.doJSON(ctx, http.MethodPost, "/time-entries", nil, in.payload())
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

// UpdateTimeEntry updates an existing time entry.
func (c *Client) UpdateTimeEntry(ctx context.Context, entryID string, in TimeEntryInput) (Record, error) {
	raw, err := c.doJSON(ctx, http.MethodPut, "/time-entries/"+url.PathEscape(entryID), nil, in.payload())
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

// DeleteTimeEntry deletes a time entry.
func (c *Client) DeleteTimeEntry(ctx context.Context, entryID string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, "/time-entries/"+url.PathEscape(entryID), nil, nil)
	return err
}

// ListCategories fetches all time-entry categories.
func (c *Client) ListCategories(ctx context.Context) ([]Record, error) {
	return c.listAll(ctx, "/time-entry-categories", nil, "categories")
}

func (c *Client) getOne(ctx context.Context, path string) (Record, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

// listAll pages through a list endpoint until the envelope reports no
// more pages, the page ceiling is hit, or the response has no page token.
// A failure after at least one successful page returns the partial result
// with a warning instead of an error (progressive degradation).
func (c *Client) listAll(ctx context.Context, path string, query url.Values, namedKey string) ([]Record, error) {
	if query == nil {
		query = url.Values{}
	}
	if query.Get("pageSize") == "" {
		query.Set("pageSize", strconv.Itoa(defaultPageSize))
	}

	var all []Record
	pageToken := ""
	for pageCount := 0; pageCount < maxPages; pageCount++ {
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		c.logger.Debug("fetching page", "path", path, "page", pageCount+1, "token", pageToken)
		raw, err := c.doJSON(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			if retryAfter, ok := apperrors.RetryAfterOf(err); ok {
				// Rate limited mid-pagination: wait and retry the same
				// page without consuming the page budget.
				c.logger.Warn("rate limited, waiting", "path", path, "wait", retryAfter.String())
				select {
				case <-ctx.Done():
					return all, ctx.Err()
				case <-time.After(retryAfter):
				}
				pageCount--
				continue
			}
			if len(all) > 0 {
				c.logger.Warn("pagination interrupted, returning partial results",
					"path", path, "records", len(all), "error", err)
				return all, nil
			}
			return nil, err
		}

		page, err := decodeListPage(raw, namedKey)
		if err != nil {
			if len(all) > 0 {
				c.logger.Warn("undecodable page, returning partial results",
					"path", path, "records", len(all), "error", err)
				return all, nil
			}
			return nil, err
		}
		all = append(all, page.records...)

		if !page.hasMore || page.nextPageToken == "" {
			break
		}
		pageToken = page.nextPageToken

		select {
		case <-ctx.Done():
			return all, ctx.Err()
		case <-time.After(interPageDelay):
		}
	}

	c.logger.Info("fetched records", "path", path, "count", len(all))
	return all, nil
}

type listPage struct {
	records       []Record
	hasMore       bool
	nextPageToken string
}

// decodeListPage tolerates the envelope shapes the upstream is known to
// produce: a bare array, {"data": [...], "pagination": {...}}, or a
// single named key ({"projects": [...]}).
func decodeListPage(raw []byte, namedKey string) (listPage, error) {
	var bare []Record
	if err := json.Unmarshal(raw, &bare); err == nil {
		return listPage{records: bare}, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return listPage{}, errors.Wrap(err, "undecodable list response")
	}

	page := listPage{}
	if data, ok := envelope["data"]; ok {
		if err := json.Unmarshal(data, &page.records); err != nil {
			return listPage{}, errors.Wrap(err, "undecodable data array")
		}
		if rawPagination, ok := envelope["pagination"]; ok {
			var pagination struct {
				HasMore       bool   `json:"hasMore"`
				NextPageToken string `json:"nextPageToken"`
			}
			if err := json.Unmarshal(rawPagination, &pagination); err == nil {
				page.hasMore = pagination.HasMore
				page.nextPageToken = pagination.NextPageToken
			}
		}
		return page, nil
	}
	if data, ok := envelope[namedKey]; ok {
		if err := json.Unmarshal(data, &page.records); err != nil {
			return listPage{}, errors.Wrapf(err, "undecodable %q array", namedKey)
		}
		return page, nil
	}
	// Unknown envelope: treat as an empty page rather than failing the
	// whole fetch.
	return listPage{}, nil
}

func decodeRecord(raw []byte) (Record, error) {
	if len(raw) == 0 {
		return Record{}, nil
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, errors.Wrap(err, "undecodable record response")
	}
	return record, nil
}

// doJSON performs one HTTP call and classifies failures. The response body
// is returned raw for the caller to decode.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	if c.apiKey == "" {
		return nil, apperrors.Configuration("upstream API key is not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request body")
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build request for %s", path)
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, apperrors.Timeout("upstream request timed out", err)
		}
		return nil, apperrors.Unavailable("upstream request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Unavailable("failed to read upstream response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, apperrors.Unauthorized("invalid upstream API key")
	case resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.Unauthorized("access forbidden, check API key permissions")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.RateLimited("upstream rate limit exceeded", parseRetryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode >= 500:
		return nil, apperrors.Unavailable("upstream returned "+resp.Status, nil)
	case resp.StatusCode >= 400:
		return nil, apperrors.InvalidArgument("upstream rejected request: " + resp.Status)
	}
	return raw, nil
}

func parseRetryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}
