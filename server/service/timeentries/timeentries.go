// Package timeentries caches time entries per query (date range, optional
// project, user) and keeps the cache coherent across entry mutations by
// invalidating exactly the affected date-range keys.
package timeentries

import (
	"context"
	"log/slog"
	"time"

	"github.com/laneboard/laneboard/server/cache"
	apperrors "github.com/laneboard/laneboard/server/internal/errors"
	"github.com/laneboard/laneboard/server/upstream"
)

const (
	cacheName = "time_entries"

	// DefaultTTL is short: time entries are the most mutable domain.
	DefaultTTL = 15 * time.Minute

	dateLayout = "2006-01-02"
)

// Service is the cache service for time entries.
type Service struct {
	cache  *cache.Store[[]upstream.Record]
	client *upstream.Client
	userID string
	logger *slog.Logger
}

// NewService creates the time-entries cache service scoped to the
// configured user.
func NewService(client *upstream.Client, userID string, cfg cache.Config, logger *slog.Logger) *Service {
	cfg.DefaultTTL = DefaultTTL
	return &Service{
		cache:  cache.NewStore[[]upstream.Record](cfg, cacheName, logger),
		client: client,
		userID: userID,
		logger: logger.With("service", cacheName),
	}
}

// cacheKey builds the per-query key: date range, optional project scope,
// and the configured user.
func (s *Service) cacheKey(dateFrom, dateTo, projectID string) string {
	key := dateFrom + "_" + dateTo
	if projectID != "" {
		key += "_" + projectID
	}
	return key + "_user_" + s.userID
}

func (s *Service) fetchPeriod(dateFrom, dateTo, projectID string) cache.FetchFunc[[]upstream.Record] {
	return func(ctx context.Context) ([]upstream.Record, error) {
		if s.userID == "" {
			return nil, apperrors.Configuration("upstream user id is not configured")
		}
		s.logger.Info("fetching time entries", "from", dateFrom, "to", dateTo, "project_id", projectID)
		return upstream.DoValue(ctx, s.logger, "fetch time entries", func(ctx context.Context) ([]upstream.Record, error) {
			return s.client.SearchTimeEntries(ctx, upstream.TimeEntryQuery{
				UserID:    s.userID,
				ProjectID: projectID,
				DateFrom:  dateFrom,
				DateTo:    dateTo,
			})
		})
	}
}

// GetEntries returns the user's time entries for the period, optionally
// scoped to one project.
func (s *Service) GetEntries(ctx context.Context, dateFrom, dateTo, projectID string, forceRefresh bool) ([]upstream.Record, error) {
	entries, _, err := s.cache.Get(ctx, s.cacheKey(dateFrom, dateTo, projectID),
		s.fetchPeriod(dateFrom, dateTo, projectID),
		cache.GetOptions{ForceRefresh: forceRefresh})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// InvalidatePeriod drops the cached entries for a period after a
// mutation. When the mutated query was project-scoped, the unscoped
// variant of the same range is dropped too, so both read paths refetch.
func (s *Service) InvalidatePeriod(ctx context.Context, dateFrom, dateTo, projectID string) error {
	if err := s.cache.Invalidate(ctx, s.cacheKey(dateFrom, dateTo, projectID)); err != nil {
		return err
	}
	if projectID != "" {
		if err := s.cache.Invalidate(ctx, s.cacheKey(dateFrom, dateTo, "")); err != nil {
			return err
		}
	}
	s.logger.Info("invalidated time entries period", "from", dateFrom, "to", dateTo)
	return nil
}

// WeekRange returns the Monday-to-Sunday week containing date. It is the
// invalidation fallback when a mutation arrives without an explicit
// range.
func WeekRange(date string) (dateFrom, dateTo string, err error) {
	day, parseErr := time.Parse(dateLayout, date)
	if parseErr != nil {
		return "", "", apperrors.InvalidArgument("invalid date " + date)
	}
	monday := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	sunday := monday.AddDate(0, 0, 6)
	return monday.Format(dateLayout), sunday.Format(dateLayout), nil
}

// invalidateAfterMutation picks the range to drop: the caller-supplied
// range when present, otherwise the week containing the entry date.
func (s *Service) invalidateAfterMutation(ctx context.Context, entryDate, projectID, rangeFrom, rangeTo string) {
	dateFrom, dateTo := rangeFrom, rangeTo
	if dateFrom == "" || dateTo == "" {
		if entryDate == "" {
			s.logger.Warn("mutation without date or range, skipping invalidation")
			return
		}
		var err error
		dateFrom, dateTo, err = WeekRange(entryDate)
		if err != nil {
			s.logger.Warn("cannot compute invalidation week", "date", entryDate, "error", err)
			return
		}
	}
	if err := s.InvalidatePeriod(ctx, dateFrom, dateTo, projectID); err != nil {
		s.logger.Warn("failed to invalidate after mutation", "from", dateFrom, "to", dateTo, "error", err)
	}
}

// CreateEntry creates a time entry upstream and invalidates the affected
// range. rangeFrom/rangeTo may be empty; the week containing the entry
// date is used then.
func (s *Service) CreateEntry(ctx context.Context, in upstream.TimeEntryInput, projectID, rangeFrom, rangeTo string) (upstream.Record, error) {
	if s.userID == "" {
		return nil, apperrors.Configuration("upstream user id is not configured")
	}
	in.UserID = s.userID
	created, err := s.client.CreateTimeEntry(ctx, in)
	if err != nil {
		return nil, err
	}
	s.invalidateAfterMutation(ctx, in.Date, projectID, rangeFrom, rangeTo)
	return created, nil
}

// UpdateEntry updates a time entry upstream and invalidates the affected
// range.
func (s *Service) UpdateEntry(ctx context.Context, entryID string, in upstream.TimeEntryInput, projectID, rangeFrom, rangeTo string) (upstream.Record, error) {
	if s.userID == "" {
		return nil, apperrors.Configuration("upstream user id is not configured")
	}
	in.UserID = s.userID
	updated, err := s.client.UpdateTimeEntry(ctx, entryID, in)
	if err != nil {
		return nil, err
	}
	s.invalidateAfterMutation(ctx, in.Date, projectID, rangeFrom, rangeTo)
	return updated, nil
}

// DeleteEntry deletes a time entry upstream and invalidates the affected
// range. entryDate is the date of the deleted entry, used for the week
// fallback when no explicit range is given.
func (s *Service) DeleteEntry(ctx context.Context, entryID, entryDate, projectID, rangeFrom, rangeTo string) error {
	if err := s.client.DeleteTimeEntry(ctx, entryID); err != nil {
		return err
	}
	s.invalidateAfterMutation(ctx, entryDate, projectID, rangeFrom, rangeTo)
	return nil
}

// Invalidate clears every cached period.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.InvalidateAll(ctx)
}

// WarmPeriod pre-populates the cache for one period, skipping the fetch
// when valid data is already on disk.
func (s *Service) WarmPeriod(ctx context.Context, dateFrom, dateTo string) error {
	entries, err := s.GetEntries(ctx, dateFrom, dateTo, "", false)
	if err != nil {
		return err
	}
	s.logger.Info("time entries cache warm", "from", dateFrom, "to", dateTo, "count", len(entries))
	return nil
}

// WarmCache warms the current Monday-to-Sunday week.
func (s *Service) WarmCache(ctx context.Context) error {
	dateFrom, dateTo, err := WeekRange(time.Now().Format(dateLayout))
	if err != nil {
		return err
	}
	return s.WarmPeriod(ctx, dateFrom, dateTo)
}

// Refresh force-refreshes the current week, used by the periodic refresh
// runner.
func (s *Service) Refresh(ctx context.Context) error {
	dateFrom, dateTo, err := WeekRange(time.Now().Format(dateLayout))
	if err != nil {
		return err
	}
	_, err = s.GetEntries(ctx, dateFrom, dateTo, "", true)
	return err
}

// Stats reports cache introspection.
func (s *Service) Stats(ctx context.Context) cache.Stats {
	return s.cache.Stats(ctx)
}

// Close stops background refreshes.
func (s *Service) Close() {
	s.cache.Close()
}
