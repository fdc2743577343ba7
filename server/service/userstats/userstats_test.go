package userstats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laneboard/laneboard/server/cache"
	"github.com/laneboard/laneboard/server/service/projects"
	"github.com/laneboard/laneboard/server/upstream"
)

func assignedTask(id string, status string, dueDate string, atRisk bool) upstream.Record {
	task := upstream.Record{
		"taskId":  id,
		"project": map[string]any{"projectId": "p1"},
		"status":  map[string]any{"label": status},
		"atRisk":  atRisk,
	}
	if dueDate != "" {
		task["dueDate"] = dueDate
	}
	return task
}

func TestBucketTasks(t *testing.T) {
	today := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	tasks := []upstream.Record{
		assignedTask("1", "In Progress", "2026-08-20", false), // overdue
		assignedTask("2", "To Do", "2026-08-27", true),        // due this week, at risk
		assignedTask("3", "Completed", "2026-08-20", false),
		assignedTask("4", "Done", "", false),
		assignedTask("5", "In Progress", "2026-12-01", false), // far future
	}

	stats := bucketTasks(tasks, today)

	assert.Equal(t, 5, stats.Statistics.TotalTasks)
	assert.Equal(t, 3, stats.Statistics.ActiveTasks)
	assert.Equal(t, 2, stats.Statistics.CompletedTasks)
	assert.Equal(t, 1, stats.Statistics.OverdueTasks)
	assert.Equal(t, 1, stats.Statistics.AtRiskTasks)
	assert.Equal(t, 1, stats.Statistics.DueThisWeek)
	assert.Equal(t, 1, stats.Statistics.ProjectsCount)

	require.Len(t, stats.Tasks.Overdue, 1)
	assert.Equal(t, "1", stats.Tasks.Overdue[0].ID("taskId"))
	require.Len(t, stats.Tasks.DueThisWeek, 1)
	assert.Equal(t, "2", stats.Tasks.DueThisWeek[0].ID("taskId"))
}

func TestBucketDisplayLimit(t *testing.T) {
	var tasks []upstream.Record
	for i := 0; i < 12; i++ {
		tasks = append(tasks, assignedTask(string(rune('a'+i)), "To Do", "", false))
	}

	stats := bucketTasks(tasks, time.Now().UTC())
	assert.Equal(t, 12, stats.Statistics.ActiveTasks)
	assert.Len(t, stats.Tasks.Active, bucketDisplayLimit)
}

func TestHoursLogged(t *testing.T) {
	entries := []upstream.Record{
		{"minutes": float64(60)},
		{"durationInMinutes": float64(90)},
		{"note": "no duration"},
	}
	assert.Equal(t, 2.5, hoursLogged(entries))
	assert.Equal(t, 0.0, hoursLogged(nil))
}

func TestGetStatisticsAggregatesUpstream(t *testing.T) {
	ctx := context.Background()
	today := time.Now().UTC().Format(dateLayout)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/42":
			json.NewEncoder(w).Encode(map[string]any{
				"userId": 42, "firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com",
			})
		case "/tasks":
			json.NewEncoder(w).Encode(map[string]any{"data": []any{
				assignedTask("1", "In Progress", today, false),
				assignedTask("2", "Completed", "", false),
			}})
		case "/time-entries/search":
			json.NewEncoder(w).Encode(map[string]any{"data": []any{
				map[string]any{"timeEntryId": 1, "minutes": 120},
			}})
		case "/projects":
			json.NewEncoder(w).Encode(map[string]any{"data": []any{
				map[string]any{
					"projectId": "p1",
					"teamMembers": map[string]any{
						"members": []any{map[string]any{"userId": 42}},
					},
				},
			}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)

	client := upstream.NewClient(upstream.Options{BaseURL: srv.URL, APIKey: "key", Logger: slog.Default()})
	projectSvc := projects.NewService(client, cache.Config{Dir: t.TempDir()}, slog.Default())
	t.Cleanup(projectSvc.Close)
	svc := NewService(client, projectSvc, "42", cache.Config{Dir: t.TempDir()}, slog.Default())
	t.Cleanup(svc.Close)

	stats, err := svc.GetStatistics(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, "42", stats.User.UserID)
	assert.Equal(t, "Ada Lovelace", stats.User.FullName)
	assert.Equal(t, "ada@example.com", stats.User.EmailID)
	assert.Equal(t, 2, stats.Statistics.TotalTasks)
	assert.Equal(t, 1, stats.Statistics.ActiveTasks)
	assert.Equal(t, 1, stats.Statistics.CompletedTasks)
	assert.Equal(t, 2.0, stats.Statistics.HoursLoggedThisWeek)
	assert.Equal(t, 1, stats.Statistics.ProjectsCount)
	assert.Equal(t, "fresh", stats.CacheStatus)
	assert.NotEmpty(t, stats.LastUpdated)
}

func TestGetStatisticsRequiresConfiguredUser(t *testing.T) {
	ctx := context.Background()
	client := upstream.NewClient(upstream.Options{BaseURL: "http://localhost:0", APIKey: "key", Logger: slog.Default()})
	projectSvc := projects.NewService(client, cache.Config{Dir: t.TempDir()}, slog.Default())
	t.Cleanup(projectSvc.Close)
	svc := NewService(client, projectSvc, "", cache.Config{Dir: t.TempDir()}, slog.Default())
	t.Cleanup(svc.Close)

	_, err := svc.GetStatistics(ctx, false)
	require.Error(t, err)
}
