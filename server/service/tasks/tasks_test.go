package tasks

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laneboard/laneboard/server/cache"
	"github.com/laneboard/laneboard/server/service/projects"
	"github.com/laneboard/laneboard/server/upstream"
)

func task(id, projectID string) map[string]any {
	return map[string]any{
		"taskId":   id,
		"taskName": "Task " + id,
		"project":  map[string]any{"projectId": projectID},
	}
}

func TestBuildDataIndexes(t *testing.T) {
	data := BuildData([]upstream.Record{
		upstream.Record(task("1", "p1")),
		upstream.Record(task("2", "p1")),
		upstream.Record(task("3", "p2")),
		{"taskName": "no id"},
	})

	assert.Equal(t, 4, data.Count)
	assert.Len(t, data.ByID, 3)
	assert.Equal(t, "Task 2", data.ByID["2"].String("taskName"))
	assert.Len(t, data.ByProject["p1"], 2)
	assert.Len(t, data.ByProject["p2"], 1)
}

func memberProject(id string, userID int64) map[string]any {
	return map[string]any{
		"projectId": id,
		"teamMembers": map[string]any{
			"members": []any{map[string]any{"userId": userID}},
		},
	}
}

func newTestService(t *testing.T, handler http.Handler) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := upstream.NewClient(upstream.Options{BaseURL: srv.URL, APIKey: "key", Logger: slog.Default()})
	projectSvc := projects.NewService(client, cache.Config{Dir: t.TempDir()}, slog.Default())
	t.Cleanup(projectSvc.Close)
	svc := NewService(client, projectSvc, "77", cache.Config{Dir: t.TempDir()}, slog.Default())
	t.Cleanup(svc.Close)
	return svc
}

func TestGetAllTasksAcrossUserProjects(t *testing.T) {
	ctx := context.Background()

	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/projects":
			json.NewEncoder(w).Encode(map[string]any{"data": []any{
				memberProject("p1", 77),
				memberProject("p2", 77),
				memberProject("p3", 99), // not a member, never fetched
			}})
		case r.URL.Path == "/tasks":
			filters := r.URL.Query().Get("filters")
			switch {
			case strings.Contains(filters, "project.eq=p1"):
				json.NewEncoder(w).Encode(map[string]any{"data": []any{task("1", "p1"), task("2", "p1")}})
			case strings.Contains(filters, "project.eq=p2"):
				json.NewEncoder(w).Encode(map[string]any{"data": []any{task("3", "p2")}})
			default:
				t.Errorf("unexpected task filter %q", filters)
			}
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	all, err := svc.GetAllTasks(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byProject, err := svc.GetTasksByProject(ctx, "p1", false)
	require.NoError(t, err)
	assert.Len(t, byProject, 2)

	one, err := svc.GetTaskByID(ctx, "3", false)
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, "Task 3", one.String("taskName"))
}

func TestFailedProjectIsSkipped(t *testing.T) {
	ctx := context.Background()

	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/projects":
			json.NewEncoder(w).Encode(map[string]any{"data": []any{
				memberProject("p1", 77),
				memberProject("broken", 77),
			}})
		case "/tasks":
			if strings.Contains(r.URL.Query().Get("filters"), "project.eq=broken") {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"data": []any{task("1", "p1")}})
		}
	}))

	// The broken project degrades to a partial snapshot, not an error.
	all, err := svc.GetAllTasks(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUnknownTaskReturnsNil(t *testing.T) {
	ctx := context.Background()

	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))

	one, err := svc.GetTaskByID(ctx, "nope", false)
	require.NoError(t, err)
	assert.Nil(t, one)
}
