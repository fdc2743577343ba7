package projects

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laneboard/laneboard/server/cache"
	"github.com/laneboard/laneboard/server/upstream"
)

func project(id string, memberIDs ...int64) map[string]any {
	members := make([]any, 0, len(memberIDs))
	for _, memberID := range memberIDs {
		members = append(members, map[string]any{"userId": memberID})
	}
	return map[string]any{
		"projectId":   id,
		"projectName": "Project " + id,
		"teamMembers": map[string]any{"members": members},
	}
}

func newTestService(t *testing.T, handler http.Handler) (*Service, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := upstream.NewClient(upstream.Options{BaseURL: srv.URL, APIKey: "key", Logger: slog.Default()})
	svc := NewService(client, cache.Config{Dir: t.TempDir()}, slog.Default())
	t.Cleanup(svc.Close)
	return svc, srv
}

func TestGetUserProjectsFiltersByMembership(t *testing.T) {
	ctx := context.Background()
	var fetches atomic.Int32

	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/projects", r.URL.Path)
		fetches.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"data": []any{
			project("1", 77, 88),
			project("2", 99),
			project("3", 77),
		}})
	}))

	mine, err := svc.GetUserProjects(ctx, 77, false)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "1", mine[0].ID("projectId"))
	assert.Equal(t, "3", mine[1].ID("projectId"))

	// A second membership query reuses the cached list.
	others, err := svc.GetUserProjects(ctx, 99, false)
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestIsMember(t *testing.T) {
	record := upstream.Record(project("1", 10, 20))
	assert.True(t, IsMember(record, 10))
	assert.False(t, IsMember(record, 30))
	assert.False(t, IsMember(upstream.Record{"projectId": "2"}, 10))
}

func TestGetProjectByIDFallsBackToDirectFetch(t *testing.T) {
	ctx := context.Background()

	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/projects":
			json.NewEncoder(w).Encode(map[string]any{"data": []any{project("1", 10)}})
		case "/projects/42":
			json.NewEncoder(w).Encode(project("42", 10))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	cached, err := svc.GetProjectByID(ctx, "1", false)
	require.NoError(t, err)
	assert.Equal(t, "1", cached.ID("projectId"))

	direct, err := svc.GetProjectByID(ctx, "42", false)
	require.NoError(t, err)
	assert.Equal(t, "42", direct.ID("projectId"))
}

func TestWarmCacheReportsStats(t *testing.T) {
	ctx := context.Background()

	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{project("1"), project("2")}})
	}))

	require.NoError(t, svc.WarmCache(ctx))
	stats := svc.Stats(ctx)
	assert.Equal(t, "projects", stats.CacheName)
	assert.Equal(t, 1, stats.TotalEntries)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	ctx := context.Background()
	var fetches atomic.Int32

	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"data": []any{project("1")}})
	}))

	_, err := svc.GetAllProjects(ctx, false)
	require.NoError(t, err)
	require.NoError(t, svc.Invalidate(ctx))

	_, err = svc.GetAllProjects(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}
