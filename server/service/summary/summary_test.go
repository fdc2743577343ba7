package summary

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

	"github.com/laneboard/laneboard/plugin/llm"
	"github.com/laneboard/laneboard/server/cache"
	apperrors "github.com/laneboard/laneboard/server/internal/errors"
	"github.com/laneboard/laneboard/server/service/projects"
	"github.com/laneboard/laneboard/server/upstream"
)

type fakeChatter struct {
	lastMessages []llm.Message
	reply        string
}

func (f *fakeChatter) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	f.lastMessages = messages
	return f.reply, nil
}

func (f *fakeChatter) ChatStream(ctx context.Context, messages []llm.Message) (<-chan string, <-chan error) {
	f.lastMessages = messages
	contentChan := make(chan string, 2)
	contentChan <- f.reply[:len(f.reply)/2]
	contentChan <- f.reply[len(f.reply)/2:]
	close(contentChan)
	errChan := make(chan error)
	close(errChan)
	return contentChan, errChan
}

func newTestService(t *testing.T, chatter Chatter, taskData []any) *Service {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/projects":
			json.NewEncoder(w).Encode(map[string]any{"data": []any{
				map[string]any{"projectId": "p1", "projectName": "Apollo"},
			}})
		case "/tasks":
			filters := r.URL.Query().Get("filters")
			assert.Contains(t, filters, "project.eq=p1")
			assert.Contains(t, filters, "status.eq=1")
			assert.Contains(t, filters, "assignees.cn=42")
			json.NewEncoder(w).Encode(map[string]any{"data": taskData})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)

	client := upstream.NewClient(upstream.Options{BaseURL: srv.URL, APIKey: "key", Logger: slog.Default()})
	projectSvc := projects.NewService(client, cache.Config{Dir: t.TempDir()}, slog.Default())
	t.Cleanup(projectSvc.Close)
	return NewService(chatter, client, projectSvc, "42", slog.Default())
}

func TestSummarizeBuildsPromptFromTasks(t *testing.T) {
	chatter := &fakeChatter{reply: "All on track."}
	svc := newTestService(t, chatter, []any{
		map[string]any{
			"taskId":      1,
			"taskName":    "Design review",
			"description": "review mockups",
			"dueDate":     "2026-09-01",
			"status":      map[string]any{"label": "In Progress"},
			"assignees": map[string]any{"members": []any{
				map[string]any{"firstName": "Ada", "lastName": "Lovelace"},
			}},
		},
	})

	result, err := svc.Summarize(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Apollo", result.ProjectName)
	assert.Equal(t, "All on track.", result.Summary)
	assert.Equal(t, 1, result.TaskCount)

	require.Len(t, chatter.lastMessages, 2)
	assert.Equal(t, "system", chatter.lastMessages[0].Role)
	prompt := chatter.lastMessages[1].Content
	assert.Contains(t, prompt, "Project: Apollo")
	assert.Contains(t, prompt, "- Design review: review mockups")
	assert.Contains(t, prompt, "Due: 2026-09-01")
	assert.Contains(t, prompt, "Assigned to: Ada Lovelace")
	assert.Contains(t, prompt, "Status: In Progress")
}

func TestSummarizeWithoutTasks(t *testing.T) {
	chatter := &fakeChatter{reply: "should not be used"}
	svc := newTestService(t, chatter, []any{})

	result, err := svc.Summarize(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.TaskCount)
	assert.Contains(t, result.Summary, "No outstanding tasks")
	assert.Nil(t, chatter.lastMessages)
}

func TestSummarizeWithoutProvider(t *testing.T) {
	svc := newTestService(t, nil, []any{})
	assert.False(t, svc.Enabled())

	_, err := svc.Summarize(context.Background(), "p1")
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestSummarizeStream(t *testing.T) {
	chatter := &fakeChatter{reply: "first half second half"}
	svc := newTestService(t, chatter, []any{
		map[string]any{"taskId": 1, "taskName": "Ship it"},
	})

	contentChan, errChan, err := svc.SummarizeStream(context.Background(), "p1")
	require.NoError(t, err)

	var b strings.Builder
	for chunk := range contentChan {
		b.WriteString(chunk)
	}
	require.NoError(t, <-errChan)
	assert.Equal(t, chatter.reply, b.String())
}

func TestMetadata(t *testing.T) {
	svc := newTestService(t, nil, []any{
		map[string]any{"taskId": 1, "taskName": "One"},
		map[string]any{"taskId": 2, "taskName": "Two"},
	})

	meta, err := svc.Metadata(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Apollo", meta.ProjectName)
	assert.Equal(t, 2, meta.TaskCount)
}
