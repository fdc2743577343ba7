// Package summary generates LLM summaries of a project's outstanding
// tasks.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/laneboard/laneboard/plugin/llm"
	apperrors "github.com/laneboard/laneboard/server/internal/errors"
	"github.com/laneboard/laneboard/server/service/projects"
	"github.com/laneboard/laneboard/server/upstream"
)

const systemPrompt = `You are a helpful assistant that summarizes project tasks.
Your goal is to provide clear, concise summaries of outstanding tasks that help project managers and team members understand what needs to be done.
Focus on clarity, priority, and actionability.`

const userPromptFormat = `Please summarize the following outstanding tasks for the project:

Project: %s

Tasks:
%s

Please provide:
1. A brief overview of the current project status based on outstanding tasks
2. Key priorities that need immediate attention
3. Any potential blockers or dependencies you notice
4. A concise summary suitable for sharing with stakeholders

Keep the summary professional and actionable.`

// Chatter is the LLM surface the service needs.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message) (string, error)
	ChatStream(ctx context.Context, messages []llm.Message) (<-chan string, <-chan error)
}

// Result is a completed project summary.
type Result struct {
	ProjectID   string            `json:"project_id"`
	ProjectName string            `json:"project_name"`
	Summary     string            `json:"summary"`
	TaskCount   int               `json:"task_count"`
	Tasks       []upstream.Record `json:"tasks,omitempty"`
}

// Metadata describes a project before its summary streams.
type Metadata struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	TaskCount   int    `json:"task_count"`
}

// Service builds task summaries for projects.
type Service struct {
	chatter  Chatter
	client   *upstream.Client
	projects *projects.Service
	userID   string
	logger   *slog.Logger
}

// NewService creates the summary service. chatter may be nil when no LLM
// is configured; summarization then fails with a configuration error.
func NewService(chatter Chatter, client *upstream.Client, projectSvc *projects.Service, userID string, logger *slog.Logger) *Service {
	return &Service{
		chatter:  chatter,
		client:   client,
		projects: projectSvc,
		userID:   userID,
		logger:   logger.With("service", "summary"),
	}
}

// Enabled reports whether an LLM backend is configured.
func (s *Service) Enabled() bool {
	return s.chatter != nil
}

// projectContext resolves the project name and its outstanding tasks for
// the configured user.
func (s *Service) projectContext(ctx context.Context, projectID string) (string, []upstream.Record, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID, false)
	if err != nil {
		return "", nil, err
	}
	name := project.String("projectName")
	if name == "" {
		name = project.String("name")
	}
	if name == "" {
		name = "Unknown Project"
	}

	tasks, err := upstream.DoValue(ctx, s.logger, "fetch outstanding tasks", func(ctx context.Context) ([]upstream.Record, error) {
		return s.client.SearchTasks(ctx, upstream.TaskQuery{
			ProjectID:  projectID,
			Status:     "not_done",
			AssigneeID: s.userID,
		})
	})
	if err != nil {
		return "", nil, err
	}
	return name, tasks, nil
}

// Metadata returns the project name and outstanding task count, used as
// the header of a streamed summary.
func (s *Service) Metadata(ctx context.Context, projectID string) (*Metadata, error) {
	name, tasks, err := s.projectContext(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &Metadata{ProjectID: projectID, ProjectName: name, TaskCount: len(tasks)}, nil
}

// Summarize produces a complete summary of the project's outstanding
// tasks.
func (s *Service) Summarize(ctx context.Context, projectID string) (*Result, error) {
	if s.chatter == nil {
		return nil, apperrors.Configuration("no LLM provider is configured")
	}

	name, tasks, err := s.projectContext(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return &Result{
			ProjectID:   projectID,
			ProjectName: name,
			Summary:     "No outstanding tasks found for this project.",
		}, nil
	}

	text, err := s.chatter.Chat(ctx, buildMessages(name, tasks))
	if err != nil {
		return nil, apperrors.Unavailable("summary generation failed", err)
	}
	return &Result{
		ProjectID:   projectID,
		ProjectName: name,
		Summary:     text,
		TaskCount:   len(tasks),
		Tasks:       tasks,
	}, nil
}

// SummarizeStream streams summary chunks for the project's outstanding
// tasks.
func (s *Service) SummarizeStream(ctx context.Context, projectID string) (<-chan string, <-chan error, error) {
	if s.chatter == nil {
		return nil, nil, apperrors.Configuration("no LLM provider is configured")
	}

	name, tasks, err := s.projectContext(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if len(tasks) == 0 {
		contentChan := make(chan string, 1)
		contentChan <- "No outstanding tasks found for this project."
		close(contentChan)
		errChan := make(chan error)
		close(errChan)
		return contentChan, errChan, nil
	}

	contentChan, errChan := s.chatter.ChatStream(ctx, buildMessages(name, tasks))
	return contentChan, errChan, nil
}

func buildMessages(projectName string, tasks []upstream.Record) []llm.Message {
	return []llm.Message{
		llm.SystemPrompt(systemPrompt),
		llm.UserMessage(fmt.Sprintf(userPromptFormat, projectName, formatTasks(tasks))),
	}
}

// formatTasks renders the task list for the prompt, pulling the fields
// the upstream is known to populate.
func formatTasks(tasks []upstream.Record) string {
	var b strings.Builder
	for _, task := range tasks {
		name := task.String("taskName")
		if name == "" {
			name = task.String("title")
		}
		if name == "" {
			name = "Untitled"
		}
		b.WriteString("- " + name)
		if description := task.String("description"); description != "" {
			b.WriteString(": " + description)
		}
		b.WriteString("\n")

		if dueDate := task.String("dueDate"); dueDate != "" {
			b.WriteString("  Due: " + dueDate + "\n")
		}
		if names := assigneeNames(task); len(names) > 0 {
			b.WriteString("  Assigned to: " + strings.Join(names, ", ") + "\n")
		}
		if status := task.Sub("status"); status != nil {
			if label := status.String("label"); label != "" {
				b.WriteString("  Status: " + label + "\n")
			}
		}
		if priority := task.Sub("priority"); priority != nil {
			if label := priority.String("label"); label != "" {
				b.WriteString("  Priority: " + label + "\n")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func assigneeNames(task upstream.Record) []string {
	assignees := task.Sub("assignees")
	if assignees == nil {
		return nil
	}
	var names []string
	for _, member := range assignees.List("members") {
		name := strings.TrimSpace(member.String("firstName") + " " + member.String("lastName"))
		if name == "" {
			name = member.String("emailId")
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
