// Package notify raises a ticket when a bot fails.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/botsync/internal/fetch"
)

// DefaultBaseURL is the Asana REST API root.
const DefaultBaseURL = "https://app.asana.com/api/1.0"

const (
	botsTeam         = "bots"
	failedBotProject = "Failed External Bots"
)

// ErrTeamNotFound is returned when the workspace has no "bots" team.
var ErrTeamNotFound = errors.New("bots team not found")

// Ticket describes a failed bot.
type Ticket struct {
	// Tag identifies the bot; an open task carrying it is reused.
	Tag         string
	Title       string
	Description string
}

// Asana files failed-bot tasks in a workspace.
type Asana struct {
	baseURL   string
	token     string
	workspace string
	timeout   time.Duration
	logger    *slog.Logger
	transport *fetch.HTTPTransport
}

// Option configures Asana.
type Option func(*Asana)

// WithBaseURL overrides the API root. Used in tests.
func WithBaseURL(u string) Option {
	return func(a *Asana) { a.baseURL = strings.TrimSuffix(u, "/") }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Asana) { a.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Asana) { a.logger = l }
}

// NewAsana creates a notifier authenticating with a personal access token.
func NewAsana(token, workspace string, opts ...Option) *Asana {
	a := &Asana{
		baseURL:   DefaultBaseURL,
		token:     token,
		workspace: workspace,
		timeout:   30 * time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.transport = fetch.NewHTTPTransport(fetch.WithTimeout(a.timeout))
	return a
}

type resource struct {
	GID       string     `json:"gid"`
	Name      string     `json:"name"`
	Completed bool       `json:"completed"`
	Tags      []resource `json:"tags"`
}

// CreateFailedBotTask files t in the "Failed External Bots" project of the
// "bots" team, creating the project if needed. When an incomplete task
// already carries t.Tag nothing is created and its id is returned.
func (a *Asana) CreateFailedBotTask(ctx context.Context, t Ticket) (string, error) {
	team, err := a.findTeam(ctx)
	if err != nil {
		return "", err
	}
	project, err := a.findOrCreateProject(ctx, team)
	if err != nil {
		return "", err
	}

	if open, err := a.openTaskTagged(ctx, project, t.Tag); err != nil {
		return "", err
	} else if open != "" {
		a.logger.Info("failed bot task already open", "tag", t.Tag, "task", open)
		return open, nil
	}

	var task resource
	if err := a.post(ctx, "/tasks", map[string]any{
		"name":      t.Title,
		"notes":     t.Description,
		"workspace": a.workspace,
		"projects":  []string{project},
	}, &task); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	var tag resource
	if err := a.post(ctx, "/tags", map[string]any{"workspace": a.workspace, "name": t.Tag}, &tag); err != nil {
		return "", fmt.Errorf("create tag: %w", err)
	}
	if err := a.post(ctx, "/tasks/"+url.PathEscape(task.GID)+"/addTag", map[string]any{"tag": tag.GID}, nil); err != nil {
		return "", fmt.Errorf("tag task: %w", err)
	}

	a.logger.Info("failed bot task created", "tag", t.Tag, "task", task.GID)
	return task.GID, nil
}

func (a *Asana) findTeam(ctx context.Context) (string, error) {
	var teams []resource
	if err := a.get(ctx, "/organizations/"+url.PathEscape(a.workspace)+"/teams", nil, &teams); err != nil {
		return "", fmt.Errorf("list teams: %w", err)
	}
	for _, team := range teams {
		if strings.EqualFold(team.Name, botsTeam) {
			return team.GID, nil
		}
	}
	return "", ErrTeamNotFound
}

func (a *Asana) findOrCreateProject(ctx context.Context, team string) (string, error) {
	path := "/teams/" + url.PathEscape(team) + "/projects"
	var projects []resource
	if err := a.get(ctx, path, nil, &projects); err != nil {
		return "", fmt.Errorf("list projects: %w", err)
	}
	for _, p := range projects {
		if strings.EqualFold(p.Name, failedBotProject) {
			return p.GID, nil
		}
	}

	var created resource
	if err := a.post(ctx, path, map[string]any{"name": failedBotProject}, &created); err != nil {
		return "", fmt.Errorf("create project: %w", err)
	}
	return created.GID, nil
}

func (a *Asana) openTaskTagged(ctx context.Context, project, tag string) (string, error) {
	q := url.Values{"opt_fields": {"name,completed,tags.name"}, "limit": {"100"}}
	var tasks []resource
	if err := a.get(ctx, "/projects/"+url.PathEscape(project)+"/tasks", q, &tasks); err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}
	for _, task := range tasks {
		if task.Completed {
			continue
		}
		for _, tg := range task.Tags {
			if tg.Name == tag {
				return task.GID, nil
			}
		}
	}
	return "", nil
}

func (a *Asana) get(ctx context.Context, path string, query url.Values, dest any) error {
	return a.do(ctx, http.MethodGet, path, nil, query, dest)
}

func (a *Asana) post(ctx context.Context, path string, data map[string]any, dest any) error {
	body, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return err
	}
	return a.do(ctx, http.MethodPost, path, body, nil, dest)
}

// do sends an authenticated request and unwraps the {"data": ...} envelope
// into dest. Non-2xx responses come back as *fetch.StatusError.
func (a *Asana) do(ctx context.Context, method, path string, body []byte, query url.Values, dest any) error {
	respBody, err := a.transport.Do(ctx, method, a.baseURL+path, body, fetch.RequestOptions{
		Query: query,
		Headers: map[string]string{
			"Authorization": "Bearer " + a.token,
			"Accept":        "application/json",
		},
	})
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}

	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return json.Unmarshal(envelope.Data, dest)
}
