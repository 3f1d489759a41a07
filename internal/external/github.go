package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"carbondelay/internal/types"
)

const (
	githubAPIBase = "https://api.github.com"

	// MarkerVariable is the environment variable that tags a delay
	// environment as created by this tool.
	MarkerVariable = "CARBON_DELAY_MARKER"

	githubAcceptHeader = "application/vnd.github+json"
	githubAPIVersion   = "2022-11-28"
)

// GitHubClientConfig holds the configuration for creating a GitHubClient.
type GitHubClientConfig struct {
	BaseURL           string
	Token             string
	EnvironmentPrefix string
	Logger            *slog.Logger
}

type environmentRequest struct {
	WaitTimer int `json:"wait_timer"`
}

type variableBody struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// GitHubClient delays jobs through deployment environments: a job bound to
// an environment with a wait timer does not start until the timer elapses.
type GitHubClient struct {
	base    *BaseClient
	baseURL string
	token   string
	prefix  string
	logger  *slog.Logger
	nowFn   func() time.Time
}

// NewGitHubClient creates a GitHubClient with the default retry policy.
func NewGitHubClient(httpClient *http.Client, userAgent string, cfg GitHubClientConfig) *GitHubClient {
	return NewGitHubClientWithBase(
		NewBaseClient(httpClient, "github", DefaultRetryPolicy(), userAgent),
		cfg,
	)
}

// NewGitHubClientWithBase creates a GitHubClient around a pre-configured
// BaseClient.
func NewGitHubClientWithBase(base *BaseClient, cfg GitHubClientConfig) *GitHubClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = githubAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.EnvironmentPrefix
	if prefix == "" {
		prefix = "carbon-delay"
	}
	return &GitHubClient{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   cfg.Token,
		prefix:  prefix,
		logger:  logger,
		nowFn:   time.Now,
	}
}

// EnactDelay upserts the run's delay environment with a wait timer of minutes
// and tags it with a marker. Returns the environment name the job should
// bind to. If the marker cannot be written the environment is deleted again,
// so a failed call leaves no wait timer behind.
func (c *GitHubClient) EnactDelay(ctx context.Context, rc types.RunContext, minutes int) (string, error) {
	env := rc.EnvironmentName(c.prefix)
	logger := c.logger.With("repository", rc.Repository(), "environment", env)

	resp, err := c.call(ctx, http.MethodPut, c.environmentPath(rc, env), environmentRequest{WaitTimer: minutes})
	if err != nil {
		return "", wrapError(types.ErrCodeUpstreamControlPlane, "github", "upsert environment", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		defer resp.Body.Close()
		return "", statusError(resp, types.ErrCodeUpstreamControlPlane, "github", "upsert environment")
	}
	resp.Body.Close()

	marker := types.DelayMarker{
		InvocationID: rc.InvocationID,
		RunID:        rc.RunID,
		RunAttempt:   rc.RunAttempt,
		DelayMinutes: minutes,
		CreatedAt:    c.nowFn().UTC(),
	}
	if err := c.writeMarker(ctx, rc, env, marker); err != nil {
		// An unmarked wait timer would outlive this run's ability to clear it.
		if delErr := c.deleteEnvironment(context.WithoutCancel(ctx), rc, env); delErr != nil {
			logger.ErrorContext(ctx, "failed to roll back delay environment", "error", delErr)
		} else {
			logger.WarnContext(ctx, "rolled back delay environment after marker write failed")
		}
		return "", err
	}

	logger.InfoContext(ctx, "delay environment configured", "wait_timer_minutes", minutes)
	return env, nil
}

// ClearDelay removes the run's delay environment. A missing environment is
// already clear. The name encodes the run ID, so an unmarked environment is
// this run's leftover; only a marker naming another run is refused.
func (c *GitHubClient) ClearDelay(ctx context.Context, rc types.RunContext) error {
	env := rc.EnvironmentName(c.prefix)
	logger := c.logger.With("repository", rc.Repository(), "environment", env)

	exists, err := c.environmentExists(ctx, rc, env)
	if err != nil {
		return err
	}
	if !exists {
		logger.InfoContext(ctx, "no delay environment to clear")
		return nil
	}

	marker, err := c.readMarker(ctx, rc, env)
	if err != nil {
		return err
	}
	if marker != nil && marker.RunID != rc.RunID {
		return types.NewAppErrorWithDetails(
			types.ErrCodeConflictForeignEnvironment,
			fmt.Sprintf("environment %s was not created by this run; refusing to delete", env),
			nil,
			map[string]any{"environment": env},
		)
	}

	if marker == nil {
		logger.WarnContext(ctx, "clearing delay environment without a marker")
	}
	if err := c.deleteEnvironment(ctx, rc, env); err != nil {
		return err
	}
	logger.InfoContext(ctx, "delay environment cleared")
	return nil
}

// deleteEnvironment removes env. An environment that is already gone counts
// as deleted.
func (c *GitHubClient) deleteEnvironment(ctx context.Context, rc types.RunContext, env string) error {
	resp, err := c.call(ctx, http.MethodDelete, c.environmentPath(rc, env), nil)
	if err != nil {
		return wrapError(types.ErrCodeUpstreamControlPlane, "github", "delete environment", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return statusError(resp, types.ErrCodeUpstreamControlPlane, "github", "delete environment")
	}
}

// LookupMarker returns the marker on the run's delay environment, or nil when
// the environment or marker does not exist.
func (c *GitHubClient) LookupMarker(ctx context.Context, rc types.RunContext) (*types.DelayMarker, error) {
	return c.readMarker(ctx, rc, rc.EnvironmentName(c.prefix))
}

func (c *GitHubClient) environmentExists(ctx context.Context, rc types.RunContext, env string) (bool, error) {
	resp, err := c.call(ctx, http.MethodGet, c.environmentPath(rc, env), nil)
	if err != nil {
		return false, wrapError(types.ErrCodeUpstreamControlPlane, "github", "get environment", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError(resp, types.ErrCodeUpstreamControlPlane, "github", "get environment")
	}
}

func (c *GitHubClient) readMarker(ctx context.Context, rc types.RunContext, env string) (*types.DelayMarker, error) {
	resp, err := c.call(ctx, http.MethodGet, c.variablePath(rc, env, MarkerVariable), nil)
	if err != nil {
		return nil, wrapError(types.ErrCodeUpstreamControlPlane, "github", "get marker", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp, types.ErrCodeUpstreamControlPlane, "github", "get marker")
	}

	var v variableBody
	if err := decodeJSON(resp, &v, types.ErrCodeUpstreamMalformedResponse, "github variable"); err != nil {
		return nil, err
	}

	var marker types.DelayMarker
	if err := json.Unmarshal([]byte(v.Value), &marker); err != nil {
		// A variable with our name but not our shape was set by hand.
		c.logger.WarnContext(ctx, "ignoring unparseable delay marker", "environment", env, "error", err)
		return nil, nil
	}
	return &marker, nil
}

// writeMarker updates the marker variable, creating it on first use.
func (c *GitHubClient) writeMarker(ctx context.Context, rc types.RunContext, env string, marker types.DelayMarker) error {
	encoded, err := json.Marshal(marker)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode delay marker", err)
	}
	body := variableBody{Name: MarkerVariable, Value: string(encoded)}

	resp, err := c.call(ctx, http.MethodPatch, c.variablePath(rc, env, MarkerVariable), body)
	if err != nil {
		return wrapError(types.ErrCodeUpstreamControlPlane, "github", "update marker", err)
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamControlPlane,
			fmt.Sprintf("github update marker returned %d", resp.StatusCode),
			nil,
			map[string]any{"status_code": resp.StatusCode},
		)
	}

	resp, err = c.call(ctx, http.MethodPost, c.variablesPath(rc, env), body)
	if err != nil {
		return wrapError(types.ErrCodeUpstreamControlPlane, "github", "create marker", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return nil
	case http.StatusConflict:
		// A retried POST whose first attempt landed. Overwrite what is there.
		return c.patchMarker(ctx, rc, env, body)
	default:
		return statusError(resp, types.ErrCodeUpstreamControlPlane, "github", "create marker")
	}
}

func (c *GitHubClient) patchMarker(ctx context.Context, rc types.RunContext, env string, body variableBody) error {
	resp, err := c.call(ctx, http.MethodPatch, c.variablePath(rc, env, MarkerVariable), body)
	if err != nil {
		return wrapError(types.ErrCodeUpstreamControlPlane, "github", "update marker", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError(resp, types.ErrCodeUpstreamControlPlane, "github", "update marker")
	}
	return nil
}

func (c *GitHubClient) call(ctx context.Context, method, path string, body any) (*http.Response, error) {
	headers := map[string]string{
		"Accept":               githubAcceptHeader,
		"X-GitHub-Api-Version": githubAPIVersion,
	}
	if c.token != "" {
		headers["Authorization"] = "Bearer " + c.token
	}
	return c.base.doJSON(ctx, requestSpec{
		method:  method,
		url:     c.baseURL + path,
		body:    body,
		headers: headers,
	})
}

func (c *GitHubClient) environmentPath(rc types.RunContext, env string) string {
	return fmt.Sprintf("/repos/%s/%s/environments/%s",
		url.PathEscape(rc.Owner), url.PathEscape(rc.Repo), url.PathEscape(env))
}

func (c *GitHubClient) variablesPath(rc types.RunContext, env string) string {
	return c.environmentPath(rc, env) + "/variables"
}

func (c *GitHubClient) variablePath(rc types.RunContext, env, name string) string {
	return c.variablesPath(rc, env) + "/" + url.PathEscape(name)
}
