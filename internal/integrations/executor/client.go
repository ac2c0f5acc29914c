// Package executor provides a client for the external build executor
// service, which runs build tasks and reports progress back through the
// status callback endpoint.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Config holds executor client configuration.
type Config struct {
	// Endpoint is the executor service base URL.
	Endpoint string
	// Token authenticates requests to the executor service.
	Token   string
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: "http://localhost:9000",
		Timeout:  30 * time.Second,
	}
}

// Task describes a build task submitted to the executor.
type Task struct {
	BuildID  int64  `json:"build_id"`
	Token    string `json:"token"`
	Owner    string `json:"owner"`
	Repo     string `json:"repository"`
	Branch   string `json:"branch"`
	Sha      string `json:"sha,omitempty"`
	Callback string `json:"callback_url"`
}

// Client calls the executor service.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new executor client.
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// StartTask submits a build task to the executor.
func (c *Client) StartTask(ctx context.Context, task *Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshaling task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/tasks", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("starting task for build %d: status %d", task.BuildID, resp.StatusCode)
	}

	c.logger.Debug("submitted build task", "build_id", task.BuildID)
	return nil
}

// CancelTask cancels the executor task for a build. Cancelling a task that
// already finished is not an error at the executor, so 404 is tolerated.
func (c *Client) CancelTask(ctx context.Context, buildID int64) error {
	url := fmt.Sprintf("%s/tasks/%d", c.endpoint, buildID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("cancelling task for build %d: status %d", buildID, resp.StatusCode)
	}
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
