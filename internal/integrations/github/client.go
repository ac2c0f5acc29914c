// Package github provides a client for the subset of the GitHub API the
// build core consumes: branch lookups, repository checks, commit statuses,
// and organization membership.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Common errors returned by the client.
var (
	// ErrBranchNotFound is returned when a branch does not exist upstream.
	ErrBranchNotFound = errors.New("branch not found")
	// ErrRepositoryNotFound is returned when a repository does not exist
	// or the presented credentials cannot see it.
	ErrRepositoryNotFound = errors.New("repository not found")
)

// Branch is the upstream view of a repository branch.
type Branch struct {
	Name   string `json:"name"`
	Commit Commit `json:"commit"`
}

// Commit identifies a commit by SHA.
type Commit struct {
	SHA string `json:"sha"`
}

// Repository is the upstream view of a repository.
type Repository struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

// CommitStatus is a commit status report.
type CommitStatus struct {
	State       string `json:"state"` // pending, success, error, failure
	TargetURL   string `json:"target_url,omitempty"`
	Description string `json:"description,omitempty"`
	Context     string `json:"context"`
}

// Config holds GitHub client configuration.
type Config struct {
	// APIURL is the base API URL, e.g. "https://api.github.com".
	APIURL  string
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		APIURL:  "https://api.github.com",
		Timeout: 30 * time.Second,
	}
}

// Client calls the GitHub REST API.
type Client struct {
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new GitHub client.
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiURL: cfg.APIURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// GetBranch retrieves a branch and its tip commit.
func (c *Client) GetBranch(ctx context.Context, token, owner, repo, branch string) (*Branch, error) {
	path := fmt.Sprintf("/repos/%s/%s/branches/%s", owner, repo, url.PathEscape(branch))

	var out Branch
	if err := c.get(ctx, token, path, &out); err != nil {
		if errors.Is(err, errStatusNotFound) {
			return nil, ErrBranchNotFound
		}
		return nil, err
	}
	return &out, nil
}

// GetRepository retrieves a repository visible to the presented token.
func (c *Client) GetRepository(ctx context.Context, token, owner, repo string) (*Repository, error) {
	path := fmt.Sprintf("/repos/%s/%s", owner, repo)

	var out Repository
	if err := c.get(ctx, token, path, &out); err != nil {
		if errors.Is(err, errStatusNotFound) {
			return nil, ErrRepositoryNotFound
		}
		return nil, err
	}
	return &out, nil
}

// CreateCommitStatus reports a build outcome against a commit.
func (c *Client) CreateCommitStatus(ctx context.Context, token, owner, repo, sha string, status *CommitStatus) error {
	path := fmt.Sprintf("/repos/%s/%s/statuses/%s", owner, repo, sha)

	body, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshaling commit status: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("creating commit status: status %d", resp.StatusCode)
	}
	return nil
}

// ListOrgMembers retrieves the usernames of an organization's members.
func (c *Client) ListOrgMembers(ctx context.Context, token, org string) ([]string, error) {
	var members []string
	page := 1

	for {
		path := fmt.Sprintf("/orgs/%s/members?per_page=100&page=%d", org, page)

		var out []struct {
			Login string `json:"login"`
		}
		if err := c.get(ctx, token, path, &out); err != nil {
			return nil, err
		}
		if len(out) == 0 {
			break
		}
		for _, m := range out {
			members = append(members, m.Login)
		}
		page++
	}

	return members, nil
}

// RemoveOrgMember removes a user from an organization.
func (c *Client) RemoveOrgMember(ctx context.Context, token, org, username string) error {
	path := fmt.Sprintf("/orgs/%s/members/%s", org, username)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("removing org member %s: status %d", username, resp.StatusCode)
	}
	return nil
}

// errStatusNotFound is an internal marker for 404 responses.
var errStatusNotFound = errors.New("not found")

func (c *Client) get(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errStatusNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
}
