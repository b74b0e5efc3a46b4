package projects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v60/github"

	perrors "github.com/jxtnz/portfolio-relay/internal/errors"
)

// PageSize is the number of repositories requested from GitHub.
const PageSize = 100

// Source lists the repositories of the configured user.
type Source interface {
	ListRepos(ctx context.Context) ([]*github.Repository, error)
}

// GitHubConfig holds configuration for the GitHub source.
type GitHubConfig struct {
	BaseURL string // must point at the REST API root, e.g. https://api.github.com/
	User    string
	Token   string // optional; lifts the anonymous rate limit
}

// GitHubSource lists a user's public repositories through go-github.
type GitHubSource struct {
	client *github.Client
	user   string
}

// NewGitHubSource creates a source. httpClient carries the timeout and instrumentation.
func NewGitHubSource(cfg GitHubConfig, httpClient *http.Client) (*GitHubSource, error) {
	if cfg.User == "" {
		return nil, fmt.Errorf("github user is required")
	}

	client := github.NewClient(httpClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}

	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parsing github base url: %w", err)
		}
		client.BaseURL = u
	}

	return &GitHubSource{client: client, user: cfg.User}, nil
}

// ListRepos fetches one page of the user's repositories. A successful
// response whose body is not a JSON array yields an empty list.
func (s *GitHubSource) ListRepos(ctx context.Context) ([]*github.Repository, error) {
	path := fmt.Sprintf("users/%s/repos?per_page=%d", url.PathEscape(s.user), PageSize)
	req, err := s.client.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating github request: %w", err)
	}

	var raw json.RawMessage
	resp, err := s.client.Do(ctx, req, &raw)
	if err != nil {
		var ghErr *github.ErrorResponse
		var rlErr *github.RateLimitError
		switch {
		case errors.As(err, &ghErr) && ghErr.Response != nil:
			return nil, &perrors.UpstreamError{Service: "github", StatusCode: ghErr.Response.StatusCode, Err: err}
		case errors.As(err, &rlErr) && rlErr.Response != nil:
			return nil, &perrors.UpstreamError{Service: "github", StatusCode: rlErr.Response.StatusCode, Err: err}
		case resp != nil && resp.Response != nil && resp.StatusCode >= 200 && resp.StatusCode <= 299:
			return []*github.Repository{}, nil
		case resp != nil && resp.Response != nil:
			return nil, &perrors.UpstreamError{Service: "github", StatusCode: resp.StatusCode, Err: err}
		default:
			return nil, perrors.NewTransportError("github", err)
		}
	}

	return decodeRepos(raw)
}

func decodeRepos(raw json.RawMessage) ([]*github.Repository, error) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "[") {
		return []*github.Repository{}, nil
	}

	var repos []*github.Repository
	if err := json.Unmarshal(raw, &repos); err != nil {
		return nil, fmt.Errorf("decoding github repositories: %w", err)
	}
	return repos, nil
}
