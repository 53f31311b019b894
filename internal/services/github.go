package services

import (
	"context"
	"fmt"
	"net/http"

	"github-telegram-notifier/internal/config"
	"github-telegram-notifier/internal/log"

	"github.com/google/go-github/v73/github"
)

// GitHubService answers repository existence checks during onboarding.
type GitHubService struct {
	client *github.Client
}

// NewGitHubService creates a GitHubService. When a token is configured the
// client authenticates, which raises the API rate limit; anonymous access
// works for public repositories.
func NewGitHubService(cfg *config.Config) *GitHubService {
	client := github.NewClient(nil)
	if cfg.GitHubToken != "" {
		client = client.WithAuthToken(cfg.GitHubToken)
	}
	return &GitHubService{client: client}
}

// NewGitHubServiceWithClient creates a GitHubService on a caller-supplied
// HTTP client, used by tests.
func NewGitHubServiceWithClient(httpClient *http.Client) *GitHubService {
	return &GitHubService{client: github.NewClient(httpClient)}
}

// RepoExists reports whether owner/name is a reachable GitHub repository.
// A 404 is a normal answer, not an error.
func (s *GitHubService) RepoExists(ctx context.Context, owner, name string) (bool, error) {
	_, resp, err := s.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			log.Debug(ctx, "Repository not found on GitHub", "owner", owner, "name", name)
			return false, nil
		}
		log.Error(ctx, "Failed to check repository existence",
			"error", err,
			"owner", owner,
			"name", name,
			"operation", "repo_exists",
		)
		return false, fmt.Errorf("failed to check repository %s/%s: %w", owner, name, err)
	}
	return true, nil
}
