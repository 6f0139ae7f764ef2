package github

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ErrQuotaExhausted indicates the API rate limit is fully spent. The run
// must halt immediately with a temporary-failure status; continuing would
// produce a partial scan with no way to tell which items were seen.
var ErrQuotaExhausted = errors.New("github API quota exhausted")

// Client wraps the GitHub API for listing watched activity and posting
// result comments.
type Client struct {
	apiClient *github.Client
	logger    *zap.Logger
}

// NewClient creates a token-authenticated GitHub client.
func NewClient(accessToken string, logger *zap.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: accessToken},
	)
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = 10 * time.Second

	return &Client{
		apiClient: github.NewClient(tc),
		logger:    logger,
	}
}

// ListOpenPullRequests returns all open PRs for the repository, following
// pagination to the end.
func (c *Client) ListOpenPullRequests(ctx context.Context, owner, repo string) ([]*github.PullRequest, error) {
	opt := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []*github.PullRequest
	for {
		prs, resp, err := c.apiClient.PullRequests.List(ctx, owner, repo, opt)
		if err != nil {
			return nil, c.wrapAPIError("list pull requests", owner, repo, err)
		}
		all = append(all, prs...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return all, nil
}

// ListPullRequestFiles returns the changed-file listing for one PR.
func (c *Client) ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]*github.CommitFile, error) {
	opt := &github.ListOptions{PerPage: 100}

	var all []*github.CommitFile
	for {
		files, resp, err := c.apiClient.PullRequests.ListFiles(ctx, owner, repo, number, opt)
		if err != nil {
			return nil, c.wrapAPIError("list pull request files", owner, repo, err)
		}
		all = append(all, files...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return all, nil
}

// ListOpenIssues returns all open issues for the repository. The result
// still contains PR-backed issues; callers filter on Issue.IsPullRequest.
func (c *Client) ListOpenIssues(ctx context.Context, owner, repo string) ([]*github.Issue, error) {
	opt := &github.IssueListByRepoOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []*github.Issue
	for {
		issues, resp, err := c.apiClient.Issues.ListByRepo(ctx, owner, repo, opt)
		if err != nil {
			return nil, c.wrapAPIError("list issues", owner, repo, err)
		}
		all = append(all, issues...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return all, nil
}

// ListIssueComments returns all comments on one issue.
func (c *Client) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]*github.IssueComment, error) {
	opt := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []*github.IssueComment
	for {
		comments, resp, err := c.apiClient.Issues.ListComments(ctx, owner, repo, number, opt)
		if err != nil {
			return nil, c.wrapAPIError("list issue comments", owner, repo, err)
		}
		all = append(all, comments...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return all, nil
}

// CreateComment posts a comment on the issue or PR identified by number.
func (c *Client) CreateComment(ctx context.Context, owner, repo string, number int, body string) error {
	comment := &github.IssueComment{Body: github.String(body)}
	_, _, err := c.apiClient.Issues.CreateComment(ctx, owner, repo, number, comment)
	if err != nil {
		return c.wrapAPIError("create comment", owner, repo, err)
	}

	c.logger.Info("posted comment",
		zap.String("owner", owner),
		zap.String("repo", repo),
		zap.Int("number", number),
	)
	return nil
}

func (c *Client) wrapAPIError(op, owner, repo string, err error) error {
	if isQuotaExhausted(err) {
		c.logger.Error("github rate limit exhausted",
			zap.String("op", op),
			zap.String("owner", owner),
			zap.String("repo", repo),
		)
		return fmt.Errorf("%s %s/%s: %w", op, owner, repo, ErrQuotaExhausted)
	}
	return fmt.Errorf("failed to %s for %s/%s: %w", op, owner, repo, err)
}

func isQuotaExhausted(err error) bool {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	return errors.As(err, &rateErr) || errors.As(err, &abuseErr)
}
