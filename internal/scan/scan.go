// Package scan implements the incremental event scanners. Each scanner
// walks the watchlist, compares repository activity against the stored
// watermarks, and hands qualifying items to the dispatch controller one at
// a time.
package scan

import (
	"context"

	"github.com/google/go-github/v57/github"

	"github.com/crafting-demo/claude-pr-review/pkg/types"
)

// PullRequestSource lists open pull requests and their changed files.
type PullRequestSource interface {
	ListOpenPullRequests(ctx context.Context, owner, repo string) ([]*github.PullRequest, error)
	ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]*github.CommitFile, error)
}

// IssueSource lists open issues and their comments.
type IssueSource interface {
	ListOpenIssues(ctx context.Context, owner, repo string) ([]*github.Issue, error)
	ListIssueComments(ctx context.Context, owner, repo string, number int) ([]*github.IssueComment, error)
}

// Dispatcher consumes one dispatch request. The dispatch controller
// satisfies this.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *types.DispatchRequest) error
}
