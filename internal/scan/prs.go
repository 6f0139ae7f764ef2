package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/crafting-demo/claude-pr-review/internal/config"
	ghclient "github.com/crafting-demo/claude-pr-review/internal/github"
	"github.com/crafting-demo/claude-pr-review/internal/prompt"
	"github.com/crafting-demo/claude-pr-review/internal/state"
	"github.com/crafting-demo/claude-pr-review/pkg/types"
)

// PRScanner detects pull requests updated past the per-repository
// watermark and dispatches a review agent for each.
type PRScanner struct {
	source     PullRequestSource
	dispatcher Dispatcher
	cfg        *config.Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewPRScanner creates a pull request scanner.
func NewPRScanner(source PullRequestSource, dispatcher Dispatcher, cfg *config.Config, logger *zap.Logger) *PRScanner {
	return &PRScanner{
		source:     source,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Scan walks the watchlist once, mutating st in place. It returns whether
// any watermark advanced. Listing failures abort the scan; dispatch
// failures are isolated per item, except quota exhaustion which always
// propagates.
func (s *PRScanner) Scan(ctx context.Context, st state.State) (bool, error) {
	changed := false

	for _, fullName := range s.cfg.Watchlist {
		owner, repo, _ := strings.Cut(fullName, "/")
		rs := st.Repo(fullName)

		s.logger.Debug("scanning pull requests", zap.String("repo", fullName))

		// First-run bootstrap: without a watermark, seed it to now
		// instead of dispatching against the whole historical backlog.
		if rs.LastPRUpdatedAt == "" && !s.cfg.ProcessExistingPRs {
			rs.LastPRUpdatedAt = s.now().UTC().Format(time.RFC3339)
			changed = true
			s.logger.Info("initialized PR watermark",
				zap.String("repo", fullName),
				zap.String("watermark", rs.LastPRUpdatedAt),
			)
			continue
		}

		var watermark time.Time
		if rs.LastPRUpdatedAt != "" {
			var err error
			watermark, err = time.Parse(time.RFC3339, rs.LastPRUpdatedAt)
			if err != nil {
				return changed, fmt.Errorf("invalid PR watermark %q for %s: %w", rs.LastPRUpdatedAt, fullName, err)
			}
		}

		prs, err := s.source.ListOpenPullRequests(ctx, owner, repo)
		if err != nil {
			return changed, err
		}

		for _, pr := range prs {
			if !s.hasRequiredLabel(pr) {
				continue
			}
			// Boundary items were watermarked by the previous run;
			// <= keeps them from being reprocessed.
			updated := pr.GetUpdatedAt().Time
			if !updated.After(watermark) {
				continue
			}

			if err := s.dispatchReview(ctx, owner, repo, pr); err != nil {
				if errors.Is(err, ghclient.ErrQuotaExhausted) {
					return changed, err
				}
				s.logger.Error("dispatch failed, continuing scan",
					zap.String("repo", fullName),
					zap.Int("pr", pr.GetNumber()),
					zap.Error(err),
				)
			}
		}

		// The watermark covers every fetched PR, dispatched or not, so a
		// later run never revisits items this one already examined.
		newest := watermark
		for _, pr := range prs {
			if updated := pr.GetUpdatedAt().Time; updated.After(newest) {
				newest = updated
			}
		}
		if newest.After(watermark) {
			rs.LastPRUpdatedAt = newest.UTC().Format(time.RFC3339)
			changed = true
		}
	}

	return changed, nil
}

func (s *PRScanner) dispatchReview(ctx context.Context, owner, repo string, pr *gh.PullRequest) error {
	files, err := s.source.ListPullRequestFiles(ctx, owner, repo, pr.GetNumber())
	if err != nil {
		return err
	}

	changed := make([]types.ChangedFile, 0, len(files))
	for _, f := range files {
		changed = append(changed, types.ChangedFile{
			Filename:  f.GetFilename(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
		})
	}

	req := &types.DispatchRequest{
		Owner: owner,
		Repo:  repo,
		Kind:  types.KindPRReview,
		Prompt: prompt.BuildReviewPrompt(prompt.ReviewInput{
			Owner:   owner,
			Repo:    repo,
			Number:  pr.GetNumber(),
			URL:     pr.GetHTMLURL(),
			HeadRef: pr.GetHead().GetRef(),
			BaseRef: pr.GetBase().GetRef(),
			Title:   pr.GetTitle(),
			Body:    pr.GetBody(),
			Files:   changed,
		}),
		IssueNumber: pr.GetNumber(),
		PRNumber:    pr.GetNumber(),
		PRURL:       pr.GetHTMLURL(),
		PRHeadRef:   pr.GetHead().GetRef(),
	}
	return s.dispatcher.Dispatch(ctx, req)
}

// hasRequiredLabel applies the configured label filter: an empty required
// set admits every PR, otherwise at least one label must match.
func (s *PRScanner) hasRequiredLabel(pr *gh.PullRequest) bool {
	if len(s.cfg.RequiredPRLabels) == 0 {
		return true
	}
	for _, label := range pr.Labels {
		for _, required := range s.cfg.RequiredPRLabels {
			if label.GetName() == required {
				return true
			}
		}
	}
	return false
}
