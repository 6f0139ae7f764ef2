package scan

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crafting-demo/claude-pr-review/internal/config"
	ghclient "github.com/crafting-demo/claude-pr-review/internal/github"
	"github.com/crafting-demo/claude-pr-review/internal/prompt"
	"github.com/crafting-demo/claude-pr-review/internal/state"
	"github.com/crafting-demo/claude-pr-review/pkg/types"
)

// IssueScanner detects new issue comments containing the trigger phrase
// and dispatches an agent for each.
type IssueScanner struct {
	source     IssueSource
	dispatcher Dispatcher
	cfg        *config.Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewIssueScanner creates an issue scanner.
func NewIssueScanner(source IssueSource, dispatcher Dispatcher, cfg *config.Config, logger *zap.Logger) *IssueScanner {
	return &IssueScanner{
		source:     source,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Scan walks the watchlist once, mutating st in place. The comment-id
// watermark advances over every comment seen above the prior watermark, so
// a comment that never triggers is still accounted for and not revisited.
func (s *IssueScanner) Scan(ctx context.Context, st state.State) (bool, error) {
	changed := false

	for _, fullName := range s.cfg.Watchlist {
		owner, repo, _ := strings.Cut(fullName, "/")
		rs := st.Repo(fullName)

		s.logger.Debug("scanning issues", zap.String("repo", fullName))

		issues, err := s.source.ListOpenIssues(ctx, owner, repo)
		if err != nil {
			return changed, err
		}

		maxCommentID := rs.LastIssueComment

		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}

			comments, err := s.source.ListIssueComments(ctx, owner, repo, issue.GetNumber())
			if err != nil {
				return changed, err
			}

			for _, comment := range comments {
				id := comment.GetID()
				if id <= rs.LastIssueComment {
					continue
				}
				if id > maxCommentID {
					maxCommentID = id
				}

				if !strings.Contains(comment.GetBody(), s.cfg.TriggerPhrase) {
					continue
				}

				s.logger.Info("trigger phrase found",
					zap.String("repo", fullName),
					zap.Int("issue", issue.GetNumber()),
					zap.Int64("comment_id", id),
				)

				req := &types.DispatchRequest{
					Owner: owner,
					Repo:  repo,
					Kind:  types.KindIssue,
					Prompt: prompt.BuildIssuePrompt(prompt.IssueInput{
						Number:  issue.GetNumber(),
						Title:   issue.GetTitle(),
						Body:    issue.GetBody(),
						Comment: comment.GetBody(),
					}),
					IssueNumber: issue.GetNumber(),
				}
				if err := s.dispatcher.Dispatch(ctx, req); err != nil {
					if errors.Is(err, ghclient.ErrQuotaExhausted) {
						return changed, err
					}
					s.logger.Error("dispatch failed, continuing scan",
						zap.String("repo", fullName),
						zap.Int("issue", issue.GetNumber()),
						zap.Error(err),
					)
				}
			}
		}

		if maxCommentID > rs.LastIssueComment {
			rs.LastIssueComment = maxCommentID
			changed = true
		}
	}

	return changed, nil
}
