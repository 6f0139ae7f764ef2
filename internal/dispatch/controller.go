// Package dispatch turns one detected GitHub event into one running remote
// agent, and guarantees a result comment is posted regardless of outcome.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/crafting-demo/claude-pr-review/internal/config"
	"github.com/crafting-demo/claude-pr-review/pkg/types"
)

const (
	createTimeout   = 120 * time.Second
	transferTimeout = 30 * time.Second
)

// Runner executes sandbox-tool commands. Run blocks until the command
// exits, streaming output to the operator console; StartDetached launches
// the command in a new session, redirecting output to logFile, and returns
// without waiting.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) error
	StartDetached(command, logFile string) error
}

// Commenter posts comments on GitHub issues and pull requests.
type Commenter interface {
	CreateComment(ctx context.Context, owner, repo string, number int, body string) error
}

// Options select the dispatch mode for a run.
type Options struct {
	DryRun  bool
	Verbose bool
	Debug   bool
}

// Controller provisions a sandbox per dispatch request and starts the
// worker inside it.
type Controller struct {
	cfg       *config.Config
	runner    Runner
	commenter Commenter
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

// NewController creates a dispatch controller.
func NewController(cfg *config.Config, runner Runner, commenter Commenter, logger *zap.Logger, opts Options) *Controller {
	return &Controller{
		cfg:       cfg,
		runner:    runner,
		commenter: commenter,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// Dispatch provisions a sandbox, transfers the task parameters, starts the
// worker, and posts a result comment on the triggering item. Any failure
// after the dry-run short-circuit is reported as a comment before the
// error is returned to the caller.
func (c *Controller) Dispatch(ctx context.Context, req *types.DispatchRequest) error {
	itemNumber := req.ItemNumber()
	sandboxName := SandboxName(req.Repo, itemNumber, c.now())

	createCmd, err := c.buildCreateCommand(req, sandboxName)
	if err != nil {
		return fmt.Errorf("failed to build create command: %w", err)
	}

	c.logger.Info("dev agent command prepared",
		zap.String("sandbox", sandboxName),
		zap.String("kind", string(req.Kind)),
		zap.Int("item", itemNumber),
		zap.Bool("dry_run", c.opts.DryRun),
	)
	if c.opts.Verbose {
		c.logger.Info("prepared command", zap.String("command", createCmd))
	}

	if c.opts.DryRun {
		return nil
	}

	if err := c.execute(ctx, req, sandboxName, createCmd); err != nil {
		c.reportFailure(ctx, req, err)
		return err
	}

	body := fmt.Sprintf("🚀 PR review sandbox created and worker started for #%d. Processing in background...", itemNumber)
	if err := c.commenter.CreateComment(ctx, req.Owner, req.Repo, itemNumber, body); err != nil {
		return fmt.Errorf("failed to post success comment: %w", err)
	}
	c.logger.Info("posted success comment",
		zap.String("sandbox", sandboxName),
		zap.Int("item", itemNumber),
	)
	return nil
}

// execute walks the CREATING -> TRANSFERRING -> LAUNCHING transitions.
func (c *Controller) execute(ctx context.Context, req *types.DispatchRequest, sandboxName, createCmd string) error {
	itemNumber := req.ItemNumber()

	c.logger.Info("creating sandbox",
		zap.String("sandbox", sandboxName),
		zap.Int("item", itemNumber),
	)
	if err := c.runner.Run(ctx, createCmd, createTimeout); err != nil {
		return fmt.Errorf("sandbox creation failed: %w", err)
	}

	c.logger.Info("sandbox ready, transferring task parameters",
		zap.String("sandbox", sandboxName),
	)
	if err := c.transferParameters(ctx, req, sandboxName); err != nil {
		return err
	}

	return c.launchWorker(ctx, req, sandboxName)
}

// transferParameters copies the fixed, ordered set of task payload files
// into the sandbox command directory.
func (c *Controller) transferParameters(ctx context.Context, req *types.DispatchRequest, sandboxName string) error {
	itemNumber := req.ItemNumber()
	payloads := []struct {
		file    string
		content string
	}{
		{"prompt.txt", req.Prompt},
		{"prompt_filename.txt", "prompt.txt"},
		{"task_mode.txt", "create"},
		{"task_id.txt", fmt.Sprintf("pr-%d", itemNumber)},
		{"github_repo.txt", fmt.Sprintf("%s/%s", req.Owner, req.Repo)},
		{"github_token.txt", c.cfg.Token},
		{"github_branch.txt", req.PRHeadRef},
		{"tool_whitelist.txt", c.cfg.ToolWhitelistJSON},
	}

	for _, p := range payloads {
		target := c.cfg.CmdDir + "/" + p.file
		if err := c.transferContent(ctx, sandboxName, target, p.content); err != nil {
			return fmt.Errorf("failed to transfer %s: %w", p.file, err)
		}
	}
	return nil
}

// transferContent writes content to a fresh local temp file and copies it
// into the sandbox. The temp file and its directory are removed afterwards
// even when the copy fails; cleanup failures are only warned about.
func (c *Controller) transferContent(ctx context.Context, sandboxName, targetPath, content string) error {
	if err := checkCommandValue("target path", targetPath); err != nil {
		return err
	}

	tempDir, err := os.MkdirTemp("", "gh-watcher-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	tempFile := filepath.Join(tempDir, "payload.txt")
	if err := os.WriteFile(tempFile, []byte(content), 0o600); err != nil {
		c.cleanupTemp(tempFile, tempDir)
		return fmt.Errorf("failed to write payload: %w", err)
	}

	scpCmd := fmt.Sprintf("cs scp %s %s:%s", tempFile, sandboxName, targetPath)
	runErr := c.runner.Run(ctx, scpCmd, transferTimeout)
	c.cleanupTemp(tempFile, tempDir)
	return runErr
}

func (c *Controller) cleanupTemp(tempFile, tempDir string) {
	if err := os.Remove(tempFile); err != nil {
		c.logger.Warn("failed to remove temp file", zap.String("path", tempFile), zap.Error(err))
	}
	if err := os.Remove(tempDir); err != nil {
		c.logger.Warn("failed to remove temp dir", zap.String("path", tempDir), zap.Error(err))
	}
}

// launchWorker starts the worker inside the sandbox. Debug mode blocks
// until the worker initialization exits; otherwise the command is detached
// into its own session so it survives this process, and success only means
// the launch was initiated.
func (c *Controller) launchWorker(ctx context.Context, req *types.DispatchRequest, sandboxName string) error {
	itemNumber := req.ItemNumber()
	execCmd := fmt.Sprintf("cs exec -t -u 1000 -W %s/claude -- bash -i -c '~/claude/dev-worker/start-worker.sh'", sandboxName)

	if c.opts.Debug {
		c.logger.Info("debug mode: waiting for worker initialization",
			zap.String("sandbox", sandboxName),
			zap.Int("item", itemNumber),
		)
		if err := c.runner.Run(ctx, execCmd, 0); err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		c.logger.Info("worker initialization completed",
			zap.String("sandbox", sandboxName),
			zap.Int("item", itemNumber),
		)
		return nil
	}

	logFile := filepath.Join(c.cfg.WorkerLogDir, fmt.Sprintf("worker-%s-%d.log", sandboxName, c.now().UnixMilli()))
	c.logger.Info("launching worker in background",
		zap.String("sandbox", sandboxName),
		zap.String("log_file", logFile),
	)
	if err := c.runner.StartDetached(execCmd, logFile); err != nil {
		return fmt.Errorf("worker launch failed: %w", err)
	}
	return nil
}

// reportFailure posts the failure comment. A comment failure is logged but
// never masks the dispatch error.
func (c *Controller) reportFailure(ctx context.Context, req *types.DispatchRequest, dispatchErr error) {
	itemNumber := req.ItemNumber()
	body := fmt.Sprintf("❌ Dev agent sandbox creation failed for %s #%d: %v", req.Kind, itemNumber, dispatchErr)
	if err := c.commenter.CreateComment(ctx, req.Owner, req.Repo, itemNumber, body); err != nil {
		c.logger.Error("failed to post failure comment",
			zap.Int("item", itemNumber),
			zap.Error(err),
		)
		return
	}
	c.logger.Info("posted failure comment", zap.Int("item", itemNumber))
}
