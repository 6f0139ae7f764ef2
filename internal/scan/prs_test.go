package scan

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	gh "github.com/google/go-github/v57/github"

	"github.com/crafting-demo/claude-pr-review/internal/config"
	ghclient "github.com/crafting-demo/claude-pr-review/internal/github"
	"github.com/crafting-demo/claude-pr-review/internal/state"
	"github.com/crafting-demo/claude-pr-review/pkg/types"
)

type fakePRSource struct {
	prs     map[string][]*gh.PullRequest
	files   map[int][]*gh.CommitFile
	listErr error
}

func (s *fakePRSource) ListOpenPullRequests(_ context.Context, owner, repo string) ([]*gh.PullRequest, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.prs[owner+"/"+repo], nil
}

func (s *fakePRSource) ListPullRequestFiles(_ context.Context, _, _ string, number int) ([]*gh.CommitFile, error) {
	return s.files[number], nil
}

func makePR(number int, updatedAt string, labels ...string) *gh.PullRequest {
	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		panic(err)
	}
	pr := &gh.PullRequest{
		Number:    gh.Int(number),
		UpdatedAt: &gh.Timestamp{Time: ts},
		HTMLURL:   gh.String(fmt.Sprintf("https://github.com/acme/widgets/pull/%d", number)),
		Title:     gh.String(fmt.Sprintf("PR %d", number)),
		Body:      gh.String("body"),
		Head:      &gh.PullRequestBranch{Ref: gh.String("feature-x")},
		Base:      &gh.PullRequestBranch{Ref: gh.String("main")},
	}
	for _, name := range labels {
		pr.Labels = append(pr.Labels, &gh.Label{Name: gh.String(name)})
	}
	return pr
}

func prConfig() *config.Config {
	return &config.Config{Watchlist: []string{"acme/widgets"}}
}

func TestPRScannerDispatchesNewPR(t *testing.T) {
	t.Parallel()

	source := &fakePRSource{
		prs: map[string][]*gh.PullRequest{
			"acme/widgets": {makePR(7, "2024-01-02T00:00:00Z", "bug")},
		},
		files: map[int][]*gh.CommitFile{
			7: {{Filename: gh.String("frob.go"), Additions: gh.Int(3), Deletions: gh.Int(1)}},
		},
	}
	dispatcher := &fakeDispatcher{}
	scanner := NewPRScanner(source, dispatcher, prConfig(), testLogger(t))

	st := state.State{"acme/widgets": {LastPRUpdatedAt: "2024-01-01T00:00:00Z"}}
	changed, err := scanner.Scan(context.Background(), st)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !changed {
		t.Fatal("Scan() changed = false, want true")
	}
	if len(dispatcher.requests) != 1 {
		t.Fatalf("dispatched %d requests, want 1", len(dispatcher.requests))
	}

	req := dispatcher.requests[0]
	if req.Kind != types.KindPRReview {
		t.Errorf("Kind = %q, want pr_review", req.Kind)
	}
	if req.PRNumber != 7 || req.IssueNumber != 7 {
		t.Errorf("numbers = pr %d issue %d, want 7/7", req.PRNumber, req.IssueNumber)
	}
	if req.PRHeadRef != "feature-x" {
		t.Errorf("PRHeadRef = %q", req.PRHeadRef)
	}
	if st["acme/widgets"].LastPRUpdatedAt != "2024-01-02T00:00:00Z" {
		t.Errorf("watermark = %q, want 2024-01-02T00:00:00Z", st["acme/widgets"].LastPRUpdatedAt)
	}
}

func TestPRScannerFirstRunBootstrap(t *testing.T) {
	t.Parallel()

	prs := make([]*gh.PullRequest, 0, 5)
	for i := 1; i <= 5; i++ {
		prs = append(prs, makePR(i, "2024-01-02T00:00:00Z"))
	}
	source := &fakePRSource{prs: map[string][]*gh.PullRequest{"acme/widgets": prs}}
	dispatcher := &fakeDispatcher{}
	scanner := NewPRScanner(source, dispatcher, prConfig(), testLogger(t))

	scanStart := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	scanner.now = func() time.Time { return scanStart }

	st := state.State{}
	changed, err := scanner.Scan(context.Background(), st)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !changed {
		t.Fatal("Scan() changed = false, want true (watermark seeded)")
	}
	if len(dispatcher.requests) != 0 {
		t.Fatalf("dispatched %d requests, want 0 on first run", len(dispatcher.requests))
	}

	seeded, err := time.Parse(time.RFC3339, st["acme/widgets"].LastPRUpdatedAt)
	if err != nil {
		t.Fatalf("seeded watermark unparseable: %v", err)
	}
	if seeded.Before(scanStart) {
		t.Fatalf("seeded watermark %v is before scan start %v", seeded, scanStart)
	}
}

func TestPRScannerProcessExistingPRs(t *testing.T) {
	t.Parallel()

	source := &fakePRSource{
		prs: map[string][]*gh.PullRequest{
			"acme/widgets": {makePR(3, "2024-01-02T00:00:00Z")},
		},
	}
	dispatcher := &fakeDispatcher{}
	cfg := prConfig()
	cfg.ProcessExistingPRs = true
	scanner := NewPRScanner(source, dispatcher, cfg, testLogger(t))

	changed, err := scanner.Scan(context.Background(), state.State{})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !changed || len(dispatcher.requests) != 1 {
		t.Fatalf("changed = %v, dispatched = %d; want true, 1", changed, len(dispatcher.requests))
	}
}

func TestPRScannerLabelFilter(t *testing.T) {
	t.Parallel()

	source := &fakePRSource{
		prs: map[string][]*gh.PullRequest{
			"acme/widgets": {
				makePR(1, "2024-01-02T00:00:00Z", "bug"),
				makePR(2, "2024-01-03T00:00:00Z", "bug", "needs-review"),
			},
		},
	}
	dispatcher := &fakeDispatcher{}
	cfg := prConfig()
	cfg.RequiredPRLabels = []string{"needs-review"}
	scanner := NewPRScanner(source, dispatcher, cfg, testLogger(t))

	st := state.State{"acme/widgets": {LastPRUpdatedAt: "2024-01-01T00:00:00Z"}}
	if _, err := scanner.Scan(context.Background(), st); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(dispatcher.requests) != 1 || dispatcher.requests[0].PRNumber != 2 {
		t.Fatalf("dispatched %v, want only PR 2", dispatcher.requests)
	}
}

func TestPRScannerSkipsBoundaryItem(t *testing.T) {
	t.Parallel()

	source := &fakePRSource{
		prs: map[string][]*gh.PullRequest{
			"acme/widgets": {makePR(4, "2024-01-01T00:00:00Z")},
		},
	}
	dispatcher := &fakeDispatcher{}
	scanner := NewPRScanner(source, dispatcher, prConfig(), testLogger(t))

	st := state.State{"acme/widgets": {LastPRUpdatedAt: "2024-01-01T00:00:00Z"}}
	changed, err := scanner.Scan(context.Background(), st)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if changed {
		t.Error("changed = true, want false")
	}
	if len(dispatcher.requests) != 0 {
		t.Fatalf("dispatched %d requests, want 0 for boundary item", len(dispatcher.requests))
	}
}

func TestPRScannerIdempotentRescan(t *testing.T) {
	t.Parallel()

	source := &fakePRSource{
		prs: map[string][]*gh.PullRequest{
			"acme/widgets": {makePR(7, "2024-01-02T00:00:00Z")},
		},
	}
	dispatcher := &fakeDispatcher{}
	scanner := NewPRScanner(source, dispatcher, prConfig(), testLogger(t))

	st := state.State{"acme/widgets": {LastPRUpdatedAt: "2024-01-01T00:00:00Z"}}
	if _, err := scanner.Scan(context.Background(), st); err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}
	if len(dispatcher.requests) != 1 {
		t.Fatalf("first scan dispatched %d, want 1", len(dispatcher.requests))
	}

	changed, err := scanner.Scan(context.Background(), st)
	if err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}
	if changed {
		t.Error("second scan changed = true, want false")
	}
	if len(dispatcher.requests) != 1 {
		t.Fatalf("second scan dispatched %d more requests, want 0", len(dispatcher.requests)-1)
	}
}

func TestPRScannerIsolatesDispatchFailures(t *testing.T) {
	t.Parallel()

	source := &fakePRSource{
		prs: map[string][]*gh.PullRequest{
			"acme/widgets": {
				makePR(1, "2024-01-02T00:00:00Z"),
				makePR(2, "2024-01-03T00:00:00Z"),
			},
		},
	}
	dispatcher := &fakeDispatcher{errs: map[int]error{0: errors.New("sandbox creation failed")}}
	scanner := NewPRScanner(source, dispatcher, prConfig(), testLogger(t))

	st := state.State{"acme/widgets": {LastPRUpdatedAt: "2024-01-01T00:00:00Z"}}
	changed, err := scanner.Scan(context.Background(), st)
	if err != nil {
		t.Fatalf("Scan() error = %v, want nil (failure isolated)", err)
	}
	if len(dispatcher.requests) != 2 {
		t.Fatalf("dispatched %d requests, want both attempted", len(dispatcher.requests))
	}
	if !changed || st["acme/widgets"].LastPRUpdatedAt != "2024-01-03T00:00:00Z" {
		t.Fatalf("watermark = %q, want advanced to 2024-01-03T00:00:00Z", st["acme/widgets"].LastPRUpdatedAt)
	}
}

func TestPRScannerPropagatesQuotaExhaustion(t *testing.T) {
	t.Parallel()

	source := &fakePRSource{
		prs: map[string][]*gh.PullRequest{
			"acme/widgets": {
				makePR(1, "2024-01-02T00:00:00Z"),
				makePR(2, "2024-01-03T00:00:00Z"),
			},
		},
	}
	quotaErr := fmt.Errorf("create comment: %w", ghclient.ErrQuotaExhausted)
	dispatcher := &fakeDispatcher{errs: map[int]error{0: quotaErr}}
	scanner := NewPRScanner(source, dispatcher, prConfig(), testLogger(t))

	st := state.State{"acme/widgets": {LastPRUpdatedAt: "2024-01-01T00:00:00Z"}}
	_, err := scanner.Scan(context.Background(), st)
	if !errors.Is(err, ghclient.ErrQuotaExhausted) {
		t.Fatalf("Scan() error = %v, want quota exhaustion", err)
	}
	if len(dispatcher.requests) != 1 {
		t.Fatalf("dispatched %d requests, want scan halted after quota error", len(dispatcher.requests))
	}
}

func TestPRScannerWatermarkCoversSkippedPRs(t *testing.T) {
	t.Parallel()

	// The newest PR lacks the required label; the watermark must still
	// advance past it.
	source := &fakePRSource{
		prs: map[string][]*gh.PullRequest{
			"acme/widgets": {
				makePR(1, "2024-01-02T00:00:00Z", "needs-review"),
				makePR(2, "2024-01-05T00:00:00Z", "bug"),
			},
		},
	}
	dispatcher := &fakeDispatcher{}
	cfg := prConfig()
	cfg.RequiredPRLabels = []string{"needs-review"}
	scanner := NewPRScanner(source, dispatcher, cfg, testLogger(t))

	st := state.State{"acme/widgets": {LastPRUpdatedAt: "2024-01-01T00:00:00Z"}}
	changed, err := scanner.Scan(context.Background(), st)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !changed || st["acme/widgets"].LastPRUpdatedAt != "2024-01-05T00:00:00Z" {
		t.Fatalf("watermark = %q, want 2024-01-05T00:00:00Z", st["acme/widgets"].LastPRUpdatedAt)
	}
	if len(dispatcher.requests) != 1 {
		t.Fatalf("dispatched %d requests, want 1", len(dispatcher.requests))
	}
}

func TestPRScannerListFailureAborts(t *testing.T) {
	t.Parallel()

	source := &fakePRSource{listErr: errors.New("boom")}
	scanner := NewPRScanner(source, &fakeDispatcher{}, prConfig(), testLogger(t))

	st := state.State{"acme/widgets": {LastPRUpdatedAt: "2024-01-01T00:00:00Z"}}
	if _, err := scanner.Scan(context.Background(), st); err == nil {
		t.Fatal("Scan() error = nil, want listing failure")
	}
}
