// Package prompt renders the natural-language task descriptions handed to
// the sandboxed agent. Builders are pure: no I/O, and identical inputs
// always yield identical output.
package prompt

import (
	"fmt"
	"strings"

	"github.com/crafting-demo/claude-pr-review/pkg/types"
)

// ReviewInput carries everything the PR review template embeds.
type ReviewInput struct {
	Owner   string
	Repo    string
	Number  int
	URL     string
	HeadRef string
	BaseRef string
	Title   string
	Body    string
	Files   []types.ChangedFile
}

// IssueInput carries the fields of an issue-comment trigger.
type IssueInput struct {
	Number  int
	Title   string
	Body    string
	Comment string
}

// BuildReviewPrompt renders the automated-reviewer task description for a
// pull request.
func BuildReviewPrompt(in ReviewInput) string {
	title := in.Title
	if title == "" {
		title = "(untitled)"
	}
	body := in.Body
	if body == "" {
		body = "(no description provided)"
	}

	var sb strings.Builder
	sb.WriteString("You are an automated PR reviewer.\n\n")
	fmt.Fprintf(&sb, "Repository: %s/%s\n", in.Owner, in.Repo)
	fmt.Fprintf(&sb, "PR: #%d\n", in.Number)
	fmt.Fprintf(&sb, "URL: %s\n", in.URL)
	fmt.Fprintf(&sb, "Branch: %s -> %s\n\n", in.HeadRef, in.BaseRef)
	fmt.Fprintf(&sb, "Title:\n%s\n\n", title)
	fmt.Fprintf(&sb, "Description:\n%s\n\n", body)
	fmt.Fprintf(&sb, "Changed files:\n%s\n\n", formatFiles(in.Files))
	sb.WriteString("Review instructions:\n")
	sb.WriteString("- Use `gh pr view` and `gh pr diff` to inspect the PR.\n")
	sb.WriteString("- Look for correctness issues, security risks, and missing tests.\n")
	sb.WriteString("- Keep feedback concise and actionable.\n")
	sb.WriteString("- Post a single summary comment on the PR.\n\n")
	sb.WriteString("When ready, post a comment using:\n")
	fmt.Fprintf(&sb, "`gh pr comment -R %s/%s %d --body \"<your review>\"`\n", in.Owner, in.Repo, in.Number)
	return sb.String()
}

// BuildIssuePrompt concatenates the issue context with the triggering
// comment.
func BuildIssuePrompt(in IssueInput) string {
	return fmt.Sprintf("Issue #%d: %s\n\n%s\n\n%s", in.Number, in.Title, in.Body, in.Comment)
}

func formatFiles(files []types.ChangedFile) string {
	if len(files) == 0 {
		return "No files reported by GitHub API."
	}
	lines := make([]string, 0, len(files))
	for _, f := range files {
		lines = append(lines, fmt.Sprintf("- %s (+%d -%d)", f.Filename, f.Additions, f.Deletions))
	}
	return strings.Join(lines, "\n")
}
