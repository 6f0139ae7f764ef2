package types

// Kind identifies what triggered a dispatch.
type Kind string

const (
	// KindIssue marks a dispatch triggered by an issue comment.
	KindIssue Kind = "issue"
	// KindPRReview marks a dispatch triggered by pull request activity.
	KindPRReview Kind = "pr_review"
)

// DispatchRequest describes one unit of work handed to the dispatch
// controller. Constructed by a scanner, consumed exactly once, never
// persisted.
type DispatchRequest struct {
	Owner       string
	Repo        string
	Kind        Kind
	Prompt      string
	IssueNumber int
	PRNumber    int
	PRURL       string
	PRHeadRef   string
}

// ItemNumber returns the issue or PR number the dispatch is anchored to.
// Result comments are posted against this number.
func (r *DispatchRequest) ItemNumber() int {
	if r.IssueNumber != 0 {
		return r.IssueNumber
	}
	return r.PRNumber
}

// ChangedFile is one entry of a pull request's changed-file listing.
type ChangedFile struct {
	Filename  string
	Additions int
	Deletions int
}
