package github

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ListIssuesOptions filters ListIssues. Zero values are omitted.
type ListIssuesOptions struct {
	State     string // "open", "closed", "all"
	Labels    []string
	Assignee  string
	Sort      string // "created", "updated", "comments"
	Direction string // "asc", "desc"
}

func (o ListIssuesOptions) query() url.Values {
	q := url.Values{}
	if o.State != "" {
		q.Set("state", o.State)
	}
	if len(o.Labels) > 0 {
		q.Set("labels", strings.Join(o.Labels, ","))
	}
	if o.Assignee != "" {
		q.Set("assignee", o.Assignee)
	}
	if o.Sort != "" {
		q.Set("sort", o.Sort)
	}
	if o.Direction != "" {
		q.Set("direction", o.Direction)
	}
	q.Set("per_page", "100")
	return q
}

// CreateIssueRequest contains the fields for creating a new issue.
type CreateIssueRequest struct {
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

func issuePath(owner, repo string, number int) string {
	return repoPath(owner, repo) + "/issues/" + strconv.Itoa(number)
}

// GetRepository fetches repository metadata.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	var out Repository
	if err := c.get(ctx, repoPath(owner, repo), &out); err != nil {
		return nil, fmt.Errorf("getting repository %s/%s: %w", owner, repo, err)
	}
	return &out, nil
}

// ListIssues returns the first page (up to 100) of issues, excluding pull
// requests.
func (c *Client) ListIssues(ctx context.Context, owner, repo string, opts ListIssuesOptions) ([]Issue, error) {
	var all []Issue
	path := repoPath(owner, repo) + "/issues?" + opts.query().Encode()
	if err := c.get(ctx, path, &all); err != nil {
		return nil, fmt.Errorf("listing issues in %s/%s: %w", owner, repo, err)
	}

	issues := make([]Issue, 0, len(all))
	for _, issue := range all {
		if issue.PullRequest == nil {
			issues = append(issues, issue)
		}
	}
	return issues, nil
}

// GetIssue fetches a single issue.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	var out Issue
	if err := c.get(ctx, issuePath(owner, repo, number), &out); err != nil {
		return nil, fmt.Errorf("getting issue %s/%s#%d: %w", owner, repo, number, err)
	}
	return &out, nil
}

// ListComments returns an issue's comments.
func (c *Client) ListComments(ctx context.Context, owner, repo string, number int) ([]Comment, error) {
	var out []Comment
	if err := c.get(ctx, issuePath(owner, repo, number)+"/comments", &out); err != nil {
		return nil, fmt.Errorf("listing comments on %s/%s#%d: %w", owner, repo, number, err)
	}
	return out, nil
}

// ListEvents returns an issue's events.
func (c *Client) ListEvents(ctx context.Context, owner, repo string, number int) ([]IssueEvent, error) {
	var out []IssueEvent
	if err := c.get(ctx, issuePath(owner, repo, number)+"/events", &out); err != nil {
		return nil, fmt.Errorf("listing events on %s/%s#%d: %w", owner, repo, number, err)
	}
	return out, nil
}

// AddComment posts a comment on an issue.
func (c *Client) AddComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error) {
	var out Comment
	request := struct {
		Body string `json:"body"`
	}{body}
	if err := c.post(ctx, issuePath(owner, repo, number)+"/comments", request, &out); err != nil {
		return nil, fmt.Errorf("commenting on %s/%s#%d: %w", owner, repo, number, err)
	}
	return &out, nil
}

// CreateIssue opens a new issue.
func (c *Client) CreateIssue(ctx context.Context, owner, repo string, request CreateIssueRequest) (*Issue, error) {
	var out Issue
	if err := c.post(ctx, repoPath(owner, repo)+"/issues", request, &out); err != nil {
		return nil, fmt.Errorf("creating issue in %s/%s: %w", owner, repo, err)
	}
	return &out, nil
}
