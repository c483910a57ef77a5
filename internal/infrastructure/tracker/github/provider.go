package github

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	gh "github.com/google/go-github/v68/github"

	"issueflow/internal/errs"
	"issueflow/internal/ports"
)

type Provider struct {
	client *gh.Client
	owner  string
	repo   string
}

var _ ports.IssueTracker = (*Provider)(nil)

func NewProvider(client *gh.Client, repo string) (*Provider, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, owner: owner, repo: name}, nil
}

func (p *Provider) CreateIssue(ctx context.Context, in ports.IssueCreate) (ports.Issue, error) {
	req := &gh.IssueRequest{Title: gh.Ptr(in.Title), Body: gh.Ptr(in.Body)}
	if len(in.Labels) > 0 {
		labels := append([]string(nil), in.Labels...)
		req.Labels = &labels
	}
	issue, _, err := p.client.Issues.Create(ctx, p.owner, p.repo, req)
	if err != nil {
		return ports.Issue{}, errs.Wrap(err, "github create issue")
	}
	return mapIssue(issue), nil
}

func (p *Provider) ListIssuesByLabel(ctx context.Context, label string) ([]ports.Issue, error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		Labels:      []string{label},
		Sort:        "created",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	out := make([]ports.Issue, 0)
	for {
		page, resp, err := p.client.Issues.ListByRepo(ctx, p.owner, p.repo, opts)
		if err != nil {
			return nil, errs.Wrapf(err, "github list issues with label %q", label)
		}
		for _, issue := range page {
			if issue.IsPullRequest() {
				continue
			}
			out = append(out, mapIssue(issue))
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func (p *Provider) GetIssue(ctx context.Context, id int) (ports.Issue, error) {
	issue, resp, err := p.client.Issues.Get(ctx, p.owner, p.repo, id)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return ports.Issue{}, fmt.Errorf("%w: #%d", ports.ErrIssueNotFound, id)
		}
		return ports.Issue{}, errs.Wrapf(err, "github get issue #%d", id)
	}
	return mapIssue(issue), nil
}

// TransitionLabel adds the new label before removing the old one so the issue
// is never observed without a state.
func (p *Provider) TransitionLabel(ctx context.Context, id int, from string, to string) error {
	if err := p.AddLabels(ctx, id, to); err != nil {
		return err
	}
	if from == "" || from == to {
		return nil
	}
	return p.RemoveLabels(ctx, id, from)
}

func (p *Provider) AddLabels(ctx context.Context, id int, labels ...string) error {
	if len(labels) == 0 {
		return nil
	}
	if _, _, err := p.client.Issues.AddLabelsToIssue(ctx, p.owner, p.repo, id, labels); err != nil {
		return errs.Wrapf(err, "github add labels to #%d", id)
	}
	return nil
}

func (p *Provider) RemoveLabels(ctx context.Context, id int, labels ...string) error {
	for _, label := range labels {
		resp, err := p.client.Issues.RemoveLabelForIssue(ctx, p.owner, p.repo, id, label)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				continue
			}
			return errs.Wrapf(err, "github remove label %q from #%d", label, id)
		}
	}
	return nil
}

func (p *Provider) EnsureLabel(ctx context.Context, name string, color string) error {
	color = strings.TrimPrefix(color, "#")
	existing, resp, err := p.client.Issues.GetLabel(ctx, p.owner, p.repo, name)
	if err == nil {
		if color != "" && !strings.EqualFold(existing.GetColor(), color) {
			if _, _, err := p.client.Issues.EditLabel(ctx, p.owner, p.repo, name, &gh.Label{Name: gh.Ptr(name), Color: gh.Ptr(color)}); err != nil {
				return errs.Wrapf(err, "github update label %q", name)
			}
		}
		return nil
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		return errs.Wrapf(err, "github get label %q", name)
	}
	label := &gh.Label{Name: gh.Ptr(name)}
	if color != "" {
		label.Color = gh.Ptr(color)
	}
	if _, _, err := p.client.Issues.CreateLabel(ctx, p.owner, p.repo, label); err != nil {
		return errs.Wrapf(err, "github create label %q", name)
	}
	return nil
}

func (p *Provider) CloseIssue(ctx context.Context, id int) error {
	return p.setState(ctx, id, "closed")
}

func (p *Provider) ReopenIssue(ctx context.Context, id int) error {
	return p.setState(ctx, id, "open")
}

func (p *Provider) setState(ctx context.Context, id int, state string) error {
	if _, _, err := p.client.Issues.Edit(ctx, p.owner, p.repo, id, &gh.IssueRequest{State: gh.Ptr(state)}); err != nil {
		return errs.Wrapf(err, "github set #%d %s", id, state)
	}
	return nil
}

func (p *Provider) GetPRStatus(ctx context.Context, id int) (ports.PRStatus, error) {
	number, err := p.findPullRequest(ctx, id)
	if err != nil {
		return ports.PRStatus{}, err
	}
	if number == 0 {
		return ports.PRStatus{}, nil
	}

	pr, _, err := p.client.PullRequests.Get(ctx, p.owner, p.repo, number)
	if err != nil {
		return ports.PRStatus{}, errs.Wrapf(err, "github get pull request #%d", number)
	}
	status := ports.PRStatus{
		URL:          pr.GetHTMLURL(),
		Number:       number,
		Mergeable:    pr.Mergeable,
		SourceBranch: pr.GetHead().GetRef(),
		Title:        pr.GetTitle(),
	}

	switch {
	case pr.GetMerged():
		status.State = ports.PRStateMerged
	case pr.GetState() == "closed":
		status.State = ports.PRStateClosed
	default:
		reviews, _, err := p.client.PullRequests.ListReviews(ctx, p.owner, p.repo, number, &gh.ListOptions{PerPage: 100})
		if err != nil {
			return ports.PRStatus{}, errs.Wrapf(err, "github list reviews of #%d", number)
		}
		status.State = reviewState(reviews)
	}
	return status, nil
}

// reviewState folds reviews into one state using each reviewer's latest
// decisive review. Any outstanding change request wins over approvals.
func reviewState(reviews []*gh.PullRequestReview) ports.PRState {
	latest := map[string]string{}
	for _, r := range reviews {
		state := r.GetState()
		if state != "APPROVED" && state != "CHANGES_REQUESTED" && state != "DISMISSED" {
			continue
		}
		latest[r.GetUser().GetLogin()] = state
	}
	approved := false
	for _, state := range latest {
		switch state {
		case "CHANGES_REQUESTED":
			return ports.PRStateChangesRequested
		case "APPROVED":
			approved = true
		}
	}
	if approved {
		return ports.PRStateApproved
	}
	return ports.PRStateOpen
}

var closingRef = regexp.MustCompile(`(?i)\b(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?)\s+#(\d+)\b`)

// findPullRequest returns the newest pull request linked to the issue through
// a closing keyword or a branch named after it, or 0.
func (p *Provider) findPullRequest(ctx context.Context, id int) (int, error) {
	opts := &gh.PullRequestListOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		prs, resp, err := p.client.PullRequests.List(ctx, p.owner, p.repo, opts)
		if err != nil {
			return 0, errs.Wrapf(err, "github list pull requests for #%d", id)
		}
		for _, pr := range prs {
			if linksIssue(pr.GetBody()+"\n"+pr.GetTitle(), pr.GetHead().GetRef(), id) {
				return pr.GetNumber(), nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return 0, nil
		}
		opts.Page = resp.NextPage
	}
}

func linksIssue(text string, branch string, id int) bool {
	for _, m := range closingRef.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n == id {
			return true
		}
	}
	for _, part := range strings.FieldsFunc(branch, func(r rune) bool { return r == '/' || r == '-' || r == '_' }) {
		if n, err := strconv.Atoi(part); err == nil && n == id {
			return true
		}
	}
	return false
}

func (p *Provider) MergePR(ctx context.Context, id int) error {
	number, err := p.findPullRequest(ctx, id)
	if err != nil {
		return err
	}
	if number == 0 {
		return fmt.Errorf("%w: issue #%d has no pull request", ports.ErrMergeFailed, id)
	}
	result, _, err := p.client.PullRequests.Merge(ctx, p.owner, p.repo, number, "", &gh.PullRequestOptions{MergeMethod: "squash"})
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrMergeFailed, err)
	}
	if !result.GetMerged() {
		return fmt.Errorf("%w: %s", ports.ErrMergeFailed, result.GetMessage())
	}
	return nil
}

func (p *Provider) ListReviewComments(ctx context.Context, id int) ([]ports.ReviewComment, error) {
	number, err := p.findPullRequest(ctx, id)
	if err != nil || number == 0 {
		return nil, err
	}
	comments, _, err := p.client.PullRequests.ListComments(ctx, p.owner, p.repo, number, &gh.PullRequestListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, errs.Wrapf(err, "github list review comments of #%d", number)
	}
	out := make([]ports.ReviewComment, 0, len(comments))
	for _, c := range comments {
		out = append(out, ports.ReviewComment{ID: c.GetID(), Author: c.GetUser().GetLogin(), Body: c.GetBody()})
	}
	return out, nil
}

func (p *Provider) ReactToComment(ctx context.Context, _ int, commentID int64, reaction string) error {
	if _, _, err := p.client.Reactions.CreatePullRequestCommentReaction(ctx, p.owner, p.repo, commentID, reaction); err != nil {
		return errs.Wrapf(err, "github react to comment %d", commentID)
	}
	return nil
}

func (p *Provider) AddComment(ctx context.Context, id int, body string) error {
	if _, _, err := p.client.Issues.CreateComment(ctx, p.owner, p.repo, id, &gh.IssueComment{Body: gh.Ptr(body)}); err != nil {
		return errs.Wrapf(err, "github comment on #%d", id)
	}
	return nil
}

func (p *Provider) EditIssue(ctx context.Context, id int, in ports.IssueEdit) error {
	if _, _, err := p.client.Issues.Edit(ctx, p.owner, p.repo, id, &gh.IssueRequest{Title: in.Title, Body: in.Body}); err != nil {
		return errs.Wrapf(err, "github edit #%d", id)
	}
	return nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	if _, _, err := p.client.Repositories.Get(ctx, p.owner, p.repo); err != nil {
		return errs.Wrapf(err, "github repository %s/%s", p.owner, p.repo)
	}
	return nil
}

func mapIssue(issue *gh.Issue) ports.Issue {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	out := ports.Issue{
		ID:     issue.GetNumber(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
		Labels: labels,
		State:  issue.GetState(),
		URL:    issue.GetHTMLURL(),
	}
	if ts := issue.GetCreatedAt(); !ts.IsZero() {
		out.CreatedAt = ts.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if ts := issue.GetUpdatedAt(); !ts.IsZero() {
		out.UpdatedAt = ts.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return out
}
