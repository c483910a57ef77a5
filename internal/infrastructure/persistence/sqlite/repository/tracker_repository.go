package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"issueflow/internal/errs"
	"issueflow/internal/infrastructure/persistence/sqlite/model"
	"issueflow/internal/ports"
)

// TrackerRepository stores the issues, labels, pull requests and comments of
// the local tracker backend.
type TrackerRepository struct {
	db *gorm.DB
}

func NewTrackerRepository(db *gorm.DB) *TrackerRepository {
	return &TrackerRepository{db: db}
}

func nowText() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (r *TrackerRepository) CreateIssue(ctx context.Context, repo string, in ports.IssueCreate) (ports.Issue, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.Issue{}, err
	}

	now := nowText()
	row := model.Issue{
		Repo:      repo,
		Title:     in.Title,
		Body:      in.Body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(&row).Error; err != nil {
		return ports.Issue{}, errs.Wrap(err, "insert issue")
	}
	if err := r.AddLabels(ctx, int(row.IssueID), in.Labels...); err != nil {
		return ports.Issue{}, err
	}
	return r.GetIssue(ctx, repo, int(row.IssueID))
}

// ListIssuesByLabel returns open issues of repo carrying label, newest first.
func (r *TrackerRepository) ListIssuesByLabel(ctx context.Context, repo string, label string) ([]ports.Issue, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	sub := db.Model(&model.IssueLabel{}).Select("issue_id").Where("label = ?", label)
	var rows []model.Issue
	if err := db.Model(&model.Issue{}).
		Where("repo = ? AND is_closed = ?", repo, false).
		Where("issue_id IN (?)", sub).
		Order("issue_id desc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query issues by label")
	}

	out := make([]ports.Issue, 0, len(rows))
	for _, row := range rows {
		labels, err := r.ListIssueLabels(ctx, int(row.IssueID))
		if err != nil {
			return nil, err
		}
		out = append(out, mapIssue(row, labels))
	}
	return out, nil
}

func (r *TrackerRepository) GetIssue(ctx context.Context, repo string, id int) (ports.Issue, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.Issue{}, err
	}

	var row model.Issue
	if err := db.Where("issue_id = ? AND repo = ?", id, repo).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Issue{}, fmt.Errorf("%w: #%d", ports.ErrIssueNotFound, id)
		}
		return ports.Issue{}, errs.Wrap(err, "query issue")
	}
	labels, err := r.ListIssueLabels(ctx, id)
	if err != nil {
		return ports.Issue{}, err
	}
	return mapIssue(row, labels), nil
}

func (r *TrackerRepository) ListIssueLabels(ctx context.Context, id int) ([]string, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	var rows []model.IssueLabel
	if err := db.Where("issue_id = ?", id).Order("label asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query issue labels")
	}
	labels := make([]string, 0, len(rows))
	for _, row := range rows {
		labels = append(labels, row.Label)
	}
	return labels, nil
}

func (r *TrackerRepository) AddLabels(ctx context.Context, id int, labels ...string) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	rows := make([]model.IssueLabel, 0, len(labels))
	for _, label := range labels {
		if label = strings.TrimSpace(label); label != "" {
			rows = append(rows, model.IssueLabel{IssueID: uint64(id), Label: label})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return errs.Wrap(err, "insert issue labels")
	}
	return r.touch(ctx, id)
}

func (r *TrackerRepository) RemoveLabels(ctx context.Context, id int, labels ...string) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}
	if len(labels) == 0 {
		return nil
	}
	if err := db.Where("issue_id = ? AND label IN ?", id, labels).Delete(&model.IssueLabel{}).Error; err != nil {
		return errs.Wrap(err, "delete issue labels")
	}
	return r.touch(ctx, id)
}

func (r *TrackerRepository) UpsertLabel(ctx context.Context, repo string, name string, color string) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	row := model.Label{Repo: repo, Name: name, Color: color}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "repo"}, {Name: "name"}},
		DoUpdates: clause.Assignments(map[string]any{"color": color}),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "upsert label")
	}
	return nil
}

func (r *TrackerRepository) ListLabels(ctx context.Context, repo string) ([]model.Label, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}
	var rows []model.Label
	if err := db.Where("repo = ?", repo).Order("name asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query labels")
	}
	return rows, nil
}

func (r *TrackerRepository) SetClosed(ctx context.Context, id int, closed bool) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	now := nowText()
	updates := map[string]any{"is_closed": closed, "updated_at": now}
	if closed {
		updates["closed_at"] = now
	} else {
		updates["closed_at"] = nil
	}
	if err := db.Model(&model.Issue{}).Where("issue_id = ?", id).Updates(updates).Error; err != nil {
		return errs.Wrap(err, "update issue state")
	}
	return nil
}

func (r *TrackerRepository) EditIssue(ctx context.Context, id int, in ports.IssueEdit) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	updates := map[string]any{"updated_at": nowText()}
	if in.Title != nil {
		updates["title"] = *in.Title
	}
	if in.Body != nil {
		updates["body"] = *in.Body
	}
	if err := db.Model(&model.Issue{}).Where("issue_id = ?", id).Updates(updates).Error; err != nil {
		return errs.Wrap(err, "update issue")
	}
	return nil
}

func (r *TrackerRepository) touch(ctx context.Context, id int) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}
	if err := db.Model(&model.Issue{}).Where("issue_id = ?", id).Update("updated_at", nowText()).Error; err != nil {
		return errs.Wrap(err, "touch issue")
	}
	return nil
}

// GetPullRequest returns the pull request linked to an issue.
func (r *TrackerRepository) GetPullRequest(ctx context.Context, id int) (model.PullRequest, bool, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return model.PullRequest{}, false, err
	}

	var row model.PullRequest
	if err := db.Where("issue_id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.PullRequest{}, false, nil
		}
		return model.PullRequest{}, false, errs.Wrap(err, "query pull request")
	}
	return row, true, nil
}

func (r *TrackerRepository) SavePullRequest(ctx context.Context, pr model.PullRequest) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	pr.UpdatedAt = nowText()
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "issue_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"number", "url", "state", "mergeable", "source_branch", "title", "unresolved_comments", "updated_at",
		}),
	}).Create(&pr).Error; err != nil {
		return errs.Wrap(err, "upsert pull request")
	}
	return nil
}

func (r *TrackerRepository) AddComment(ctx context.Context, id int, kind string, actor string, body string) (model.Comment, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return model.Comment{}, err
	}

	row := model.Comment{
		IssueID:   uint64(id),
		Kind:      kind,
		Actor:     actor,
		Body:      body,
		CreatedAt: nowText(),
	}
	if err := db.Create(&row).Error; err != nil {
		return model.Comment{}, errs.Wrap(err, "insert comment")
	}
	return row, nil
}

func (r *TrackerRepository) ListComments(ctx context.Context, id int, kind string) ([]model.Comment, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	var rows []model.Comment
	if err := db.Where("issue_id = ? AND kind = ?", id, kind).Order("comment_id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query comments")
	}
	return rows, nil
}

// AddReaction appends reaction to a comment once.
func (r *TrackerRepository) AddReaction(ctx context.Context, commentID int64, reaction string) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	var row model.Comment
	if err := db.Where("comment_id = ?", commentID).Take(&row).Error; err != nil {
		return errs.Wrap(err, "query comment")
	}
	reactions := splitReactions(row.Reactions)
	for _, existing := range reactions {
		if existing == reaction {
			return nil
		}
	}
	reactions = append(reactions, reaction)
	if err := db.Model(&model.Comment{}).Where("comment_id = ?", commentID).
		Update("reactions", strings.Join(reactions, ",")).Error; err != nil {
		return errs.Wrap(err, "update reactions")
	}
	return nil
}

func (r *TrackerRepository) Ping(ctx context.Context) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}
	var n int64
	if err := db.Model(&model.Issue{}).Count(&n).Error; err != nil {
		return errs.Wrap(err, "ping tracker store")
	}
	return nil
}

func splitReactions(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mapIssue(row model.Issue, labels []string) ports.Issue {
	state := "open"
	if row.IsClosed {
		state = "closed"
	}
	return ports.Issue{
		ID:        int(row.IssueID),
		Title:     row.Title,
		Body:      row.Body,
		Labels:    labels,
		State:     state,
		URL:       fmt.Sprintf("local://%s/issues/%d", row.Repo, row.IssueID),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
