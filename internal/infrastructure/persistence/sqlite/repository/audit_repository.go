package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"issueflow/internal/errs"
	"issueflow/internal/infrastructure/persistence/sqlite/model"
	"issueflow/internal/ports"
)

type AuditRepository struct {
	db *gorm.DB
}

var _ ports.AuditLog = (*AuditRepository)(nil)

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Record(ctx context.Context, entry ports.AuditEntry) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}
	if strings.TrimSpace(entry.Project) == "" {
		return errors.New("audit project is required")
	}
	if strings.TrimSpace(entry.Kind) == "" {
		return errors.New("audit kind is required")
	}

	createdAt := entry.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	actor := entry.Actor
	if actor == "" {
		actor = "system"
	}

	row := model.AuditEntry{
		Project:   entry.Project,
		IssueID:   entry.IssueID,
		Kind:      entry.Kind,
		Actor:     actor,
		Event:     entry.Event,
		FromLabel: entry.FromLabel,
		ToLabel:   entry.ToLabel,
		Reason:    entry.Reason,
		CreatedAt: createdAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrap(err, "insert audit entry")
	}
	return nil
}

func (r *AuditRepository) ListForIssue(ctx context.Context, project string, issueID int) ([]ports.AuditEntry, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	var rows []model.AuditEntry
	if err := db.
		Where("project = ? AND issue_id = ?", project, issueID).
		Order("audit_id asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query audit entries")
	}

	out := make([]ports.AuditEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, ports.AuditEntry{
			ID:        row.AuditID,
			Project:   row.Project,
			IssueID:   row.IssueID,
			Kind:      row.Kind,
			Actor:     row.Actor,
			Event:     row.Event,
			FromLabel: row.FromLabel,
			ToLabel:   row.ToLabel,
			Reason:    row.Reason,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

func (r *AuditRepository) HasKind(ctx context.Context, project string, issueID int, kind string) (bool, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return false, err
	}

	var count int64
	if err := db.Model(&model.AuditEntry{}).
		Where("project = ? AND issue_id = ? AND kind = ?", project, issueID, kind).
		Count(&count).Error; err != nil {
		return false, errs.Wrap(err, "count audit entries")
	}
	return count > 0, nil
}
