package model

type AuditEntry struct {
	AuditID   uint64 `gorm:"column:audit_id;primaryKey;autoIncrement"`
	Project   string `gorm:"column:project;type:text;not null;index:idx_audit_issue,priority:1"`
	IssueID   int    `gorm:"column:issue_id;not null;index:idx_audit_issue,priority:2"`
	Kind      string `gorm:"column:kind;type:text;not null;index"`
	Actor     string `gorm:"column:actor;type:text;not null"`
	Event     string `gorm:"column:event;type:text;not null;default:''"`
	FromLabel string `gorm:"column:from_label;type:text;not null;default:''"`
	ToLabel   string `gorm:"column:to_label;type:text;not null;default:''"`
	Reason    string `gorm:"column:reason;type:text;not null;default:''"`
	CreatedAt string `gorm:"column:created_at;type:text;not null"`
}

func (AuditEntry) TableName() string {
	return "audit_entries"
}
