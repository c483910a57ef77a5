package model

// Issue is one issue of the local tracker. Labels live in IssueLabel; Repo
// keeps several local projects apart in one database.
type Issue struct {
	IssueID   uint64  `gorm:"column:issue_id;primaryKey;autoIncrement"`
	Repo      string  `gorm:"column:repo;type:text;not null;index:idx_tracker_issues_repo_closed,priority:1"`
	Title     string  `gorm:"column:title;type:text;not null"`
	Body      string  `gorm:"column:body;type:text;not null"`
	IsClosed  bool    `gorm:"column:is_closed;not null;default:0;index:idx_tracker_issues_repo_closed,priority:2"`
	CreatedAt string  `gorm:"column:created_at;type:text;not null"`
	UpdatedAt string  `gorm:"column:updated_at;type:text;not null"`
	ClosedAt  *string `gorm:"column:closed_at;type:text"`
}

func (Issue) TableName() string {
	return "tracker_issues"
}
