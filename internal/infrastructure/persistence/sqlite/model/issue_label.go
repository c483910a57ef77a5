package model

// IssueLabel attaches one label name to an issue. The label index serves the
// queue scan, which lists issues by state label.
type IssueLabel struct {
	IssueID uint64 `gorm:"column:issue_id;not null;primaryKey"`
	Label   string `gorm:"column:label;type:text;not null;primaryKey;index:idx_tracker_issue_labels_label"`
}

func (IssueLabel) TableName() string {
	return "tracker_issue_labels"
}
