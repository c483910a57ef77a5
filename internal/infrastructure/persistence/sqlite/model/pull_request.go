package model

type PullRequest struct {
	IssueID            uint64 `gorm:"column:issue_id;primaryKey"`
	Number             int    `gorm:"column:number;not null"`
	URL                string `gorm:"column:url;type:text;not null"`
	State              string `gorm:"column:state;type:text;not null"`
	Mergeable          *bool  `gorm:"column:mergeable"`
	SourceBranch       string `gorm:"column:source_branch;type:text;not null;default:''"`
	Title              string `gorm:"column:title;type:text;not null;default:''"`
	UnresolvedComments bool   `gorm:"column:unresolved_comments;not null;default:0"`
	UpdatedAt          string `gorm:"column:updated_at;type:text;not null"`
}

func (PullRequest) TableName() string {
	return "tracker_pull_requests"
}
