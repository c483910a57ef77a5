package model

const (
	CommentKindIssue  = "issue"
	CommentKindReview = "review"
)

type Comment struct {
	CommentID uint64 `gorm:"column:comment_id;primaryKey;autoIncrement"`
	IssueID   uint64 `gorm:"column:issue_id;not null;index"`
	Kind      string `gorm:"column:kind;type:text;not null"`
	Actor     string `gorm:"column:actor;type:text;not null"`
	Body      string `gorm:"column:body;type:text;not null"`
	Reactions string `gorm:"column:reactions;type:text;not null;default:''"`
	CreatedAt string `gorm:"column:created_at;type:text;not null"`
}

func (Comment) TableName() string {
	return "tracker_comments"
}
