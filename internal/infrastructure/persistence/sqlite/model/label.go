package model

// Label is a repository label definition. IssueLabel rows may reference names
// that were never defined.
type Label struct {
	Repo  string `gorm:"column:repo;type:text;not null;primaryKey"`
	Name  string `gorm:"column:name;type:text;not null;primaryKey"`
	Color string `gorm:"column:color;type:text;not null;default:''"`
}

func (Label) TableName() string {
	return "tracker_labels"
}
