package model

// All lists every model migrated by init-db.
func All() []any {
	return []any{
		&Issue{},
		&IssueLabel{},
		&Label{},
		&PullRequest{},
		&Comment{},
		&AuditEntry{},
		&CacheEntry{},
	}
}
