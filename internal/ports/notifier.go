package ports

import "context"

// Notification is one best-effort outbound message.
type Notification struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Project     string            `json:"project"`
	IssueID     int               `json:"issueId"`
	ChannelType string            `json:"channelType,omitempty"`
	ChannelID   string            `json:"channelId,omitempty"`
	Text        string            `json:"text"`
	Fields      map[string]string `json:"fields,omitempty"`
	CreatedAt   string            `json:"createdAt"`
}

// Notifier accepts notifications without blocking the caller. Delivery
// failures stay inside the notifier.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotificationSink delivers one notification. Implementations may block.
type NotificationSink interface {
	Deliver(ctx context.Context, n Notification) error
}
