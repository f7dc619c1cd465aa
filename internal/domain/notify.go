package domain

import (
	"context"
	"time"
)

// Notification is the structured message posted to the application's
// audit/alerting sink whenever a backup, archival, or recovery run completes
// or fails.
type Notification struct {
	Status    string    `json:"status"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
