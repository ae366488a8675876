package model

import "time"

// ReindexJob asks a worker to re-embed every document of one tenant.
type ReindexJob struct {
	TenantID    uint      `json:"tenant_id"`
	RequestID   string    `json:"request_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}
