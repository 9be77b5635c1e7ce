// Package event defines the ingested event model and its append-only store.
package event

import (
	"time"
)

// Submission carries the caller-supplied fields of an event, before it has an
// identity. EventType is the only field required by convention; everything
// else is optional context for scoring.
type Submission struct {
	EventType string                 `json:"eventType"`
	UserID    string                 `json:"userId,omitempty"`
	IP        string                 `json:"ip,omitempty"`
	Location  string                 `json:"location,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
	Resource  string                 `json:"resource,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Event is one persisted security-relevant occurrence. Rows are immutable
// once written; deletion is a tenant-offboarding concern outside this core.
type Event struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenantId"`
	EventType string                 `json:"eventType"`
	UserID    string                 `json:"userId,omitempty"`
	IP        string                 `json:"ip,omitempty"`
	Location  string                 `json:"location,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Resource  string                 `json:"resource,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}
