// Package anomaly materializes and queries anomaly records for events whose
// score crossed the decision threshold.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sentra/pkg/database"
)

// Resolution status values. New anomalies open; analysts move them to safe or
// resolved from the alert-management surface.
const (
	StatusOpen     = "open"
	StatusSafe     = "safe"
	StatusResolved = "resolved"
)

var (
	// ErrPersistFailed means the anomaly row could not be written. The event
	// it references is already durable, so callers log and move on.
	ErrPersistFailed = errors.New("anomaly persist failed")
	// ErrNotFound means no anomaly matches the id.
	ErrNotFound = errors.New("anomaly not found")
)

// Anomaly is a persisted record marking an event as suspicious. TenantID is
// denormalized from the event for per-tenant queries.
type Anomaly struct {
	ID          string    `json:"id"`
	EventID     string    `json:"eventId"`
	TenantID    string    `json:"tenantId"`
	Score       float64   `json:"score"`
	Severity    string    `json:"severity"`
	Explanation string    `json:"explanation"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists anomalies in postgres.
type Store struct {
	db *database.DB
}

// NewStore creates an anomaly store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Materialize inserts an open anomaly referencing the event and returns its
// id. No dedup: scoring the same logical event twice yields two rows.
func (s *Store) Materialize(ctx context.Context, eventID, tenantID string, score float64, severity, explanation string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(ctx, `
		INSERT INTO anomalies (id, event_id, org_id, score, severity, explanation, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, eventID, tenantID, score, severity, explanation, StatusOpen)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return id, nil
}

// ListByTenant returns a tenant's anomalies, newest first.
func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]Anomaly, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, event_id, org_id, score, severity, explanation, status, created_at
		FROM anomalies WHERE org_id = $1 ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var out []Anomaly
	for rows.Next() {
		var a Anomaly
		if err := rows.Scan(&a.ID, &a.EventID, &a.TenantID, &a.Score, &a.Severity,
			&a.Explanation, &a.Status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetStatus transitions an anomaly's resolution status. Only safe and
// resolved are accepted; rows never reopen through this path.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	if status != StatusSafe && status != StatusResolved {
		return fmt.Errorf("invalid status %q", status)
	}
	res, err := s.db.Exec(ctx, `UPDATE anomalies SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update anomaly status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
