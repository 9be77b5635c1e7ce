package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sentra/pkg/database"
)

var (
	// ErrStorageUnavailable means the event could not be durably stored. This
	// is the single fatal failure of the ingest pipeline.
	ErrStorageUnavailable = errors.New("event storage unavailable")
	// ErrNotFound means no event matches the id for the tenant.
	ErrNotFound = errors.New("event not found")
)

// Store appends events to postgres. Writes are synchronous: when Append
// returns, the row is visible to reads.
type Store struct {
	db *database.DB
}

// NewStore creates an event store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Append durably stores one event for the tenant and returns its id. The
// event timestamp defaults to the current time when the caller supplied none.
// Retries, if any, belong to the caller.
func (s *Store) Append(ctx context.Context, tenantID string, sub Submission) (string, error) {
	id := uuid.New().String()

	ts := sub.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var metadata []byte
	if sub.Metadata != nil {
		var err error
		metadata, err = json.Marshal(sub.Metadata)
		if err != nil {
			return "", fmt.Errorf("%w: encode metadata: %v", ErrStorageUnavailable, err)
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO events (id, org_id, event_type, user_id, ip, location, event_time, resource, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, tenantID, sub.EventType, nullable(sub.UserID), nullable(sub.IP),
		nullable(sub.Location), ts, nullable(sub.Resource), metadata)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return id, nil
}

// Get fetches one event by id, scoped to the owning tenant.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*Event, error) {
	var (
		ev       Event
		userID   sql.NullString
		ip       sql.NullString
		location sql.NullString
		resource sql.NullString
		metadata []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, org_id, event_type, user_id, ip, location, event_time, resource, metadata, created_at
		FROM events WHERE id = $1 AND org_id = $2
	`, id, tenantID).Scan(&ev.ID, &ev.TenantID, &ev.EventType, &userID, &ip,
		&location, &ev.Timestamp, &resource, &metadata, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	ev.UserID = userID.String
	ev.IP = ip.String
	ev.Location = location.String
	ev.Resource = resource.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for event %s: %w", id, err)
		}
	}
	return &ev, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
