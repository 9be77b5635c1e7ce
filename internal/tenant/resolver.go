// Package tenant resolves opaque API credentials to tenant identities.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sentra/pkg/database"
)

var (
	// ErrUnauthenticated means no credential was supplied.
	ErrUnauthenticated = errors.New("missing api key")
	// ErrInvalidCredential means the credential matches no tenant.
	ErrInvalidCredential = errors.New("invalid api key")
)

// Resolver maps API keys to tenant ids. Keys are unique across tenants, so
// resolution is a single indexed lookup and never ambiguous.
type Resolver struct {
	db *database.DB
}

// NewResolver creates a resolver backed by the organizations table.
func NewResolver(db *database.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve returns the tenant id bound to the credential. It performs no
// writes; it must run before anything is persisted for the request.
func (r *Resolver) Resolve(ctx context.Context, apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrUnauthenticated
	}

	var tenantID string
	err := r.db.QueryRow(ctx, `SELECT id FROM organizations WHERE api_key = $1`, apiKey).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidCredential
	}
	if err != nil {
		return "", fmt.Errorf("tenant lookup failed: %w", err)
	}
	return tenantID, nil
}
