// Package source implements the relational permission/ownership backend
// consulted by the authorization cache on misses.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"blogguard/pkg/platform/sentinel"
)

// PostgresSource answers permission and ownership queries from the
// relational schema. Pure I/O; caching and composite checks live in the
// authz service.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a PostgreSQL-backed permission source.
func NewPostgres(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// UserHasPermission checks direct grants and role-derived grants in one
// round trip.
func (s *PostgresSource) UserHasPermission(ctx context.Context, actorID uuid.UUID, permission string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM user_permissions up
			JOIN permissions p ON p.id = up.permission_id
			WHERE up.user_id = $1 AND p.name = $2
			UNION
			SELECT 1
			FROM user_roles ur
			JOIN role_permissions rp ON rp.role_id = ur.role_id
			JOIN permissions p ON p.id = rp.permission_id
			WHERE ur.user_id = $1 AND p.name = $2
		)
	`
	var has bool
	if err := s.pool.QueryRow(ctx, query, actorID, permission).Scan(&has); err != nil {
		return false, fmt.Errorf("query user permission: %w", err)
	}
	return has, nil
}

// UserHasRole checks role membership.
func (s *PostgresSource) UserHasRole(ctx context.Context, actorID uuid.UUID, role string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM user_roles ur
			JOIN roles r ON r.id = ur.role_id
			WHERE ur.user_id = $1 AND r.name = $2
		)
	`
	var has bool
	if err := s.pool.QueryRow(ctx, query, actorID, role).Scan(&has); err != nil {
		return false, fmt.Errorf("query user role: %w", err)
	}
	return has, nil
}

// FindOwner resolves the owning actor of a resource instance.
func (s *PostgresSource) FindOwner(ctx context.Context, resourceType, resourceID string) (uuid.UUID, error) {
	query := `
		SELECT owner_id
		FROM resource_owners
		WHERE resource_type = $1 AND resource_id = $2
	`
	var owner uuid.UUID
	err := s.pool.QueryRow(ctx, query, resourceType, resourceID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("resource %s/%s: %w", resourceType, resourceID, sentinel.ErrNotFound)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("query resource owner: %w", err)
	}
	return owner, nil
}
