// Package recipients expands a notification's filters and role flags into
// a concrete delivery list.
package recipients

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/inspectly/report-scheduler/internal/notifier"
)

// orgWideRoles receive every report regardless of the restaurant filter;
// site roles are scoped to the restaurants a report covers.
var orgWideRoles = map[string]bool{
	notifier.RoleSuperAdmin:      true,
	notifier.RoleOwner:           true,
	notifier.RoleDistrictManager: true,
}

// Resolver resolves recipients against the users table
type Resolver struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewResolver creates a new recipient resolver
func NewResolver(db *sql.DB, logger *zap.Logger) *Resolver {
	return &Resolver{db: db, logger: logger}
}

// Resolve returns the users matching the notification's role flags and
// restaurant filter. An empty result is valid; only malformed filters
// produce an error.
func (r *Resolver) Resolve(ctx context.Context, filters notifier.Filters, roles []string) ([]notifier.Recipient, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	if err := validateFilters(filters); err != nil {
		return nil, err
	}

	var orgRoles, siteRoles []string
	for _, role := range roles {
		if orgWideRoles[role] {
			orgRoles = append(orgRoles, role)
		} else {
			siteRoles = append(siteRoles, role)
		}
	}

	allRestaurants := filters.RestaurantScope != notifier.ScopeSpecific

	query := `
		SELECT id, name, email, COALESCE(phone, ''), role
		FROM users
		WHERE role = ANY($1)
		   OR (role = ANY($2) AND ($3 OR restaurant_id = ANY($4)))
		ORDER BY name
	`
	rows, err := r.db.QueryContext(ctx, query,
		pq.Array(orgRoles), pq.Array(siteRoles), allRestaurants, pq.Array(filters.RestaurantIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query recipients: %w", err)
	}
	defer rows.Close()

	var recipients []notifier.Recipient
	for rows.Next() {
		var rec notifier.Recipient
		if err := rows.Scan(&rec.UserID, &rec.Name, &rec.Email, &rec.Phone, &rec.Role); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		recipients = append(recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recipients: %w", err)
	}

	r.logger.Debug("Recipients resolved",
		zap.Int("count", len(recipients)),
		zap.Strings("roles", roles),
	)
	return recipients, nil
}

// validateFilters rejects filter combinations that cannot be resolved
func validateFilters(filters notifier.Filters) error {
	switch filters.RestaurantScope {
	case "", notifier.ScopeAll:
	case notifier.ScopeSpecific:
		if len(filters.RestaurantIDs) == 0 {
			return fmt.Errorf("restaurant filter is %q but no restaurants are selected", notifier.ScopeSpecific)
		}
	default:
		return fmt.Errorf("unknown restaurant filter %q", filters.RestaurantScope)
	}

	switch filters.SectionScope {
	case "", notifier.ScopeAll:
	case notifier.ScopeSpecific:
		if len(filters.SectionIDs) == 0 {
			return fmt.Errorf("section filter is %q but no sections are selected", notifier.ScopeSpecific)
		}
	default:
		return fmt.Errorf("unknown section filter %q", filters.SectionScope)
	}
	return nil
}
