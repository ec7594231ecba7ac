// Package report assembles inspection summaries for outbound notifications.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/inspectly/report-scheduler/internal/notifier"
)

// Builder aggregates inspection results over a notification's filter window
type Builder struct {
	db *sql.DB
}

// NewBuilder creates a new report builder
func NewBuilder(db *sql.DB) *Builder {
	return &Builder{db: db}
}

// Build summarizes inspections conducted within filters.DateRangeDays days
// before now, scoped to the selected restaurants and sections
func (b *Builder) Build(ctx context.Context, filters notifier.Filters, now time.Time) (*notifier.ReportPayload, error) {
	days := filters.DateRangeDays
	if days <= 0 {
		days = 7
	}
	periodStart := now.AddDate(0, 0, -days)

	allRestaurants := filters.RestaurantScope != notifier.ScopeSpecific
	allSections := filters.SectionScope != notifier.ScopeSpecific

	query := `
		SELECT r.id, r.name,
			COUNT(i.id),
			COUNT(i.id) FILTER (WHERE i.passed),
			COALESCE(AVG(i.score), 0)
		FROM inspections i
		JOIN restaurants r ON r.id = i.restaurant_id
		WHERE i.conducted_at >= $1 AND i.conducted_at < $2
			AND ($3 OR i.restaurant_id = ANY($4))
			AND ($5 OR i.section_id = ANY($6))
		GROUP BY r.id, r.name
		ORDER BY r.name
	`
	rows, err := b.db.QueryContext(ctx, query,
		periodStart, now,
		allRestaurants, pq.Array(filters.RestaurantIDs),
		allSections, pq.Array(filters.SectionIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query inspection summary: %w", err)
	}
	defer rows.Close()

	payload := &notifier.ReportPayload{
		Title:       fmt.Sprintf("Inspection Report %s – %s", periodStart.Format("Jan 2"), now.Format("Jan 2, 2006")),
		PeriodStart: periodStart,
		PeriodEnd:   now,
	}

	var scoreSum float64
	for rows.Next() {
		var s notifier.RestaurantSummary
		if err := rows.Scan(&s.RestaurantID, &s.Name, &s.Total, &s.Passed, &s.AverageScore); err != nil {
			return nil, fmt.Errorf("failed to scan restaurant summary: %w", err)
		}
		s.Failed = s.Total - s.Passed
		payload.Restaurants = append(payload.Restaurants, s)

		payload.Total += s.Total
		payload.Passed += s.Passed
		payload.Failed += s.Failed
		scoreSum += s.AverageScore * float64(s.Total)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read inspection summary: %w", err)
	}

	if payload.Total > 0 {
		payload.AverageScore = scoreSum / float64(payload.Total)
	}
	return payload, nil
}
