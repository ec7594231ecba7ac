package notifier

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// notificationColumns is the canonical select list for report_notifications
const notificationColumns = `id, name, frequency, send_time, time_zone, day_of_week, day_of_month,
	email_enabled, whatsapp_enabled, roles, restaurant_filter, section_filter,
	restaurant_ids, section_ids, date_range_days, active, recipient_count,
	last_sent, next_send, created_by, updated_by, created_at, updated_at`

// Store persists report notifications and dispatch history in PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore creates a new notification store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new report notification
func (s *Store) Create(ctx context.Context, n *ReportNotification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt

	query := `
		INSERT INTO report_notifications (id, name, frequency, send_time, time_zone, day_of_week, day_of_month,
			email_enabled, whatsapp_enabled, roles, restaurant_filter, section_filter,
			restaurant_ids, section_ids, date_range_days, active, recipient_count,
			last_sent, next_send, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`
	_, err := s.db.ExecContext(ctx, query,
		n.ID, n.Name, n.Frequency, n.SendTime, n.TimeZone,
		nullString(n.DayOfWeek), nullInt(n.DayOfMonth),
		n.EmailEnabled, n.WhatsAppEnabled, pq.Array(n.Roles),
		n.Filters.RestaurantScope, n.Filters.SectionScope,
		pq.Array(n.Filters.RestaurantIDs), pq.Array(n.Filters.SectionIDs),
		n.Filters.DateRangeDays, n.Active, n.RecipientCount,
		n.LastSent, n.NextSend, nullString(n.CreatedBy), nullString(n.UpdatedBy),
		n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report notification: %w", err)
	}
	return nil
}

// GetByID retrieves a report notification by ID
func (s *Store) GetByID(ctx context.Context, id string) (*ReportNotification, error) {
	query := fmt.Sprintf(`SELECT %s FROM report_notifications WHERE id = $1`, notificationColumns)
	n, err := scanNotification(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get report notification: %w", err)
	}
	return n, nil
}

// List returns all report notifications ordered by name
func (s *Store) List(ctx context.Context) ([]ReportNotification, error) {
	query := fmt.Sprintf(`SELECT %s FROM report_notifications ORDER BY name`, notificationColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list report notifications: %w", err)
	}
	defer rows.Close()

	var notifications []ReportNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report notification: %w", err)
		}
		notifications = append(notifications, *n)
	}
	return notifications, rows.Err()
}

// Update rewrites a report notification's mutable fields
func (s *Store) Update(ctx context.Context, n *ReportNotification) error {
	n.UpdatedAt = time.Now()

	query := `
		UPDATE report_notifications
		SET name = $2, frequency = $3, send_time = $4, time_zone = $5, day_of_week = $6, day_of_month = $7,
			email_enabled = $8, whatsapp_enabled = $9, roles = $10, restaurant_filter = $11, section_filter = $12,
			restaurant_ids = $13, section_ids = $14, date_range_days = $15, active = $16, recipient_count = $17,
			next_send = $18, updated_by = $19, updated_at = $20
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		n.ID, n.Name, n.Frequency, n.SendTime, n.TimeZone,
		nullString(n.DayOfWeek), nullInt(n.DayOfMonth),
		n.EmailEnabled, n.WhatsAppEnabled, pq.Array(n.Roles),
		n.Filters.RestaurantScope, n.Filters.SectionScope,
		pq.Array(n.Filters.RestaurantIDs), pq.Array(n.Filters.SectionIDs),
		n.Filters.DateRangeDays, n.Active, n.RecipientCount,
		n.NextSend, nullString(n.UpdatedBy), n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update report notification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a report notification
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM report_notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete report notification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActive soft-enables or soft-disables a notification
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE report_notifications SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to set active: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindDue returns active notifications whose next_send has passed
func (s *Store) FindDue(ctx context.Context, now time.Time) ([]ReportNotification, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM report_notifications WHERE active = true AND next_send IS NOT NULL AND next_send <= $1`,
		notificationColumns)
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find due notifications: %w", err)
	}
	defer rows.Close()

	var due []ReportNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due notification: %w", err)
		}
		due = append(due, *n)
	}
	return due, rows.Err()
}

// ConditionalUpdateSchedule advances a notification's schedule only if its
// next_send still matches the value observed when it was selected as due.
// Returns false when another evaluator instance already advanced it.
// A nil lastSent leaves last_sent untouched (all channels failed, or no
// recipients matched).
func (s *Store) ConditionalUpdateSchedule(ctx context.Context, id string, expectedNextSend time.Time, lastSent *time.Time, nextSend time.Time) (bool, error) {
	query := `
		UPDATE report_notifications
		SET last_sent = COALESCE($3, last_sent), next_send = $4, updated_at = NOW()
		WHERE id = $1 AND next_send = $2
	`
	result, err := s.db.ExecContext(ctx, query, id, expectedNextSend, lastSent, nextSend)
	if err != nil {
		return false, fmt.Errorf("failed to advance schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read schedule update result: %w", err)
	}
	return affected == 1, nil
}

// InsertDispatchRecord appends one channel attempt to dispatch_history
func (s *Store) InsertDispatchRecord(ctx context.Context, r *DispatchRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	query := `
		INSERT INTO dispatch_history (id, notification_id, channel, recipient_count, success, error_message, manual, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.NotificationID, r.Channel, r.RecipientCount, r.Success,
		nullString(r.ErrorMessage), r.Manual, r.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dispatch record: %w", err)
	}
	return nil
}

// ListDispatchRecords returns the most recent dispatch attempts for a notification
func (s *Store) ListDispatchRecords(ctx context.Context, notificationID string, limit int) ([]DispatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, notification_id, channel, recipient_count, success, error_message, manual, sent_at
		FROM dispatch_history
		WHERE notification_id = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, notificationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatch history: %w", err)
	}
	defer rows.Close()

	var records []DispatchRecord
	for rows.Next() {
		var r DispatchRecord
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.NotificationID, &r.Channel, &r.RecipientCount,
			&r.Success, &errMsg, &r.Manual, &r.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch record: %w", err)
		}
		if errMsg.Valid {
			r.ErrorMessage = errMsg.String
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanNotification scans one report_notifications row in notificationColumns order
func scanNotification(row rowScanner) (*ReportNotification, error) {
	var n ReportNotification
	var dayOfWeek, createdBy, updatedBy sql.NullString
	var dayOfMonth sql.NullInt64
	var lastSent, nextSend sql.NullTime
	var roles, restaurantIDs, sectionIDs pq.StringArray

	err := row.Scan(
		&n.ID, &n.Name, &n.Frequency, &n.SendTime, &n.TimeZone, &dayOfWeek, &dayOfMonth,
		&n.EmailEnabled, &n.WhatsAppEnabled, &roles,
		&n.Filters.RestaurantScope, &n.Filters.SectionScope,
		&restaurantIDs, &sectionIDs, &n.Filters.DateRangeDays,
		&n.Active, &n.RecipientCount, &lastSent, &nextSend,
		&createdBy, &updatedBy, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Roles = roles
	n.Filters.RestaurantIDs = restaurantIDs
	n.Filters.SectionIDs = sectionIDs
	if dayOfWeek.Valid {
		n.DayOfWeek = dayOfWeek.String
	}
	if dayOfMonth.Valid {
		n.DayOfMonth = int(dayOfMonth.Int64)
	}
	if lastSent.Valid {
		n.LastSent = &lastSent.Time
	}
	if nextSend.Valid {
		n.NextSend = &nextSend.Time
	}
	if createdBy.Valid {
		n.CreatedBy = createdBy.String
	}
	if updatedBy.Valid {
		n.UpdatedBy = updatedBy.String
	}
	return &n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i != 0}
}
