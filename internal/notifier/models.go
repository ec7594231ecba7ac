package notifier

import (
	"time"

	"github.com/inspectly/report-scheduler/internal/schedule"
)

// Channel type names
const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
)

// Recipient roles
const (
	RoleSuperAdmin      = "super_admin"
	RoleOwner           = "owner"
	RoleDistrictManager = "district_manager"
	RoleGeneralManager  = "general_manager"
	RoleEmployee        = "employee"
)

// Filter scopes
const (
	ScopeAll      = "all"
	ScopeSpecific = "specific"
)

// Filters scopes the inspection data window and subject set of a report
type Filters struct {
	RestaurantScope string   `json:"restaurant_scope"`
	SectionScope    string   `json:"section_scope"`
	RestaurantIDs   []string `json:"restaurant_ids,omitempty"`
	SectionIDs      []string `json:"section_ids,omitempty"`
	DateRangeDays   int      `json:"date_range_days"`
}

// ReportNotification is the scheduled entity: a recurring inspection report
// with a cadence, recipient roles, channel flags, and data filters.
type ReportNotification struct {
	ID              string     `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	Frequency       string     `json:"frequency" db:"frequency"`
	SendTime        string     `json:"send_time" db:"send_time"` // HH:MM 24-hour
	TimeZone        string     `json:"time_zone" db:"time_zone"`
	DayOfWeek       string     `json:"day_of_week,omitempty" db:"day_of_week"`
	DayOfMonth      int        `json:"day_of_month,omitempty" db:"day_of_month"`
	EmailEnabled    bool       `json:"email_enabled" db:"email_enabled"`
	WhatsAppEnabled bool       `json:"whatsapp_enabled" db:"whatsapp_enabled"`
	Roles           []string   `json:"roles" db:"roles"`
	Filters         Filters    `json:"filters"`
	Active          bool       `json:"active" db:"active"`
	RecipientCount  int        `json:"recipient_count" db:"recipient_count"`
	LastSent        *time.Time `json:"last_sent,omitempty" db:"last_sent"`
	NextSend        *time.Time `json:"next_send,omitempty" db:"next_send"`
	CreatedBy       string     `json:"created_by,omitempty" db:"created_by"`
	UpdatedBy       string     `json:"updated_by,omitempty" db:"updated_by"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Cadence parses the notification's cadence fields into a schedule variant
func (n *ReportNotification) Cadence(defaultTimeZone string) (schedule.Cadence, error) {
	return schedule.ParseCadence(n.Frequency, n.SendTime, n.DayOfWeek, n.DayOfMonth, n.TimeZone, defaultTimeZone)
}

// NextSendAfter recomputes the dispatch timestamp for this notification
// strictly after now. Called on create, on every cadence field edit, and
// after every dispatch.
func (n *ReportNotification) NextSendAfter(now time.Time, defaultTimeZone string) (time.Time, error) {
	cadence, err := n.Cadence(defaultTimeZone)
	if err != nil {
		return time.Time{}, err
	}
	return cadence.Next(now), nil
}

// EnabledChannels lists the channel types this notification dispatches on
func (n *ReportNotification) EnabledChannels() []string {
	var channels []string
	if n.EmailEnabled {
		channels = append(channels, ChannelEmail)
	}
	if n.WhatsAppEnabled {
		channels = append(channels, ChannelWhatsApp)
	}
	return channels
}

// Recipient is a resolved delivery address for one user
type Recipient struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone,omitempty"`
	Role   string `json:"role"`
}

// RestaurantSummary aggregates inspection results for one restaurant
type RestaurantSummary struct {
	RestaurantID string  `json:"restaurant_id"`
	Name         string  `json:"name"`
	Total        int     `json:"total"`
	Passed       int     `json:"passed"`
	Failed       int     `json:"failed"`
	AverageScore float64 `json:"average_score"`
}

// ReportPayload summarizes inspections within a notification's filter window
type ReportPayload struct {
	Title        string              `json:"title"`
	PeriodStart  time.Time           `json:"period_start"`
	PeriodEnd    time.Time           `json:"period_end"`
	Total        int                 `json:"total"`
	Passed       int                 `json:"passed"`
	Failed       int                 `json:"failed"`
	AverageScore float64             `json:"average_score"`
	Restaurants  []RestaurantSummary `json:"restaurants"`
}

// DeliveryResult is the outcome of one channel send. Transient provider
// failures are carried here rather than raised, so a failed channel never
// aborts the rest of a dispatch.
type DeliveryResult struct {
	Channel      string `json:"channel"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// DispatchOutcome reports the per-channel results of one dispatch
type DispatchOutcome struct {
	NotificationID  string           `json:"notification_id"`
	RecipientCount  int              `json:"recipient_count"`
	Sent            bool             `json:"sent"`
	ScheduleUpdated bool             `json:"schedule_updated"`
	Results         []DeliveryResult `json:"results"`
}

// DispatchRecord is one persisted dispatch_history row
type DispatchRecord struct {
	ID             string    `json:"id"`
	NotificationID string    `json:"notification_id"`
	Channel        string    `json:"channel"`
	RecipientCount int       `json:"recipient_count"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Manual         bool      `json:"manual"`
	SentAt         time.Time `json:"sent_at"`
}
