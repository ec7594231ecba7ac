package notifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/inspectly/report-scheduler/internal/database"
)

// NotificationStore is the persistence surface the service writes through
type NotificationStore interface {
	Create(ctx context.Context, n *ReportNotification) error
	GetByID(ctx context.Context, id string) (*ReportNotification, error)
	List(ctx context.Context) ([]ReportNotification, error)
	Update(ctx context.Context, n *ReportNotification) error
	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
	ListDispatchRecords(ctx context.Context, notificationID string, limit int) ([]DispatchRecord, error)
}

// RecipientResolver expands filters and role flags into concrete recipients.
// An empty result is not an error; only malformed filters are.
type RecipientResolver interface {
	Resolve(ctx context.Context, filters Filters, roles []string) ([]Recipient, error)
}

// NotificationInput carries the writable fields of a report notification
type NotificationInput struct {
	Name            string
	Frequency       string
	SendTime        string
	TimeZone        string
	DayOfWeek       string
	DayOfMonth      int
	EmailEnabled    bool
	WhatsAppEnabled bool
	Roles           []string
	Filters         Filters
	Active          bool
	ActorID         string
}

// Service handles the admin write path for report notifications. Cadence
// validation happens here, so a malformed cadence is rejected before it
// can ever reach the evaluator.
type Service struct {
	store           NotificationStore
	resolver        RecipientResolver
	cache           *database.RedisClient
	defaultTimeZone string
	logger          *zap.Logger
	now             func() time.Time
}

// NewService creates a new notification service
func NewService(store NotificationStore, resolver RecipientResolver, cache *database.RedisClient, defaultTimeZone string, logger *zap.Logger) *Service {
	return &Service{
		store:           store,
		resolver:        resolver,
		cache:           cache,
		defaultTimeZone: defaultTimeZone,
		logger:          logger,
		now:             time.Now,
	}
}

// CreateNotification validates the cadence, computes the first next_send,
// and persists the notification
func (s *Service) CreateNotification(ctx context.Context, input NotificationInput) (*ReportNotification, error) {
	n := s.applyInput(&ReportNotification{}, input)
	n.CreatedBy = input.ActorID

	next, err := n.NextSendAfter(s.now(), s.defaultTimeZone)
	if err != nil {
		return nil, err
	}
	n.NextSend = &next

	if count, err := s.countRecipients(ctx, n); err == nil {
		n.RecipientCount = count
	} else {
		s.logger.Warn("Failed to count recipients", zap.Error(err), zap.String("name", n.Name))
	}

	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}

	s.logger.Info("Report notification created",
		zap.String("id", n.ID),
		zap.String("frequency", n.Frequency),
		zap.Time("next_send", next),
	)
	return n, nil
}

// UpdateNotification applies an edit. Any cadence field change triggers an
// explicit next_send recompute; a cadence-neutral edit leaves the schedule
// alone.
func (s *Service) UpdateNotification(ctx context.Context, id string, input NotificationInput) (*ReportNotification, error) {
	n, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	cadenceChanged := n.Frequency != input.Frequency ||
		n.SendTime != input.SendTime ||
		n.TimeZone != input.TimeZone ||
		n.DayOfWeek != input.DayOfWeek ||
		n.DayOfMonth != input.DayOfMonth

	n = s.applyInput(n, input)
	n.UpdatedBy = input.ActorID

	if cadenceChanged || n.NextSend == nil {
		next, err := n.NextSendAfter(s.now(), s.defaultTimeZone)
		if err != nil {
			return nil, err
		}
		n.NextSend = &next
	} else {
		// Still reject a cadence that fails to parse, even when unchanged
		if _, err := n.Cadence(s.defaultTimeZone); err != nil {
			return nil, err
		}
	}

	if count, err := s.countRecipients(ctx, n); err == nil {
		n.RecipientCount = count
	} else {
		s.logger.Warn("Failed to count recipients", zap.Error(err), zap.String("id", n.ID))
	}

	if err := s.store.Update(ctx, n); err != nil {
		return nil, err
	}
	s.invalidateCache(ctx, n.ID)

	s.logger.Info("Report notification updated",
		zap.String("id", n.ID),
		zap.Bool("cadence_changed", cadenceChanged),
	)
	return n, nil
}

// GetNotification retrieves a notification by ID
func (s *Service) GetNotification(ctx context.Context, id string) (*ReportNotification, error) {
	return s.store.GetByID(ctx, id)
}

// ListNotifications returns all report notifications
func (s *Service) ListNotifications(ctx context.Context) ([]ReportNotification, error) {
	return s.store.List(ctx)
}

// DeleteNotification hard-deletes a notification
func (s *Service) DeleteNotification(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateCache(ctx, id)
	s.logger.Info("Report notification deleted", zap.String("id", id))
	return nil
}

// SetNotificationActive soft-enables or soft-disables a notification
func (s *Service) SetNotificationActive(ctx context.Context, id string, active bool) error {
	if err := s.store.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.logger.Info("Report notification active flag changed",
		zap.String("id", id), zap.Bool("active", active))
	return nil
}

// ListHistory returns recent dispatch attempts for a notification
func (s *Service) ListHistory(ctx context.Context, id string, limit int) ([]DispatchRecord, error) {
	return s.store.ListDispatchRecords(ctx, id, limit)
}

// PreviewRecipients returns the delivery list a notification would resolve
// to right now, served from the recipient cache when fresh
func (s *Service) PreviewRecipients(ctx context.Context, id string) ([]Recipient, error) {
	n, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		var cached []Recipient
		if ok, err := s.cache.GetCachedRecipients(ctx, id, &cached); err == nil && ok {
			return cached, nil
		}
	}

	recipients, err := s.resolver.Resolve(ctx, n.Filters, n.Roles)
	if err != nil {
		return nil, &ResolutionError{NotificationID: id, Err: err}
	}
	if s.cache != nil {
		if err := s.cache.CacheRecipients(ctx, id, recipients); err != nil {
			s.logger.Warn("Failed to cache recipients", zap.Error(err), zap.String("id", id))
		}
	}
	return recipients, nil
}

// applyInput copies writable fields onto a notification
func (s *Service) applyInput(n *ReportNotification, input NotificationInput) *ReportNotification {
	n.Name = input.Name
	n.Frequency = input.Frequency
	n.SendTime = input.SendTime
	n.TimeZone = input.TimeZone
	if n.TimeZone == "" {
		n.TimeZone = s.defaultTimeZone
	}
	n.DayOfWeek = input.DayOfWeek
	n.DayOfMonth = input.DayOfMonth
	n.EmailEnabled = input.EmailEnabled
	n.WhatsAppEnabled = input.WhatsAppEnabled
	n.Roles = input.Roles
	n.Filters = input.Filters
	if n.Filters.RestaurantScope == "" {
		n.Filters.RestaurantScope = ScopeAll
	}
	if n.Filters.SectionScope == "" {
		n.Filters.SectionScope = ScopeAll
	}
	n.Active = input.Active
	return n
}

// countRecipients resolves the notification's recipients to refresh the
// informational recipient_count, caching the resolved list
func (s *Service) countRecipients(ctx context.Context, n *ReportNotification) (int, error) {
	if s.resolver == nil {
		return 0, nil
	}
	recipients, err := s.resolver.Resolve(ctx, n.Filters, n.Roles)
	if err != nil {
		return 0, fmt.Errorf("recipient count refresh: %w", err)
	}
	if s.cache != nil && n.ID != "" {
		if err := s.cache.CacheRecipients(ctx, n.ID, recipients); err != nil {
			s.logger.Warn("Failed to cache recipients", zap.Error(err), zap.String("id", n.ID))
		}
	}
	return len(recipients), nil
}

func (s *Service) invalidateCache(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateRecipients(ctx, id); err != nil {
		s.logger.Warn("Failed to invalidate recipient cache", zap.Error(err), zap.String("id", id))
	}
}
