package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/inspectly/report-scheduler/internal/monitoring"
	"github.com/inspectly/report-scheduler/internal/notifier"
	"github.com/inspectly/report-scheduler/internal/schedule"
)

// NotificationService is the admin write/read surface behind the API
type NotificationService interface {
	CreateNotification(ctx context.Context, input notifier.NotificationInput) (*notifier.ReportNotification, error)
	UpdateNotification(ctx context.Context, id string, input notifier.NotificationInput) (*notifier.ReportNotification, error)
	GetNotification(ctx context.Context, id string) (*notifier.ReportNotification, error)
	ListNotifications(ctx context.Context) ([]notifier.ReportNotification, error)
	DeleteNotification(ctx context.Context, id string) error
	SetNotificationActive(ctx context.Context, id string, active bool) error
	ListHistory(ctx context.Context, id string, limit int) ([]notifier.DispatchRecord, error)
	PreviewRecipients(ctx context.Context, id string) ([]notifier.Recipient, error)
}

// Dispatcher is the manual trigger entry point
type Dispatcher interface {
	TriggerNow(ctx context.Context, id string, updateSchedule bool) (*notifier.DispatchOutcome, error)
}

// Handler holds dependencies for REST API handlers
type Handler struct {
	service    NotificationService
	dispatcher Dispatcher
	metrics    *monitoring.Metrics
	logger     *zap.Logger
	validator  *validator.Validate
}

// NewHandler creates a new REST API handler
func NewHandler(
	service NotificationService,
	dispatcher Dispatcher,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		service:    service,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
		validator:  validator.New(),
	}
}

// ChannelFlags selects the delivery channels for a notification
type ChannelFlags struct {
	Email    bool `json:"email"`
	WhatsApp bool `json:"whatsapp"`
}

// FiltersRequest scopes the report data window and subject set
type FiltersRequest struct {
	Restaurants         string   `json:"restaurants" validate:"omitempty,oneof=all specific"`
	Sections            string   `json:"sections" validate:"omitempty,oneof=all specific"`
	SelectedRestaurants []string `json:"selected_restaurants,omitempty"`
	SelectedSections    []string `json:"selected_sections,omitempty"`
	DateRange           int      `json:"date_range" validate:"omitempty,min=1,max=365"`
}

// NotificationRequest is the request body for creating and updating
// report notifications
type NotificationRequest struct {
	Name       string         `json:"name" validate:"required"`
	Frequency  string         `json:"frequency" validate:"required,oneof=daily weekly monthly"`
	Time       string         `json:"time" validate:"required"`
	TimeZone   string         `json:"time_zone,omitempty"`
	DayOfWeek  string         `json:"day_of_week,omitempty"`
	DayOfMonth int            `json:"day_of_month,omitempty"`
	Channels   ChannelFlags   `json:"channels"`
	Recipients []string       `json:"recipients" validate:"required,min=1,dive,oneof=super_admin owner district_manager general_manager employee"`
	Filters    FiltersRequest `json:"filters"`
	Active     *bool          `json:"active,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Code    int    `json:"code"`
}

// TriggerResponse wraps the manual trigger outcome
type TriggerResponse struct {
	Outcome *notifier.DispatchOutcome `json:"outcome"`
}

// CreateNotification handles POST /report-notifications
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveAPIRequest("create_notification", time.Since(start).Seconds())
	}()

	input, ok := h.decodeNotificationRequest(w, r)
	if !ok {
		return
	}

	notif, err := h.service.CreateNotification(r.Context(), *input)
	if err != nil {
		h.writeServiceError(w, err, "Failed to create report notification")
		return
	}

	h.logger.Info("Report notification created via API",
		zap.String("id", notif.ID),
		zap.String("frequency", notif.Frequency),
	)
	h.writeJSON(w, http.StatusCreated, notif)
}

// UpdateNotification handles PUT /report-notifications/{id}
func (h *Handler) UpdateNotification(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveAPIRequest("update_notification", time.Since(start).Seconds())
	}()

	id := mux.Vars(r)["id"]
	input, ok := h.decodeNotificationRequest(w, r)
	if !ok {
		return
	}

	notif, err := h.service.UpdateNotification(r.Context(), id, *input)
	if err != nil {
		h.writeServiceError(w, err, "Failed to update report notification")
		return
	}

	h.writeJSON(w, http.StatusOK, notif)
}

// GetNotification handles GET /report-notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	notif, err := h.service.GetNotification(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to retrieve report notification")
		return
	}
	h.writeJSON(w, http.StatusOK, notif)
}

// ListNotifications handles GET /report-notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.service.ListNotifications(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Failed to list report notifications")
		return
	}
	if notifications == nil {
		notifications = []notifier.ReportNotification{}
	}
	h.writeJSON(w, http.StatusOK, notifications)
}

// DeleteNotification handles DELETE /report-notifications/{id}
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.service.DeleteNotification(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "Failed to delete report notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetActive handles PUT /report-notifications/{id}/active
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeErrorResponse(w, "Invalid request body", "", http.StatusBadRequest)
		return
	}

	if err := h.service.SetNotificationActive(r.Context(), id, body.Active); err != nil {
		h.writeServiceError(w, err, "Failed to change active flag")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TriggerNotification handles POST /report-notifications/{id}/trigger.
// The optional update_schedule query flag opts into advancing
// lastSent/nextSend like a normal tick; by default a manual trigger is
// diagnostic only.
func (h *Handler) TriggerNotification(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveAPIRequest("trigger_notification", time.Since(start).Seconds())
	}()

	id := mux.Vars(r)["id"]
	updateSchedule, _ := strconv.ParseBool(r.URL.Query().Get("update_schedule"))

	outcome, err := h.dispatcher.TriggerNow(r.Context(), id, updateSchedule)
	if err != nil {
		h.writeServiceError(w, err, "Failed to trigger report notification")
		return
	}

	h.logger.Info("Manual trigger via API",
		zap.String("id", id),
		zap.Bool("update_schedule", updateSchedule),
		zap.Bool("sent", outcome.Sent),
	)
	h.writeJSON(w, http.StatusOK, TriggerResponse{Outcome: outcome})
}

// GetHistory handles GET /report-notifications/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.service.ListHistory(r.Context(), id, limit)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list dispatch history")
		return
	}
	if records == nil {
		records = []notifier.DispatchRecord{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

// GetRecipients handles GET /report-notifications/{id}/recipients
func (h *Handler) GetRecipients(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	recipients, err := h.service.PreviewRecipients(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to resolve recipients")
		return
	}
	if recipients == nil {
		recipients = []notifier.Recipient{}
	}
	h.writeJSON(w, http.StatusOK, recipients)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "report-scheduler-api",
	}
	h.writeJSON(w, http.StatusOK, health)
}

// Metrics handles GET /metrics (Prometheus metrics)
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.Handler().ServeHTTP(w, r)
}

// decodeNotificationRequest decodes and validates the shared create/update body
func (h *Handler) decodeNotificationRequest(w http.ResponseWriter, r *http.Request) (*notifier.NotificationInput, bool) {
	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		h.writeErrorResponse(w, "Invalid request body", "", http.StatusBadRequest)
		return nil, false
	}

	if err := h.validator.Struct(req); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			h.writeErrorResponse(w,
				fmt.Sprintf("Validation failed on %q", invalid[0].Field()),
				invalid[0].Field(), http.StatusBadRequest)
		} else {
			h.writeErrorResponse(w, fmt.Sprintf("Validation error: %v", err), "", http.StatusBadRequest)
		}
		return nil, false
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	input := &notifier.NotificationInput{
		Name:            req.Name,
		Frequency:       req.Frequency,
		SendTime:        req.Time,
		TimeZone:        req.TimeZone,
		DayOfWeek:       req.DayOfWeek,
		DayOfMonth:      req.DayOfMonth,
		EmailEnabled:    req.Channels.Email,
		WhatsAppEnabled: req.Channels.WhatsApp,
		Roles:           req.Recipients,
		Filters: notifier.Filters{
			RestaurantScope: req.Filters.Restaurants,
			SectionScope:    req.Filters.Sections,
			RestaurantIDs:   req.Filters.SelectedRestaurants,
			SectionIDs:      req.Filters.SelectedSections,
			DateRangeDays:   req.Filters.DateRange,
		},
		Active:  active,
		ActorID: req.ActorID,
	}
	return input, true
}

// writeServiceError maps service-layer errors onto HTTP responses.
// Cadence validation errors block the save with a field-level message.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, message string) {
	var configErr *schedule.ConfigError
	switch {
	case errors.As(err, &configErr):
		h.writeErrorResponse(w, configErr.Message, configErr.Field, http.StatusBadRequest)
	case errors.Is(err, notifier.ErrNotFound):
		h.writeErrorResponse(w, "Report notification not found", "", http.StatusNotFound)
	default:
		h.logger.Error(message, zap.Error(err))
		h.writeErrorResponse(w, message, "", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeErrorResponse writes an error response
func (h *Handler) writeErrorResponse(w http.ResponseWriter, message, field string, statusCode int) {
	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Field:   field,
		Code:    statusCode,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// SetupRoutes sets up all REST API routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/report-notifications", h.CreateNotification).Methods("POST")
	api.HandleFunc("/report-notifications", h.ListNotifications).Methods("GET")
	api.HandleFunc("/report-notifications/{id}", h.GetNotification).Methods("GET")
	api.HandleFunc("/report-notifications/{id}", h.UpdateNotification).Methods("PUT")
	api.HandleFunc("/report-notifications/{id}", h.DeleteNotification).Methods("DELETE")
	api.HandleFunc("/report-notifications/{id}/active", h.SetActive).Methods("PUT")
	api.HandleFunc("/report-notifications/{id}/trigger", h.TriggerNotification).Methods("POST")
	api.HandleFunc("/report-notifications/{id}/history", h.GetHistory).Methods("GET")
	api.HandleFunc("/report-notifications/{id}/recipients", h.GetRecipients).Methods("GET")

	// Health and metrics
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/metrics", h.Metrics).Methods("GET")

	// Add middleware
	router.Use(h.loggingMiddleware)
	router.Use(h.corsMiddleware)

	return router
}

// loggingMiddleware logs HTTP requests
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		h.metrics.IncrementActiveConnections()
		defer h.metrics.DecrementActiveConnections()

		// Create a response recorder to capture status code
		recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		duration := time.Since(start)
		h.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.statusCode),
			zap.Duration("duration", duration),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// corsMiddleware adds CORS headers
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseRecorder wraps http.ResponseWriter to capture status code
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
