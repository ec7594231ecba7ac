package notifier

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/inspectly/report-scheduler/internal/config"
	"github.com/inspectly/report-scheduler/internal/monitoring"
	"github.com/inspectly/report-scheduler/internal/queue"
	"github.com/inspectly/report-scheduler/internal/schedule"
)

// tickLockKey guards one evaluator pass across scheduler instances
const tickLockKey = "report-scheduler:evaluator_lock"

// EvaluatorStore is the persistence surface the evaluator reads and
// advances schedules through
type EvaluatorStore interface {
	FindDue(ctx context.Context, now time.Time) ([]ReportNotification, error)
	GetByID(ctx context.Context, id string) (*ReportNotification, error)
	ConditionalUpdateSchedule(ctx context.Context, id string, expectedNextSend time.Time, lastSent *time.Time, nextSend time.Time) (bool, error)
}

// Channel delivers a report payload to a recipient list. Transient
// provider failures come back in the result, never as a panic or an
// aborting error.
type Channel interface {
	Send(ctx context.Context, recipients []Recipient, payload ReportPayload) DeliveryResult
	Type() string
}

// ReportBuilder assembles the inspection summary for a filter window
type ReportBuilder interface {
	Build(ctx context.Context, filters Filters, now time.Time) (*ReportPayload, error)
}

// EventPublisher emits dispatch audit events
type EventPublisher interface {
	PublishDispatch(ctx context.Context, event queue.DispatchEvent) error
}

// Evaluator runs the dispatch pass: it selects due notifications, fans
// out to channels, and advances each schedule with an optimistic update
// so a due cycle dispatches at most once even under duplicate schedulers.
type Evaluator struct {
	store     EvaluatorStore
	resolver  RecipientResolver
	builder   ReportBuilder
	channels  map[string]Channel
	publisher EventPublisher
	redis     redis.Cmdable
	metrics   *monitoring.Metrics
	logger    *zap.Logger

	tickInterval    time.Duration
	workers         int
	sendTimeout     time.Duration
	lockTTL         time.Duration
	defaultTimeZone string

	now    func() time.Time
	tickMu sync.Mutex
}

// NewEvaluator creates a new dispatch evaluator. redisClient may be nil,
// in which case only the in-process tick guard applies.
func NewEvaluator(
	store EvaluatorStore,
	resolver RecipientResolver,
	builder ReportBuilder,
	channels []Channel,
	publisher EventPublisher,
	redisClient redis.Cmdable,
	cfg config.SchedulerConfig,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *Evaluator {
	byType := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byType[ch.Type()] = ch
	}
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	return &Evaluator{
		store:           store,
		resolver:        resolver,
		builder:         builder,
		channels:        byType,
		publisher:       publisher,
		redis:           redisClient,
		metrics:         metrics,
		logger:          logger,
		tickInterval:    cfg.TickInterval,
		workers:         workers,
		sendTimeout:     cfg.SendTimeout,
		lockTTL:         cfg.LockTTL,
		defaultTimeZone: cfg.DefaultTimeZone,
		now:             time.Now,
	}
}

// Run drives ticks from a fixed-interval timer until the context is
// cancelled. In-flight dispatches are allowed to finish.
func (e *Evaluator) Run(ctx context.Context) {
	e.logger.Info("Dispatch evaluator started",
		zap.Duration("tick_interval", e.tickInterval),
		zap.Int("workers", e.workers),
	)

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Dispatch evaluator stopping")
			return
		case <-ticker.C:
			if err := e.Tick(ctx, e.now()); err != nil {
				e.logger.Error("Tick failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one evaluation pass at the given instant. A tick that fires
// while the previous pass is still running is skipped, never run
// concurrently.
func (e *Evaluator) Tick(ctx context.Context, now time.Time) error {
	if !e.tickMu.TryLock() {
		e.logger.Warn("Skipping tick, previous pass still running")
		return nil
	}
	defer e.tickMu.Unlock()

	if e.redis != nil {
		lock, err := schedule.AcquireTickLock(ctx, e.redis, tickLockKey, e.lockTTL)
		if err != nil {
			return err
		}
		if lock == nil {
			e.logger.Debug("Tick held by another scheduler instance")
			return nil
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				e.logger.Warn("Failed to release tick lock", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	due, err := e.store.FindDue(ctx, now)
	if err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.SetDueNotifications(float64(len(due)))
	}
	if len(due) == 0 {
		return nil
	}

	e.logger.Info("Evaluating due notifications", zap.Int("count", len(due)))

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	for i := range due {
		n := due[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Dispatch panicked",
						zap.String("notification_id", n.ID),
						zap.Any("panic_value", r),
						zap.String("stack_trace", string(debug.Stack())),
					)
				}
			}()
			e.process(ctx, &n, now)
		}()
	}
	wg.Wait()

	if e.metrics != nil {
		e.metrics.ObserveTickDuration(time.Since(start).Seconds())
	}
	return nil
}

// process handles one due notification. Failures here are isolated: they
// are logged and never abort the rest of the tick.
func (e *Evaluator) process(ctx context.Context, n *ReportNotification, now time.Time) {
	expected := *n.NextSend

	next, err := n.NextSendAfter(now, e.defaultTimeZone)
	if err != nil {
		// The write path validates cadence, so a malformed persisted
		// config should not happen. Skip and leave the schedule alone.
		e.logger.Error("Malformed cadence on persisted notification, skipping",
			zap.String("notification_id", n.ID), zap.Error(err))
		if e.metrics != nil {
			e.metrics.RecordDispatchFailed("", "config_error")
		}
		return
	}

	recipients, err := e.resolver.Resolve(ctx, n.Filters, n.Roles)
	if err != nil {
		resErr := &ResolutionError{NotificationID: n.ID, Err: err}
		e.logger.Error("Recipient resolution failed", zap.Error(resErr))
		if e.metrics != nil {
			e.metrics.RecordDispatchFailed("", "resolution_error")
		}
		return
	}

	if len(recipients) == 0 {
		// No matching recipients: no sends this cycle, but the schedule
		// still advances so the notification is not re-evaluated every tick.
		e.advance(ctx, n, expected, nil, next)
		e.logger.Info("No recipients matched, schedule advanced without sends",
			zap.String("notification_id", n.ID), zap.Time("next_send", next))
		return
	}

	payload, err := e.builder.Build(ctx, n.Filters, now)
	if err != nil {
		e.logger.Error("Report build failed",
			zap.String("notification_id", n.ID), zap.Error(err))
		if e.metrics != nil {
			e.metrics.RecordDispatchFailed("", "report_error")
		}
		return
	}

	results := e.send(ctx, n, recipients, *payload, false, now)

	var lastSent *time.Time
	if anySuccess(results) {
		sent := now
		lastSent = &sent
	}
	e.advance(ctx, n, expected, lastSent, next)
}

// advance performs the optimistic schedule update. A lost race means
// another evaluator already dispatched this cycle; that is a no-op skip.
func (e *Evaluator) advance(ctx context.Context, n *ReportNotification, expected time.Time, lastSent *time.Time, next time.Time) {
	ok, err := e.store.ConditionalUpdateSchedule(ctx, n.ID, expected, lastSent, next)
	if err != nil {
		e.logger.Error("Failed to advance schedule",
			zap.String("notification_id", n.ID), zap.Error(err))
		return
	}
	if !ok {
		if e.metrics != nil {
			e.metrics.RecordScheduleConflict()
		}
		e.logger.Info("Skipping dispatch bookkeeping",
			zap.String("notification_id", n.ID),
			zap.Error(ErrScheduleConflict))
	}
}

// send fans the payload out to every enabled channel. Each send gets a
// bounded timeout and no same-tick retry; a failed channel waits for the
// next regular cycle.
func (e *Evaluator) send(ctx context.Context, n *ReportNotification, recipients []Recipient, payload ReportPayload, manual bool, now time.Time) []DeliveryResult {
	var results []DeliveryResult
	for _, channelType := range n.EnabledChannels() {
		ch, ok := e.channels[channelType]
		if !ok {
			results = append(results, DeliveryResult{
				Channel:      channelType,
				ErrorMessage: "channel not configured",
			})
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
		start := time.Now()
		result := ch.Send(sendCtx, recipients, payload)
		cancel()

		if e.metrics != nil {
			e.metrics.ObserveChannelDuration(channelType, time.Since(start).Seconds())
			if result.Success {
				e.metrics.RecordDispatch(channelType, "sent")
			} else {
				e.metrics.RecordDispatchFailed(channelType, "delivery_failure")
			}
		}
		if !result.Success {
			e.logger.Warn("Channel delivery failed",
				zap.String("notification_id", n.ID),
				zap.String("channel", channelType),
				zap.String("cause", result.ErrorMessage),
			)
		}

		e.publishEvent(ctx, n, result, len(recipients), manual, now)
		results = append(results, result)
	}
	return results
}

// publishEvent emits a dispatch audit event; publish failures are logged
// and never affect the dispatch outcome
func (e *Evaluator) publishEvent(ctx context.Context, n *ReportNotification, result DeliveryResult, recipientCount int, manual bool, now time.Time) {
	if e.publisher == nil {
		return
	}
	event := queue.DispatchEvent{
		NotificationID:   n.ID,
		NotificationName: n.Name,
		Channel:          result.Channel,
		RecipientCount:   recipientCount,
		Success:          result.Success,
		ErrorMessage:     result.ErrorMessage,
		Manual:           manual,
		SentAt:           now,
	}
	if err := e.publisher.PublishDispatch(ctx, event); err != nil {
		e.logger.Warn("Failed to publish dispatch event",
			zap.String("notification_id", n.ID), zap.Error(err))
	}
}

// TriggerNow force-fires one notification regardless of its due state.
// By default it is diagnostic only: lastSent/nextSend stay untouched
// unless updateSchedule is set, in which case the schedule advances
// exactly as on a normal tick.
func (e *Evaluator) TriggerNow(ctx context.Context, id string, updateSchedule bool) (*DispatchOutcome, error) {
	now := e.now()

	n, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	recipients, err := e.resolver.Resolve(ctx, n.Filters, n.Roles)
	if err != nil {
		return nil, &ResolutionError{NotificationID: n.ID, Err: err}
	}

	outcome := &DispatchOutcome{
		NotificationID: n.ID,
		RecipientCount: len(recipients),
	}

	if len(recipients) > 0 {
		payload, err := e.builder.Build(ctx, n.Filters, now)
		if err != nil {
			return nil, err
		}
		outcome.Results = e.send(ctx, n, recipients, *payload, true, now)
		outcome.Sent = anySuccess(outcome.Results)
	}

	if updateSchedule && n.NextSend != nil {
		next, err := n.NextSendAfter(now, e.defaultTimeZone)
		if err != nil {
			return nil, err
		}
		var lastSent *time.Time
		if outcome.Sent {
			sent := now
			lastSent = &sent
		}
		ok, err := e.store.ConditionalUpdateSchedule(ctx, n.ID, *n.NextSend, lastSent, next)
		if err != nil {
			return nil, err
		}
		outcome.ScheduleUpdated = ok
	}

	e.logger.Info("Manual trigger completed",
		zap.String("notification_id", id),
		zap.Bool("sent", outcome.Sent),
		zap.Bool("schedule_updated", outcome.ScheduleUpdated),
	)
	return outcome, nil
}

func anySuccess(results []DeliveryResult) bool {
	for _, r := range results {
		if r.Success {
			return true
		}
	}
	return false
}
