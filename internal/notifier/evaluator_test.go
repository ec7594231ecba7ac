package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inspectly/report-scheduler/internal/config"
	"github.com/inspectly/report-scheduler/internal/queue"
)

type scheduleUpdate struct {
	id       string
	expected time.Time
	lastSent *time.Time
	nextSend time.Time
	applied  bool
}

// fakeEvalStore mimics the conditional-update semantics of the SQL store:
// an update only lands while the stored next_send still equals the
// expected value.
type fakeEvalStore struct {
	mu            sync.Mutex
	notifications map[string]*ReportNotification
	updates       []scheduleUpdate
	findDueCalls  int
}

func newFakeEvalStore(notifications ...*ReportNotification) *fakeEvalStore {
	s := &fakeEvalStore{notifications: make(map[string]*ReportNotification)}
	for _, n := range notifications {
		s.notifications[n.ID] = n
	}
	return s
}

func (s *fakeEvalStore) FindDue(ctx context.Context, now time.Time) ([]ReportNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findDueCalls++
	var due []ReportNotification
	for _, n := range s.notifications {
		if n.Active && n.NextSend != nil && !n.NextSend.After(now) {
			due = append(due, *n)
		}
	}
	return due, nil
}

func (s *fakeEvalStore) GetByID(ctx context.Context, id string) (*ReportNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *n
	return &copied, nil
}

func (s *fakeEvalStore) ConditionalUpdateSchedule(ctx context.Context, id string, expectedNextSend time.Time, lastSent *time.Time, nextSend time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	applied := ok && n.NextSend != nil && n.NextSend.Equal(expectedNextSend)
	if applied {
		if lastSent != nil {
			sent := *lastSent
			n.LastSent = &sent
		}
		next := nextSend
		n.NextSend = &next
	}
	s.updates = append(s.updates, scheduleUpdate{
		id: id, expected: expectedNextSend, lastSent: lastSent, nextSend: nextSend, applied: applied,
	})
	return applied, nil
}

func (s *fakeEvalStore) appliedUpdates(id string) []scheduleUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scheduleUpdate
	for _, u := range s.updates {
		if u.id == id && u.applied {
			out = append(out, u)
		}
	}
	return out
}

func (s *fakeEvalStore) allUpdates() []scheduleUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduleUpdate(nil), s.updates...)
}

type fakeResolver struct {
	recipients []Recipient
	err        error
}

func (r *fakeResolver) Resolve(ctx context.Context, filters Filters, roles []string) ([]Recipient, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.recipients, nil
}

type fakeBuilder struct {
	payload ReportPayload
	err     error
}

func (b *fakeBuilder) Build(ctx context.Context, filters Filters, now time.Time) (*ReportPayload, error) {
	if b.err != nil {
		return nil, b.err
	}
	p := b.payload
	return &p, nil
}

type sendCall struct {
	recipients []Recipient
	payload    ReportPayload
}

type fakeChannel struct {
	mu      sync.Mutex
	channel string
	result  DeliveryResult
	sends   []sendCall
}

func (c *fakeChannel) Send(ctx context.Context, recipients []Recipient, payload ReportPayload) DeliveryResult {
	c.mu.Lock()
	c.sends = append(c.sends, sendCall{recipients: recipients, payload: payload})
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return DeliveryResult{Channel: c.channel, ErrorMessage: err.Error()}
	}
	result := c.result
	result.Channel = c.channel
	return result
}

func (c *fakeChannel) Type() string { return c.channel }

func (c *fakeChannel) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []queue.DispatchEvent
}

func (p *fakePublisher) PublishDispatch(ctx context.Context, event queue.DispatchEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func weeklyNotification(id string, nextSend time.Time) *ReportNotification {
	ns := nextSend
	return &ReportNotification{
		ID:           id,
		Name:         "weekly inspection digest",
		Frequency:    "weekly",
		SendTime:     "09:00",
		TimeZone:     "UTC",
		DayOfWeek:    "monday",
		EmailEnabled: true,
		Roles:        []string{RoleOwner},
		Filters:      Filters{RestaurantScope: ScopeAll, SectionScope: ScopeAll, DateRangeDays: 7},
		Active:       true,
		NextSend:     &ns,
	}
}

func newTestEvaluator(store *fakeEvalStore, resolver *fakeResolver, builder *fakeBuilder, channels []Channel, publisher EventPublisher, now time.Time) *Evaluator {
	cfg := config.SchedulerConfig{
		TickInterval:    time.Minute,
		WorkerCount:     2,
		SendTimeout:     time.Second,
		LockTTL:         time.Minute,
		DefaultTimeZone: "UTC",
	}
	e := NewEvaluator(store, resolver, builder, channels, publisher, nil, cfg, nil, zap.NewNop())
	e.now = func() time.Time { return now }
	return e
}

var testRecipients = []Recipient{
	{UserID: "u-1", Name: "Ana", Email: "ana@example.com", Phone: "+15551230001", Role: RoleOwner},
	{UserID: "u-2", Name: "Ben", Email: "ben@example.com", Role: RoleOwner},
}

func TestTick_DispatchesAndAdvancesSchedule(t *testing.T) {
	due := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC) // Monday
	now := time.Date(2025, time.March, 10, 9, 5, 0, 0, time.UTC)

	store := newFakeEvalStore(weeklyNotification("n-1", due))
	email := &fakeChannel{channel: ChannelEmail, result: DeliveryResult{Success: true}}
	publisher := &fakePublisher{}
	e := newTestEvaluator(store, &fakeResolver{recipients: testRecipients}, &fakeBuilder{}, []Channel{email}, publisher, now)

	require.NoError(t, e.Tick(context.Background(), now))

	assert.Equal(t, 1, email.sendCount())

	applied := store.appliedUpdates("n-1")
	require.Len(t, applied, 1)
	require.NotNil(t, applied[0].lastSent)
	assert.True(t, applied[0].lastSent.Equal(now))
	// Weekly from Monday: always a full week forward, never same-day.
	assert.Equal(t, time.Date(2025, time.March, 17, 9, 0, 0, 0, time.UTC), applied[0].nextSend)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "n-1", publisher.events[0].NotificationID)
	assert.True(t, publisher.events[0].Success)
	assert.False(t, publisher.events[0].Manual)
}

func TestTick_FailedChannelStillAdvancesWithoutLastSent(t *testing.T) {
	due := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 10, 9, 5, 0, 0, time.UTC)

	store := newFakeEvalStore(weeklyNotification("n-1", due))
	email := &fakeChannel{channel: ChannelEmail, result: DeliveryResult{Success: false, ErrorMessage: "provider returned 500"}}
	e := newTestEvaluator(store, &fakeResolver{recipients: testRecipients}, &fakeBuilder{}, []Channel{email}, nil, now)

	require.NoError(t, e.Tick(context.Background(), now))

	// No retry in the same tick: exactly one attempt.
	assert.Equal(t, 1, email.sendCount())

	applied := store.appliedUpdates("n-1")
	require.Len(t, applied, 1)
	assert.Nil(t, applied[0].lastSent, "last_sent must not move when every channel failed")
	assert.Equal(t, time.Date(2025, time.March, 17, 9, 0, 0, 0, time.UTC), applied[0].nextSend)
}

func TestTick_NoRecipientsAdvancesWithoutSending(t *testing.T) {
	due := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 10, 9, 5, 0, 0, time.UTC)

	store := newFakeEvalStore(weeklyNotification("n-1", due))
	email := &fakeChannel{channel: ChannelEmail, result: DeliveryResult{Success: true}}
	e := newTestEvaluator(store, &fakeResolver{}, &fakeBuilder{}, []Channel{email}, nil, now)

	require.NoError(t, e.Tick(context.Background(), now))

	assert.Equal(t, 0, email.sendCount())

	applied := store.appliedUpdates("n-1")
	require.Len(t, applied, 1)
	assert.Nil(t, applied[0].lastSent)
	assert.Equal(t, time.Date(2025, time.March, 17, 9, 0, 0, 0, time.UTC), applied[0].nextSend)
}

func TestTick_ResolutionErrorLeavesScheduleAlone(t *testing.T) {
	due := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 10, 9, 5, 0, 0, time.UTC)

	store := newFakeEvalStore(weeklyNotification("n-1", due))
	email := &fakeChannel{channel: ChannelEmail, result: DeliveryResult{Success: true}}
	e := newTestEvaluator(store, &fakeResolver{err: errors.New("users table unavailable")}, &fakeBuilder{}, []Channel{email}, nil, now)

	require.NoError(t, e.Tick(context.Background(), now))

	assert.Equal(t, 0, email.sendCount())
	assert.Empty(t, store.allUpdates(), "schedule must not advance on a resolution error")
}

func TestTick_BuilderErrorLeavesScheduleAlone(t *testing.T) {
	due := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 10, 9, 5, 0, 0, time.UTC)

	store := newFakeEvalStore(weeklyNotification("n-1", due))
	email := &fakeChannel{channel: ChannelEmail, result: DeliveryResult{Success: true}}
	e := newTestEvaluator(store, &fakeResolver{recipients: testRecipients}, &fakeBuilder{err: errors.New("inspections query timed out")}, []Channel{email}, nil, now)

	require.NoError(t, e.Tick(context.Background(), now))

	assert.Equal(t, 0, email.sendCount())
	assert.Empty(t, store.allUpdates())
}

func TestTick_StaleSnapshotConflictIsNoOp(t *testing.T) {
	due := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 10, 9, 5, 0, 0, time.UTC)

	store := newFakeEvalStore(weeklyNotification("n-1", due))
	email := &fakeChannel{channel: ChannelEmail, result: DeliveryResult{Success: true}}
	e := newTestEvaluator(store, &fakeResolver{recipients: testRecipients}, &fakeBuilder{}, []Channel{email}, nil, now)

	// Two evaluators picked up the same due snapshot. The second one's
	// guarded update observes the already-advanced next_send and loses.
	stale := *weeklyNotification("n-1", due)

	require.NoError(t, e.Tick(context.Background(), now))
	e.process(context.Background(), &stale, now)

	updates := store.allUpdates()
	require.Len(t, updates, 2)
	assert.True(t, updates[0].applied)
	assert.False(t, updates[1].applied, "losing the race must be a silent no-op")

	final, err := store.GetByID(context.Background(), "n-1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.March, 17, 9, 0, 0, 0, time.UTC), *final.NextSend)
}

func TestTick_FailureIsolatedPerNotification(t *testing.T) {
	due := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 10, 9, 5, 0, 0, time.UTC)

	broken := weeklyNotification("n-bad", due)
	broken.SendTime = "" // malformed persisted cadence
	healthy := weeklyNotification("n-good", due)

	store := newFakeEvalStore(broken, healthy)
	email := &fakeChannel{channel: ChannelEmail, result: DeliveryResult{Success: true}}
	e := newTestEvaluator(store, &fakeResolver{recipients: testRecipients}, &fakeBuilder{}, []Channel{email}, nil, now)

	require.NoError(t, e.Tick(context.Background(), now))

	assert.Empty(t, store.appliedUpdates("n-bad"))
	assert.Len(t, store.appliedUpdates("n-good"), 1)
}

func TestTick_UnconfiguredChannelReportedAsFailure(t *testing.T) {
	due := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 10, 9, 5, 0, 0, time.UTC)

	n := weeklyNotification("n-1", due)
	n.WhatsAppEnabled = true

	store := newFakeEvalStore(n)
	email := &fakeChannel{channel: ChannelEmail, result: DeliveryResult{Success: true}}
	publisher := &fakePublisher{}
	e := newTestEvaluator(store, &fakeResolver{recipients: testRecipients}, &fakeBuilder{}, []Channel{email}, publisher, now)

	require.NoError(t, e.Tick(context.Background(), now))

	// Email succeeded, so last_sent still moves despite the missing channel.
	applied := store.appliedUpdates("n-1")
	require.Len(t, applied, 1)
	require.NotNil(t, applied[0].lastSent)
}

func TestTick_SkipsWhilePreviousPassRunning(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 5, 0, 0, time.UTC)
	store := newFakeEvalStore()
	e := newTestEvaluator(store, &fakeResolver{}, &fakeBuilder{}, nil, nil, now)

	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	require.NoError(t, e.Tick(context.Background(), now))
	assert.Equal(t, 0, store.findDueCalls, "overlapping tick must not evaluate")
}

func TestTriggerNow_DiagnosticByDefault(t *testing.T) {
	nextSend := time.Date(2025, time.March, 17, 9, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 12, 14, 0, 0, 0, time.UTC)

	store := newFakeEvalStore(weeklyNotification("n-1", nextSend))
	email := &fakeChannel{channel: ChannelEmail, result: DeliveryResult{Success: true}}
	publisher := &fakePublisher{}
	e := newTestEvaluator(store, &fakeResolver{recipients: testRecipients}, &fakeBuilder{}, []Channel{email}, publisher, now)

	outcome, err := e.TriggerNow(context.Background(), "n-1", false)
	require.NoError(t, err)

	assert.True(t, outcome.Sent)
	assert.False(t, outcome.ScheduleUpdated)
	assert.Equal(t, 2, outcome.RecipientCount)
	assert.Equal(t, 1, email.sendCount())
	assert.Empty(t, store.allUpdates(), "default manual trigger must not touch the schedule")

	require.Len(t, publisher.events, 1)
	assert.True(t, publisher.events[0].Manual)

	final, _ := store.GetByID(context.Background(), "n-1")
	assert.Nil(t, final.LastSent)
	assert.True(t, final.NextSend.Equal(nextSend))
}

func TestTriggerNow_UpdateScheduleOptIn(t *testing.T) {
	nextSend := time.Date(2025, time.March, 17, 9, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 18, 14, 0, 0, 0, time.UTC) // Tuesday

	store := newFakeEvalStore(weeklyNotification("n-1", nextSend))
	email := &fakeChannel{channel: ChannelEmail, result: DeliveryResult{Success: true}}
	e := newTestEvaluator(store, &fakeResolver{recipients: testRecipients}, &fakeBuilder{}, []Channel{email}, nil, now)

	outcome, err := e.TriggerNow(context.Background(), "n-1", true)
	require.NoError(t, err)

	assert.True(t, outcome.Sent)
	assert.True(t, outcome.ScheduleUpdated)

	final, _ := store.GetByID(context.Background(), "n-1")
	require.NotNil(t, final.LastSent)
	assert.True(t, final.LastSent.Equal(now))
	// Next Monday after the trigger instant, not after the old next_send.
	assert.Equal(t, time.Date(2025, time.March, 24, 9, 0, 0, 0, time.UTC), *final.NextSend)
}

func TestTriggerNow_NotFound(t *testing.T) {
	now := time.Date(2025, time.March, 12, 14, 0, 0, 0, time.UTC)
	store := newFakeEvalStore()
	e := newTestEvaluator(store, &fakeResolver{}, &fakeBuilder{}, nil, nil, now)

	_, err := e.TriggerNow(context.Background(), "missing", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTriggerNow_ResolutionError(t *testing.T) {
	nextSend := time.Date(2025, time.March, 17, 9, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 12, 14, 0, 0, 0, time.UTC)

	store := newFakeEvalStore(weeklyNotification("n-1", nextSend))
	e := newTestEvaluator(store, &fakeResolver{err: errors.New("users table unavailable")}, &fakeBuilder{}, nil, nil, now)

	_, err := e.TriggerNow(context.Background(), "n-1", false)
	require.Error(t, err)

	var resErr *ResolutionError
	assert.True(t, errors.As(err, &resErr))
	assert.Equal(t, "n-1", resErr.NotificationID)
}
