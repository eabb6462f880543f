package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abuseflow/internal/config"
	"abuseflow/internal/logger"
	"abuseflow/pkg/models"
)

type fakeRecordRepo struct {
	mu      sync.Mutex
	records []*Record
}

func (r *fakeRecordRepo) Insert(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records = append(r.records, &cp)
	return nil
}

func (r *fakeRecordRepo) ListByTicket(ctx context.Context, ticketID string) ([]*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Record
	for _, rec := range r.records {
		if rec.TicketID == ticketID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeRecordRepo) CountByStatus(ctx context.Context) (map[RecordStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[RecordStatus]int)
	for _, rec := range r.records {
		counts[rec.Status]++
	}
	return counts, nil
}

func (r *fakeRecordRepo) byChannel(channel string) []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Record
	for _, rec := range r.records {
		if rec.Channel == channel {
			out = append(out, rec)
		}
	}
	return out
}

type fakeChannel struct {
	name    string
	enabled bool
	send    func(ctx context.Context, event models.TicketEvent) error

	mu    sync.Mutex
	calls int
}

func (c *fakeChannel) Name() string  { return c.name }
func (c *fakeChannel) Enabled() bool { return c.enabled }

func (c *fakeChannel) Send(ctx context.Context, event models.TicketEvent) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.send == nil {
		return nil
	}
	return c.send(ctx, event)
}

func (c *fakeChannel) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testNotificationsConfig() config.NotificationsConfig {
	return config.NotificationsConfig{
		SendTimeout:    100 * time.Millisecond,
		MaxParallelism: 4,
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2.0,
			MaxElapsedTime:  time.Second,
		},
	}
}

func event(ticketID string) models.TicketEvent {
	return models.TicketEvent{
		TicketID:  ticketID,
		Status:    "analyzed",
		Priority:  models.PriorityHigh,
		Summary:   "phishing campaign reported",
		Timestamp: time.Now().UTC(),
	}
}

func TestDispatchAllChannelsSucceed(t *testing.T) {
	repo := &fakeRecordRepo{}
	ok1 := &fakeChannel{name: "realtime", enabled: true}
	ok2 := &fakeChannel{name: "messaging", enabled: true}

	d := NewDispatcher([]Channel{ok1, ok2}, repo, testNotificationsConfig(), logger.NopLogger())
	summary := d.Dispatch(context.Background(), "t-1", event("t-1"))

	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, 0, summary.Failed)
	assert.True(t, summary.Delivered())
	assert.Equal(t, 1, ok1.sendCount())
	assert.Equal(t, 1, ok2.sendCount())

	records, err := repo.ListByTicket(context.Background(), "t-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, StatusSent, rec.Status)
		assert.Equal(t, 1, rec.Attempt)
	}
}

func TestDispatchDisabledChannelRecordedOnce(t *testing.T) {
	repo := &fakeRecordRepo{}
	disabled := &fakeChannel{name: "messaging", enabled: false}
	enabled := &fakeChannel{name: "realtime", enabled: true}

	d := NewDispatcher([]Channel{disabled, enabled}, repo, testNotificationsConfig(), logger.NopLogger())
	summary := d.Dispatch(context.Background(), "t-2", event("t-2"))

	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, summary.Disabled)
	assert.True(t, summary.Delivered())
	assert.Equal(t, 0, disabled.sendCount(), "disabled channel must never be invoked")

	records := repo.byChannel("messaging")
	require.Len(t, records, 1)
	assert.Equal(t, StatusDisabled, records[0].Status)
}

func TestDispatchAllDisabled(t *testing.T) {
	repo := &fakeRecordRepo{}
	d := NewDispatcher([]Channel{
		&fakeChannel{name: "realtime", enabled: false},
		&fakeChannel{name: "messaging", enabled: false},
	}, repo, testNotificationsConfig(), logger.NopLogger())

	summary := d.Dispatch(context.Background(), "t-3", event("t-3"))

	assert.Equal(t, 0, summary.Sent)
	assert.Equal(t, 2, summary.Disabled)
	assert.True(t, summary.Delivered(), "nothing to deliver counts as delivered")
}

func TestDispatchFailingChannelIsolated(t *testing.T) {
	repo := &fakeRecordRepo{}
	failing := &fakeChannel{
		name:    "messaging",
		enabled: true,
		send: func(ctx context.Context, event models.TicketEvent) error {
			return errors.New("broker unreachable")
		},
	}
	healthy := &fakeChannel{name: "realtime", enabled: true}

	d := NewDispatcher([]Channel{failing, healthy}, repo, testNotificationsConfig(), logger.NopLogger())
	summary := d.Dispatch(context.Background(), "t-4", event("t-4"))

	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, summary.Delivered(), "one healthy channel is enough")

	// Bounded retries: one failed record per attempt.
	failedRecords := repo.byChannel("messaging")
	require.Len(t, failedRecords, 3)
	for _, rec := range failedRecords {
		assert.Equal(t, StatusFailed, rec.Status)
		assert.Contains(t, rec.Detail, "broker unreachable")
	}
	assert.Equal(t, 3, failing.sendCount())

	healthyRecords := repo.byChannel("realtime")
	require.Len(t, healthyRecords, 1)
	assert.Equal(t, StatusSent, healthyRecords[0].Status)
}

func TestDispatchAllEnabledFail(t *testing.T) {
	repo := &fakeRecordRepo{}
	failing := &fakeChannel{
		name:    "realtime",
		enabled: true,
		send: func(ctx context.Context, event models.TicketEvent) error {
			return errors.New("stream closed")
		},
	}

	d := NewDispatcher([]Channel{failing}, repo, testNotificationsConfig(), logger.NopLogger())
	summary := d.Dispatch(context.Background(), "t-5", event("t-5"))

	assert.Equal(t, 0, summary.Sent)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.Delivered())
}

func TestDispatchEarlyBackoffCutoffRecordsAttemptOnce(t *testing.T) {
	repo := &fakeRecordRepo{}
	failing := &fakeChannel{
		name:    "messaging",
		enabled: true,
		send: func(ctx context.Context, event models.TicketEvent) error {
			return errors.New("broker unreachable")
		},
	}

	// The elapsed-time cutoff fires before the next retry sleep, so the loop
	// stops after one send with the attempt already recorded by the retry
	// observer.
	cfg := testNotificationsConfig()
	cfg.Retry.MaxAttempts = 5
	cfg.Retry.InitialInterval = 30 * time.Millisecond
	cfg.Retry.MaxInterval = 30 * time.Millisecond
	cfg.Retry.MaxElapsedTime = 10 * time.Millisecond

	d := NewDispatcher([]Channel{failing}, repo, cfg, logger.NopLogger())
	summary := d.Dispatch(context.Background(), "t-7", event("t-7"))

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, failing.sendCount())

	records := repo.byChannel("messaging")
	require.Len(t, records, 1, "one record per attempt, even when backoff stops early")
	assert.Equal(t, StatusFailed, records[0].Status)
	assert.Equal(t, 1, records[0].Attempt)
}

func TestDispatchHangingChannelTimesOut(t *testing.T) {
	repo := &fakeRecordRepo{}
	hanging := &fakeChannel{
		name:    "messaging",
		enabled: true,
		send: func(ctx context.Context, event models.TicketEvent) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	healthy := &fakeChannel{name: "realtime", enabled: true}

	cfg := testNotificationsConfig()
	cfg.SendTimeout = 10 * time.Millisecond
	cfg.Retry.MaxAttempts = 1

	d := NewDispatcher([]Channel{hanging, healthy}, repo, cfg, logger.NopLogger())

	start := time.Now()
	summary := d.Dispatch(context.Background(), "t-6", event("t-6"))
	elapsed := time.Since(start)

	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, summary.Failed)
	assert.Less(t, elapsed, time.Second, "hanging channel must be bounded by the send timeout")

	records := repo.byChannel("realtime")
	require.Len(t, records, 1)
	assert.Equal(t, StatusSent, records[0].Status)
}
