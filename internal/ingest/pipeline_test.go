package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abuseflow/internal/analysis"
	"abuseflow/internal/archive"
	"abuseflow/internal/broadcast"
	"abuseflow/internal/config"
	"abuseflow/internal/constants"
	"abuseflow/internal/dedup"
	"abuseflow/internal/logger"
	"abuseflow/internal/mailbox"
	"abuseflow/internal/notify"
	"abuseflow/internal/ticket"
	"abuseflow/pkg/circuitbreaker"
	pkgerrors "abuseflow/pkg/errors"
	"abuseflow/pkg/models"
)

// fakeSource serves canned messages and records which UIDs were marked seen.
type fakeSource struct {
	mu       sync.Mutex
	messages []mailbox.RawMessage
	seen     map[uint32]bool
	fetchErr error
	block    chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{seen: make(map[uint32]bool)}
}

func (s *fakeSource) FetchUnseen(ctx context.Context) ([]mailbox.RawMessage, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []mailbox.RawMessage
	for _, m := range s.messages {
		if !s.seen[m.UID] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeSource) MarkSeen(ctx context.Context, uids []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uid := range uids {
		s.seen[uid] = true
	}
	return nil
}

func (s *fakeSource) Close() error { return nil }

func (s *fakeSource) isSeen(uid uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[uid]
}

type fakeTicketRepo struct {
	mu      sync.Mutex
	tickets map[string]*ticket.Ticket
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: make(map[string]*ticket.Ticket)}
}

func (r *fakeTicketRepo) Insert(ctx context.Context, t *ticket.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tickets[t.ID] = &cp
	return nil
}

func (r *fakeTicketRepo) GetByID(ctx context.Context, id string) (*ticket.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTicketRepo) GetBySourceMessageID(ctx context.Context, messageID string) (*ticket.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tickets {
		if t.SourceMessageID == messageID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, pkgerrors.ErrNotFound
}

func (r *fakeTicketRepo) UpdateStatus(ctx context.Context, id string, from, to ticket.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	return true, nil
}

func (r *fakeTicketRepo) SetAnalysisResult(ctx context.Context, id string, result json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tickets[id]; ok {
		t.AnalysisResult = result
	}
	return nil
}

func (r *fakeTicketRepo) ListRecent(ctx context.Context, limit int) ([]*ticket.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ticket.Ticket
	for _, t := range r.tickets {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeTicketRepo) CountByStatus(ctx context.Context) (map[ticket.Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[ticket.Status]int)
	for _, t := range r.tickets {
		counts[t.Status]++
	}
	return counts, nil
}

func (r *fakeTicketRepo) all() []*ticket.Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ticket.Ticket
	for _, t := range r.tickets {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

type fakeDedupRepo struct {
	mu      sync.Mutex
	entries map[string]bool
}

func newFakeDedupRepo() *fakeDedupRepo {
	return &fakeDedupRepo{entries: make(map[string]bool)}
}

func (r *fakeDedupRepo) InsertIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[key] {
		return false, nil
	}
	r.entries[key] = true
	return true, nil
}

func (r *fakeDedupRepo) CountEntries(ctx context.Context, prefix string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries), nil
}

type fakeArchive struct {
	mu   sync.Mutex
	docs []archive.Document
}

func (a *fakeArchive) Store(ctx context.Context, doc archive.Document) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.docs = append(a.docs, doc)
	return nil
}

func (a *fakeArchive) ListRecent(ctx context.Context, limit int) ([]archive.Document, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]archive.Document(nil), a.docs...), nil
}

func (a *fakeArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.docs)
}

type fakeNotifyRepo struct {
	mu      sync.Mutex
	records []*notify.Record
}

func (r *fakeNotifyRepo) Insert(ctx context.Context, rec *notify.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records = append(r.records, &cp)
	return nil
}

func (r *fakeNotifyRepo) ListByTicket(ctx context.Context, ticketID string) ([]*notify.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*notify.Record
	for _, rec := range r.records {
		if rec.TicketID == ticketID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeNotifyRepo) CountByStatus(ctx context.Context) (map[notify.RecordStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[notify.RecordStatus]int)
	for _, rec := range r.records {
		counts[rec.Status]++
	}
	return counts, nil
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	err      error
	panicMsg string
	calls    int
	result   analysis.Result
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, subject, body string) (analysis.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.panicMsg != "" {
		panic(a.panicMsg)
	}
	if a.err != nil {
		return analysis.Result{}, a.err
	}
	return a.result, nil
}

type recordingChannel struct {
	mu     sync.Mutex
	events []models.TicketEvent
}

func (c *recordingChannel) Name() string  { return "recording" }
func (c *recordingChannel) Enabled() bool { return true }

func (c *recordingChannel) Send(ctx context.Context, event models.TicketEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *recordingChannel) received() []models.TicketEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.TicketEvent(nil), c.events...)
}

type pipelineFixture struct {
	source   *fakeSource
	tickets  *fakeTicketRepo
	archive  *fakeArchive
	channel  *recordingChannel
	analyzer *fakeAnalyzer
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	source := newFakeSource()
	ticketRepo := newFakeTicketRepo()
	archiveRepo := &fakeArchive{}
	channel := &recordingChannel{}
	analyzer := &fakeAnalyzer{result: analysis.Result{ThreatAssessment: "spam complaint", UrgencyLevel: "medium"}}

	filter, err := mailbox.NewFilter([]string{"reporter@provider.example.com"}, "")
	require.NoError(t, err)

	retryCfg := config.RetryConfig{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2.0,
		MaxElapsedTime:  time.Second,
	}

	analyzerDispatcher := analysis.NewDispatcher(analyzer, config.AnalysisConfig{
		RateLimit: 1000,
		RateBurst: 100,
		Retry:     retryCfg,
	}, circuitbreaker.NewWrapper(circuitbreaker.Config{
		Name:         "pipeline-test",
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.99,
		MinRequests:  100,
	}), logger.NopLogger())

	broadcaster := broadcast.NewBroadcaster(16, logger.NopLogger())
	t.Cleanup(broadcaster.Close)

	notifier := notify.NewDispatcher(
		[]notify.Channel{channel},
		&fakeNotifyRepo{},
		config.NotificationsConfig{
			SendTimeout:    100 * time.Millisecond,
			MaxParallelism: 2,
			Retry:          retryCfg,
		},
		logger.NopLogger(),
	)

	ledger := dedup.NewLedger(newFakeDedupRepo(), config.DeduplicationConfig{OnRedisError: constants.FallbackDeny}, logger.NopLogger())
	store := ticket.NewStore(ticketRepo, logger.NopLogger())

	pipeline := NewPipeline(
		source, mailbox.NewParser(), filter, archiveRepo,
		ledger, store, analyzerDispatcher, notifier,
		broadcaster, logger.NopLogger(),
	)

	return &pipelineFixture{
		source:   source,
		tickets:  ticketRepo,
		archive:  archiveRepo,
		channel:  channel,
		analyzer: analyzer,
		pipeline: pipeline,
	}
}

func message(uid uint32, messageID string) mailbox.RawMessage {
	content := strings.ReplaceAll(`From: reporter@provider.example.com
To: abuse@host.example.com
Subject: Spam complaint
Message-ID: <`+messageID+`>
Date: Sun, 01 Mar 2026 10:30:00 +0000
Content-Type: text/plain; charset=utf-8

Spam was sent from your network.
`, "\n", "\r\n")
	return mailbox.RawMessage{
		UID:       uid,
		Raw:       []byte(content),
		FetchedAt: time.Now().UTC(),
	}
}

func TestRunCycleHappyPath(t *testing.T) {
	f := newPipelineFixture(t)
	f.source.messages = []mailbox.RawMessage{message(1, "msg-1@provider.example.com")}

	created, err := f.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	tickets := f.tickets.all()
	require.Len(t, tickets, 1)
	assert.Equal(t, ticket.StatusNotified, tickets[0].Status)
	assert.Equal(t, "msg-1@provider.example.com", tickets[0].SourceMessageID)
	assert.NotEmpty(t, tickets[0].AnalysisResult)

	assert.True(t, f.source.isSeen(1), "processed message must be marked seen")
	assert.Equal(t, 1, f.archive.count())

	events := f.channel.received()
	require.Len(t, events, 1)
	assert.Equal(t, tickets[0].ID, events[0].TicketID)
	assert.Contains(t, events[0].Summary, "spam complaint")
}

func TestRunCycleRedeliveryCreatesOneTicket(t *testing.T) {
	f := newPipelineFixture(t)
	f.source.messages = []mailbox.RawMessage{message(1, "msg-1@provider.example.com")}

	created, err := f.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	// Redelivery: same message comes back unseen with a new UID.
	f.source.messages = append(f.source.messages, message(2, "msg-1@provider.example.com"))

	created, err = f.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, created, "duplicate must not create a second ticket")

	assert.Len(t, f.tickets.all(), 1)
	assert.True(t, f.source.isSeen(2), "duplicate is still marked seen")
}

func TestRunCycleUnparseableMessageArchivedAndSkipped(t *testing.T) {
	f := newPipelineFixture(t)
	f.source.messages = []mailbox.RawMessage{
		{UID: 7, Raw: []byte("complete garbage"), FetchedAt: time.Now().UTC()},
	}

	created, err := f.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	assert.Empty(t, f.tickets.all())
	assert.Equal(t, 1, f.archive.count(), "unparseable message is archived for inspection")
	assert.True(t, f.source.isSeen(7))
}

func TestRunCycleFilterRejection(t *testing.T) {
	f := newPipelineFixture(t)
	raw := message(3, "msg-3@provider.example.com")
	raw.Raw = []byte(strings.ReplaceAll(`From: stranger@evil.example.com
To: abuse@host.example.com
Subject: Spam complaint
Message-ID: <msg-3@evil.example.com>
Content-Type: text/plain

body here
`, "\n", "\r\n"))
	f.source.messages = []mailbox.RawMessage{raw}

	created, err := f.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	assert.Empty(t, f.tickets.all())
	assert.True(t, f.source.isSeen(3), "rejected message is a durable decision")
	assert.Equal(t, 0, f.archive.count(), "rejected messages are not archived")
}

func TestRunCycleAnalysisFailureMarksTicketFailed(t *testing.T) {
	f := newPipelineFixture(t)
	f.analyzer.err = errors.New("model unavailable")
	f.source.messages = []mailbox.RawMessage{message(4, "msg-4@provider.example.com")}

	created, err := f.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	tickets := f.tickets.all()
	require.Len(t, tickets, 1)
	assert.Equal(t, ticket.StatusFailed, tickets[0].Status)

	// Failure still reaches the channels so operators see it.
	events := f.channel.received()
	require.Len(t, events, 1)
	assert.Equal(t, "analysis failed", events[0].Summary)
}

func TestRunCyclePanicInTicketProcessingContained(t *testing.T) {
	f := newPipelineFixture(t)
	f.analyzer.panicMsg = "analysis client corrupted state"
	f.source.messages = []mailbox.RawMessage{message(5, "msg-5@provider.example.com")}

	var created int
	var err error
	require.NotPanics(t, func() {
		created, err = f.pipeline.RunCycle(context.Background())
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.True(t, f.source.isSeen(5), "the message outcome was already durable before the panic")
}

func TestRunCycleFetchError(t *testing.T) {
	f := newPipelineFixture(t)
	f.source.fetchErr = errors.New("connection reset")

	_, err := f.pipeline.RunCycle(context.Background())
	assert.Error(t, err)
}
