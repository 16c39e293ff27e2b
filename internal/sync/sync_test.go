package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popdesk/internal/emails"
	"popdesk/internal/gmail"
	"popdesk/internal/models"
	"popdesk/internal/tickets"
)

type fakeProvider struct {
	messages  map[string]*gmail.FullMessage
	listErr   error
	fetchErrs map[string]error
	fetches   int
}

func (f *fakeProvider) List(_ context.Context, _ string, _ int) ([]gmail.Candidate, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []gmail.Candidate
	for id, m := range f.messages {
		out = append(out, gmail.Candidate{ID: id, ThreadID: m.ThreadID})
	}
	return out, nil
}

func (f *fakeProvider) ReadFull(_ context.Context, id string) (*gmail.FullMessage, error) {
	f.fetches++
	if err, ok := f.fetchErrs[id]; ok {
		return nil, err
	}
	m, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("unknown message %s", id)
	}
	return m, nil
}

type fakeSyncStore struct {
	inserted map[string]*models.Message
	applied  map[string]bool
	lastSync *time.Time
}

func newFakeSyncStore() *fakeSyncStore {
	return &fakeSyncStore{
		inserted: make(map[string]*models.Message),
		applied:  make(map[string]bool),
	}
}

func (f *fakeSyncStore) InsertMessage(_ context.Context, msg *models.Message) (bool, error) {
	if _, ok := f.inserted[msg.ID]; ok {
		return false, nil
	}
	copied := *msg
	f.inserted[msg.ID] = &copied
	return true, nil
}

func (f *fakeSyncStore) MarkMessageApplied(_ context.Context, id string) error {
	f.applied[id] = true
	return nil
}

func (f *fakeSyncStore) FilterNewMessageIDs(_ context.Context, ids []string) ([]string, error) {
	var fresh []string
	for _, id := range ids {
		if !f.applied[id] {
			fresh = append(fresh, id)
		}
	}
	return fresh, nil
}

func (f *fakeSyncStore) GetLastSyncAt(_ context.Context) (*time.Time, error) { return f.lastSync, nil }

func (f *fakeSyncStore) SetLastSyncAt(_ context.Context, at time.Time) error {
	f.lastSync = &at
	return nil
}

func (f *fakeSyncStore) MessageCount(_ context.Context) (int, error) { return len(f.inserted), nil }
func (f *fakeSyncStore) TicketCount(_ context.Context) (int, error)  { return 0, nil }

// appliedEvent records one call into the ticket engine, in order.
type appliedEvent struct {
	direction string
	id        string
	customer  string
	subject   string
}

type fakeApplier struct {
	events []appliedEvent
}

func (f *fakeApplier) ApplyInbound(_ context.Context, msg *models.Message, customerEmail, subject string) (*tickets.InboundResult, error) {
	f.events = append(f.events, appliedEvent{direction: "inbound", id: msg.ID, customer: customerEmail, subject: subject})
	return &tickets.InboundResult{Created: true}, nil
}

func (f *fakeApplier) ApplyOutbound(_ context.Context, msg *models.Message, _ []string) (int, error) {
	f.events = append(f.events, appliedEvent{direction: "outbound", id: msg.ID})
	return 1, nil
}

func (f *fakeApplier) Reconcile(_ context.Context) (int, error) { return 0, nil }

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testClassifier() *emails.Classifier {
	return emails.NewClassifier([]string{"support@popup.city", "@popup.city"})
}

func newTestOrchestrator(provider *fakeProvider, store *fakeSyncStore, applier *fakeApplier) *Orchestrator {
	return NewOrchestrator(provider, store, applier, testClassifier(), Options{})
}

func TestSync_NotConfigured(t *testing.T) {
	o := NewOrchestrator(nil, newFakeSyncStore(), &fakeApplier{}, testClassifier(), Options{})

	_, err := o.Sync(context.Background(), false)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSync_InboundProcessedBeforeOutbound(t *testing.T) {
	provider := &fakeProvider{messages: map[string]*gmail.FullMessage{
		// Outbound timestamped before the inbound: partitioning must still
		// run the inbound first.
		"out-1": {
			ID: "out-1", ThreadID: "T1",
			From: "Support <support@popup.city>", To: "jane@x.com",
			Subject: "Re: Help", PlainBody: "On it", Timestamp: base,
		},
		"in-1": {
			ID: "in-1", ThreadID: "T1",
			From: "Jane <jane@x.com>", To: "support@popup.city",
			Subject: "Help", PlainBody: "I lost my badge", Timestamp: base.Add(time.Hour),
		},
	}}
	store := newFakeSyncStore()
	applier := &fakeApplier{}

	result, err := newTestOrchestrator(provider, store, applier).Sync(context.Background(), false)
	require.NoError(t, err)

	require.Len(t, applier.events, 2)
	assert.Equal(t, "inbound", applier.events[0].direction)
	assert.Equal(t, "in-1", applier.events[0].id)
	assert.Equal(t, "jane@x.com", applier.events[0].customer)
	assert.Equal(t, "outbound", applier.events[1].direction)

	assert.Equal(t, 2, result.MessagesProcessed)
	assert.Equal(t, 2, result.MessagesInserted)
	assert.Equal(t, 1, result.TicketsCreated)
	assert.Empty(t, result.Errors)
	assert.True(t, store.applied["in-1"])
	assert.True(t, store.applied["out-1"])
	assert.NotNil(t, store.lastSync)
}

func TestSync_DedupSkipsAppliedMessages(t *testing.T) {
	provider := &fakeProvider{messages: map[string]*gmail.FullMessage{
		"in-1": {
			ID: "in-1", ThreadID: "T1",
			From: "jane@x.com", To: "support@popup.city",
			Subject: "Help", PlainBody: "hi", Timestamp: base,
		},
	}}
	store := newFakeSyncStore()
	applier := &fakeApplier{}
	o := newTestOrchestrator(provider, store, applier)

	_, err := o.Sync(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, provider.fetches)

	// Second pass over the same mailbox fetches and applies nothing.
	result, err := o.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.fetches)
	assert.Equal(t, 0, result.MessagesProcessed)
	assert.Len(t, applier.events, 1)
}

func TestSync_FetchFailureIsPartial(t *testing.T) {
	provider := &fakeProvider{
		messages: map[string]*gmail.FullMessage{
			"in-1": {
				ID: "in-1", ThreadID: "T1",
				From: "jane@x.com", Subject: "Help", PlainBody: "hi", Timestamp: base,
			},
			"in-2": {
				ID: "in-2", ThreadID: "T2",
				From: "bob@x.com", Subject: "Other", PlainBody: "hey", Timestamp: base,
			},
		},
		fetchErrs: map[string]error{"in-2": errors.New("rate limited")},
	}
	store := newFakeSyncStore()
	applier := &fakeApplier{}

	result, err := newTestOrchestrator(provider, store, applier).Sync(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.MessagesProcessed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "in-2")
	assert.Len(t, applier.events, 1)
}

func TestSync_StaffForwardBecomesInbound(t *testing.T) {
	body := "---------- Forwarded message ----------\n" +
		"From: Jane Doe <jane@x.com>\n" +
		"Subject: Help\n\n" +
		"I lost my badge"
	provider := &fakeProvider{messages: map[string]*gmail.FullMessage{
		"fwd-1": {
			ID: "fwd-1", ThreadID: "T1",
			From: "Alice <alice@popup.city>", To: "support@popup.city",
			Subject: "Fwd: Help", PlainBody: body, Timestamp: base,
		},
	}}
	store := newFakeSyncStore()
	applier := &fakeApplier{}

	result, err := newTestOrchestrator(provider, store, applier).Sync(context.Background(), false)
	require.NoError(t, err)

	require.Len(t, applier.events, 1)
	assert.Equal(t, "inbound", applier.events[0].direction)
	assert.Equal(t, "jane@x.com", applier.events[0].customer)
	assert.Equal(t, "Help", applier.events[0].subject)
	assert.Equal(t, 1, result.TicketsCreated)
	assert.Equal(t, models.DirectionInbound, store.inserted["fwd-1"].Direction)
}

func TestSync_InternalForwardNeverTouchesTickets(t *testing.T) {
	body := "---------- Forwarded message ----------\n" +
		"From: Bob <bob@popup.city>\n\n" +
		"internal thing"
	provider := &fakeProvider{messages: map[string]*gmail.FullMessage{
		"fwd-1": {
			ID: "fwd-1", ThreadID: "T1",
			From: "alice@popup.city", Subject: "Fwd: internal thing",
			PlainBody: body, Timestamp: base,
		},
	}}
	store := newFakeSyncStore()
	applier := &fakeApplier{}

	result, err := newTestOrchestrator(provider, store, applier).Sync(context.Background(), false)
	require.NoError(t, err)

	assert.Empty(t, applier.events)
	assert.Equal(t, 0, result.TicketsCreated)
	// Still persisted for audit, and marked so it is never refetched.
	assert.Contains(t, store.inserted, "fwd-1")
	assert.True(t, store.applied["fwd-1"])
}

func TestSync_NoiseExcludedFromTickets(t *testing.T) {
	provider := &fakeProvider{messages: map[string]*gmail.FullMessage{
		"bounce-1": {
			ID: "bounce-1", ThreadID: "T1",
			From: "mailer-daemon@googlemail.com", Subject: "Delivery Status Notification",
			PlainBody: "bounced", Timestamp: base,
		},
	}}
	store := newFakeSyncStore()
	applier := &fakeApplier{}

	_, err := newTestOrchestrator(provider, store, applier).Sync(context.Background(), false)
	require.NoError(t, err)

	assert.Empty(t, applier.events)
	assert.Contains(t, store.inserted, "bounce-1")
	assert.True(t, store.inserted["bounce-1"].IsNoise)
}

func TestBuildQuery(t *testing.T) {
	store := newFakeSyncStore()
	o := newTestOrchestrator(&fakeProvider{}, store, &fakeApplier{})
	ctx := context.Background()

	// Full backfill lists everything.
	query, err := o.buildQuery(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "", query)

	// No watermark yet: bounded window.
	query, err = o.buildQuery(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "newer_than:7d", query)

	// Watermark present: incremental with an hour of overlap.
	last := base
	store.lastSync = &last
	query, err = o.buildQuery(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("after:%d", base.Add(-time.Hour).Unix()), query)
}

func TestStatus(t *testing.T) {
	store := newFakeSyncStore()
	last := base
	store.lastSync = &last
	store.inserted["m1"] = &models.Message{ID: "m1"}

	status, err := newTestOrchestrator(&fakeProvider{}, store, &fakeApplier{}).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &last, status.LastSyncAt)
	assert.Equal(t, 1, status.MessageCount)
}

func TestNormalize_PrefersPlainAndStripsQuotes(t *testing.T) {
	o := newTestOrchestrator(&fakeProvider{}, newFakeSyncStore(), &fakeApplier{})

	msg := o.normalize(&gmail.FullMessage{
		ID: "m1", ThreadID: "T1",
		From: "Jane <jane@x.com>", To: "Support <support@popup.city>, other@x.com",
		Subject:   "Help",
		PlainBody: "New content here\n\nOn Mon, Mar 2, 2026 at 9:00 AM Support wrote:\n> old reply",
		Timestamp: base,
	})

	assert.Equal(t, "jane@x.com", msg.FromAddr)
	assert.Equal(t, "support@popup.city,other@x.com", msg.ToAddrs)
	assert.Equal(t, "New content here", msg.Body)
	assert.Equal(t, models.DirectionInbound, msg.Direction)
}

func TestNormalize_HTMLFallback(t *testing.T) {
	o := newTestOrchestrator(&fakeProvider{}, newFakeSyncStore(), &fakeApplier{})

	msg := o.normalize(&gmail.FullMessage{
		ID: "m1", ThreadID: "T1", From: "jane@x.com",
		HTMLBody:  "<div>First line</div><div>Second line</div>",
		Timestamp: base,
	})

	assert.Equal(t, "First line\nSecond line", msg.Body)
}
