package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popdesk/internal/cache"
	"popdesk/internal/models"
	syncengine "popdesk/internal/sync"
	"popdesk/internal/tickets"
)

func doRequest(t *testing.T, handler echo.HandlerFunc, method, target, body string, params ...string) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for i := 0; i+1 < len(params); i += 2 {
		c.SetParamNames(params[i])
		c.SetParamValues(params[i+1])
	}

	require.NoError(t, handler(c))
	return rec
}

func TestHealthHandler(t *testing.T) {
	rec := doRequest(t, HealthHandler("1.2.3"), http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var response models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, "1.2.3", response.Version)
}

func TestDBHealthHandler_NoDatabase(t *testing.T) {
	rec := doRequest(t, DBHealthHandler(nil), http.MethodGet, "/healthz/db", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var response models.DBHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "unhealthy", response.Status)
	assert.False(t, response.Connected)
}

type fakeSyncer struct {
	result *models.SyncResult
	status *models.SyncStatus
	err    error
	full   bool
}

func (f *fakeSyncer) Sync(_ context.Context, fullBackfill bool) (*models.SyncResult, error) {
	f.full = fullBackfill
	return f.result, f.err
}

func (f *fakeSyncer) Status(_ context.Context) (*models.SyncStatus, error) {
	return f.status, f.err
}

func TestSyncHandler(t *testing.T) {
	syncer := &fakeSyncer{result: &models.SyncResult{MessagesInserted: 3, TicketsCreated: 1}}
	ticketCache := cache.New()
	ticketCache.Set("tickets::1", "stale", time.Minute)

	rec := doRequest(t, SyncHandler(syncer, ticketCache), http.MethodPost, "/api/sync?full=true", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, syncer.full)

	var response models.SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.True(t, response.Success)
	assert.Equal(t, 3, response.Result.MessagesInserted)

	// Cache invalidated so the dashboard sees fresh tickets.
	_, ok := ticketCache.Get("tickets::1")
	assert.False(t, ok)
}

func TestSyncHandler_NotConfigured(t *testing.T) {
	syncer := &fakeSyncer{err: syncengine.ErrNotConfigured}

	rec := doRequest(t, SyncHandler(syncer, cache.New()), http.MethodPost, "/api/sync", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not configured")
}

func TestSyncStatusHandler_Caches(t *testing.T) {
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	syncer := &fakeSyncer{status: &models.SyncStatus{LastSyncAt: &last, MessageCount: 10, TicketCount: 4}}
	statusCache := cache.New()

	handler := SyncStatusHandler(syncer, statusCache)
	rec := doRequest(t, handler, http.MethodGet, "/api/sync/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Second request is served from cache even if the syncer now fails.
	syncer.err = errors.New("db down")
	rec = doRequest(t, handler, http.MethodGet, "/api/sync/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\"message_count\":10")
}

type fakeTicketStore struct {
	tickets    map[string]*models.Ticket
	listResult []models.Ticket
	activities []models.Activity
	messages   []models.Message
	orders     []models.OrderItem
}

func (f *fakeTicketStore) ListTickets(_ context.Context, _ string, _, _ int) ([]models.Ticket, error) {
	return f.listResult, nil
}

func (f *fakeTicketStore) CountTickets(_ context.Context, _ string) (int, error) {
	return len(f.listResult), nil
}

func (f *fakeTicketStore) GetTicketByKey(_ context.Context, key string) (*models.Ticket, error) {
	return f.tickets[key], nil
}

func (f *fakeTicketStore) ListActivities(_ context.Context, _ string) ([]models.Activity, error) {
	return f.activities, nil
}

func (f *fakeTicketStore) GetMessagesByThread(_ context.Context, _ string) ([]models.Message, error) {
	return f.messages, nil
}

func (f *fakeTicketStore) GetOrderItemsByEmail(_ context.Context, _ string) ([]models.OrderItem, error) {
	return f.orders, nil
}

type fakeActions struct {
	err     error
	lastKey string
	lastAct string
}

func (f *fakeActions) call(key, actor string) (*models.Ticket, error) {
	f.lastKey, f.lastAct = key, actor
	if f.err != nil {
		return nil, f.err
	}
	return &models.Ticket{Key: key}, nil
}

func (f *fakeActions) Claim(_ context.Context, key, actor string) (*models.Ticket, error) {
	return f.call(key, actor)
}

func (f *fakeActions) Unclaim(_ context.Context, key, actor string) (*models.Ticket, error) {
	return f.call(key, actor)
}

func (f *fakeActions) MarkResponded(_ context.Context, key, actor string) (*models.Ticket, error) {
	return f.call(key, actor)
}

func (f *fakeActions) Reopen(_ context.Context, key, actor string) (*models.Ticket, error) {
	return f.call(key, actor)
}

func (f *fakeActions) RecordResponse(_ context.Context, key, actor string, _ time.Time) (*models.Ticket, error) {
	return f.call(key, actor)
}

func TestListTicketsHandler(t *testing.T) {
	store := &fakeTicketStore{listResult: []models.Ticket{
		{Key: "k1", CustomerEmail: "jane@x.com", Status: models.StatusAwaitingTeam},
	}}

	rec := doRequest(t, ListTicketsHandler(store, cache.New()), http.MethodGet, "/api/tickets", "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var response models.TicketListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, 1, response.Total)
	assert.Equal(t, "k1", response.Tickets[0].Key)
}

func TestGetTicketHandler_NotFound(t *testing.T) {
	store := &fakeTicketStore{tickets: map[string]*models.Ticket{}}

	rec := doRequest(t, GetTicketHandler(store), http.MethodGet, "/api/tickets/missing", "", "key", "missing")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClaimHandler(t *testing.T) {
	actions := &fakeActions{}

	rec := doRequest(t, ClaimHandler(actions, cache.New()),
		http.MethodPost, "/api/tickets/k1/claim", `{"actor":"alice"}`, "key", "k1")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "k1", actions.lastKey)
	assert.Equal(t, "alice", actions.lastAct)
}

func TestClaimHandler_Conflict(t *testing.T) {
	actions := &fakeActions{err: tickets.ErrAlreadyClaimed}

	rec := doRequest(t, ClaimHandler(actions, cache.New()),
		http.MethodPost, "/api/tickets/k1/claim", `{"actor":"bob"}`, "key", "k1")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestClaimHandler_MissingActor(t *testing.T) {
	rec := doRequest(t, ClaimHandler(&fakeActions{}, cache.New()),
		http.MethodPost, "/api/tickets/k1/claim", `{}`, "key", "k1")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeSender struct {
	raw      []byte
	threadID string
	err      error
}

func (f *fakeSender) SendRaw(_ context.Context, raw []byte, threadID string) (string, error) {
	f.raw, f.threadID = raw, threadID
	return "sent-1", f.err
}

func TestReplyHandler(t *testing.T) {
	mid := "<orig-1@x.com>"
	store := &fakeTicketStore{
		tickets: map[string]*models.Ticket{
			"k1": {Key: "k1", ThreadID: "T1", CustomerEmail: "jane@x.com", Subject: "Help"},
		},
		messages: []models.Message{
			{ID: "m1", Direction: models.DirectionInbound, MessageID: &mid},
		},
	}
	actions := &fakeActions{}
	sender := &fakeSender{}

	rec := doRequest(t, ReplyHandler(store, actions, sender, "support@popup.city", cache.New()),
		http.MethodPost, "/api/tickets/k1/reply", `{"actor":"alice","body":"On the way!"}`, "key", "k1")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "T1", sender.threadID)

	raw := string(sender.raw)
	assert.Contains(t, raw, "To: jane@x.com")
	assert.Contains(t, raw, "Subject: Re: Help")
	assert.Contains(t, raw, "In-Reply-To: <orig-1@x.com>")
	assert.Contains(t, raw, "On the way!")
	assert.Equal(t, "k1", actions.lastKey)
}

func TestReplyHandler_SendFailure(t *testing.T) {
	store := &fakeTicketStore{tickets: map[string]*models.Ticket{
		"k1": {Key: "k1", ThreadID: "T1", CustomerEmail: "jane@x.com", Subject: "Help"},
	}}
	sender := &fakeSender{err: errors.New("gmail down")}

	rec := doRequest(t, ReplyHandler(store, &fakeActions{}, sender, "support@popup.city", cache.New()),
		http.MethodPost, "/api/tickets/k1/reply", `{"actor":"alice","body":"hi"}`, "key", "k1")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

type fakeLauncher struct {
	jobName string
	image   string
	status  string
}

func (f *fakeLauncher) CreateBackfillJob(_ context.Context, jobName, image string) error {
	f.jobName, f.image = jobName, image
	return nil
}

func (f *fakeLauncher) JobStatus(_ context.Context, jobName string) (string, error) {
	if f.status == "" {
		return "", errors.New("job not found")
	}
	return f.status, nil
}

func TestBackfillHandler(t *testing.T) {
	launcher := &fakeLauncher{}

	rec := doRequest(t, BackfillHandler(launcher, "registry/popdesk:latest"),
		http.MethodPost, "/api/admin/backfill", "")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, launcher.jobName, "mailbox-backfill-")
	assert.Equal(t, "registry/popdesk:latest", launcher.image)
}

func TestBackfillHandler_NotConfigured(t *testing.T) {
	rec := doRequest(t, BackfillHandler(nil, ""), http.MethodPost, "/api/admin/backfill", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBackfillStatusHandler(t *testing.T) {
	launcher := &fakeLauncher{status: "succeeded"}

	rec := doRequest(t, BackfillStatusHandler(launcher),
		http.MethodGet, "/api/backfill/mailbox-backfill-1", "", "name", "mailbox-backfill-1")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "succeeded")
}

func TestBackfillStatusHandler_Missing(t *testing.T) {
	rec := doRequest(t, BackfillStatusHandler(&fakeLauncher{}),
		http.MethodGet, "/api/backfill/nope", "", "name", "nope")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
