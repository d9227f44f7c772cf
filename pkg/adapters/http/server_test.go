package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/sessionsync/pkg/adapters/memory"
	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/aretw0/sessionsync/pkg/observability"
	"github.com/aretw0/sessionsync/pkg/sessions"
	"github.com/aretw0/sessionsync/pkg/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestHandler(t *testing.T, opts ...Option) (http.Handler, *sessions.Collection, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	coll := sessions.New(store)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewHandler(coll, opts...), coll, store
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRefreshThenGet(t *testing.T) {
	h, _, _ := newTestHandler(t)
	owner := domain.Principal{Name: "alice@admin"}
	id := domain.NewLogicalSessionID(&owner)

	w := do(t, h, http.MethodPost, "/v1/refresh", RefreshRequest{
		Sessions: []SessionInput{{ID: id.String(), User: owner.Name}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var count CountResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&count))
	assert.Equal(t, 1, count.Count)

	w = do(t, h, http.MethodGet, "/v1/sessions/"+id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got SessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, id.String(), got.ID)
	assert.Equal(t, owner.Name, got.User)
	assert.True(t, got.LastUse.Equal(fixedNow))
}

func TestRefresh_ExplicitTime(t *testing.T) {
	h, coll, _ := newTestHandler(t)
	id := domain.NewLogicalSessionID(nil)
	at := fixedNow.Add(-time.Hour)

	w := do(t, h, http.MethodPost, "/v1/refresh", RefreshRequest{Sessions: []SessionInput{{ID: id.String()}}, RefreshTime: &at})
	require.Equal(t, http.StatusOK, w.Code)

	rec, err := coll.FetchRecord(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, rec.LastUse.Equal(at))
}

func TestRefresh_OwnerMismatch(t *testing.T) {
	h, _, _ := newTestHandler(t)
	id := domain.NewLogicalSessionID(&domain.Principal{Name: "alice"})

	w := do(t, h, http.MethodPost, "/v1/refresh", RefreshRequest{Sessions: []SessionInput{{ID: id.String(), User: "mallory"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBadInput(t *testing.T) {
	h, _, _ := newTestHandler(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"Malformed JSON", http.MethodPost, "/v1/refresh", "{"},
		{"Unknown Field", http.MethodPost, "/v1/remove", `{"sessions": []}`},
		{"Bad ID In Body", http.MethodPost, "/v1/remove", `{"ids": ["nope"]}`},
		{"Bad ID In Path", http.MethodGet, "/v1/sessions/nope", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestGetSession_NotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := do(t, h, http.MethodGet, "/v1/sessions/"+domain.NewLogicalSessionID(nil).String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSession_Malformed(t *testing.T) {
	h, coll, store := newTestHandler(t)
	id := domain.NewLogicalSessionID(nil)
	doc, err := bson.Marshal(bson.D{{Key: wire.FieldID, Value: wire.IDDocument(id)}})
	require.NoError(t, err)
	require.NoError(t, store.Insert(coll.Namespace(), doc))

	w := do(t, h, http.MethodGet, "/v1/sessions/"+id.String(), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "lastUse")
}

func TestTouchAndDelete_Direct(t *testing.T) {
	h, coll, _ := newTestHandler(t)
	id := domain.NewLogicalSessionID(nil)

	w := do(t, h, http.MethodPost, "/v1/sessions/"+id.String()+"/touch", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	_, err := coll.FetchRecord(context.Background(), id)
	require.NoError(t, err)

	w = do(t, h, http.MethodDelete, "/v1/sessions/"+id.String(), nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	_, err = coll.FetchRecord(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNoSuchSession)
}

func TestTouch_OwnerMismatch(t *testing.T) {
	tracker := &fakeTracker{}
	h, coll, _ := newTestHandler(t)
	queued, _, _ := newTestHandler(t, WithTracker(tracker))
	id := domain.NewLogicalSessionID(&domain.Principal{Name: "alice"})
	path := "/v1/sessions/" + id.String() + "/touch"

	w := do(t, h, http.MethodPost, path, TouchRequest{User: "mallory"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	_, err := coll.FetchRecord(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNoSuchSession)

	w = do(t, queued, http.MethodPost, path, TouchRequest{User: "mallory"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, tracker.touched)

	w = do(t, h, http.MethodPost, path, TouchRequest{User: "alice"})
	require.Equal(t, http.StatusNoContent, w.Code)
	rec, err := coll.FetchRecord(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.User.Name)
}

func TestTouch_EmptyChunkedBody(t *testing.T) {
	h, coll, _ := newTestHandler(t)
	id := domain.NewLogicalSessionID(nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id.String()+"/touch", strings.NewReader(""))
	req.ContentLength = -1
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	_, err := coll.FetchRecord(context.Background(), id)
	assert.NoError(t, err)
}

type fakeTracker struct {
	touched []domain.Record
	ended   []domain.LogicalSessionID
}

func (f *fakeTracker) Touch(rec domain.Record)         { f.touched = append(f.touched, rec) }
func (f *fakeTracker) End(id domain.LogicalSessionID) { f.ended = append(f.ended, id) }

func TestTouchAndDelete_Queued(t *testing.T) {
	tracker := &fakeTracker{}
	h, _, store := newTestHandler(t, WithTracker(tracker))
	id := domain.NewLogicalSessionID(nil)

	w := do(t, h, http.MethodPost, "/v1/sessions/"+id.String()+"/touch", TouchRequest{User: "bob"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = do(t, h, http.MethodDelete, "/v1/sessions/"+id.String(), nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, tracker.touched, 1)
	assert.Equal(t, "bob", tracker.touched[0].User.Name)
	assert.Equal(t, []domain.LogicalSessionID{id}, tracker.ended)
	assert.Zero(t, store.Commands(), "queued operations must not reach the store")
}

type brokenEngine struct {
	*sessions.Collection
	err error
}

func (b brokenEngine) RemoveRecords(ctx context.Context, ids domain.IDSet) error { return b.err }
func (b brokenEngine) Ping(ctx context.Context) error                           { return b.err }

func TestTransportErrorIsBadGateway(t *testing.T) {
	engine := brokenEngine{
		Collection: sessions.New(memory.NewStore()),
		err:        &domain.TransportError{Op: "delete", Message: "not primary"},
	}
	h := NewHandler(engine)

	w := do(t, h, http.MethodPost, "/v1/remove", RemoveRequest{IDs: []string{domain.NewLogicalSessionID(nil).String()}})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp.Error, "not primary")
	assert.True(t, resp.Retriable)

	w = do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	coll := sessions.New(memory.NewStore(), sessions.WithHooks(m.Hooks()))
	h := NewHandler(coll, WithGatherer(reg))

	w := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPost, "/v1/refresh", RefreshRequest{Sessions: []SessionInput{{ID: domain.NewLogicalSessionID(nil).String()}}})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `sessionsync_batches_total{kind="refresh",result="ok"} 1`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(domain.ErrNoSuchSession))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(&domain.ParseError{Field: "lastUse"}))
	assert.Equal(t, http.StatusBadGateway, StatusFor(&domain.TransportError{Op: "update"}))
	assert.Equal(t, http.StatusBadRequest, StatusFor(&domain.RecordError{Err: domain.ErrInvalidBatch}))
	assert.Equal(t, http.StatusGatewayTimeout, StatusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("other")))
}
