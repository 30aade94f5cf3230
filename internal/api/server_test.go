package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"admoderation/internal/audit"
	"admoderation/internal/backend"
	"admoderation/internal/config"
	"admoderation/internal/console"
	"admoderation/internal/model"
	"admoderation/internal/pkg/dedup"
	"admoderation/internal/pkg/logger"
	"admoderation/internal/pkg/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type fakeBackend struct {
	mu      sync.Mutex
	ads     map[int64]model.AdStatus
	failIDs map[int64]bool
}

func newFakeBackend(ids ...int64) *fakeBackend {
	b := &fakeBackend{ads: make(map[int64]model.AdStatus), failIDs: make(map[int64]bool)}
	for _, id := range ids {
		b.ads[id] = model.StatusPending
	}
	return b
}

func (b *fakeBackend) summary(id int64) model.AdSummary {
	return model.AdSummary{ID: id, Title: "ad", CategoryID: 1, Category: "Авто", Status: b.ads[id]}
}

func (b *fakeBackend) ListAds(ctx context.Context, q model.ListQuery) (model.Page[model.AdSummary], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := make([]model.AdSummary, 0, len(b.ads))
	for id := int64(1); id <= int64(len(b.ads)); id++ {
		items = append(items, b.summary(id))
	}
	return model.Page[model.AdSummary]{Items: items, Total: len(items), Page: q.Page, PageSize: q.Limit}, nil
}

func (b *fakeBackend) GetAd(ctx context.Context, id int64) (model.AdDetails, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.ads[id]; !ok {
		return model.AdDetails{}, &backend.StatusError{StatusCode: http.StatusNotFound, Message: "Ad not found"}
	}
	return model.AdDetails{AdSummary: b.summary(id)}, nil
}

func (b *fakeBackend) SubmitDecision(ctx context.Context, id int64, d model.Decision) (model.AdDetails, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failIDs[id] {
		return model.AdDetails{}, &backend.StatusError{StatusCode: http.StatusInternalServerError, Message: "boom"}
	}
	b.ads[id] = model.StatusApproved
	return model.AdDetails{AdSummary: b.summary(id)}, nil
}

func (b *fakeBackend) Summary(ctx context.Context, q model.StatsQuery) (model.StatsSummary, error) {
	return model.StatsSummary{TotalReviewed: 1, ApprovedPercentage: 100}, nil
}

func (b *fakeBackend) Activity(ctx context.Context, q model.StatsQuery) ([]model.ActivityPoint, error) {
	return []model.ActivityPoint{}, nil
}

func (b *fakeBackend) Decisions(ctx context.Context, q model.StatsQuery) (model.DecisionTotals, error) {
	return model.DecisionTotals{Approved: 100}, nil
}

func (b *fakeBackend) Categories(ctx context.Context, q model.StatsQuery) (model.CategoryTotals, error) {
	return model.CategoryTotals{"Авто": 1}, nil
}

type fakeHistory struct {
	records []audit.DecisionRecord
}

func (f *fakeHistory) History(ctx context.Context, adID int64, limit int) ([]audit.DecisionRecord, error) {
	return f.records, nil
}

func newTestServer(t *testing.T, b *fakeBackend, opts ...Option) (*Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics(1)

	m := console.NewManager(console.Deps{Backend: b, PageSize: 10}, time.Minute, nil)
	s := NewServer(&config.Config{}, logger.Discard(), m, opts...)

	w := do(t, s, http.MethodPost, "/sessions", "", nil, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: expected 201, got %d", w.Code)
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	decode(t, w, &created)
	if created.SessionID == "" {
		t.Fatalf("expected session id")
	}
	return s, created.SessionID
}

func do(t *testing.T, s *Server, method, path, sessionID string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("X-Session-Id", sessionID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	decode(t, w, &body)
	return body.Error.Code
}

func TestSessionRequired(t *testing.T) {
	s, _ := newTestServer(t, newFakeBackend(1))

	if w := do(t, s, http.MethodGet, "/queue", "", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without session header, got %d", w.Code)
	}
	w := do(t, s, http.MethodGet, "/queue", "unknown", nil, nil)
	if w.Code != http.StatusNotFound || errorCode(t, w) != "session_not_found" {
		t.Fatalf("expected 404 session_not_found, got %d %s", w.Code, w.Body.String())
	}
}

func TestQueue_NavigateAndFilters(t *testing.T) {
	s, sid := newTestServer(t, newFakeBackend(1, 2, 3))

	w := do(t, s, http.MethodGet, "/queue?status=pending&search=bike", sid, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	var view console.View
	decode(t, w, &view)
	if len(view.Page.Items) != 3 || view.Location != "search=bike&status=pending" {
		t.Fatalf("unexpected view %+v", view)
	}

	w = do(t, s, http.MethodPut, "/queue/filters", sid, map[string]any{"statuses": []string{"unknown"}}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}

	w = do(t, s, http.MethodPut, "/queue/filters", sid, map[string]any{"sortBy": "price", "sortOrder": "asc"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	decode(t, w, &view)
	if view.Location != "sortBy=price&sortOrder=asc" {
		t.Fatalf("unexpected location %q", view.Location)
	}

	w = do(t, s, http.MethodPut, "/queue/page", sid, map[string]any{"page": 2}, nil)
	decode(t, w, &view)
	if w.Code != http.StatusOK || view.Location != "page=2&sortBy=price&sortOrder=asc" {
		t.Fatalf("unexpected page change %d %q", w.Code, view.Location)
	}

	w = do(t, s, http.MethodPost, "/queue/reset", sid, nil, nil)
	decode(t, w, &view)
	if view.Location != "" {
		t.Fatalf("expected default location after reset, got %q", view.Location)
	}
}

func TestSelection_ToggleAndNotVisible(t *testing.T) {
	s, sid := newTestServer(t, newFakeBackend(1, 2))
	do(t, s, http.MethodGet, "/queue", sid, nil, nil)

	w := do(t, s, http.MethodPost, "/selection/toggle", sid, map[string]any{"id": 99}, nil)
	if w.Code != http.StatusConflict || errorCode(t, w) != "not_visible" {
		t.Fatalf("expected 409 not_visible, got %d %s", w.Code, w.Body.String())
	}

	w = do(t, s, http.MethodPost, "/selection/toggle-all", sid, nil, nil)
	var view console.View
	decode(t, w, &view)
	if !view.AllSelected || len(view.Selected) != 2 {
		t.Fatalf("expected all selected, got %+v", view.Selected)
	}

	w = do(t, s, http.MethodDelete, "/selection", sid, nil, nil)
	decode(t, w, &view)
	if len(view.Selected) != 0 {
		t.Fatalf("expected empty selection, got %v", view.Selected)
	}
}

func TestDetailAndDecide(t *testing.T) {
	s, sid := newTestServer(t, newFakeBackend(1))

	w := do(t, s, http.MethodGet, "/ads/7", sid, nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown ad, got %d %s", w.Code, w.Body.String())
	}
	if w := do(t, s, http.MethodGet, "/ads/abc", sid, nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", w.Code)
	}

	w = do(t, s, http.MethodPost, "/ads/1/decision", sid, model.DecisionRequest{Action: model.KindReject, Reason: model.ReasonFraud}, nil)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "validation_failure" {
		t.Fatalf("expected validation failure, got %d %s", w.Code, w.Body.String())
	}

	w = do(t, s, http.MethodPost, "/ads/1/decision", sid, model.DecisionRequest{Action: model.KindApprove}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Ad model.AdDetails `json:"ad"`
	}
	decode(t, w, &resp)
	if resp.Ad.Status != model.StatusApproved {
		t.Fatalf("expected approved, got %s", resp.Ad.Status)
	}
}

func TestReasons(t *testing.T) {
	s, sid := newTestServer(t, newFakeBackend(1))

	w := do(t, s, http.MethodGet, "/reasons", "", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 without session, got %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Reasons               []string              `json:"reasons"`
		DefaultRequestChanges model.DecisionRequest `json:"defaultRequestChanges"`
	}
	decode(t, w, &resp)
	if len(resp.Reasons) != len(model.Reasons) || resp.Reasons[0] != model.ReasonProhibited {
		t.Fatalf("unexpected reasons %v", resp.Reasons)
	}
	want := model.DecisionRequest{Action: model.KindRequestChanges, Reason: model.ReasonOther, Comment: "Вернуть на доработку"}
	if resp.DefaultRequestChanges != want {
		t.Fatalf("expected %+v, got %+v", want, resp.DefaultRequestChanges)
	}

	w = do(t, s, http.MethodPost, "/ads/1/decision", sid, resp.DefaultRequestChanges, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("default request body must be accepted, got %d %s", w.Code, w.Body.String())
	}
}

func TestDecideBulk_PartialFailure(t *testing.T) {
	b := newFakeBackend(1, 2, 3)
	b.failIDs[2] = true
	s, sid := newTestServer(t, b)
	do(t, s, http.MethodGet, "/queue", sid, nil, nil)
	do(t, s, http.MethodPost, "/selection/toggle-all", sid, nil, nil)

	w := do(t, s, http.MethodPost, "/decisions/bulk", sid, model.DecisionRequest{Action: model.KindApprove}, nil)
	if w.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d %s", w.Code, w.Body.String())
	}
	var body struct {
		errorBody
		Succeeded []int64           `json:"succeeded"`
		Failed    map[string]string `json:"failed"`
	}
	decode(t, w, &body)
	if len(body.Succeeded) != 2 || body.Succeeded[0] != 1 || body.Succeeded[1] != 3 {
		t.Fatalf("unexpected succeeded %v", body.Succeeded)
	}
	if _, ok := body.Failed["2"]; !ok || len(body.Failed) != 1 {
		t.Fatalf("unexpected failed %v", body.Failed)
	}
	if body.Error.Code != "bulk_partial_failure" {
		t.Fatalf("unexpected code %q", body.Error.Code)
	}
}

func TestDecideBulk_IdempotencyKey(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, sid := newTestServer(t, newFakeBackend(1, 2), WithIdempotency(dedup.NewGuard(rdb, time.Minute)))
	do(t, s, http.MethodGet, "/queue", sid, nil, nil)
	do(t, s, http.MethodPost, "/selection/toggle-all", sid, nil, nil)

	headers := map[string]string{"Idempotency-Key": "bulk-1"}
	w := do(t, s, http.MethodPost, "/decisions/bulk", sid, model.DecisionRequest{Action: model.KindApprove}, headers)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}

	w = do(t, s, http.MethodPost, "/decisions/bulk", sid, model.DecisionRequest{Action: model.KindApprove}, headers)
	if w.Code != http.StatusConflict || errorCode(t, w) != "duplicate_request" {
		t.Fatalf("expected duplicate rejection, got %d %s", w.Code, w.Body.String())
	}

	retry := map[string]string{"Idempotency-Key": "bulk-2"}
	w = do(t, s, http.MethodPost, "/decisions/bulk", sid, model.DecisionRequest{Action: model.KindApprove}, retry)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty selection, got %d", w.Code)
	}
	ok, err := dedup.NewGuard(rdb, time.Minute).Claim(context.Background(), "bulk:"+sid, "bulk-2")
	if err != nil || !ok {
		t.Fatalf("expected failed submission to release its key, ok=%v err=%v", ok, err)
	}
}

func TestStats(t *testing.T) {
	s, sid := newTestServer(t, newFakeBackend())

	w := do(t, s, http.MethodGet, "/stats?period=week", sid, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if w := do(t, s, http.MethodGet, "/stats?period=year", sid, nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown period, got %d", w.Code)
	}
}

func TestHistory(t *testing.T) {
	s, sid := newTestServer(t, newFakeBackend(1))
	if w := do(t, s, http.MethodGet, "/ads/1/history", sid, nil, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without journal, got %d", w.Code)
	}

	h := &fakeHistory{records: []audit.DecisionRecord{{EventID: "ev-1", AdID: 1, Action: "approve", Status: "approved"}}}
	s, sid = newTestServer(t, newFakeBackend(1), WithHistory(h))
	w := do(t, s, http.MethodGet, "/ads/1/history?limit=5", sid, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		History []historyResponse `json:"history"`
	}
	decode(t, w, &body)
	if len(body.History) != 1 || body.History[0].EventID != "ev-1" {
		t.Fatalf("unexpected history %+v", body.History)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, newFakeBackend(), WithHealthCheck("redis", func(ctx context.Context) error {
		return errors.New("connection refused")
	}))
	if w := do(t, s, http.MethodGet, "/healthz", "", nil, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	s, _ = newTestServer(t, newFakeBackend())
	if w := do(t, s, http.MethodGet, "/healthz", "", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
