package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/trustfetch/app/feed"
	"github.com/lysyi3m/trustfetch/app/identity"
	"github.com/lysyi3m/trustfetch/app/ingest"
	"github.com/lysyi3m/trustfetch/app/item"
	"github.com/lysyi3m/trustfetch/app/sources"
	"github.com/lysyi3m/trustfetch/app/tasks"
)

const testKey = "secret"

type fakeItems struct {
	items     []item.NormalizedItem
	run       *ingest.Stats
	err       error
	lastLimit int
}

func (f *fakeItems) GetItems(_ context.Context, limit int) ([]item.NormalizedItem, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.items[:min(limit, len(f.items))], nil
}

func (f *fakeItems) GetItemCount(context.Context) (int, error) {
	return len(f.items), f.err
}

func (f *fakeItems) GetLatestRun(context.Context) (*ingest.Stats, error) {
	return f.run, f.err
}

type fakeVerifier struct {
	verification identity.Verification
	err          error
	size         int
	cleared      bool
}

func (f *fakeVerifier) Verify(_ context.Context, raw string) (identity.Verification, error) {
	if _, err := identity.ParseHandle(raw); err != nil {
		return identity.Verification{}, err
	}
	return f.verification, f.err
}

func (f *fakeVerifier) ClearCache() {
	f.cleared = true
	f.size = 0
}

func (f *fakeVerifier) CacheSize() int {
	return f.size
}

type fakeScheduler struct {
	err error
}

func (f *fakeScheduler) Start() {}
func (f *fakeScheduler) Stop()  {}

func (f *fakeScheduler) EnqueueTask(tasks.TaskInterface) error {
	return f.err
}

func (f *fakeScheduler) EnqueueIngest() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "task-1", nil
}

type fixture struct {
	items     *fakeItems
	verifier  *fakeVerifier
	scheduler *fakeScheduler
	server    http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalog := sources.New([]sources.Descriptor{
		{Name: "Alpha", URL: "https://alpha.example.com", FeedURL: "https://alpha.example.com/rss", Category: "blog", Verified: true},
	}, sources.Community{})

	published := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	items := make([]item.NormalizedItem, 0, 3)
	for i := range 3 {
		items = append(items, item.NormalizedItem{
			ID:          fmt.Sprintf("id-%d", i),
			Title:       fmt.Sprintf("Post %d", i),
			Summary:     "Summary",
			SourceURL:   fmt.Sprintf("https://alpha.example.com/posts/%d", i),
			SourceName:  "Alpha",
			Tags:        []string{"blog"},
			PublishedAt: published.Add(-time.Duration(i) * time.Hour),
		})
	}

	f := &fixture{
		items:     &fakeItems{items: items},
		verifier:  &fakeVerifier{size: 2},
		scheduler: &fakeScheduler{},
	}
	handler := NewHandler(catalog, f.items, f.verifier, f.scheduler, feed.Channel{
		Title:    "trustfetch",
		Link:     "https://updates.example.com",
		SelfLink: "https://updates.example.com/feed.xml",
		Version:  "test",
	})
	f.server = NewServer(handler, testKey)
	return f
}

func (f *fixture) do(method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 3, body["items"])
	assert.EqualValues(t, 1, body["sources"])
	assert.EqualValues(t, 2, body["trust_cache_size"])
	assert.Contains(t, body, "timestamp")
}

func TestStats(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.items.run = &ingest.Stats{Total: 4, RSS: 3, Community: 1}
	rec = f.do(http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 4, body["total"])
	assert.EqualValues(t, 3, body["rss"])
	assert.EqualValues(t, 1, body["community"])
}

func TestItems(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantLimit int
	}{
		{"default", "/items", http.StatusOK, DefaultItemsLimit},
		{"explicit", "/items?limit=2", http.StatusOK, 2},
		{"clamped", "/items?limit=10000", http.StatusOK, MaxItemsLimit},
		{"zero", "/items?limit=0", http.StatusBadRequest, 0},
		{"garbage", "/items?limit=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.items.lastLimit = 0
			rec := f.do(http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantLimit, f.items.lastLimit)
		})
	}

	rec := f.do(http.MethodGet, "/items?limit=2", nil)
	var resp struct {
		Items []item.NormalizedItem `json:"items"`
		Total int                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "https://alpha.example.com/posts/0", resp.Items[0].SourceURL)
	assert.Equal(t, "Alpha", resp.Items[0].SourceName)
}

func TestItemsDatabaseError(t *testing.T) {
	f := newFixture(t)
	f.items.err = errors.New("disk I/O error")

	rec := f.do(http.MethodGet, "/items", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestFeedXML(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/feed.xml", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "3", rec.Header().Get("X-Feed-Items"))
	assert.Equal(t, FeedItemsLimit, f.items.lastLimit)
	body := rec.Body.String()
	assert.Contains(t, body, `<rss version="2.0"`)
	assert.Contains(t, body, "<title>Post 0</title>")
	assert.Contains(t, body, "https://updates.example.com/feed.xml")
}

func TestVerifyAgent(t *testing.T) {
	f := newFixture(t)
	cachedAt := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	f.verifier.verification = identity.Verification{
		Handle: identity.Handle{Name: "bot", Domain: "agents.example.com"},
		Entry: identity.Entry{
			Valid:    true,
			Manifest: &identity.Manifest{Name: "Bot", Capabilities: []string{"search"}},
			CachedAt: cachedAt,
		},
		Tier:   identity.TierVerified,
		State:  identity.StateCachedFresh,
		Cached: true,
	}

	rec := f.do(http.MethodGet, "/agents/verify?handle=@bot@agents.example.com", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "@bot@agents.example.com", body["handle"])
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "verified", body["tier"])
	assert.Equal(t, "cached-fresh", body["state"])
	assert.Equal(t, cachedAt.Format(time.RFC3339), body["cached_at"])
	assert.NotContains(t, body, "error")
	manifest, ok := body["manifest"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Bot", manifest["name"])
}

func TestVerifyAgentInvalidVerdict(t *testing.T) {
	f := newFixture(t)
	f.verifier.verification = identity.Verification{
		Handle: identity.Handle{Name: "bot", Domain: "down.example.com"},
		Entry:  identity.Entry{Error: "manifest request failed"},
		Tier:   identity.TierUnverified,
		State:  identity.StateUncached,
	}

	rec := f.do(http.MethodGet, "/agents/verify?handle=bot@down.example.com", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "unverified", body["tier"])
	assert.Equal(t, "manifest request failed", body["error"])
	assert.NotContains(t, body, "manifest")
}

func TestVerifyAgentBadRequests(t *testing.T) {
	f := newFixture(t)

	for _, target := range []string{"/agents/verify", "/agents/verify?handle=nobody", "/agents/verify?handle=a@b@c"} {
		rec := f.do(http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	f.verifier.err = context.Canceled
	rec := f.do(http.MethodGet, "/agents/verify?handle=@bot@agents.example.com", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIAuthentication(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/ingest", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/ingest", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/ingest", map[string]string{"Authorization": "Bearer " + testKey})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestAPITriggerIngest(t *testing.T) {
	f := newFixture(t)
	auth := map[string]string{"X-API-Key": testKey}

	rec := f.do(http.MethodPost, "/api/ingest", auth)
	require.Equal(t, http.StatusAccepted, rec.Code)
	task := decode(t, rec)["task"].(map[string]any)
	assert.Equal(t, "task-1", task["id"])
	assert.Equal(t, "ingest", task["type"])

	f.scheduler.err = tasks.ErrIngestPending
	rec = f.do(http.MethodPost, "/api/ingest", auth)
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.scheduler.err = errors.New("scheduler is stopped")
	rec = f.do(http.MethodPost, "/api/ingest", auth)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAPIClearTrustCache(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodDelete, "/api/trust-cache", map[string]string{"X-API-Key": testKey})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.verifier.cleared)
	assert.EqualValues(t, 2, decode(t, rec)["cleared"])
}

func TestAPIDisabledWithoutKey(t *testing.T) {
	f := newFixture(t)
	handler := NewHandler(sources.New(nil, sources.Community{}), f.items, f.verifier, f.scheduler, feed.Channel{})
	server := NewServer(handler, "")

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", nil)
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsAndCORS(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))

	rec = f.do(http.MethodOptions, "/items", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
