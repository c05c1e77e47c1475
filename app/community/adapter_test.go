package community

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/trustfetch/app/fetch"
	"github.com/lysyi3m/trustfetch/app/item"
	"github.com/lysyi3m/trustfetch/app/safety"
	"github.com/lysyi3m/trustfetch/app/sources"
)

type stubFetcher struct {
	body   string
	err    error
	calls  int
	url    string
	accept string
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string, opts fetch.RequestOptions, _ safety.Policy) ([]byte, error) {
	s.calls++
	s.url = rawURL
	s.accept = opts.Accept
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.body), nil
}

var (
	testNow    = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	testConfig = sources.Community{
		Name:    "Agent Commons",
		URL:     "https://api.commons.example.com/v1/posts",
		PostURL: "https://commons.example.com/posts/",
		Enabled: true,
	}
)

func newTestAdapter(fetcher Fetcher) *Adapter {
	return NewAdapter(fetcher, safety.DefaultPolicy(), testConfig, func() time.Time { return testNow })
}

const postsArray = `[
  {"id": 42, "author": {"display_name": "Kai"}, "type": "question", "title": "How do I <em>verify</em> agents?",
   "body": "<p>Body text</p>", "safe_text": "Safe &amp; sound", "created_at": "2025-02-20T08:30:00Z", "upvotes": 7, "comment_count": "n/a"},
  {"id": "abc", "author": "mira", "type": "Showcase", "title": "My crawler", "body": "<div><p>Built a crawler.</p></div>", "updated_at": "2025-02-21 10:00:00"},
  {"id": "quiet", "author": {"handle": "@nox"}, "type": "poll", "title": "Untyped", "created_at": "not a date"},
  {"id": "gone", "title": "Removed post", "status": "Removed"},
  {"title": "No id"},
  {"id": "bad", "title": {"not": "a string"}}
]`

func TestAdapter_FetchItems(t *testing.T) {
	fetcher := &stubFetcher{body: postsArray}
	items := newTestAdapter(fetcher).FetchItems(context.Background())

	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, testConfig.URL, fetcher.url)
	assert.Equal(t, "application/json", fetcher.accept)

	require.Len(t, items, 3)

	first := items[0]
	assert.Equal(t, "https://commons.example.com/posts/42", first.SourceURL)
	assert.Equal(t, item.NewID(first.SourceURL), first.ID)
	assert.Equal(t, "How do I verify agents?", first.Title)
	assert.Equal(t, "Safe & sound", first.Summary)
	assert.Equal(t, "Agent Commons", first.SourceName)
	assert.Equal(t, []string{"agents", "community", "questions"}, first.Tags)
	assert.True(t, first.PublishedAt.Equal(time.Date(2025, 2, 20, 8, 30, 0, 0, time.UTC)))
	assert.Equal(t, item.OriginCommunity, first.Origin)

	second := items[1]
	assert.Equal(t, "https://commons.example.com/posts/abc", second.SourceURL)
	assert.Equal(t, "Built a crawler.", second.Summary)
	assert.Equal(t, []string{"agents", "community", "showcase"}, second.Tags)
	assert.True(t, second.PublishedAt.Equal(time.Date(2025, 2, 21, 10, 0, 0, 0, time.UTC)))

	third := items[2]
	assert.Equal(t, "Posted by @nox in the Agent Commons community.", third.Summary)
	assert.Equal(t, []string{"agents", "community"}, third.Tags)
	assert.True(t, third.PublishedAt.Equal(testNow))
}

func TestAdapter_EnvelopeResponse(t *testing.T) {
	fetcher := &stubFetcher{body: `{"posts": [{"id": "7", "title": "Hello", "type": "link"}]}`}
	items := newTestAdapter(fetcher).FetchItems(context.Background())

	require.Len(t, items, 1)
	assert.Equal(t, "Posted by an anonymous member in the Agent Commons community.", items[0].Summary)
	assert.Equal(t, []string{"agents", "community", "links"}, items[0].Tags)
}

func TestAdapter_FailuresYieldNoItems(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *stubFetcher
	}{
		{"network", &stubFetcher{err: errors.New("connection refused")}},
		{"timeout", &stubFetcher{err: fetch.ErrTimeout}},
		{"not json", &stubFetcher{body: "<html>maintenance</html>"}},
		{"truncated", &stubFetcher{body: `[{"id": 1, "title": "x"`}},
		{"scalar", &stubFetcher{body: `"posts"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, newTestAdapter(tt.fetcher).FetchItems(context.Background()))
		})
	}
}

func TestAdapter_Disabled(t *testing.T) {
	fetcher := &stubFetcher{body: postsArray}
	config := testConfig
	config.Enabled = false

	adapter := NewAdapter(fetcher, safety.DefaultPolicy(), config, nil)

	assert.False(t, adapter.Enabled())
	assert.Empty(t, adapter.FetchItems(context.Background()))
	assert.Zero(t, fetcher.calls)
}

func TestAdapter_SummaryIsTruncated(t *testing.T) {
	body := `[{"id": "long", "title": "Long", "safe_text": "` + strings.Repeat("word ", 200) + `"}]`
	items := newTestAdapter(&stubFetcher{body: body}).FetchItems(context.Background())

	require.Len(t, items, 1)
	assert.LessOrEqual(t, len([]rune(items[0].Summary)), item.MaxSummaryLength)
	assert.True(t, strings.HasSuffix(items[0].Summary, "…"))
}

func TestAuthor_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"kai"`, "kai"},
		{`{"name": "Kai", "handle": "@kai"}`, "Kai"},
		{`{"username": "kai_01"}`, "kai_01"},
		{`123`, ""},
		{`null`, ""},
	}

	for _, tt := range tests {
		var a Author
		require.NoError(t, a.UnmarshalJSON([]byte(tt.input)), tt.input)
		assert.Equal(t, tt.want, a.Name, tt.input)
	}
}
