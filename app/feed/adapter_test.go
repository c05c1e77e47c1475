package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/trustfetch/app/fetch"
	"github.com/lysyi3m/trustfetch/app/item"
	"github.com/lysyi3m/trustfetch/app/safety"
	"github.com/lysyi3m/trustfetch/app/sources"
)

type fakeFetcher struct {
	bodies   map[string]string
	errs     map[string]error
	policies []safety.Policy
	accepts  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string, opts fetch.RequestOptions, policy safety.Policy) ([]byte, error) {
	f.policies = append(f.policies, policy)
	f.accepts = append(f.accepts, opts.Accept)
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	body, ok := f.bodies[rawURL]
	if !ok {
		return nil, &fetch.StatusError{URL: rawURL, Code: 404, Status: "404 Not Found"}
	}
	return []byte(body), nil
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func rssDocument(items ...string) string {
	return `<?xml version="1.0"?><rss version="2.0"><channel><title>T</title>` +
		strings.Join(items, "") + `</channel></rss>`
}

func rssItem(title, link, description, pubDate string) string {
	s := "<item><title>" + title + "</title><link>" + link + "</link>"
	if description != "" {
		s += "<description>" + description + "</description>"
	}
	if pubDate != "" {
		s += "<pubDate>" + pubDate + "</pubDate>"
	}
	return s + "</item>"
}

func TestAdapter_FetchSource(t *testing.T) {
	src := sources.Descriptor{
		Name:     "Protocol Notes",
		FeedURL:  "https://notes.example.org/feed.xml",
		Category: "research",
	}
	fetcher := &fakeFetcher{bodies: map[string]string{
		src.FeedURL: rssDocument(
			rssItem("&lt;b&gt;First&lt;/b&gt; post", "https://Notes.Example.org/p/1?utm_source=rss#top",
				"&lt;p&gt;Hello &amp;amp; welcome&lt;/p&gt;", "Mon, 03 Jul 2023 10:00:00 GMT"),
			rssItem("Relative link", "/p/2", "", ""),
		),
	}}

	adapter := NewAdapter(fetcher, safety.DefaultPolicy(), []string{"notes.example.org"}, func() time.Time { return fixedNow })
	items := adapter.FetchSource(context.Background(), src)

	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}

	first := items[0]
	if first.Title != "First post" {
		t.Errorf("Expected stripped title 'First post', got %q", first.Title)
	}
	if first.SourceURL != "https://notes.example.org/p/1" {
		t.Errorf("Expected canonical URL, got %q", first.SourceURL)
	}
	if first.ID != item.NewID(first.SourceURL) {
		t.Errorf("Expected ID derived from the canonical URL, got %q", first.ID)
	}
	if first.Summary != "Hello & welcome" {
		t.Errorf("Expected stripped summary, got %q", first.Summary)
	}
	if first.SourceName != "Protocol Notes" || first.Origin != item.OriginRSS {
		t.Errorf("Unexpected source fields: %q %q", first.SourceName, first.Origin)
	}
	if strings.Join(first.Tags, ",") != "papers,research" {
		t.Errorf("Expected category tags, got %v", first.Tags)
	}
	if !first.PublishedAt.Equal(time.Date(2023, 7, 3, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected publishedAt: %v", first.PublishedAt)
	}

	second := items[1]
	if second.SourceURL != "https://notes.example.org/p/2" {
		t.Errorf("Expected relative link resolved against the feed URL, got %q", second.SourceURL)
	}
	if !second.PublishedAt.Equal(fixedNow) {
		t.Errorf("Expected missing date to fall back to now, got %v", second.PublishedAt)
	}

	if len(fetcher.policies) != 1 {
		t.Fatalf("Expected one fetch, got %d", len(fetcher.policies))
	}
	if hosts := fetcher.policies[0].AllowedHosts; len(hosts) != 1 || hosts[0] != "notes.example.org" {
		t.Errorf("Expected fetch pinned to the allow-list, got %v", hosts)
	}
	if !strings.Contains(fetcher.accepts[0], "application/rss+xml") {
		t.Errorf("Expected feed Accept header, got %q", fetcher.accepts[0])
	}
}

func TestAdapter_UsesChannelLinkGUIDAndAuthors(t *testing.T) {
	src := sources.Descriptor{Name: "Lab Notes", FeedURL: "https://feeds.example.com/lab.xml", Category: "research"}
	fetcher := &fakeFetcher{bodies: map[string]string{src.FeedURL: `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>Lab Notes</title>
  <link>https://lab.example.com/blog/</link>
  <item><title>Relative</title><link>posts/1</link><description>One</description></item>
  <item><title>Permalink guid</title><guid>https://lab.example.com/posts/2</guid><author>jane@example.com (Jane Doe)</author></item>
  <item><title>Opaque guid</title><guid>urn:uuid:3</guid></item>
</channel></rss>`}}

	adapter := NewAdapter(fetcher, safety.DefaultPolicy(), []string{"feeds.example.com"}, func() time.Time { return fixedNow })
	items := adapter.FetchSource(context.Background(), src)

	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].SourceURL != "https://lab.example.com/blog/posts/1" {
		t.Errorf("Expected relative link resolved against the channel link, got %q", items[0].SourceURL)
	}
	if items[1].SourceURL != "https://lab.example.com/posts/2" {
		t.Errorf("Expected permalink guid as the link, got %q", items[1].SourceURL)
	}
	if items[1].Summary != "By Jane Doe." {
		t.Errorf("Expected author attribution summary, got %q", items[1].Summary)
	}
}

func TestAttribution(t *testing.T) {
	tests := []struct {
		authors []string
		want    string
	}{
		{[]string{"Jane"}, "By Jane."},
		{[]string{"Jane", "Joe"}, "By Jane and Joe."},
		{[]string{"Jane", "Joe", "Kai"}, "By Jane, Joe and Kai."},
	}

	for _, tt := range tests {
		if got := attribution(tt.authors); got != tt.want {
			t.Errorf("attribution(%v) = %q, want %q", tt.authors, got, tt.want)
		}
	}
}

func TestAdapter_CapsItemsPerSource(t *testing.T) {
	src := sources.Descriptor{Name: "Noisy", FeedURL: "https://noisy.example.com/rss", Category: "blog"}

	var entries []string
	for i := range 25 {
		entries = append(entries, rssItem(fmt.Sprintf("Post %d", i), fmt.Sprintf("https://noisy.example.com/%d", i), "", ""))
	}
	fetcher := &fakeFetcher{bodies: map[string]string{src.FeedURL: rssDocument(entries...)}}

	adapter := NewAdapter(fetcher, safety.DefaultPolicy(), []string{"noisy.example.com"}, nil)
	items := adapter.FetchSource(context.Background(), src)

	if len(items) != MaxItemsPerSource {
		t.Fatalf("Expected %d items, got %d", MaxItemsPerSource, len(items))
	}
	if items[0].Title != "Post 0" || items[9].Title != "Post 9" {
		t.Errorf("Expected the first entries in feed order, got %q..%q", items[0].Title, items[9].Title)
	}
}

func TestAdapter_AppliesFiltersBeforeCap(t *testing.T) {
	src := sources.Descriptor{
		Name:     "Filtered",
		FeedURL:  "https://filtered.example.com/rss",
		Category: "blog",
		Filters:  []sources.Filter{{Field: "title", Excludes: []string{"sponsored"}}},
	}
	fetcher := &fakeFetcher{bodies: map[string]string{src.FeedURL: rssDocument(
		rssItem("Sponsored post", "https://filtered.example.com/ad", "", ""),
		rssItem("Real post", "https://filtered.example.com/real", "", ""),
		rssItem("No link", "", "", ""),
		rssItem("", "https://filtered.example.com/untitled", "", ""),
	)}}

	adapter := NewAdapter(fetcher, safety.DefaultPolicy(), []string{"filtered.example.com"}, nil)
	items := adapter.FetchSource(context.Background(), src)

	if len(items) != 1 || items[0].Title != "Real post" {
		t.Errorf("Expected only 'Real post', got %v", items)
	}
}

func TestAdapter_FailuresYieldNoItems(t *testing.T) {
	src := sources.Descriptor{Name: "Broken", FeedURL: "https://broken.example.com/rss", Category: "blog"}

	tests := []struct {
		name    string
		fetcher *fakeFetcher
	}{
		{"timeout", &fakeFetcher{errs: map[string]error{src.FeedURL: fmt.Errorf("%w: slow origin", fetch.ErrTimeout)}}},
		{"status", &fakeFetcher{}},
		{"parse", &fakeFetcher{bodies: map[string]string{src.FeedURL: "not a feed"}}},
		{"violation", &fakeFetcher{errs: map[string]error{src.FeedURL: errors.New("unsafe url")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := NewAdapter(tt.fetcher, safety.DefaultPolicy(), []string{"broken.example.com"}, nil)
			if items := adapter.FetchSource(context.Background(), src); len(items) != 0 {
				t.Errorf("Expected no items, got %d", len(items))
			}
		})
	}
}

func TestAdapter_EmptyAllowListFailsClosed(t *testing.T) {
	src := sources.Descriptor{Name: "A", FeedURL: "https://a.example.com/rss", Category: "blog"}
	fetcher := &fakeFetcher{bodies: map[string]string{src.FeedURL: rssDocument(rssItem("x", "https://a.example.com/x", "", ""))}}

	adapter := NewAdapter(fetcher, safety.DefaultPolicy(), nil, nil)
	if items := adapter.FetchSource(context.Background(), src); len(items) != 0 {
		t.Errorf("Expected no items, got %d", len(items))
	}
	if len(fetcher.policies) != 0 {
		t.Error("Expected no fetch without an allow-list")
	}
}

func TestAdapter_HostOutsideAllowListNeverDials(t *testing.T) {
	dialed := false
	dialer := dialerFunc(func(context.Context, string, string) error {
		dialed = true
		return errors.New("unexpected dial")
	})
	client := fetch.NewClient(safety.NewValidator(nil), fetch.WithDialer(dialer))

	src := sources.Descriptor{Name: "Typo", FeedURL: "https://typo.example.net/rss", Category: "blog"}
	adapter := NewAdapter(client, safety.DefaultPolicy(), []string{"real.example.net"}, nil)

	if items := adapter.FetchSource(context.Background(), src); len(items) != 0 {
		t.Errorf("Expected no items, got %d", len(items))
	}
	if dialed {
		t.Error("Expected the allow-list to reject before any connection")
	}
}

type dialerFunc func(ctx context.Context, network, address string) error

func (f dialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return nil, f(ctx, network, address)
}
