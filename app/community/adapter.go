// Package community maps posts from the partner community API into
// normalized items.
package community

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/trustfetch/app/fetch"
	"github.com/lysyi3m/trustfetch/app/item"
	"github.com/lysyi3m/trustfetch/app/metrics"
	"github.com/lysyi3m/trustfetch/app/safety"
	"github.com/lysyi3m/trustfetch/app/sources"
)

const acceptHeader = "application/json"

var baseTags = []string{"community", "agents"}

var typeTags = map[string]string{
	"question":     "questions",
	"showcase":     "showcase",
	"project":      "showcase",
	"announcement": "announcements",
	"discussion":   "discussion",
	"link":         "links",
}

var hiddenStatuses = map[string]bool{
	"removed": true,
	"deleted": true,
	"hidden":  true,
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts fetch.RequestOptions, policy safety.Policy) ([]byte, error)
}

type Adapter struct {
	fetcher Fetcher
	policy  safety.Policy
	config  sources.Community
	now     func() time.Time
}

// NewAdapter targets the single endpoint in config. The feed allow-list does
// not apply; policy is used as given.
func NewAdapter(fetcher Fetcher, policy safety.Policy, config sources.Community, now func() time.Time) *Adapter {
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		fetcher: fetcher,
		policy:  policy,
		config:  config,
		now:     now,
	}
}

func (a *Adapter) Enabled() bool {
	return a.config.Enabled && a.config.URL != ""
}

// FetchItems returns the mapped posts. Failures are logged and yield no
// items.
func (a *Adapter) FetchItems(ctx context.Context) []item.NormalizedItem {
	if !a.Enabled() {
		slog.Debug("Community source disabled")
		return nil
	}

	data, err := a.fetcher.Fetch(ctx, a.config.URL, fetch.RequestOptions{Accept: acceptHeader}, a.policy)
	if err != nil {
		a.failed("Community fetch failed", err)
		return nil
	}

	posts, err := decodePosts(data)
	if err != nil {
		a.failed("Community parse failed", err)
		return nil
	}

	now := a.now()
	items := make([]item.NormalizedItem, 0, len(posts))
	for _, post := range posts {
		normalized, ok := a.normalize(post, now)
		if !ok {
			continue
		}
		items = append(items, normalized)
	}

	slog.Debug("Community fetched", "posts", len(posts), "items", len(items))
	return items
}

func (a *Adapter) normalize(post Post, now time.Time) (item.NormalizedItem, bool) {
	if hiddenStatuses[strings.ToLower(strings.TrimSpace(post.Status))] {
		return item.NormalizedItem{}, false
	}

	id := string(post.ID)
	title := item.StripHTML(post.Title)
	if id == "" || title == "" {
		slog.Debug("Post dropped", "id", id, "error", "missing id or title")
		return item.NormalizedItem{}, false
	}

	link, err := item.Canonicalize(strings.TrimRight(a.config.PostURL, "/")+"/"+url.PathEscape(id), "")
	if err != nil {
		slog.Debug("Post dropped", "id", id, "error", err)
		return item.NormalizedItem{}, false
	}

	return item.NormalizedItem{
		ID:          item.NewID(link),
		Title:       title,
		Summary:     a.summary(post),
		SourceURL:   link,
		SourceName:  a.config.Name,
		Tags:        item.NormalizeTags(baseTags, inferTags(post.Type)),
		PublishedAt: publishedAt(post, now),
		Origin:      item.OriginCommunity,
	}, true
}

func (a *Adapter) summary(post Post) string {
	if text := item.StripHTML(post.SafeText); text != "" {
		return item.Truncate(text, item.MaxSummaryLength)
	}
	if text := item.ExtractText(post.Body); text != "" {
		return item.Truncate(text, item.MaxSummaryLength)
	}

	author := post.Author.Name
	if author == "" {
		author = "an anonymous member"
	}
	return item.Truncate(fmt.Sprintf("Posted by %s in the %s community.", author, a.config.Name), item.MaxSummaryLength)
}

func (a *Adapter) failed(msg string, err error) {
	metrics.RecordSourceFailure(string(item.OriginCommunity))
	slog.Warn(msg, "source", a.config.Name, "url", a.config.URL, "error", err)
}

func inferTags(postType string) []string {
	if tag, ok := typeTags[strings.ToLower(strings.TrimSpace(postType))]; ok {
		return []string{tag}
	}
	return nil
}

func publishedAt(post Post, now time.Time) time.Time {
	for _, raw := range []string{post.CreatedAt, post.UpdatedAt} {
		if t, ok := parseTime(raw); ok {
			return item.PublishedOr(&t, now)
		}
	}
	return now.UTC()
}

func parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// decodePosts accepts a bare array or an object with a posts array. Posts
// that fail to decode are skipped.
func decodePosts(data []byte) ([]Post, error) {
	data = bytes.TrimSpace(data)

	var raw []json.RawMessage
	switch {
	case bytes.HasPrefix(data, []byte("[")):
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to decode posts: %w", err)
		}
	case bytes.HasPrefix(data, []byte("{")):
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("failed to decode posts: %w", err)
		}
		raw = env.Posts
	default:
		return nil, fmt.Errorf("unexpected response shape")
	}

	posts := make([]Post, 0, len(raw))
	for i, msg := range raw {
		var post Post
		if err := json.Unmarshal(msg, &post); err != nil {
			slog.Debug("Post skipped", "index", i, "error", err)
			continue
		}
		posts = append(posts, post)
	}
	return posts, nil
}
