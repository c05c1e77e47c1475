// Package feed turns syndication feeds from catalog sources into
// normalized items and renders the merged dataset back as RSS.
package feed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/lysyi3m/trustfetch/app/fetch"
	"github.com/lysyi3m/trustfetch/app/item"
	"github.com/lysyi3m/trustfetch/app/metrics"
	"github.com/lysyi3m/trustfetch/app/safety"
	"github.com/lysyi3m/trustfetch/app/sources"
)

const (
	MaxItemsPerSource = 10
	acceptHeader      = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8"
)

// Fetcher is the part of fetch.Client the adapters need.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts fetch.RequestOptions, policy safety.Policy) ([]byte, error)
}

type Adapter struct {
	fetcher  Fetcher
	policy   safety.Policy
	parser   *Parser
	filterer *Filterer
	now      func() time.Time
}

// NewAdapter pins every feed fetch to allowedHosts on top of base.
func NewAdapter(fetcher Fetcher, base safety.Policy, allowedHosts []string, now func() time.Time) *Adapter {
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		fetcher:  fetcher,
		policy:   base.WithAllowedHosts(allowedHosts),
		parser:   NewParser(),
		filterer: NewFilterer(),
		now:      now,
	}
}

// FetchSource returns up to MaxItemsPerSource normalized items from src.
// Failures are logged and yield no items.
func (a *Adapter) FetchSource(ctx context.Context, src sources.Descriptor) []item.NormalizedItem {
	if len(a.policy.AllowedHosts) == 0 {
		a.failed(src, "Source skipped: no feed hosts allowed", nil)
		return nil
	}

	data, err := a.fetcher.Fetch(ctx, src.FeedURL, fetch.RequestOptions{Accept: acceptHeader}, a.policy)
	if err != nil {
		a.failed(src, "Source fetch failed", err)
		return nil
	}

	metadata, entries, err := a.parser.Run(data)
	if err != nil {
		a.failed(src, "Source parse failed", err)
		return nil
	}

	entries = a.filterer.Run(entries, src.Filters)

	now := a.now()
	base := siteBase(metadata, src)
	tags := TagsFor(src)
	items := make([]item.NormalizedItem, 0, min(len(entries), MaxItemsPerSource))
	for _, entry := range entries {
		if len(items) == MaxItemsPerSource {
			break
		}
		normalized, ok := a.normalize(entry, src, base, tags, now)
		if !ok {
			continue
		}
		items = append(items, normalized)
	}

	slog.Debug("Source fetched", "source", src.Name, "feed_title", metadata.Title, "entries", len(entries), "items", len(items))
	return items
}

func (a *Adapter) normalize(entry Entry, src sources.Descriptor, base string, tags []string, now time.Time) (item.NormalizedItem, bool) {
	raw := entryURL(entry)
	link, err := item.Canonicalize(raw, base)
	if err != nil {
		slog.Debug("Entry dropped", "source", src.Name, "link", raw, "error", err)
		return item.NormalizedItem{}, false
	}

	title := item.StripHTML(entry.Title)
	if title == "" {
		slog.Debug("Entry dropped", "source", src.Name, "link", link, "error", "empty title")
		return item.NormalizedItem{}, false
	}

	summary := item.Summarize(entry.Description)
	if summary == "" && entry.Content != "" {
		summary = item.Truncate(item.ExtractText(entry.Content), item.MaxSummaryLength)
	}
	if summary == "" && len(entry.Authors) > 0 {
		summary = item.Summarize(attribution(entry.Authors))
	}

	return item.NormalizedItem{
		ID:          item.NewID(link),
		Title:       title,
		Summary:     summary,
		SourceURL:   link,
		SourceName:  src.Name,
		Tags:        item.NormalizeTags(tags),
		PublishedAt: item.PublishedOr(entry.PublishedAt, now),
		Origin:      item.OriginRSS,
	}, true
}

// siteBase is what relative entry links resolve against: the feed's own site
// link when it is a usable absolute URL, the feed URL otherwise.
func siteBase(metadata *Metadata, src sources.Descriptor) string {
	if metadata != nil && metadata.Link != "" {
		if site, err := item.Canonicalize(metadata.Link, src.FeedURL); err == nil {
			return site
		}
	}
	return src.FeedURL
}

// entryURL falls back to the guid only when it is an absolute permalink.
func entryURL(entry Entry) string {
	if entry.Link != "" {
		return entry.Link
	}
	guid := strings.ToLower(entry.GUID)
	if strings.HasPrefix(guid, "https://") || strings.HasPrefix(guid, "http://") {
		return entry.GUID
	}
	return ""
}

func attribution(authors []string) string {
	switch len(authors) {
	case 1:
		return "By " + authors[0] + "."
	default:
		return "By " + strings.Join(authors[:len(authors)-1], ", ") + " and " + authors[len(authors)-1] + "."
	}
}

func (a *Adapter) failed(src sources.Descriptor, msg string, err error) {
	metrics.RecordSourceFailure(string(item.OriginRSS))
	if err != nil {
		slog.Warn(msg, "source", src.Name, "url", src.FeedURL, "error", err)
		return
	}
	slog.Warn(msg, "source", src.Name, "url", src.FeedURL)
}
