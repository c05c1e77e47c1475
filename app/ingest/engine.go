// Package ingest fans out to every eligible source, merges the results with
// the previously curated dataset and deduplicates by canonical URL.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/trustfetch/app/item"
	"github.com/lysyi3m/trustfetch/app/metrics"
	"github.com/lysyi3m/trustfetch/app/sources"
)

const DefaultBatchSize = 5

// SourceAdapter fetches one catalog source. It never fails; a broken source
// yields no items.
type SourceAdapter interface {
	FetchSource(ctx context.Context, src sources.Descriptor) []item.NormalizedItem
}

type CommunityAdapter interface {
	FetchItems(ctx context.Context) []item.NormalizedItem
}

// Sink persists the outcome of a run.
type Sink interface {
	SaveRun(ctx context.Context, items []item.NormalizedItem, stats Stats) error
}

type Stats struct {
	Total      int       `json:"total"`
	RSS        int       `json:"rss"`
	Community  int       `json:"community"`
	Sources    int       `json:"sources"`
	Curated    int       `json:"curated"`
	Duplicates int       `json:"duplicates"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

type Result struct {
	Items []item.NormalizedItem
	Stats Stats
}

type Engine struct {
	feeds     SourceAdapter
	community CommunityAdapter
	batchSize int
	now       func() time.Time
}

// NewEngine accepts a nil community adapter.
func NewEngine(feeds SourceAdapter, community CommunityAdapter, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		feeds:     feeds,
		community: community,
		batchSize: DefaultBatchSize,
		now:       now,
	}
}

// Run fetches every eligible descriptor plus the community source and merges
// the results after curated. It only fails when ctx is done.
func (e *Engine) Run(ctx context.Context, descriptors []sources.Descriptor, curated []item.NormalizedItem) (Result, error) {
	started := e.now()

	eligible := make([]sources.Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if d.Eligible() {
			eligible = append(eligible, d)
		}
	}

	var rss, community []item.NormalizedItem

	// Adapters never fail, so the only error either branch reports is the
	// context ending.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rss, err = e.fetchFeeds(gctx, eligible)
		return err
	})
	if e.community != nil {
		g.Go(func() error {
			community = e.community.FetchItems(gctx)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("ingestion interrupted: %w", err)
	}

	fetched := make([]item.NormalizedItem, 0, len(rss)+len(community))
	fetched = append(fetched, rss...)
	fetched = append(fetched, community...)

	merged := Merge(curated, fetched)

	finished := e.now()
	stats := Stats{
		Total:      len(merged),
		RSS:        len(rss),
		Community:  len(community),
		Sources:    len(eligible),
		Curated:    len(curated),
		Duplicates: len(curated) + len(fetched) - len(merged),
		StartedAt:  started,
		FinishedAt: finished,
	}

	metrics.RecordIngest(stats.Total, stats.RSS, stats.Community, finished.Sub(started).Seconds())
	slog.Info("Ingestion completed",
		"total", stats.Total,
		"rss", stats.RSS,
		"community", stats.Community,
		"sources", stats.Sources,
		"duplicates", stats.Duplicates,
		"duration", finished.Sub(started))

	return Result{Items: merged, Stats: stats}, nil
}

// fetchFeeds runs fixed-size batches one after another. Results keep
// declaration order regardless of completion order. No further batch starts
// once ctx is done.
func (e *Engine) fetchFeeds(ctx context.Context, eligible []sources.Descriptor) ([]item.NormalizedItem, error) {
	var out []item.NormalizedItem

	for batch := range slices.Chunk(eligible, e.batchSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		results := make([][]item.NormalizedItem, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, src := range batch {
			g.Go(func() error {
				results[i] = e.feeds.FetchSource(gctx, src)
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, r := range results {
			out = append(out, r...)
		}
	}

	return out, nil
}

// Merge deduplicates curated followed by fetched on SourceURL, keeping the
// first occurrence, and sorts newest first. Equal timestamps keep input
// order.
func Merge(curated, fetched []item.NormalizedItem) []item.NormalizedItem {
	seen := make(map[string]struct{}, len(curated)+len(fetched))
	merged := make([]item.NormalizedItem, 0, len(curated)+len(fetched))

	for _, group := range [][]item.NormalizedItem{curated, fetched} {
		for _, it := range group {
			if _, ok := seen[it.SourceURL]; ok {
				continue
			}
			seen[it.SourceURL] = struct{}{}
			merged = append(merged, it)
		}
	}

	slices.SortStableFunc(merged, func(a, b item.NormalizedItem) int {
		return b.PublishedAt.Compare(a.PublishedAt)
	})

	return merged
}
