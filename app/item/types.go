package item

import (
	"time"
)

// Origin records which adapter produced an item.
type Origin string

const (
	OriginRSS       Origin = "rss"
	OriginCommunity Origin = "community"
	OriginCurated   Origin = "curated"
)

// NormalizedItem is the canonical ingestion unit. SourceURL is the identity
// used for deduplication across runs.
type NormalizedItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	SourceURL   string    `json:"sourceUrl"`
	SourceName  string    `json:"sourceName"`
	Tags        []string  `json:"tags"`
	PublishedAt time.Time `json:"publishedAt"`
	Origin      Origin    `json:"-"`
}
