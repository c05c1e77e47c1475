package api

import (
	"context"
	"time"

	"github.com/lysyi3m/trustfetch/app/feed"
	"github.com/lysyi3m/trustfetch/app/identity"
	"github.com/lysyi3m/trustfetch/app/ingest"
	"github.com/lysyi3m/trustfetch/app/item"
	"github.com/lysyi3m/trustfetch/app/sources"
	"github.com/lysyi3m/trustfetch/app/tasks"
)

type GeneratorInterface interface {
	Run(channel feed.Channel, items []item.NormalizedItem) (string, error)
}

var _ GeneratorInterface = (*feed.Generator)(nil)

// ItemReader is the read side of the item store.
type ItemReader interface {
	GetItems(ctx context.Context, limit int) ([]item.NormalizedItem, error)
	GetItemCount(ctx context.Context) (int, error)
	GetLatestRun(ctx context.Context) (*ingest.Stats, error)
}

type TrustVerifier interface {
	Verify(ctx context.Context, raw string) (identity.Verification, error)
	ClearCache()
	CacheSize() int
}

var _ TrustVerifier = (*identity.Verifier)(nil)

type Handler struct {
	catalog   *sources.Catalog
	items     ItemReader
	verifier  TrustVerifier
	scheduler tasks.TaskSchedulerInterface
	generator GeneratorInterface
	channel   feed.Channel
}

type verifyResponse struct {
	Handle   string             `json:"handle"`
	Valid    bool               `json:"valid"`
	Manifest *identity.Manifest `json:"manifest,omitempty"`
	Error    string             `json:"error,omitempty"`
	CachedAt time.Time          `json:"cached_at"`
	Tier     identity.Tier      `json:"tier"`
	State    identity.State     `json:"state"`
	Cached   bool               `json:"cached"`
}

type itemsResponse struct {
	Items []item.NormalizedItem `json:"items"`
	Total int                   `json:"total"`
}
