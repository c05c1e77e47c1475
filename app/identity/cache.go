package identity

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultTTL       = time.Hour
	DefaultCacheSize = 4096
)

// Entry is a cached verdict for one domain. Exactly one of Manifest and
// Error is set.
type Entry struct {
	Valid    bool      `json:"valid"`
	Manifest *Manifest `json:"manifest,omitempty"`
	Error    string    `json:"error,omitempty"`
	CachedAt time.Time `json:"cached_at"`
}

func validEntry(m *Manifest, at time.Time) Entry {
	return Entry{Valid: true, Manifest: m, CachedAt: at}
}

func invalidEntry(reason string, at time.Time) Entry {
	return Entry{Valid: false, Error: reason, CachedAt: at}
}

// TrustCache holds verdicts keyed by lowercased domain. Writes replace whole
// entries; the least recently used domain is evicted when full.
type TrustCache struct {
	entries *lru.Cache[string, Entry]
}

func NewTrustCache(size int) (*TrustCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create trust cache: %w", err)
	}
	return &TrustCache{entries: entries}, nil
}

func (c *TrustCache) Get(domain string) (Entry, bool) {
	return c.entries.Get(domain)
}

func (c *TrustCache) Put(domain string, entry Entry) {
	c.entries.Add(domain, entry)
}

// Clear drops every verdict.
func (c *TrustCache) Clear() {
	c.entries.Purge()
}

func (c *TrustCache) Len() int {
	return c.entries.Len()
}
