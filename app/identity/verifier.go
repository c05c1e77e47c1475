// Package identity verifies agent handles against the manifest their domain
// publishes and caches the verdict per domain.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lysyi3m/trustfetch/app/fetch"
	"github.com/lysyi3m/trustfetch/app/metrics"
	"github.com/lysyi3m/trustfetch/app/safety"
)

const (
	ManifestPath     = "/.well-known/agent.json"
	DefaultTimeout   = 10 * time.Second
	MaxManifestBytes = 64 << 10
)

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts fetch.RequestOptions, policy safety.Policy) ([]byte, error)
}

type Verifier struct {
	fetcher Fetcher
	cache   *TrustCache
	policy  safety.Policy
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	group   singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the shared manifest fetch for one domain. Its context is
// cancelled once every waiter has left.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

type Option func(*Verifier)

func WithTTL(ttl time.Duration) Option {
	return func(v *Verifier) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func WithPolicy(policy safety.Policy) Option {
	return func(v *Verifier) { v.policy = policy }
}

func WithTimeout(timeout time.Duration) Option {
	return func(v *Verifier) {
		if timeout > 0 {
			v.timeout = timeout
		}
	}
}

func NewVerifier(fetcher Fetcher, cache *TrustCache, opts ...Option) *Verifier {
	v := &Verifier{
		fetcher: fetcher,
		cache:   cache,
		policy:  safety.DefaultPolicy(),
		ttl:     DefaultTTL,
		timeout: DefaultTimeout,
		now:     time.Now,
		flights: make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verification is the outcome of Verify. State is the cache state observed
// before the call.
type Verification struct {
	Handle Handle
	Entry
	Tier   Tier
	State  State
	Cached bool
}

// Verify resolves raw to a verdict, from the cache when a usable entry
// exists. Only malformed handles and caller cancellation return an error;
// an unreachable or malformed manifest is a cached negative verdict.
func (v *Verifier) Verify(ctx context.Context, raw string) (Verification, error) {
	handle, err := ParseHandle(raw)
	if err != nil {
		return Verification{}, err
	}

	domain := cacheKey(handle.Domain)
	entry, ok := v.cache.Get(domain)
	state := CacheState(entry, ok, v.now(), v.ttl)

	if state.usable() {
		tier := TierOf(entry, v.now(), v.ttl)
		metrics.RecordVerification(string(tier), true)
		return Verification{Handle: handle, Entry: entry, Tier: tier, State: state, Cached: true}, nil
	}

	fl, ch := v.join(ctx, domain)

	select {
	case <-ctx.Done():
		v.leave(domain, fl)
		return Verification{}, fmt.Errorf("verification of %s interrupted: %w", domain, ctx.Err())
	case res := <-ch:
		v.leave(domain, fl)
		if res.Err != nil {
			return Verification{}, fmt.Errorf("verification of %s interrupted: %w", domain, res.Err)
		}
		entry = res.Val.(Entry)
	}

	tier := TierOf(entry, v.now(), v.ttl)
	metrics.RecordVerification(string(tier), false)
	slog.Info("Agent domain verified", "domain", domain, "valid", entry.Valid, "tier", tier, "error", entry.Error)

	return Verification{Handle: handle, Entry: entry, Tier: tier, State: state}, nil
}

// join registers the caller as a waiter on the domain's shared fetch,
// starting one if none is in flight.
func (v *Verifier) join(ctx context.Context, domain string) (*flight, <-chan singleflight.Result) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fl, ok := v.flights[domain]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{ctx: fctx, cancel: cancel}
		v.flights[domain] = fl
	}
	fl.waiters++

	ch := v.group.DoChan(domain, func() (any, error) {
		fresh := v.check(fl.ctx, domain)
		if err := fl.ctx.Err(); err != nil {
			return nil, err
		}
		v.cache.Put(domain, fresh)
		return fresh, nil
	})
	return fl, ch
}

// leave drops a waiter. The last one out cancels the shared fetch and
// detaches it so later callers start a new one.
func (v *Verifier) leave(domain string, fl *flight) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	fl.cancel()
	if v.flights[domain] == fl {
		delete(v.flights, domain)
		v.group.Forget(domain)
	}
}

// Lookup returns the cached verdict for domain without fetching.
func (v *Verifier) Lookup(domain string) (Entry, State) {
	domain = cacheKey(domain)
	entry, ok := v.cache.Get(domain)
	return entry, CacheState(entry, ok, v.now(), v.ttl)
}

func (v *Verifier) ClearCache() {
	v.cache.Clear()
	slog.Info("Trust cache cleared")
}

func (v *Verifier) CacheSize() int {
	return v.cache.Len()
}

func (v *Verifier) TTL() time.Duration {
	return v.ttl
}

// cacheKey folds the spellings of a domain that resolve to the same host.
func cacheKey(domain string) string {
	return strings.TrimSuffix(strings.ToLower(domain), ".")
}

func (v *Verifier) check(ctx context.Context, domain string) Entry {
	manifestURL := (&url.URL{Scheme: "https", Host: domain, Path: ManifestPath}).String()

	data, err := v.fetcher.Fetch(ctx, manifestURL, fetch.RequestOptions{
		Accept:   "application/json",
		Timeout:  v.timeout,
		MaxBytes: MaxManifestBytes,
	}, v.policy)
	if err != nil {
		return invalidEntry(fmt.Sprintf("failed to fetch manifest: %v", err), v.now())
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		return invalidEntry(err.Error(), v.now())
	}

	return validEntry(manifest, v.now())
}
