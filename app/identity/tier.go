package identity

import (
	"time"
)

type Tier string

const (
	TierVerified   Tier = "verified"
	TierKnown      Tier = "known"
	TierUnverified Tier = "unverified"
)

type State string

const (
	StateUncached      State = "uncached"
	StateCachedFresh   State = "cached-fresh"
	StateCachedAging   State = "cached-aging"
	StateCachedExpired State = "cached-expired"
)

// TierOf derives the trust tier of a verdict from its age.
func TierOf(entry Entry, now time.Time, ttl time.Duration) Tier {
	if !entry.Valid {
		return TierUnverified
	}
	if now.Sub(entry.CachedAt) <= ttl/2 {
		return TierVerified
	}
	return TierKnown
}

// CacheState places a cache lookup in the per-domain lifecycle. An entry is
// usable while younger than ttl.
func CacheState(entry Entry, ok bool, now time.Time, ttl time.Duration) State {
	if !ok {
		return StateUncached
	}
	age := now.Sub(entry.CachedAt)
	switch {
	case age >= ttl:
		return StateCachedExpired
	case age <= ttl/2:
		return StateCachedFresh
	default:
		return StateCachedAging
	}
}

func (s State) usable() bool {
	return s == StateCachedFresh || s == StateCachedAging
}
