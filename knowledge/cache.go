package knowledge

import (
	"encoding/json"
	"time"
)

// Snapshot is one parsed load of the static corpora.
type Snapshot struct {
	Entries []Entry
	Rules   TriageRules
	// RulesDocument is the triage rules file as read from disk.
	RulesDocument json.RawMessage
	LoadedAt      time.Time
}

// CorpusCache holds the most recent corpus snapshot.
// Implementations can be swapped for a shared cache without touching Corpus.
type CorpusCache interface {
	// Get returns the cached snapshot, or nil on miss or expiry.
	Get() *Snapshot

	Set(s *Snapshot)

	// Invalidate clears the cache, forcing a reload on next access.
	Invalidate()

	IsValid() bool
}

// CacheConfig controls cache expiry.
type CacheConfig struct {
	// TTL is the lifetime of a snapshot. 0 means manual invalidation only.
	TTL time.Duration
}

// DefaultCacheConfig returns the default corpus cache settings.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 5 * time.Minute}
}
