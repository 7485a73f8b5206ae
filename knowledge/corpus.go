package knowledge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	KnowledgeBaseFile = "knowledge_base.json"
	TriageRulesFile   = "triage_rules.json"
)

// Corpus serves the read-only knowledge base and triage rules from a data
// directory, reloading through its cache when the cached copy expires.
type Corpus struct {
	dir   string
	cache CorpusCache

	// loadMu serialises reloads so concurrent misses read the files once.
	loadMu sync.Mutex
}

// NewCorpus creates a corpus rooted at dir. A nil cache selects an in-memory
// cache with the default TTL.
func NewCorpus(dir string, cache CorpusCache) *Corpus {
	if cache == nil {
		cache = NewInMemoryCorpusCache(DefaultCacheConfig())
	}
	return &Corpus{dir: dir, cache: cache}
}

// Snapshot returns the cached corpus, loading it from disk on a miss.
func (c *Corpus) Snapshot() (*Snapshot, error) {
	if s := c.cache.Get(); s != nil {
		return s, nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if s := c.cache.Get(); s != nil {
		return s, nil
	}

	s, err := c.load()
	if err != nil {
		return nil, err
	}
	c.cache.Set(s)
	return s, nil
}

// Invalidate forces the next access to reread the data directory.
func (c *Corpus) Invalidate() {
	c.cache.Invalidate()
}

// Retriever returns a retriever over the current knowledge base.
func (c *Corpus) Retriever() (*Retriever, error) {
	s, err := c.Snapshot()
	if err != nil {
		return nil, err
	}
	return NewRetriever(s.Entries), nil
}

// TriageRules returns the parsed triage rules.
func (c *Corpus) TriageRules() (TriageRules, error) {
	s, err := c.Snapshot()
	if err != nil {
		return TriageRules{}, err
	}
	return s.Rules, nil
}

func (c *Corpus) load() (*Snapshot, error) {
	kbData, err := os.ReadFile(filepath.Join(c.dir, KnowledgeBaseFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge base: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(kbData, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge base: %w", err)
	}
	if err := validateEntries(entries); err != nil {
		return nil, err
	}

	rulesData, err := os.ReadFile(filepath.Join(c.dir, TriageRulesFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read triage rules: %w", err)
	}
	rules, err := DecodeTriageRules(rulesData)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Entries:       entries,
		Rules:         rules,
		RulesDocument: json.RawMessage(rulesData),
		LoadedAt:      time.Now(),
	}, nil
}

// DecodeTriageRules parses and validates a triage rules document.
// Keywords are lower-cased.
func DecodeTriageRules(data []byte) (TriageRules, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var rules TriageRules
	if err := dec.Decode(&rules); err != nil {
		return TriageRules{}, fmt.Errorf("failed to parse triage rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return TriageRules{}, fmt.Errorf("invalid triage rules: %w", err)
	}
	for i := range rules.Rules {
		r := &rules.Rules[i]
		r.Keyword = strings.ToLower(strings.TrimSpace(r.Keyword))
		r.Level, _ = ParseLevel(string(r.Level))
	}
	rules.Default.Level, _ = ParseLevel(string(rules.Default.Level))
	return rules, nil
}
