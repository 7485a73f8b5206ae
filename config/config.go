// Package config loads process configuration from the environment, with an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MemoryDatabaseURL selects the seeded in-memory store.
const MemoryDatabaseURL = "memory://"

// Config is the runtime configuration of the engine binaries.
type Config struct {
	Port                string
	DatabaseURL         string
	OrchestratorURL     string
	OrchestratorTimeout time.Duration
	GeminiAPIKey        string
	ForceDegradedMode   bool
	KnowledgeDataDir    string
	SeedFile            string
	CorpusCacheTTL      time.Duration
	ProbeTimeout        time.Duration
	MigrationsPath      string

	LogLevel        string
	// ErrorSampleRate logs 1 of every N warnings and errors.
	ErrorSampleRate int
	OTELEnabled     bool
	ServiceName     string
}

// UsesMemoryStore reports whether DatabaseURL selects the in-memory store.
func (c Config) UsesMemoryStore() bool {
	return strings.HasPrefix(c.DatabaseURL, MemoryDatabaseURL)
}

// Load reads the optional env files (default ".env") and then the process
// environment. Variables already set in the environment win over file values.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup. It is split from Load for tests.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	p := parser{lookup: lookup}

	cfg := Config{
		Port:                p.str("PORT", "3001"),
		DatabaseURL:         p.str("DATABASE_URL", ""),
		OrchestratorURL:     p.str("ORCHESTRATOR_URL", "http://localhost:8000/run"),
		OrchestratorTimeout: p.duration("ORCHESTRATOR_TIMEOUT", 30*time.Second),
		GeminiAPIKey:        p.str("GEMINI_API_KEY", ""),
		ForceDegradedMode:   p.boolean("FORCE_DEGRADED_MODE", false),
		KnowledgeDataDir:    p.str("KNOWLEDGE_DATA_DIR", "data"),
		SeedFile:            p.str("SEED_FILE", "data/seed.yaml"),
		CorpusCacheTTL:      p.duration("CORPUS_CACHE_TTL", 5*time.Minute),
		ProbeTimeout:        p.duration("PROBE_TIMEOUT", 2*time.Second),
		MigrationsPath:      p.str("MIGRATIONS_PATH", "migrations"),
		LogLevel:            p.str("LOG_LEVEL", "INFO"),
		ErrorSampleRate:     p.integer("ERROR_SAMPLE_RATE", 1),
		OTELEnabled:         p.boolean("OTEL_ENABLED", false),
		ServiceName:         p.str("OTEL_SERVICE_NAME", "careengine"),
	}

	if cfg.DatabaseURL == "" {
		p.errs = append(p.errs, errors.New("DATABASE_URL is required (use memory:// for the in-memory store)"))
	}
	if cfg.ErrorSampleRate < 1 {
		p.errs = append(p.errs, fmt.Errorf("ERROR_SAMPLE_RATE %d must be at least 1", cfg.ErrorSampleRate))
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) raw(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) str(key, def string) string {
	if v, ok := p.raw(key); ok {
		return v
	}
	return def
}

func (p *parser) boolean(key string, def bool) bool {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (p *parser) integer(key string, def int) int {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}
