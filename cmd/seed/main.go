// Command seed loads the reference and demo data file into PostgreSQL,
// replacing whatever the tables hold.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/connectedhealth/careengine/config"
	"github.com/connectedhealth/careengine/internal/logger"
	"github.com/connectedhealth/careengine/store"
)

func main() {
	var databaseURL string
	var seedFile string
	var timeout time.Duration

	flag.StringVar(&databaseURL, "database", "", "Database URL (defaults to DATABASE_URL)")
	flag.StringVar(&seedFile, "file", "", "Seed file (defaults to SEED_FILE)")
	flag.DurationVar(&timeout, "timeout", time.Minute, "Overall timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil && databaseURL == "" {
		logger.Fatal("invalid configuration", "error", err)
	}
	if databaseURL == "" {
		databaseURL = cfg.DatabaseURL
	}
	if seedFile == "" {
		seedFile = cfg.SeedFile
	}
	if seedFile == "" {
		seedFile = "data/seed.yaml"
	}
	if (config.Config{DatabaseURL: databaseURL}).UsesMemoryStore() {
		logger.Fatal("the in-memory store seeds itself at startup; point DATABASE_URL at PostgreSQL")
	}

	data, err := store.LoadSeedFile(seedFile, time.Now().UTC())
	if err != nil {
		logger.Fatal("failed to load seed file", "file", seedFile, "error", err)
	}

	st, err := store.OpenPostgres(databaseURL)
	if err != nil {
		logger.Fatal("failed to open database", "error", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := st.Ping(ctx); err != nil {
		logger.Fatal("database unreachable", "error", err)
	}
	if err := st.Seed(ctx, data); err != nil {
		logger.Fatal("failed to seed database", "error", err)
	}

	logger.Info("database seeded",
		"file", seedFile,
		"facilities", len(data.Facilities),
		"programs", len(data.Programs),
		"patients", len(data.Patients),
		"reminders", len(data.Reminders),
		"interactions", len(data.Interactions),
		"events", len(data.Events),
	)
}
