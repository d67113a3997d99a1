package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/vertiqo/entitle/pkg/audit"
	"github.com/vertiqo/entitle/pkg/overrides"
)

var (
	dbURL          = flag.String("db-url", getEnv("ENTITLE_DATABASE_URL", "postgres://localhost/entitle?sslmode=disable"), "PostgreSQL connection URL")
	purgeSchedule  = flag.String("purge-schedule", "30 2 * * *", "Cron schedule for purging soft-deleted overrides (default: 02:30 UTC)")
	retainSchedule = flag.String("retention-schedule", "45 2 * * 0", "Cron schedule for audit retention (default: Sunday 02:45 UTC)")
	purgeAfterDays = flag.Int("purge-after-days", 90, "Days a soft-deleted override stays queryable before purge")
	retentionDays  = flag.Int("retention-days", audit.DefaultRetentionPolicy().RetentionDays, "Days audit events are kept")
	runOnce        = flag.Bool("run-once", false, "Run both sweeps once and exit")
)

func main() {
	flag.Parse()

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	overrideStore := overrides.NewStore(db)
	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		log.Fatalf("Failed to initialize audit logger: %v", err)
	}

	if *runOnce {
		purgeOverrides(overrideStore)
		applyRetention(auditLogger)
		return
	}

	c := cron.New()

	if _, err := c.AddFunc(*purgeSchedule, func() { purgeOverrides(overrideStore) }); err != nil {
		log.Fatalf("Failed to schedule override purge: %v", err)
	}
	if _, err := c.AddFunc(*retainSchedule, func() { applyRetention(auditLogger) }); err != nil {
		log.Fatalf("Failed to schedule audit retention: %v", err)
	}

	c.Start()
	log.Printf("Sweeper started: purge %q, retention %q", *purgeSchedule, *retainSchedule)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down")
	<-c.Stop().Done()
}

// purgeOverrides hard-deletes overrides that have been soft-deleted
// longer than the purge window. Until then they stay queryable for
// audit reconstruction.
func purgeOverrides(store *overrides.Store) {
	cutoff := time.Now().UTC().AddDate(0, 0, -*purgeAfterDays)
	log.Printf("Purging overrides soft-deleted before %s", cutoff.Format("2006-01-02"))

	purged, err := store.PurgeDeleted(context.Background(), cutoff)
	if err != nil {
		log.Printf("Override purge failed: %v", err)
		return
	}
	log.Printf("Purged %d overrides", purged)
}

func applyRetention(logger *audit.DBLogger) {
	policy := audit.RetentionPolicy{RetentionDays: *retentionDays}
	log.Printf("Applying audit retention of %d days", policy.RetentionDays)

	removed, err := logger.ApplyRetention(context.Background(), policy)
	if err != nil {
		log.Printf("Audit retention failed: %v", err)
		return
	}
	log.Printf("Removed %d expired audit events", removed)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
