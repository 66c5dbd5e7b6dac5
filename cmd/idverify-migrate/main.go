// Command idverify-migrate runs the one-shot legacy-tenant migration
// against a data directory, outside of the main server process: any
// Record or Batch persisted without a tenant-id is assigned the legacy
// sentinel tenant. It is idempotent and safe to run against a
// directory that has already been migrated, or against one opened
// directly by the server (which runs the same migration on startup).
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nortis/idverify/pkg/log"
	"github.com/nortis/idverify/pkg/storage"
)

func main() {
	dataDir := flag.String("data-dir", "./data", "path to the data directory holding idverify.db")
	backup := flag.Bool("backup", true, "copy the database file aside before migrating")
	dryRun := flag.Bool("dry-run", false, "log that the migration would run, without opening or writing the database")
	flag.Parse()

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("migrate")

	dbPath := filepath.Join(*dataDir, "idverify.db")
	if _, err := os.Stat(dbPath); err != nil {
		logger.Fatal().Err(err).Str("path", dbPath).Msg("database file not found")
	}

	if *backup && !*dryRun {
		backupPath := fmt.Sprintf("%s.%d.bak", dbPath, time.Now().Unix())
		if err := copyFile(dbPath, backupPath); err != nil {
			logger.Fatal().Err(err).Msg("failed to back up database before migrating")
		}
		logger.Info().Str("backup_path", backupPath).Msg("backed up database")
	}

	if *dryRun {
		logger.Info().Str("data_dir", *dataDir).Msg("dry run: would run legacy-tenant migration, no changes made")
		return
	}

	store, err := storage.NewBoltStore(*dataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}
	defer store.Close()

	n, err := store.MigrateLegacyTenant()
	if err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	logger.Info().Int("migrated", n).Msg("legacy-tenant migration complete")
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
