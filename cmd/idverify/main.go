// Command idverify runs the national-ID verification pipeline: the
// tenant-scoped HTTP control plane, the admin health/metrics surface,
// the process-wide Session Manager, and the startup recovery sweep.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nortis/idverify/pkg/api"
	"github.com/nortis/idverify/pkg/config"
	"github.com/nortis/idverify/pkg/log"
	"github.com/nortis/idverify/pkg/orchestrator"
	"github.com/nortis/idverify/pkg/recovery"
	"github.com/nortis/idverify/pkg/report"
	"github.com/nortis/idverify/pkg/retry"
	"github.com/nortis/idverify/pkg/sessionmgr"
	"github.com/nortis/idverify/pkg/stage/fakestage"
	"github.com/nortis/idverify/pkg/storage"
)

var (
	overlayPath string
	logLevel    string
	jsonLogs    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "idverify",
		Short: "Multi-tenant national ID verification pipeline",
		RunE:  runServer,
	}

	rootCmd.PersistentFlags().StringVar(&overlayPath, "config", "", "path to a YAML config overlay file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")

	cobra.OnInitialize(initLogging)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging() {
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: jsonLogs,
	})
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(overlayPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	if n, err := store.MigrateLegacyTenant(); err != nil {
		return fmt.Errorf("legacy tenant migration failed: %w", err)
	} else if n > 0 {
		log.Logger.Info().Int("count", n).Msg("migrated legacy-tenant records on startup")
	}

	recoverySvc := recovery.New(store)
	if n, err := recoverySvc.RecoverAll(); err != nil {
		log.Logger.Error().Err(err).Msg("startup recovery sweep failed")
	} else {
		log.Logger.Info().Int("count", n).Msg("startup recovery sweep complete")
	}
	recoverySvc.StartBackgroundSweep()
	defer recoverySvc.Stop()

	retrySvc := retry.New(store)
	reportSvc := report.New(store)

	sessions := sessionmgr.New(cfg.MaxGlobalWorkers, cfg.SessionIdleTimeout)
	sessions.StartIdleEviction()
	defer sessions.Stop()

	factory := fakestage.NewFactory()
	procA := fakestage.NewProcessor("A", nil)
	procB := fakestage.NewProcessor("B", nil)

	timing := orchestrator.Timing{
		PollInterval: cfg.WorkerPollInterval,
		JitterAMin:   cfg.JitterAMin,
		JitterAMax:   cfg.JitterAMax,
		JitterBMin:   cfg.JitterBMin,
		JitterBMax:   cfg.JitterBMax,
	}

	server := api.NewServer(api.Deps{
		Store:    store,
		Sessions: sessions,
		Recovery: recoverySvc,
		Retry:    retrySvc,
		Report:   reportSvc,
		Factory:  factory,
		ProcA:    procA,
		ProcB:    procB,
		Timing:   timing,
	})

	admin := api.NewAdminServer(store)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	adminAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port+1)

	go func() {
		log.Logger.Info().Str("addr", adminAddr).Msg("admin server listening")
		if err := admin.Start(adminAddr); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("admin server exited")
		}
	}()

	go func() {
		log.Logger.Info().Str("addr", addr).Msg("control plane listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("control plane exited")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Logger.Info().Msg("shutting down")
	sessions.DrainAll()
	return nil
}
