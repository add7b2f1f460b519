package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/config"
	"github.com/Veraticus/the-dues-must-flow/internal/recurring"
	"github.com/Veraticus/the-dues-must-flow/internal/reminder"
	"github.com/Veraticus/the-dues-must-flow/internal/service"
	"github.com/Veraticus/the-dues-must-flow/internal/storage"
	"github.com/spf13/cobra"
)

// app holds the wired engine for one command invocation.
type app struct {
	store        *storage.SQLiteStorage
	reminders    *reminder.Scheduler
	scheduler    *recurring.Scheduler
	orchestrator *recurring.Orchestrator
	detector     *recurring.Detector
	cfg          config.EngineConfig
}

// newApp opens and migrates the database and builds the engine on top of it.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadEngineConfig()
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	reminders := reminder.NewScheduler(store, time.Now)

	var calendar service.CalendarSync
	if cfg.CalendarDir != "" {
		ics, err := reminder.NewICSCalendar(cfg.CalendarDir, time.Now)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		calendar = ics
	}

	scheduler := recurring.NewScheduler(store, reminders, calendar, cfg.Recurring())
	slog.Debug("Engine ready", "database", cfg.DatabasePath, "calendar", cfg.CalendarDir)

	return &app{
		store:        store,
		reminders:    reminders,
		scheduler:    scheduler,
		orchestrator: recurring.NewOrchestrator(store, scheduler),
		detector:     recurring.NewDetector(store, scheduler),
		cfg:          cfg,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

// withApp adapts a command body that needs the engine into a cobra RunE.
func withApp(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd, a, args)
	}
}
