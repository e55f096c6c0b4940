// main.go - Admin control tool for visitlens
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"gopkg.in/yaml.v3"

	"visitlens/internal"
	"visitlens/internal/events"
	"visitlens/internal/funnels"
	"visitlens/internal/http/middleware"
	"visitlens/internal/reports"
	"visitlens/internal/seeder"
	"visitlens/internal/sessions"
	"visitlens/internal/timeframe"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&MigrateCommand{},
	&StatusCommand{},
	&RunReportsCommand{},
	&EvaluateAlertsCommand{},
	&EvaluateFunnelsCommand{},
	&CreateFunnelCommand{},
	&HashAPIKeyCommand{},
	&SeedCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	// Try to initialize the app
	app, err := internal.NewApp()
	if err != nil {
		log.Printf("Warning: Failed to initialize app: %v", err)
		log.Println("Proceeding with limited functionality...")
	}

	defer func() {
		if app != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
			app.Services.Close()
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run migrations")
	}

	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

// Name returns the command name
func (c *StatusCommand) Name() string {
	return "status"
}

// Description returns the command description
func (c *StatusCommand) Description() string {
	return "Shows the current system status"
}

// Execute implements the status command
func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot check status: app initialization failed")
	}

	db := app.DBManager.GetConnection()

	var eventCount, sessionCount, funnelCount, reportCount, pendingExports int64
	counts := []struct {
		model any
		where string
		dest  *int64
	}{
		{&events.Event{}, "", &eventCount},
		{&sessions.Session{}, "", &sessionCount},
		{&funnels.Funnel{}, "", &funnelCount},
		{&reports.ScheduledReport{}, "", &reportCount},
		{&reports.WarehouseExport{}, "status = 'pending'", &pendingExports},
	}
	for _, c := range counts {
		q := db.Model(c.model)
		if c.where != "" {
			q = q.Where(c.where)
		}
		if err := q.Count(c.dest).Error; err != nil {
			return fmt.Errorf("database error: %w", err)
		}
	}

	cfg := app.Services.Config
	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Events: %d", eventCount)
	log.Printf("- Sessions: %d", sessionCount)
	log.Printf("- Funnels: %d", funnelCount)
	log.Printf("- Scheduled reports: %d", reportCount)
	log.Printf("- Pending warehouse exports: %d", pendingExports)
	log.Printf("- Warehouse configured: %t", cfg.WarehouseConfigured())
	log.Printf("- Email configured: %t", cfg.EmailConfigured())

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	log.Printf("- Max Open Connections: %d", sqlDB.Stats().MaxOpenConnections)
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)
	log.Printf("- In Use: %d", sqlDB.Stats().InUse)
	log.Printf("- Idle: %d", sqlDB.Stats().Idle)

	return nil
}

// RunReportsCommand runs every due scheduled report once
type RunReportsCommand struct{}

func (c *RunReportsCommand) Name() string { return "run-reports" }
func (c *RunReportsCommand) Description() string {
	return "Runs due scheduled reports and flushes pending warehouse exports"
}

func (c *RunReportsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed")
	}

	summary, err := app.Services.Reports.RunDue(ctx)
	if err != nil {
		return err
	}
	log.Printf("Reports: %d due, %d completed, %d failed, %d skipped",
		summary.Due, summary.Completed, summary.Failed, summary.Skipped)
	for _, e := range summary.Errors {
		log.Printf("  error: %s", e)
	}

	flushed, err := app.Services.Reports.FlushPending(ctx)
	if err != nil {
		return err
	}
	log.Printf("Warehouse exports flushed: %d", flushed)
	return nil
}

// EvaluateAlertsCommand runs the alert sweep once
type EvaluateAlertsCommand struct{}

func (c *EvaluateAlertsCommand) Name() string        { return "evaluate-alerts" }
func (c *EvaluateAlertsCommand) Description() string { return "Evaluates every active alert rule" }

func (c *EvaluateAlertsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed")
	}

	summary, err := app.Services.Alerts.Run(ctx)
	if err != nil {
		return err
	}
	log.Printf("Alerts: %d evaluated, %d triggered, %d skipped", summary.Evaluated, summary.Triggered, summary.Skipped)
	for _, e := range summary.Errors {
		log.Printf("  error: %s", e)
	}
	return nil
}

// EvaluateFunnelsCommand computes funnel results for a day
type EvaluateFunnelsCommand struct{}

func (c *EvaluateFunnelsCommand) Name() string { return "evaluate-funnels" }
func (c *EvaluateFunnelsCommand) Description() string {
	return "Evaluates active funnels for [YYYY-MM-DD] (default yesterday)"
}

func (c *EvaluateFunnelsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed")
	}

	day := timeframe.Day(time.Now()).AddDate(0, 0, -1)
	if len(args) > 0 {
		parsed, err := timeframe.ParseDate(args[0], day)
		if err != nil {
			return err
		}
		day = parsed
	}

	evaluated, errs := app.Services.Funnels.EvaluateActive(ctx, day)
	log.Printf("Funnels evaluated for %s: %d", timeframe.DateString(day), evaluated)
	for _, e := range errs {
		log.Printf("  error: %v", e)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d funnel evaluations failed", len(errs))
	}
	return nil
}

// CreateFunnelCommand loads a funnel definition from a YAML file
type CreateFunnelCommand struct{}

func (c *CreateFunnelCommand) Name() string        { return "create-funnel" }
func (c *CreateFunnelCommand) Description() string { return "Creates a funnel from a YAML definition file" }

func (c *CreateFunnelCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <file.yaml>", c.Name())
	}
	if app == nil {
		return fmt.Errorf("app initialization failed")
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	var f funnels.Funnel
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}

	if err := funnels.Create(app.DBManager.GetConnection(), &f); err != nil {
		return err
	}
	log.Printf("Funnel %q created with id %d and %d steps", f.Name, f.ID, len(f.Steps))
	return nil
}

// HashAPIKeyCommand prints the bcrypt hash for an admin API key
type HashAPIKeyCommand struct{}

func (c *HashAPIKeyCommand) Name() string { return "hash-api-key" }
func (c *HashAPIKeyCommand) Description() string {
	return "Prints the hash to set as VISITLENS_ADMIN_API_KEY_HASH"
}

func (c *HashAPIKeyCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 || args[0] == "" {
		return fmt.Errorf("usage: %s <key>", c.Name())
	}
	hash, err := middleware.HashAPIKey(args[0])
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

// SeedCommand populates the DB with sample traffic
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with sample traffic" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	sessionCount := fs.Int("sessions", 500, "number of sessions to generate")
	days := fs.Int("days", 14, "spread sessions over this many days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return fmt.Errorf("unable to initialise app")
	}

	se := seeder.NewSeeder(app.DBManager.GetConnection(), slog.Default(), app.Services.Config.IdentitySalt, *sessionCount, *days)
	_, err := se.Run(ctx)
	return err
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

// Name returns the command name
func (c *HelpCommand) Name() string {
	return "help"
}

// Description returns the command description
func (c *HelpCommand) Description() string {
	return "Shows usage information"
}

// Execute implements the help command
func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: vlctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
