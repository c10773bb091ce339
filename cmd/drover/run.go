package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/droverhq/drover"
	"github.com/droverhq/drover/container"
	"github.com/droverhq/drover/notify"
	"github.com/droverhq/drover/store"
)

// runCmd starts the orchestrator from a config file and blocks until a
// shutdown signal arrives.
func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	useDocker := fs.Bool("docker", false, "Run workers in Docker containers")
	image := fs.String("image", container.DefaultImage, "Worker container image (with --docker)")
	verbose := fs.Bool("verbose", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Println(`Usage: drover run <config.yaml> [options]

Run the orchestrator: spawn configured agents, register schedules,
and dispatch tasks until interrupted.

Options:`)
		fs.PrintDefaults()
		fmt.Println(`
Examples:
  drover run drover.yaml
  drover run drover.yaml --docker --image droverhq/worker:latest`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: no config file specified")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := drover.LoadConfig(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	opts := []drover.OrchestratorOption{
		drover.WithLogger(logger),
		drover.WithMaxAgents(cfg.MaxAgents),
		drover.WithDispatchTimeout(cfg.ParsedDispatchTimeout()),
	}

	// Persistence
	var st *store.SQLiteStore
	if cfg.StorePath != "" {
		st, err = store.NewSQLiteStore(cfg.StorePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		if err := st.Init(); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing store: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()
		opts = append(opts, drover.WithStore(st))
	}

	// Worker supervisor
	if *useDocker {
		sup, err := container.NewDockerSupervisor(
			container.WithImage(*image),
			container.WithLogger(logger),
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !sup.IsAvailable() {
			fmt.Fprintln(os.Stderr, "Error: --docker requested but the Docker daemon is not reachable")
			os.Exit(1)
		}
		defer sup.Close()
		opts = append(opts, drover.WithSupervisor(sup))
	} else {
		opts = append(opts, drover.WithSupervisor(
			drover.NewProcessSupervisor(cfg.WorkerBinary, drover.WithSupervisorLogger(logger)),
		))
	}

	// Operator alerts
	if cfg.Telegram.Token != "" {
		alerter, err := notify.NewTelegramAlerter(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			logger.Warn("telegram alerter unavailable, falling back to log alerts", "error", err)
			opts = append(opts, drover.WithAlerter(&notify.LogAlerter{Logger: logger}))
		} else {
			opts = append(opts, drover.WithAlerter(alerter))
		}
	} else {
		opts = append(opts, drover.WithAlerter(&notify.LogAlerter{Logger: logger}))
	}

	orch := drover.NewOrchestrator(opts...)

	for _, a := range cfg.Agents {
		agent := orch.SpawnAgent(drover.AgentSpec{
			Name:         a.Name,
			Role:         a.Role,
			Capabilities: drover.NormalizeCapabilities(a.Capabilities),
		})
		logger.Info("agent spawned", "id", agent.ID, "name", agent.Name)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var persist func(drover.ScheduledTask) error
	var remove func(string) error
	if st != nil {
		persist = func(job drover.ScheduledTask) error {
			return st.UpsertSchedule(store.Schedule{
				Name:        job.Name,
				Cron:        job.Cron,
				Description: job.Description,
				Priority:    job.Priority,
				Enabled:     job.Enabled,
			})
		}
		remove = st.DeleteSchedule
	}
	sched := drover.NewScheduler(orch, persist, remove)
	for _, job := range cfg.Schedules {
		if err := sched.AddJob(job); err != nil {
			fmt.Fprintf(os.Stderr, "Error adding schedule %q: %v\n", job.Name, err)
			os.Exit(1)
		}
	}
	go sched.Start(ctx)

	logger.Info("drover running", "agents", len(cfg.Agents), "schedules", len(cfg.Schedules))
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
}

// validateCmd validates a config file without running anything.
func validateCmd(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "Show detailed validation results")

	fs.Usage = func() {
		fmt.Println(`Usage: drover validate <config.yaml> [options]

Validate a config file without running the orchestrator.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: no config file specified")
		fs.Usage()
		os.Exit(1)
	}

	file := fs.Arg(0)
	cfg, err := drover.LoadConfig(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Printf("File: %s\n", file)
		fmt.Printf("Max agents: %d\n", cfg.MaxAgents)
		fmt.Printf("Dispatch timeout: %s\n", cfg.ParsedDispatchTimeout())
		fmt.Println()

		fmt.Printf("Agents (%d):\n", len(cfg.Agents))
		for _, a := range cfg.Agents {
			caps := drover.NormalizeCapabilities(a.Capabilities)
			fmt.Printf("  - %s: role=%s capabilities=%v\n", a.Name, a.Role, caps)
		}
		fmt.Println()

		fmt.Printf("Schedules (%d):\n", len(cfg.Schedules))
		for _, s := range cfg.Schedules {
			state := "enabled"
			if !s.Enabled {
				state = "disabled"
			}
			fmt.Printf("  - %s: %s (%s)\n", s.Name, s.Cron, state)
		}
	}

	fmt.Printf("Valid: %s\n", file)
}
