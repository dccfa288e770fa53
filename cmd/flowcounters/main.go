package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/obsidianstack/flowcounters/internal/aggregate"
	"github.com/obsidianstack/flowcounters/internal/config"
	"github.com/obsidianstack/flowcounters/internal/report"
	"github.com/obsidianstack/flowcounters/internal/stats"
	"github.com/obsidianstack/flowcounters/internal/tracker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	runName := flag.String("run", "", "only report the named run")
	jobID := flag.String("job", "", "report the counters of a single tracker job and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		for _, e := range config.Errors(err) {
			slog.Error("config violation", "err", e)
		}
		os.Exit(1)
	}

	// Logs go to stderr so stdout carries only reports.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Report.Level()}))
	slog.SetDefault(logger)

	slog.Info("flowcounters starting",
		"config", *configPath,
		"runs", len(cfg.Runs),
		"tracker", cfg.Tracker.Endpoint,
		"schedule", cfg.Report.Schedule,
	)

	var jobs stats.JobSource
	var client *tracker.Client
	if cfg.Tracker.Endpoint != "" {
		client, err = tracker.New(cfg.Tracker, logger)
		if err != nil {
			slog.Error("failed to build tracker client", "err", err)
			os.Exit(1)
		}
		jobs = client
	}

	if *jobID != "" {
		if client == nil {
			slog.Error("-job needs tracker.endpoint in the config")
			os.Exit(1)
		}
		agg := aggregate.New(logger)
		fmt.Fprint(os.Stdout, report.New(agg).Job(*jobID, agg.JobCounters(client.Job(*jobID))))
		return
	}

	r := &renderer{cfg: cfg, jobs: jobs, run: *runName, logger: logger}

	if cfg.Report.Schedule == "" {
		if err := r.render(os.Stdout); err != nil {
			slog.Error("render failed", "err", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := cron.New()
	if _, err := c.AddFunc(cfg.Report.Schedule, func() {
		if err := r.render(os.Stdout); err != nil {
			slog.Warn("scheduled render failed", "err", err)
		}
	}); err != nil {
		slog.Error("invalid report schedule", "schedule", cfg.Report.Schedule, "err", err)
		os.Exit(1)
	}
	c.Start()

	// Runs and report format follow the file; tracker and schedule changes
	// need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			r.swap(updated)
			slog.Info("config hot-reloaded", "runs", len(updated.Runs))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("flowcounters shutting down")
	<-c.Stop().Done()
}

// renderer writes reports for the configured runs. The config may be
// swapped by the watcher while a scheduled render is in flight.
type renderer struct {
	mu     sync.Mutex
	cfg    *config.Config
	jobs   stats.JobSource
	run    string
	logger *slog.Logger
}

func (r *renderer) swap(cfg *config.Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *renderer) render(w io.Writer) error {
	r.mu.Lock()
	cfg := r.cfg
	r.mu.Unlock()

	runs := cfg.Runs
	if r.run != "" {
		rc, ok := cfg.Run(r.run)
		if !ok {
			return fmt.Errorf("no run named %q in config", r.run)
		}
		runs = []config.RunConfig{rc}
	}

	agg := aggregate.New(r.logger)
	f := report.New(agg)
	for _, rc := range runs {
		run := rc.Build(r.jobs)
		switch cfg.Report.Format {
		case config.FormatYAML:
			m, err := agg.RunMap(run)
			if err != nil {
				return err
			}
			out, err := report.RunMapYAML(m)
			if err != nil {
				return fmt.Errorf("run %s: %w", rc.Name, err)
			}
			if _, err := fmt.Fprintf(w, "# run: %s\n%s", rc.Name, out); err != nil {
				return err
			}
		default:
			if err := f.Print(w, run); err != nil {
				return fmt.Errorf("run %s: %w", rc.Name, err)
			}
		}
	}
	return nil
}
