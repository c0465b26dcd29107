package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/basket/workforce/internal/agent"
	"github.com/basket/workforce/internal/bridge"
	"github.com/basket/workforce/internal/bus"
	"github.com/basket/workforce/internal/config"
	"github.com/basket/workforce/internal/coordinator"
	"github.com/basket/workforce/internal/cron"
	"github.com/basket/workforce/internal/gateway"
	"github.com/basket/workforce/internal/memory"
	otelPkg "github.com/basket/workforce/internal/otel"
	"github.com/basket/workforce/internal/persistence"
	"github.com/basket/workforce/internal/task"
	"github.com/basket/workforce/internal/telemetry"
)

const journalRetentionJob = "journal-retention"

// startupError tags a wiring failure with the reason code reported by
// fatalStartup.
type startupError struct {
	code string
	err  error
}

func (e *startupError) Error() string { return e.code + ": " + e.err.Error() }
func (e *startupError) Unwrap() error { return e.err }

func failed(code string, err error) error {
	return &startupError{code: code, err: err}
}

// reasonCode extracts the startup reason code from err.
func reasonCode(err error, fallback string) string {
	var se *startupError
	if errors.As(err, &se) {
		return se.code
	}
	return fallback
}

// daemon holds the wired runtime.
type daemon struct {
	cfg    config.Config
	logger *slog.Logger

	provider  *otelPkg.Provider
	store     *persistence.TaskStore
	journal   *persistence.Journal
	memory    *memory.Writer
	registry  *agent.Registry
	bus       *bus.Bus
	bridge    *bridge.Bridge
	coord     *coordinator.Coordinator
	gateway   *gateway.Server
	scheduler *cron.Scheduler
}

func newDaemon(ctx context.Context, cfg config.Config, fsys afero.Fs, logger *slog.Logger) (*daemon, error) {
	provider, err := otelPkg.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, failed("E_OTEL_INIT", err)
	}
	metrics, err := otelPkg.NewMetrics(provider.Meter)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, failed("E_OTEL_METRICS", err)
	}
	logger.Info("startup phase", "phase", "telemetry_ready", "otel_enabled", provider.Enabled(), "otel_instance", provider.Instance)

	store, err := persistence.NewTaskStore(fsys, cfg.TasksDir, persistence.WithLogger(logger))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, failed("E_TASK_STORE_INIT", err)
	}
	journal, err := persistence.OpenJournal(cfg.JournalPath, logger)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, failed("E_JOURNAL_OPEN", err)
	}
	mem, err := memory.NewWriter(cfg.MemoryDir, memoryConfig(cfg), logger)
	if err != nil {
		_ = journal.Close()
		_ = provider.Shutdown(ctx)
		return nil, failed("E_MEMORY_INIT", err)
	}
	registry, err := agent.NewRegistry(logger, employees(cfg)...)
	if err != nil {
		_ = journal.Close()
		_ = provider.Shutdown(ctx)
		return nil, failed("E_ROSTER_INIT", err)
	}
	logger.Info("startup phase", "phase", "storage_ready",
		"tasks_dir", cfg.TasksDir, "memory_dir", cfg.MemoryDir, "employees", len(cfg.Employees))

	eventBus := bus.New()
	br := bridge.New(bridge.Config{
		Store:            store,
		Memory:           mem,
		Sink:             eventBus,
		Roster:           registry,
		Rules:            stageRules(cfg.StageCues),
		Debounce:         cfg.Debounce(),
		ThinkingMaxChars: cfg.Bridge.ThinkingMaxChars,
		Logger:           logger,
		Metrics:          metrics,
		Tracer:           provider.Tracer,
	})
	coord := coordinator.New(coordinator.Options{
		Store:  store,
		Bridge: br,
		Roster: registry,
		Sink:   eventBus,
		Logger: logger,
	})
	gw := gateway.New(gateway.Config{
		Coordinator:       coord,
		Bridge:            br,
		Waiter:            coordinator.NewWaiter(eventBus, store),
		Journal:           journal,
		Bus:               eventBus,
		Registry:          registry,
		AuthToken:         cfg.AuthToken,
		AllowOrigins:      cfg.AllowOrigins,
		ConfigFingerprint: cfg.Fingerprint(),
		RateLimit:         rateLimit(cfg.RateLimit),
		Metrics:           metrics,
		Tracer:            provider.Tracer,
		Logger:            logger,
	})

	sched, err := cron.NewScheduler(cron.Config{
		Jobs: []cron.Job{
			cron.RetentionJob(journalRetentionJob, cfg.Retention.Schedule, journal, cfg.RetentionWindow(), logger),
		},
		Logger: logger,
	})
	if err != nil {
		eventBus.Close()
		_ = journal.Close()
		_ = provider.Shutdown(ctx)
		return nil, failed("E_SCHEDULER_INIT", err)
	}

	return &daemon{
		cfg:       cfg,
		logger:    logger,
		provider:  provider,
		store:     store,
		journal:   journal,
		memory:    mem,
		registry:  registry,
		bus:       eventBus,
		bridge:    br,
		coord:     coord,
		gateway:   gw,
		scheduler: sched,
	}, nil
}

// start launches the background workers. They stop when ctx is done.
func (d *daemon) start(ctx context.Context) {
	sub := d.bus.Subscribe("task.")
	go d.journal.Consume(ctx, sub, nil)
	d.scheduler.Start(ctx)
	d.gateway.StartBackgroundTasks(ctx)
	go d.flushLoop(ctx, d.cfg.FlushInterval())
	if next, ok := d.scheduler.NextRun(journalRetentionJob); ok {
		d.logger.Info("startup phase", "phase", "scheduler_started", "next_retention", next.Format(time.RFC3339))
	}
}

func (d *daemon) flushLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.bridge.FlushIdle(ctx, now)
		}
	}
}

// apply swaps in the hot-reloadable parts of next. Listener and storage
// settings only take effect on restart.
func (d *daemon) apply(next config.Config, logFile *telemetry.LogFile) error {
	if err := d.registry.Replace(employees(next)); err != nil {
		return fmt.Errorf("reload employees: %w", err)
	}
	d.bridge.SetRules(stageRules(next.StageCues))
	if logFile != nil {
		logFile.SetLevel(next.LogLevel)
	}
	if next.BindAddr != d.cfg.BindAddr || next.TasksDir != d.cfg.TasksDir ||
		next.MemoryDir != d.cfg.MemoryDir || next.JournalPath != d.cfg.JournalPath {
		d.logger.Warn("config change requires restart", "bind_addr", next.BindAddr, "tasks_dir", next.TasksDir)
	}
	d.cfg = next
	d.logger.Info("config reloaded", "fingerprint", next.Fingerprint(), "employees", len(next.Employees))
	return nil
}

// watchConfig reloads config.yaml on change until ctx is done.
func (d *daemon) watchConfig(ctx context.Context, logFile *telemetry.LogFile) error {
	w := config.NewWatcher(d.cfg.HomeDir, d.logger)
	if err := w.Start(ctx); err != nil {
		return err
	}
	go func() {
		for ev := range w.Events() {
			d.logger.Info("config hot-reload event", "path", ev.Path, "op", ev.Op.String())
			next, err := config.Load()
			if err != nil {
				d.logger.Error("config.yaml reload rejected; retaining previous config", "error", err)
				continue
			}
			if err := d.apply(next, logFile); err != nil {
				d.logger.Error("config.yaml reload rejected; retaining previous config", "error", err)
			}
		}
	}()
	return nil
}

func (d *daemon) close(ctx context.Context) {
	d.scheduler.Stop()
	d.bus.Close()
	if err := d.journal.Close(); err != nil {
		d.logger.Warn("journal close failed", "error", err)
	}
	if err := d.provider.Shutdown(ctx); err != nil {
		d.logger.Warn("telemetry shutdown failed", "error", err)
	}
}

func employees(cfg config.Config) []agent.Employee {
	out := make([]agent.Employee, 0, len(cfg.Employees))
	for _, e := range cfg.Employees {
		out = append(out, agent.Employee{
			ID:          e.ID,
			DisplayName: e.Name,
			Workspace:   cfg.EmployeeWorkspace(e),
			Emoji:       e.Emoji,
		})
	}
	return out
}

func stageRules(cues []config.StageCueConfig) bridge.StageRules {
	rules := make(bridge.StageRules, 0, len(cues))
	for _, cue := range cues {
		rules = append(rules, bridge.StageRule{Stage: task.Stage(cue.Stage), Keywords: cue.Keywords})
	}
	return rules.Normalize()
}

func memoryConfig(cfg config.Config) memory.Config {
	return memory.Config{
		RecentTasks:       cfg.Memory.RecentTasks,
		MaxChars:          cfg.Memory.MaxChars,
		BriefMaxChars:     cfg.Memory.BriefMaxChars,
		EpisodeMaxOutputs: cfg.Memory.EpisodeMaxOutputs,
	}
}

func rateLimit(rl config.RateLimitConfig) gateway.RateLimitConfig {
	return gateway.RateLimitConfig{
		Enabled:           rl.Enabled,
		RequestsPerMinute: rl.RequestsPerMinute,
		BurstSize:         rl.Burst,
	}
}
