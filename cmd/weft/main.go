package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/weft-run/weft/internal/catalog"
	"github.com/weft-run/weft/internal/checkpoint"
	"github.com/weft-run/weft/internal/engine"
	"github.com/weft-run/weft/internal/expressions"
	"github.com/weft-run/weft/internal/logging"
	"github.com/weft-run/weft/internal/panel"
	"github.com/weft-run/weft/internal/plugins"
	"github.com/weft-run/weft/internal/scheduler"
	"github.com/weft-run/weft/internal/store"
	"github.com/weft-run/weft/internal/streaming"
	"github.com/weft-run/weft/internal/tools"
	"github.com/weft-run/weft/internal/validation"
	"github.com/weft-run/weft/pkg/mcp"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "weft:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()

	// stdout carries the MCP stream, so logs go to stderr.
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(cfg.LogLevel)}),
	))
	slog.SetDefault(logger)

	evaluator, err := expressions.ByName(cfg.Evaluator)
	if err != nil {
		return err
	}

	// Every engine event reaches the live hub; the journal joins the
	// fanout when a path is configured.
	hub := streaming.NewMemoryHub()
	sinks := streaming.Fanout{hub}

	var journal *store.Journal
	if cfg.Journal != "" {
		journal, err = store.NewJournal(journalDSN(cfg.Journal))
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer journal.Close()
		sinks = append(sinks, journal)
	}

	registry := tools.NewRegistry()
	builtins := []tools.Tool{
		tools.NewHTTPTool(tools.HTTPConfig{AllowedRequestHeaders: cfg.HTTPAllow}),
		tools.NewJQTool(),
		tools.NewTimeTool(),
		tools.NewHashTool(),
		tools.NewHMACTool(),
		tools.NewUUIDTool(),
	}
	for _, tool := range builtins {
		if regErr := registry.Register(tool); regErr != nil {
			return regErr
		}
	}

	// A failed provider is logged and skipped; the server still starts
	// with the builtins and the providers that did connect.
	if len(cfg.Plugins) > 0 {
		manager := plugins.NewManager(logger)
		defer manager.Close()
		for _, provider := range cfg.Plugins {
			if connErr := manager.Connect(ctx, provider, registry); connErr != nil {
				logger.Warn("tool provider failed to connect",
					"provider", provider.Name, "error", connErr)
			}
		}
	}

	broker := checkpoint.NewBroker()

	eng := engine.New(store.NewMemoryStore(), engine.Config{
		Tools:           registry,
		Checkpoint:      broker.Func(),
		Evaluator:       evaluator,
		Sink:            sinks,
		Logger:          logger,
		StrictVariables: cfg.StrictVars,
	})

	validator, err := validation.NewValidator()
	if err != nil {
		return fmt.Errorf("compile workflow schema: %w", err)
	}

	cat := catalog.New()

	srv := mcp.NewWeftServer(mcp.ServerDeps{
		Engine:    eng,
		Catalog:   cat,
		Validator: validator,
		Broker:    broker,
		Journal:   journal,
		Logger:    logger,
	})

	// The notifier rides a hub subscription so run events reach the MCP
	// session that started the run.
	events, unsubscribe, err := hub.Subscribe(ctx, streaming.Filter{})
	if err != nil {
		return err
	}
	defer unsubscribe()
	notifier := srv.Notifier()
	go func() {
		for event := range events {
			_ = notifier.Publish(ctx, event)
		}
	}()

	var sched *scheduler.Scheduler
	if len(cfg.Jobs) > 0 {
		sched = scheduler.New(&catalogRunner{engine: eng, catalog: cat}, cfg.PoolSize, logger)
		for _, job := range cfg.Jobs {
			if _, addErr := sched.Add(scheduler.Job{
				Workflow: job.Workflow,
				Version:  job.Version,
				CronExpr: job.Cron,
				Input:    job.Input,
			}); addErr != nil {
				return fmt.Errorf("schedule %q: %w", job.Workflow, addErr)
			}
		}
		if startErr := sched.Start(ctx); startErr != nil {
			return startErr
		}
		defer sched.Stop()
	}

	if cfg.PanelAddr != "" {
		observer := panel.New(panel.Deps{
			Engine:    eng,
			Catalog:   cat,
			Broker:    broker,
			Journal:   journal,
			Scheduler: sched,
			Hub:       hub,
			Logger:    logger,
		})
		httpSrv := &http.Server{Addr: cfg.PanelAddr, Handler: observer.Handler()}
		go func() {
			logger.Info("panel listening", "addr", cfg.PanelAddr)
			if serveErr := httpSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("panel server failed", "error", serveErr)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("weft server starting",
		"version", version,
		"evaluator", cfg.Evaluator,
		"journal", cfg.Journal != "",
		"panel", cfg.PanelAddr,
		"jobs", len(cfg.Jobs),
		"providers", len(cfg.Plugins))

	return srv.Serve(ctx)
}

// journalDSN turns a bare file path into a libsql DSN and passes
// explicit DSNs through untouched.
func journalDSN(path string) string {
	if strings.HasPrefix(path, "file:") || strings.Contains(path, "://") {
		return path
	}
	return "file:" + path
}

// catalogRunner resolves scheduled job references through the catalog
// and runs them synchronously on the engine.
type catalogRunner struct {
	engine  *engine.Engine
	catalog *catalog.Catalog
}

func (r *catalogRunner) RunScheduled(ctx context.Context, workflow string, version int, input map[string]any) error {
	entry, err := r.catalog.Get(workflow, version)
	if err != nil {
		return err
	}
	_, err = r.engine.Execute(ctx, entry.Workflow, input)
	return err
}
