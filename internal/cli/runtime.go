package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/botsync/internal/bot"
	"github.com/roach88/botsync/internal/config"
	"github.com/roach88/botsync/internal/fetch"
	"github.com/roach88/botsync/internal/notify"
	"github.com/roach88/botsync/internal/pgstore"
	"github.com/roach88/botsync/internal/rawstore"
	"github.com/roach88/botsync/internal/schema"
	"github.com/roach88/botsync/internal/source"
	"github.com/roach88/botsync/internal/store"
	"github.com/roach88/botsync/internal/window"
)

// Deps are the parts of a bot runtime tests replace.
type Deps struct {
	Now     func() time.Time
	RunID   func() string
	Sleeper fetch.Sleeper
}

// botStore is what the CLI needs from either record store.
type botStore interface {
	bot.RecordStore
	bot.RunReporter
	RunReports(ctx context.Context, bot string, limit int) ([]store.RunReport, error)
	Close() error
}

// runtime is a bot wired from its configuration file.
type runtime struct {
	cfg      *config.BotConfig
	store    botStore
	bot      *bot.Orchestrator
	notifier *notify.Asana
	logger   *slog.Logger
}

// openRuntime loads the configuration and wires store, source and
// orchestrator. diag receives externally triggered update output.
func openRuntime(ctx context.Context, opts *RootOptions, diag io.Writer) (*runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger = logger.With("bot", cfg.Name)

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open record store", err)
	}

	o, err := newOrchestrator(cfg, st, opts.deps, diag, logger)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to configure bot", err)
	}

	rt := &runtime{cfg: cfg, store: st, bot: o, logger: logger}
	if cfg.Notify.Enabled() {
		notifyOpts := []notify.Option{notify.WithLogger(logger)}
		if cfg.Notify.BaseURL != "" {
			notifyOpts = append(notifyOpts, notify.WithBaseURL(cfg.Notify.BaseURL))
		}
		rt.notifier = notify.NewAsana(cfg.Notify.AsanaToken, cfg.Notify.Workspace, notifyOpts...)
	}
	return rt, nil
}

func openStore(ctx context.Context, sc config.StoreConfig) (botStore, error) {
	switch sc.Driver {
	case config.DriverPostgres:
		var opts []pgstore.Option
		if sc.MaxConns > 0 {
			opts = append(opts, pgstore.WithMaxConns(sc.MaxConns))
		}
		if sc.Bouncer {
			opts = append(opts, pgstore.WithBouncer())
		}
		return pgstore.Open(ctx, sc.DSN, opts...)
	default:
		if dir := filepath.Dir(sc.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		return store.Open(sc.DSN)
	}
}

func newOrchestrator(cfg *config.BotConfig, st botStore, deps *Deps, diag io.Writer, logger *slog.Logger) (*bot.Orchestrator, error) {
	if deps == nil {
		deps = &Deps{}
	}
	botCfg := cfg.Bot().WithDefaults()

	var guardOpts []window.Option
	if deps.Now != nil {
		guardOpts = append(guardOpts, window.WithClock(deps.Now))
	}
	guard, err := window.New(cfg.Window, guardOpts...)
	if err != nil {
		return nil, err
	}

	transportOpts := []fetch.TransportOption{}
	if cfg.Source.Timeout > 0 {
		transportOpts = append(transportOpts, fetch.WithTimeout(cfg.Source.Timeout))
	}
	if cfg.Source.UserAgent != "" {
		transportOpts = append(transportOpts, fetch.WithUserAgent(cfg.Source.UserAgent))
	}
	registryOpts := []fetch.RegistryOption{
		fetch.WithURLFunc(fetch.TemplateURL(cfg.Source.URL)),
		fetch.WithStoredURLs(st, botCfg.Table, botCfg.PrimaryKey),
		fetch.WithDelay(cfg.Source.SleepBeforeRequest),
		fetch.WithRegistryLogger(logger),
	}
	if deps.Sleeper != nil {
		registryOpts = append(registryOpts, fetch.WithSleeper(deps.Sleeper))
	}
	registry := fetch.NewRegistry(fetch.NewHTTPTransport(transportOpts...), registryOpts...)

	src := source.New(registry, source.Config{
		Fields:            cfg.Source.Fields,
		SearchURL:         cfg.Source.SearchURL,
		SearchResults:     cfg.Source.SearchResults,
		MaintenanceMarker: cfg.Source.MaintenanceMarker,
	}, source.WithLogger(logger))

	var schemaOpts []schema.Option
	if cfg.SchemaDir != "" {
		schemaOpts = append(schemaOpts, schema.WithSchemaDir(cfg.SchemaDir))
	}

	opts := []bot.Option{
		bot.WithGuard(guard),
		bot.WithValidator(schema.NewEngine(schemaOpts...)),
		bot.WithRunReporter(st),
		bot.WithDiagnostics(diag),
		bot.WithLogger(logger),
	}
	if botCfg.SaveRawOnFilesystem {
		opts = append(opts, bot.WithRawStore(rawstore.New(cfg.Raw.Root)))
	}
	if deps.Now != nil {
		opts = append(opts, bot.WithClock(deps.Now))
	}
	if deps.RunID != nil {
		opts = append(opts, bot.WithRunIDs(deps.RunID))
	}
	return bot.New(botCfg, src, st, opts...)
}

// Close releases the record store.
func (rt *runtime) Close() {
	if err := rt.store.Close(); err != nil {
		rt.logger.Error("error closing record store", "error", err)
	}
}

// reportFailure raises a failed-bot ticket when notifications are configured.
// Notification errors are logged only.
func (rt *runtime) reportFailure(ctx context.Context, cause error) {
	if rt.notifier == nil {
		return
	}
	_, err := rt.notifier.CreateFailedBotTask(ctx, notify.Ticket{
		Tag:         rt.cfg.Name,
		Title:       rt.cfg.Name + " failed",
		Description: cause.Error(),
	})
	if err != nil {
		rt.logger.Error("failed to raise failed bot ticket", "error", err)
	}
}
