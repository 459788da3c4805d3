// Package bot runs the update cycle of a data-collection bot.
//
// An Orchestrator discovers new identifiers, then walks the stale ones:
// fetch, process, stamp, validate, encode and upsert, one at a time. Two
// operational conditions (out of permitted hours, source closed for
// maintenance) end a cycle early with a summary instead of an error.
package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/botsync/internal/rawstore"
	"github.com/roach88/botsync/internal/record"
	"github.com/roach88/botsync/internal/schema"
	"github.com/roach88/botsync/internal/stale"
	"github.com/roach88/botsync/internal/store"
	"github.com/roach88/botsync/internal/window"
)

// FetchOptions are passed to Source.FetchDatum.
type FetchOptions struct {
	// IgnoreOutOfHours is set for externally triggered updates.
	IgnoreOutOfHours bool
}

// Source is the registry a bot collects from.
type Source interface {
	// FetchDatum returns the raw payload for id, or nil if there is none.
	FetchDatum(ctx context.Context, id string, opts FetchOptions) ([]byte, error)

	// ProcessDatum turns a raw payload into a record, or nil to skip it.
	ProcessDatum(ctx context.Context, raw []byte) (record.Record, error)
}

// Searcher is implemented by sources that support alpha search.
type Searcher interface {
	// Search returns partial records matching term. Each must carry the
	// primary key.
	Search(ctx context.Context, term string) ([]record.Record, error)
}

// RecordStore persists records.
type RecordStore interface {
	stale.Store
	InsertOrUpdate(ctx context.Context, table string, keys []string, rec record.Record) error
}

// Validator checks a JSON record against a named schema.
type Validator interface {
	Validate(name string, jsonText []byte) ([]schema.Violation, error)
}

// RunReporter stores the outcome of each Update.
type RunReporter interface {
	SaveRunReport(ctx context.Context, r store.RunReport) error
}

// Orchestrator runs update cycles for one bot. Not safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	source    Source
	store     RecordStore
	tracker   *stale.Tracker
	guard     *window.Guard
	validator Validator
	raw       *rawstore.Store
	reports   RunReporter
	now       func() time.Time
	newRunID  func() string
	diag      io.Writer
	logger    *slog.Logger
	state     State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGuard restricts fetching to the guard's permitted hours.
func WithGuard(g *window.Guard) Option {
	return func(o *Orchestrator) { o.guard = g }
}

// WithValidator overrides the schema engine.
func WithValidator(v Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

// WithRawStore sets where raw payloads are archived.
func WithRawStore(r *rawstore.Store) Option {
	return func(o *Orchestrator) { o.raw = r }
}

// WithRunReporter enables run reports.
func WithRunReporter(r RunReporter) Option {
	return func(o *Orchestrator) { o.reports = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRunIDs overrides run id generation.
func WithRunIDs(next func() string) Option {
	return func(o *Orchestrator) { o.newRunID = next }
}

// WithDiagnostics sets where externally triggered updates write their JSON.
func WithDiagnostics(w io.Writer) Option {
	return func(o *Orchestrator) { o.diag = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator.
func New(cfg Config, src Source, st RecordStore, opts ...Option) (*Orchestrator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("bot %s: %w", cfg.Name, err)
	}
	if src == nil || st == nil {
		return nil, fmt.Errorf("bot %s: source and store are required", cfg.Name)
	}

	o := &Orchestrator{
		cfg:      cfg,
		source:   src,
		store:    st,
		now:      time.Now,
		newRunID: func() string { return uuid.Must(uuid.NewV7()).String() },
		diag:     os.Stdout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if cfg.SaveRawOnFilesystem && o.raw == nil {
		return nil, fmt.Errorf("bot %s: raw payload archival enabled without a raw store", cfg.Name)
	}
	if o.validator == nil {
		o.validator = schema.NewEngine()
	}
	o.logger = o.logger.With("bot", cfg.Name)
	o.tracker = stale.New(st,
		stale.WithTable(cfg.Table),
		stale.WithPrimaryKey(cfg.PrimaryKey),
		stale.WithClock(o.now),
		stale.WithLogger(o.logger),
	)
	return o, nil
}

// Config returns the bot's configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// State reports the state of the most recent cycle.
func (o *Orchestrator) State() State {
	return o.state
}

// Tracker returns the staleness tracker over the bot's table.
func (o *Orchestrator) Tracker() *stale.Tracker {
	return o.tracker
}

// Update runs discovery, refreshes every stale record, and saves a run report.
func (o *Orchestrator) Update(ctx context.Context) (RunSummary, error) {
	runID := o.newRunID()
	started := o.now()
	o.logger.Info("update started", "run_id", runID)

	summary, err := o.update(ctx)

	o.saveReport(ctx, runID, started, summary, err)
	if err != nil {
		o.logger.Error("update failed", "run_id", runID, "updated", summary.Updated, "error", err)
		return summary, err
	}
	o.logger.Info("update finished", "run_id", runID, "state", summary.State, "updated", summary.Updated, "discovered", summary.Discovered)
	return summary, nil
}

func (o *Orchestrator) update(ctx context.Context) (RunSummary, error) {
	o.state = Running

	var (
		found int
		err   error
	)
	if o.cfg.UseAlphaSearch {
		found, err = o.AlphaSearch(ctx)
	} else {
		found, err = o.IncrementalSearch(ctx)
	}
	if err != nil {
		return o.stop(RunSummary{Discovered: found}, err)
	}

	summary, err := o.UpdateStale(ctx, 0)
	summary.Discovered = found
	return summary, err
}

// UpdateStale refreshes stale records, at most limit of them when limit > 0.
// An abort condition ends the cycle with a nil error and the reason in Output.
func (o *Orchestrator) UpdateStale(ctx context.Context, limit int) (RunSummary, error) {
	o.state = Running
	summary := RunSummary{}

	ids, err := o.tracker.Stale(ctx, limit)
	if err != nil {
		return o.stop(summary, err)
	}

	for id := range ids {
		outcome, err := o.updateStaleOne(ctx, id)
		if err != nil {
			return o.stop(summary, err)
		}
		switch outcome.Kind {
		case OutcomeOK:
			summary.Updated++
		case OutcomeSkip:
			o.logger.Debug("nothing fetched", "id", id)
		case OutcomeAbort:
			return o.stop(summary, outcome.Reason)
		}
	}

	o.state = Completed
	summary.State = Completed
	return summary, nil
}

func (o *Orchestrator) updateStaleOne(ctx context.Context, id string) (Outcome, error) {
	rec, err := o.updateOne(ctx, id, UpdateOptions{})
	switch {
	case IsAbort(err):
		return Outcome{Kind: OutcomeAbort, Reason: err}, nil
	case err != nil:
		return Outcome{}, &UpdateError{ID: id, Err: err}
	case rec == nil:
		return Outcome{Kind: OutcomeSkip}, nil
	default:
		return Outcome{Kind: OutcomeOK, Record: rec}, nil
	}
}

// stop ends a cycle. Abort conditions become the summary output.
func (o *Orchestrator) stop(summary RunSummary, err error) (RunSummary, error) {
	o.state = Aborted
	summary.State = Aborted
	if IsAbort(err) {
		o.logger.Warn("update aborted", "reason", err, "updated", summary.Updated)
		summary.Output = err.Error()
		return summary, nil
	}
	return summary, err
}

// checkWindow returns ErrOutOfPermittedHours when fetching is prohibited now.
func (o *Orchestrator) checkWindow() error {
	if o.guard == nil {
		return nil
	}
	if prohibited, _ := o.guard.InProhibitedTime(); prohibited {
		return fmt.Errorf("%w: %s", ErrOutOfPermittedHours, o.guard.CurrentTimeInZone().Format("Mon 15:04 MST"))
	}
	return nil
}
