// Package reconcile enriches local contacts from the remote directory.
package reconcile

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/sells-group/contactbook/internal/directory"
	"github.com/sells-group/contactbook/internal/model"
	"github.com/sells-group/contactbook/internal/store"
)

// ErrRunInProgress is returned when Run is called while another run, in this
// process or any other sharing the store, has not finished.
var ErrRunInProgress = eris.New("reconcile: run already in progress")

// DefaultConcurrency is the number of lookups in flight during a run.
const DefaultConcurrency = 10

// Store is the persistence the engine reads from and commits to.
type Store interface {
	ListContacts(ctx context.Context, filter store.ContactFilter) ([]model.Contact, error)
	UpdateContacts(ctx context.Context, contacts []model.Contact) (int, error)
	// TryLockRun takes the store-wide run lock. ok is false when another
	// run holds it.
	TryLockRun(ctx context.Context) (release func(), ok bool, err error)
}

// RunRecorder persists run history.
type RunRecorder interface {
	CreateRun(ctx context.Context) (*model.ReconcileRun, error)
	CompleteRun(ctx context.Context, runID string, report *model.ReconcileReport, runErr error) error
}

// Config tunes an Engine.
type Config struct {
	Concurrency int
	// StrictEmailMatch rejects an email lookup whose first candidate does
	// not carry the local email (compared case-insensitively).
	StrictEmailMatch bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder records every run through r.
func WithRecorder(r RunRecorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// Engine runs reconciliation passes over the whole contact set.
type Engine struct {
	store    Store
	dir      directory.Directory
	cfg      Config
	recorder RunRecorder
	mu       sync.Mutex
	now      func() time.Time
}

// New creates an Engine.
func New(st Store, dir directory.Directory, cfg Config, opts ...Option) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	e := &Engine{
		store: st,
		dir:   dir,
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lookup is the fan-out result for one contact. Each worker owns exactly one.
type lookup struct {
	outcome   model.Outcome
	match     *model.RemoteContact
	ambiguous bool
}

// Run reconciles every local contact against the directory and commits the
// changed records in one transaction. Individual lookup failures are counted
// in the report; only a failure to load or commit fails the run.
func (e *Engine) Run(ctx context.Context) (*model.ReconcileReport, error) {
	if !e.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer e.mu.Unlock()

	// A started run always completes. Lookups are bounded by the directory
	// client's per-attempt timeout rather than the caller's context.
	ctx = context.WithoutCancel(ctx)

	release, ok, err := e.store.TryLockRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: acquire run lock")
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	defer release()

	log := zap.L().With(zap.String("component", "reconcile"))
	report := &model.ReconcileReport{StartedAt: e.now().UTC()}
	run := e.startRun(ctx, log)

	err = e.run(ctx, log, report)
	report.FinishedAt = e.now().UTC()
	report.DurationMs = report.FinishedAt.Sub(report.StartedAt).Milliseconds()

	e.finishRun(ctx, log, run, report, err)
	if err != nil {
		return nil, err
	}

	log.Info("reconcile complete",
		zap.Int("total", report.Total),
		zap.Int("enriched", report.Enriched),
		zap.Int("not_found", report.NotFound),
		zap.Int("ambiguous", report.Ambiguous),
		zap.Int("ambiguous_skip", report.AmbiguousSkip),
		zap.Int("errors", report.Errors),
		zap.Int("unreconcilable", report.Unreconcilable),
		zap.Int("updated", report.Updated),
		zap.Int64("duration_ms", report.DurationMs),
	)
	return report, nil
}

func (e *Engine) run(ctx context.Context, log *zap.Logger, report *model.ReconcileReport) error {
	contacts, err := e.store.ListContacts(ctx, store.ContactFilter{})
	if err != nil {
		return eris.Wrap(err, "reconcile: load contacts")
	}
	report.Total = len(contacts)

	log.Info("reconcile started",
		zap.Int("contacts", len(contacts)),
		zap.Int("concurrency", e.cfg.Concurrency),
	)

	results := make([]lookup, len(contacts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for i, c := range contacts {
		g.Go(func() error {
			results[i] = e.lookup(gctx, log, c)
			return nil // never abort siblings on an individual failure
		})
	}
	_ = g.Wait()

	var changed []model.Contact
	for i, r := range results {
		report.Count(r.outcome)
		if r.ambiguous {
			report.Ambiguous++
		}
		if r.outcome != model.OutcomeEnriched {
			continue
		}
		if merged, ok := Merge(contacts[i], *r.match); ok {
			changed = append(changed, merged)
		}
	}

	if len(changed) == 0 {
		return nil
	}
	n, err := e.store.UpdateContacts(ctx, changed)
	if err != nil {
		return eris.Wrap(err, "reconcile: commit")
	}
	report.Updated = n
	return nil
}

func (e *Engine) lookup(ctx context.Context, log *zap.Logger, c model.Contact) lookup {
	log = log.With(zap.Int64("contact_id", c.ID))

	if c.RemoteID != "" {
		rc, err := e.dir.GetContact(ctx, c.RemoteID)
		if err != nil {
			log.Warn("lookup by remote id failed", zap.String("remote_id", c.RemoteID), zap.Error(err))
			return lookup{outcome: model.OutcomeError}
		}
		if rc == nil {
			return lookup{outcome: model.OutcomeNotFound}
		}
		return lookup{outcome: model.OutcomeEnriched, match: rc}
	}

	email := strings.TrimSpace(c.Email)
	if email == "" {
		log.Info("contact has neither remote id nor email; skipping")
		return lookup{outcome: model.OutcomeUnreconcilable}
	}

	candidates, err := e.dir.FindByEmail(ctx, email)
	if err != nil {
		log.Warn("lookup by email failed", zap.Error(err))
		return lookup{outcome: model.OutcomeError}
	}
	if len(candidates) == 0 {
		return lookup{outcome: model.OutcomeNotFound}
	}

	first := candidates[0]
	res := lookup{outcome: model.OutcomeEnriched, match: &first}
	if len(candidates) > 1 {
		res.ambiguous = true
		log.Warn("multiple remote candidates; using the first",
			zap.Int("candidates", len(candidates)),
			zap.String("remote_id", first.ID),
		)
	}

	if e.cfg.StrictEmailMatch {
		remote, _ := first.Fields.First(model.FieldEmail)
		fold := cases.Fold() // a Caser is not safe for concurrent use
		if fold.String(remote) != fold.String(email) {
			log.Warn("first candidate email does not match; skipping",
				zap.String("remote_id", first.ID),
			)
			res.outcome = model.OutcomeAmbiguousSkip
			res.match = nil
		}
	}
	return res
}

func (e *Engine) startRun(ctx context.Context, log *zap.Logger) *model.ReconcileRun {
	if e.recorder == nil {
		return nil
	}
	run, err := e.recorder.CreateRun(ctx)
	if err != nil {
		log.Warn("failed to record run start", zap.Error(err))
		return nil
	}
	return run
}

func (e *Engine) finishRun(ctx context.Context, log *zap.Logger, run *model.ReconcileRun, report *model.ReconcileReport, runErr error) {
	if e.recorder == nil || run == nil {
		return
	}
	var stored *model.ReconcileReport
	if runErr == nil {
		stored = report
	}
	if err := e.recorder.CompleteRun(ctx, run.ID, stored, runErr); err != nil {
		log.Warn("failed to record run completion", zap.String("run_id", run.ID), zap.Error(err))
	}
}
