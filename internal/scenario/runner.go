package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/config"
	"github.com/xkilldash9x/mapharness/internal/observability"
	"github.com/xkilldash9x/mapharness/internal/provision"
	"github.com/xkilldash9x/mapharness/internal/suite"
	"github.com/xkilldash9x/mapharness/internal/workflow"
)

// Status is the outcome of one scenario.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result records one scenario execution.
type Result struct {
	Scenario string
	Status   Status
	Err      error
	Duration time.Duration
	LeaseID  string
}

// Report collects the results of a run in execution order.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Results  []Result
}

// Count returns how many results have status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Err joins the failures of the run, or returns nil when nothing failed.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("%s: %w", res.Scenario, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Sessions signs a fresh environment in.
type Sessions interface {
	Ensure(ctx context.Context, env *workflow.Env, cred schemas.Credential) error
}

// Leaser hands out pages for scenarios. suite.Manager is the implementation.
type Leaser interface {
	Acquire(ctx context.Context, logger *zap.Logger) (*suite.Lease, error)
	provision.PageOpener
}

// Runner executes scenarios one after another, each on its own lease.
type Runner struct {
	registry *Registry
	leaser   Leaser
	sessions Sessions
	cfg      config.Interface
	logger   *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithRegistry replaces the built-in scenarios.
func WithRegistry(r *Registry) Option {
	return func(rn *Runner) { rn.registry = r }
}

// WithSessions replaces the storage-state session store.
func WithSessions(s Sessions) Option {
	return func(rn *Runner) { rn.sessions = s }
}

// NewRunner builds a runner over leaser. Without options it runs the
// built-in scenarios and signs in through the configured storage state.
func NewRunner(cfg config.Interface, logger *zap.Logger, leaser Leaser, opts ...Option) (*Runner, error) {
	if cfg == nil || logger == nil || leaser == nil {
		return nil, fmt.Errorf("cannot initialize scenario runner with nil dependencies")
	}
	r := &Runner{
		leaser: leaser,
		cfg:    cfg,
		logger: logger.Named("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry == nil {
		r.registry = Default()
	}
	if r.sessions == nil {
		store, err := provision.NewSessionStore(cfg.Session(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create session store: %w", err)
		}
		r.sessions = store
	}
	return r, nil
}

// Registry returns the scenarios the runner can execute.
func (r *Runner) Registry() *Registry { return r.registry }

// Run executes the scenarios selected by the run configuration. A selection
// error aborts before anything runs; scenario failures are recorded in the
// report. After a failure with fail-fast set, or once ctx is done, the
// remaining scenarios are reported as skipped.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	rc := r.cfg.Run()
	selected, err := r.registry.Select(rc.Scenarios, rc.Tags)
	if err != nil {
		return nil, err
	}
	runID := rc.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	report := &Report{RunID: runID, Started: time.Now()}
	r.logger.Info("Starting run.", zap.String("run_id", runID), zap.Int("scenarios", len(selected)), zap.Bool("fail_fast", rc.FailFast))

	var stop error
	for _, s := range selected {
		if stop == nil {
			stop = ctx.Err()
		}
		if stop != nil {
			report.Results = append(report.Results, Result{Scenario: s.Name, Status: StatusSkipped, Err: stop})
			continue
		}
		res := r.runOne(ctx, runID, s)
		report.Results = append(report.Results, res)
		if res.Status == StatusFailed && rc.FailFast {
			stop = fmt.Errorf("skipped after %s failed", s.Name)
		}
	}

	report.Duration = time.Since(report.Started)
	r.logger.Info("Run finished.",
		zap.String("run_id", runID),
		zap.Int("passed", report.Count(StatusPassed)),
		zap.Int("failed", report.Count(StatusFailed)),
		zap.Int("skipped", report.Count(StatusSkipped)),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (r *Runner) runOne(ctx context.Context, runID string, s Scenario) Result {
	logger := observability.ScenarioLogger(r.logger, runID, s.Name)
	start := time.Now()
	res := Result{Scenario: s.Name}

	err := func() (err error) {
		lease, err := r.leaser.Acquire(ctx, logger)
		if err != nil {
			return fmt.Errorf("acquire page: %w", err)
		}
		res.LeaseID = lease.ID
		defer func() {
			if relErr := lease.Release(); relErr != nil {
				err = errors.Join(err, fmt.Errorf("release page: %w", relErr))
			}
		}()

		if s.Auth {
			if err := r.sessions.Ensure(ctx, lease.Env, r.cfg.Target().Credentials); err != nil {
				return fmt.Errorf("authenticate: %w", err)
			}
		}
		return s.Run(ctx, &Context{Env: lease.Env, Config: r.cfg, Logger: logger, Pages: r.leaser})
	}()

	res.Duration = time.Since(start)
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		logger.Error("Scenario failed.", zap.Duration("duration", res.Duration), zap.Error(err))
		return res
	}
	res.Status = StatusPassed
	logger.Info("Scenario passed.", zap.Duration("duration", res.Duration))
	return res
}
