package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/resumeapi/suiterun/logging"
	"github.com/resumeapi/suiterun/registry"
	"github.com/resumeapi/suiterun/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// PreconditionError reports that a stage's precondition failed while the run
// was executing. The run is aborted; outcomes recorded so far are kept.
type PreconditionError struct {
	Stage types.Category
	Err   error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition for stage %s failed: %v", e.Stage, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// StageCheck validates a stage right before its first test runs.
type StageCheck func(ctx context.Context, stage registry.StageConfig) error

// Config holds configuration for creating a new runner
type Config struct {
	Registry    *registry.Registry
	Executor    TestExecutor
	Batches     BatchExecutor
	Aggregator  *Aggregator
	Store       *logging.Store
	Progress    ProgressIndicator
	Log         log.Logger
	Verbose     bool          // keep logs of passing tests
	Retries     int           // explicit extra attempts for failing tests
	Concurrency int           // workers for parallel-safe stages, 1 means sequential
	MinInterval time.Duration // minimum spacing between test launches
	BeforeStage StageCheck
	OnOutcome   func(types.TestOutcome)
}

// Runner drives a run plan stage by stage.
type Runner struct {
	registry    *registry.Registry
	executor    TestExecutor
	batches     BatchExecutor
	agg         *Aggregator
	store       *logging.Store
	progress    ProgressIndicator
	log         log.Logger
	verbose     bool
	retries     int
	concurrency int
	limiter     *rate.Limiter
	beforeStage StageCheck
	onOutcome   func(types.TestOutcome)
	tracer      trace.Tracer
}

// NewRunner validates the configuration and creates a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if cfg.Aggregator == nil {
		return nil, errors.New("aggregator cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Retries < 0 {
		return nil, errors.New("retries cannot be negative")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Progress == nil {
		cfg.Progress = NewNoOpProgressIndicator()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Concurrency > MaxReasonableConcurrency {
		cfg.Log.Warn("Very high concurrency requested, capping", "requested", cfg.Concurrency, "max", MaxReasonableConcurrency)
		cfg.Concurrency = MaxReasonableConcurrency
	}

	var limiter *rate.Limiter
	if cfg.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}

	return &Runner{
		registry:    cfg.Registry,
		executor:    cfg.Executor,
		batches:     cfg.Batches,
		agg:         cfg.Aggregator,
		store:       cfg.Store,
		progress:    cfg.Progress,
		log:         cfg.Log.New("component", "runner"),
		verbose:     cfg.Verbose,
		retries:     cfg.Retries,
		concurrency: cfg.Concurrency,
		limiter:     limiter,
		beforeStage: cfg.BeforeStage,
		onOutcome:   cfg.OnOutcome,
		tracer:      otel.Tracer("suiterun runner"),
	}, nil
}

// workUnit is either one standalone case or the planned members of a batch.
type workUnit struct {
	batch *types.Batch
	cases []types.TestCase
}

func (u workUnit) label() string {
	if u.batch != nil {
		return "batch " + u.batch.ID
	}
	return u.cases[0].ID
}

type stagePlan struct {
	stage registry.StageConfig
	units []workUnit
	size  int
}

// planStages groups the plan by category in order of first appearance. A batch
// unit sits at the position of its first planned member.
func (r *Runner) planStages(plan []types.TestCase) ([]stagePlan, error) {
	var stages []stagePlan
	stageIdx := make(map[types.Category]int)
	batchIdx := make(map[string][2]int)

	for _, tc := range plan {
		si, ok := stageIdx[tc.Category]
		if !ok {
			si = len(stages)
			stageIdx[tc.Category] = si
			stages = append(stages, stagePlan{stage: r.registry.Stage(tc.Category)})
		}
		sp := &stages[si]
		sp.size++

		if tc.InBatch() && r.batches != nil {
			if at, seen := batchIdx[tc.Batch]; seen {
				sp.units[at[1]].cases = append(sp.units[at[1]].cases, tc)
				continue
			}
			batch, ok := r.registry.Batch(tc.Batch)
			if !ok {
				return nil, fmt.Errorf("test %s references unknown batch %s", tc.ID, tc.Batch)
			}
			batchIdx[tc.Batch] = [2]int{si, len(sp.units)}
			sp.units = append(sp.units, workUnit{batch: &batch, cases: []types.TestCase{tc}})
			continue
		}
		sp.units = append(sp.units, workUnit{cases: []types.TestCase{tc}})
	}
	return stages, nil
}

// Run executes the plan. Per-test failures never stop the run; only a failed
// stage precondition, an interrupted context or an infrastructure error does.
func (r *Runner) Run(ctx context.Context, plan []types.TestCase) error {
	ctx, span := r.tracer.Start(ctx, "run")
	defer span.End()

	stages, err := r.planStages(plan)
	if err != nil {
		return err
	}

	for i, sp := range stages {
		err := r.runStage(ctx, sp)
		if err == nil {
			continue
		}
		span.SetStatus(codes.Error, err.Error())

		var rest []workUnit
		for _, later := range stages[i+1:] {
			rest = append(rest, later.units...)
		}
		var pre *PreconditionError
		switch {
		case errors.As(err, &pre):
			units := append(append([]workUnit{}, sp.units...), rest...)
			if skipErr := r.skipUnits(units, fmt.Sprintf(ReasonAborted, pre.Stage)); skipErr != nil {
				return errors.Join(err, skipErr)
			}
		case ctx.Err() != nil:
			if skipErr := r.skipUnits(rest, ReasonInterrupted); skipErr != nil {
				return errors.Join(err, skipErr)
			}
		}
		return err
	}
	return nil
}

func (r *Runner) runStage(ctx context.Context, sp stagePlan) error {
	category := sp.stage.Category
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("stage %s", category))
	defer span.End()

	r.progress.StartStage(category, sp.size)
	defer r.progress.CompleteStage(category)

	if r.beforeStage != nil {
		if err := r.beforeStage(ctx, sp.stage); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return &PreconditionError{Stage: category, Err: err}
		}
	}

	if sp.stage.Parallel && !sp.stage.StopOnFailure && r.concurrency > 1 {
		return r.runParallel(ctx, sp.units)
	}

	var stoppedBy string
	for i, unit := range sp.units {
		if stoppedBy != "" {
			if err := r.skipUnits(sp.units[i:], fmt.Sprintf(ReasonStopOnFailure, stoppedBy)); err != nil {
				return err
			}
			break
		}
		if err := ctx.Err(); err != nil {
			return r.interrupt(sp.units[i:], err)
		}

		outcomes, err := r.runUnit(ctx, unit)
		if err != nil {
			if ctx.Err() != nil {
				return r.interrupt(sp.units[i:], ctx.Err())
			}
			return err
		}
		if err := r.recordAll(outcomes); err != nil {
			return err
		}

		if sp.stage.StopOnFailure {
			for _, o := range outcomes {
				if o.Status.IsFailure() {
					stoppedBy = o.ID
					r.log.Warn("Stopping stage after failure", "stage", category, "test", o.ID, "remaining", len(sp.units)-i-1)
					break
				}
			}
		}
	}
	return nil
}

// runUnit executes one unit, applying pacing, retries and log retention.
func (r *Runner) runUnit(ctx context.Context, unit workUnit) ([]*types.TestOutcome, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("test %s", unit.label()))
	defer span.End()

	for _, tc := range unit.cases {
		r.progress.StartTest(tc.ID)
	}

	var outcomes []*types.TestOutcome
	var err error
	if unit.batch != nil {
		outcomes, err = r.runBatchWithRetries(ctx, *unit.batch, unit.cases)
	} else {
		var o *types.TestOutcome
		o, err = r.runWithRetries(ctx, unit.cases[0])
		outcomes = []*types.TestOutcome{o}
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	failed := 0
	for _, o := range outcomes {
		span.SetAttributes(attribute.String("test."+o.ID, string(o.Status)))
		if o.Status.IsFailure() {
			failed++
		}
		r.progress.UpdateTest(o.ID, o.Status)
	}
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d failing", failed))
	}

	r.releaseLogs(outcomes)
	return outcomes, nil
}

// releaseLogs deletes logs of passing executions unless verbose. A batch log
// is only deleted when nothing in the batch failed.
func (r *Runner) releaseLogs(outcomes []*types.TestOutcome) {
	if r.verbose {
		return
	}
	byLog := make(map[string]bool)
	for _, o := range outcomes {
		if o.LogPath == "" {
			continue
		}
		if _, seen := byLog[o.LogPath]; !seen {
			byLog[o.LogPath] = true
		}
		if o.Status.IsFailure() {
			byLog[o.LogPath] = false
		}
	}
	for path, deletable := range byLog {
		if !deletable {
			continue
		}
		if err := r.store.Remove(path); err != nil {
			r.log.Warn("Failed to remove passing test log", "path", path, "err", err)
			continue
		}
		for _, o := range outcomes {
			if o.LogPath == path {
				o.LogPath = ""
			}
		}
	}
}

func (r *Runner) recordAll(outcomes []*types.TestOutcome) error {
	for _, o := range outcomes {
		if err := r.agg.Record(*o); err != nil {
			return err
		}
		if r.onOutcome != nil {
			r.onOutcome(*o)
		}
	}
	return nil
}

func (r *Runner) skipUnits(units []workUnit, reason string) error {
	for _, unit := range units {
		for _, tc := range unit.cases {
			o := &types.TestOutcome{ID: tc.ID, Status: types.TestStatusSkipped, Reason: reason, Batch: tc.Batch}
			r.progress.UpdateTest(tc.ID, o.Status)
			if err := r.recordAll([]*types.TestOutcome{o}); err != nil {
				return err
			}
		}
	}
	return nil
}

// interrupt records the remaining units as skipped and returns the cause.
func (r *Runner) interrupt(units []workUnit, cause error) error {
	r.log.Warn("Run interrupted, skipping remaining tests", "err", cause)
	if err := r.skipUnits(units, ReasonInterrupted); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
