package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-med-warehouse/internal/domain"
	"tg-med-warehouse/internal/infra/metrics"
)

// StageStatus is the lifecycle state of one stage within a run.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusSucceeded StageStatus = "succeeded"
	StatusFailed    StageStatus = "failed"
)

// Stage is one step of the job graph. Stages run sequentially; the
// first failure halts the run.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// Failure is handed to the failure hook exactly once per failed run.
type Failure struct {
	Job   string
	Stage string
	RunID string
	Err   error
}

// StageResult is the terminal state of one stage after a run.
type StageResult struct {
	Name   string
	Status StageStatus
	Err    error
}

// RunResult reports one orchestrator run. Err is nil iff every stage
// succeeded.
type RunResult struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Stages   []StageResult
	Err      error
}

// Orchestrator drives the stage graph of one named job, reporting
// lifecycle events and invoking the failure hook on the first error.
type Orchestrator struct {
	job       string
	stages    []Stage
	onFailure func(ctx context.Context, failure Failure)
	events    domain.RunEventPublisher
	log       zerolog.Logger

	newRunID func() string
	now      func() time.Time
}

// NewOrchestrator builds the runner for one job. onFailure and events
// may be nil.
func NewOrchestrator(job string, stages []Stage, onFailure func(ctx context.Context, failure Failure), events domain.RunEventPublisher, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		job:       job,
		stages:    stages,
		onFailure: onFailure,
		events:    events,
		log:       log,
		newRunID:  uuid.NewString,
		now:       time.Now,
	}
}

// Run executes the stage graph once. It never panics across stage
// boundaries; the returned result carries the per-stage outcome.
func (o *Orchestrator) Run(ctx context.Context) RunResult {
	result := RunResult{
		RunID:   o.newRunID(),
		Started: o.now().UTC(),
		Stages:  make([]StageResult, len(o.stages)),
	}
	for i, stage := range o.stages {
		result.Stages[i] = StageResult{Name: stage.Name, Status: StatusPending}
	}

	o.log.Info().Str("job", o.job).Str("run_id", result.RunID).Msg("pipeline: run started")
	o.publish(ctx, domain.RunEvent{Job: o.job, RunID: result.RunID, Status: "started"})

	for i, stage := range o.stages {
		result.Stages[i].Status = StatusRunning
		o.publish(ctx, domain.RunEvent{Job: o.job, RunID: result.RunID, Stage: stage.Name, Status: "running"})
		o.log.Info().Str("job", o.job).Str("stage", stage.Name).Msg("pipeline: stage started")

		start := o.now()
		err := stage.Run(ctx)
		metrics.ObserveStage(stage.Name, start, err)

		if err != nil {
			stageErr := &domain.StageError{Job: o.job, Stage: stage.Name, RunID: result.RunID, Err: err}
			result.Stages[i].Status = StatusFailed
			result.Stages[i].Err = stageErr
			result.Err = stageErr
			result.Finished = o.now().UTC()

			o.log.Error().Err(err).Str("job", o.job).Str("stage", stage.Name).Str("run_id", result.RunID).Msg("pipeline: stage failed, halting run")
			o.publish(ctx, domain.RunEvent{Job: o.job, RunID: result.RunID, Stage: stage.Name, Status: "failed", Error: err.Error()})
			metrics.RunsTotal.WithLabelValues("failed").Inc()

			if o.onFailure != nil {
				o.onFailure(ctx, Failure{Job: o.job, Stage: stage.Name, RunID: result.RunID, Err: err})
			}
			return result
		}

		result.Stages[i].Status = StatusSucceeded
		o.publish(ctx, domain.RunEvent{Job: o.job, RunID: result.RunID, Stage: stage.Name, Status: "succeeded"})
		o.log.Info().Str("job", o.job).Str("stage", stage.Name).Dur("took", o.now().Sub(start)).Msg("pipeline: stage finished")
	}

	result.Finished = o.now().UTC()
	metrics.RunsTotal.WithLabelValues("success").Inc()
	o.publish(ctx, domain.RunEvent{Job: o.job, RunID: result.RunID, Status: "succeeded"})
	o.log.Info().Str("job", o.job).Str("run_id", result.RunID).Msg("pipeline: run finished")
	return result
}

// publish emits one lifecycle event. The bus is optional and
// best-effort; a publish error never affects the run.
func (o *Orchestrator) publish(ctx context.Context, event domain.RunEvent) {
	if o.events == nil {
		return
	}
	event.OccurredAt = o.now().UTC()
	if err := o.events.Publish(ctx, event); err != nil {
		o.log.Warn().Err(err).Str("status", event.Status).Msg("pipeline: run event publish failed")
	}
}
