package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-med-warehouse/internal/domain"
)

type recordingBus struct {
	events []domain.RunEvent
	err    error
}

func (b *recordingBus) Publish(_ context.Context, event domain.RunEvent) error {
	b.events = append(b.events, event)
	return b.err
}

func namedStage(name string, calls *[]string, err error) Stage {
	return Stage{Name: name, Run: func(context.Context) error {
		*calls = append(*calls, name)
		return err
	}}
}

func TestRunExecutesStagesInOrder(t *testing.T) {
	var calls []string
	stages := []Stage{
		namedStage("ingest", &calls, nil),
		namedStage("load_raw", &calls, nil),
		namedStage("transform", &calls, nil),
		namedStage("enrich", &calls, nil),
	}
	orch := NewOrchestrator("daily_pipeline", stages, nil, nil, zerolog.Nop())

	result := orch.Run(context.Background())
	if result.Err != nil {
		t.Fatal(result.Err)
	}
	want := []string{"ingest", "load_raw", "transform", "enrich"}
	if len(calls) != len(want) {
		t.Fatalf("expected %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, calls)
		}
		if result.Stages[i].Status != StatusSucceeded {
			t.Fatalf("stage %s not marked succeeded: %+v", want[i], result.Stages[i])
		}
	}
	if result.RunID == "" {
		t.Fatal("expected a run id")
	}
}

func TestRunHaltsOnFirstFailure(t *testing.T) {
	var calls []string
	boom := errors.New("load failed")
	stages := []Stage{
		namedStage("ingest", &calls, nil),
		namedStage("load_raw", &calls, boom),
		namedStage("transform", &calls, nil),
	}

	var failures []Failure
	hook := func(_ context.Context, f Failure) { failures = append(failures, f) }
	orch := NewOrchestrator("daily_pipeline", stages, hook, nil, zerolog.Nop())

	result := orch.Run(context.Background())
	if result.Err == nil {
		t.Fatal("expected run error")
	}
	if len(calls) != 2 {
		t.Fatalf("expected the run to halt after load_raw, got calls %v", calls)
	}
	if result.Stages[2].Status != StatusPending {
		t.Fatalf("expected transform to stay pending, got %s", result.Stages[2].Status)
	}

	var stageErr *domain.StageError
	if !errors.As(result.Err, &stageErr) {
		t.Fatalf("expected a stage error, got %T", result.Err)
	}
	if stageErr.Stage != "load_raw" || !errors.Is(stageErr, boom) {
		t.Fatalf("unexpected stage error: %+v", stageErr)
	}

	if len(failures) != 1 {
		t.Fatalf("expected exactly one failure hook call, got %d", len(failures))
	}
	f := failures[0]
	if f.Job != "daily_pipeline" || f.Stage != "load_raw" || f.RunID != result.RunID || !errors.Is(f.Err, boom) {
		t.Fatalf("unexpected failure payload: %+v", f)
	}
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	var calls []string
	stages := []Stage{namedStage("ingest", &calls, nil)}
	bus := &recordingBus{}
	orch := NewOrchestrator("daily_pipeline", stages, nil, bus, zerolog.Nop())
	orch.now = func() time.Time { return time.Date(2026, 8, 28, 2, 0, 0, 0, time.UTC) }

	result := orch.Run(context.Background())
	if result.Err != nil {
		t.Fatal(result.Err)
	}

	wantStatuses := []string{"started", "running", "succeeded", "succeeded"}
	if len(bus.events) != len(wantStatuses) {
		t.Fatalf("expected %d events, got %v", len(wantStatuses), bus.events)
	}
	for i, status := range wantStatuses {
		if bus.events[i].Status != status {
			t.Fatalf("event %d: expected %q, got %+v", i, status, bus.events[i])
		}
		if bus.events[i].RunID != result.RunID {
			t.Fatalf("event %d carries wrong run id: %+v", i, bus.events[i])
		}
		if bus.events[i].OccurredAt.IsZero() {
			t.Fatalf("event %d missing timestamp", i)
		}
	}
}

func TestRunToleratesEventBusErrors(t *testing.T) {
	var calls []string
	stages := []Stage{namedStage("ingest", &calls, nil)}
	bus := &recordingBus{err: errors.New("broker gone")}
	orch := NewOrchestrator("daily_pipeline", stages, nil, bus, zerolog.Nop())

	result := orch.Run(context.Background())
	if result.Err != nil {
		t.Fatalf("bus errors must not fail the run: %v", result.Err)
	}
}

func TestNextRunSameDay(t *testing.T) {
	s := NewScheduler(2, 0, zerolog.Nop())
	now := time.Date(2026, 8, 28, 1, 30, 0, 0, time.UTC)
	next := s.NextRun(now)
	want := time.Date(2026, 8, 28, 2, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
}

func TestNextRunRollsToTomorrow(t *testing.T) {
	s := NewScheduler(2, 0, zerolog.Nop())
	now := time.Date(2026, 8, 28, 2, 0, 0, 0, time.UTC)
	next := s.NextRun(now)
	want := time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
}
