package alerter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-med-warehouse/internal/domain"
)

type countRepo struct {
	count int64
	err   error
	since time.Time
}

func (r *countRepo) ReplaceDetections(_ context.Context, results []domain.ImageDetectionResult) (int64, error) {
	return int64(len(results)), nil
}

func (r *countRepo) ReplaceExtractions(_ context.Context, records []domain.ExtractionRecord) (int64, error) {
	return int64(len(records)), nil
}

func (r *countRepo) CountExtractionsSince(_ context.Context, since time.Time) (int64, error) {
	r.since = since
	return r.count, r.err
}

type spyNotifier struct {
	messages []string
	err      error
}

func (n *spyNotifier) Notify(_ context.Context, text string) error {
	n.messages = append(n.messages, text)
	return n.err
}

func TestRunNotifiesAtThreshold(t *testing.T) {
	repo := &countRepo{count: 50}
	notifier := &spyNotifier{}
	svc := NewService(repo, notifier, 50, zerolog.Nop())
	now := time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	count, alerted, err := svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 50 || !alerted {
		t.Fatalf("expected alert at threshold, got count=%d alerted=%v", count, alerted)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("expected one notification, got %v", notifier.messages)
	}
	if !strings.Contains(notifier.messages[0], "50") {
		t.Fatalf("expected the count in the message, got %q", notifier.messages[0])
	}
	wantSince := now.Add(-24 * time.Hour)
	if !repo.since.Equal(wantSince) {
		t.Fatalf("expected 24h window, got since=%s", repo.since)
	}
}

func TestRunBelowThresholdIsQuiet(t *testing.T) {
	repo := &countRepo{count: 49}
	notifier := &spyNotifier{}
	svc := NewService(repo, notifier, 50, zerolog.Nop())

	_, alerted, err := svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if alerted || len(notifier.messages) != 0 {
		t.Fatalf("expected no notification below threshold, got %v", notifier.messages)
	}
}

func TestRunSwallowsDeliveryFailure(t *testing.T) {
	repo := &countRepo{count: 100}
	notifier := &spyNotifier{err: errors.New("bot token revoked")}
	svc := NewService(repo, notifier, 50, zerolog.Nop())

	_, alerted, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("delivery failure must not fail the check: %v", err)
	}
	if !alerted {
		t.Fatal("expected the alert attempt to be reported")
	}
}

func TestRunPropagatesCountError(t *testing.T) {
	repo := &countRepo{err: errors.New("db down")}
	svc := NewService(repo, &spyNotifier{}, 50, zerolog.Nop())

	if _, _, err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected the count error to surface")
	}
}

func TestRunWithoutNotifier(t *testing.T) {
	repo := &countRepo{count: 999}
	svc := NewService(repo, nil, 50, zerolog.Nop())

	_, alerted, err := svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if alerted {
		t.Fatal("expected no alert without a configured notifier")
	}
}
