package alerter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-med-warehouse/internal/domain"
)

// window is the look-back period for the extraction volume check.
const window = 24 * time.Hour

// Service checks the freshly loaded price-extraction volume against a
// threshold and notifies when the market is unusually active.
type Service struct {
	repo      domain.EnrichmentRepo
	notifier  domain.Notifier
	threshold int64
	log       zerolog.Logger

	now func() time.Time
}

// NewService builds the threshold alerter. notifier may be nil; the
// check then only logs.
func NewService(repo domain.EnrichmentRepo, notifier domain.Notifier, threshold int64, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		notifier:  notifier,
		threshold: threshold,
		log:       log,
		now:       time.Now,
	}
}

// Run counts the extractions loaded within the window and fires the
// notification when the count reaches the threshold. A notification
// delivery failure is logged, never returned.
func (s *Service) Run(ctx context.Context) (int64, bool, error) {
	since := s.now().UTC().Add(-window)
	count, err := s.repo.CountExtractionsSince(ctx, since)
	if err != nil {
		return 0, false, fmt.Errorf("count recent extractions: %w", err)
	}

	if count < s.threshold {
		s.log.Info().Int64("count", count).Int64("threshold", s.threshold).Msg("alerter: volume below threshold")
		return count, false, nil
	}

	s.log.Info().Int64("count", count).Int64("threshold", s.threshold).Msg("alerter: volume threshold reached")
	if s.notifier == nil {
		return count, false, nil
	}
	text := fmt.Sprintf(
		"High price-extraction volume: %d records loaded in the last 24h (threshold %d).",
		count, s.threshold,
	)
	if err := s.notifier.Notify(ctx, text); err != nil {
		s.log.Error().Err(err).Msg("alerter: notification delivery failed")
	}
	return count, true, nil
}
