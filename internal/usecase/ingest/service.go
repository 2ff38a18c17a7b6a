package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"tg-med-warehouse/internal/domain"
	"tg-med-warehouse/internal/infra/metrics"
)

// maxRateLimitRetries bounds how often one channel is re-fetched after a
// rate-limit pause before it is recorded as failed.
const maxRateLimitRetries = 5

// Service scrapes the configured channels into the data lake. One
// channel failing never aborts the run: it is recorded in the summary
// and the loop moves on.
type Service struct {
	source   domain.MessageSource
	channels []string
	limit    int
	dataDir  string
	logsDir  string
	log      zerolog.Logger

	// Injection points for tests; defaults are a context-aware sleep
	// and time.Now.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// pause waits for d unless the context ends first.
func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewService builds the ingestion engine for the given channel list.
func NewService(source domain.MessageSource, channels []string, limit int, dataDir, logsDir string, log zerolog.Logger) *Service {
	return &Service{
		source:   source,
		channels: channels,
		limit:    limit,
		dataDir:  dataDir,
		logsDir:  logsDir,
		log:      log,
		sleep:    pause,
		now:      time.Now,
	}
}

// Run scrapes every configured channel and writes the per-run summary.
// It returns an error only when the run as a whole could not proceed;
// per-channel failures land in the summary instead.
func (s *Service) Run(ctx context.Context) (domain.RunSummary, error) {
	summary := domain.RunSummary{StartTime: s.now().UTC()}
	date := summary.StartTime

	for _, channel := range s.channels {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		status := s.scrapeChannel(ctx, channel, date)
		summary.Channels = append(summary.Channels, status)
		metrics.ChannelsScraped.WithLabelValues(status.Status).Inc()
	}

	summary.EndTime = s.now().UTC()
	if err := s.writeSummary(summary); err != nil {
		s.log.Warn().Err(err).Msg("ingest: failed to write run summary")
	}
	s.log.Info().
		Int("channels", len(summary.Channels)).
		Int("failed", len(summary.Failed())).
		Msg("ingest: run finished")
	return summary, nil
}

// scrapeChannel fetches one channel, retrying the whole fetch after a
// rate-limit pause. The source is not resumable, so a retry starts over.
func (s *Service) scrapeChannel(ctx context.Context, channel string, date time.Time) domain.ChannelScrapeStatus {
	status := domain.ChannelScrapeStatus{ChannelName: channel}

	var messages []domain.RawMessage
	var err error
	for attempt := 0; ; attempt++ {
		messages, err = s.source.FetchChannel(ctx, channel, s.limit)
		if err == nil {
			break
		}
		rl, ok := domain.AsRateLimit(err)
		if !ok || attempt >= maxRateLimitRetries {
			s.log.Error().Err(err).Str("channel", channel).Msg("ingest: channel scrape failed")
			status.Status = domain.ScrapeStatusFailed
			status.Error = err.Error()
			return status
		}
		metrics.RateLimitWaits.Inc()
		s.log.Warn().
			Str("channel", channel).
			Dur("retry_after", rl.RetryAfter).
			Int("attempt", attempt+1).
			Msg("ingest: rate limited, backing off")
		if err := s.sleep(ctx, rl.RetryAfter); err != nil {
			status.Status = domain.ScrapeStatusFailed
			status.Error = err.Error()
			return status
		}
	}

	path, err := WritePartition(s.dataDir, date, channel, messages)
	if err != nil {
		s.log.Error().Err(err).Str("channel", channel).Msg("ingest: partition write failed")
		status.Status = domain.ScrapeStatusFailed
		status.Error = err.Error()
		return status
	}

	metrics.MessagesScraped.WithLabelValues(channel).Add(float64(len(messages)))
	s.log.Info().
		Str("channel", channel).
		Int("messages", len(messages)).
		Str("partition", path).
		Msg("ingest: channel scraped")

	status.Status = domain.ScrapeStatusSuccess
	status.MessagesScraped = len(messages)
	return status
}

// writeSummary drops the run report next to the scraper logs.
func (s *Service) writeSummary(summary domain.RunSummary) error {
	if err := os.MkdirAll(s.logsDir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	name := fmt.Sprintf("scrape_run_%s.json", summary.StartTime.Format("20060102_150405"))
	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.logsDir, name), body, 0o644); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}
	return nil
}
