package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"tg-med-warehouse/internal/adapters/mtproto"
	"tg-med-warehouse/internal/domain"
	"tg-med-warehouse/internal/infra/config"
	applog "tg-med-warehouse/internal/infra/log"
	"tg-med-warehouse/internal/infra/metrics"
	"tg-med-warehouse/internal/usecase/ingest"
)

// One-off scrape of the configured channels into the data lake, without
// the warehouse stages. Useful for backfills and session bootstrap.
func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telegram.APIID == 0 || cfg.Telegram.APIHash == "" {
		logger.Fatal().Msg("scrape: missing Telegram API credentials (TG_API_ID, TG_API_HASH)")
	}
	imagesDir := filepath.Join(cfg.DataDir, "raw", "images")
	source := mtproto.NewSource(cfg.Telegram.APIID, cfg.Telegram.APIHash, cfg.Telegram.SessionFile, imagesDir,
		logger.With().Str("component", "mtproto").Logger())

	svc := ingest.NewService(source, cfg.Channels, cfg.LimitPerChannel, cfg.DataDir, cfg.LogsDir,
		logger.With().Str("component", "ingest").Logger())

	summary, err := svc.Run(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("scrape: run aborted")
	}
	for _, ch := range summary.Channels {
		event := logger.Info()
		if ch.Status == domain.ScrapeStatusFailed {
			event = logger.Error().Str("error", ch.Error)
		}
		event.Str("channel", ch.ChannelName).Int("messages", ch.MessagesScraped).Str("status", ch.Status).Msg("scrape: channel result")
	}
	if len(summary.Failed()) == len(summary.Channels) && len(summary.Channels) > 0 {
		logger.Error().Msg("scrape: every channel failed")
		os.Exit(1)
	}
}
