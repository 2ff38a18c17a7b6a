package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-med-warehouse/internal/adapters/alert"
	"tg-med-warehouse/internal/adapters/detector"
	"tg-med-warehouse/internal/adapters/mtproto"
	"tg-med-warehouse/internal/adapters/ocrtext"
	"tg-med-warehouse/internal/adapters/repo"
	"tg-med-warehouse/internal/domain"
	"tg-med-warehouse/internal/infra/cache"
	"tg-med-warehouse/internal/infra/config"
	"tg-med-warehouse/internal/infra/db"
	apphttp "tg-med-warehouse/internal/infra/http"
	applog "tg-med-warehouse/internal/infra/log"
	"tg-med-warehouse/internal/infra/metrics"
	"tg-med-warehouse/internal/infra/queue"
	"tg-med-warehouse/internal/usecase/alerter"
	"tg-med-warehouse/internal/usecase/enrich"
	"tg-med-warehouse/internal/usecase/extract"
	"tg-med-warehouse/internal/usecase/ingest"
	"tg-med-warehouse/internal/usecase/pipeline"
	"tg-med-warehouse/internal/usecase/rawload"
)

// noopTransform stands in for the external SQL transformation tool,
// which runs out of process against the same warehouse.
type noopTransform struct {
	log zerolog.Logger
}

func (t noopTransform) RunTransformations(context.Context) error {
	t.log.Info().Msg("transform: external transformation step, nothing to run in-process")
	return nil
}

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ops := apphttp.NewServer(logger.With().Str("component", "ops").Logger())
	ops.Start(fmt.Sprintf(":%d", cfg.Port))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ops.Shutdown(shutdownCtx)
	}()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline: database connection failed")
	}
	defer pool.Close()
	warehouse := repo.NewPostgres(pool)

	if cfg.Telegram.APIID == 0 || cfg.Telegram.APIHash == "" {
		logger.Fatal().Msg("pipeline: missing Telegram API credentials (TG_API_ID, TG_API_HASH)")
	}
	imagesDir := filepath.Join(cfg.DataDir, "raw", "images")
	source := mtproto.NewSource(cfg.Telegram.APIID, cfg.Telegram.APIHash, cfg.Telegram.SessionFile, imagesDir,
		logger.With().Str("component", "mtproto").Logger())

	if cfg.Detector.URL == "" {
		logger.Fatal().Msg("pipeline: missing object detection service address (DETECTOR_URL)")
	}
	detect := detector.NewClient(cfg.Detector.URL, time.Duration(cfg.Detector.Timeout)*time.Second)

	// Optional capabilities are resolved once here; a nil value means
	// the pipeline degrades instead of failing.
	var ocr domain.TextExtractor
	if cfg.OCR.URL != "" {
		ocr = ocrtext.NewClient(cfg.OCR.URL, time.Duration(cfg.OCR.Timeout)*time.Second,
			logger.With().Str("component", "ocr").Logger())
	} else {
		logger.Warn().Msg("pipeline: OCR_URL not set, images will be enriched without text")
	}

	var processed domain.ProcessedIndex
	if cfg.RedisAddr != "" {
		processed = cache.NewProcessedIndex(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	var notifier domain.Notifier
	if cfg.Alerts.BotToken != "" && cfg.Alerts.ChatID != 0 {
		notifier, err = alert.NewTelegramNotifier(cfg.Alerts.BotToken, cfg.Alerts.ChatID,
			logger.With().Str("component", "alert").Logger())
		if err != nil {
			logger.Fatal().Err(err).Msg("pipeline: alert bot initialization failed")
		}
	} else {
		logger.Warn().Msg("pipeline: alert bot not configured, failures will only be logged")
	}

	var events domain.RunEventPublisher
	if cfg.RabbitURL != "" {
		bus, err := queue.NewRabbitRunEvents(cfg.RabbitURL, cfg.Queues.RunEvents)
		if err != nil {
			logger.Fatal().Err(err).Msg("pipeline: run event queue initialization failed")
		}
		defer bus.Close()
		events = bus
	}

	ingestSvc := ingest.NewService(source, cfg.Channels, cfg.LimitPerChannel, cfg.DataDir, cfg.LogsDir,
		logger.With().Str("component", "ingest").Logger())
	loadSvc := rawload.NewService(cfg.DataDir, warehouse,
		logger.With().Str("component", "rawload").Logger())
	enrichSvc := enrich.NewService(detect, ocr, processed, warehouse, warehouse, extract.DefaultRules(),
		imagesDir, cfg.Enrich.Workers, logger.With().Str("component", "enrich").Logger())
	alertSvc := alerter.NewService(warehouse, notifier, cfg.Alerts.Threshold,
		logger.With().Str("component", "alerter").Logger())
	var transform domain.TransformRunner = noopTransform{log: logger.With().Str("component", "transform").Logger()}

	stages := []pipeline.Stage{
		{Name: "ingest", Run: func(ctx context.Context) error {
			summary, err := ingestSvc.Run(ctx)
			if err != nil {
				return err
			}
			for _, ch := range summary.Failed() {
				logger.Warn().Str("channel", ch.ChannelName).Str("error", ch.Error).Msg("pipeline: channel skipped")
			}
			return nil
		}},
		{Name: "load_raw", Run: func(ctx context.Context) error {
			_, err := loadSvc.Run(ctx)
			return err
		}},
		{Name: "transform", Run: transform.RunTransformations},
		{Name: "enrich", Run: func(ctx context.Context) error {
			_, err := enrichSvc.Run(ctx)
			return err
		}},
	}

	onFailure := func(ctx context.Context, f pipeline.Failure) {
		if notifier == nil {
			return
		}
		text := fmt.Sprintf("Pipeline run %s failed at stage %q: %v", f.RunID, f.Stage, f.Err)
		if err := notifier.Notify(ctx, text); err != nil {
			logger.Error().Err(err).Msg("pipeline: failure notification not delivered")
		}
	}

	orch := pipeline.NewOrchestrator("daily_pipeline", stages, onFailure, events,
		logger.With().Str("component", "orchestrator").Logger())

	runOnce := func(ctx context.Context) {
		result := orch.Run(ctx)
		if result.Err != nil {
			return
		}
		if _, _, err := alertSvc.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("pipeline: extraction volume check failed")
		}
	}

	if cfg.Schedule.RunOnce {
		runOnce(ctx)
		return
	}
	sched := pipeline.NewScheduler(cfg.Schedule.DailyHour, cfg.Schedule.DailyMinute,
		logger.With().Str("component", "scheduler").Logger())
	sched.Loop(ctx, runOnce)
}
