package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-med-warehouse/internal/domain"
	"tg-med-warehouse/internal/infra/metrics"
)

// Postgres implements the warehouse repositories on top of pgxpool.
//
// The destructive-idempotent loads build a staging table, bulk-copy into
// it and swap it in place of the live table inside a single transaction,
// so concurrent readers never observe a dropped or half-filled table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates the warehouse adapter.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var (
	_ domain.RawMessageRepo = (*Postgres)(nil)
	_ domain.EnrichmentRepo = (*Postgres)(nil)
)

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Minute)
}

// ReplaceRawMessages atomically replaces raw.telegram_messages with the batch.
func (p *Postgres) ReplaceRawMessages(ctx context.Context, messages []domain.RawMessage) (int64, error) {
	if len(messages) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ddl := []string{
		`CREATE SCHEMA IF NOT EXISTS raw`,
		`DROP TABLE IF EXISTS raw.telegram_messages_staging`,
		`CREATE TABLE raw.telegram_messages_staging (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			message_id BIGINT,
			channel_name VARCHAR(255),
			message_date TIMESTAMPTZ,
			message_text TEXT,
			has_media BOOLEAN,
			image_path VARCHAR(500),
			views INTEGER,
			forwards INTEGER,
			is_reply BOOLEAN,
			reply_to_msg_id BIGINT,
			scraped_at TIMESTAMPTZ DEFAULT now(),
			source_file VARCHAR(500)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, fmt.Errorf("prepare staging: %w", err)
		}
	}

	columns := []string{
		"message_id", "channel_name", "message_date", "message_text",
		"has_media", "image_path", "views", "forwards",
		"is_reply", "reply_to_msg_id", "source_file",
	}
	start := time.Now()
	inserted, err := tx.CopyFrom(ctx,
		pgx.Identifier{"raw", "telegram_messages_staging"},
		columns,
		pgx.CopyFromSlice(len(messages), func(i int) ([]any, error) {
			m := messages[i]
			var replyTo sql.NullInt64
			if m.ReplyToID != nil {
				replyTo = sql.NullInt64{Int64: *m.ReplyToID, Valid: true}
			}
			return []any{
				m.MessageID, m.ChannelName, m.MessageDate, m.MessageText,
				m.HasMedia, nullString(m.ImagePath), m.Views, m.Forwards,
				m.IsReply, replyTo, nullString(m.SourceFile),
			}, nil
		}),
	)
	metrics.ObserveNetworkRequest("postgres", "copy_from", "raw.telegram_messages", start, err)
	if err != nil {
		return 0, fmt.Errorf("copy raw messages: %w", err)
	}

	swap := []string{
		`DROP TABLE IF EXISTS raw.telegram_messages`,
		`ALTER TABLE raw.telegram_messages_staging RENAME TO telegram_messages`,
		`CREATE INDEX idx_tm_channel_name ON raw.telegram_messages (channel_name)`,
		`CREATE INDEX idx_tm_message_date ON raw.telegram_messages (message_date)`,
		`CREATE INDEX idx_tm_has_media ON raw.telegram_messages (has_media)`,
	}
	for _, stmt := range swap {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, fmt.Errorf("swap raw messages: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit raw load: %w", err)
	}
	metrics.RowsLoaded.WithLabelValues("raw.telegram_messages").Add(float64(inserted))
	return inserted, nil
}

// MessageTexts returns message text keyed by message id for one channel.
func (p *Postgres) MessageTexts(ctx context.Context, channel string) (map[int64]string, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT message_id, COALESCE(message_text, '')
FROM raw.telegram_messages
WHERE channel_name = $1`, channel)
	metrics.ObserveNetworkRequest("postgres", "select", "raw.telegram_messages", start, err)
	if err != nil {
		return nil, fmt.Errorf("query message texts: %w", err)
	}
	defer rows.Close()
	texts := make(map[int64]string)
	for rows.Next() {
		var id int64
		var text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("scan message text: %w", err)
		}
		texts[id] = text
	}
	return texts, rows.Err()
}

// ReplaceDetections atomically replaces raw.yolo_detections with the batch.
func (p *Postgres) ReplaceDetections(ctx context.Context, results []domain.ImageDetectionResult) (int64, error) {
	if len(results) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ddl := []string{
		`CREATE SCHEMA IF NOT EXISTS raw`,
		`DROP TABLE IF EXISTS raw.yolo_detections_staging`,
		`CREATE TABLE raw.yolo_detections_staging (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			message_id VARCHAR(50),
			channel_name VARCHAR(255),
			image_path VARCHAR(500),
			category VARCHAR(50),
			detected_objects TEXT,
			num_detections INTEGER,
			max_confidence DOUBLE PRECISION,
			detections_json JSONB,
			ocr_text TEXT,
			loaded_at TIMESTAMPTZ DEFAULT now()
		)`,
	}
	for _, stmt := range ddl {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, fmt.Errorf("prepare staging: %w", err)
		}
	}

	columns := []string{
		"message_id", "channel_name", "image_path", "category",
		"detected_objects", "num_detections", "max_confidence",
		"detections_json", "ocr_text",
	}
	start := time.Now()
	inserted, err := tx.CopyFrom(ctx,
		pgx.Identifier{"raw", "yolo_detections_staging"},
		columns,
		pgx.CopyFromSlice(len(results), func(i int) ([]any, error) {
			r := results[i]
			boxes, err := json.Marshal(r.RawDetections)
			if err != nil {
				return nil, fmt.Errorf("marshal detections: %w", err)
			}
			return []any{
				r.MessageID, r.ChannelName, r.ImagePath, string(r.Category),
				strings.Join(r.DetectedClasses, ", "), r.DetectionCount,
				r.MaxConfidence, boxes, r.OCRText,
			}, nil
		}),
	)
	metrics.ObserveNetworkRequest("postgres", "copy_from", "raw.yolo_detections", start, err)
	if err != nil {
		return 0, fmt.Errorf("copy detections: %w", err)
	}

	swap := []string{
		`DROP TABLE IF EXISTS raw.yolo_detections`,
		`ALTER TABLE raw.yolo_detections_staging RENAME TO yolo_detections`,
		`CREATE INDEX idx_yolo_message ON raw.yolo_detections (message_id)`,
		`CREATE INDEX idx_yolo_channel_category ON raw.yolo_detections (channel_name, category)`,
	}
	for _, stmt := range swap {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, fmt.Errorf("swap detections: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit detections load: %w", err)
	}
	metrics.RowsLoaded.WithLabelValues("raw.yolo_detections").Add(float64(inserted))
	return inserted, nil
}

// ReplaceExtractions atomically replaces raw.price_extractions with the batch.
func (p *Postgres) ReplaceExtractions(ctx context.Context, records []domain.ExtractionRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ddl := []string{
		`CREATE SCHEMA IF NOT EXISTS raw`,
		`DROP TABLE IF EXISTS raw.price_extractions_staging`,
		`CREATE TABLE raw.price_extractions_staging (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			message_id VARCHAR(50),
			channel_name VARCHAR(255),
			products TEXT,
			prices TEXT,
			source_text TEXT,
			loaded_at TIMESTAMPTZ DEFAULT now()
		)`,
	}
	for _, stmt := range ddl {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, fmt.Errorf("prepare staging: %w", err)
		}
	}

	columns := []string{"message_id", "channel_name", "products", "prices", "source_text"}
	start := time.Now()
	inserted, err := tx.CopyFrom(ctx,
		pgx.Identifier{"raw", "price_extractions_staging"},
		columns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{
				r.MessageID, r.ChannelName,
				strings.Join(r.Products, ","), strings.Join(r.Prices, ","),
				r.SourceText,
			}, nil
		}),
	)
	metrics.ObserveNetworkRequest("postgres", "copy_from", "raw.price_extractions", start, err)
	if err != nil {
		return 0, fmt.Errorf("copy extractions: %w", err)
	}

	swap := []string{
		`DROP TABLE IF EXISTS raw.price_extractions`,
		`ALTER TABLE raw.price_extractions_staging RENAME TO price_extractions`,
		`CREATE INDEX idx_price_message ON raw.price_extractions (message_id)`,
	}
	for _, stmt := range swap {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, fmt.Errorf("swap extractions: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit extractions load: %w", err)
	}
	metrics.RowsLoaded.WithLabelValues("raw.price_extractions").Add(float64(inserted))
	return inserted, nil
}

// CountExtractionsSince counts extraction rows loaded at or after the cutoff.
// A missing table counts as zero so the alerter works before the first load.
func (p *Postgres) CountExtractionsSince(ctx context.Context, since time.Time) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT to_regclass('raw.price_extractions') IS NOT NULL`).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check extractions table: %w", err)
	}
	if !exists {
		return 0, nil
	}
	start := time.Now()
	var count int64
	err := p.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM raw.price_extractions WHERE loaded_at >= $1`, since).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "count", "raw.price_extractions", start, err)
	if err != nil {
		return 0, fmt.Errorf("count extractions: %w", err)
	}
	return count, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
