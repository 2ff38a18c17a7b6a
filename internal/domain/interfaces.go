package domain

import (
	"context"
	"time"
)

// MessageSource pulls the full available history of one public channel,
// downloading photo media next to the data lake as it goes. A transient
// rate limit surfaces as *RateLimitError; a private or missing channel
// surfaces as ErrChannelUnavailable. The fetch is not resumable: on
// error the caller re-fetches the channel from scratch.
type MessageSource interface {
	FetchChannel(ctx context.Context, channel string, limit int) ([]RawMessage, error)
}

// Detector is the object-detection capability: image reference in,
// ordered detections out. Order follows the model's detection order.
type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]DetectionBox, error)
}

// TextExtractor is the OCR capability for one bounding-box region.
// It never returns an error: a failed read is an empty string with an
// out-of-band log entry.
type TextExtractor interface {
	Read(ctx context.Context, imagePath string, bbox [4]float64) string
}

// Notifier delivers a plain-text operational notification. Delivery is
// best-effort; errors are for the caller's log only.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// TransformRunner drives the external SQL transformation tool between
// the raw load and the enrichment stages.
type TransformRunner interface {
	RunTransformations(ctx context.Context) error
}

// RawMessageRepo owns the raw.telegram_messages table.
type RawMessageRepo interface {
	// ReplaceRawMessages atomically replaces the table content with the
	// given batch and returns the inserted row count.
	ReplaceRawMessages(ctx context.Context, messages []RawMessage) (int64, error)
	// MessageTexts returns message text keyed by message id for one channel.
	MessageTexts(ctx context.Context, channel string) (map[int64]string, error)
}

// EnrichmentRepo owns the raw.yolo_detections and raw.price_extractions tables.
type EnrichmentRepo interface {
	ReplaceDetections(ctx context.Context, results []ImageDetectionResult) (int64, error)
	ReplaceExtractions(ctx context.Context, records []ExtractionRecord) (int64, error)
	// CountExtractionsSince counts extraction rows loaded at or after the cutoff.
	CountExtractionsSince(ctx context.Context, since time.Time) (int64, error)
}

// ProcessedIndex remembers which images have already been enriched so a
// re-run only picks up new media. The index is an optional capability.
type ProcessedIndex interface {
	IsProcessed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, keys []string) error
}

// RunEvent is one orchestrator lifecycle event published to the event bus.
type RunEvent struct {
	Job        string    `json:"job"`
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RunEventPublisher fans orchestrator events out to external consumers.
// Publishing is best-effort from the pipeline's point of view.
type RunEventPublisher interface {
	Publish(ctx context.Context, event RunEvent) error
}
