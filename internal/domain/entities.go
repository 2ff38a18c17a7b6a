package domain

import "time"

// ImageCategory is the semantic class assigned to a scraped image.
type ImageCategory string

const (
	// CategoryPromotional marks images showing a person together with a product.
	CategoryPromotional ImageCategory = "promotional"
	// CategoryProductDisplay marks images showing a product without a person.
	CategoryProductDisplay ImageCategory = "product_display"
	// CategoryLifestyle marks images showing a person without a product.
	CategoryLifestyle ImageCategory = "lifestyle"
	// CategoryOther marks images with neither a person nor a product detected.
	CategoryOther ImageCategory = "other"
)

// RawMessage is one scraped channel message as it lands in the data lake.
type RawMessage struct {
	MessageID   int64     `json:"message_id"`
	ChannelName string    `json:"channel_name"`
	MessageDate time.Time `json:"message_date"`
	MessageText string    `json:"message_text"`
	HasMedia    bool      `json:"has_media"`
	ImagePath   string    `json:"image_path,omitempty"`
	Views       int       `json:"views"`
	Forwards    int       `json:"forwards"`
	IsReply     bool      `json:"is_reply"`
	ReplyToID   *int64    `json:"reply_to_msg_id,omitempty"`
	SourceFile  string    `json:"source_file,omitempty"`
}

// DetectionBox is a single object detection produced for an image.
// Boxes are ephemeral: they feed categorization and OCR and are only
// persisted in serialized aggregate form.
type DetectionBox struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// ImageDetectionResult aggregates the detections for one image.
type ImageDetectionResult struct {
	MessageID       string
	ChannelName     string
	ImagePath       string
	Category        ImageCategory
	DetectedClasses []string
	DetectionCount  int
	MaxConfidence   float64
	RawDetections   []DetectionBox
	OCRText         string
}

// ExtractionRecord holds product and price mentions parsed from the
// combined message and OCR text. A record with neither products nor
// prices carries no signal and must not be persisted.
type ExtractionRecord struct {
	MessageID   string
	ChannelName string
	Products    []string
	Prices      []string
	SourceText  string
}

// Empty reports whether the record carries no extracted signal.
func (r ExtractionRecord) Empty() bool {
	return len(r.Products) == 0 && len(r.Prices) == 0
}

// ChannelScrapeStatus is the per-channel outcome of an ingestion run.
type ChannelScrapeStatus struct {
	ChannelName     string `json:"channel_name"`
	MessagesScraped int    `json:"messages_scraped"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
}

const (
	// ScrapeStatusSuccess marks a channel that was fully ingested.
	ScrapeStatusSuccess = "success"
	// ScrapeStatusFailed marks a channel that was skipped after an error.
	ScrapeStatusFailed = "failed"
)

// RunSummary reports one ingestion run across all configured channels.
type RunSummary struct {
	StartTime time.Time             `json:"start_time"`
	EndTime   time.Time             `json:"end_time"`
	Channels  []ChannelScrapeStatus `json:"channels"`
}

// Failed returns the statuses of channels that could not be scraped.
func (s RunSummary) Failed() []ChannelScrapeStatus {
	var out []ChannelScrapeStatus
	for _, ch := range s.Channels {
		if ch.Status == ScrapeStatusFailed {
			out = append(out, ch)
		}
	}
	return out
}
