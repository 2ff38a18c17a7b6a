package enrich

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"tg-med-warehouse/internal/domain"
	"tg-med-warehouse/internal/infra/metrics"
	"tg-med-warehouse/internal/usecase/extract"
)

// ocrSeparator joins per-box OCR fragments into one text field.
const ocrSeparator = " | "

// Service runs detection, categorization, OCR and entity extraction
// over the downloaded images and bulk-loads the results.
type Service struct {
	detector   domain.Detector
	ocr        domain.TextExtractor
	hasOCR     bool
	processed  domain.ProcessedIndex
	rawRepo    domain.RawMessageRepo
	enrichRepo domain.EnrichmentRepo
	rules      extract.Rules
	imagesDir  string
	workers    int
	log        zerolog.Logger
}

// NewService builds the enrichment engine. ocr and processed are
// optional capabilities: their presence is resolved here, once, instead
// of being probed per call.
func NewService(
	detector domain.Detector,
	ocr domain.TextExtractor,
	processed domain.ProcessedIndex,
	rawRepo domain.RawMessageRepo,
	enrichRepo domain.EnrichmentRepo,
	rules extract.Rules,
	imagesDir string,
	workers int,
	log zerolog.Logger,
) *Service {
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		detector:   detector,
		ocr:        ocr,
		hasOCR:     ocr != nil,
		processed:  processed,
		rawRepo:    rawRepo,
		enrichRepo: enrichRepo,
		rules:      rules,
		imagesDir:  imagesDir,
		workers:    workers,
		log:        log,
	}
}

// Stats reports one enrichment run.
type Stats struct {
	ImagesProcessed    int
	DetectionsLoaded   int64
	ExtractionsLoaded  int64
	SkippedAlreadyDone int
}

type imageRef struct {
	channel   string
	messageID string
	path      string
}

// Run enriches every image not yet processed and loads the results.
func (s *Service) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	refs, err := s.listImages()
	if err != nil {
		return stats, fmt.Errorf("list images: %w", err)
	}
	refs, skipped, err := s.filterProcessed(ctx, refs)
	if err != nil {
		return stats, fmt.Errorf("filter processed images: %w", err)
	}
	stats.SkippedAlreadyDone = skipped
	if len(refs) == 0 {
		s.log.Info().Int("skipped", skipped).Msg("enrich: no new images to process")
		return stats, nil
	}
	s.log.Info().Int("images", len(refs)).Int("workers", s.workers).Msg("enrich: processing images")

	results := s.processImages(ctx, refs)
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	stats.ImagesProcessed = len(results)

	records, err := s.extractRecords(ctx, results)
	if err != nil {
		return stats, err
	}

	if len(results) == 0 {
		s.log.Info().Msg("enrich: empty detection batch, nothing to load")
		return stats, nil
	}
	loaded, err := s.enrichRepo.ReplaceDetections(ctx, results)
	if err != nil {
		return stats, fmt.Errorf("load detections: %w", err)
	}
	stats.DetectionsLoaded = loaded

	if len(records) == 0 {
		s.log.Info().Msg("enrich: no extraction records with signal")
	} else {
		loaded, err = s.enrichRepo.ReplaceExtractions(ctx, records)
		if err != nil {
			return stats, fmt.Errorf("load extractions: %w", err)
		}
		stats.ExtractionsLoaded = loaded
	}

	s.markProcessed(ctx, results)
	return stats, nil
}

// listImages walks <imagesDir>/<channel>/<messageID>.jpg.
func (s *Service) listImages() ([]imageRef, error) {
	entries, err := os.ReadDir(s.imagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Warn().Str("dir", s.imagesDir).Msg("enrich: images directory not found")
			return nil, nil
		}
		return nil, err
	}
	var refs []imageRef
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		channel := entry.Name()
		files, err := os.ReadDir(filepath.Join(s.imagesDir, channel))
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".jpg") {
				continue
			}
			refs = append(refs, imageRef{
				channel:   channel,
				messageID: strings.TrimSuffix(file.Name(), ".jpg"),
				path:      filepath.Join(s.imagesDir, channel, file.Name()),
			})
		}
	}
	return refs, nil
}

func (s *Service) filterProcessed(ctx context.Context, refs []imageRef) ([]imageRef, int, error) {
	if s.processed == nil {
		return refs, 0, nil
	}
	var fresh []imageRef
	skipped := 0
	for _, ref := range refs {
		done, err := s.processed.IsProcessed(ctx, ref.key())
		if err != nil {
			return nil, 0, err
		}
		if done {
			skipped++
			continue
		}
		fresh = append(fresh, ref)
	}
	return fresh, skipped, nil
}

func (ref imageRef) key() string {
	return ref.channel + "/" + ref.messageID
}

// processImages fans the per-image work out over a bounded worker pool.
// The result buffer is the only shared mutable state and is guarded by
// a mutex.
func (s *Service) processImages(ctx context.Context, refs []imageRef) []domain.ImageDetectionResult {
	jobs := make(chan imageRef)
	var mu sync.Mutex
	var results []domain.ImageDetectionResult
	var wg sync.WaitGroup

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range jobs {
				result := s.processImage(ctx, ref)
				mu.Lock()
				results = append(results, result)
				mu.Unlock()
			}
		}()
	}

	for _, ref := range refs {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return results
		case jobs <- ref:
		}
	}
	close(jobs)
	wg.Wait()

	// Stable output for the batch load regardless of worker scheduling.
	sort.Slice(results, func(i, j int) bool {
		if results[i].ChannelName != results[j].ChannelName {
			return results[i].ChannelName < results[j].ChannelName
		}
		return results[i].MessageID < results[j].MessageID
	})
	return results
}

func (s *Service) processImage(ctx context.Context, ref imageRef) domain.ImageDetectionResult {
	detections, err := s.detector.Detect(ctx, ref.path)
	if err != nil {
		// Detection failure degrades to an empty set; the image is
		// still recorded with category "other".
		s.log.Error().Err(err).Str("image", ref.path).Msg("enrich: detection failed")
		detections = nil
	}

	category, classes, maxConfidence := Categorize(detections)
	metrics.ImagesProcessed.WithLabelValues(string(category)).Inc()

	ocrText := ""
	if len(detections) > 0 && s.hasOCR {
		fragments := make([]string, 0, len(detections))
		for _, box := range detections {
			fragments = append(fragments, s.ocr.Read(ctx, ref.path, box.BBox))
		}
		ocrText = strings.Join(fragments, ocrSeparator)
	}

	return domain.ImageDetectionResult{
		MessageID:       ref.messageID,
		ChannelName:     ref.channel,
		ImagePath:       ref.path,
		Category:        category,
		DetectedClasses: classes,
		DetectionCount:  len(detections),
		MaxConfidence:   maxConfidence,
		RawDetections:   detections,
		OCRText:         ocrText,
	}
}

// extractRecords derives product/price mentions from the combined
// message text and OCR text of each enriched image.
func (s *Service) extractRecords(ctx context.Context, results []domain.ImageDetectionResult) ([]domain.ExtractionRecord, error) {
	texts := make(map[string]map[int64]string)
	var records []domain.ExtractionRecord
	for _, result := range results {
		channelTexts, ok := texts[result.ChannelName]
		if !ok {
			var err error
			channelTexts, err = s.rawRepo.MessageTexts(ctx, result.ChannelName)
			if err != nil {
				return nil, fmt.Errorf("message texts for %s: %w", result.ChannelName, err)
			}
			texts[result.ChannelName] = channelTexts
		}
		messageText := ""
		if id, err := strconv.ParseInt(result.MessageID, 10, 64); err == nil {
			messageText = channelTexts[id]
		}
		record, ok := s.rules.Parse(result.MessageID, result.ChannelName, messageText, result.OCRText)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *Service) markProcessed(ctx context.Context, results []domain.ImageDetectionResult) {
	if s.processed == nil {
		return
	}
	keys := make([]string, 0, len(results))
	for _, r := range results {
		keys = append(keys, r.ChannelName+"/"+r.MessageID)
	}
	if err := s.processed.MarkProcessed(ctx, keys); err != nil {
		s.log.Warn().Err(err).Msg("enrich: failed to mark images processed")
	}
}
