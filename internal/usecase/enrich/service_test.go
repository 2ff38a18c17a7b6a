package enrich

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-med-warehouse/internal/domain"
	"tg-med-warehouse/internal/usecase/extract"
)

type stubDetector struct {
	detections map[string][]domain.DetectionBox
	err        error
}

func (d *stubDetector) Detect(_ context.Context, imagePath string) ([]domain.DetectionBox, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.detections[filepath.Base(imagePath)], nil
}

type stubOCR struct {
	text string
}

func (o *stubOCR) Read(_ context.Context, _ string, _ [4]float64) string {
	return o.text
}

type memRawRepo struct {
	texts map[string]map[int64]string
}

func (r *memRawRepo) ReplaceRawMessages(_ context.Context, messages []domain.RawMessage) (int64, error) {
	return int64(len(messages)), nil
}

func (r *memRawRepo) MessageTexts(_ context.Context, channel string) (map[int64]string, error) {
	return r.texts[channel], nil
}

type memEnrichRepo struct {
	detections  []domain.ImageDetectionResult
	extractions []domain.ExtractionRecord
}

func (r *memEnrichRepo) ReplaceDetections(_ context.Context, results []domain.ImageDetectionResult) (int64, error) {
	r.detections = results
	return int64(len(results)), nil
}

func (r *memEnrichRepo) ReplaceExtractions(_ context.Context, records []domain.ExtractionRecord) (int64, error) {
	r.extractions = records
	return int64(len(records)), nil
}

func (r *memEnrichRepo) CountExtractionsSince(_ context.Context, _ time.Time) (int64, error) {
	return int64(len(r.extractions)), nil
}

type memProcessedIndex struct {
	done map[string]bool
}

func (i *memProcessedIndex) IsProcessed(_ context.Context, key string) (bool, error) {
	return i.done[key], nil
}

func (i *memProcessedIndex) MarkProcessed(_ context.Context, keys []string) error {
	for _, key := range keys {
		i.done[key] = true
	}
	return nil
}

func writeImage(t *testing.T, dir, channel, name string) {
	t.Helper()
	channelDir := filepath.Join(dir, channel)
	if err := os.MkdirAll(channelDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(channelDir, name), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestRunEnrichesImage(t *testing.T) {
	imagesDir := t.TempDir()
	writeImage(t, imagesDir, "tikvahpharma", "42.jpg")

	detector := &stubDetector{detections: map[string][]domain.DetectionBox{
		"42.jpg": {
			{Class: "bottle", Confidence: 0.8},
			{Class: "person", Confidence: 0.9},
		},
	}}
	ocr := &stubOCR{text: "aspirin 50 ETB"}
	rawRepo := &memRawRepo{texts: map[string]map[int64]string{
		"tikvahpharma": {42: "new stock available"},
	}}
	enrichRepo := &memEnrichRepo{}

	svc := NewService(detector, ocr, nil, rawRepo, enrichRepo, extract.DefaultRules(), imagesDir, 1, testLogger())
	stats, err := svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.ImagesProcessed != 1 {
		t.Fatalf("expected 1 image processed, got %d", stats.ImagesProcessed)
	}
	if stats.DetectionsLoaded != 1 {
		t.Fatalf("expected 1 detection row, got %d", stats.DetectionsLoaded)
	}

	result := enrichRepo.detections[0]
	if result.Category != domain.CategoryPromotional {
		t.Fatalf("expected promotional, got %s", result.Category)
	}
	if !reflect.DeepEqual(result.DetectedClasses, []string{"bottle", "person"}) {
		t.Fatalf("expected classes in detection order, got %v", result.DetectedClasses)
	}
	if result.OCRText != "aspirin 50 ETB | aspirin 50 ETB" {
		t.Fatalf("expected per-box OCR fragments joined, got %q", result.OCRText)
	}

	if len(enrichRepo.extractions) != 1 {
		t.Fatalf("expected 1 extraction record, got %d", len(enrichRepo.extractions))
	}
	record := enrichRepo.extractions[0]
	if !reflect.DeepEqual(record.Products, []string{"aspirin"}) {
		t.Fatalf("expected [aspirin], got %v", record.Products)
	}
}

func TestRunDetectorFailureDegradesToOther(t *testing.T) {
	imagesDir := t.TempDir()
	writeImage(t, imagesDir, "CheMed123", "7.jpg")

	detector := &stubDetector{err: errors.New("model unavailable")}
	enrichRepo := &memEnrichRepo{}
	rawRepo := &memRawRepo{texts: map[string]map[int64]string{}}

	svc := NewService(detector, nil, nil, rawRepo, enrichRepo, extract.DefaultRules(), imagesDir, 1, testLogger())
	stats, err := svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.ImagesProcessed != 1 {
		t.Fatalf("expected the failed image to still be recorded, got %d", stats.ImagesProcessed)
	}
	result := enrichRepo.detections[0]
	if result.Category != domain.CategoryOther {
		t.Fatalf("expected other, got %s", result.Category)
	}
	if result.DetectionCount != 0 || result.MaxConfidence != 0.0 {
		t.Fatalf("expected empty detection set, got count=%d max=%f", result.DetectionCount, result.MaxConfidence)
	}
}

func TestRunSkipsProcessedImages(t *testing.T) {
	imagesDir := t.TempDir()
	writeImage(t, imagesDir, "lobelia4cosmetics", "1.jpg")
	writeImage(t, imagesDir, "lobelia4cosmetics", "2.jpg")

	detector := &stubDetector{detections: map[string][]domain.DetectionBox{}}
	enrichRepo := &memEnrichRepo{}
	rawRepo := &memRawRepo{texts: map[string]map[int64]string{}}
	index := &memProcessedIndex{done: map[string]bool{"lobelia4cosmetics/1": true}}

	svc := NewService(detector, nil, index, rawRepo, enrichRepo, extract.DefaultRules(), imagesDir, 1, testLogger())
	stats, err := svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.SkippedAlreadyDone != 1 {
		t.Fatalf("expected 1 skipped image, got %d", stats.SkippedAlreadyDone)
	}
	if stats.ImagesProcessed != 1 {
		t.Fatalf("expected 1 processed image, got %d", stats.ImagesProcessed)
	}
	if !index.done["lobelia4cosmetics/2"] {
		t.Fatal("expected the new image to be marked processed")
	}
}

func TestRunTwiceLoadsSameCount(t *testing.T) {
	imagesDir := t.TempDir()
	writeImage(t, imagesDir, "CheMed123", "10.jpg")
	writeImage(t, imagesDir, "CheMed123", "11.jpg")

	detector := &stubDetector{detections: map[string][]domain.DetectionBox{
		"10.jpg": {{Class: "bottle", Confidence: 0.5}},
	}}
	enrichRepo := &memEnrichRepo{}
	rawRepo := &memRawRepo{texts: map[string]map[int64]string{}}

	svc := NewService(detector, nil, nil, rawRepo, enrichRepo, extract.DefaultRules(), imagesDir, 2, testLogger())

	first, err := svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.DetectionsLoaded != second.DetectionsLoaded {
		t.Fatalf("re-run changed row count: %d vs %d", first.DetectionsLoaded, second.DetectionsLoaded)
	}
	if len(enrichRepo.detections) != 2 {
		t.Fatalf("expected 2 detection rows after re-run, got %d", len(enrichRepo.detections))
	}
}

func TestRunMissingImagesDir(t *testing.T) {
	enrichRepo := &memEnrichRepo{}
	rawRepo := &memRawRepo{texts: map[string]map[int64]string{}}
	svc := NewService(&stubDetector{}, nil, nil, rawRepo, enrichRepo, extract.DefaultRules(), filepath.Join(t.TempDir(), "absent"), 1, testLogger())

	stats, err := svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.ImagesProcessed != 0 {
		t.Fatalf("expected no images, got %d", stats.ImagesProcessed)
	}
	if enrichRepo.detections != nil {
		t.Fatal("expected no load calls for an empty run")
	}
}
