package enrich

import (
	"reflect"
	"testing"

	"tg-med-warehouse/internal/domain"
)

func TestCategorizeDecisionTable(t *testing.T) {
	cases := []struct {
		name       string
		detections []domain.DetectionBox
		want       domain.ImageCategory
	}{
		{
			name: "person and product",
			detections: []domain.DetectionBox{
				{Class: "person", Confidence: 0.9},
				{Class: "bottle", Confidence: 0.8},
			},
			want: domain.CategoryPromotional,
		},
		{
			name: "product only",
			detections: []domain.DetectionBox{
				{Class: "bottle", Confidence: 0.7},
			},
			want: domain.CategoryProductDisplay,
		},
		{
			name: "person only",
			detections: []domain.DetectionBox{
				{Class: "person", Confidence: 0.95},
			},
			want: domain.CategoryLifestyle,
		},
		{
			name: "neither",
			detections: []domain.DetectionBox{
				{Class: "dog", Confidence: 0.99},
			},
			want: domain.CategoryOther,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			category, _, _ := Categorize(tc.detections)
			if category != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, category)
			}
		})
	}
}

func TestCategorizeEmptySet(t *testing.T) {
	category, classes, maxConfidence := Categorize(nil)
	if category != domain.CategoryOther {
		t.Fatalf("expected other, got %s", category)
	}
	if len(classes) != 0 {
		t.Fatalf("expected no classes, got %v", classes)
	}
	if maxConfidence != 0.0 {
		t.Fatalf("expected 0.0 confidence, got %f", maxConfidence)
	}
}

func TestCategorizePreservesDetectionOrder(t *testing.T) {
	detections := []domain.DetectionBox{
		{Class: "bottle", Confidence: 0.5},
		{Class: "person", Confidence: 0.6},
	}
	category, classes, maxConfidence := Categorize(detections)
	if category != domain.CategoryPromotional {
		t.Fatalf("expected promotional, got %s", category)
	}
	if !reflect.DeepEqual(classes, []string{"bottle", "person"}) {
		t.Fatalf("expected detection order preserved, got %v", classes)
	}
	if maxConfidence != 0.6 {
		t.Fatalf("expected max confidence 0.6, got %f", maxConfidence)
	}
}

func TestCategorizeIgnoresConfidence(t *testing.T) {
	// The taxonomy is a pure membership lookup; near-zero confidence
	// must not change the outcome.
	category, _, _ := Categorize([]domain.DetectionBox{
		{Class: "person", Confidence: 0.01},
		{Class: "cup", Confidence: 0.01},
	})
	if category != domain.CategoryPromotional {
		t.Fatalf("expected promotional, got %s", category)
	}
}
