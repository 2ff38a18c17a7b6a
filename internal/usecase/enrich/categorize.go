package enrich

import "tg-med-warehouse/internal/domain"

// The categorization taxonomy is a fixed two-class-membership decision
// table. Changing it requires redeploying the engine; it is not
// runtime-configurable and must never branch on confidence.
var productClasses = map[string]struct{}{
	"bottle":     {},
	"cup":        {},
	"bowl":       {},
	"vase":       {},
	"cell phone": {},
}

const personClass = "person"

// Categorize maps a detection set to its image category, the detected
// class names in detection order and the maximum confidence (0.0 for an
// empty set).
func Categorize(detections []domain.DetectionBox) (domain.ImageCategory, []string, float64) {
	if len(detections) == 0 {
		return domain.CategoryOther, nil, 0.0
	}

	classes := make([]string, 0, len(detections))
	maxConfidence := 0.0
	hasPerson := false
	hasProduct := false
	for _, d := range detections {
		classes = append(classes, d.Class)
		if d.Confidence > maxConfidence {
			maxConfidence = d.Confidence
		}
		if d.Class == personClass {
			hasPerson = true
		}
		if _, ok := productClasses[d.Class]; ok {
			hasProduct = true
		}
	}

	var category domain.ImageCategory
	switch {
	case hasPerson && hasProduct:
		category = domain.CategoryPromotional
	case hasProduct:
		category = domain.CategoryProductDisplay
	case hasPerson:
		category = domain.CategoryLifestyle
	default:
		category = domain.CategoryOther
	}
	return category, classes, maxConfidence
}
