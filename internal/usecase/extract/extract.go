package extract

import (
	"regexp"
	"strings"

	"tg-med-warehouse/internal/domain"
)

// textSeparator joins message text and OCR text into one source string.
const textSeparator = " | "

// pricePattern matches integers and decimals with thousands separators,
// optionally suffixed by a currency token (ETB, birr, USD, US$, $).
var pricePattern = regexp.MustCompile(`(?i)\b\d{1,3}(?:[.,]\d{3})*(?:[.,]\d{2})?\s*(?:ETB|birr|USD|US\$|\$)?\b`)

// defaultVocabulary is the fixed product term list. Matching preserves
// vocabulary order of first match, not text order.
var defaultVocabulary = []string{
	"tablet", "capsule", "syrup", "injection", "ointment", "cream",
	"bandage", "mask", "gloves", "antibiotic", "vitamin", "aspirin",
	"paracetamol", "ibuprofen", "cough syrup",
}

// Rules bundles the price pattern and product vocabulary so the
// extraction strategy can be swapped without touching pipeline logic.
type Rules struct {
	PricePattern *regexp.Regexp
	Vocabulary   []string
}

// DefaultRules returns the built-in pattern and vocabulary.
func DefaultRules() Rules {
	return Rules{PricePattern: pricePattern, Vocabulary: defaultVocabulary}
}

// Prices returns all price-like substrings found in the text.
func (r Rules) Prices(text string) []string {
	if text == "" {
		return nil
	}
	return r.PricePattern.FindAllString(text, -1)
}

// ProductTerms returns the vocabulary terms present in the text,
// case-insensitively, in vocabulary order.
func (r Rules) ProductTerms(text string) []string {
	if text == "" {
		return nil
	}
	lowered := strings.ToLower(text)
	var found []string
	for _, term := range r.Vocabulary {
		if strings.Contains(lowered, term) {
			found = append(found, term)
		}
	}
	return found
}

// Parse builds an ExtractionRecord from the optional message and OCR
// texts. The second return value is false when the record carries no
// products and no prices; such records must not be persisted.
func (r Rules) Parse(messageID, channelName, messageText, ocrText string) (domain.ExtractionRecord, bool) {
	var parts []string
	for _, text := range []string{messageText, ocrText} {
		if text != "" {
			parts = append(parts, text)
		}
	}
	combined := strings.Join(parts, textSeparator)

	record := domain.ExtractionRecord{
		MessageID:   messageID,
		ChannelName: channelName,
		Products:    r.ProductTerms(combined),
		Prices:      r.Prices(combined),
		SourceText:  combined,
	}
	if record.Empty() {
		return domain.ExtractionRecord{}, false
	}
	return record, true
}
