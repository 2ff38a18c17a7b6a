package extract

import (
	"reflect"
	"strings"
	"testing"
)

func TestPricesSimple(t *testing.T) {
	rules := DefaultRules()
	prices := rules.Prices("Paracetamol 100 ETB and gloves 30 birr")
	if len(prices) != 2 {
		t.Fatalf("expected 2 prices, got %v", prices)
	}
	if prices[0] != "100 ETB" {
		t.Fatalf("expected '100 ETB', got %q", prices[0])
	}
	if prices[1] != "30 birr" {
		t.Fatalf("expected '30 birr', got %q", prices[1])
	}
}

func TestPricesIdempotent(t *testing.T) {
	rules := DefaultRules()
	first := rules.Prices("Special offer: 1,200.50 ETB or 45 USD per pack")
	if len(first) == 0 {
		t.Fatal("expected price matches")
	}
	second := rules.Prices(strings.Join(first, " "))
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("re-extraction changed tokens: %v vs %v", first, second)
	}
}

func TestProductTermsFollowVocabularyOrder(t *testing.T) {
	rules := DefaultRules()
	// "capsule" appears before "tablet" in the text; output must follow
	// vocabulary order instead.
	terms := rules.ProductTerms("new capsule and tablet stock")
	want := []string{"tablet", "capsule"}
	if !reflect.DeepEqual(terms, want) {
		t.Fatalf("expected %v, got %v", want, terms)
	}
}

func TestProductTermsCaseInsensitive(t *testing.T) {
	rules := DefaultRules()
	terms := rules.ProductTerms("PARACETAMOL and Vitamin C")
	want := []string{"vitamin", "paracetamol"}
	if !reflect.DeepEqual(terms, want) {
		t.Fatalf("expected %v, got %v", want, terms)
	}
}

func TestParseDropsRecordWithoutSignal(t *testing.T) {
	rules := DefaultRules()
	if _, ok := rules.Parse("1", "ch", "hello world", ""); ok {
		t.Fatal("expected no record for text without products or prices")
	}
}

func TestParseMessageWithPriceAndProduct(t *testing.T) {
	rules := DefaultRules()
	record, ok := rules.Parse("42", "tikvahpharma", "Paracetamol 100 ETB", "")
	if !ok {
		t.Fatal("expected a record")
	}
	if !reflect.DeepEqual(record.Products, []string{"paracetamol"}) {
		t.Fatalf("expected [paracetamol], got %v", record.Products)
	}
	if !reflect.DeepEqual(record.Prices, []string{"100 ETB"}) {
		t.Fatalf("expected [100 ETB], got %v", record.Prices)
	}
}

func TestParseCombinesMessageAndOCRText(t *testing.T) {
	rules := DefaultRules()
	record, ok := rules.Parse("1", "ch", "buy aspirin 50 ETB", "aspirin")
	if !ok {
		t.Fatal("expected a record")
	}
	if !reflect.DeepEqual(record.Products, []string{"aspirin"}) {
		t.Fatalf("expected [aspirin], got %v", record.Products)
	}
	found := false
	for _, p := range record.Prices {
		if p == "50 ETB" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected '50 ETB' among prices, got %v", record.Prices)
	}
	if !strings.Contains(record.SourceText, " | ") {
		t.Fatalf("expected joined source text, got %q", record.SourceText)
	}
}
