package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/taxbinder/taxbinder/internal/domain"
)

func anthropicStub(t *testing.T, responseText string) *AnthropicClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": responseText}},
		})
	}))
	t.Cleanup(server.Close)

	client := NewAnthropicClient("test-key", "")
	client.endpoint = server.URL
	return client
}

func TestStripMarkdownCodeBlocks(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripMarkdownCodeBlocks(tc.in); got != tc.want {
				t.Fatalf("stripMarkdownCodeBlocks(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestClassify_ParsesResult(t *testing.T) {
	client := anthropicStub(t, "```json\n"+`{
		"category": "income",
		"subcategory": "W-2",
		"confidence": 95,
		"taxYear": 2024,
		"extractedFields": [{"fieldName": "Wages", "value": "85000.00", "confidence": 92}],
		"summary": "W-2 wage statement from Acme Corp"
	}`+"\n```")

	result, err := client.Classify(context.Background(), "Form W-2 Wage and Tax Statement")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if result.Category != domain.CategoryIncome {
		t.Fatalf("unexpected category %s", result.Category)
	}
	if result.Subcategory != "W-2" {
		t.Fatalf("unexpected subcategory %s", result.Subcategory)
	}
	if result.TaxYear == nil || *result.TaxYear != 2024 {
		t.Fatalf("unexpected tax year %v", result.TaxYear)
	}
	if len(result.ExtractedFields) != 1 || result.ExtractedFields[0].FieldName != "Wages" {
		t.Fatalf("unexpected fields %+v", result.ExtractedFields)
	}
}

func TestClassify_CoercesUnknownCategory(t *testing.T) {
	client := anthropicStub(t, `{"category": "payroll", "subcategory": "Paystub", "confidence": 70, "extractedFields": [], "summary": "paystub"}`)

	result, err := client.Classify(context.Background(), "some text")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if result.Category != domain.CategoryOther {
		t.Fatalf("expected coercion to other, got %s", result.Category)
	}
	if result.Subcategory != domain.SubcategoryUnclassified {
		t.Fatalf("expected Unclassified subcategory, got %s", result.Subcategory)
	}
}

func TestClassify_MalformedResponse(t *testing.T) {
	client := anthropicStub(t, "I could not classify this document, sorry.")

	_, err := client.Classify(context.Background(), "text")
	if err == nil {
		t.Fatalf("expected malformed response error")
	}
	if !strings.Contains(err.Error(), ErrMalformedResponse.Error()) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestClassify_Unconfigured(t *testing.T) {
	client := NewAnthropicClient("", "")
	if client.Configured() {
		t.Fatalf("client without key must report unconfigured")
	}
	if _, err := client.Classify(context.Background(), "text"); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestClassify_RetriesRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": `{"category":"banking","subcategory":"Bank statement","confidence":88,"extractedFields":[],"summary":"statement"}`}},
		})
	}))
	t.Cleanup(server.Close)

	client := NewAnthropicClient("test-key", "")
	client.endpoint = server.URL

	result, err := client.Classify(context.Background(), "statement text")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if result.Category != domain.CategoryBanking {
		t.Fatalf("unexpected category %s", result.Category)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected one retry, saw %d calls", calls)
	}
}

func TestExtractFormFields(t *testing.T) {
	client := anthropicStub(t, `{"Employer name": "Acme Corp", "Wages (Box 1)": "85000.00", "confidence": 90}`)

	fields, err := client.ExtractFormFields(context.Background(), "Form W-2 ...", "W-2")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if fields["Employer name"] != "Acme Corp" {
		t.Fatalf("unexpected fields %+v", fields)
	}
}

func TestTruncate_CapsLongInput(t *testing.T) {
	long := strings.Repeat("a", maxInputChars+100)
	got := truncate(long)
	if len(got) >= len(long) {
		t.Fatalf("expected truncation")
	}
	if !strings.HasSuffix(got, "...[truncated]") {
		t.Fatalf("expected truncation marker, got tail %q", got[len(got)-20:])
	}
}
