package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/taxbinder/taxbinder/internal/domain"
)

const (
	messagesEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
	requestTimeout   = 2 * time.Minute

	// Providers have context limits; longer OCR text is truncated.
	maxInputChars = 50000
)

// codeBlockPattern matches a fenced block wrapping the whole response.
var codeBlockPattern = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

// AnthropicClient implements Classifier against the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	maxRetries int
}

// NewAnthropicClient builds a client; an empty key yields an unconfigured
// client whose Configured() returns false.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	if strings.TrimSpace(model) == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicClient{
		apiKey:     strings.TrimSpace(apiKey),
		model:      model,
		endpoint:   messagesEndpoint,
		httpClient: &http.Client{Timeout: requestTimeout},
		maxRetries: 3,
	}
}

// Configured reports whether an API key is present.
func (c *AnthropicClient) Configured() bool {
	return c.apiKey != ""
}

// Classify categorizes OCR text. Unknown categories coerce to "other"/
// "Unclassified" so the result is always a member of the closed enumeration.
func (c *AnthropicClient) Classify(ctx context.Context, text string) (*domain.ClassificationResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	raw, err := c.complete(ctx, classificationPrompt+truncate(text), 1024)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Category        string                  `json:"category"`
		Subcategory     string                  `json:"subcategory"`
		Confidence      float64                 `json:"confidence"`
		TaxYear         *int                    `json:"taxYear"`
		ExtractedFields []domain.ExtractedField `json:"extractedFields"`
		Summary         string                  `json:"summary"`
	}
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlocks(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	result := &domain.ClassificationResult{
		Subcategory:     parsed.Subcategory,
		Confidence:      parsed.Confidence,
		TaxYear:         parsed.TaxYear,
		ExtractedFields: parsed.ExtractedFields,
		Summary:         parsed.Summary,
	}

	category, ok := domain.ParseCategory(parsed.Category)
	result.Category = category
	if !ok {
		result.Subcategory = domain.SubcategoryUnclassified
	}

	return result, nil
}

// ExtractFormFields pulls a structured key/value map for a known form type.
func (c *AnthropicClient) ExtractFormFields(ctx context.Context, text, formType string) (map[string]any, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	raw, err := c.complete(ctx, extractionPrompt(formType, truncate(text)), 2048)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlocks(raw)), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return fields, nil
}

func (c *AnthropicClient) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	payload := map[string]any{
		"model":      c.model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return "", fmt.Errorf("encode messages payload: %w", err)
	}
	body := buf.Bytes()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("create messages request: %w", err)
		}
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("messages request failed: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			resp.Body.Close()
			lastErr = fmt.Errorf("anthropic api status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
			continue
		}

		if resp.StatusCode >= http.StatusBadRequest {
			err := c.decodeAPIError(resp)
			resp.Body.Close()
			return "", err
		}

		var response struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&response)
		resp.Body.Close()
		if decodeErr != nil {
			return "", fmt.Errorf("decode messages response: %w", decodeErr)
		}

		for _, block := range response.Content {
			if block.Type == "text" {
				return strings.TrimSpace(block.Text), nil
			}
		}
		return "", fmt.Errorf("%w: no text block in response", ErrMalformedResponse)
	}

	return "", fmt.Errorf("messages request failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *AnthropicClient) decodeAPIError(resp *http.Response) error {
	var apiErr struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("anthropic api error: status %d type %s message %s", resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
	}
	return fmt.Errorf("anthropic api error: status %d body %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// stripMarkdownCodeBlocks unwraps a ```json fenced response before parsing.
func stripMarkdownCodeBlocks(text string) string {
	trimmed := strings.TrimSpace(text)
	if match := codeBlockPattern.FindStringSubmatch(trimmed); match != nil {
		return strings.TrimSpace(match[1])
	}
	return trimmed
}

func truncate(text string) string {
	if len(text) <= maxInputChars {
		return text
	}
	return text[:maxInputChars] + "\n...[truncated]"
}
