package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	apiVersion     = "2023-07-31"
	generalModelID = "prebuilt-document"
	requestTimeout = 2 * time.Minute
)

// ErrNotConfigured is returned when Analyze is called without credentials.
var ErrNotConfigured = errors.New("document intelligence credentials are not configured")

// AzureClient talks to Azure Document Intelligence over its REST API:
// submit an analyze request, then poll the returned operation until done.
type AzureClient struct {
	endpoint     string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	maxPolls     int
	maxRetries   int
}

// NewAzureClient builds a client; empty credentials yield an unconfigured
// client whose Configured() returns false.
func NewAzureClient(endpoint, apiKey string) *AzureClient {
	return &AzureClient{
		endpoint:     strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		apiKey:       strings.TrimSpace(apiKey),
		httpClient:   &http.Client{Timeout: requestTimeout},
		pollInterval: 2 * time.Second,
		maxPolls:     60,
		maxRetries:   3,
	}
}

// Configured reports whether credentials are present.
func (c *AzureClient) Configured() bool {
	return c.endpoint != "" && c.apiKey != ""
}

// Analyze submits the document URL for analysis and polls until the
// operation completes. Transient submit failures (429, 5xx, network) are
// retried here before surfacing to the caller as a step failure.
func (c *AzureClient) Analyze(ctx context.Context, documentURL string) (*Result, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	operationURL, err := c.submit(ctx, documentURL)
	if err != nil {
		return nil, err
	}

	raw, err := c.poll(ctx, operationURL)
	if err != nil {
		return nil, err
	}

	return transformResult(raw), nil
}

func (c *AzureClient) submit(ctx context.Context, documentURL string) (string, error) {
	target := fmt.Sprintf("%s/formrecognizer/documentModels/%s:analyze?api-version=%s", c.endpoint, generalModelID, apiVersion)

	payload, err := json.Marshal(map[string]string{"urlSource": documentURL})
	if err != nil {
		return "", fmt.Errorf("encode analyze payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return "", fmt.Errorf("create analyze request: %w", err)
		}
		req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("submit analyze request: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusAccepted {
			operationURL := resp.Header.Get("Operation-Location")
			resp.Body.Close()
			if operationURL == "" {
				return "", errors.New("analyze accepted without operation location")
			}
			return operationURL, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("document intelligence status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			continue
		}
		return "", fmt.Errorf("document intelligence status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return "", fmt.Errorf("analyze submit failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *AzureClient) poll(ctx context.Context, operationURL string) (*analyzeResult, error) {
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create poll request: %w", err)
		}
		req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("poll analyze operation: %w", err)
		}

		var status analyzeOperation
		decodeErr := json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("decode analyze operation: %w", decodeErr)
		}

		switch status.Status {
		case "succeeded":
			if status.AnalyzeResult == nil {
				return nil, errors.New("analysis succeeded without a result")
			}
			return status.AnalyzeResult, nil
		case "failed":
			message := "analysis failed"
			if status.Error != nil && status.Error.Message != "" {
				message = status.Error.Message
			}
			return nil, fmt.Errorf("document intelligence: %s", message)
		}
		// notStarted / running: keep polling.
	}

	return nil, fmt.Errorf("analysis did not complete within %d polls", c.maxPolls)
}

// Wire types for the analyze operation response.

type analyzeOperation struct {
	Status        string         `json:"status"`
	AnalyzeResult *analyzeResult `json:"analyzeResult"`
	Error         *operationErr  `json:"error"`
}

type operationErr struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type analyzeResult struct {
	Content       string          `json:"content"`
	Pages         []resultPage    `json:"pages"`
	Tables        []resultTable   `json:"tables"`
	KeyValuePairs []resultKVPair  `json:"keyValuePairs"`
	Documents     []resultDocInfo `json:"documents"`
}

type resultPage struct {
	PageNumber int          `json:"pageNumber"`
	Width      float64      `json:"width"`
	Height     float64      `json:"height"`
	Lines      []resultLine `json:"lines"`
}

type resultLine struct {
	Content string    `json:"content"`
	Polygon []float64 `json:"polygon"`
}

type resultTable struct {
	RowCount    int          `json:"rowCount"`
	ColumnCount int          `json:"columnCount"`
	Cells       []resultCell `json:"cells"`
}

type resultCell struct {
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
	Content     string `json:"content"`
}

type resultKVPair struct {
	Key        *resultContent `json:"key"`
	Value      *resultContent `json:"value"`
	Confidence float64        `json:"confidence"`
}

type resultContent struct {
	Content string `json:"content"`
}

type resultDocInfo struct {
	DocType    string  `json:"docType"`
	Confidence float64 `json:"confidence"`
}

func transformResult(raw *analyzeResult) *Result {
	pages := make([]Page, 0, len(raw.Pages))
	pageTexts := make([]string, 0, len(raw.Pages))
	for _, page := range raw.Pages {
		lines := make([]Line, 0, len(page.Lines))
		texts := make([]string, 0, len(page.Lines))
		for _, line := range page.Lines {
			lines = append(lines, Line{Content: line.Content, BoundingBox: line.Polygon})
			texts = append(texts, line.Content)
		}
		pageText := strings.Join(texts, "\n")
		pages = append(pages, Page{
			PageNumber: page.PageNumber,
			Width:      page.Width,
			Height:     page.Height,
			Text:       pageText,
			Lines:      lines,
		})
		pageTexts = append(pageTexts, pageText)
	}

	tables := make([]Table, 0, len(raw.Tables))
	for _, table := range raw.Tables {
		cells := make([]TableCell, 0, len(table.Cells))
		for _, cell := range table.Cells {
			cells = append(cells, TableCell(cell))
		}
		tables = append(tables, Table{RowCount: table.RowCount, ColumnCount: table.ColumnCount, Cells: cells})
	}

	pairs := make([]KeyValuePair, 0, len(raw.KeyValuePairs))
	for _, pair := range raw.KeyValuePairs {
		kv := KeyValuePair{Confidence: pair.Confidence}
		if pair.Key != nil {
			kv.Key = pair.Key.Content
		}
		if pair.Value != nil {
			kv.Value = pair.Value.Content
		}
		pairs = append(pairs, kv)
	}

	text := strings.Join(pageTexts, "\n\n")
	if text == "" {
		text = raw.Content
	}

	result := &Result{
		Text:          text,
		Pages:         pages,
		Tables:        tables,
		KeyValuePairs: pairs,
	}
	if len(raw.Documents) > 0 {
		result.DocumentType = raw.Documents[0].DocType
		result.Confidence = raw.Documents[0].Confidence
	}
	return result
}
