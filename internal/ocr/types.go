// Package ocr adapts an external layout-analysis engine behind a small
// request/response interface. The engine is optional: when credentials are
// absent the pipeline skips the OCR step instead of failing the run.
package ocr

import "context"

// Result is the text and layout produced for one document.
type Result struct {
	Text          string         `json:"text"`
	Pages         []Page         `json:"pages"`
	Tables        []Table        `json:"tables"`
	KeyValuePairs []KeyValuePair `json:"keyValuePairs"`
	DocumentType  string         `json:"documentType,omitempty"`
	Confidence    float64        `json:"confidence,omitempty"`
}

// Page is one analyzed page with its recognized lines.
type Page struct {
	PageNumber int     `json:"pageNumber"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Text       string  `json:"text"`
	Lines      []Line  `json:"lines"`
}

// Line is one recognized text line with an optional bounding polygon.
type Line struct {
	Content     string    `json:"content"`
	BoundingBox []float64 `json:"boundingBox,omitempty"`
}

// Table is a recognized table grid.
type Table struct {
	RowCount    int         `json:"rowCount"`
	ColumnCount int         `json:"columnCount"`
	Cells       []TableCell `json:"cells"`
}

// TableCell is one cell of a recognized table.
type TableCell struct {
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
	Content     string `json:"content"`
}

// KeyValuePair is a recognized form field.
type KeyValuePair struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Engine is the OCR capability boundary consumed by the pipeline.
type Engine interface {
	// Configured reports whether the engine has credentials. Callers check
	// this and skip the step gracefully when false.
	Configured() bool
	// Analyze runs layout analysis against a document reachable at url.
	Analyze(ctx context.Context, url string) (*Result, error)
}
